package storage

import (
	"context"
	"errors"
	"io"
)

// ErrObjectNotFound 对象不存在
var ErrObjectNotFound = errors.New("object not found")

// Storage 上传文件存储接口
// Save返回的key用于后续读取和删除；Fetch返回本地文件路径，
// 供需要按路径读取文件的解析器使用
type Storage interface {
	// Save 保存文件内容，返回存储键
	Save(ctx context.Context, name string, reader io.Reader, size int64) (string, error)

	// Fetch 获取文件的本地路径，远端存储实现会先下载到本地
	Fetch(ctx context.Context, key string) (string, error)

	// Delete 删除文件，删除不存在的文件不报错
	Delete(ctx context.Context, key string) error

	// Close 释放底层资源
	Close() error
}
