package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// ErrCacheMiss 缓存未命中
var ErrCacheMiss = errors.New("cache miss")

// Cache 缓存接口
// 用于缓存问答结果，相同会话内相同问题直接返回缓存的回答
type Cache interface {
	// Get 获取缓存值，未命中返回ErrCacheMiss
	Get(ctx context.Context, key string) (string, error)

	// Set 设置缓存值和过期时间
	Set(ctx context.Context, key string, value string, ttl time.Duration) error

	// Delete 删除缓存值
	Delete(ctx context.Context, key string) error

	// DeletePrefix 删除指定前缀的所有缓存值
	DeletePrefix(ctx context.Context, prefix string) error

	// Close 释放底层资源
	Close() error
}

// AnswerKey 生成问答缓存的键
// 按会话隔离，问题文本做哈希避免键过长
func AnswerKey(sessionID, question string) string {
	sum := sha256.Sum256([]byte(question))
	return "answer:" + sessionID + ":" + hex.EncodeToString(sum[:16])
}

// SessionPrefix 返回指定会话的缓存键前缀
func SessionPrefix(sessionID string) string {
	return "answer:" + sessionID + ":"
}
