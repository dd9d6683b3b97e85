package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioStorage 基于MinIO对象存储的实现
// 多实例部署时上传的文件对所有实例可见
type MinioStorage struct {
	client *minio.Client
	bucket string
	tmpDir string
}

// MinioConfig MinIO接入配置
type MinioConfig struct {
	Endpoint  string // 服务端点
	AccessKey string // 访问密钥
	SecretKey string // 私密密钥
	Bucket    string // 桶名称
	UseSSL    bool   // 是否使用SSL
}

// NewMinioStorage 创建MinIO存储，桶不存在时自动创建
func NewMinioStorage(cfg MinioConfig) (*MinioStorage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", cfg.Bucket, err)
		}
	}

	tmpDir, err := os.MkdirTemp("", "minio_fetch_")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}

	return &MinioStorage{
		client: client,
		bucket: cfg.Bucket,
		tmpDir: tmpDir,
	}, nil
}

// Save 上传文件内容
func (s *MinioStorage) Save(ctx context.Context, name string, reader io.Reader, size int64) (string, error) {
	key := uuid.NewString() + "_" + filepath.Base(name)
	_, err := s.client.PutObject(ctx, s.bucket, key, reader, size, minio.PutObjectOptions{
		ContentType: "application/pdf",
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload object %s: %w", key, err)
	}
	return key, nil
}

// Fetch 将对象下载到本地临时目录并返回路径
func (s *MinioStorage) Fetch(ctx context.Context, key string) (string, error) {
	localPath := filepath.Join(s.tmpDir, key)
	if _, err := os.Stat(localPath); err == nil {
		return localPath, nil
	}

	err := s.client.FGetObject(ctx, s.bucket, key, localPath, minio.GetObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return "", ErrObjectNotFound
		}
		return "", fmt.Errorf("failed to download object %s: %w", key, err)
	}
	return localPath, nil
}

// Delete 删除对象及其本地缓存副本
func (s *MinioStorage) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	os.Remove(filepath.Join(s.tmpDir, key))
	return nil
}

// Close 清理本地临时目录
func (s *MinioStorage) Close() error {
	return os.RemoveAll(s.tmpDir)
}
