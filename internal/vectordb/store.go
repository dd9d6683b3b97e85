package vectordb

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Store 向量库接口
// 一个Store实例绑定一个索引，索引名在创建时确定
type Store interface {
	// EnsureIndex 确保索引存在，不存在则创建并等待就绪
	EnsureIndex(ctx context.Context, dimensions int) error

	// Upsert 批量写入记录，相同ID的记录被覆盖
	Upsert(ctx context.Context, entries []Entry) error

	// Search 按向量相似度检索topK条记录，结果按得分降序排列
	Search(ctx context.Context, vector []float32, topK int, minScore float32) ([]SearchResult, error)

	// DeleteIndex 删除整个索引及其全部数据
	DeleteIndex(ctx context.Context) error

	// Close 释放底层连接
	Close() error
}

// Config 向量库配置
type Config struct {
	APIKey     string        // API密钥
	BaseURL    string        // 控制面地址（空值使用官方地址）
	IndexName  string        // 索引名称
	Dimensions int           // 向量维度
	BatchSize  int           // 单次写入最大记录数
	Timeout    time.Duration // 请求超时时间
	MaxRetries int           // 最大重试次数
	Cloud      string        // 云厂商（serverless部署）
	Region     string        // 区域（serverless部署）
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		IndexName:  "book-chatbot",
		Dimensions: 1536,
		BatchSize:  100,
		Timeout:    30 * time.Second,
		MaxRetries: 3,
		Cloud:      "aws",
		Region:     "us-east-1",
	}
}

// StoreOption 配置选项函数
type StoreOption func(*Config)

// WithAPIKey 设置API密钥
func WithAPIKey(apiKey string) StoreOption {
	return func(c *Config) {
		c.APIKey = apiKey
	}
}

// WithBaseURL 设置控制面地址
func WithBaseURL(url string) StoreOption {
	return func(c *Config) {
		if url != "" {
			c.BaseURL = url
		}
	}
}

// WithIndexName 设置索引名称
func WithIndexName(name string) StoreOption {
	return func(c *Config) {
		if name != "" {
			c.IndexName = name
		}
	}
}

// WithDimensions 设置向量维度
func WithDimensions(dim int) StoreOption {
	return func(c *Config) {
		if dim > 0 {
			c.Dimensions = dim
		}
	}
}

// WithBatchSize 设置单次写入批量大小
func WithBatchSize(size int) StoreOption {
	return func(c *Config) {
		if size > 0 {
			c.BatchSize = size
		}
	}
}

// WithTimeout 设置请求超时
func WithTimeout(timeout time.Duration) StoreOption {
	return func(c *Config) {
		if timeout > 0 {
			c.Timeout = timeout
		}
	}
}

// WithMaxRetries 设置最大重试次数
func WithMaxRetries(retries int) StoreOption {
	return func(c *Config) {
		if retries >= 0 {
			c.MaxRetries = retries
		}
	}
}

// WithServerless 设置serverless部署的云厂商和区域
func WithServerless(cloud, region string) StoreOption {
	return func(c *Config) {
		if cloud != "" {
			c.Cloud = cloud
		}
		if region != "" {
			c.Region = region
		}
	}
}

// StoreFactory 向量库工厂函数
type StoreFactory func(opts ...StoreOption) (Store, error)

var (
	storeFactoryMu sync.RWMutex
	storeFactories = make(map[string]StoreFactory)
)

// RegisterStore 注册向量库工厂
func RegisterStore(name string, factory StoreFactory) {
	storeFactoryMu.Lock()
	defer storeFactoryMu.Unlock()
	storeFactories[name] = factory
}

// NewStore 根据类型名称创建向量库
func NewStore(name string, opts ...StoreOption) (Store, error) {
	storeFactoryMu.RLock()
	factory, ok := storeFactories[name]
	storeFactoryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStore, name)
	}
	return factory(opts...)
}
