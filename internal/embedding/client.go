package embedding

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Client 向量化客户端接口
// 所有实现必须保证同一文本多次嵌入返回相同维度的向量
type Client interface {
	// Embed 将单个文本转换为向量
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch 批量将文本转换为向量，结果顺序与输入一致
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Name 返回模型名称
	Name() string

	// Dimensions 返回向量维度
	Dimensions() int
}

// Config 向量化客户端配置
type Config struct {
	APIKey     string        // API密钥
	Model      string        // 模型名称
	BaseURL    string        // API地址（空值使用官方地址）
	Dimensions int           // 向量维度
	BatchSize  int           // 单次请求最大文本数
	Timeout    time.Duration // 请求超时时间
	MaxRetries int           // 最大重试次数
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Model:      "text-embedding-3-small",
		Dimensions: 1536,
		BatchSize:  64,
		Timeout:    30 * time.Second,
		MaxRetries: 3,
	}
}

// Option 配置选项函数
type Option func(*Config)

// WithAPIKey 设置API密钥
func WithAPIKey(apiKey string) Option {
	return func(c *Config) {
		c.APIKey = apiKey
	}
}

// WithModel 设置模型名称
func WithModel(model string) Option {
	return func(c *Config) {
		if model != "" {
			c.Model = model
		}
	}
}

// WithBaseURL 设置API地址
func WithBaseURL(baseURL string) Option {
	return func(c *Config) {
		c.BaseURL = baseURL
	}
}

// WithDimensions 设置向量维度
func WithDimensions(dim int) Option {
	return func(c *Config) {
		if dim > 0 {
			c.Dimensions = dim
		}
	}
}

// WithBatchSize 设置批量大小
func WithBatchSize(size int) Option {
	return func(c *Config) {
		if size > 0 {
			c.BatchSize = size
		}
	}
}

// WithTimeout 设置请求超时
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.Timeout = timeout
		}
	}
}

// WithMaxRetries 设置最大重试次数
func WithMaxRetries(retries int) Option {
	return func(c *Config) {
		if retries >= 0 {
			c.MaxRetries = retries
		}
	}
}

// Factory 客户端工厂函数
type Factory func(opts ...Option) (Client, error)

var (
	factoryMu sync.RWMutex
	factories = make(map[string]Factory)
)

// Register 注册客户端工厂
func Register(name string, factory Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[name] = factory
}

// NewClient 根据提供商名称创建客户端
func NewClient(provider string, opts ...Option) (Client, error) {
	factoryMu.RLock()
	factory, ok := factories[provider]
	factoryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	return factory(opts...)
}
