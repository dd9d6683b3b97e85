package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config 应用程序配置结构体
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Pinecone  PineconeConfig  `mapstructure:"pinecone"`
	Embed     EmbedConfig     `mapstructure:"embed"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Document  DocumentConfig  `mapstructure:"document"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Session   SessionConfig   `mapstructure:"session"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host          string `mapstructure:"host"`            // 服务器主机
	Port          int    `mapstructure:"port"`            // 服务器端口
	MaxUploadSize int64  `mapstructure:"max_upload_size"` // 上传文件大小上限（字节）
}

// StorageConfig 上传文件存储配置
type StorageConfig struct {
	Type      string `mapstructure:"type"`     // 存储类型：local 或 minio
	Path      string `mapstructure:"path"`     // 本地存储路径
	Bucket    string `mapstructure:"bucket"`   // MinIO桶名称
	Endpoint  string `mapstructure:"endpoint"` // MinIO端点
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"` // 是否使用SSL
}

// OpenAIConfig OpenAI接入配置
type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key" validate:"required"` // API密钥
	BaseURL string `mapstructure:"base_url"`                    // API端点（空值使用官方地址）
}

// PineconeConfig Pinecone接入配置
type PineconeConfig struct {
	APIKey    string `mapstructure:"api_key" validate:"required"` // API密钥
	BaseURL   string `mapstructure:"base_url"`                    // 控制面端点（空值使用官方地址）
	IndexName string `mapstructure:"index_name"`                  // 命令行模式使用的索引名
	Cloud     string `mapstructure:"cloud"`                       // serverless云厂商
	Region    string `mapstructure:"region"`                      // serverless区域
}

// EmbedConfig 向量嵌入模型配置
type EmbedConfig struct {
	Provider   string `mapstructure:"provider"`   // 提供商
	Model      string `mapstructure:"model"`      // 模型名称
	Dimensions int    `mapstructure:"dimensions"` // 向量维度
	BatchSize  int    `mapstructure:"batch_size"` // 批处理大小
}

// LLMConfig 大语言模型配置
type LLMConfig struct {
	Provider  string `mapstructure:"provider"`   // 提供商
	Model     string `mapstructure:"model"`      // 模型名称
	MaxTokens int    `mapstructure:"max_tokens"` // 最大生成token数量
}

// DocumentConfig 文档处理配置
type DocumentConfig struct {
	ChunkSize    int `mapstructure:"chunk_size" validate:"gt=0"`     // 分块大小
	ChunkOverlap int `mapstructure:"chunk_overlap" validate:"gte=0"` // 分块重叠大小
	MinPages     int `mapstructure:"min_pages"`                      // 最低页数要求
}

// RetrievalConfig 检索配置
type RetrievalConfig struct {
	TopK     int     `mapstructure:"top_k" validate:"gt=0"` // 检索结果数量
	MinScore float32 `mapstructure:"min_score"`             // 最低相似度分数
}

// IngestConfig 文档入库配置
type IngestConfig struct {
	Workers int `mapstructure:"workers" validate:"gt=0"` // 并发处理的会话数上限
}

// SessionConfig 会话存储配置
type SessionConfig struct {
	Type   string `mapstructure:"type"`    // 存储类型：memory 或 sqlite
	DBPath string `mapstructure:"db_path"` // SQLite数据库路径
	TTL    int    `mapstructure:"ttl"`     // 会话存活时间（秒）
}

// CacheConfig 缓存配置
type CacheConfig struct {
	Enable   bool   `mapstructure:"enable"`   // 是否启用问答缓存
	Type     string `mapstructure:"type"`     // 缓存类型：memory 或 redis
	Address  string `mapstructure:"address"`  // Redis地址
	Password string `mapstructure:"password"` // Redis密码
	DB       int    `mapstructure:"db"`       // Redis数据库
	TTL      int    `mapstructure:"ttl"`      // 缓存TTL（秒）
}

// QueueConfig 任务队列配置
type QueueConfig struct {
	Enable        bool   `mapstructure:"enable"`         // 是否通过Redis队列异步入库
	RedisAddr     string `mapstructure:"redis_addr"`     // Redis地址
	RedisPassword string `mapstructure:"redis_password"` // Redis密码
	RedisDB       int    `mapstructure:"redis_db"`       // Redis数据库编号
	Concurrency   int    `mapstructure:"concurrency"`    // 任务处理并发数
	RetryLimit    int    `mapstructure:"retry_limit"`    // 任务最大重试次数
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`       // 日志级别
	File       string `mapstructure:"file"`        // 日志文件路径（空值输出到stderr）
	MaxSizeMB  int    `mapstructure:"max_size_mb"` // 单文件大小上限
	MaxBackups int    `mapstructure:"max_backups"` // 保留的历史文件数
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// SessionTTL 返回会话存活时间
func (c *SessionConfig) SessionTTL() time.Duration {
	return time.Duration(c.TTL) * time.Second
}

// CacheTTL 返回缓存存活时间
func (c *CacheConfig) CacheTTL() time.Duration {
	return time.Duration(c.TTL) * time.Second
}

// Load 从文件和环境变量加载配置
// OPENAI_API_KEY和PINECONE_API_KEY必须存在，缺失时返回错误
func Load(configPath string) (*Config, error) {
	var config Config

	if configPath == "" {
		configPath = "config.yaml"
	}

	v := viper.New()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			log.Printf("Warning: Config file not found at %s, using defaults", configPath)
		} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Printf("Warning: Config file not found at %s, using defaults", configPath)
		} else {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		log.Printf("Using config file: %s", v.ConfigFileUsed())
	}

	setDefaults(v)

	// 支持环境变量覆盖
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// API密钥从专用环境变量读取，优先级高于配置文件
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		config.OpenAI.APIKey = key
	}
	if key := os.Getenv("PINECONE_API_KEY"); key != "" {
		config.Pinecone.APIKey = key
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate 校验配置完整性
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		var errs validator.ValidationErrors
		if errors.As(err, &errs) {
			for _, fieldErr := range errs {
				if fieldErr.Namespace() == "Config.OpenAI.APIKey" {
					return fmt.Errorf("OPENAI_API_KEY environment variable is not set")
				}
				if fieldErr.Namespace() == "Config.Pinecone.APIKey" {
					return fmt.Errorf("PINECONE_API_KEY environment variable is not set")
				}
			}
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Document.ChunkOverlap >= c.Document.ChunkSize {
		return fmt.Errorf("invalid configuration: chunk_overlap must be smaller than chunk_size")
	}
	return nil
}

// setDefaults 设置配置的默认值
func setDefaults(v *viper.Viper) {
	// 服务器默认配置
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.max_upload_size", 100*1024*1024) // 100MB

	// 存储默认配置
	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.path", "./uploads")
	v.SetDefault("storage.bucket", "book-uploads")
	v.SetDefault("storage.use_ssl", false)

	// Pinecone默认配置
	v.SetDefault("pinecone.index_name", "book-chatbot")
	v.SetDefault("pinecone.cloud", "aws")
	v.SetDefault("pinecone.region", "us-east-1")

	// Embedding默认配置
	v.SetDefault("embed.provider", "openai")
	v.SetDefault("embed.model", "text-embedding-3-small")
	v.SetDefault("embed.dimensions", 1536)
	v.SetDefault("embed.batch_size", 64)

	// LLM默认配置
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.max_tokens", 1024)

	// 文档处理默认配置
	v.SetDefault("document.chunk_size", 1000)
	v.SetDefault("document.chunk_overlap", 200)
	v.SetDefault("document.min_pages", 200)

	// 检索默认配置
	v.SetDefault("retrieval.top_k", 4)
	v.SetDefault("retrieval.min_score", 0.2)

	// 入库默认配置
	v.SetDefault("ingest.workers", 4)

	// 会话存储默认配置
	v.SetDefault("session.type", "memory")
	v.SetDefault("session.db_path", "data/sessions.db")
	v.SetDefault("session.ttl", 86400) // 24小时

	// 缓存默认配置
	v.SetDefault("cache.enable", true)
	v.SetDefault("cache.type", "memory")
	v.SetDefault("cache.ttl", 3600) // 1小时

	// 队列默认配置
	v.SetDefault("queue.enable", false)
	v.SetDefault("queue.redis_addr", "localhost:6379")
	v.SetDefault("queue.redis_db", 0)
	v.SetDefault("queue.concurrency", 4)
	v.SetDefault("queue.retry_limit", 3)

	// 日志默认配置
	v.SetDefault("log.level", "info")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
}
