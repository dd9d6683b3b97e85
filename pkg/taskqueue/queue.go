package taskqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// TypeIngestSession 文档入库任务类型
const TypeIngestSession = "session:ingest"

// IngestPayload 文档入库任务载荷
type IngestPayload struct {
	SessionID  string `json:"session_id"`  // 会话ID
	StorageKey string `json:"storage_key"` // 上传文件的存储键
}

// Queue 任务队列接口
type Queue interface {
	// EnqueueIngest 提交文档入库任务
	EnqueueIngest(ctx context.Context, payload IngestPayload) error

	// Close 释放底层连接
	Close() error
}

// RedisQueueConfig Redis队列配置
type RedisQueueConfig struct {
	Addr       string // Redis地址
	Password   string // Redis密码
	DB         int    // Redis数据库编号
	RetryLimit int    // 任务最大重试次数
}

// RedisQueue 基于Redis的任务队列实现
type RedisQueue struct {
	client *asynq.Client
	config RedisQueueConfig
}

// NewRedisQueue 创建Redis任务队列
func NewRedisQueue(cfg RedisQueueConfig) *RedisQueue {
	client := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisQueue{
		client: client,
		config: cfg,
	}
}

// EnqueueIngest 提交文档入库任务
// 以会话ID作为任务ID，同一个会话不会被重复入队
func (q *RedisQueue) EnqueueIngest(ctx context.Context, payload IngestPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal ingest payload: %w", err)
	}

	task := asynq.NewTask(TypeIngestSession, data)
	_, err = q.client.EnqueueContext(ctx, task,
		asynq.TaskID(payload.SessionID),
		asynq.MaxRetry(q.config.RetryLimit),
		asynq.Timeout(30*time.Minute),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue ingest task: %w", err)
	}
	return nil
}

// Close 释放底层连接
func (q *RedisQueue) Close() error {
	return q.client.Close()
}
