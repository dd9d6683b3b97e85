package taskqueue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// IngestHandler 文档入库任务的处理函数
type IngestHandler func(ctx context.Context, payload IngestPayload) error

// Worker 任务队列消费端
// 从Redis队列取出入库任务并交给处理函数执行
type Worker struct {
	server  *asynq.Server
	handler IngestHandler
	logger  *logrus.Logger
}

// WorkerConfig 消费端配置
type WorkerConfig struct {
	Addr        string // Redis地址
	Password    string // Redis密码
	DB          int    // Redis数据库编号
	Concurrency int    // 并发处理数
}

// NewWorker 创建任务队列消费端
func NewWorker(cfg WorkerConfig, handler IngestHandler, logger *logrus.Logger) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if logger == nil {
		logger = logrus.New()
	}

	server := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		},
		asynq.Config{
			Concurrency: cfg.Concurrency,
		},
	)

	return &Worker{
		server:  server,
		handler: handler,
		logger:  logger,
	}
}

// Start 启动消费循环，非阻塞
func (w *Worker) Start() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeIngestSession, w.handleIngest)
	return w.server.Start(mux)
}

// Shutdown 停止消费并等待在途任务完成
func (w *Worker) Shutdown() {
	w.server.Shutdown()
}

// handleIngest 处理单个入库任务
func (w *Worker) handleIngest(ctx context.Context, task *asynq.Task) error {
	var payload IngestPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		// 载荷损坏的任务重试没有意义
		return fmt.Errorf("failed to unmarshal ingest payload: %v: %w", err, asynq.SkipRetry)
	}

	w.logger.WithFields(logrus.Fields{
		"session_id":  payload.SessionID,
		"storage_key": payload.StorageKey,
	}).Info("Processing ingest task")

	return w.handler(ctx, payload)
}
