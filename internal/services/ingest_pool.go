package services

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrPoolClosed 工作池已关闭，不再接受新任务
var ErrPoolClosed = errors.New("ingest pool is closed")

// IngestPool 文档入库工作池
// 并发处理的会话数有上限，超出的任务排队等待，
// 避免大量并发上传耗尽内存和外部API配额
type IngestPool struct {
	pipeline *Pipeline
	logger   *logrus.Logger

	sem    chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewIngestPool 创建入库工作池
// workers为同时处理的会话数上限
func NewIngestPool(pipeline *Pipeline, workers int, logger *logrus.Logger) *IngestPool {
	if workers <= 0 {
		workers = 4
	}
	if logger == nil {
		logger = logrus.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &IngestPool{
		pipeline: pipeline,
		logger:   logger,
		sem:      make(chan struct{}, workers),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Submit 提交入库任务
// 任务在后台执行，处理结果通过会话状态反映；池关闭后返回ErrPoolClosed
func (p *IngestPool) Submit(sessionID string, storageKey string) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()

		select {
		case p.sem <- struct{}{}:
			defer func() { <-p.sem }()
		case <-p.ctx.Done():
			p.pipeline.fail(context.Background(), sessionID, "server is shutting down")
			return
		}

		if err := p.pipeline.Ingest(p.ctx, sessionID, storageKey); err != nil {
			p.logger.WithError(err).WithField("session_id", sessionID).
				Error("Document ingest failed")
		}
	}()

	return nil
}

// Shutdown 停止接受新任务并等待在途任务完成
// ctx超时后放弃等待，在途任务由ctx取消中断
func (p *IngestPool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		return ctx.Err()
	}
}
