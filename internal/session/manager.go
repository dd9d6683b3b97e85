package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// stageOrder 各状态在流水线中的顺序
var stageOrder = map[Status]int{
	StatusInitialized: 0,
	StatusLoading:     1,
	StatusChunking:    2,
	StatusEmbedding:   3,
	StatusFinalizing:  4,
	StatusReady:       5,
}

// Manager 会话管理器
// 负责会话的生命周期和状态迁移，所有修改经过内部互斥锁串行化，
// 保证进度只增不减
type Manager struct {
	store  Store
	logger *logrus.Logger
	mu     sync.Mutex
}

// ManagerOption 管理器配置选项
type ManagerOption func(*Manager)

// WithManagerLogger 设置日志记录器
func WithManagerLogger(logger *logrus.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager 创建会话管理器
func NewManager(store Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:  store,
		logger: logrus.New(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create 创建新会话
// 索引名基于会话ID派生，保证不同会话的数据互相隔离
func (m *Manager) Create(ctx context.Context, filename string) (*Session, error) {
	return m.CreateWithIndex(ctx, filename, "")
}

// CreateWithIndex 创建绑定指定索引的新会话
// 索引名为空时基于会话ID派生
func (m *Manager) CreateWithIndex(ctx context.Context, filename string, indexName string) (*Session, error) {
	now := time.Now()
	sess := &Session{
		ID:        uuid.NewString(),
		Filename:  filename,
		IndexName: indexName,
		Status:    StatusInitialized,
		Progress:  StageProgress(StatusInitialized),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if sess.IndexName == "" {
		sess.IndexName = IndexNameFor(sess.ID)
	}

	if err := m.store.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	m.logger.WithFields(logrus.Fields{
		"session_id": sess.ID,
		"filename":   filename,
	}).Info("Session created")

	return sess, nil
}

// Get 按ID获取会话
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	return m.store.Get(ctx, id)
}

// Advance 将会话推进到下一个处理阶段
// 只允许沿流水线顺序向前推进，终态会话不可再推进
func (m *Manager) Advance(ctx context.Context, id string, status Status) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if sess.Status.Terminal() {
		return nil, fmt.Errorf("%w: session %s is %s", ErrInvalidTransition, id, sess.Status)
	}
	targetOrder, ok := stageOrder[status]
	if !ok || targetOrder <= stageOrder[sess.Status] {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, sess.Status, status)
	}

	sess.Status = status
	if p := StageProgress(status); p > sess.Progress {
		sess.Progress = p
	}
	sess.UpdatedAt = time.Now()

	if err := m.store.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	m.logger.WithFields(logrus.Fields{
		"session_id": id,
		"status":     status,
		"progress":   sess.Progress,
	}).Info("Session status updated")

	return sess, nil
}

// SetProgress 更新当前阶段内的进度
// 进度只增不减，终态会话不可更新
func (m *Manager) SetProgress(ctx context.Context, id string, progress int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if sess.Status.Terminal() {
		return fmt.Errorf("%w: session %s is %s", ErrInvalidTransition, id, sess.Status)
	}
	if progress <= sess.Progress {
		return nil
	}
	if progress > 100 {
		progress = 100
	}

	sess.Progress = progress
	sess.UpdatedAt = time.Now()
	return m.store.Save(ctx, sess)
}

// SetStats 更新会话处理统计
func (m *Manager) SetStats(ctx context.Context, id string, stats SessionStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	sess.Stats = stats
	sess.UpdatedAt = time.Now()
	return m.store.Save(ctx, sess)
}

// Fail 将会话标记为失败
// 进度归零，失败原因写入Error字段，此后会话不可再推进
func (m *Manager) Fail(ctx context.Context, id string, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if sess.Status == StatusError {
		return nil
	}

	sess.Status = StatusError
	sess.Progress = 0
	sess.Error = reason
	sess.UpdatedAt = time.Now()

	if err := m.store.Save(ctx, sess); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	m.logger.WithFields(logrus.Fields{
		"session_id": id,
		"error":      reason,
	}).Error("Session failed")

	return nil
}

// Delete 删除会话
func (m *Manager) Delete(ctx context.Context, id string) error {
	return m.store.Delete(ctx, id)
}

// IndexNameFor 根据会话ID派生向量索引名
// Pinecone索引名只允许小写字母、数字和连字符，长度不超过45
func IndexNameFor(sessionID string) string {
	name := "book-" + sessionID
	if len(name) > 45 {
		name = name[:45]
	}
	return name
}
