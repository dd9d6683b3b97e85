package session

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// DefaultSessionTTL 会话默认存活时间
// 超过存活时间未更新的会话会被自动清理
const DefaultSessionTTL = 24 * time.Hour

// MemoryStore 基于内存缓存的会话存储
// 会话在TTL到期后自动过期，适合单机部署
type MemoryStore struct {
	cache *gocache.Cache
	ttl   time.Duration
}

// MemoryStoreOption 内存存储配置选项
type MemoryStoreOption func(*MemoryStore)

// WithTTL 设置会话存活时间
func WithTTL(ttl time.Duration) MemoryStoreOption {
	return func(s *MemoryStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// NewMemoryStore 创建内存会话存储
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{ttl: DefaultSessionTTL}
	for _, opt := range opts {
		opt(s)
	}
	s.cache = gocache.New(s.ttl, s.ttl/4)
	return s
}

// Save 保存或更新会话，同时刷新过期时间
func (s *MemoryStore) Save(ctx context.Context, sess *Session) error {
	copied := *sess
	s.cache.Set(sess.ID, &copied, s.ttl)
	return nil
}

// Get 按ID获取会话
func (s *MemoryStore) Get(ctx context.Context, id string) (*Session, error) {
	value, found := s.cache.Get(id)
	if !found {
		return nil, ErrSessionNotFound
	}
	sess, ok := value.(*Session)
	if !ok {
		return nil, ErrSessionNotFound
	}
	copied := *sess
	return &copied, nil
}

// Delete 删除会话
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.cache.Delete(id)
	return nil
}

// List 列出所有未过期的会话
func (s *MemoryStore) List(ctx context.Context) ([]*Session, error) {
	items := s.cache.Items()
	sessions := make([]*Session, 0, len(items))
	for _, item := range items {
		if sess, ok := item.Object.(*Session); ok {
			copied := *sess
			sessions = append(sessions, &copied)
		}
	}
	return sessions, nil
}

// Close 释放资源
func (s *MemoryStore) Close() error {
	s.cache.Flush()
	return nil
}
