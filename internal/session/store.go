package session

import "context"

// Store 会话存储接口
// 实现必须保证并发安全；过期策略由具体实现决定
type Store interface {
	// Save 保存或更新会话
	Save(ctx context.Context, sess *Session) error

	// Get 按ID获取会话，不存在时返回ErrSessionNotFound
	Get(ctx context.Context, id string) (*Session, error)

	// Delete 删除会话，删除不存在的会话不报错
	Delete(ctx context.Context, id string) error

	// List 列出所有未过期的会话
	List(ctx context.Context) ([]*Session, error)

	// Close 释放底层资源
	Close() error
}
