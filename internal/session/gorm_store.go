package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// sessionRecord 会话的数据库记录
type sessionRecord struct {
	ID        string         `gorm:"primaryKey;size:64"`
	Filename  string         `gorm:"size:255"`
	IndexName string         `gorm:"size:255"`
	Status    string         `gorm:"size:32;index"`
	Progress  int            `gorm:"default:0"`
	Error     string         `gorm:"type:text"`
	Stats     datatypes.JSON `gorm:"type:json"`
	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt time.Time `gorm:"index"`
}

// TableName 指定表名
func (sessionRecord) TableName() string {
	return "sessions"
}

// GormStore 基于SQLite的持久化会话存储
// 服务重启后会话不丢失，过期会话在读取时被过滤
type GormStore struct {
	db  *gorm.DB
	ttl time.Duration
}

// GormStoreOption 持久化存储配置选项
type GormStoreOption func(*GormStore)

// WithGormTTL 设置会话存活时间
func WithGormTTL(ttl time.Duration) GormStoreOption {
	return func(s *GormStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// NewGormStore 创建持久化会话存储
func NewGormStore(dbPath string, opts ...GormStoreOption) (*GormStore, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %w", err)
	}

	if err := db.AutoMigrate(&sessionRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate session table: %w", err)
	}

	s := &GormStore{db: db, ttl: DefaultSessionTTL}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Save 保存或更新会话，同时刷新过期时间
func (s *GormStore) Save(ctx context.Context, sess *Session) error {
	record, err := toRecord(sess, time.Now().Add(s.ttl))
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(record).Error
}

// Get 按ID获取会话，过期的会话视为不存在
func (s *GormStore) Get(ctx context.Context, id string) (*Session, error) {
	var record sessionRecord
	err := s.db.WithContext(ctx).
		Where("id = ? AND expires_at > ?", id, time.Now()).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return fromRecord(&record)
}

// Delete 删除会话
func (s *GormStore) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).
		Where("id = ?", id).
		Delete(&sessionRecord{}).Error
}

// List 列出所有未过期的会话
func (s *GormStore) List(ctx context.Context) ([]*Session, error) {
	var records []sessionRecord
	err := s.db.WithContext(ctx).
		Where("expires_at > ?", time.Now()).
		Order("created_at ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	sessions := make([]*Session, 0, len(records))
	for i := range records {
		sess, err := fromRecord(&records[i])
		if err != nil {
			continue
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

// Purge 物理删除已过期的会话记录
func (s *GormStore) Purge(ctx context.Context) error {
	return s.db.WithContext(ctx).
		Where("expires_at <= ?", time.Now()).
		Delete(&sessionRecord{}).Error
}

// Close 关闭数据库连接
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// toRecord 将会话转换为数据库记录
func toRecord(sess *Session, expiresAt time.Time) (*sessionRecord, error) {
	stats, err := json.Marshal(sess.Stats)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session stats: %w", err)
	}
	return &sessionRecord{
		ID:        sess.ID,
		Filename:  sess.Filename,
		IndexName: sess.IndexName,
		Status:    string(sess.Status),
		Progress:  sess.Progress,
		Error:     sess.Error,
		Stats:     datatypes.JSON(stats),
		CreatedAt: sess.CreatedAt,
		UpdatedAt: sess.UpdatedAt,
		ExpiresAt: expiresAt,
	}, nil
}

// fromRecord 将数据库记录转换为会话
func fromRecord(record *sessionRecord) (*Session, error) {
	sess := &Session{
		ID:        record.ID,
		Filename:  record.Filename,
		IndexName: record.IndexName,
		Status:    Status(record.Status),
		Progress:  record.Progress,
		Error:     record.Error,
		CreatedAt: record.CreatedAt,
		UpdatedAt: record.UpdatedAt,
	}
	if len(record.Stats) > 0 {
		if err := json.Unmarshal(record.Stats, &sess.Stats); err != nil {
			return nil, fmt.Errorf("failed to unmarshal session stats: %w", err)
		}
	}
	return sess, nil
}
