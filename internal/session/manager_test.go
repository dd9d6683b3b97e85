package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestManager 创建基于内存存储的会话管理器
func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(NewMemoryStore())
}

// TestManagerCreate 测试会话创建
func TestManagerCreate(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t)

	sess, err := manager.Create(ctx, "book.pdf")
	require.NoError(t, err)

	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, "book.pdf", sess.Filename)
	assert.Equal(t, StatusInitialized, sess.Status)
	assert.Equal(t, 10, sess.Progress)
	assert.NotEmpty(t, sess.IndexName)
	assert.False(t, sess.Ready())

	t.Run("index name is derived and valid", func(t *testing.T) {
		assert.Contains(t, sess.IndexName, "book-")
		assert.LessOrEqual(t, len(sess.IndexName), 45)
	})

	t.Run("sessions get distinct ids and indexes", func(t *testing.T) {
		other, err := manager.Create(ctx, "book.pdf")
		require.NoError(t, err)
		assert.NotEqual(t, sess.ID, other.ID)
		assert.NotEqual(t, sess.IndexName, other.IndexName)
	})
}

// TestManagerAdvance 测试状态推进和进度
func TestManagerAdvance(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t)

	sess, err := manager.Create(ctx, "book.pdf")
	require.NoError(t, err)

	stages := []struct {
		status   Status
		progress int
	}{
		{StatusLoading, 20},
		{StatusChunking, 40},
		{StatusEmbedding, 60},
		{StatusFinalizing, 90},
		{StatusReady, 100},
	}

	last := sess.Progress
	for _, stage := range stages {
		updated, err := manager.Advance(ctx, sess.ID, stage.status)
		require.NoError(t, err, "advance to %s", stage.status)
		assert.Equal(t, stage.status, updated.Status)
		assert.Equal(t, stage.progress, updated.Progress)
		assert.GreaterOrEqual(t, updated.Progress, last, "progress must not decrease")
		last = updated.Progress
	}

	t.Run("ready session cannot advance", func(t *testing.T) {
		_, err := manager.Advance(ctx, sess.ID, StatusLoading)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})
}

// TestManagerAdvanceBackwards 测试逆向状态迁移被拒绝
func TestManagerAdvanceBackwards(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t)

	sess, err := manager.Create(ctx, "book.pdf")
	require.NoError(t, err)

	_, err = manager.Advance(ctx, sess.ID, StatusChunking)
	require.NoError(t, err)

	_, err = manager.Advance(ctx, sess.ID, StatusLoading)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

// TestManagerSetProgress 测试阶段内进度更新
func TestManagerSetProgress(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t)

	sess, err := manager.Create(ctx, "book.pdf")
	require.NoError(t, err)
	_, err = manager.Advance(ctx, sess.ID, StatusEmbedding)
	require.NoError(t, err)

	require.NoError(t, manager.SetProgress(ctx, sess.ID, 75))
	updated, err := manager.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 75, updated.Progress)

	t.Run("lower progress is ignored", func(t *testing.T) {
		require.NoError(t, manager.SetProgress(ctx, sess.ID, 50))
		updated, err := manager.Get(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, 75, updated.Progress)
	})

	t.Run("progress is capped at 100", func(t *testing.T) {
		require.NoError(t, manager.SetProgress(ctx, sess.ID, 150))
		updated, err := manager.Get(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, 100, updated.Progress)
	})
}

// TestManagerFail 测试失败终态
func TestManagerFail(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t)

	sess, err := manager.Create(ctx, "book.pdf")
	require.NoError(t, err)
	_, err = manager.Advance(ctx, sess.ID, StatusEmbedding)
	require.NoError(t, err)

	require.NoError(t, manager.Fail(ctx, sess.ID, "embedding request failed"))

	updated, err := manager.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusError, updated.Status)
	assert.Equal(t, 0, updated.Progress, "error must reset progress to zero")
	assert.Equal(t, "embedding request failed", updated.Error)

	t.Run("failed session cannot advance", func(t *testing.T) {
		_, err := manager.Advance(ctx, sess.ID, StatusReady)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("repeated fail keeps first reason", func(t *testing.T) {
		require.NoError(t, manager.Fail(ctx, sess.ID, "another reason"))
		updated, err := manager.Get(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, "embedding request failed", updated.Error)
	})
}

// TestManagerDelete 测试会话删除
func TestManagerDelete(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t)

	sess, err := manager.Create(ctx, "book.pdf")
	require.NoError(t, err)

	require.NoError(t, manager.Delete(ctx, sess.ID))
	_, err = manager.Get(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	// 删除不存在的会话不报错
	assert.NoError(t, manager.Delete(ctx, sess.ID))
}

// TestMemoryStoreTTL 测试会话的自动过期
func TestMemoryStoreTTL(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(WithTTL(30 * time.Millisecond))

	sess := &Session{ID: "short-lived", Status: StatusInitialized}
	require.NoError(t, store.Save(ctx, sess))

	_, err := store.Get(ctx, "short-lived")
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)
	_, err = store.Get(ctx, "short-lived")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

// TestMemoryStoreIsolation 测试存储返回的是副本
func TestMemoryStoreIsolation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	sess := &Session{ID: "iso", Status: StatusInitialized, Progress: 10}
	require.NoError(t, store.Save(ctx, sess))

	loaded, err := store.Get(ctx, "iso")
	require.NoError(t, err)
	loaded.Progress = 99

	again, err := store.Get(ctx, "iso")
	require.NoError(t, err)
	assert.Equal(t, 10, again.Progress, "mutating a loaded session must not affect the store")
}
