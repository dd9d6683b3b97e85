package services

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyerfyer/book-rag-chatbot/internal/pdf"
	"github.com/fyerfyer/book-rag-chatbot/internal/session"
	"github.com/fyerfyer/book-rag-chatbot/pkg/storage"
)

// blockingLoader 在加载阶段阻塞，直到测试放行
type blockingLoader struct {
	doc     *pdf.Document
	started chan struct{}
	release chan struct{}
}

func (l *blockingLoader) Load(ctx context.Context, path string) (*pdf.Document, error) {
	l.started <- struct{}{}
	select {
	case <-l.release:
		return l.doc, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// newPoolEnv 准备带文件存储的测试环境
// 成功入库后上传文件会被删除，所以每次提交要单独保存一份
func newPoolEnv(t *testing.T, loader DocumentLoader) (*testEnv, storage.Storage) {
	t.Helper()
	files, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	env := newTestEnv(loader)
	WithPipelineStorage(files)(env.pipeline)
	return env, files
}

// saveUpload 保存一份占位上传文件并返回存储键
func saveUpload(t *testing.T, files storage.Storage) string {
	t.Helper()
	key, err := files.Save(context.Background(), "freedonia-guide.pdf",
		bytes.NewReader([]byte("%PDF-1.4 placeholder")), 20)
	require.NoError(t, err)
	return key
}

// waitForStatus 轮询等待会话到达指定状态
func waitForStatus(t *testing.T, env *testEnv, sessionID string, status session.Status) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		sess, err := env.sessions.Get(context.Background(), sessionID)
		require.NoError(t, err)
		if sess.Status == status {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("session %s did not reach status %s", sessionID, status)
}

// TestIngestPoolBoundedConcurrency 测试工作池限制并发处理数
func TestIngestPoolBoundedConcurrency(t *testing.T) {
	loader := &blockingLoader{
		doc:     bookPages(),
		started: make(chan struct{}, 8),
		release: make(chan struct{}),
	}
	env, files := newPoolEnv(t, loader)

	pool := NewIngestPool(env.pipeline, 2, quietLogger())

	ctx := context.Background()
	var ids []string
	for i := 0; i < 4; i++ {
		sess, err := env.sessions.Create(ctx, "freedonia-guide.pdf")
		require.NoError(t, err)
		require.NoError(t, pool.Submit(sess.ID, saveUpload(t, files)))
		ids = append(ids, sess.ID)
	}

	// 只有两个任务能同时开始处理
	for i := 0; i < 2; i++ {
		select {
		case <-loader.started:
		case <-time.After(2 * time.Second):
			t.Fatal("expected two tasks to start")
		}
	}
	select {
	case <-loader.started:
		t.Fatal("third task started before a slot was freed")
	case <-time.After(100 * time.Millisecond):
	}

	// 放行后其余任务跟进执行
	close(loader.release)
	for _, id := range ids {
		waitForStatus(t, env, id, session.StatusReady)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, pool.Shutdown(shutdownCtx))
}

// TestIngestPoolShutdown 测试关闭行为
func TestIngestPoolShutdown(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects submissions after shutdown", func(t *testing.T) {
		env, files := newPoolEnv(t, &fakeLoader{doc: bookPages()})
		pool := NewIngestPool(env.pipeline, 2, quietLogger())

		shutdownCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		require.NoError(t, pool.Shutdown(shutdownCtx))

		sess, err := env.sessions.Create(ctx, "freedonia-guide.pdf")
		require.NoError(t, err)
		assert.ErrorIs(t, pool.Submit(sess.ID, saveUpload(t, files)), ErrPoolClosed)
	})

	t.Run("waits for in-flight task", func(t *testing.T) {
		loader := &blockingLoader{
			doc:     bookPages(),
			started: make(chan struct{}, 1),
			release: make(chan struct{}),
		}
		env, files := newPoolEnv(t, loader)
		pool := NewIngestPool(env.pipeline, 2, quietLogger())

		sess, err := env.sessions.Create(ctx, "freedonia-guide.pdf")
		require.NoError(t, err)
		require.NoError(t, pool.Submit(sess.ID, saveUpload(t, files)))
		<-loader.started

		go func() {
			time.Sleep(50 * time.Millisecond)
			close(loader.release)
		}()

		shutdownCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		require.NoError(t, pool.Shutdown(shutdownCtx))

		got, err := env.sessions.Get(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, session.StatusReady, got.Status)
	})
}
