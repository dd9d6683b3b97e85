package vectordb

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePinecone 模拟Pinecone控制面和数据面的测试服务器
type fakePinecone struct {
	mu             sync.Mutex
	server         *httptest.Server
	dimension      int
	created        bool
	vectors        map[string]fakeVector
	failures       int // 返回500的剩余次数
	describeMisses int // 描述接口返回404的剩余次数，用于模拟创建竞争
}

type fakeVector struct {
	Values   []float32
	Metadata map[string]any
}

func newFakePinecone(t *testing.T) *fakePinecone {
	t.Helper()
	f := &fakePinecone{vectors: make(map[string]fakeVector)}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakePinecone) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failures > 0 {
		f.failures--
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	switch {
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/indexes/"):
		if f.describeMisses > 0 {
			f.describeMisses--
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if !f.created {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"name":      strings.TrimPrefix(r.URL.Path, "/indexes/"),
			"dimension": f.dimension,
			"host":      f.server.URL,
			"status":    map[string]any{"ready": true, "state": "Ready"},
		})

	case r.Method == http.MethodPost && r.URL.Path == "/indexes":
		if f.created {
			w.WriteHeader(http.StatusConflict)
			return
		}
		var req struct {
			Dimension int `json:"dimension"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		f.created = true
		f.dimension = req.Dimension
		w.WriteHeader(http.StatusCreated)

	case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/indexes/"):
		if !f.created {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		f.created = false
		f.vectors = make(map[string]fakeVector)
		w.WriteHeader(http.StatusAccepted)

	case r.Method == http.MethodPost && r.URL.Path == "/vectors/upsert":
		var req struct {
			Vectors []struct {
				ID       string         `json:"id"`
				Values   []float32      `json:"values"`
				Metadata map[string]any `json:"metadata"`
			} `json:"vectors"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		for _, v := range req.Vectors {
			f.vectors[v.ID] = fakeVector{Values: v.Values, Metadata: v.Metadata}
		}
		json.NewEncoder(w).Encode(map[string]int{"upsertedCount": len(req.Vectors)})

	case r.Method == http.MethodPost && r.URL.Path == "/query":
		var req struct {
			Vector []float32 `json:"vector"`
			TopK   int       `json:"topK"`
		}
		json.NewDecoder(r.Body).Decode(&req)

		type match struct {
			ID       string         `json:"id"`
			Score    float32        `json:"score"`
			Metadata map[string]any `json:"metadata"`
		}
		matches := make([]match, 0, len(f.vectors))
		for id, v := range f.vectors {
			matches = append(matches, match{
				ID:       id,
				Score:    cosineSimilarity(req.Vector, v.Values),
				Metadata: v.Metadata,
			})
		}
		sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
		if len(matches) > req.TopK {
			matches = matches[:req.TopK]
		}
		json.NewEncoder(w).Encode(map[string]any{"matches": matches})

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// count 返回当前存储的向量数
func (f *fakePinecone) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.vectors)
}

// newTestPineconeStore 创建指向测试服务器的Pinecone客户端
func newTestPineconeStore(t *testing.T, f *fakePinecone, dim int) Store {
	t.Helper()
	store, err := NewPineconeStore(
		WithAPIKey("test-key"),
		WithBaseURL(f.server.URL),
		WithIndexName("test-index"),
		WithDimensions(dim),
	)
	require.NoError(t, err)
	return store
}

// TestPineconeRequiresAPIKey 测试缺少API密钥时的行为
func TestPineconeRequiresAPIKey(t *testing.T) {
	_, err := NewPineconeStore()
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

// TestPineconeEnsureIndex 测试索引创建和复用
func TestPineconeEnsureIndex(t *testing.T) {
	ctx := context.Background()
	fake := newFakePinecone(t)
	store := newTestPineconeStore(t, fake, 3)

	t.Run("creates missing index", func(t *testing.T) {
		require.NoError(t, store.EnsureIndex(ctx, 3))
		assert.True(t, fake.created)
		assert.Equal(t, 3, fake.dimension)
	})

	t.Run("reuses existing index", func(t *testing.T) {
		require.NoError(t, store.EnsureIndex(ctx, 3))
	})

	t.Run("dimension mismatch rejected", func(t *testing.T) {
		other := newTestPineconeStore(t, fake, 5)
		err := other.EnsureIndex(ctx, 5)
		assert.ErrorIs(t, err, ErrDimensionMismatch)
	})
}

// TestPineconeEnsureIndexRace 测试并发创建同名索引
// 两个客户端都先看到404，后创建的一方收到409，必须当作索引已存在
func TestPineconeEnsureIndexRace(t *testing.T) {
	ctx := context.Background()
	fake := newFakePinecone(t)

	first := newTestPineconeStore(t, fake, 3)
	require.NoError(t, first.EnsureIndex(ctx, 3))

	// 让后来的客户端在描述接口上看到一次404，仿佛创建尚未发生
	fake.mu.Lock()
	fake.describeMisses = 1
	fake.mu.Unlock()

	second := newTestPineconeStore(t, fake, 3)
	require.NoError(t, second.EnsureIndex(ctx, 3), "losing the create race must not fail the pipeline")

	// 输家的客户端照常可写
	require.NoError(t, second.Upsert(ctx, []Entry{
		{ID: "a", Vector: []float32{1, 0, 0}},
	}))
}

// TestPineconeUpsertAndSearch 测试写入和检索
func TestPineconeUpsertAndSearch(t *testing.T) {
	ctx := context.Background()
	fake := newFakePinecone(t)
	store := newTestPineconeStore(t, fake, 3)
	require.NoError(t, store.EnsureIndex(ctx, 3))

	entries := []Entry{
		{ID: ChunkID("doc", 1, 0), Text: "first", Vector: []float32{1, 0, 0}, Page: 1, Source: "doc"},
		{ID: ChunkID("doc", 2, 1), Text: "second", Vector: []float32{0, 1, 0}, Page: 2, Source: "doc"},
	}
	require.NoError(t, store.Upsert(ctx, entries))

	t.Run("re-ingesting does not duplicate", func(t *testing.T) {
		require.NoError(t, store.Upsert(ctx, entries))
		assert.Equal(t, 2, fake.count())
	})

	t.Run("search returns metadata", func(t *testing.T) {
		results, err := store.Search(ctx, []float32{1, 0, 0}, 2, 0)
		require.NoError(t, err)
		require.Len(t, results, 2)

		assert.Equal(t, "first", results[0].Text)
		assert.Equal(t, 1, results[0].Page)
		assert.Greater(t, results[0].Score, results[1].Score)
	})

	t.Run("min score filters results", func(t *testing.T) {
		results, err := store.Search(ctx, []float32{1, 0, 0}, 2, 0.5)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "first", results[0].Text)
	})

	t.Run("dimension mismatch rejected", func(t *testing.T) {
		err := store.Upsert(ctx, []Entry{{ID: "bad", Vector: []float32{1}}})
		assert.ErrorIs(t, err, ErrDimensionMismatch)
	})
}

// TestPineconeSearchWithoutEnsure 测试直接检索已存在的索引
func TestPineconeSearchWithoutEnsure(t *testing.T) {
	ctx := context.Background()
	fake := newFakePinecone(t)

	writer := newTestPineconeStore(t, fake, 3)
	require.NoError(t, writer.EnsureIndex(ctx, 3))
	require.NoError(t, writer.Upsert(ctx, []Entry{
		{ID: "a", Text: "hello", Vector: []float32{1, 0, 0}, Page: 1},
	}))

	// 新客户端未调用EnsureIndex，需要自行解析数据面地址
	reader := newTestPineconeStore(t, fake, 3)
	results, err := reader.Search(ctx, []float32{1, 0, 0}, 1, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "hello", results[0].Text)
}

// TestPineconeRetry 测试服务端错误的重试
func TestPineconeRetry(t *testing.T) {
	ctx := context.Background()
	fake := newFakePinecone(t)
	store := newTestPineconeStore(t, fake, 3)
	require.NoError(t, store.EnsureIndex(ctx, 3))

	fake.mu.Lock()
	fake.failures = 2
	fake.mu.Unlock()

	err := store.Upsert(ctx, []Entry{
		{ID: "a", Vector: []float32{1, 0, 0}},
	})
	require.NoError(t, err, "transient 5xx responses should be retried")
}

// TestPineconeDeleteIndex 测试索引删除的幂等性
func TestPineconeDeleteIndex(t *testing.T) {
	ctx := context.Background()
	fake := newFakePinecone(t)
	store := newTestPineconeStore(t, fake, 3)
	require.NoError(t, store.EnsureIndex(ctx, 3))

	require.NoError(t, store.DeleteIndex(ctx))
	assert.False(t, fake.created)

	// 再次删除不存在的索引不报错
	require.NoError(t, store.DeleteIndex(ctx))
}
