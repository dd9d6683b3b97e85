package vectordb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestMemoryStore 创建已建好索引的内存向量库
func newTestMemoryStore(t *testing.T, dim int) Store {
	t.Helper()
	store, err := NewMemoryStore(WithDimensions(dim))
	require.NoError(t, err)
	require.NoError(t, store.EnsureIndex(context.Background(), dim))
	return store
}

// TestChunkID 测试记录ID的确定性
func TestChunkID(t *testing.T) {
	t.Run("same input same id", func(t *testing.T) {
		assert.Equal(t, ChunkID("book.pdf", 3, 7), ChunkID("book.pdf", 3, 7))
	})

	t.Run("different inputs different ids", func(t *testing.T) {
		base := ChunkID("book.pdf", 3, 7)
		assert.NotEqual(t, base, ChunkID("book.pdf", 3, 8))
		assert.NotEqual(t, base, ChunkID("book.pdf", 4, 7))
		assert.NotEqual(t, base, ChunkID("other.pdf", 3, 7))
	})

	t.Run("id is hex of fixed length", func(t *testing.T) {
		assert.Len(t, ChunkID("book.pdf", 1, 1), 40)
	})
}

// TestMemoryStoreUpsert 测试写入和覆盖语义
func TestMemoryStoreUpsert(t *testing.T) {
	ctx := context.Background()
	store := newTestMemoryStore(t, 3)

	t.Run("upsert before ensure fails", func(t *testing.T) {
		fresh, err := NewMemoryStore(WithDimensions(3))
		require.NoError(t, err)
		err = fresh.Upsert(ctx, []Entry{{ID: "a", Vector: []float32{1, 0, 0}}})
		assert.ErrorIs(t, err, ErrIndexNotFound)
	})

	t.Run("dimension mismatch rejected", func(t *testing.T) {
		err := store.Upsert(ctx, []Entry{{ID: "a", Vector: []float32{1, 0}}})
		assert.ErrorIs(t, err, ErrDimensionMismatch)
	})

	t.Run("same id overwrites", func(t *testing.T) {
		entry := Entry{ID: ChunkID("doc", 1, 0), Text: "v1", Vector: []float32{1, 0, 0}, Page: 1}
		require.NoError(t, store.Upsert(ctx, []Entry{entry}))

		entry.Text = "v2"
		require.NoError(t, store.Upsert(ctx, []Entry{entry}))

		memStore := store.(*MemoryStore)
		assert.Equal(t, 1, memStore.Size(), "re-ingesting must not accumulate records")

		results, err := store.Search(ctx, []float32{1, 0, 0}, 10, 0)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "v2", results[0].Text)
	})
}

// TestMemoryStoreEnsureIndex 测试索引维度的固定性
func TestMemoryStoreEnsureIndex(t *testing.T) {
	ctx := context.Background()
	store := newTestMemoryStore(t, 4)

	require.NoError(t, store.Upsert(ctx, []Entry{
		{ID: "a", Vector: []float32{1, 0, 0, 0}},
	}))

	t.Run("same dimension is idempotent", func(t *testing.T) {
		require.NoError(t, store.EnsureIndex(ctx, 4))
	})

	t.Run("different dimension rejected", func(t *testing.T) {
		err := store.EnsureIndex(ctx, 8)
		assert.ErrorIs(t, err, ErrDimensionMismatch)

		// 已有数据的维度不变，检索不受影响
		results, err := store.Search(ctx, []float32{1, 0, 0, 0}, 1, 0)
		require.NoError(t, err)
		assert.Len(t, results, 1)
	})
}

// TestMemoryStoreSearch 测试相似度检索
func TestMemoryStoreSearch(t *testing.T) {
	ctx := context.Background()
	store := newTestMemoryStore(t, 3)

	entries := []Entry{
		{ID: "x", Text: "aligned", Vector: []float32{1, 0, 0}, Page: 1},
		{ID: "y", Text: "orthogonal", Vector: []float32{0, 1, 0}, Page: 2},
		{ID: "z", Text: "close", Vector: []float32{0.9, 0.1, 0}, Page: 3},
	}
	require.NoError(t, store.Upsert(ctx, entries))

	t.Run("results ordered by score", func(t *testing.T) {
		results, err := store.Search(ctx, []float32{1, 0, 0}, 3, 0)
		require.NoError(t, err)
		require.Len(t, results, 3)

		assert.Equal(t, "x", results[0].ID)
		assert.Equal(t, "z", results[1].ID)
		assert.Equal(t, "y", results[2].ID)
		assert.GreaterOrEqual(t, results[0].Score, results[1].Score)
		assert.GreaterOrEqual(t, results[1].Score, results[2].Score)
	})

	t.Run("topK limits result count", func(t *testing.T) {
		results, err := store.Search(ctx, []float32{1, 0, 0}, 2, 0)
		require.NoError(t, err)
		assert.Len(t, results, 2)
	})

	t.Run("min score filters weak matches", func(t *testing.T) {
		results, err := store.Search(ctx, []float32{1, 0, 0}, 10, 0.5)
		require.NoError(t, err)
		for _, result := range results {
			assert.GreaterOrEqual(t, result.Score, float32(0.5))
		}
		assert.Len(t, results, 2)
	})

	t.Run("query dimension mismatch rejected", func(t *testing.T) {
		_, err := store.Search(ctx, []float32{1, 0}, 3, 0)
		assert.ErrorIs(t, err, ErrDimensionMismatch)
	})
}

// TestMemoryStoreDeleteIndex 测试索引删除
func TestMemoryStoreDeleteIndex(t *testing.T) {
	ctx := context.Background()
	store := newTestMemoryStore(t, 3)

	require.NoError(t, store.Upsert(ctx, []Entry{
		{ID: "a", Vector: []float32{1, 0, 0}},
	}))
	require.NoError(t, store.DeleteIndex(ctx))

	_, err := store.Search(ctx, []float32{1, 0, 0}, 1, 0)
	assert.ErrorIs(t, err, ErrIndexNotFound)
}

// TestMemoryRegistry 测试内存向量库的实例复用
func TestMemoryRegistry(t *testing.T) {
	ctx := context.Background()
	registry := NewMemoryRegistry()

	first, err := registry.Get("idx-a", WithDimensions(3))
	require.NoError(t, err)
	require.NoError(t, first.EnsureIndex(ctx, 3))
	require.NoError(t, first.Upsert(ctx, []Entry{{ID: "a", Vector: []float32{1, 0, 0}}}))

	// 同名索引返回同一个实例，能读到之前写入的数据
	second, err := registry.Get("idx-a")
	require.NoError(t, err)
	results, err := second.Search(ctx, []float32{1, 0, 0}, 1, 0)
	require.NoError(t, err)
	assert.Len(t, results, 1)

	// 不同索引互相隔离
	other, err := registry.Get("idx-b", WithDimensions(3))
	require.NoError(t, err)
	require.NoError(t, other.EnsureIndex(ctx, 3))
	results, err = other.Search(ctx, []float32{1, 0, 0}, 1, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}
