package vectordb

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

func init() {
	RegisterStore("memory", NewMemoryStore)
}

// MemoryStore 内存向量库实现
// 使用余弦相似度做穷举检索，用于本地开发和测试
type MemoryStore struct {
	config  Config
	mu      sync.RWMutex
	entries map[string]Entry
	created bool
}

// NewMemoryStore 创建内存向量库
func NewMemoryStore(opts ...StoreOption) (Store, error) {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	return &MemoryStore{
		config:  config,
		entries: make(map[string]Entry),
	}, nil
}

// EnsureIndex 确保索引存在
// 已建好的索引维度不可更改，不一致时返回ErrDimensionMismatch
func (s *MemoryStore) EnsureIndex(ctx context.Context, dimensions int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dimensions <= 0 {
		dimensions = s.config.Dimensions
	}
	if s.created {
		if dimensions != s.config.Dimensions {
			return fmt.Errorf("%w: index %s has dimension %d, want %d",
				ErrDimensionMismatch, s.config.IndexName, s.config.Dimensions, dimensions)
		}
		return nil
	}
	s.config.Dimensions = dimensions
	s.created = true
	return nil
}

// Upsert 批量写入记录，相同ID覆盖
func (s *MemoryStore) Upsert(ctx context.Context, entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.created {
		return ErrIndexNotFound
	}
	for _, entry := range entries {
		if len(entry.Vector) != s.config.Dimensions {
			return fmt.Errorf("%w: got %d, want %d",
				ErrDimensionMismatch, len(entry.Vector), s.config.Dimensions)
		}
	}
	for _, entry := range entries {
		s.entries[entry.ID] = entry
	}
	return nil
}

// Search 按余弦相似度检索
func (s *MemoryStore) Search(ctx context.Context, vector []float32, topK int, minScore float32) ([]SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.created {
		return nil, ErrIndexNotFound
	}
	if len(vector) != s.config.Dimensions {
		return nil, fmt.Errorf("%w: got %d, want %d",
			ErrDimensionMismatch, len(vector), s.config.Dimensions)
	}
	if topK <= 0 {
		return nil, nil
	}

	results := make([]SearchResult, 0, len(s.entries))
	for _, entry := range s.entries {
		score := cosineSimilarity(vector, entry.Vector)
		if score < minScore {
			continue
		}
		results = append(results, SearchResult{
			ID:    entry.ID,
			Text:  entry.Text,
			Page:  entry.Page,
			Score: score,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// DeleteIndex 删除索引及其全部数据
func (s *MemoryStore) DeleteIndex(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]Entry)
	s.created = false
	return nil
}

// Close 释放资源
func (s *MemoryStore) Close() error {
	return nil
}

// Size 返回当前记录数，仅用于测试观察
func (s *MemoryStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// MemoryRegistry 按索引名复用内存向量库实例
// 内存库没有外部状态，必须跨调用方共享同一个实例才能读到写入的数据
type MemoryRegistry struct {
	mu     sync.Mutex
	stores map[string]*MemoryStore
}

// NewMemoryRegistry 创建内存向量库注册表
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{stores: make(map[string]*MemoryStore)}
}

// Get 获取指定索引名的内存向量库，不存在时创建
func (r *MemoryRegistry) Get(indexName string, opts ...StoreOption) (Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if store, ok := r.stores[indexName]; ok {
		return store, nil
	}
	opts = append(opts, WithIndexName(indexName))
	store, err := NewMemoryStore(opts...)
	if err != nil {
		return nil, err
	}
	r.stores[indexName] = store.(*MemoryStore)
	return store, nil
}

// cosineSimilarity 计算两个向量的余弦相似度
func cosineSimilarity(a, b []float32) float32 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
