package cache

import (
	"context"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryCache 基于进程内存的缓存实现
type MemoryCache struct {
	cache *gocache.Cache
}

// NewMemoryCache 创建内存缓存
// defaultTTL为键的默认存活时间，cleanupInterval为过期清理周期
func NewMemoryCache(defaultTTL, cleanupInterval time.Duration) *MemoryCache {
	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}
	if cleanupInterval <= 0 {
		cleanupInterval = 10 * time.Minute
	}
	return &MemoryCache{
		cache: gocache.New(defaultTTL, cleanupInterval),
	}
}

// Get 获取缓存值
func (c *MemoryCache) Get(ctx context.Context, key string) (string, error) {
	value, found := c.cache.Get(key)
	if !found {
		return "", ErrCacheMiss
	}
	str, ok := value.(string)
	if !ok {
		return "", ErrCacheMiss
	}
	return str, nil
}

// Set 设置缓存值
func (c *MemoryCache) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}
	c.cache.Set(key, value, ttl)
	return nil
}

// Delete 删除缓存值
func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.cache.Delete(key)
	return nil
}

// DeletePrefix 删除指定前缀的所有缓存值
func (c *MemoryCache) DeletePrefix(ctx context.Context, prefix string) error {
	for key := range c.cache.Items() {
		if strings.HasPrefix(key, prefix) {
			c.cache.Delete(key)
		}
	}
	return nil
}

// Close 释放资源
func (c *MemoryCache) Close() error {
	c.cache.Flush()
	return nil
}
