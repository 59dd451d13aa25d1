package rag

import (
	"context"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	applog "docqa/internal/platform/log"
)

// EmbeddingCache 内容哈希 -> 向量 的进程内 LRU 缓存，可选 Redis 二级缓存。
//
// 同一把锁保护查找和写入；compute 在锁外执行，所以同一 key 的并发未命中
// 可能各算一次，Embedding 调用幂等，只损失一次重复请求。
// 设置了 dims 时，维度不符的条目（换了模型或维度配置）按未命中处理。
type EmbeddingCache struct {
	mu   sync.Mutex
	lru  *simplelru.LRU[string, []float32]
	l2   EmbeddingCacheStore // 可选
	dims int
}

// NewEmbeddingCache 创建容量为 size 的缓存
func NewEmbeddingCache(size int) (*EmbeddingCache, error) {
	if size <= 0 {
		size = DefaultConfig().EmbeddingCacheSize
	}
	l, err := simplelru.NewLRU[string, []float32](size, nil)
	if err != nil {
		return nil, err
	}
	return &EmbeddingCache{lru: l}, nil
}

// SetStore 设置二级缓存
func (c *EmbeddingCache) SetStore(s EmbeddingCacheStore) {
	c.l2 = s
}

// SetDims 设置期望的向量维度，<=0 表示不校验
func (c *EmbeddingCache) SetDims(dims int) {
	c.mu.Lock()
	c.dims = dims
	c.mu.Unlock()
}

// Get 查缓存，L1 未命中时查 L2 并回填 L1。
func (c *EmbeddingCache) Get(ctx context.Context, key string) ([]float32, bool) {
	c.mu.Lock()
	dims := c.dims
	v, ok := c.lru.Get(key)
	if ok && !dimsMatch(v, dims) {
		c.lru.Remove(key)
		ok = false
	}
	c.mu.Unlock()
	if ok {
		return v, true
	}

	if c.l2 == nil {
		return nil, false
	}
	v, ok = c.l2.Get(ctx, key)
	if !ok {
		return nil, false
	}
	if !dimsMatch(v, dims) {
		applog.Debug("[RAG/Cache] Ignoring cached embedding with stale dims", "key", key, "dims", len(v), "want", dims)
		return nil, false
	}
	c.mu.Lock()
	c.lru.Add(key, v)
	c.mu.Unlock()
	return v, true
}

func dimsMatch(v []float32, dims int) bool {
	return dims <= 0 || len(v) == dims
}

// Set 写入两级缓存
func (c *EmbeddingCache) Set(ctx context.Context, key string, vector []float32) {
	c.mu.Lock()
	c.lru.Add(key, vector)
	c.mu.Unlock()
	if c.l2 != nil {
		c.l2.Set(ctx, key, vector)
	}
}

// GetOrCompute 命中直接返回；未命中调用 compute 并在返回前写入缓存。
func (c *EmbeddingCache) GetOrCompute(ctx context.Context, key string, compute func(ctx context.Context) ([]float32, error)) ([]float32, error) {
	if v, ok := c.Get(ctx, key); ok {
		return v, nil
	}
	v, err := compute(ctx)
	if err != nil {
		return nil, err
	}
	c.Set(ctx, key, v)
	return v, nil
}

// Clear 清空两级缓存，索引被整体清空或更换模型时调用。
func (c *EmbeddingCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	n := c.lru.Len()
	c.lru.Purge()
	c.mu.Unlock()

	applog.Info("[RAG/Cache] Embedding cache cleared", "entries", n)
	if c.l2 != nil {
		return c.l2.Clear(ctx)
	}
	return nil
}

// Len L1 条目数
func (c *EmbeddingCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
