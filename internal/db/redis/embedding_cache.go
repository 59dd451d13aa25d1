package redisdb

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	domainrag "docqa/internal/domain/rag"
	applog "docqa/internal/platform/log"
)

const embeddingCachePrefix = "docqa:emb:"

// EmbeddingCache Embedding 二级缓存。
// key 形如 docqa:emb:<model>:<dims>:<content hash>，换模型或维度后旧条目自然不再命中。
type EmbeddingCache struct {
	redis  *redis.Client
	ttl    time.Duration
	prefix string
}

// NewEmbeddingCache 创建二级缓存，ttlSeconds<=0 表示不过期
func NewEmbeddingCache(rdb *redis.Client, model string, dims, ttlSeconds int) *EmbeddingCache {
	var ttl time.Duration
	if ttlSeconds > 0 {
		ttl = time.Duration(ttlSeconds) * time.Second
	}
	return &EmbeddingCache{
		redis:  rdb,
		ttl:    ttl,
		prefix: fmt.Sprintf("%s%s:%d:", embeddingCachePrefix, model, dims),
	}
}

// Get 读取缓存向量，读失败按未命中处理
func (c *EmbeddingCache) Get(ctx context.Context, key string) ([]float32, bool) {
	data, err := c.redis.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			applog.Warn("[RAG/Cache] Failed to read embedding", "key", key, "error", err)
		}
		return nil, false
	}

	var vector []float32
	if err := json.Unmarshal(data, &vector); err != nil {
		applog.Warn("[RAG/Cache] Failed to unmarshal cached embedding", "key", key, "error", err)
		return nil, false
	}
	return vector, true
}

// Set 写入向量，失败只记日志
func (c *EmbeddingCache) Set(ctx context.Context, key string, vector []float32) {
	data, err := json.Marshal(vector)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, c.prefix+key, data, c.ttl).Err(); err != nil {
		applog.Warn("[RAG/Cache] Failed to set embedding", "key", key, "error", err)
	}
}

// Clear 删除全部 embedding 缓存，包括其他模型 / 维度下的条目（SCAN + DEL）
func (c *EmbeddingCache) Clear(ctx context.Context) error {
	iter := c.redis.Scan(ctx, 0, embeddingCachePrefix+"*", 500).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) > 0 {
		if err := c.redis.Del(ctx, keys...).Err(); err != nil {
			return err
		}
	}
	applog.Info("[RAG/Cache] Embedding cache cleared", "keys_deleted", len(keys))
	return nil
}

var _ domainrag.EmbeddingCacheStore = (*EmbeddingCache)(nil)
