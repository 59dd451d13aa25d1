package redisdb

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainrag "docqa/internal/domain/rag"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestReplaceMarkerLifecycle(t *testing.T) {
	mr, client := newTestRedis(t)
	m := NewReplaceMarker(client, 60)
	ctx := context.Background()

	stale, err := m.Mark(ctx, "ns1", "run-a")
	require.NoError(t, err)
	assert.False(t, stale)
	assert.True(t, mr.Exists("docqa:replacing:ns1"))
	assert.Equal(t, 60*time.Second, mr.TTL("docqa:replacing:ns1"))

	marked, err := m.IsMarked(ctx, "ns1")
	require.NoError(t, err)
	assert.True(t, marked)

	// 未清除的标记被下一次 Mark 识别
	stale, err = m.Mark(ctx, "ns1", "run-a")
	require.NoError(t, err)
	assert.True(t, stale)

	require.NoError(t, m.Clear(ctx, "ns1", "run-a"))
	marked, err = m.IsMarked(ctx, "ns1")
	require.NoError(t, err)
	assert.False(t, marked)
}

func TestReplaceMarkerExpires(t *testing.T) {
	mr, client := newTestRedis(t)
	m := NewReplaceMarker(client, 5)
	ctx := context.Background()

	_, err := m.Mark(ctx, "ns1", "run-a")
	require.NoError(t, err)
	mr.FastForward(6 * time.Second)

	stale, err := m.Mark(ctx, "ns1", "run-b")
	require.NoError(t, err)
	assert.False(t, stale)
}

func TestReplaceMarkerReportsConnectionErrors(t *testing.T) {
	mr, client := newTestRedis(t)
	m := NewReplaceMarker(client, 0)
	mr.Close()

	_, err := m.Mark(context.Background(), "ns1", "run-a")
	assert.Error(t, err)
}

func TestReplaceMarkerClearOnlyRemovesOwnMarker(t *testing.T) {
	mr, client := newTestRedis(t)
	m := NewReplaceMarker(client, 60)
	ctx := context.Background()

	// 同一文档两次入库交错：a 先写标记，b 接管，a 先结束
	_, err := m.Mark(ctx, "ns1", "run-a")
	require.NoError(t, err)
	stale, err := m.Mark(ctx, "ns1", "run-b")
	require.NoError(t, err)
	assert.True(t, stale)

	require.NoError(t, m.Clear(ctx, "ns1", "run-a"))
	assert.True(t, mr.Exists("docqa:replacing:ns1"))
	got, err := mr.Get("docqa:replacing:ns1")
	require.NoError(t, err)
	assert.Equal(t, "run-b", got)

	require.NoError(t, m.Clear(ctx, "ns1", "run-b"))
	assert.False(t, mr.Exists("docqa:replacing:ns1"))

	// 标记不存在时 Clear 是空操作
	require.NoError(t, m.Clear(ctx, "ns1", "run-b"))
}

func TestEmbeddingCacheKeysIncludeModelAndDims(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()

	old := NewEmbeddingCache(client, "small", 4, 0)
	old.Set(ctx, "h1", []float32{1, 2, 3, 4})
	assert.True(t, mr.Exists("docqa:emb:small:4:h1"))

	current := NewEmbeddingCache(client, "small", 8, 0)
	_, ok := current.Get(ctx, "h1")
	assert.False(t, ok)
}

func TestEmbeddingCacheSetGetClear(t *testing.T) {
	mr, client := newTestRedis(t)
	c := NewEmbeddingCache(client, "m", 2, 3600)
	ctx := context.Background()

	_, ok := c.Get(ctx, "missing")
	assert.False(t, ok)

	c.Set(ctx, "h1", []float32{0.25, -1.5})
	c.Set(ctx, "h2", []float32{1})
	require.NoError(t, mr.Set("unrelated", "keep"))

	v, ok := c.Get(ctx, "h1")
	require.True(t, ok)
	assert.Equal(t, []float32{0.25, -1.5}, v)
	assert.Equal(t, time.Hour, mr.TTL("docqa:emb:m:2:h1"))

	// 其他模型留下的条目也被清除
	require.NoError(t, mr.Set("docqa:emb:old-model:4:h1", "[1,2,3,4]"))
	require.NoError(t, c.Clear(ctx))
	_, ok = c.Get(ctx, "h1")
	assert.False(t, ok)
	assert.False(t, mr.Exists("docqa:emb:old-model:4:h1"))
	assert.True(t, mr.Exists("unrelated"))
}

func TestEmbeddingCacheIgnoresCorruptEntries(t *testing.T) {
	mr, client := newTestRedis(t)
	c := NewEmbeddingCache(client, "m", 2, 0)
	require.NoError(t, mr.Set("docqa:emb:m:2:bad", "not json"))

	_, ok := c.Get(context.Background(), "bad")
	assert.False(t, ok)
}

func TestEmbeddingCacheBacksDomainCache(t *testing.T) {
	_, client := newTestRedis(t)
	store := NewEmbeddingCache(client, "m", 1, 0)
	ctx := context.Background()

	first, err := domainrag.NewEmbeddingCache(10)
	require.NoError(t, err)
	first.SetStore(store)
	first.Set(ctx, "k", []float32{3})

	// 另一个进程的 L1 为空，从 Redis 取到
	second, err := domainrag.NewEmbeddingCache(10)
	require.NoError(t, err)
	second.SetStore(store)
	v, ok := second.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []float32{3}, v)
	assert.Equal(t, 1, second.Len())
}
