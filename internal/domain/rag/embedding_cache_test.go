package rag

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapCacheStore struct {
	mu      sync.Mutex
	data    map[string][]float32
	cleared int
}

func newMapCacheStore() *mapCacheStore {
	return &mapCacheStore{data: make(map[string][]float32)}
}

func (s *mapCacheStore) Get(_ context.Context, key string) ([]float32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok
}

func (s *mapCacheStore) Set(_ context.Context, key string, v []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = v
}

func (s *mapCacheStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string][]float32)
	s.cleared++
	return nil
}

func TestEmbeddingCacheHitSkipsCompute(t *testing.T) {
	ctx := context.Background()
	cache, err := NewEmbeddingCache(10)
	require.NoError(t, err)

	var calls int
	compute := func(context.Context) ([]float32, error) {
		calls++
		return []float32{1, 2, 3}, nil
	}

	v1, err := cache.GetOrCompute(ctx, "k", compute)
	require.NoError(t, err)
	v2, err := cache.GetOrCompute(ctx, "k", compute)
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, v1, v2)
}

func TestEmbeddingCacheComputeErrorNotStored(t *testing.T) {
	ctx := context.Background()
	cache, err := NewEmbeddingCache(10)
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = cache.GetOrCompute(ctx, "k", func(context.Context) ([]float32, error) { return nil, boom })
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, cache.Len())
}

func TestEmbeddingCacheEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	cache, err := NewEmbeddingCache(2)
	require.NoError(t, err)

	cache.Set(ctx, "a", []float32{1})
	cache.Set(ctx, "b", []float32{2})
	_, ok := cache.Get(ctx, "a") // a 变为最近使用
	require.True(t, ok)
	cache.Set(ctx, "c", []float32{3})

	_, ok = cache.Get(ctx, "b")
	assert.False(t, ok, "b should be evicted")
	_, ok = cache.Get(ctx, "a")
	assert.True(t, ok)
	assert.Equal(t, 2, cache.Len())
}

func TestEmbeddingCacheFallsBackToStore(t *testing.T) {
	ctx := context.Background()
	store := newMapCacheStore()
	store.data["warm"] = []float32{9, 9}

	cache, err := NewEmbeddingCache(10)
	require.NoError(t, err)
	cache.SetStore(store)

	v, err := cache.GetOrCompute(ctx, "warm", func(context.Context) ([]float32, error) {
		t.Fatal("compute should not run on L2 hit")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []float32{9, 9}, v)
	assert.Equal(t, 1, cache.Len())

	_, err = cache.GetOrCompute(ctx, "cold", func(context.Context) ([]float32, error) { return []float32{1}, nil })
	require.NoError(t, err)
	assert.Contains(t, store.data, "cold")

	require.NoError(t, cache.Clear(ctx))
	assert.Equal(t, 0, cache.Len())
	assert.Equal(t, 1, store.cleared)
	assert.Empty(t, store.data)
}

func TestEmbeddingCacheConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	cache, err := NewEmbeddingCache(1000)
	require.NoError(t, err)

	var calls atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := fmt.Sprintf("k%d", i%10)
			v, err := cache.GetOrCompute(ctx, key, func(context.Context) ([]float32, error) {
				calls.Add(1)
				return []float32{float32(i % 10)}, nil
			})
			assert.NoError(t, err)
			assert.Equal(t, []float32{float32(i % 10)}, v)
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, cache.Len())
	assert.GreaterOrEqual(t, calls.Load(), int64(10))
}

func TestEmbeddingCacheTreatsWrongDimsAsMiss(t *testing.T) {
	ctx := context.Background()
	store := newMapCacheStore()
	store.data["old"] = []float32{1, 2, 3, 4}

	cache, err := NewEmbeddingCache(10)
	require.NoError(t, err)
	cache.SetStore(store)
	cache.Set(ctx, "l1", []float32{1, 2, 3, 4})
	cache.SetDims(2)

	_, ok := cache.Get(ctx, "old")
	assert.False(t, ok)
	_, ok = cache.Get(ctx, "l1")
	assert.False(t, ok)

	var calls int
	v, err := cache.GetOrCompute(ctx, "old", func(context.Context) ([]float32, error) {
		calls++
		return []float32{5, 6}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []float32{5, 6}, v)
	assert.Equal(t, 1, calls)
	assert.Equal(t, []float32{5, 6}, store.data["old"])
}
