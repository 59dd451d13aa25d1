// Package memory 进程内向量存储，用于本地开发和测试。
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	domainrag "docqa/internal/domain/rag"
)

// VectorStore 暴力余弦检索的内存实现
type VectorStore struct {
	mu      sync.RWMutex
	dims    int
	records map[string]domainrag.ChunkRecord
}

// NewVectorStore 创建内存向量存储
func NewVectorStore() *VectorStore {
	return &VectorStore{records: make(map[string]domainrag.ChunkRecord)}
}

func (s *VectorStore) EnsureIndex(_ context.Context, dims int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dims == 0 {
		s.dims = dims
	}
	return nil
}

func (s *VectorStore) Upsert(_ context.Context, records []domainrag.ChunkRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		if s.dims > 0 && len(r.Vector) != s.dims {
			return fmt.Errorf("record %s has %d dims, index expects %d", r.ID, len(r.Vector), s.dims)
		}
		s.records[r.ID] = r
	}
	return nil
}

func (s *VectorStore) Query(_ context.Context, namespace string, vector []float32, topK int) ([]domainrag.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := make([]domainrag.Match, 0)
	for _, r := range s.records {
		if r.Metadata.DocumentHash != namespace {
			continue
		}
		matches = append(matches, domainrag.Match{
			ID:         r.ID,
			Text:       r.Metadata.Text,
			ChunkIndex: r.Metadata.ChunkIndex,
			Score:      cosine(vector, r.Vector),
		})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score == matches[j].Score {
			return matches[i].ChunkIndex < matches[j].ChunkIndex
		}
		return matches[i].Score > matches[j].Score
	})
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (s *VectorStore) DeleteNamespace(_ context.Context, namespace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, r := range s.records {
		if r.Metadata.DocumentHash == namespace {
			delete(s.records, id)
		}
	}
	return nil
}

func (s *VectorStore) DeleteAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]domainrag.ChunkRecord)
	return nil
}

func (s *VectorStore) Ping(context.Context) error { return nil }

// IDs 返回 namespace 下的全部记录 ID（按 ID 排序）
func (s *VectorStore) IDs(namespace string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, r := range s.records {
		if r.Metadata.DocumentHash == namespace {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Len 记录总数
func (s *VectorStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

var _ domainrag.VectorStore = (*VectorStore)(nil)
