package rag

import (
	"context"
	"sync"
)

// MemoryReplaceMarker 进程内替换标记，未配置 Redis 时使用。
// 只能识别同一进程内中断的替换（例如 upsert 失败），跨进程重启需 Redis 实现。
type MemoryReplaceMarker struct {
	mu     sync.Mutex
	marked map[string]string // namespace -> owner
}

// NewMemoryReplaceMarker 创建进程内替换标记
func NewMemoryReplaceMarker() *MemoryReplaceMarker {
	return &MemoryReplaceMarker{marked: make(map[string]string)}
}

func (m *MemoryReplaceMarker) Mark(_ context.Context, namespace, owner string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, stale := m.marked[namespace]
	m.marked[namespace] = owner
	return stale, nil
}

func (m *MemoryReplaceMarker) Clear(_ context.Context, namespace, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.marked[namespace] == owner {
		delete(m.marked, namespace)
	}
	return nil
}

func (m *MemoryReplaceMarker) IsMarked(_ context.Context, namespace string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.marked[namespace]
	return ok, nil
}
