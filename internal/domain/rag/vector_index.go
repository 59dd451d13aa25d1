package rag

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	applog "docqa/internal/platform/log"
)

// VectorIndex 按命名空间隔离的向量索引，封装 VectorStore。
type VectorIndex struct {
	store     VectorStore
	marker    ReplaceMarker
	dims      int
	batchSize int
}

// NewVectorIndex 创建向量索引
func NewVectorIndex(store VectorStore, cfg *Config) *VectorIndex {
	batch := cfg.UpsertBatchSize
	if batch <= 0 {
		batch = DefaultConfig().UpsertBatchSize
	}
	return &VectorIndex{
		store:     store,
		marker:    NewMemoryReplaceMarker(),
		dims:      cfg.EmbeddingDims,
		batchSize: batch,
	}
}

// SetMarker 设置替换标记实现（Redis 版本可跨进程识别中断的替换）
func (v *VectorIndex) SetMarker(m ReplaceMarker) {
	if m != nil {
		v.marker = m
	}
}

// Ping 检查后端是否可用
func (v *VectorIndex) Ping(ctx context.Context) error {
	if err := v.store.Ping(ctx); err != nil {
		return fmt.Errorf("%w: ping: %w", ErrIndex, err)
	}
	return nil
}

// IsReplacing namespace 是否有未清除的替换标记（替换进行中或上次中断）
func (v *VectorIndex) IsReplacing(ctx context.Context, namespace string) (bool, error) {
	return v.marker.IsMarked(ctx, namespace)
}

// EnsureReady 建索引（幂等）并等待可用
func (v *VectorIndex) EnsureReady(ctx context.Context) error {
	if err := v.store.EnsureIndex(ctx, v.dims); err != nil {
		return fmt.Errorf("%w: ensure index: %w", ErrIndex, err)
	}
	return nil
}

// ReplaceNamespace 用 records 整体替换 namespace 下的记录。
//
// 顺序：写标记 -> 删除旧记录 -> 分批写入 -> 清标记。删除失败只记日志，
// 此时标记保留，下次入库会再次清理；写入失败直接返回 ErrIndex。
// 返回值 repaired 表示发现了上次未完成替换的残留标记。
func (v *VectorIndex) ReplaceNamespace(ctx context.Context, namespace string, records []ChunkRecord) (repaired bool, err error) {
	start := time.Now()
	owner := uuid.NewString()

	stale, markErr := v.marker.Mark(ctx, namespace, owner)
	if markErr != nil {
		applog.Warn("[RAG/Index] Failed to set replace marker", "namespace", namespace, "error", markErr)
	}
	if stale {
		applog.Warn("[RAG/Index] Found unfinished replace, repairing", "namespace", namespace)
	}

	deleted := v.DeleteNamespace(ctx, namespace)

	for i := 0; i < len(records); i += v.batchSize {
		end := min(i+v.batchSize, len(records))
		if err := v.store.Upsert(ctx, records[i:end]); err != nil {
			return stale, fmt.Errorf("%w: upsert batch %d-%d: %w", ErrIndex, i, end, err)
		}
	}

	if deleted && markErr == nil {
		if err := v.marker.Clear(ctx, namespace, owner); err != nil {
			applog.Warn("[RAG/Index] Failed to clear replace marker", "namespace", namespace, "error", err)
		}
	}

	applog.Info("[RAG/Index] Namespace replaced",
		"namespace", namespace,
		"records", len(records),
		"batches", (len(records)+v.batchSize-1)/v.batchSize,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return stale, nil
}

// DeleteNamespace 删除 namespace 下所有记录。失败只记日志，返回是否成功。
func (v *VectorIndex) DeleteNamespace(ctx context.Context, namespace string) bool {
	if err := v.store.DeleteNamespace(ctx, namespace); err != nil {
		applog.Warn("[RAG/Index] Namespace cleanup failed", "namespace", namespace, "error", err)
		return false
	}
	return true
}

// Search 在 namespace 内做 top-K 相似度检索
func (v *VectorIndex) Search(ctx context.Context, namespace string, vector []float32, topK int) ([]Match, error) {
	matches, err := v.store.Query(ctx, namespace, vector, topK)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %w", ErrIndex, err)
	}
	return matches, nil
}

// Reset 删除索引内所有记录
func (v *VectorIndex) Reset(ctx context.Context) error {
	if err := v.store.DeleteAll(ctx); err != nil {
		return fmt.Errorf("%w: delete all: %w", ErrIndex, err)
	}
	applog.Info("[RAG/Index] All records deleted")
	return nil
}
