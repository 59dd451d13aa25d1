package rag

import "context"

// VectorStore 向量库后端需要提供的能力。命名空间保存在记录的 document_hash 字段上。
type VectorStore interface {
	// EnsureIndex 以固定维度和余弦距离建索引，已存在则跳过；返回前索引已可读写
	EnsureIndex(ctx context.Context, dims int) error
	Upsert(ctx context.Context, records []ChunkRecord) error
	// Query 仅返回 namespace 内的记录，按分数降序
	Query(ctx context.Context, namespace string, vector []float32, topK int) ([]Match, error)
	DeleteNamespace(ctx context.Context, namespace string) error
	DeleteAll(ctx context.Context) error
	Ping(ctx context.Context) error
}

// EmbeddingCacheStore Embedding 二级缓存（跨进程共享）
type EmbeddingCacheStore interface {
	Get(ctx context.Context, key string) ([]float32, bool)
	Set(ctx context.Context, key string, vector []float32)
	Clear(ctx context.Context) error
}

// ReplaceMarker 命名空间替换的预写标记。
// Mark 在删除旧记录前写入，写入新记录成功后 Clear；进程中途退出时标记残留，
// 下次入库据此识别未完成的替换。
//
// owner 标识一次替换。Clear 只删除 owner 仍是自己的标记：同一文档并发入库时，
// 先结束的一方不会清掉后写入者的标记。并发入库的后来者会把对方的标记报告为
// stale，此时的修复就是正常的删除重写，结果一致。
type ReplaceMarker interface {
	// Mark 写入标记，返回此前是否已有残留标记
	Mark(ctx context.Context, namespace, owner string) (stale bool, err error)
	Clear(ctx context.Context, namespace, owner string) error
	IsMarked(ctx context.Context, namespace string) (bool, error)
}

// DocumentLedger 记录每个命名空间最近一次入库的结果，供管理接口查询
type DocumentLedger interface {
	UpsertDocument(ctx context.Context, rec *DocumentRecord) error
	GetDocument(ctx context.Context, namespace string) (*DocumentRecord, error)
	DeleteDocument(ctx context.Context, namespace string) error
}
