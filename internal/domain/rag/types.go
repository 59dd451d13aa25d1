package rag

import "time"

// Document 待问答的文档，仅以来源 URL 标识。
type Document struct {
	URL string `json:"url"`
}

// Namespace 文档所属分区
func (d Document) Namespace() string {
	return Namespace(d.URL)
}

// ChunkMetadata 与向量一起存储的元数据
type ChunkMetadata struct {
	Text         string    `json:"text"`
	ChunkIndex   int       `json:"chunk_index"`
	DocumentHash string    `json:"document_hash"` // 即 namespace
	DocumentURL  string    `json:"document_url"`
	Timestamp    time.Time `json:"timestamp"`
}

// ChunkRecord 写入向量库的一条记录
type ChunkRecord struct {
	ID       string        `json:"id"`
	Vector   []float32     `json:"vector"`
	Metadata ChunkMetadata `json:"metadata"`
}

// Match 一条检索命中
type Match struct {
	ID         string  `json:"id"`
	Text       string  `json:"text"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float64 `json:"score"`
}

// IngestResult 入库结果
type IngestResult struct {
	Namespace  string `json:"namespace"`
	ChunkCount int    `json:"chunk_count"`
	CacheHits  int    `json:"cache_hits"`
	Embedded   int    `json:"embedded"`
	Repaired   bool   `json:"repaired"` // 上次替换中断，本次已修复
	ElapsedMs  int64  `json:"elapsed_ms"`
}

// DocumentStatus 文档入库状态
type DocumentStatus string

const (
	DocumentStatusIndexed  DocumentStatus = "indexed"
	DocumentStatusRepaired DocumentStatus = "repaired"
)

// DocumentRecord 入库台账中的一行
type DocumentRecord struct {
	Namespace  string         `json:"namespace"`
	URL        string         `json:"url"`
	ChunkCount int            `json:"chunk_count"`
	Status     DocumentStatus `json:"status"`
	LastRunID  string         `json:"last_run_id"`
	UpdatedAt  time.Time      `json:"updated_at"`
}
