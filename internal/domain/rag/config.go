package rag

import (
	"fmt"
	"strings"
)

// VectorBackend 向量库后端
type VectorBackend string

const (
	VectorBackendOpenSearch VectorBackend = "opensearch"
	VectorBackendPGVector   VectorBackend = "pgvector"
	VectorBackendMemory     VectorBackend = "memory"
)

// EmbeddingMode 入库时 chunk 向量的生成方式
type EmbeddingMode string

const (
	// EmbeddingModeBatch 未命中缓存的 chunk 合并为一次批量调用
	EmbeddingModeBatch EmbeddingMode = "batch"
	// EmbeddingModeParallel 每个 chunk 单独调用，受 worker 上限约束
	EmbeddingModeParallel EmbeddingMode = "parallel"
)

// SuggestedScoreThreshold 建议的相似度下限。默认不启用，见 Config.ScoreThreshold。
const SuggestedScoreThreshold = 0.3

// Config RAG 模块配置
type Config struct {
	VectorBackend VectorBackend `json:"vector_backend" yaml:"vector_backend"`

	// OpenSearch 连接
	OpenSearchURL      string `json:"opensearch_url" yaml:"opensearch_url"`
	OpenSearchUsername string `json:"opensearch_username" yaml:"opensearch_username"`
	OpenSearchPassword string `json:"opensearch_password" yaml:"opensearch_password"`
	IndexName          string `json:"index_name" yaml:"index_name"`

	// Embedding
	EmbeddingModel       string        `json:"embedding_model" yaml:"embedding_model"`
	EmbeddingDims        int           `json:"embedding_dims" yaml:"embedding_dims"`
	EmbeddingMode        EmbeddingMode `json:"embedding_mode" yaml:"embedding_mode"`
	EmbeddingWorkers     int           `json:"embedding_workers" yaml:"embedding_workers"`
	EmbeddingBatchSize   int           `json:"embedding_batch_size" yaml:"embedding_batch_size"`
	EmbeddingRPS         float64       `json:"embedding_rps" yaml:"embedding_rps"` // 0=不限速
	EmbeddingTimeoutSecs int           `json:"embedding_timeout_seconds" yaml:"embedding_timeout_seconds"`

	// Embedding 缓存
	EmbeddingCacheSize int `json:"embedding_cache_size" yaml:"embedding_cache_size"`
	EmbeddingCacheTTL  int `json:"embedding_cache_ttl" yaml:"embedding_cache_ttl"` // Redis 二级缓存 TTL（秒），0=不过期

	// Chunker
	ChunkSize    int `json:"chunk_size" yaml:"chunk_size"`
	ChunkOverlap int `json:"chunk_overlap" yaml:"chunk_overlap"`

	// 检索
	DefaultTopK int `json:"default_top_k" yaml:"default_top_k"`
	// ScoreThreshold 低于该分数的命中被丢弃；0 表示信任后端 top-K 全部结果。
	ScoreThreshold float64 `json:"score_threshold" yaml:"score_threshold"`

	// 写入
	UpsertBatchSize  int `json:"upsert_batch_size" yaml:"upsert_batch_size"`
	ReplaceMarkerTTL int `json:"replace_marker_ttl" yaml:"replace_marker_ttl"` // 秒
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		VectorBackend:        VectorBackendOpenSearch,
		IndexName:            "docqa_chunks",
		EmbeddingModel:       "text-embedding-3-small",
		EmbeddingDims:        768,
		EmbeddingMode:        EmbeddingModeBatch,
		EmbeddingWorkers:     5,
		EmbeddingBatchSize:   64,
		EmbeddingTimeoutSecs: 60,
		EmbeddingCacheSize:   10000,
		ChunkSize:            800,
		ChunkOverlap:         150,
		DefaultTopK:          5,
		UpsertBatchSize:      100,
		ReplaceMarkerTTL:     600,
	}
}

// Normalize 填充零值字段，统一大小写。
func (c *Config) Normalize() {
	def := DefaultConfig()
	c.VectorBackend = VectorBackend(strings.ToLower(strings.TrimSpace(string(c.VectorBackend))))
	if c.VectorBackend == "" {
		c.VectorBackend = def.VectorBackend
	}
	c.EmbeddingMode = EmbeddingMode(strings.ToLower(strings.TrimSpace(string(c.EmbeddingMode))))
	if c.EmbeddingMode == "" {
		c.EmbeddingMode = def.EmbeddingMode
	}
	if c.IndexName == "" {
		c.IndexName = def.IndexName
	}
	if c.EmbeddingWorkers <= 0 {
		c.EmbeddingWorkers = def.EmbeddingWorkers
	}
	if c.EmbeddingBatchSize <= 0 {
		c.EmbeddingBatchSize = def.EmbeddingBatchSize
	}
	if c.EmbeddingTimeoutSecs <= 0 {
		c.EmbeddingTimeoutSecs = def.EmbeddingTimeoutSecs
	}
	if c.DefaultTopK <= 0 {
		c.DefaultTopK = def.DefaultTopK
	}
	if c.UpsertBatchSize <= 0 {
		c.UpsertBatchSize = def.UpsertBatchSize
	}
	if c.ReplaceMarkerTTL <= 0 {
		c.ReplaceMarkerTTL = def.ReplaceMarkerTTL
	}
}

// Validate 校验参数组合，错误包装 ErrInvalidConfiguration。
func (c *Config) Validate() error {
	switch c.VectorBackend {
	case VectorBackendOpenSearch, VectorBackendPGVector, VectorBackendMemory:
	default:
		return fmt.Errorf("%w: unknown vector backend %q", ErrInvalidConfiguration, c.VectorBackend)
	}
	switch c.EmbeddingMode {
	case EmbeddingModeBatch, EmbeddingModeParallel:
	default:
		return fmt.Errorf("%w: unknown embedding mode %q", ErrInvalidConfiguration, c.EmbeddingMode)
	}
	if c.EmbeddingDims <= 0 {
		return fmt.Errorf("%w: embedding dims must be positive", ErrInvalidConfiguration)
	}
	if c.ScoreThreshold < 0 || c.ScoreThreshold > 1 {
		return fmt.Errorf("%w: score threshold must be within [0, 1]", ErrInvalidConfiguration)
	}
	return validateChunking(c.ChunkSize, c.ChunkOverlap)
}

// HasScoreThreshold 是否启用分数过滤
func (c *Config) HasScoreThreshold() bool {
	return c.ScoreThreshold > 0
}

// HasRateLimit 是否限制 Embedding 调用频率
func (c *Config) HasRateLimit() bool {
	return c.EmbeddingRPS > 0
}
