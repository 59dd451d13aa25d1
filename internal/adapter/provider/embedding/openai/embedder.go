package openai

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"docqa/internal/domain/rag"
	applog "docqa/internal/platform/log"
)

const (
	DefaultModel     = "text-embedding-3-small"
	DefaultBatchSize = 64
)

// Config OpenAI 兼容 Embedding 服务配置
type Config struct {
	APIKey    string
	BaseURL   string // 为空使用官方地址
	Model     string
	Dims      int // >0 时请求指定维度
	BatchSize int // 单次请求的最大文本数
	Timeout   time.Duration
}

// Embedder 调用 /embeddings 生成向量
type Embedder struct {
	client    openai.Client
	model     string
	dims      int
	batchSize int
}

// New 创建 Embedder
func New(cfg Config) *Embedder {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}

	return &Embedder{
		client:    openai.NewClient(opts...),
		model:     cfg.Model,
		dims:      cfg.Dims,
		batchSize: cfg.BatchSize,
	}
}

// Embed 按 BatchSize 分批请求，返回与 texts 对齐的向量
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		vectors, err := e.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	return out, nil
}

func (e *Embedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
	}
	if e.dims > 0 {
		params.Dimensions = openai.Int(int64(e.dims))
	}

	start := time.Now()
	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding response has %d items for %d inputs", len(resp.Data), len(texts))
	}

	// 按 index 回填，不依赖响应顺序
	vectors := make([][]float32, len(texts))
	for _, data := range resp.Data {
		idx := int(data.Index)
		if idx < 0 || idx >= len(texts) {
			return nil, fmt.Errorf("embedding response index %d out of range", idx)
		}
		v := make([]float32, len(data.Embedding))
		for i, f := range data.Embedding {
			v[i] = float32(f)
		}
		vectors[idx] = v
	}
	for i, v := range vectors {
		if v == nil {
			return nil, fmt.Errorf("embedding response missing index %d", i)
		}
	}

	applog.Debug("[Embedding] Batch embedded",
		"model", e.model,
		"inputs", len(texts),
		"tokens", resp.Usage.TotalTokens,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return vectors, nil
}

// Dims 返回配置的向量维度
func (e *Embedder) Dims() int {
	return e.dims
}

var _ rag.Embedder = (*Embedder)(nil)
