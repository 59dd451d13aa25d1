package rag

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	applog "docqa/internal/platform/log"
)

// Pipeline 入库（embed + 替换命名空间）与检索（query embed + 搜索）。
type Pipeline struct {
	config   *Config
	chunker  *Chunker
	embedder Embedder
	cache    *EmbeddingCache
	index    *VectorIndex
	limiter  *rate.Limiter // 可选
}

// NewPipeline 创建检索 Pipeline。chunk 参数非法时返回 ErrInvalidConfiguration。
func NewPipeline(cfg *Config, embedder Embedder, cache *EmbeddingCache, index *VectorIndex) (*Pipeline, error) {
	chunker, err := NewChunker(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	p := &Pipeline{
		config:   cfg,
		chunker:  chunker,
		embedder: embedder,
		cache:    cache,
		index:    index,
	}
	cache.SetDims(cfg.EmbeddingDims)
	if cfg.HasRateLimit() {
		p.limiter = rate.NewLimiter(rate.Limit(cfg.EmbeddingRPS), max(1, cfg.EmbeddingWorkers))
	}
	return p, nil
}

// Chunker 返回分块器
func (p *Pipeline) Chunker() *Chunker { return p.chunker }

// Cache 返回 Embedding 缓存
func (p *Pipeline) Cache() *EmbeddingCache { return p.cache }

// Ingest 为 chunks 生成向量并替换文档命名空间下的全部记录。
// 已缓存的 chunk 不再调用 Embedding 服务，最终向量按 chunk 原顺序组装。
func (p *Pipeline) Ingest(ctx context.Context, doc Document, chunks []string) (*IngestResult, error) {
	start := time.Now()
	ns := doc.Namespace()

	vectors, hits, embedded, err := p.embedChunks(ctx, chunks)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	records := make([]ChunkRecord, len(chunks))
	for i, text := range chunks {
		records[i] = ChunkRecord{
			ID:     ChunkID(ns, i, ContentHash(text)),
			Vector: vectors[i],
			Metadata: ChunkMetadata{
				Text:         text,
				ChunkIndex:   i,
				DocumentHash: ns,
				DocumentURL:  doc.URL,
				Timestamp:    now,
			},
		}
	}

	repaired, err := p.index.ReplaceNamespace(ctx, ns, records)
	if err != nil {
		return nil, err
	}

	result := &IngestResult{
		Namespace:  ns,
		ChunkCount: len(chunks),
		CacheHits:  hits,
		Embedded:   embedded,
		Repaired:   repaired,
		ElapsedMs:  time.Since(start).Milliseconds(),
	}
	applog.Info("[RAG] Document ingested",
		"namespace", ns,
		"chunks", result.ChunkCount,
		"cache_hits", hits,
		"embedded", embedded,
		"mode", p.config.EmbeddingMode,
		"elapsed_ms", result.ElapsedMs,
	)
	return result, nil
}

// embedChunks 返回与 chunks 对齐的向量、缓存命中数和实际生成数。
// 同一文档内重复的文本只生成一次。
func (p *Pipeline) embedChunks(ctx context.Context, chunks []string) ([][]float32, int, int, error) {
	vectors := make([][]float32, len(chunks))
	missing := make(map[string][]int) // content hash -> chunk 位置
	var order []string
	hits := 0

	for i, text := range chunks {
		key := ContentHash(text)
		if v, ok := p.cache.Get(ctx, key); ok {
			vectors[i] = v
			hits++
			continue
		}
		if _, seen := missing[key]; !seen {
			order = append(order, key)
		}
		missing[key] = append(missing[key], i)
	}
	if len(order) == 0 {
		return vectors, hits, 0, nil
	}

	texts := make([]string, len(order))
	for j, key := range order {
		texts[j] = chunks[missing[key][0]]
	}

	var fresh [][]float32
	var err error
	if p.config.EmbeddingMode == EmbeddingModeParallel {
		fresh, err = p.embedParallel(ctx, order, texts)
	} else {
		fresh, err = p.embedBatch(ctx, order, texts)
	}
	if err != nil {
		return nil, 0, 0, err
	}

	for j, key := range order {
		for _, i := range missing[key] {
			vectors[i] = fresh[j]
		}
	}
	return vectors, hits, len(order), nil
}

// embedBatch 一次调用生成全部未命中文本的向量
func (p *Pipeline) embedBatch(ctx context.Context, keys, texts []string) ([][]float32, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	out, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: batch of %d: %w", ErrEmbedding, len(texts), err)
	}
	if len(out) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbedding, len(out), len(texts))
	}
	for j, v := range out {
		if err := p.checkDims(v); err != nil {
			return nil, err
		}
		p.cache.Set(ctx, keys[j], v)
	}
	return out, nil
}

// embedParallel 每个文本单独调用，并发数受 EmbeddingWorkers 限制
func (p *Pipeline) embedParallel(ctx context.Context, keys, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, p.config.EmbeddingWorkers))

	for j := range texts {
		g.Go(func() error {
			v, err := p.cache.GetOrCompute(gctx, keys[j], func(ctx context.Context) ([]float32, error) {
				return p.embedOne(ctx, texts[j])
			})
			if err != nil {
				return err
			}
			out[j] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Pipeline) embedOne(ctx context.Context, text string) ([]float32, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	out, err := p.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbedding, err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("%w: got %d vectors for 1 text", ErrEmbedding, len(out))
	}
	if err := p.checkDims(out[0]); err != nil {
		return nil, err
	}
	return out[0], nil
}

func (p *Pipeline) checkDims(v []float32) error {
	if p.config.EmbeddingDims > 0 && len(v) != p.config.EmbeddingDims {
		return fmt.Errorf("%w: vector has %d dims, index expects %d", ErrEmbedding, len(v), p.config.EmbeddingDims)
	}
	return nil
}

func (p *Pipeline) wait(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limiter: %w", ErrEmbedding, err)
	}
	return nil
}

// Retrieve 返回与 query 最相关的 chunk 文本（最多 topK 条，topK<=0 用默认值）。
// 配置了 ScoreThreshold 时丢弃低于阈值的命中。
func (p *Pipeline) Retrieve(ctx context.Context, doc Document, query string, topK int) ([]string, error) {
	matches, err := p.RetrieveMatches(ctx, doc, query, topK)
	if err != nil {
		return nil, err
	}
	texts := make([]string, len(matches))
	for i, m := range matches {
		texts[i] = m.Text
	}
	return texts, nil
}

// RetrieveMatches 同 Retrieve，保留分数与 chunk 序号
func (p *Pipeline) RetrieveMatches(ctx context.Context, doc Document, query string, topK int) ([]Match, error) {
	if topK <= 0 {
		topK = p.config.DefaultTopK
	}
	ns := doc.Namespace()

	vector, err := p.cache.GetOrCompute(ctx, ContentHash(query), func(ctx context.Context) ([]float32, error) {
		return p.embedOne(ctx, query)
	})
	if err != nil {
		return nil, err
	}

	matches, err := p.index.Search(ctx, ns, vector, topK)
	if err != nil {
		return nil, err
	}

	if p.config.HasScoreThreshold() {
		kept := matches[:0]
		for _, m := range matches {
			if m.Score >= p.config.ScoreThreshold {
				kept = append(kept, m)
			}
		}
		if dropped := len(matches) - len(kept); dropped > 0 {
			applog.Debug("[RAG] Matches below score threshold dropped",
				"namespace", ns,
				"dropped", dropped,
				"threshold", p.config.ScoreThreshold,
			)
		}
		matches = kept
	}

	applog.Debug("[RAG] Retrieved", "namespace", ns, "top_k", topK, "matches", len(matches))
	return matches, nil
}

// DeleteDocument 删除文档命名空间，失败只记日志。
func (p *Pipeline) DeleteDocument(ctx context.Context, doc Document) bool {
	return p.index.DeleteNamespace(ctx, doc.Namespace())
}

// IsReplacing 文档命名空间是否处于替换中（或上次替换中断）
func (p *Pipeline) IsReplacing(ctx context.Context, doc Document) (bool, error) {
	return p.index.IsReplacing(ctx, doc.Namespace())
}

// Ping 检查向量库是否可用
func (p *Pipeline) Ping(ctx context.Context) error {
	return p.index.Ping(ctx)
}

// Reset 清空索引和 Embedding 缓存
func (p *Pipeline) Reset(ctx context.Context) error {
	if err := p.index.Reset(ctx); err != nil {
		return err
	}
	if err := p.cache.Clear(ctx); err != nil {
		applog.Warn("[RAG] Failed to clear embedding cache store", "error", err)
	}
	return nil
}
