package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"docqa/internal/domain/qa"
	"docqa/internal/domain/rag"
	applog "docqa/internal/platform/log"
)

const (
	// NoRelevantInfoAnswer 检索结果为空时返回给调用方的固定答案
	NoRelevantInfoAnswer = qa.NoRelevantInfoAnswer

	DefaultRunTimeout = 300 * time.Second
)

var errEmptyQuestion = errors.New("question is empty")

// Loader 下载并提取文档正文
type Loader interface {
	Load(ctx context.Context, url string) (string, error)
}

// Synthesizer 基于上下文生成单个问题的答案
type Synthesizer interface {
	Answer(ctx context.Context, question string, contexts []string) (qa.Answer, error)
}

// Request 一次问答请求
type Request struct {
	Documents string   `json:"documents"`
	Questions []string `json:"questions"`
}

// Response 答案与问题一一对应、顺序一致
type Response struct {
	Answers []string `json:"answers"`
}

// Config 运行器配置
type Config struct {
	Timeout time.Duration // 整个请求的截止时间，0 表示不限制
	TopK    int           // 每个问题检索的 chunk 数，0 用 Pipeline 默认值
}

// Runner 串联 下载 → 分块 → 入库 → 逐题检索与作答。
// 入库完成前的任何错误终止整个请求；之后每个问题的错误只影响该题的答案。
type Runner struct {
	config      Config
	loader      Loader
	pipeline    *rag.Pipeline
	synthesizer Synthesizer
	ledger      rag.DocumentLedger // 可选
}

// New 创建运行器
func New(cfg Config, loader Loader, pipeline *rag.Pipeline, synthesizer Synthesizer) *Runner {
	return &Runner{
		config:      cfg,
		loader:      loader,
		pipeline:    pipeline,
		synthesizer: synthesizer,
	}
}

// SetLedger 设置入库台账（可选）
func (r *Runner) SetLedger(ledger rag.DocumentLedger) {
	r.ledger = ledger
}

// Pipeline 返回检索 Pipeline
func (r *Runner) Pipeline() *rag.Pipeline {
	return r.pipeline
}

// Ledger 返回入库台账，未配置时为 nil
func (r *Runner) Ledger() rag.DocumentLedger {
	return r.ledger
}

// Run 执行一次问答请求
func (r *Runner) Run(ctx context.Context, req Request) (*Response, error) {
	if r.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.Timeout)
		defer cancel()
	}

	runID := uuid.NewString()
	logger := applog.With("run_id", runID)
	start := time.Now()
	doc := rag.Document{URL: req.Documents}
	ns := doc.Namespace()

	logger.Info("[Runner] Received", "namespace", ns, "questions", len(req.Questions))

	text, err := r.loader.Load(ctx, req.Documents)
	if err != nil {
		logger.Error("[Runner] Document load failed", "error", err)
		return nil, err
	}
	logger.Info("[Runner] DocumentFetched", "chars", len(text))

	chunks := r.pipeline.Chunker().Chunk(text)
	if len(chunks) == 0 {
		logger.Error("[Runner] Document produced no chunks")
		return nil, fmt.Errorf("%w: no text chunks produced", rag.ErrExtraction)
	}
	logger.Info("[Runner] Chunked", "chunks", len(chunks))

	result, err := r.pipeline.Ingest(ctx, doc, chunks)
	if err != nil {
		logger.Error("[Runner] Ingestion failed", "error", err)
		return nil, err
	}
	logger.Info("[Runner] Indexed",
		"chunks", result.ChunkCount,
		"cache_hits", result.CacheHits,
		"repaired", result.Repaired,
	)
	r.recordIngestion(ctx, logger, runID, doc, result)

	answers := make([]string, len(req.Questions))
	for i, question := range req.Questions {
		logger.Debug("[Runner] Answering", "index", i)
		answers[i] = r.answerOne(ctx, logger, doc, question)
	}

	logger.Info("[Runner] Completed",
		"answers", len(answers),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return &Response{Answers: answers}, nil
}

// answerOne 单个问题的失败被转换成答案文本，不向上传播
func (r *Runner) answerOne(ctx context.Context, logger *slog.Logger, doc rag.Document, question string) string {
	if strings.TrimSpace(question) == "" {
		return fmt.Sprintf("Error processing question: %v", errEmptyQuestion)
	}

	contexts, err := r.pipeline.Retrieve(ctx, doc, question, r.config.TopK)
	if err != nil {
		logger.Warn("[Runner] Retrieval failed", "error", err)
		return fmt.Sprintf("Error processing question: %v", err)
	}
	if len(contexts) == 0 {
		return NoRelevantInfoAnswer
	}

	answer, err := r.synthesizer.Answer(ctx, question, contexts)
	if err != nil {
		logger.Warn("[Runner] Answer generation failed", "error", err)
		return fmt.Sprintf("Error generating answer: %v", err)
	}
	return answer.Text()
}

func (r *Runner) recordIngestion(ctx context.Context, logger *slog.Logger, runID string, doc rag.Document, result *rag.IngestResult) {
	if r.ledger == nil {
		return
	}
	status := rag.DocumentStatusIndexed
	if result.Repaired {
		status = rag.DocumentStatusRepaired
	}
	rec := &rag.DocumentRecord{
		Namespace:  result.Namespace,
		URL:        doc.URL,
		ChunkCount: result.ChunkCount,
		Status:     status,
		LastRunID:  runID,
		UpdatedAt:  time.Now().UTC(),
	}
	if err := r.ledger.UpsertDocument(ctx, rec); err != nil {
		logger.Warn("[Runner] Failed to record ingestion", "namespace", result.Namespace, "error", err)
	}
}
