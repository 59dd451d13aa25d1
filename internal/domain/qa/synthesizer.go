package qa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/xeipuuv/gojsonschema"

	applog "docqa/internal/platform/log"
	"docqa/internal/provider"
)

// BackoffKind 重试间隔策略
type BackoffKind string

const (
	BackoffFixed       BackoffKind = "fixed"
	BackoffExponential BackoffKind = "exponential"
)

// SynthesizerConfig 答案生成配置
type SynthesizerConfig struct {
	Model       string
	Temperature float64
	MaxTokens   int
	MaxContext  int           // 传给模型的 chunk 上限
	MaxRetries  int           // 首次调用之外的重试次数
	Backoff     time.Duration // 首次重试前的等待
	BackoffKind BackoffKind
}

// DefaultSynthesizerConfig 默认配置
func DefaultSynthesizerConfig() SynthesizerConfig {
	return SynthesizerConfig{
		Model:       "gpt-4o-mini",
		Temperature: 0.2,
		MaxContext:  5,
		MaxRetries:  2,
		Backoff:     time.Second,
		BackoffKind: BackoffFixed,
	}
}

const answerSchema = `{
  "type": "object",
  "required": ["answer"],
  "properties": {
    "answer":    {"type": "string"},
    "condition": {"type": ["string", "null"]},
    "rationale": {"type": ["string", "null"]}
  }
}`

const systemPrompt = `You are a legal and insurance document assistant. Answer the question using only the provided context chunks.
Respond with a single JSON object and nothing else:
{"answer": "...", "condition": "...", "rationale": "..."}
"answer" is a concise direct answer. "condition" lists any conditions or limits that apply, or an empty string.
"rationale" cites the supporting text. If the context is insufficient, say so in "answer".`

// Synthesizer 基于检索到的上下文调用 LLM 生成答案，带有限次重试。
type Synthesizer struct {
	llm    provider.LLMProvider
	config SynthesizerConfig
	schema *gojsonschema.Schema
}

// NewSynthesizer 创建答案生成器
func NewSynthesizer(llm provider.LLMProvider, cfg SynthesizerConfig) (*Synthesizer, error) {
	def := DefaultSynthesizerConfig()
	if cfg.MaxContext <= 0 {
		cfg.MaxContext = def.MaxContext
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Backoff < 0 {
		cfg.Backoff = 0
	}
	if cfg.BackoffKind == "" {
		cfg.BackoffKind = def.BackoffKind
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(answerSchema))
	if err != nil {
		return nil, fmt.Errorf("compile answer schema: %w", err)
	}
	return &Synthesizer{llm: llm, config: cfg, schema: schema}, nil
}

// Answer 生成答案。
//
// 传输错误、空响应、结构不匹配会按退避策略重试；响应不是 JSON 时直接返回 RawAnswer。
// 最后一次尝试仍结构不匹配时同样退回 RawAnswer。重试耗尽返回 ErrSynthesis。
func (s *Synthesizer) Answer(ctx context.Context, question string, contexts []string) (Answer, error) {
	if len(contexts) > s.config.MaxContext {
		contexts = contexts[:s.config.MaxContext]
	}
	req := &provider.CompletionRequest{
		Model:          s.config.Model,
		Temperature:    s.config.Temperature,
		MaxTokens:      s.config.MaxTokens,
		ResponseFormat: provider.ResponseFormatJSON,
		Messages: []provider.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildUserPrompt(question, contexts)},
		},
	}

	attempts := 0
	op := func() (Answer, error) {
		attempts++
		last := attempts > s.config.MaxRetries

		resp, err := s.llm.Complete(ctx, req)
		if err != nil {
			return nil, err
		}
		content := strings.TrimSpace(resp.Content)
		if content == "" {
			return nil, ErrEmptyResponse
		}

		answer, err := s.parse(content)
		if errors.Is(err, ErrSchemaMismatch) && last {
			applog.Warn("[QA] Schema mismatch on final attempt, using raw text", "attempt", attempts)
			return RawAnswer{Content: content}, nil
		}
		return answer, err
	}

	notify := func(err error, wait time.Duration) {
		applog.Warn("[QA] Answer attempt failed, retrying",
			"attempt", attempts,
			"reason", retryReason(err),
			"wait_ms", wait.Milliseconds(),
			"error", err,
		)
	}

	answer, err := backoff.RetryNotifyWithData(op, s.newBackOff(ctx), notify)
	if err != nil {
		applog.Error("[QA] Answer generation exhausted retries",
			"attempts", attempts,
			"reason", retryReason(err),
			"error", err,
		)
		return nil, fmt.Errorf("%w: %w", ErrSynthesis, err)
	}
	return answer, nil
}

// parse 解析模型输出。非 JSON 返回 RawAnswer；JSON 但不符合结构返回 ErrSchemaMismatch。
func (s *Synthesizer) parse(content string) (Answer, error) {
	body := stripCodeFence(content)
	if !json.Valid([]byte(body)) {
		applog.Warn("[QA] Non-JSON response returned, using raw text")
		return RawAnswer{Content: content}, nil
	}

	result, err := s.schema.Validate(gojsonschema.NewStringLoader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSchemaMismatch, err)
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		return nil, fmt.Errorf("%w: %s", ErrSchemaMismatch, strings.Join(details, "; "))
	}

	var out struct {
		Answer    string  `json:"answer"`
		Condition *string `json:"condition"`
		Rationale *string `json:"rationale"`
	}
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSchemaMismatch, err)
	}
	structured := StructuredAnswer{Answer: out.Answer}
	if out.Condition != nil {
		structured.Condition = *out.Condition
	}
	if out.Rationale != nil {
		structured.Rationale = *out.Rationale
	}
	return structured, nil
}

func (s *Synthesizer) newBackOff(ctx context.Context) backoff.BackOff {
	var b backoff.BackOff
	if s.config.BackoffKind == BackoffExponential {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = s.config.Backoff
		eb.MaxElapsedTime = 0
		eb.Reset()
		b = eb
	} else {
		b = backoff.NewConstantBackOff(s.config.Backoff)
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.config.MaxRetries)), ctx)
}

func buildUserPrompt(question string, contexts []string) string {
	var sb strings.Builder
	sb.WriteString("Question: ")
	sb.WriteString(question)
	sb.WriteString("\n\nContext chunks:\n")
	for _, c := range contexts {
		sb.WriteString("- ")
		sb.WriteString(c)
		sb.WriteString("\n")
	}
	sb.WriteString("\nAnswer with evidence. If the context is insufficient, say so.")
	return sb.String()
}

// stripCodeFence 去掉 ```json ... ``` 包裹
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.Index(s, "\n"); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

func retryReason(err error) string {
	switch {
	case errors.Is(err, ErrEmptyResponse):
		return "empty_response"
	case errors.Is(err, ErrSchemaMismatch):
		return "schema_mismatch"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "deadline"
	default:
		return "transport"
	}
}
