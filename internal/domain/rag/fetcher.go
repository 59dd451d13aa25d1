package rag

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	applog "docqa/internal/platform/log"
)

// FetcherConfig 文档下载配置
type FetcherConfig struct {
	Timeout     time.Duration
	MaxFileSize int64 // 字节，0=不限
	UserAgent   string
}

// DefaultFetcherConfig 默认下载配置
func DefaultFetcherConfig() FetcherConfig {
	return FetcherConfig{
		Timeout:     15 * time.Second,
		MaxFileSize: 50 << 20,
		UserAgent:   "Mozilla/5.0 (Windows NT 10.0; Win64; x64)",
	}
}

// FetchedDocument 下载结果
type FetchedDocument struct {
	URL         string
	ContentType string
	Data        []byte
}

// Fetcher 通过 HTTP GET 下载文档
type Fetcher struct {
	config FetcherConfig
	client *http.Client
}

// NewFetcher 创建下载器
func NewFetcher(cfg FetcherConfig) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultFetcherConfig().Timeout
	}
	return &Fetcher{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Fetch 下载文档。网络错误、非 2xx 状态、超出大小上限都返回 ErrFetch。
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*FetchedDocument, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid document url %q", ErrFetch, rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %w", ErrFetch, err)
	}
	if f.config.UserAgent != "" {
		req.Header.Set("User-Agent", f.config.UserAgent)
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrFetch, resp.StatusCode)
	}

	body := io.Reader(resp.Body)
	if f.config.MaxFileSize > 0 {
		body = io.LimitReader(resp.Body, f.config.MaxFileSize+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrFetch, err)
	}
	if f.config.MaxFileSize > 0 && int64(len(data)) > f.config.MaxFileSize {
		return nil, fmt.Errorf("%w: document exceeds %d bytes", ErrFetch, f.config.MaxFileSize)
	}

	applog.Info("[RAG/Fetch] Document downloaded",
		"url", rawURL,
		"bytes", len(data),
		"content_type", resp.Header.Get("Content-Type"),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return &FetchedDocument{
		URL:         rawURL,
		ContentType: resp.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

// DetectType 依次根据 URL 扩展名、Content-Type、文件头魔数判断类型，返回 ".pdf" / ".docx"。
// 扩展名不是这两种时（如 download.php）继续往下判断。
func DetectType(doc *FetchedDocument) (string, error) {
	if u, err := url.Parse(doc.URL); err == nil {
		switch ext := strings.ToLower(path.Ext(u.Path)); ext {
		case ".pdf", ".docx":
			return ext, nil
		}
	}

	ct := strings.ToLower(doc.ContentType)
	switch {
	case strings.Contains(ct, "pdf"):
		return ".pdf", nil
	case strings.Contains(ct, "word"), strings.Contains(ct, "officedocument"):
		return ".docx", nil
	}

	switch {
	case bytes.HasPrefix(doc.Data, []byte("%PDF")):
		return ".pdf", nil
	case bytes.HasPrefix(doc.Data, []byte("PK")):
		return ".docx", nil
	}
	return "", fmt.Errorf("%w: unable to determine document type", ErrFetch)
}

// DocumentLoader 下载并提取文档正文
type DocumentLoader struct {
	fetcher *Fetcher
	parsers *ParserRegistry
}

// NewDocumentLoader 创建文档加载器
func NewDocumentLoader(fetcher *Fetcher, parsers *ParserRegistry) *DocumentLoader {
	return &DocumentLoader{fetcher: fetcher, parsers: parsers}
}

// Load 返回文档纯文本。类型无法识别时返回 ErrFetch，解析失败或正文为空时返回 ErrExtraction。
func (l *DocumentLoader) Load(ctx context.Context, rawURL string) (string, error) {
	doc, err := l.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return "", err
	}

	ext, err := DetectType(doc)
	if err != nil {
		return "", err
	}
	parser, err := l.parsers.Get(ext)
	if err != nil {
		return "", err
	}

	result, err := parser.Parse(bytes.NewReader(doc.Data), "document"+ext)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrExtraction, err)
	}
	if strings.TrimSpace(result.Content) == "" {
		return "", fmt.Errorf("%w: no text content extracted from document", ErrExtraction)
	}
	return result.Content, nil
}
