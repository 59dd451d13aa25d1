package rag

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ParserRegistry 文档解析器注册表，按扩展名索引
type ParserRegistry struct {
	mu      sync.RWMutex
	parsers map[string]Parser // key = ".ext"
}

// NewParserRegistry 创建注册表并注册 PDF / DOCX 解析器
func NewParserRegistry() *ParserRegistry {
	r := &ParserRegistry{
		parsers: make(map[string]Parser),
	}
	r.Register(&PDFParser{})
	r.Register(&DOCXParser{})
	return r
}

// Register 注册解析器，同扩展名后注册的覆盖先注册的
func (r *ParserRegistry) Register(p Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ext := range p.SupportedTypes() {
		r.parsers[strings.ToLower(ext)] = p
	}
}

// Get 根据扩展名获取解析器
func (r *ParserRegistry) Get(ext string) (Parser, error) {
	ext = strings.ToLower(ext)

	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.parsers[ext]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported document type %q (supported: %s)", ErrExtraction, ext, r.supportedLocked())
	}
	return p, nil
}

// SupportedTypes 返回所有支持的扩展名
func (r *ParserRegistry) SupportedTypes() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.supportedLocked()
}

func (r *ParserRegistry) supportedLocked() string {
	types := make([]string, 0, len(r.parsers))
	for ext := range r.parsers {
		types = append(types, ext)
	}
	sort.Strings(types)
	return strings.Join(types, ", ")
}
