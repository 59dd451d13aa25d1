package rag

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	reWhitespace  = regexp.MustCompile(`[\s\p{Z}]+`)
	reDisallowed  = regexp.MustCompile(`[^\p{L}\p{N}\p{Mn}_\s.,;:!?\-()\[\]{}'"/]`)
	reEllipsisRun = regexp.MustCompile(`\.{3,}`)
	reDashRun     = regexp.MustCompile(`-{2,}`)
)

// Chunker 按词滑动窗口切分文本，相邻窗口重叠 overlap 个词。
type Chunker struct {
	size    int // 每块词数
	overlap int // 相邻块重叠词数
}

// NewChunker 创建分块器。overlap >= size 时窗口无法前进，直接拒绝。
func NewChunker(size, overlap int) (*Chunker, error) {
	if err := validateChunking(size, overlap); err != nil {
		return nil, err
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

func validateChunking(size, overlap int) error {
	if size <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidConfiguration, size)
	}
	if overlap < 0 {
		return fmt.Errorf("%w: chunk overlap must not be negative, got %d", ErrInvalidConfiguration, overlap)
	}
	if overlap >= size {
		return fmt.Errorf("%w: chunk overlap (%d) must be smaller than chunk size (%d)", ErrInvalidConfiguration, overlap, size)
	}
	return nil
}

// Size 每块词数
func (c *Chunker) Size() int { return c.size }

// Overlap 重叠词数
func (c *Chunker) Overlap() int { return c.overlap }

// Chunk 返回有序的文本块。文本规整后没有任何词时返回 nil。
func (c *Chunker) Chunk(text string) []string {
	cleaned := NormalizeText(text)
	words := strings.Fields(cleaned)
	if len(words) == 0 {
		return nil
	}
	if len(words) <= c.size {
		return []string{cleaned}
	}

	step := c.size - c.overlap
	chunks := make([]string, 0, ExpectedChunkCount(len(words), c.size, c.overlap))
	for start := 0; start < len(words); start += step {
		end := min(start+c.size, len(words))
		chunks = append(chunks, strings.Join(words[start:end], " "))
		if end >= len(words) {
			break
		}
	}
	return chunks
}

// NormalizeText 折叠空白、替换白名单外字符、压缩连续的 . 和 -，并去掉首尾空白。
func NormalizeText(text string) string {
	text = reWhitespace.ReplaceAllString(text, " ")
	text = reDisallowed.ReplaceAllString(text, " ")
	text = reEllipsisRun.ReplaceAllString(text, "...")
	text = reDashRun.ReplaceAllString(text, "--")
	return strings.TrimSpace(text)
}

// ExpectedChunkCount W 个词在 size/overlap 下产生的块数。
func ExpectedChunkCount(words, size, overlap int) int {
	if words == 0 {
		return 0
	}
	if words <= size {
		return 1
	}
	step := size - overlap
	return (words-size+step-1)/step + 1
}
