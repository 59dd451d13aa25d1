package rag

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func words(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("w%d", i)
	}
	return strings.Join(parts, " ")
}

func TestChunkerRejectsInvalidConfiguration(t *testing.T) {
	tests := []struct {
		name          string
		size, overlap int
	}{
		{"overlap equals size", 100, 100},
		{"overlap larger than size", 100, 150},
		{"zero size", 0, 0},
		{"negative overlap", 100, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewChunker(tt.size, tt.overlap)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfiguration))
		})
	}
}

func TestChunkerThousandWordDocument(t *testing.T) {
	c, err := NewChunker(800, 150)
	require.NoError(t, err)

	chunks := c.Chunk(words(1000))
	require.Len(t, chunks, 2)

	first := strings.Fields(chunks[0])
	second := strings.Fields(chunks[1])
	require.Len(t, first, 800)
	require.Len(t, second, 350)
	assert.Equal(t, "w0", first[0])
	assert.Equal(t, "w799", first[799])
	assert.Equal(t, "w650", second[0])
	assert.Equal(t, "w999", second[349])
}

func TestChunkerCountMatchesFormula(t *testing.T) {
	cases := []struct{ words, size, overlap int }{
		{1, 10, 2},
		{10, 10, 2},
		{11, 10, 2},
		{18, 10, 2},
		{19, 10, 2},
		{100, 10, 9},
		{2500, 800, 150},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("W=%d S=%d O=%d", tc.words, tc.size, tc.overlap), func(t *testing.T) {
			c, err := NewChunker(tc.size, tc.overlap)
			require.NoError(t, err)

			chunks := c.Chunk(words(tc.words))
			want := 1
			if tc.words > tc.size {
				step := tc.size - tc.overlap
				want = (tc.words-tc.size+step-1)/step + 1
			}
			assert.Len(t, chunks, want)
			assert.Equal(t, want, ExpectedChunkCount(tc.words, tc.size, tc.overlap))
		})
	}
}

func TestChunkerCoverageAndOverlap(t *testing.T) {
	const size, overlap = 10, 3
	c, err := NewChunker(size, overlap)
	require.NoError(t, err)

	chunks := c.Chunk(words(47))
	covered := make(map[string]bool)
	for i, chunk := range chunks {
		ws := strings.Fields(chunk)
		for _, w := range ws {
			covered[w] = true
		}
		if i+1 < len(chunks)-1 {
			next := strings.Fields(chunks[i+1])
			assert.Equal(t, ws[len(ws)-overlap:], next[:overlap], "chunk %d overlap", i)
		}
	}
	assert.Len(t, covered, 47)

	last := strings.Fields(chunks[len(chunks)-1])
	assert.Equal(t, "w46", last[len(last)-1])
}

func TestChunkerShortTextIsSingleChunk(t *testing.T) {
	c, err := NewChunker(800, 150)
	require.NoError(t, err)

	chunks := c.Chunk("  Hello,\n\n world!  ")
	assert.Equal(t, []string{"Hello, world!"}, chunks)
}

func TestChunkerEmptyText(t *testing.T) {
	c, err := NewChunker(800, 150)
	require.NoError(t, err)

	assert.Empty(t, c.Chunk(""))
	assert.Empty(t, c.Chunk(" \n\t "))
	assert.Empty(t, c.Chunk("@@@ ### $$$"))
}

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"a\n\tb   c", "a b c"},
		{"wait.....", "wait..."},
		{"a ---- b", "a -- b"},
		{"price: $100 & tax", "price:  100   tax"},
		{`keep (this) [and] {that} 'q' "d" a/b`, `keep (this) [and] {that} 'q' "d" a/b`},
		{"café naïve 東京", "café naïve 東京"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeText(tt.in), "input %q", tt.in)
	}
}
