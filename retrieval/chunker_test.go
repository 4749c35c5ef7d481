package retrieval

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestChunkerPacksParagraphs(t *testing.T) {
	text := "第一段\n\n第二段\r\n\r\n\n第三段很长一些"
	assert.Equal(t, []string{"第一段\n\n第二段", "第三段很长一些"}, Chunker{MaxRunes: 8}.Split(text))
}

func TestChunkerSplitsLongParagraph(t *testing.T) {
	long := strings.Repeat("青", 25)
	parts := Chunker{MaxRunes: 10}.Split("前言\n\n" + long)
	assert.Equal(t, []string{"前言", strings.Repeat("青", 10), strings.Repeat("青", 10), strings.Repeat("青", 5)}, parts)
	for _, p := range parts {
		assert.LessOrEqual(t, utf8.RuneCountInString(p), 10)
	}
}

func TestChunkerEmptyText(t *testing.T) {
	assert.Empty(t, Chunker{}.Split(" \n\n \n"))
}

func TestTokenize(t *testing.T) {
	assert.Equal(t,
		[]string{"qut", "图", "书", "图书", "馆", "书馆", "8", "点"},
		Tokenize("QUT 图书馆 8点"),
	)
	assert.Equal(t, []string{"hello", "world2"}, Tokenize("Hello, World2!"))
	assert.Empty(t, Tokenize("  ，。"))
}
