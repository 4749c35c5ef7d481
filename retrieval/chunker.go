package retrieval

import (
	"strings"
	"unicode/utf8"
)

const DefaultChunkRunes = 600

// Chunker splits text at blank lines and packs whole paragraphs into chunks
// of at most MaxRunes runes. A paragraph longer than that is cut into
// fixed windows.
type Chunker struct {
	MaxRunes int
}

func (c Chunker) Split(text string) []string {
	max := c.MaxRunes
	if max <= 0 {
		max = DefaultChunkRunes
	}

	var (
		out     []string
		current strings.Builder
		size    int
	)
	flush := func() {
		if size > 0 {
			out = append(out, current.String())
			current.Reset()
			size = 0
		}
	}

	for _, para := range paragraphs(text) {
		n := utf8.RuneCountInString(para)
		if n > max {
			flush()
			out = append(out, windows(para, max)...)
			continue
		}
		if size > 0 && size+2+n > max {
			flush()
		}
		if size > 0 {
			current.WriteString("\n\n")
			size += 2
		}
		current.WriteString(para)
		size += n
	}
	flush()
	return out
}

func paragraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var out []string
	var lines []string
	push := func() {
		if p := strings.TrimSpace(strings.Join(lines, "\n")); p != "" {
			out = append(out, p)
		}
		lines = lines[:0]
	}
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			push()
			continue
		}
		lines = append(lines, line)
	}
	push()
	return out
}

func windows(s string, size int) []string {
	runes := []rune(s)
	out := make([]string, 0, len(runes)/size+1)
	for i := 0; i < len(runes); i += size {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[i:end]))
	}
	return out
}
