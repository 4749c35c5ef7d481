package retrieval

import (
	"strings"
	"unicode"
)

// Tokenize lower-cases runs of letters and digits into words. Han characters
// are emitted one by one, followed by every adjacent pair, since Chinese
// text has no word separators.
func Tokenize(text string) []string {
	var (
		tokens []string
		word   strings.Builder
		prev   rune
	)
	flushWord := func() {
		if word.Len() > 0 {
			tokens = append(tokens, word.String())
			word.Reset()
		}
	}
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r):
			flushWord()
			tokens = append(tokens, string(r))
			if prev != 0 {
				tokens = append(tokens, string([]rune{prev, r}))
			}
			prev = r
			continue
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			word.WriteRune(unicode.ToLower(r))
		default:
			flushWord()
		}
		prev = 0
	}
	flushWord()
	return tokens
}
