package stats

import (
	"regexp"
	"strings"
)

// A word is a run of at least two letters, apostrophes or hyphens
var tokenPattern = regexp.MustCompile(`[a-zA-Z'-]{2,}`)

// Tokenize returns the lowercased words of text in document order
func Tokenize(text string) []string {
	tokens := tokenPattern.FindAllString(text, -1)
	for i, tok := range tokens {
		tokens[i] = strings.ToLower(tok)
	}
	return tokens
}
