package detector

import (
	"regexp"
	"strings"
)

var (
	punctuationRe = regexp.MustCompile(`[^\p{L}\p{N}]+`)
	whitespaceRe  = regexp.MustCompile(`\s+`)
)

// Normalize canonicalizes raw input for pattern matching: case folding,
// punctuation stripped to single spaces, whitespace collapsed. The raw
// message is never normalized before being sent to the contextual classifier.
func Normalize(message string) string {
	s := strings.ToLower(message)
	s = punctuationRe.ReplaceAllString(s, " ")
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
