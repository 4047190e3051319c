package model

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// NormalizeQuestion canonicalizes question text for use as a cache key.
// Text is NFKC-normalized, case-folded, and runs of whitespace collapse to a
// single space. Punctuation is preserved.
func NormalizeQuestion(text string) string {
	s := norm.NFKC.String(text)
	// A Caser is stateful, so each call gets its own.
	s = cases.Fold().String(s)
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}

// CacheKey identifies one cached answer. Keys are scoped to a session so
// answers never leak between applications.
type CacheKey struct {
	SessionID          string `json:"session_id"`
	NormalizedQuestion string `json:"normalized_question"`
}

// NewCacheKey builds a cache key, normalizing the question text.
func NewCacheKey(sessionID, question string) CacheKey {
	return CacheKey{SessionID: sessionID, NormalizedQuestion: NormalizeQuestion(question)}
}
