// Package tfs implements the BM25 full-text index (spec §4.2): a
// tokenizer, segmented posting lists, and the Okapi scoring function.
// Layout follows the teacher's index/text package: immutable segments
// plus one mutable in-memory segment, merged at search time.
package tfs

import "unicode"

// Tokenizer splits text into terms. The chosen tokenizer is part of a
// collection's persisted schema: changing it is a breaking change,
// since old segments were built against its output (spec §4.2).
type Tokenizer interface {
	Tokenize(text string) []string
}

// UnicodeWordTokenizer lowercases and splits on Unicode word boundaries.
// It is the default tokenizer.
type UnicodeWordTokenizer struct{}

func (UnicodeWordTokenizer) Tokenize(text string) []string {
	var tokens []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			tokens = append(tokens, string(cur))
			cur = cur[:0]
		}
	}
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			cur = append(cur, unicode.ToLower(r))
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

// CJKTokenizer segments CJK runs character-by-character while treating
// runs of Latin/digit characters as ordinary words, a common bigram-free
// approximation used when no external segmenter is configured.
type CJKTokenizer struct{}

func (CJKTokenizer) Tokenize(text string) []string {
	var tokens []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			tokens = append(tokens, string(cur))
			cur = cur[:0]
		}
	}
	for _, r := range text {
		switch {
		case isCJK(r):
			flush()
			tokens = append(tokens, string(unicode.ToLower(r)))
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			cur = append(cur, unicode.ToLower(r))
		default:
			flush()
		}
	}
	flush()
	return tokens
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) || unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r)
}
