// Package tokenize splits free text into lowercase terms for lexical scoring
// and feature hashing. Word boundaries follow Unicode text segmentation
// (UAX #29), so accented and non-Latin scripts tokenize correctly.
package tokenize

import (
	"unicode/utf8"

	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
)

// MinTermRunes is the shortest term kept; shorter tokens carry no signal.
// Ideographic tokens (Han, Kana) are exempt since the segmenter emits one
// token per ideograph.
const MinTermRunes = 2

var (
	tokenizer analysis.Tokenizer   = unicode.NewUnicodeTokenizer()
	lower     analysis.TokenFilter = lowercase.NewLowerCaseFilter()
)

// Terms returns the lowercase terms of text in order of appearance.
// Punctuation is dropped and non-ideographic terms shorter than MinTermRunes
// are discarded.
func Terms(text string) []string {
	if text == "" {
		return nil
	}

	stream := lower.Filter(tokenizer.Tokenize([]byte(text)))
	terms := make([]string, 0, len(stream))
	for _, tok := range stream {
		if tok.Type != analysis.Ideographic && utf8.RuneCount(tok.Term) < MinTermRunes {
			continue
		}
		terms = append(terms, string(tok.Term))
	}
	return terms
}

// Frequencies counts each term in terms.
func Frequencies(terms []string) map[string]int {
	freq := make(map[string]int, len(terms))
	for _, t := range terms {
		freq[t]++
	}
	return freq
}
