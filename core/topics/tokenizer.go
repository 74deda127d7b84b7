// Tokenization for the TF-IDF extractor. Regex patterns are compiled
// once at package init, never per call, per spec.md §4.3's explicit
// requirement — grounded in core/domain/classifier/lexical.go's
// compilePatterns-once-at-construction idiom.
package topics

import (
	"regexp"
	"strings"

	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
)

var (
	unicodeTokenizer = unicode.NewUnicodeTokenizer()

	// nonWordEdges strips leading/trailing punctuation a unicode word
	// boundary can still leave attached (smart quotes, stray hyphens).
	nonWordEdges = regexp.MustCompile(`^[^a-z0-9]+|[^a-z0-9]+$`)
)

// minTokenLength drops short tokens (spec.md §4.3: "drop ... short
// tokens").
const minTokenLength = 3

// stopWords is a standard English stop-word set. Charcoal keeps its own
// curated list rather than reaching into bleve's internal stop-word
// filter registry, since the tokenizer here only needs the word list,
// not bleve's full TokenFilter pipeline machinery.
var stopWords = buildStopWordSet([]string{
	"the", "a", "an", "and", "or", "but", "if", "then", "else", "for",
	"to", "of", "in", "on", "at", "by", "with", "from", "as", "is",
	"are", "was", "were", "be", "been", "being", "this", "that", "these",
	"those", "it", "its", "they", "them", "their", "you", "your", "we",
	"our", "i", "me", "my", "he", "she", "his", "her", "him", "not",
	"no", "so", "just", "about", "into", "over", "after", "before",
	"up", "down", "out", "off", "than", "too", "very", "can", "will",
	"would", "should", "could", "do", "does", "did", "have", "has",
	"had", "all", "some", "any", "there", "here", "what", "when",
	"where", "who", "how", "which", "also", "like", "one", "get",
	"got", "going", "im", "dont", "didnt", "thats", "youre",
})

func buildStopWordSet(words []string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

// tokenize lowercases, splits on Unicode word boundaries via bleve's
// UnicodeTokenizer, strips leftover punctuation at each token's edges,
// and drops stop-words and tokens shorter than minTokenLength.
func tokenize(text string) []string {
	stream := unicodeTokenizer.Tokenize([]byte(strings.ToLower(text)))

	tokens := make([]string, 0, len(stream))
	for _, tok := range stream {
		term := nonWordEdges.ReplaceAllString(string(tok.Term), "")
		if len(term) < minTokenLength {
			continue
		}
		if stopWords[term] {
			continue
		}
		tokens = append(tokens, term)
	}
	return tokens
}
