// Package tokenizer turns chunk and query text into index terms. It
// lower-cases input, splits on non-alphanumeric boundaries, drops
// stop-words and applies the Snowball English stemmer.
package tokenizer

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kljensen/snowball"
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "by": {}, "for": {}, "from": {}, "has": {}, "he": {},
	"in": {}, "is": {}, "it": {}, "its": {}, "of": {}, "on": {},
	"or": {}, "that": {}, "the": {}, "to": {}, "was": {}, "were": {},
	"will": {}, "with": {}, "this": {}, "but": {}, "they": {},
	"have": {}, "had": {}, "what": {}, "when": {}, "where": {},
	"who": {}, "which": {}, "their": {}, "if": {}, "each": {},
	"do": {}, "not": {}, "no": {}, "so": {}, "can": {},
}

// Token is one normalised term. Start and End are byte offsets of the
// original word in the tokenised text.
type Token struct {
	Term     string
	Position int
	Start    int
	End      int
}

// Tokenize returns the index terms of text in order.
func Tokenize(text string) []Token {
	tokens := make([]Token, 0, len(text)/8)
	pos := 0
	start := -1
	flush := func(end int) {
		if start < 0 {
			return
		}
		if term, ok := Normalize(text[start:end]); ok {
			tokens = append(tokens, Token{Term: term, Position: pos, Start: start, End: end})
			pos++
		}
		start = -1
	}
	for i, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		flush(i)
	}
	flush(len(text))
	return tokens
}

// Terms is Tokenize without positions.
func Terms(text string) []string {
	tokens := Tokenize(text)
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = t.Term
	}
	return out
}

// Normalize maps a single word to its index term. It reports false for
// stop-words and words shorter than two characters.
func Normalize(word string) (string, bool) {
	word = strings.ToLower(word)
	if utf8.RuneCountInString(word) < 2 {
		return "", false
	}
	if IsStopWord(word) {
		return "", false
	}
	stemmed, err := snowball.Stem(word, "english", true)
	if err != nil || stemmed == "" {
		return word, true
	}
	return stemmed, true
}

func IsStopWord(word string) bool {
	_, ok := stopWords[strings.ToLower(word)]
	return ok
}
