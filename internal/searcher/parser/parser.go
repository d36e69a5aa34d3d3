// Package parser turns free-text retrieval queries into a plan of index
// terms. Words are OR-combined for ranking; "NOT word" and "-word" exclude.
package parser

import (
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/indexer/tokenizer"
)

type QueryPlan struct {
	// Terms are stemmed index terms, unique, in query order.
	Terms        []string
	ExcludeTerms []string
	// Words are the lower-cased source words behind Terms, for backends
	// that apply their own stemming.
	Words        []string
	ExcludeWords []string
	RawQuery     string
}

// Empty reports whether the plan has nothing to rank on.
func (p *QueryPlan) Empty() bool {
	return len(p.Terms) == 0
}

func Parse(query string) *QueryPlan {
	plan := &QueryPlan{
		Terms:        make([]string, 0),
		ExcludeTerms: make([]string, 0),
		Words:        make([]string, 0),
		ExcludeWords: make([]string, 0),
		RawQuery:     query,
	}
	if strings.TrimSpace(query) == "" {
		return plan
	}
	seen := make(map[string]bool)
	excluded := make(map[string]bool)
	excludeNext := false
	for _, word := range strings.Fields(query) {
		switch word {
		case "AND", "OR":
			continue
		case "NOT":
			excludeNext = true
			continue
		}
		exclude := excludeNext
		excludeNext = false
		if strings.HasPrefix(word, "-") && len(word) > 1 {
			exclude = true
			word = word[1:]
		}
		for _, tok := range tokenizer.Tokenize(word) {
			source := strings.ToLower(word[tok.Start:tok.End])
			if exclude {
				if !excluded[tok.Term] {
					excluded[tok.Term] = true
					plan.ExcludeTerms = append(plan.ExcludeTerms, tok.Term)
					plan.ExcludeWords = append(plan.ExcludeWords, source)
				}
				continue
			}
			if !seen[tok.Term] {
				seen[tok.Term] = true
				plan.Terms = append(plan.Terms, tok.Term)
				plan.Words = append(plan.Words, source)
			}
		}
	}
	return plan
}
