package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name         string
		query        string
		terms        []string
		words        []string
		excludeTerms []string
	}{
		{name: "empty", query: "   ", terms: []string{}, words: []string{}, excludeTerms: []string{}},
		{name: "stop words dropped", query: "what is the mitochondria", terms: []string{"mitochondria"}, words: []string{"mitochondria"}, excludeTerms: []string{}},
		{name: "duplicates collapse", query: "Graphs graph GRAPH", terms: []string{"graph"}, words: []string{"graphs"}, excludeTerms: []string{}},
		{name: "NOT keyword", query: "sorting NOT bubble", terms: []string{"sort"}, words: []string{"sorting"}, excludeTerms: []string{"bubbl"}},
		{name: "dash prefix", query: "sorting -bubble", terms: []string{"sort"}, words: []string{"sorting"}, excludeTerms: []string{"bubbl"}},
		{name: "operators ignored", query: "heap AND stack OR queue", terms: []string{"heap", "stack", "queue"}, words: []string{"heap", "stack", "queue"}, excludeTerms: []string{}},
		{name: "punctuation split", query: "divide-and-conquer?", terms: []string{"divid", "conquer"}, words: []string{"divide", "conquer"}, excludeTerms: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := Parse(tt.query)
			assert.Equal(t, tt.terms, plan.Terms)
			assert.Equal(t, tt.words, plan.Words)
			assert.Equal(t, tt.excludeTerms, plan.ExcludeTerms)
			assert.Equal(t, tt.query, plan.RawQuery)
		})
	}
}

func TestEmpty(t *testing.T) {
	assert.True(t, Parse("the of and").Empty())
	assert.False(t, Parse("entropy").Empty())
}
