package tokenizer

import (
	"strings"
	"testing"
)

var benchTexts = map[string]string{
	"heading": "Week 3 > Graph Algorithms > Depth-first search",
	"paragraph": `A depth-first search explores as far as possible along each branch
		before backtracking. Recording discovery and finishing times lets the
		algorithm classify edges and detect cycles in directed graphs.`,
	"page": strings.Repeat(`Dynamic programming solves problems by combining the
		solutions of overlapping subproblems. Memoisation stores each result the
		first time it is computed, while tabulation fills a table bottom-up. `, 30),
}

func BenchmarkTokenize(b *testing.B) {
	for name, text := range benchTexts {
		b.Run(name, func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(text)))
			for b.Loop() {
				Tokenize(text)
			}
		})
	}
}

func BenchmarkTokenizeParallel(b *testing.B) {
	text := benchTexts["paragraph"]
	b.ReportAllocs()
	b.SetBytes(int64(len(text)))
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			Tokenize(text)
		}
	})
}
