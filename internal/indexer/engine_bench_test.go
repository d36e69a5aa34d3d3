package indexer

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/chunk"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/config"
)

var benchVocabulary = strings.Fields(`graph vertex edge cycle tree heap queue stack
	hash table probe bucket sort merge quick pivot partition recursion base case
	dynamic programming memo table greedy choice matroid flow network cut path
	shortest dijkstra bellman ford relax spanning kruskal prim union find rank`)

func benchChunks(files, perFile int) []chunk.Chunk {
	rng := rand.New(rand.NewPCG(1, 2))
	kinds := []chunk.Kind{chunk.KindPDF, chunk.KindPlatform}
	out := make([]chunk.Chunk, 0, files*perFile)
	for f := 0; f < files; f++ {
		for i := 0; i < perFile; i++ {
			words := make([]string, 120)
			for w := range words {
				words[w] = benchVocabulary[rng.IntN(len(benchVocabulary))]
			}
			out = append(out, chunk.Chunk{
				ID:         fmt.Sprintf("f%03d-%03d", f, i),
				CourseID:   "cs101",
				FileID:     fmt.Sprintf("f%03d", f),
				Title:      "Lecture notes",
				Content:    strings.Join(words, " "),
				ChunkIndex: i,
				Kind:       kinds[f%len(kinds)],
			})
		}
	}
	return out
}

func BenchmarkIndexChunks(b *testing.B) {
	chunks := benchChunks(10, 50)
	ctx := context.Background()
	b.ReportAllocs()
	for b.Loop() {
		e := NewEngine(config.IndexConfig{}, 0)
		if err := e.IndexChunks(ctx, chunks); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkSearch(b *testing.B) {
	e := NewEngine(config.IndexConfig{}, 0)
	ctx := context.Background()
	if err := e.IndexChunks(ctx, benchChunks(40, 50)); err != nil {
		b.Fatal(err)
	}
	queries := map[string]Query{
		"single":   {CourseID: "cs101", Text: "dijkstra", Limit: 10},
		"multi":    {CourseID: "cs101", Text: "shortest path relax edge", Limit: 10},
		"filtered": {CourseID: "cs101", Text: "merge sort pivot", Kind: chunk.KindPDF, Limit: 10},
		"excluded": {CourseID: "cs101", Text: "graph -tree", Limit: 10},
	}
	for name, q := range queries {
		b.Run(name, func(b *testing.B) {
			b.ReportAllocs()
			for b.Loop() {
				if _, err := e.Search(ctx, q); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkSearchParallel(b *testing.B) {
	e := NewEngine(config.IndexConfig{}, 0)
	ctx := context.Background()
	if err := e.IndexChunks(ctx, benchChunks(40, 50)); err != nil {
		b.Fatal(err)
	}
	q := Query{CourseID: "cs101", Text: "dynamic programming table", Limit: 8}
	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := e.Search(ctx, q); err != nil {
				b.Error(err)
				return
			}
		}
	})
}
