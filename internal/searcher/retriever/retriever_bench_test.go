package retriever

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/chunk"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/config"
)

func BenchmarkRetrieve(b *testing.B) {
	idx := indexer.NewEngine(config.IndexConfig{}, 0)
	topics := []string{"recursion base case", "hash table probing", "graph traversal order", "heap sort pivot"}
	var chunks []chunk.Chunk
	for i := 0; i < 800; i++ {
		kind := chunk.KindPDF
		if i%3 == 0 {
			kind = chunk.KindPlatform
		}
		chunks = append(chunks, chunk.Chunk{
			ID:         fmt.Sprintf("c%04d", i),
			CourseID:   "cs101",
			FileID:     fmt.Sprintf("f%02d", i/20),
			Title:      "Week notes",
			Content:    strings.Repeat(topics[i%len(topics)]+" ", 1+i%7),
			ChunkIndex: i % 20,
			Kind:       kind,
		})
	}
	if err := idx.IndexChunks(context.Background(), chunks); err != nil {
		b.Fatal(err)
	}
	e := New(idx, nil, config.Default().Retrieval)
	req := Request{CourseID: "cs101", Query: "hash table", Limit: 8}

	b.ReportAllocs()
	for b.Loop() {
		if _, err := e.Retrieve(context.Background(), req); err != nil {
			b.Fatal(err)
		}
	}
}
