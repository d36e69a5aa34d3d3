package index

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/indexer/tokenizer"
)

func TestAddAndSearch(t *testing.T) {
	mi := NewMemoryIndex()
	mi.Add("c2", tokenizer.Tokenize("graph search graph"))
	mi.Add("c1", tokenizer.Tokenize("graph theory"))

	postings := mi.Search("graph")
	require.Len(t, postings, 2)
	assert.Equal(t, "c1", postings[0].ChunkID)
	assert.Equal(t, 2, postings[1].Frequency)
	assert.Equal(t, []int{0, 2}, postings[1].Positions)
	assert.Equal(t, 2, mi.DocFreq("graph"))
	assert.Equal(t, 2, mi.DocCount())
	assert.InDelta(t, 2.5, mi.AvgDocLen(), 1e-9)
}

func TestAddReplacesExistingChunk(t *testing.T) {
	mi := NewMemoryIndex()
	mi.Add("c1", tokenizer.Tokenize("alpha beta"))
	mi.Add("c1", tokenizer.Tokenize("gamma"))

	assert.Empty(t, mi.Search("alpha"))
	assert.Len(t, mi.Search("gamma"), 1)
	assert.Equal(t, 1, mi.DocCount())
	assert.Equal(t, 1, mi.DocLen("c1"))
	assert.Equal(t, 1, mi.TermCount())
}

func TestRemove(t *testing.T) {
	mi := NewMemoryIndex()
	mi.Add("c1", tokenizer.Tokenize("alpha beta"))
	mi.Add("c2", tokenizer.Tokenize("alpha"))

	assert.True(t, mi.Remove("c1"))
	assert.False(t, mi.Remove("c1"))
	assert.Empty(t, mi.Search("beta"))
	assert.Len(t, mi.Search("alpha"), 1)
	assert.InDelta(t, 1.0, mi.AvgDocLen(), 1e-9)

	mi.Reset()
	assert.Zero(t, mi.DocCount())
	assert.Zero(t, mi.AvgDocLen())
}

func BenchmarkMemoryIndexSearch(b *testing.B) {
	mi := NewMemoryIndex()
	for i := 0; i < 10000; i++ {
		mi.Add(fmt.Sprintf("chunk-%d", i), tokenizer.Tokenize("lecture notes on graph search and query processing"))
	}
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_ = mi.Search("search")
		}
	})
}
