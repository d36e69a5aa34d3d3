package indexer

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/chunk"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/errors"
)

func testChunk(course, file string, idx int, kind chunk.Kind, content string) chunk.Chunk {
	c := chunk.Chunk{
		CourseID:    course,
		FileID:      file,
		Title:       "Algorithms",
		HeadingPath: []string{"Graphs"},
		Content:     content,
		ChunkIndex:  idx,
		Kind:        kind,
	}
	c.ID = chunk.StableID(c)
	return c
}

func seeded(t *testing.T) (*Engine, []chunk.Chunk) {
	t.Helper()
	e := NewEngine(config.IndexConfig{SnippetChars: 60}, 0)
	chunks := []chunk.Chunk{
		testChunk("c1", "f1", 0, chunk.KindPDF, "Dijkstra finds shortest paths in weighted graphs."),
		testChunk("c1", "f1", 1, chunk.KindPDF, "Breadth first search explores a graph level by level."),
		testChunk("c1", "f2", 0, chunk.KindPlatform, "Quiz: shortest path questions for week three."),
		testChunk("c2", "f3", 0, chunk.KindPDF, "Shortest paths in another course entirely."),
	}
	require.NoError(t, e.IndexChunks(context.Background(), chunks[:2]))
	require.NoError(t, e.IndexChunks(context.Background(), chunks[2:3]))
	require.NoError(t, e.IndexChunks(context.Background(), chunks[3:]))
	return e, chunks
}

func TestSearchFiltersByCourseAndKind(t *testing.T) {
	e, chunks := seeded(t)
	ctx := context.Background()

	res, err := e.Search(ctx, Query{Text: "shortest path", CourseID: "c1"})
	require.NoError(t, err)
	require.Len(t, res.Hits, 2)
	assert.Equal(t, 2, res.Total)
	for _, h := range res.Hits {
		assert.Equal(t, "c1", h.CourseID)
		assert.LessOrEqual(t, h.Score, res.MaxScore)
	}

	res, err = e.Search(ctx, Query{Text: "shortest path", CourseID: "c1", Kind: chunk.KindPlatform})
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, chunks[2].ID, res.Hits[0].ChunkID)

	res, err = e.Search(ctx, Query{Text: "graph", CourseID: "c1", FileID: "f2"})
	require.NoError(t, err)
	assert.Len(t, res.Hits, 1, "heading path is searchable")
}

func TestSearchExclusionAndEmptyQuery(t *testing.T) {
	e, _ := seeded(t)
	ctx := context.Background()

	res, err := e.Search(ctx, Query{Text: "shortest -quiz", CourseID: "c1"})
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, "f1", res.Hits[0].FileID)

	res, err = e.Search(ctx, Query{Text: "the of", CourseID: "c1"})
	require.NoError(t, err)
	assert.Empty(t, res.Hits)
	assert.Zero(t, res.MaxScore)

	_, err = e.Search(ctx, Query{Text: "graph"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestSearchPagination(t *testing.T) {
	e := NewEngine(config.IndexConfig{}, 0)
	var chunks []chunk.Chunk
	for i := 0; i < 5; i++ {
		chunks = append(chunks, testChunk("c1", "f1", i, chunk.KindPDF, "identical recursion notes"))
	}
	require.NoError(t, e.IndexChunks(context.Background(), chunks))

	first, err := e.Search(context.Background(), Query{Text: "recursion", CourseID: "c1", Limit: 2})
	require.NoError(t, err)
	second, err := e.Search(context.Background(), Query{Text: "recursion", CourseID: "c1", Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, first.Hits, 2)
	require.Len(t, second.Hits, 2)
	assert.Equal(t, 0, first.Hits[0].ChunkIndex)
	assert.Equal(t, 2, second.Hits[0].ChunkIndex)
	assert.Equal(t, 5, second.Total)

	beyond, err := e.Search(context.Background(), Query{Text: "recursion", CourseID: "c1", Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, beyond.Hits)
}

func TestDeleteByFileAndChunks(t *testing.T) {
	e, chunks := seeded(t)
	ctx := context.Background()

	require.NoError(t, e.DeleteChunks(ctx, []string{chunks[0].ID, "unknown"}))
	res, err := e.Search(ctx, Query{Text: "dijkstra", CourseID: "c1"})
	require.NoError(t, err)
	assert.Empty(t, res.Hits)

	require.NoError(t, e.DeleteByFile(ctx, "f1"))
	assert.Equal(t, []string{"f2", "f3"}, e.FileIDs())

	stats, err := e.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Chunks)
}

func TestIndexChunksOverwritesByID(t *testing.T) {
	e, chunks := seeded(t)
	ctx := context.Background()
	updated := chunks[0]
	updated.Content = "replaced text about heaps"
	require.NoError(t, e.IndexChunks(ctx, []chunk.Chunk{updated}))

	res, err := e.Search(ctx, Query{Text: "heaps", CourseID: "c1"})
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	res, err = e.Search(ctx, Query{Text: "dijkstra", CourseID: "c1"})
	require.NoError(t, err)
	assert.Empty(t, res.Hits)
}

func TestIndexChunksRejectsMissingIDs(t *testing.T) {
	e := NewEngine(config.IndexConfig{}, 0)
	err := e.IndexChunks(context.Background(), []chunk.Chunk{{Content: "x"}})
	assert.True(t, apperrors.IsValidation(err))
}

func TestVectorBlendStaysWithinCeiling(t *testing.T) {
	e := NewEngine(config.IndexConfig{}, 0.5)
	a := testChunk("c1", "f1", 0, chunk.KindPDF, "matrix multiplication")
	a.Embedding = []float32{1, 0}
	b := testChunk("c1", "f1", 1, chunk.KindPDF, "matrix inversion")
	b.Embedding = []float32{0, 1}
	other := testChunk("c1", "f1", 2, chunk.KindPDF, "unrelated topic")
	require.NoError(t, e.IndexChunks(context.Background(), []chunk.Chunk{a, b, other}))

	res, err := e.Search(context.Background(), Query{Text: "matrix", CourseID: "c1", Embedding: []float32{0, 1}})
	require.NoError(t, err)
	require.Len(t, res.Hits, 2)
	assert.Equal(t, b.ID, res.Hits[0].ChunkID)
	for _, h := range res.Hits {
		assert.LessOrEqual(t, h.Score, res.MaxScore)
	}
}

func TestSnippetCentresOnMatch(t *testing.T) {
	content := strings.Repeat("filler words here ", 20) + "the pivot element matters " + strings.Repeat("tail text ", 20)
	s := snippet(content, map[string]struct{}{"pivot": {}}, 60)
	assert.Contains(t, s, "pivot")
	assert.True(t, strings.HasPrefix(s, "…"))
	assert.True(t, strings.HasSuffix(s, "…"))

	assert.Equal(t, "short", snippet("  short ", nil, 60))
}

func BenchmarkEngineSearch(b *testing.B) {
	e := NewEngine(config.IndexConfig{}, 0)
	terms := []string{"graph", "search", "heap", "queue", "tree", "sort", "hash", "matrix"}
	var chunks []chunk.Chunk
	for i := 0; i < 5000; i++ {
		content := fmt.Sprintf("notes on %s and %s with %s", terms[i%8], terms[(i+1)%8], terms[(i+3)%8])
		chunks = append(chunks, testChunk("c1", fmt.Sprintf("f%d", i/50), i%50, chunk.KindPDF, content))
	}
	if err := e.IndexChunks(context.Background(), chunks); err != nil {
		b.Fatal(err)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := e.Search(context.Background(), Query{Text: terms[i%8], CourseID: "c1", Limit: 10}); err != nil {
			b.Fatal(err)
		}
	}
}

func TestSearchScoresTermPresentInEveryChunk(t *testing.T) {
	e := NewEngine(config.IndexConfig{}, 0)
	once := testChunk("c1", "f1", 0, chunk.KindPDF, "Binary search halves the interval.")
	thrice := testChunk("c1", "f1", 1, chunk.KindPDF, "Binary search, binary search, binary search on sorted arrays.")
	require.NoError(t, e.IndexChunks(context.Background(), []chunk.Chunk{once, thrice}))

	res, err := e.Search(context.Background(), Query{Text: "binary search", CourseID: "c1"})
	require.NoError(t, err)
	require.Len(t, res.Hits, 2)
	assert.Equal(t, thrice.ID, res.Hits[0].ChunkID, "term frequency orders the hits")
	assert.Greater(t, res.Hits[1].Score, 0.0)
	assert.Greater(t, res.Hits[0].Score, res.Hits[1].Score)
	assert.Greater(t, res.MaxScore, res.Hits[0].Score)
}

func TestSearchScoresIgnoreOtherCourses(t *testing.T) {
	e := NewEngine(config.IndexConfig{}, 0)
	ctx := context.Background()
	require.NoError(t, e.IndexChunks(ctx, []chunk.Chunk{
		testChunk("c1", "f1", 0, chunk.KindPDF, "Dijkstra relaxes edges from a priority queue."),
		testChunk("c1", "f1", 1, chunk.KindPDF, "Fibonacci numbers with memoization avoid repeated work."),
		testChunk("c1", "f2", 0, chunk.KindPlatform, "Fibonacci exercise for week two."),
	}))
	q := Query{Text: "dijkstra fibonacci memoization", CourseID: "c1"}

	before, err := e.Search(ctx, q)
	require.NoError(t, err)
	require.NotEmpty(t, before.Hits)

	other := testChunk("c9", "f9", 0, chunk.KindPDF, "Fibonacci memoization, fibonacci memoization everywhere.")
	require.NoError(t, e.IndexChunks(ctx, []chunk.Chunk{other}))

	after, err := e.Search(ctx, q)
	require.NoError(t, err)
	require.Len(t, after.Hits, len(before.Hits))
	assert.InDelta(t, before.MaxScore, after.MaxScore, 1e-9)
	for i := range before.Hits {
		assert.Equal(t, before.Hits[i].ChunkID, after.Hits[i].ChunkID)
		assert.InDelta(t, before.Hits[i].Score, after.Hits[i].Score, 1e-9)
	}

	require.NoError(t, e.DeleteByFile(ctx, "f9"))
	removed, err := e.Search(ctx, q)
	require.NoError(t, err)
	assert.InDelta(t, before.MaxScore, removed.MaxScore, 1e-9)
}

func TestSearchKindScopeExcludesOtherKinds(t *testing.T) {
	e := NewEngine(config.IndexConfig{}, 0)
	ctx := context.Background()
	pdf := testChunk("c1", "f1", 0, chunk.KindPDF, "Heaps support extract min in logarithmic time.")
	require.NoError(t, e.IndexChunks(ctx, []chunk.Chunk{pdf}))
	q := Query{Text: "heap", CourseID: "c1", Kind: chunk.KindPDF}

	before, err := e.Search(ctx, q)
	require.NoError(t, err)
	require.Len(t, before.Hits, 1)

	require.NoError(t, e.IndexChunks(ctx, []chunk.Chunk{
		testChunk("c1", "f2", 0, chunk.KindPlatform, "Heap quiz: heap, heap and more heap."),
	}))
	after, err := e.Search(ctx, q)
	require.NoError(t, err)
	require.Len(t, after.Hits, 1)
	assert.InDelta(t, before.Hits[0].Score, after.Hits[0].Score, 1e-9)
	assert.InDelta(t, before.MaxScore, after.MaxScore, 1e-9)
}
