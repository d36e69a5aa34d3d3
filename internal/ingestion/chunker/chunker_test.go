package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/chunk"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/ingestion"
)

func request(segs ...ingestion.Segment) *ingestion.Request {
	return &ingestion.Request{
		FileID:   "f1",
		CourseID: "c1",
		Kind:     "pdf",
		Segments: segs,
	}
}

func TestChunkSequentialIndexesAndValidity(t *testing.T) {
	req := request(
		ingestion.Segment{Text: "first", Page: chunk.PageOf(1)},
		ingestion.Segment{Text: "   "},
		ingestion.Segment{Text: "second", Page: chunk.PageOf(2)},
	)
	req.Title = "Lecture 1"
	chunks := New().Chunk(req)
	require.Len(t, chunks, 2)
	for i, c := range chunks {
		assert.Equal(t, i, c.ChunkIndex)
		assert.Equal(t, "Lecture 1", c.Title)
		assert.Equal(t, chunk.KindPDF, c.Kind)
		assert.NotEmpty(t, c.ID)
	}
	assert.Equal(t, 2, *chunks[1].Page)
	require.NoError(t, chunk.ValidateBatch("f1", chunks))
}

func TestChunkIDsStableAcrossRuns(t *testing.T) {
	req := request(ingestion.Segment{Text: "alpha"}, ingestion.Segment{Text: "beta"})
	a := New().Chunk(req)
	b := New().Chunk(req)
	assert.Equal(t, chunk.IDs(a), chunk.IDs(b))
	assert.NotEqual(t, a[0].ID, a[1].ID)
}

func TestChunkHeadingStack(t *testing.T) {
	req := request(
		ingestion.Segment{Heading: "Sorting", Level: 1, Text: "intro"},
		ingestion.Segment{Heading: "Merge Sort", Level: 2, Text: "merge"},
		ingestion.Segment{Heading: "Analysis", Level: 3, Text: "n log n"},
		ingestion.Segment{Heading: "Quick Sort", Level: 2, Text: "quick"},
		ingestion.Segment{Heading: "Graphs", Level: 1, Text: "graphs"},
	)
	chunks := New().Chunk(req)
	require.Len(t, chunks, 5)
	assert.Equal(t, []string{"Sorting"}, chunks[0].HeadingPath)
	assert.Equal(t, []string{"Sorting", "Merge Sort"}, chunks[1].HeadingPath)
	assert.Equal(t, []string{"Sorting", "Merge Sort", "Analysis"}, chunks[2].HeadingPath)
	assert.Equal(t, []string{"Sorting", "Quick Sort"}, chunks[3].HeadingPath)
	assert.Equal(t, []string{"Graphs"}, chunks[4].HeadingPath)
	assert.Equal(t, "Quick Sort", chunks[3].Heading)
	// no request title: nearest heading
	assert.Equal(t, "Analysis", chunks[2].Title)
}

func TestChunkExplicitHeadingPathReplacesStack(t *testing.T) {
	req := request(
		ingestion.Segment{Heading: "Old", Level: 1, Text: "a"},
		ingestion.Segment{HeadingPath: []string{"Unit 2", "Trees"}, Heading: "Trees", Text: "b"},
		ingestion.Segment{Text: "c"},
	)
	chunks := New().Chunk(req)
	require.Len(t, chunks, 3)
	assert.Equal(t, []string{"Unit 2", "Trees"}, chunks[1].HeadingPath)
	assert.Equal(t, []string{"Unit 2", "Trees"}, chunks[2].HeadingPath)
}

func TestChunkHeadingBelowExplicitPath(t *testing.T) {
	chunks := New().Chunk(request(
		ingestion.Segment{HeadingPath: []string{"Ch1"}, Heading: "Sec1", Text: "a"},
		ingestion.Segment{HeadingPath: []string{"Ch1", "Sec1"}, Heading: "Sec1", Level: 0, Text: "b"},
		ingestion.Segment{HeadingPath: []string{"Ch1", "Sec1"}, Heading: "Intro", Level: 1, Text: "c"},
	))
	require.Len(t, chunks, 3)
	assert.Equal(t, []string{"Ch1", "Sec1"}, chunks[0].HeadingPath)
	assert.Equal(t, []string{"Ch1", "Sec1"}, chunks[1].HeadingPath)
	assert.Equal(t, []string{"Intro"}, chunks[2].HeadingPath, "an explicit level still cuts the path")
}

func TestChunkMarkdownHeadings(t *testing.T) {
	text := "# Hashing\nTables map keys.\n## Collisions\nChaining and probing."
	chunks := New().Chunk(request(ingestion.Segment{Text: text}))
	require.Len(t, chunks, 2)
	assert.Equal(t, []string{"Hashing"}, chunks[0].HeadingPath)
	assert.Equal(t, "Tables map keys.", chunks[0].Content)
	assert.Equal(t, []string{"Hashing", "Collisions"}, chunks[1].HeadingPath)

	plain := New(WithMarkdownHeadings(false)).Chunk(request(ingestion.Segment{Text: text}))
	require.Len(t, plain, 1)
	assert.Empty(t, plain[0].HeadingPath)
}

func TestChunkTitleFallsBackToFileID(t *testing.T) {
	chunks := New().Chunk(request(ingestion.Segment{Text: "body"}))
	require.Len(t, chunks, 1)
	assert.Equal(t, "f1", chunks[0].Title)
}

func TestSplitRespectsMaxAndOverlap(t *testing.T) {
	words := make([]string, 200)
	for i := range words {
		words[i] = "word"
	}
	text := strings.Join(words, " ")
	c := New(WithMaxChars(100), WithOverlap(20))
	pieces := c.split(text)
	require.Greater(t, len(pieces), 1)
	for _, p := range pieces {
		assert.LessOrEqual(t, len([]rune(p)), 100)
		assert.False(t, strings.HasPrefix(p, "ord"), "pieces start on a word boundary")
	}
	// overlap repeats content, so the pieces cover more than the input
	total := 0
	for _, p := range pieces {
		total += len(p)
	}
	assert.Greater(t, total, len(text))
}

func TestSplitPrefersParagraphThenSentence(t *testing.T) {
	c := New(WithMaxChars(60), WithOverlap(0))

	para := strings.Repeat("a", 40) + "\n\n" + strings.Repeat("b", 40)
	pieces := c.split(para)
	require.Len(t, pieces, 2)
	assert.Equal(t, strings.Repeat("a", 40), pieces[0])

	sent := "This is the first sentence here. And then a second one follows it closely."
	pieces = c.split(sent)
	require.GreaterOrEqual(t, len(pieces), 2)
	assert.Equal(t, "This is the first sentence here.", pieces[0])
}

func TestSplitHardCutWithoutSpaces(t *testing.T) {
	c := New(WithMaxChars(10), WithOverlap(0))
	pieces := c.split(strings.Repeat("x", 25))
	assert.Equal(t, []string{"xxxxxxxxxx", "xxxxxxxxxx", "xxxxx"}, pieces)
}

func TestNewClampsOverlap(t *testing.T) {
	c := New(WithMaxChars(100), WithOverlap(90))
	assert.Equal(t, 25, c.overlap)
}
