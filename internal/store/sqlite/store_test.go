package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/chunk"
	apperrors "github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "chunks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func makeChunks(courseID, fileID string, contents ...string) []chunk.Chunk {
	out := make([]chunk.Chunk, len(contents))
	for i, content := range contents {
		c := chunk.Chunk{
			CourseID:    courseID,
			FileID:      fileID,
			Title:       "Week 1",
			Heading:     "Intro",
			HeadingPath: []string{"Week 1", "Intro"},
			Content:     content,
			Page:        chunk.PageOf(i + 1),
			ChunkIndex:  i,
			Kind:        chunk.KindPDF,
		}
		c.ID = chunk.StableID(c)
		out[i] = c
	}
	return out
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))
}

func TestUpsertAndListByFile(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	in := makeChunks("c1", "f1", "alpha beta", "gamma delta")
	in[1].Embedding = []float32{0.5, -0.25}
	in[1].SourcePlatform = ""
	require.NoError(t, s.UpsertChunks(ctx, "f1", in))

	got, err := s.ListByFile(ctx, "f1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, in[0].ID, got[0].ID)
	assert.Equal(t, []string{"Week 1", "Intro"}, got[0].HeadingPath)
	require.NotNil(t, got[0].Page)
	assert.Equal(t, 1, *got[0].Page)
	assert.Nil(t, got[0].Embedding)
	assert.Equal(t, []float32{0.5, -0.25}, got[1].Embedding)
	assert.False(t, got[0].CreatedAt.IsZero())
}

func TestUpsertReplacesWholeSet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first := makeChunks("c1", "f1", "one", "two", "three")
	require.NoError(t, s.UpsertChunks(ctx, "f1", first))

	second := makeChunks("c1", "f1", "one", "changed")
	require.NoError(t, s.UpsertChunks(ctx, "f1", second))

	got, err := s.ListByFile(ctx, "f1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, second[0].ID, got[0].ID)
	assert.Equal(t, "changed", got[1].Content)

	_, err = s.GetChunk(ctx, first[2].ID)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestUpsertKeepsCreatedAtForUnchangedChunks(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	in := makeChunks("c1", "f1", "stable")
	require.NoError(t, s.UpsertChunks(ctx, "f1", in))

	s.now = func() time.Time { return base.Add(time.Hour) }
	in[0].Embedding = []float32{1}
	require.NoError(t, s.UpsertChunks(ctx, "f1", in))

	got, err := s.GetChunk(ctx, in[0].ID)
	require.NoError(t, err)
	assert.True(t, base.Equal(got.CreatedAt))
	assert.Empty(t, got.Embedding, "stored rows are never rewritten")
}

func TestUpsertBeyondHostParameterLimit(t *testing.T) {
	if testing.Short() {
		t.Skip("writes tens of thousands of rows")
	}
	ctx := context.Background()
	s := newTestStore(t)

	contents := make([]string, 33000)
	for i := range contents {
		contents[i] = fmt.Sprintf("chunk body %d", i)
	}
	in := makeChunks("c1", "big", contents...)
	require.NoError(t, s.UpsertChunks(ctx, "big", in))
	require.NoError(t, s.UpsertChunks(ctx, "big", in[:len(in)-1]))

	got, err := s.GetChunks(ctx, chunk.IDs(in))
	require.NoError(t, err)
	assert.Len(t, got, len(in)-1)
}

func TestUpsertRejectsInvalidBatch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.UpsertChunks(ctx, "f1", makeChunks("c1", "f1", "keep me")))

	bad := makeChunks("c1", "f1", "fine", "   ")
	err := s.UpsertChunks(ctx, "f1", bad)
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))

	got, err := s.ListByFile(ctx, "f1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "keep me", got[0].Content)
}

func TestUpsertRejectsForeignFile(t *testing.T) {
	s := newTestStore(t)
	err := s.UpsertChunks(context.Background(), "f2", makeChunks("c1", "f1", "x"))
	assert.True(t, apperrors.IsValidation(err))
}

func TestConcurrentUpsertsLeaveOneCompleteSet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	sets := [][]chunk.Chunk{
		makeChunks("c1", "f1", "a1", "a2", "a3"),
		makeChunks("c1", "f1", "b1", "b2"),
	}
	var wg sync.WaitGroup
	errs := make([]error, len(sets))
	for i := range sets {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.UpsertChunks(ctx, "f1", sets[i])
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	got, err := s.ListByFile(ctx, "f1")
	require.NoError(t, err)
	ids := chunk.IDs(got)
	assert.True(t,
		assert.ObjectsAreEqual(chunk.IDs(sets[0]), ids) || assert.ObjectsAreEqual(chunk.IDs(sets[1]), ids),
		"stored set %v is a mix of both writers", ids)
}

func TestGetChunksPreservesOrderAndSkipsMissing(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	in := makeChunks("c1", "f1", "x", "y", "z")
	require.NoError(t, s.UpsertChunks(ctx, "f1", in))

	got, err := s.GetChunks(ctx, []string{in[2].ID, "missing", in[0].ID})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, in[2].ID, got[0].ID)
	assert.Equal(t, in[0].ID, got[1].ID)
}

func TestListByCourseAndCounts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.UpsertChunks(ctx, "f1", makeChunks("c1", "f1", "p1", "p2")))

	platform := makeChunks("c1", "f2", "lesson")
	platform[0].Kind = chunk.KindPlatform
	platform[0].SourcePlatform = "moodle"
	platform[0].ID = chunk.StableID(platform[0])
	require.NoError(t, s.UpsertChunks(ctx, "f2", platform))
	require.NoError(t, s.UpsertChunks(ctx, "f3", makeChunks("c2", "f3", "other course")))

	all, err := s.ListByCourse(ctx, "c1", "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	onlyPlatform, err := s.ListByCourse(ctx, "c1", chunk.KindPlatform)
	require.NoError(t, err)
	require.Len(t, onlyPlatform, 1)
	assert.Equal(t, "moodle", onlyPlatform[0].SourcePlatform)

	counts, err := s.CountByCourseAndKind(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, map[chunk.Kind]int{chunk.KindPDF: 2, chunk.KindPlatform: 1}, counts)

	files, err := s.FileIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"f1", "f2", "f3"}, files)
}

func TestDeleteByFile(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.UpsertChunks(ctx, "f1", makeChunks("c1", "f1", "x", "y")))

	n, err := s.DeleteByFile(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.DeleteByFile(ctx, "f1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMetaOverwrite(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.GetMeta(ctx, "c1", "f1")
	assert.True(t, apperrors.IsNotFound(err))

	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpsertMeta(ctx, chunk.IndexMeta{
		CourseID: "c1", FileID: "f1", ChunkCount: 4, OCRUsed: true,
		ContentBytes: 120, LastIndexed: at, ContentHash: "abc",
	}))
	require.NoError(t, s.UpsertMeta(ctx, chunk.IndexMeta{
		CourseID: "c1", FileID: "f1", ChunkCount: 2, ContentBytes: 40,
		LastIndexed: at.Add(time.Minute), IndexStale: true,
	}))

	m, err := s.GetMeta(ctx, "c1", "f1")
	require.NoError(t, err)
	assert.Equal(t, 2, m.ChunkCount)
	assert.False(t, m.OCRUsed)
	assert.Equal(t, int64(40), m.ContentBytes)
	assert.Empty(t, m.ContentHash)
	assert.True(t, m.IndexStale)
	assert.True(t, at.Add(time.Minute).Equal(m.LastIndexed))

	list, err := s.ListMeta(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.DeleteMeta(ctx, "c1", "f1"))
	_, err = s.GetMeta(ctx, "c1", "f1")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestEmbeddingCodecRoundTrip(t *testing.T) {
	v := []float32{0, 1.5, -3.25}
	assert.Equal(t, v, decodeEmbedding(encodeEmbedding(v)))
	assert.Nil(t, encodeEmbedding(nil))
	assert.Nil(t, decodeEmbedding(nil))
}
