package pgindex

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/chunk"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/searcher/parser"
)

func TestBuildTSQuery(t *testing.T) {
	tests := []struct {
		query string
		want  string
	}{
		{"", ""},
		{"the of", ""},
		{"binary search", "(binary | search)"},
		{"sorting -bubble NOT insertion", "(sorting) & !bubble & !insertion"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, BuildTSQuery(parser.Parse(tt.query)), tt.query)
	}
}

func TestPostgresIndexSearch(t *testing.T) {
	dsn := os.Getenv("CRE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CRE_TEST_POSTGRES_DSN not set")
	}
	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	x := New(db, 0, 20)
	require.NoError(t, x.Migrate(ctx))
	_, err = db.ExecContext(ctx, `TRUNCATE chunk_search`)
	require.NoError(t, err)

	mk := func(idx int, kind chunk.Kind, content string) chunk.Chunk {
		c := chunk.Chunk{CourseID: "c1", FileID: "f1", Title: "T", Content: content, ChunkIndex: idx, Kind: kind}
		c.ID = chunk.StableID(c)
		return c
	}
	chunks := []chunk.Chunk{
		mk(0, chunk.KindPDF, "Binary search halves the interval each step."),
		mk(1, chunk.KindPlatform, "Linear search scans every element."),
	}
	require.NoError(t, x.IndexChunks(ctx, chunks))

	res, err := x.Search(ctx, indexer.Query{Text: "binary search", CourseID: "c1", Limit: 5})
	require.NoError(t, err)
	require.Len(t, res.Hits, 2)
	assert.Equal(t, chunks[0].ID, res.Hits[0].ChunkID)
	assert.Equal(t, 1.0, res.MaxScore)
	assert.Equal(t, 2, res.Total)

	res, err = x.Search(ctx, indexer.Query{Text: "search", CourseID: "c1", Kind: chunk.KindPlatform})
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)

	require.NoError(t, x.DeleteChunks(ctx, []string{chunks[1].ID}))
	stats, err := x.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Chunks)
}
