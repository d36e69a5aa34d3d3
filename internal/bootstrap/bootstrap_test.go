package bootstrap

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/searcher/retriever"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/health"
)

func localConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Store.SQLitePath = filepath.Join(t.TempDir(), "nested", "chunks.db")
	return cfg
}

func TestNewLocalAppIngestsAndRetrieves(t *testing.T) {
	ctx := context.Background()
	app, err := New(ctx, localConfig(t), Options{Analytics: true, Kafka: true})
	require.NoError(t, err)
	defer app.Close()

	assert.True(t, app.LocalIndex())
	assert.Nil(t, app.Publisher, "no brokers configured")
	assert.Nil(t, app.Collector)
	assert.Same(t, app.Aggregator, app.Tracker)

	_, err = app.Pipeline.Ingest(ctx, &ingestion.Request{
		CourseID: "c1",
		FileID:   "f1",
		Kind:     "pdf",
		Title:    "Lecture 4",
		Segments: []ingestion.Segment{{Text: "binary search halves the interval each step"}},
	})
	require.NoError(t, err)

	res, err := app.Retriever.Retrieve(ctx, retriever.Request{CourseID: "c1", Query: "binary search", Limit: 3})
	require.NoError(t, err)
	require.Len(t, res.Chunks, 1)
	assert.Equal(t, "f1", res.Chunks[0].FileID)
	assert.Equal(t, int64(1), app.Aggregator.Stats().ChunksIngested)

	report := app.Health.Run(ctx)
	assert.Equal(t, health.StatusUp, report.Status)
}

func TestWarmRebuildsFromStore(t *testing.T) {
	ctx := context.Background()
	cfg := localConfig(t)

	first, err := New(ctx, cfg, Options{})
	require.NoError(t, err)
	_, err = first.Pipeline.Ingest(ctx, &ingestion.Request{
		CourseID: "c1",
		FileID:   "f1",
		Kind:     "platform",
		Segments: []ingestion.Segment{{Text: "quiz on graph traversal"}},
	})
	require.NoError(t, err)
	first.Close()

	second, err := New(ctx, cfg, Options{})
	require.NoError(t, err)
	defer second.Close()

	stats, err := second.Index.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Chunks)

	require.NoError(t, second.Warm(ctx))
	stats, err = second.Index.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Chunks)
}

func TestNewRejectsPostgresIndexOnSQLite(t *testing.T) {
	cfg := localConfig(t)
	cfg.Index.Backend = "postgres"
	_, err := New(context.Background(), cfg, Options{})
	assert.ErrorContains(t, err, "postgres chunk store")
}
