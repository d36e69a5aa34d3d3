// Package consumer drives the engine from Kafka: queued ingest requests run
// through the ingestion pipeline, and index.complete notifications refresh
// this replica's in-memory index and drop cached retrievals.
package consumer

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/ingestion/pipeline"
	apperrors "github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/logger"
)

// Ingester runs the pipeline for one request.
type Ingester interface {
	Ingest(ctx context.Context, req *ingestion.Request) (*ingestion.Result, error)
}

// Refresher rebuilds one file's index entries from the chunk store.
type Refresher interface {
	ReindexFile(ctx context.Context, courseID, fileID string) (int, error)
}

// IndexConsumer runs one or more Kafka consumers until ctx ends.
type IndexConsumer struct {
	consumers []*kafka.Consumer
	logger    *slog.Logger
}

func New(consumers ...*kafka.Consumer) *IndexConsumer {
	return &IndexConsumer{
		consumers: consumers,
		logger:    slog.Default().With("component", "index-consumer"),
	}
}

// Start blocks until ctx is cancelled or a consumer gives up on a message.
func (ic *IndexConsumer) Start(ctx context.Context) error {
	ic.logger.Info("index consumer starting", "consumers", len(ic.consumers))
	g, ctx := errgroup.WithContext(ctx)
	for _, c := range ic.consumers {
		g.Go(func() error { return c.Start(ctx) })
	}
	return g.Wait()
}

// HandleIngestRequest ingests every queued request. Failures that a retry
// cannot fix are committed as poison; the rest are left for redelivery.
func HandleIngestRequest(p Ingester) kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		log := logger.FromContext(ctx).With("component", "index-consumer")
		req, err := kafka.DecodeJSON[ingestion.Request](value)
		if err != nil {
			log.Error("failed to decode ingest request", "error", err, "key", string(key))
			return err
		}
		ctx = logger.With(ctx, "trigger", "kafka")
		res, err := p.Ingest(ctx, &req)
		if err != nil {
			if apperrors.IsValidation(err) || pipeline.IsRetryable(err) {
				return err
			}
			return fmt.Errorf("%w: %w", kafka.ErrPoison, err)
		}
		log.Info("queued ingest processed",
			"course_id", req.CourseID,
			"file_id", req.FileID,
			"status", res.Status,
			"chunks", res.ChunkCount,
		)
		return nil
	}
}

// HandleIndexComplete reacts to a changed file. refresher is nil when the
// index is shared (PostgreSQL) and needs no local refresh; cache may be nil.
func HandleIndexComplete(refresher Refresher, cache pipeline.CacheInvalidator) kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		log := logger.FromContext(ctx).With("component", "index-consumer")
		event, err := kafka.DecodeJSON[ingestion.IndexCompleteEvent](value)
		if err != nil {
			log.Error("failed to decode index.complete event", "error", err, "key", string(key))
			return err
		}
		if event.FileID == "" {
			return fmt.Errorf("%w: index.complete event without fileId", kafka.ErrPoison)
		}
		if refresher != nil {
			// the store decides ownership; a deleted file reindexes to nothing
			n, err := refresher.ReindexFile(ctx, "", event.FileID)
			if err != nil {
				return fmt.Errorf("refreshing index for %s: %w", event.FileID, err)
			}
			log.Debug("index refreshed", "file_id", event.FileID, "chunks", n, "deleted", event.Deleted)
		}
		if cache != nil && event.CourseID != "" {
			if err := cache.InvalidateCourse(ctx, event.CourseID); err != nil {
				log.Warn("cache invalidation failed", "course_id", event.CourseID, "error", err)
			}
		}
		return nil
	}
}
