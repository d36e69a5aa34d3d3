// Package publisher puts ingestion traffic on Kafka: requests for the
// asynchronous indexer and index-complete notifications for every replica
// that keeps a local index or cache.
package publisher

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/ingestion/validator"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/kafka"
)

// Producer is the subset of kafka.Producer used here.
type Producer interface {
	Publish(ctx context.Context, event kafka.Event) error
	Topic() string
}

type Publisher struct {
	requests    Producer
	completions Producer
	logger      *slog.Logger
}

// New wires the two topics. Either producer may be nil when that direction
// is not used by the binary.
func New(requests, completions Producer) *Publisher {
	return &Publisher{
		requests:    requests,
		completions: completions,
		logger:      slog.Default().With("component", "publisher"),
	}
}

// Submit validates req and queues it for the indexer. Messages are keyed by
// file id so that requests for one file are consumed in order.
func (p *Publisher) Submit(ctx context.Context, req *ingestion.Request) error {
	if p.requests == nil {
		return fmt.Errorf("no ingest request topic configured")
	}
	if err := validator.ValidateRequest(req); err != nil {
		return err
	}
	if err := p.requests.Publish(ctx, kafka.Event{Key: req.FileID, Value: req}); err != nil {
		return fmt.Errorf("queueing ingest request for %s: %w", req.FileID, err)
	}
	p.logger.Info("ingest request queued",
		"course_id", req.CourseID,
		"file_id", req.FileID,
		"segments", len(req.Segments),
		"topic", p.requests.Topic(),
	)
	return nil
}

// NotifyIndexComplete publishes event keyed by file id.
func (p *Publisher) NotifyIndexComplete(ctx context.Context, event ingestion.IndexCompleteEvent) error {
	if p.completions == nil {
		return nil
	}
	if err := p.completions.Publish(ctx, kafka.Event{Key: event.FileID, Value: event}); err != nil {
		return fmt.Errorf("publishing index-complete for %s: %w", event.FileID, err)
	}
	return nil
}
