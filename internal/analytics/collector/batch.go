// Package collector buffers analytics events and publishes them to Kafka in
// batches.
package collector

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/kafka"
)

// Publisher is the subset of kafka.Producer the collector needs.
type Publisher interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

var _ analytics.Tracker = (*BatchCollector)(nil)

// BatchCollector flushes when the buffer reaches batchSize events or after
// flushInterval, whichever comes first. At most maxBuffered events are kept
// while Kafka is unreachable.
type BatchCollector struct {
	producer      Publisher
	mu            sync.Mutex
	buffer        []kafka.Event
	batchSize     int
	maxBuffered   int
	flushInterval time.Duration
	flushing      sync.Mutex
	logger        *slog.Logger
	done          chan struct{}
}

func NewBatchCollector(producer Publisher, batchSize int, flushInterval time.Duration) *BatchCollector {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	return &BatchCollector{
		producer:      producer,
		buffer:        make([]kafka.Event, 0, batchSize),
		batchSize:     batchSize,
		maxBuffered:   batchSize * 3,
		flushInterval: flushInterval,
		logger:        slog.Default().With("component", "analytics-collector"),
		done:          make(chan struct{}),
	}
}

// Start launches the background flush loop.
func (bc *BatchCollector) Start(ctx context.Context) {
	go func() {
		defer close(bc.done)
		ticker := time.NewTicker(bc.flushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				bc.Flush(ctx)
			case <-ctx.Done():
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				bc.Flush(flushCtx)
				cancel()
				return
			}
		}
	}()
	bc.logger.Info("analytics collector started",
		"batch_size", bc.batchSize,
		"flush_interval", bc.flushInterval,
	)
}

// Track buffers event keyed by course so one course's events stay ordered.
func (bc *BatchCollector) Track(event any) {
	bc.mu.Lock()
	if len(bc.buffer) >= bc.maxBuffered {
		bc.mu.Unlock()
		bc.logger.Warn("analytics event dropped (buffer full)")
		return
	}
	bc.buffer = append(bc.buffer, kafka.Event{Key: eventKey(event), Value: event})
	shouldFlush := len(bc.buffer) >= bc.batchSize
	bc.mu.Unlock()

	if shouldFlush {
		go bc.Flush(context.Background())
	}
}

func eventKey(event any) string {
	switch e := event.(type) {
	case analytics.RetrievalEvent:
		return e.CourseID
	case analytics.IngestEvent:
		return e.CourseID
	}
	return "analytics"
}

// Close waits for the flush loop started by Start to finish.
func (bc *BatchCollector) Close() {
	<-bc.done
}

func (bc *BatchCollector) BufferLen() int {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return len(bc.buffer)
}

// Flush publishes the buffered events. Failed batches are put back at the
// front of the buffer, trimmed to maxBuffered.
func (bc *BatchCollector) Flush(ctx context.Context) {
	bc.flushing.Lock()
	defer bc.flushing.Unlock()

	bc.mu.Lock()
	if len(bc.buffer) == 0 {
		bc.mu.Unlock()
		return
	}
	batch := bc.buffer
	bc.buffer = make([]kafka.Event, 0, bc.batchSize)
	bc.mu.Unlock()

	if err := bc.producer.PublishBatch(ctx, batch); err != nil {
		bc.logger.Error("batch flush failed",
			"batch_size", len(batch),
			"error", err,
		)
		bc.mu.Lock()
		bc.buffer = append(batch, bc.buffer...)
		if len(bc.buffer) > bc.maxBuffered {
			dropped := len(bc.buffer) - bc.maxBuffered
			bc.buffer = bc.buffer[:bc.maxBuffered]
			bc.logger.Warn("buffer overflow, events dropped", "dropped", dropped)
		}
		bc.mu.Unlock()
		return
	}
	bc.logger.Debug("batch flushed", "events", len(batch))
}
