// Package aggregator persists periodic snapshots of aggregated analytics
// stats in the chunk store's database.
package aggregator

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/analytics"
)

// Store reads and writes the analytics_snapshots table created by the chunk
// store migrations. bind renders the driver's placeholder for argument n.
type Store struct {
	db     *sql.DB
	bind   func(n int) string
	now    func() time.Time
	logger *slog.Logger
}

func NewStore(db *sql.DB, bind func(n int) string) *Store {
	return &Store{
		db:     db,
		bind:   bind,
		now:    time.Now,
		logger: slog.Default().With("component", "analytics-store"),
	}
}

func (s *Store) SaveSnapshot(ctx context.Context, stats analytics.AggregatedStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshaling stats: %w", err)
	}
	q := fmt.Sprintf(`INSERT INTO analytics_snapshots (data, captured_at) VALUES (%s, %s)`, s.bind(1), s.bind(2))
	if _, err := s.db.ExecContext(ctx, q, string(data), s.now().UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("saving analytics snapshot: %w", err)
	}
	s.logger.Debug("analytics snapshot saved",
		"total_retrievals", stats.TotalRetrievals,
		"chunks_ingested", stats.ChunksIngested,
	)
	return nil
}

// ListSnapshots returns the last limit snapshots, newest first.
func (s *Store) ListSnapshots(ctx context.Context, limit int) ([]analytics.Snapshot, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT data, captured_at FROM analytics_snapshots ORDER BY id DESC LIMIT %s`, s.bind(1)),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	defer rows.Close()

	snapshots := []analytics.Snapshot{}
	for rows.Next() {
		var (
			data       []byte
			capturedAt any
		)
		if err := rows.Scan(&data, &capturedAt); err != nil {
			return nil, fmt.Errorf("scanning snapshot row: %w", err)
		}
		var snap analytics.Snapshot
		if err := json.Unmarshal(data, &snap.Stats); err != nil {
			s.logger.Warn("skipping corrupt snapshot", "error", err)
			continue
		}
		snap.CapturedAt = parseTime(capturedAt)
		snapshots = append(snapshots, snap)
	}
	return snapshots, rows.Err()
}

// parseTime accepts the driver's native timestamp or the RFC 3339 text
// written on SQLite.
func parseTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t.UTC()
	case string:
		parsed, _ := time.Parse(time.RFC3339Nano, t)
		return parsed
	case []byte:
		parsed, _ := time.Parse(time.RFC3339Nano, string(t))
		return parsed
	}
	return time.Time{}
}

// StartPeriodicSave snapshots agg every interval until ctx is cancelled,
// with a final snapshot on shutdown.
func (s *Store) StartPeriodicSave(ctx context.Context, agg *analytics.Aggregator, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := s.SaveSnapshot(ctx, agg.Stats()); err != nil {
					s.logger.Error("periodic snapshot failed", "error", err)
				}
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := s.SaveSnapshot(shutdownCtx, agg.Stats()); err != nil {
					s.logger.Error("final snapshot failed", "error", err)
				}
				return
			}
		}
	}()
	s.logger.Info("periodic snapshot started", "interval", interval)
}
