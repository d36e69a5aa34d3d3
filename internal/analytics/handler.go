package analytics

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// Snapshot is a persisted copy of AggregatedStats.
type Snapshot struct {
	Stats      AggregatedStats `json:"stats"`
	CapturedAt time.Time       `json:"captured_at"`
}

type SnapshotLister interface {
	ListSnapshots(ctx context.Context, limit int) ([]Snapshot, error)
}

type Handler struct {
	aggregator *Aggregator
	history    SnapshotLister
	logger     *slog.Logger
}

// NewHandler serves live stats; history may be nil.
func NewHandler(aggregator *Aggregator, history SnapshotLister) *Handler {
	return &Handler{
		aggregator: aggregator,
		history:    history,
		logger:     slog.Default().With("component", "analytics-handler"),
	}
}

// Stats writes the live aggregate. With ?history=N the last N persisted
// snapshots are included.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	resp := struct {
		Current AggregatedStats `json:"current"`
		History []Snapshot      `json:"history,omitempty"`
	}{Current: h.aggregator.Stats()}

	if v := r.URL.Query().Get("history"); v != "" && h.history != nil {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 100 {
			h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "history must be an integer in [1,100]"})
			return
		}
		snaps, err := h.history.ListSnapshots(r.Context(), n)
		if err != nil {
			h.logger.Error("listing analytics snapshots", "error", err)
			h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "analytics history unavailable"})
			return
		}
		resp.History = snaps
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to write analytics response", "error", err)
	}
}
