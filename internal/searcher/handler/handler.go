// Package handler serves course retrieval over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/searcher/retriever"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/metrics"
)

type Retriever interface {
	Prepare(req retriever.Request) (retriever.Request, error)
	Retrieve(ctx context.Context, req retriever.Request) (*retriever.Result, error)
	Hydrate(ctx context.Context, res *retriever.Result) *retriever.Result
}

type Handler struct {
	retriever Retriever
	cache     *cache.QueryCache
	tracker   analytics.Tracker
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// New wires the retrieval endpoints. queryCache and tracker may be nil.
func New(r Retriever, queryCache *cache.QueryCache, tracker analytics.Tracker, m *metrics.Metrics) *Handler {
	return &Handler{
		retriever: r,
		cache:     queryCache,
		tracker:   tracker,
		metrics:   m,
		logger:    slog.Default().With("component", "retrieval-handler"),
	}
}

// Routes mounts the per-course endpoints on the /api/v1/courses/{courseID}
// subrouter.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/retrieve", h.Retrieve)
	r.Post("/cache/invalidate", h.CacheInvalidate)
}

func (h *Handler) Retrieve(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	req, err := parseRequest(r)
	if err != nil {
		h.writeErr(ctx, w, err)
		return
	}
	req, err = h.retriever.Prepare(req)
	if err != nil {
		h.writeErr(ctx, w, err)
		return
	}
	hydrate := req.Hydrate
	req.Hydrate = false

	var result *retriever.Result
	cacheHit := false
	compute := func() (*retriever.Result, error) { return h.retriever.Retrieve(ctx, req) }
	if h.cache != nil {
		result, cacheHit, err = h.cache.GetOrCompute(ctx, req, compute)
	} else {
		result, err = compute()
	}
	if err != nil {
		h.metrics.ObserveRetrieval(outcomeFor(nil, err), time.Since(start).Seconds(), 0, false)
		h.writeErr(ctx, w, err)
		return
	}

	// results may be shared with the cache and other callers
	if hydrate {
		result = h.retriever.Hydrate(ctx, result)
	} else {
		copied := *result
		result = &copied
	}
	result.QueryTimeMs = time.Since(start).Milliseconds()

	h.metrics.ObserveRetrieval(outcomeFor(result, nil), time.Since(start).Seconds(), len(result.Chunks), result.LowConfidence)
	log.Info("retrieval served",
		"course_id", req.CourseID,
		"returned", len(result.Chunks),
		"cache_hit", cacheHit,
		"latency_ms", result.QueryTimeMs,
	)
	if h.tracker != nil {
		h.tracker.Track(analytics.NewRetrievalEvent(analytics.RetrievalEvent{
			CourseID:      req.CourseID,
			Query:         req.Query,
			Limit:         req.Limit,
			Returned:      len(result.Chunks),
			TopScore:      result.TopScore(),
			LowConfidence: result.LowConfidence,
			Partial:       result.Partial,
			FailedKinds:   result.FailedKinds,
			CacheHit:      cacheHit,
			LatencyMs:     result.QueryTimeMs,
			RequestID:     logger.RequestID(ctx),
		}))
	}
	if h.cache != nil {
		w.Header().Set(CacheHeader, cacheHeaderValue(cacheHit))
	}
	h.writeJSON(w, http.StatusOK, result)
}

// CacheHeader reports whether a retrieval was served from the result cache.
const CacheHeader = "X-Cache"

func cacheHeaderValue(hit bool) string {
	if hit {
		return "HIT"
	}
	return "MISS"
}

func outcomeFor(res *retriever.Result, err error) string {
	switch {
	case apperrors.IsValidation(err):
		return "invalid"
	case errors.Is(err, apperrors.ErrRetrievalUnavailable):
		return "unavailable"
	case err != nil:
		return "error"
	case res.Partial:
		return "partial"
	case len(res.FailedKinds) > 0:
		return "degraded"
	}
	return "ok"
}

// parseRequest reads q, limit, hydrate and allocation ("pdf:0.7,platform:0.3").
func parseRequest(r *http.Request) (retriever.Request, error) {
	params := r.URL.Query()
	req := retriever.Request{
		CourseID: chi.URLParam(r, "courseID"),
		Query:    params.Get("q"),
	}
	fields := make(map[string]string)
	if s := params.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			fields["limit"] = "must be a positive integer"
		}
		req.Limit = n
	}
	if s := params.Get("hydrate"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			fields["hydrate"] = "must be a boolean"
		}
		req.Hydrate = b
	}
	if s := params.Get("allocation"); s != "" {
		alloc, err := parseAllocation(s)
		if err != nil {
			fields["allocation"] = err.Error()
		}
		req.Allocation = alloc
	}
	if err := apperrors.NewValidationError(fields); err != nil {
		return req, err
	}
	return req, nil
}

func parseAllocation(s string) ([]config.KindShare, error) {
	parts := strings.Split(s, ",")
	out := make([]config.KindShare, 0, len(parts))
	for _, p := range parts {
		kind, weight, ok := strings.Cut(strings.TrimSpace(p), ":")
		if !ok {
			return nil, fmt.Errorf("entry %q is not kind:weight", p)
		}
		w, err := strconv.ParseFloat(weight, 64)
		if err != nil {
			return nil, fmt.Errorf("entry %q has an invalid weight", p)
		}
		out = append(out, config.KindShare{Kind: kind, Weight: w})
	}
	return out, nil
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}

	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}
	courseID := chi.URLParam(r, "courseID")
	if err := h.cache.InvalidateCourse(r.Context(), courseID); err != nil {
		logger.FromContext(r.Context()).Error("cache invalidation failed", "course_id", courseID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated", "courseId": courseID})
}

func (h *Handler) writeErr(ctx context.Context, w http.ResponseWriter, err error) {
	var verr *apperrors.ValidationError
	if errors.As(err, &verr) {
		h.writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "validation failed",
			"fields": verr.Fields,
		})
		return
	}
	status := apperrors.HTTPStatusCode(err)
	if status >= http.StatusInternalServerError {
		logger.FromContext(ctx).Error("retrieval failed", "error", err, "status_code", status)
	}
	h.writeError(w, status, err.Error())
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
