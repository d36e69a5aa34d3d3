// Package handler exposes the ingestion pipeline and the index metadata
// tracker over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/ingestion/pipeline"
	apperrors "github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/logger"
)

const maxBodyBytes = 64 << 20

// Submitter queues requests for asynchronous ingestion.
type Submitter interface {
	Submit(ctx context.Context, req *ingestion.Request) error
}

type Handler struct {
	pipeline  *pipeline.Pipeline
	submitter Submitter
	logger    *slog.Logger
}

// New serves p. submitter may be nil, which disables ?async=true.
func New(p *pipeline.Pipeline, submitter Submitter) *Handler {
	return &Handler{
		pipeline:  p,
		submitter: submitter,
		logger:    slog.Default().With("component", "ingestion-handler"),
	}
}

// Routes mounts the file and course-status endpoints on r, which is expected
// to be the /api/v1/courses/{courseID} subrouter.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/status", h.Status)
	r.Route("/files/{fileID}", func(r chi.Router) {
		r.Post("/ingest", h.Ingest)
		r.Delete("/", h.Delete)
		r.Get("/meta", h.Meta)
		r.Get("/chunks", h.Chunks)
	})
}

func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	courseID, fileID := chi.URLParam(r, "courseID"), chi.URLParam(r, "fileID")

	var req ingestion.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if (req.CourseID != "" && req.CourseID != courseID) || (req.FileID != "" && req.FileID != fileID) {
		h.writeErr(ctx, w, apperrors.NewValidationError(map[string]string{
			"body": "courseId and fileId in the body must match the path",
		}))
		return
	}
	req.CourseID, req.FileID = courseID, fileID

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		if h.submitter == nil {
			h.writeError(w, http.StatusNotImplemented, "asynchronous ingestion is not enabled")
			return
		}
		if err := h.submitter.Submit(ctx, &req); err != nil {
			h.writeErr(ctx, w, err)
			return
		}
		h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "fileId": fileID})
		return
	}

	res, err := h.pipeline.Ingest(ctx, &req)
	if err != nil {
		h.writeErr(ctx, w, err)
		return
	}
	status := http.StatusOK
	if res.Status == ingestion.StatusDegraded {
		status = http.StatusAccepted
	}
	h.writeJSON(w, status, res)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	n, err := h.pipeline.DeleteFile(r.Context(), chi.URLParam(r, "courseID"), chi.URLParam(r, "fileID"))
	if err != nil {
		h.writeErr(r.Context(), w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

func (h *Handler) Meta(w http.ResponseWriter, r *http.Request) {
	meta, err := h.pipeline.Meta(r.Context(), chi.URLParam(r, "courseID"), chi.URLParam(r, "fileID"))
	if err != nil {
		h.writeErr(r.Context(), w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, meta)
}

func (h *Handler) Chunks(w http.ResponseWriter, r *http.Request) {
	chunks, err := h.pipeline.ListChunks(r.Context(), chi.URLParam(r, "courseID"), chi.URLParam(r, "fileID"))
	if err != nil {
		h.writeErr(r.Context(), w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"chunks": chunks, "count": len(chunks)})
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.pipeline.Status(r.Context(), chi.URLParam(r, "courseID"))
	if err != nil {
		h.writeErr(r.Context(), w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, st)
}

// writeErr maps err onto a status code. Validation failures carry their
// field map; server-side failures are logged and reported generically.
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
		logger.FromContext(ctx).Error("ingestion request failed", "error", err, "status_code", status)
		h.writeError(w, status, http.StatusText(status))
		return
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
