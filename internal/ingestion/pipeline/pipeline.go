// Package pipeline runs the ingestion flow for one file: validate, chunk,
// embed, replace the chunk set in the store, update the search index and
// record index metadata.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/chunk"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/embedding"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/ingestion/chunker"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/ingestion/validator"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/resilience"
)

const (
	defaultLockTTL    = 2 * time.Minute
	rebuildConcurrent = 4
)

// Notifier announces that a file's chunk set changed.
type Notifier interface {
	NotifyIndexComplete(ctx context.Context, event ingestion.IndexCompleteEvent) error
}

// CacheInvalidator drops cached retrieval results for a course.
type CacheInvalidator interface {
	InvalidateCourse(ctx context.Context, courseID string) error
}

// fileLister is implemented by indexes that can enumerate their files, so
// Rebuild can drop files the store no longer has.
type fileLister interface {
	FileIDs() []string
}

type Pipeline struct {
	store      store.Backend
	index      indexer.SearchIndex
	chunker    *chunker.Chunker
	embedder   embedding.Embedder
	locker     Locker
	lockTTL    time.Duration
	notifier   Notifier
	cache      CacheInvalidator
	tracker    analytics.Tracker
	metrics    *metrics.Metrics
	storeRetry resilience.RetryConfig
	indexRetry resilience.RetryConfig
	now        func() time.Time
	logger     *slog.Logger
}

type Option func(*Pipeline)

func WithChunker(c *chunker.Chunker) Option { return func(p *Pipeline) { p.chunker = c } }

func WithEmbedder(e embedding.Embedder) Option { return func(p *Pipeline) { p.embedder = e } }

// WithLocker replaces the in-process locker. ttl bounds every locked run.
func WithLocker(l Locker, ttl time.Duration) Option {
	return func(p *Pipeline) {
		p.locker = l
		if ttl > 0 {
			p.lockTTL = ttl
		}
	}
}

func WithNotifier(n Notifier) Option { return func(p *Pipeline) { p.notifier = n } }

func WithCacheInvalidator(c CacheInvalidator) Option { return func(p *Pipeline) { p.cache = c } }

func WithTracker(t analytics.Tracker) Option { return func(p *Pipeline) { p.tracker = t } }

func WithMetrics(m *metrics.Metrics) Option { return func(p *Pipeline) { p.metrics = m } }

func WithRetry(storeRetry, indexRetry resilience.RetryConfig) Option {
	return func(p *Pipeline) {
		p.storeRetry = storeRetry
		p.indexRetry = indexRetry
	}
}

func New(backend store.Backend, index indexer.SearchIndex, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:   backend,
		index:   index,
		chunker: chunker.New(),
		locker:  NewLocalLocker(),
		lockTTL: defaultLockTTL,
		now:     time.Now,
		logger:  slog.Default().With("component", "ingest-pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func lockKey(fileID string) string { return "ingest:lock:" + fileID }

// lock takes the per-file lease and returns a context bounded by its TTL,
// so no write happens after the lease could have expired.
func (p *Pipeline) lock(ctx context.Context, fileID string) (context.Context, func(), error) {
	unlock, err := p.locker.Lock(ctx, lockKey(fileID))
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, apperrors.Wrap(apperrors.ErrTimeout, err, "waiting for lease on file %s", fileID)
		}
		return nil, nil, fmt.Errorf("locking file %s: %w", fileID, err)
	}
	lctx, cancel := context.WithTimeout(ctx, p.lockTTL)
	return lctx, func() {
		cancel()
		unlock()
	}, nil
}

// Ingest runs the full pipeline for req. On a StoreWriteError the previous
// chunk set and meta are left as they were. A failed index update still
// returns a result, with status degraded.
func (p *Pipeline) Ingest(ctx context.Context, req *ingestion.Request) (res *ingestion.Result, err error) {
	start := p.now()
	log := logger.FromContext(ctx).With("component", "ingest-pipeline")
	defer func() {
		status := "failed"
		switch {
		case err == nil:
			status = string(res.Status)
		case apperrors.IsValidation(err):
			status = "invalid"
		}
		elapsed := p.now().Sub(start)
		written := 0
		if res != nil && res.Status != ingestion.StatusUnchanged {
			written = res.ChunkCount
		}
		p.metrics.ObserveIngest(status, elapsed.Seconds(), written)
		if p.tracker != nil {
			p.tracker.Track(analytics.NewIngestEvent(analytics.IngestEvent{
				CourseID:   req.CourseID,
				FileID:     req.FileID,
				Status:     status,
				ChunkCount: written,
				LatencyMs:  elapsed.Milliseconds(),
			}))
		}
	}()

	if err := validator.ValidateRequest(req); err != nil {
		return nil, err
	}
	log = log.With("course_id", req.CourseID, "file_id", req.FileID)

	ctx, unlock, err := p.lock(ctx, req.FileID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	prev, err := p.store.GetMeta(ctx, req.CourseID, req.FileID)
	if err != nil && !apperrors.IsNotFound(err) {
		return nil, fmt.Errorf("reading index meta: %w", err)
	}
	if !req.Force && prev != nil && prev.ContentHash == req.ContentHash && !prev.IndexStale {
		log.Info("content unchanged, skipping", "chunk_count", prev.ChunkCount)
		return &ingestion.Result{Status: ingestion.StatusUnchanged, ChunkCount: prev.ChunkCount}, nil
	}

	chunks := p.chunker.Chunk(req)
	if len(chunks) == 0 {
		return nil, apperrors.NewValidationError(map[string]string{
			"segments": "segments contain no indexable text",
		})
	}
	if err := chunk.ValidateBatch(req.FileID, chunks); err != nil {
		return nil, err
	}

	res = &ingestion.Result{Status: ingestion.StatusIndexed, ChunkCount: len(chunks)}
	if p.embedder != nil {
		if err := p.embed(ctx, chunks); err != nil {
			log.Warn("embedding failed, continuing lexical-only", "error", err)
			res.Warnings = append(res.Warnings, "embeddings unavailable; indexed lexically only")
		}
	}

	old, err := p.store.ListByFile(ctx, req.FileID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStoreWrite, err, "reading current chunks of %s", req.FileID)
	}
	stale := staleIDs(old, chunks)
	if len(stale) > 0 {
		err := resilience.Retry(ctx, "index-delete-stale", p.indexRetry, func() error {
			return p.index.DeleteChunks(ctx, stale)
		})
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrIndexWrite, err, "removing %d stale index entries of %s", len(stale), req.FileID)
		}
	}

	err = resilience.Retry(ctx, "store-upsert", p.storeRetry, func() error {
		return p.store.UpsertChunks(ctx, req.FileID, chunks)
	})
	if err != nil {
		if len(stale) > 0 {
			// the old set is still stored; put its entries back
			if rerr := p.index.IndexChunks(ctx, old); rerr != nil {
				log.Warn("failed to restore index entries after store failure", "error", rerr)
			}
		}
		if apperrors.IsValidation(err) {
			return nil, err
		}
		return nil, apperrors.Wrap(apperrors.ErrStoreWrite, err, "replacing chunks of %s", req.FileID)
	}
	// a file that moved courses leaves its old meta behind
	if len(old) > 0 && old[0].CourseID != req.CourseID {
		if err := p.store.DeleteMeta(ctx, old[0].CourseID, req.FileID); err != nil && !apperrors.IsNotFound(err) {
			log.Warn("failed to drop meta of previous course", "previous_course_id", old[0].CourseID, "error", err)
		}
	}

	err = resilience.Retry(ctx, "index-chunks", p.indexRetry, func() error {
		return p.index.IndexChunks(ctx, chunks)
	})
	if err != nil {
		log.Error("search index update failed, chunks stored but not searchable", "error", err)
		res.Status = ingestion.StatusDegraded
		res.Warnings = append(res.Warnings, "search index update failed; chunks are stored and will be indexed on the next ingest or reindex")
	}

	meta := chunk.IndexMeta{
		CourseID:     req.CourseID,
		FileID:       req.FileID,
		ChunkCount:   len(chunks),
		OCRUsed:      req.OCRUsed,
		ContentBytes: chunk.ContentBytes(chunks),
		LastIndexed:  p.now().UTC(),
		ContentHash:  req.ContentHash,
		IndexStale:   res.Status == ingestion.StatusDegraded,
	}
	if err := p.store.UpsertMeta(ctx, meta); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStoreWrite, err, "writing index meta of %s", req.FileID)
	}

	p.announce(ctx, ingestion.IndexCompleteEvent{
		CourseID:   req.CourseID,
		FileID:     req.FileID,
		ChunkCount: len(chunks),
		Status:     res.Status,
	})
	log.Info("file ingested",
		"status", res.Status,
		"chunk_count", len(chunks),
		"stale_removed", len(stale),
		"duration", p.now().Sub(start),
	)
	return res, nil
}

func (p *Pipeline) embed(ctx context.Context, chunks []chunk.Chunk) error {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.SearchText()
	}
	vecs, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}
	if len(vecs) != len(chunks) {
		return fmt.Errorf("embedder returned %d vectors for %d chunks", len(vecs), len(chunks))
	}
	for i := range chunks {
		chunks[i].Embedding = vecs[i]
		chunks[i].ID = chunk.StableID(chunks[i])
	}
	return nil
}

// staleIDs lists ids in old that are absent from next.
func staleIDs(old, next []chunk.Chunk) []string {
	keep := make(map[string]struct{}, len(next))
	for _, c := range next {
		keep[c.ID] = struct{}{}
	}
	var stale []string
	for _, c := range old {
		if _, ok := keep[c.ID]; !ok {
			stale = append(stale, c.ID)
		}
	}
	return stale
}

// announce publishes the change and drops cached retrievals for the course.
// Both are best-effort.
func (p *Pipeline) announce(ctx context.Context, event ingestion.IndexCompleteEvent) {
	event.At = p.now().UTC()
	if p.notifier != nil {
		if err := p.notifier.NotifyIndexComplete(ctx, event); err != nil {
			p.logger.Warn("failed to publish index-complete event",
				"course_id", event.CourseID, "file_id", event.FileID, "error", err)
		}
	}
	if p.cache != nil {
		if err := p.cache.InvalidateCourse(ctx, event.CourseID); err != nil {
			p.logger.Warn("failed to invalidate retrieval cache", "course_id", event.CourseID, "error", err)
		}
	}
}

// DeleteFile removes a file from the index, then the store, then the meta.
// It returns the number of chunks deleted.
func (p *Pipeline) DeleteFile(ctx context.Context, courseID, fileID string) (int, error) {
	if err := requireIDs(courseID, fileID); err != nil {
		return 0, err
	}
	ctx, unlock, err := p.lock(ctx, fileID)
	if err != nil {
		return 0, err
	}
	defer unlock()

	existing, err := p.store.ListByFile(ctx, fileID)
	if err != nil {
		return 0, fmt.Errorf("reading chunks of %s: %w", fileID, err)
	}
	_, metaErr := p.store.GetMeta(ctx, courseID, fileID)
	if metaErr != nil && !apperrors.IsNotFound(metaErr) {
		return 0, fmt.Errorf("reading index meta: %w", metaErr)
	}
	if (len(existing) == 0 && metaErr != nil) || (len(existing) > 0 && existing[0].CourseID != courseID) {
		return 0, apperrors.NotFoundf("file %s not found in course %s", fileID, courseID)
	}

	err = resilience.Retry(ctx, "index-delete-file", p.indexRetry, func() error {
		return p.index.DeleteByFile(ctx, fileID)
	})
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrIndexWrite, err, "removing index entries of %s", fileID)
	}
	var deleted int
	err = resilience.Retry(ctx, "store-delete-file", p.storeRetry, func() error {
		n, err := p.store.DeleteByFile(ctx, fileID)
		deleted = n
		return err
	})
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStoreWrite, err, "deleting chunks of %s", fileID)
	}
	if err := p.store.DeleteMeta(ctx, courseID, fileID); err != nil && !apperrors.IsNotFound(err) {
		return deleted, apperrors.Wrap(apperrors.ErrStoreWrite, err, "deleting index meta of %s", fileID)
	}

	p.announce(ctx, ingestion.IndexCompleteEvent{
		CourseID: courseID,
		FileID:   fileID,
		Status:   ingestion.StatusDeleted,
		Deleted:  true,
	})
	logger.FromContext(ctx).Info("file deleted", "course_id", courseID, "file_id", fileID, "chunks", deleted)
	return deleted, nil
}

// ReindexFile makes the index mirror the store for one file and clears the
// meta's stale flag. An empty courseID skips the ownership check. It
// returns the number of chunks indexed.
func (p *Pipeline) ReindexFile(ctx context.Context, courseID, fileID string) (int, error) {
	if fileID == "" {
		return 0, apperrors.NewValidationError(map[string]string{"fileId": "fileId is required"})
	}
	ctx, unlock, err := p.lock(ctx, fileID)
	if err != nil {
		return 0, err
	}
	defer unlock()
	return p.reindexLocked(ctx, courseID, fileID)
}

func (p *Pipeline) reindexLocked(ctx context.Context, courseID, fileID string) (int, error) {
	chunks, err := p.store.ListByFile(ctx, fileID)
	if err != nil {
		return 0, fmt.Errorf("reading chunks of %s: %w", fileID, err)
	}
	if courseID != "" && len(chunks) > 0 && chunks[0].CourseID != courseID {
		return 0, apperrors.NotFoundf("file %s not found in course %s", fileID, courseID)
	}

	err = resilience.Retry(ctx, "index-reindex-file", p.indexRetry, func() error {
		if err := p.index.DeleteByFile(ctx, fileID); err != nil {
			return err
		}
		return p.index.IndexChunks(ctx, chunks)
	})
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrIndexWrite, err, "reindexing %s", fileID)
	}

	if len(chunks) > 0 {
		owner := chunks[0].CourseID
		meta, err := p.store.GetMeta(ctx, owner, fileID)
		switch {
		case err == nil && meta.IndexStale:
			meta.IndexStale = false
			if err := p.store.UpsertMeta(ctx, *meta); err != nil {
				return len(chunks), apperrors.Wrap(apperrors.ErrStoreWrite, err, "clearing stale flag of %s", fileID)
			}
		case err != nil && !apperrors.IsNotFound(err):
			return len(chunks), fmt.Errorf("reading index meta: %w", err)
		}
	}
	return len(chunks), nil
}

// RebuildReport summarises a full rebuild.
type RebuildReport struct {
	Files   int `json:"files"`
	Chunks  int `json:"chunks"`
	Failed  int `json:"failed"`
	Removed int `json:"removed"`
}

// Rebuild reindexes every file in the store. Per-file failures are counted
// and logged; the first one is returned after all files were attempted.
func (p *Pipeline) Rebuild(ctx context.Context) (RebuildReport, error) {
	start := p.now()
	fileIDs, err := p.store.FileIDs(ctx)
	if err != nil {
		return RebuildReport{}, fmt.Errorf("listing files: %w", err)
	}

	var (
		report   RebuildReport
		chunks   atomic.Int64
		failed   atomic.Int64
		firstErr error
		errOnce  atomic.Bool
	)
	report.Files = len(fileIDs)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(rebuildConcurrent)
	for _, fileID := range fileIDs {
		g.Go(func() error {
			n, err := p.ReindexFile(gctx, "", fileID)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failed.Add(1)
				if errOnce.CompareAndSwap(false, true) {
					firstErr = err
				}
				p.logger.Error("reindex failed", "file_id", fileID, "error", err)
				return nil
			}
			chunks.Add(int64(n))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}
	report.Chunks = int(chunks.Load())
	report.Failed = int(failed.Load())

	if lister, ok := p.index.(fileLister); ok {
		inStore := make(map[string]struct{}, len(fileIDs))
		for _, id := range fileIDs {
			inStore[id] = struct{}{}
		}
		for _, id := range lister.FileIDs() {
			if _, ok := inStore[id]; ok {
				continue
			}
			if err := p.index.DeleteByFile(ctx, id); err != nil {
				p.logger.Warn("failed to drop orphaned index file", "file_id", id, "error", err)
				continue
			}
			report.Removed++
		}
	}

	if stats, err := p.index.Stats(ctx); err == nil {
		p.metrics.SetIndexedChunks(stats.Chunks)
	}
	p.logger.Info("index rebuilt",
		"files", report.Files,
		"chunks", report.Chunks,
		"failed", report.Failed,
		"orphans_removed", report.Removed,
		"duration", p.now().Sub(start),
	)
	if firstErr != nil {
		return report, fmt.Errorf("%d of %d files failed to reindex: %w", report.Failed, report.Files, firstErr)
	}
	return report, nil
}

// Meta returns the index metadata of one file.
func (p *Pipeline) Meta(ctx context.Context, courseID, fileID string) (*chunk.IndexMeta, error) {
	if err := requireIDs(courseID, fileID); err != nil {
		return nil, err
	}
	return p.store.GetMeta(ctx, courseID, fileID)
}

// CourseStatus reports chunk counts per kind and every file's meta.
type CourseStatus struct {
	CourseID string             `json:"courseId"`
	Counts   map[chunk.Kind]int `json:"counts"`
	Files    []chunk.IndexMeta  `json:"files"`
}

func (p *Pipeline) Status(ctx context.Context, courseID string) (*CourseStatus, error) {
	if courseID == "" {
		return nil, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "course id is required")
	}
	counts, err := p.store.CountByCourseAndKind(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("counting chunks: %w", err)
	}
	metas, err := p.store.ListMeta(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("listing index meta: %w", err)
	}
	if metas == nil {
		metas = []chunk.IndexMeta{}
	}
	return &CourseStatus{CourseID: courseID, Counts: counts, Files: metas}, nil
}

// ListChunks returns one file's chunks, checking it belongs to courseID.
func (p *Pipeline) ListChunks(ctx context.Context, courseID, fileID string) ([]chunk.Chunk, error) {
	if err := requireIDs(courseID, fileID); err != nil {
		return nil, err
	}
	chunks, err := p.store.ListByFile(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("listing chunks of %s: %w", fileID, err)
	}
	if len(chunks) == 0 || chunks[0].CourseID != courseID {
		return nil, apperrors.NotFoundf("file %s not found in course %s", fileID, courseID)
	}
	return chunks, nil
}

func requireIDs(courseID, fileID string) error {
	fields := make(map[string]string)
	if courseID == "" {
		fields["courseId"] = "courseId is required"
	}
	if fileID == "" {
		fields["fileId"] = "fileId is required"
	}
	return apperrors.NewValidationError(fields)
}

// IsRetryable reports whether a failed Ingest may succeed on redelivery.
func IsRetryable(err error) bool {
	return err != nil && !apperrors.IsValidation(err) && !apperrors.IsNotFound(err) &&
		!errors.Is(err, apperrors.ErrInvalidInput)
}
