// Package retriever answers course queries by fanning out one lexical
// search per chunk kind and fusing the results into a single ranked list.
package retriever

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/chunk"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/embedding"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/searcher/merger"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/tracing"
)

// ChunkGetter loads full chunks for hydration.
type ChunkGetter interface {
	GetChunks(ctx context.Context, ids []string) ([]chunk.Chunk, error)
}

type Engine struct {
	index    indexer.SearchIndex
	chunks   ChunkGetter
	embedder embedding.Embedder
	cfg      config.RetrievalConfig
	metrics  *metrics.Metrics

	mu       sync.Mutex
	breakers map[chunk.Kind]*resilience.Breaker

	now    func() time.Time
	logger *slog.Logger
}

type Option func(*Engine)

// WithEmbedder blends query embeddings into index scoring.
func WithEmbedder(e embedding.Embedder) Option { return func(en *Engine) { en.embedder = e } }

func WithMetrics(m *metrics.Metrics) Option { return func(en *Engine) { en.metrics = m } }

func New(index indexer.SearchIndex, chunks ChunkGetter, cfg config.RetrievalConfig, opts ...Option) *Engine {
	defaults := config.Default().Retrieval
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = defaults.DefaultLimit
	}
	if cfg.MaxLimit < cfg.DefaultLimit {
		cfg.MaxLimit = max(defaults.MaxLimit, cfg.DefaultLimit)
	}
	if len(cfg.Allocation) == 0 {
		cfg.Allocation = defaults.Allocation
	}
	e := &Engine{
		index:    index,
		chunks:   chunks,
		cfg:      cfg,
		breakers: make(map[chunk.Kind]*resilience.Breaker),
		now:      time.Now,
		logger:   slog.Default().With("component", "retriever"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Prepare validates req and fills its defaults. The result is what
// Retrieve actually runs, so callers can key caches on it.
func (e *Engine) Prepare(req Request) (Request, error) {
	req, _, err := e.prepare(req)
	return req, err
}

func (e *Engine) prepare(req Request) (Request, []share, error) {
	req.CourseID = strings.TrimSpace(req.CourseID)
	req.Query = strings.TrimSpace(req.Query)
	fields := make(map[string]string)
	if req.CourseID == "" {
		fields["courseId"] = "is required"
	}
	if req.Query == "" {
		fields["q"] = "is required"
	}
	if req.Limit < 0 {
		fields["limit"] = "must not be negative"
	}
	if req.Limit == 0 {
		req.Limit = e.cfg.DefaultLimit
	}
	req.Limit = min(req.Limit, e.cfg.MaxLimit)
	if len(req.Allocation) == 0 {
		req.Allocation = e.cfg.Allocation
	}
	shares, allocFields := activeShares(req.Allocation)
	for k, v := range allocFields {
		fields[k] = v
	}
	if err := apperrors.NewValidationError(fields); err != nil {
		return req, nil, err
	}
	return req, shares, nil
}

type subQuery struct {
	slot   int
	kind   chunk.Kind
	limit  int
	offset int
}

type outcome struct {
	hits     []indexer.ScoredHit
	maxScore float64
	err      error
	done     bool
}

// Retrieve runs the fan-out, one compensation pass, normalisation, dedup
// and ordering. It fails with RetrievalUnavailable only when every
// sub-query failed on its own; a caller deadline instead yields whatever
// arrived, flagged Partial.
func (e *Engine) Retrieve(ctx context.Context, req Request) (*Result, error) {
	start := e.now()
	req, shares, err := e.prepare(req)
	if err != nil {
		return nil, err
	}
	log := logger.FromContext(ctx).With("component", "retriever", "course_id", req.CourseID)
	ctx, span := tracing.StartSpan(ctx, "retrieve", logger.RequestID(ctx))
	defer func() {
		span.End()
		span.Log(ctx, log)
	}()

	q := indexer.Query{Text: req.Query, CourseID: req.CourseID}
	if e.embedder != nil {
		vec, err := embedding.EmbedOne(ctx, e.embedder, req.Query)
		if err != nil {
			log.Warn("query embedding failed, using lexical scores only", "error", err)
		} else {
			q.Embedding = vec
		}
	}

	subs := subLimits(req.Limit, shares)
	calls := make([]subQuery, 0, len(shares))
	for i, s := range shares {
		if subs[i] > 0 {
			calls = append(calls, subQuery{slot: i, kind: s.kind, limit: subs[i]})
		}
	}
	results, cut := e.fanOut(ctx, q, calls, len(shares))

	failed := make([]bool, len(shares))
	failedKinds := make([]string, 0)
	var firstErr error
	for _, c := range calls {
		o := results[c.slot]
		if o.done && o.err == nil {
			continue
		}
		failed[c.slot] = true
		failedKinds = append(failedKinds, string(c.kind))
		e.metrics.SubQueryFailed(string(c.kind))
		if o.err != nil {
			if firstErr == nil {
				firstErr = o.err
			}
			log.Warn("sub-query failed", "kind", c.kind, "error", o.err)
		} else {
			log.Warn("sub-query cut off by caller deadline", "kind", c.kind)
		}
	}
	partial := cut || (ctx.Err() != nil && len(failedKinds) > 0)
	if len(calls) > 0 && len(failedKinds) == len(calls) && !partial {
		return nil, apperrors.Wrap(apperrors.ErrRetrievalUnavailable, firstErr,
			"all %d sub-queries failed for course %s", len(calls), req.CourseID)
	}

	if e.cfg.Compensation && !partial {
		got := make([]int, len(shares))
		for i := range shares {
			got[i] = len(results[i].hits)
		}
		extra := compensation(shares, subs, got, failed)
		more := make([]subQuery, 0)
		for i, n := range extra {
			if n > 0 {
				more = append(more, subQuery{slot: i, kind: shares[i].kind, limit: n, offset: got[i]})
			}
		}
		if len(more) > 0 {
			second, cut := e.fanOut(ctx, q, more, len(shares))
			for _, c := range more {
				o := second[c.slot]
				if !o.done || o.err != nil {
					e.metrics.SubQueryFailed(string(c.kind))
					log.Warn("compensation sub-query failed, keeping first pass", "kind", c.kind, "error", o.err)
					continue
				}
				results[c.slot].hits = append(results[c.slot].hits, o.hits...)
			}
			partial = partial || cut
		}
	}

	top := fuse(shares, results, req.Limit)
	res := &Result{
		Chunks:      make([]Hit, len(top)),
		Partial:     partial,
		FailedKinds: failedKinds,
	}
	for i, c := range top {
		res.Chunks[i] = hitFrom(c)
	}
	minHits := min(e.cfg.MinHits, req.Limit)
	res.LowConfidence = len(res.Chunks) == 0 ||
		res.TopScore() < e.cfg.LowConfidenceThreshold ||
		len(res.Chunks) < minHits

	if req.Hydrate {
		res = e.Hydrate(ctx, res)
	}
	res.QueryTimeMs = e.now().Sub(start).Milliseconds()
	log.Info("retrieval completed",
		"query", req.Query,
		"limit", req.Limit,
		"returned", len(res.Chunks),
		"top_score", res.TopScore(),
		"low_confidence", res.LowConfidence,
		"partial", res.Partial,
		"failed_kinds", res.FailedKinds,
		"latency_ms", res.QueryTimeMs,
	)
	return res, nil
}

// fanOut runs calls in parallel and collects their outcomes by slot. When
// ctx ends first it returns what has arrived and reports the cut.
func (e *Engine) fanOut(ctx context.Context, q indexer.Query, calls []subQuery, slots int) ([]outcome, bool) {
	out := make([]outcome, slots)
	type arrival struct {
		slot int
		res  *indexer.SearchResult
		err  error
	}
	ch := make(chan arrival, len(calls))
	for _, c := range calls {
		go func() {
			sq := q
			sq.Kind, sq.Limit, sq.Offset = c.kind, c.limit, c.offset
			sctx, span := tracing.StartChildSpan(ctx, "search."+string(c.kind))
			span.SetAttr("limit", c.limit)
			span.SetAttr("offset", c.offset)
			res, err := e.search(sctx, sq)
			if err != nil {
				span.SetAttr("error", err.Error())
			} else {
				span.SetAttr("hits", len(res.Hits))
			}
			span.End()
			ch <- arrival{slot: c.slot, res: res, err: err}
		}()
	}
	record := func(a arrival) {
		o := &out[a.slot]
		o.done = true
		if a.err != nil {
			o.err = a.err
			return
		}
		o.hits = a.res.Hits
		o.maxScore = a.res.MaxScore
	}
	for pending := len(calls); pending > 0; pending-- {
		select {
		case a := <-ch:
			record(a)
		case <-ctx.Done():
			for {
				select {
				case a := <-ch:
					record(a)
					pending--
					if pending == 0 {
						return out, false
					}
				default:
					return out, true
				}
			}
		}
	}
	return out, false
}

// search runs one sub-query under its kind's breaker and the per-query
// timeout. The caller's own cancellation does not count against the
// breaker.
func (e *Engine) search(ctx context.Context, q indexer.Query) (*indexer.SearchResult, error) {
	var res *indexer.SearchResult
	err := e.breaker(q.Kind).Do(ctx, func(ctx context.Context) error {
		var err error
		res, err = resilience.Bounded(ctx, e.cfg.SubQueryTimeout, "search "+string(q.Kind),
			func(ctx context.Context) (*indexer.SearchResult, error) {
				return e.index.Search(ctx, q)
			})
		return err
	})
	if err != nil {
		return nil, err
	}
	if res == nil {
		res = &indexer.SearchResult{}
	}
	return res, nil
}

func (e *Engine) breaker(kind chunk.Kind) *resilience.Breaker {
	e.mu.Lock()
	defer e.mu.Unlock()
	cb, ok := e.breakers[kind]
	if !ok {
		name := "search-" + string(kind)
		cb = resilience.NewBreaker(name, resilience.BreakerConfig{
			FailureThreshold: e.cfg.CircuitBreaker.FailureThreshold,
			ResetTimeout:     e.cfg.CircuitBreaker.ResetTimeout,
			OnStateChange: func(name string, to resilience.State) {
				e.metrics.SetBreakerState(name, int(to))
			},
		})
		e.breakers[kind] = cb
		e.logger.Debug("circuit breaker created", "kind", kind)
	}
	return cb
}

// BreakerState reports the circuit state for kind's sub-queries.
func (e *Engine) BreakerState(kind chunk.Kind) resilience.State {
	return e.breaker(kind).State()
}

// Hydrate returns a copy of res with Content filled from the chunk store.
// Hits whose chunk cannot be loaded keep only their snippet.
func (e *Engine) Hydrate(ctx context.Context, res *Result) *Result {
	out := *res
	out.Chunks = slices.Clone(res.Chunks)
	if len(out.Chunks) == 0 || e.chunks == nil {
		return &out
	}
	ids := make([]string, len(out.Chunks))
	for i, h := range out.Chunks {
		ids[i] = h.ChunkID
	}
	chunks, err := e.chunks.GetChunks(ctx, ids)
	if err != nil {
		logger.FromContext(ctx).Warn("hydration failed, returning snippets only",
			"component", "retriever", "error", err)
		return &out
	}
	byID := make(map[string]string, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c.Content
	}
	for i := range out.Chunks {
		out.Chunks[i].Content = byID[out.Chunks[i].ChunkID]
	}
	return &out
}

func hitFrom(c merger.Candidate) Hit {
	return Hit{
		ChunkID:     c.ChunkID,
		FileID:      c.FileID,
		Page:        c.Page,
		Score:       c.Normalized,
		Snippet:     c.Snippet,
		Kind:        c.Kind,
		Title:       c.Title,
		Heading:     c.Heading,
		HeadingPath: c.HeadingPath,
		ChunkIndex:  c.ChunkIndex,
	}
}
