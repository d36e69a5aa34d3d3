// Package bootstrap assembles the engine from configuration: chunk store,
// search index, embedder, cache, Kafka producers, ingestion pipeline and
// retriever. Every binary builds on the same App so the three entry points
// cannot drift apart.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/analytics/aggregator"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/analytics/collector"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/embedding"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/indexer/pgindex"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/ingestion/chunker"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/ingestion/pipeline"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/ingestion/publisher"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/searcher/retriever"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/store"
	pgstore "github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/store/postgres"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/store/sqlite"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/metrics"
	pgclient "github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/resilience"
)

const (
	analyticsBatchSize     = 100
	analyticsFlushInterval = 2 * time.Second
)

// Options selects the optional parts of the App.
type Options struct {
	// Metrics registers Prometheus collectors on the default registry.
	Metrics bool
	// Analytics sets up the aggregator and, with Kafka, the event collector.
	Analytics bool
	// Redis connects the retrieval cache and the distributed ingest lease.
	Redis bool
	// Kafka creates the index.complete and chunk-ingest producers.
	Kafka bool
}

type App struct {
	Config    *config.Config
	Store     store.Backend
	Index     indexer.SearchIndex
	Embedder  embedding.Embedder
	Redis     *pkgredis.Client
	Cache     *cache.QueryCache
	Metrics   *metrics.Metrics
	Publisher *publisher.Publisher
	Pipeline  *pipeline.Pipeline
	Retriever *retriever.Engine
	Health    *health.Checker

	Aggregator *analytics.Aggregator
	Snapshots  *aggregator.Store
	Collector  *collector.BatchCollector
	Tracker    analytics.Tracker

	closers []func() error
	logger  *slog.Logger
}

// New builds the App. On error everything opened so far is closed.
func New(ctx context.Context, cfg *config.Config, opts Options) (app *App, err error) {
	a := &App{
		Config: cfg,
		Health: health.NewChecker(),
		logger: slog.Default().With("component", "bootstrap"),
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()
	if opts.Metrics {
		a.Metrics = metrics.New(nil)
	}

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}
	if a.Embedder, err = embedding.New(cfg.Embedding); err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	if err := a.openIndex(ctx); err != nil {
		return nil, err
	}
	if opts.Redis {
		a.connectRedis()
	}
	if opts.Kafka && cfg.Kafka.Enabled() {
		requests := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.ChunkIngest)
		completions := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexComplete)
		a.closers = append(a.closers, requests.Close, completions.Close)
		a.Publisher = publisher.New(requests, completions)
	}
	if opts.Analytics {
		a.setupAnalytics(ctx)
	}

	a.Pipeline = pipeline.New(a.Store, a.Index, a.pipelineOptions()...)
	retrieverOpts := []retriever.Option{retriever.WithMetrics(a.Metrics)}
	if a.Embedder != nil {
		retrieverOpts = append(retrieverOpts, retriever.WithEmbedder(a.Embedder))
	}
	a.Retriever = retriever.New(a.Index, a.Store, cfg.Retrieval, retrieverOpts...)

	a.Health.Register("chunk_store", health.PingCheck(a.Store.Ping))
	a.Health.Register("search_index", func(ctx context.Context) health.ComponentHealth {
		stats, err := a.Index.Stats(ctx)
		if err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp, Message: fmt.Sprintf("%d chunks", stats.Chunks)}
	})
	if opts.Redis {
		var ping func(context.Context) error
		if a.Redis != nil {
			ping = a.Redis.Ping
		}
		a.Health.Register("redis", health.PingCheck(ping), health.Optional())
	}
	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	cfg := a.Config
	switch cfg.Store.Backend {
	case "postgres":
		client, err := pgclient.New(cfg.Postgres)
		if err != nil {
			return fmt.Errorf("connecting to postgres: %w", err)
		}
		a.Store = pgstore.New(client)
	default:
		if dir := filepath.Dir(cfg.Store.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("creating sqlite directory: %w", err)
			}
		}
		st, err := sqlite.Open(cfg.Store.SQLitePath)
		if err != nil {
			return fmt.Errorf("opening sqlite store: %w", err)
		}
		a.Store = st
	}
	a.closers = append(a.closers, a.Store.Close)
	if cfg.Store.AutoMigrate {
		if err := a.Store.Migrate(ctx); err != nil {
			return fmt.Errorf("migrating chunk store: %w", err)
		}
	}
	a.logger.Info("chunk store ready", "backend", cfg.Store.Backend)
	return nil
}

func (a *App) openIndex(ctx context.Context) error {
	cfg := a.Config
	var vectorWeight float64
	if a.Embedder != nil {
		vectorWeight = cfg.Embedding.VectorWeight
	}
	switch cfg.Index.Backend {
	case "postgres":
		if cfg.Store.Backend != "postgres" {
			return errors.New("the postgres index requires the postgres chunk store")
		}
		idx := pgindex.New(a.Store.DB(), vectorWeight, cfg.Index.SnippetChars/6)
		if cfg.Store.AutoMigrate {
			if err := idx.Migrate(ctx); err != nil {
				return fmt.Errorf("migrating search index: %w", err)
			}
		}
		a.Index = idx
	default:
		a.Index = indexer.NewEngine(cfg.Index, vectorWeight)
	}
	a.logger.Info("search index ready", "backend", cfg.Index.Backend, "vector_weight", vectorWeight)
	return nil
}

// connectRedis leaves Redis nil when it is unreachable; retrieval then runs
// uncached and ingest leases fall back to in-process locks.
func (a *App) connectRedis() {
	client, err := pkgredis.NewClient(a.Config.Redis)
	if err != nil {
		a.logger.Warn("redis unavailable, caching and distributed leases disabled", "error", err)
		return
	}
	a.Redis = client
	a.closers = append(a.closers, client.Close)
	a.Cache = cache.New(client, a.Config.Redis, a.Metrics)
	a.logger.Info("retrieval cache enabled", "addr", a.Config.Redis.Addr, "ttl", a.Config.Redis.CacheTTL)
}

func (a *App) setupAnalytics(ctx context.Context) {
	a.Aggregator = analytics.NewAggregator()
	a.Snapshots = aggregator.NewStore(a.Store.DB(), a.Store.Bind)
	if !a.Config.Kafka.Enabled() {
		a.Tracker = a.Aggregator
		return
	}
	producer := kafka.NewProducer(a.Config.Kafka, a.Config.Kafka.Topics.AnalyticsEvents)
	a.Collector = collector.NewBatchCollector(producer, analyticsBatchSize, analyticsFlushInterval)
	a.Collector.Start(ctx)
	// the collector flushes into the producer, so it closes first
	a.closers = append(a.closers, producer.Close, func() error { a.Collector.Close(); return nil })
	a.Tracker = a.Collector
}

func (a *App) pipelineOptions() []pipeline.Option {
	cfg := a.Config
	opts := []pipeline.Option{
		pipeline.WithChunker(chunker.New(
			chunker.WithMaxChars(cfg.Ingestion.MaxChunkChars),
			chunker.WithOverlap(cfg.Ingestion.ChunkOverlap),
		)),
		pipeline.WithMetrics(a.Metrics),
		pipeline.WithRetry(
			resilience.RetryFromConfig(cfg.Ingestion.StoreRetry),
			resilience.RetryFromConfig(cfg.Ingestion.IndexRetry),
		),
	}
	if a.Embedder != nil {
		opts = append(opts, pipeline.WithEmbedder(a.Embedder))
	}
	if a.Redis != nil {
		opts = append(opts, pipeline.WithLocker(pipeline.NewRedisLocker(a.Redis, cfg.Ingestion.LockTTL), cfg.Ingestion.LockTTL))
	} else {
		opts = append(opts, pipeline.WithLocker(pipeline.NewLocalLocker(), cfg.Ingestion.LockTTL))
	}
	if a.Publisher != nil {
		opts = append(opts, pipeline.WithNotifier(a.Publisher))
	}
	if a.Cache != nil {
		opts = append(opts, pipeline.WithCacheInvalidator(a.Cache))
	}
	if a.Tracker != nil {
		opts = append(opts, pipeline.WithTracker(a.Tracker))
	}
	return opts
}

// LocalIndex reports whether the index lives in this process and must be
// rebuilt from the store and refreshed on index.complete events.
func (a *App) LocalIndex() bool {
	_, ok := a.Index.(*indexer.Engine)
	return ok
}

// Warm rebuilds a local index from the chunk store when configured to.
func (a *App) Warm(ctx context.Context) error {
	if !a.LocalIndex() || !a.Config.Index.RebuildOnStart {
		return nil
	}
	report, err := a.Pipeline.Rebuild(ctx)
	if err != nil {
		return fmt.Errorf("rebuilding search index: %w", err)
	}
	a.logger.Info("search index rebuilt",
		"files", report.Files,
		"chunks", report.Chunks,
		"failed", report.Failed,
		"removed", report.Removed,
	)
	return nil
}

// Close releases everything New opened, newest first.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Error("close failed", "error", err)
		}
	}
	a.closers = nil
}
