// Command retrieval serves course retrieval and synchronous ingestion over
// HTTP.
//
// With Kafka configured it also follows index.complete events, refreshing its
// in-memory index from the chunk store and dropping cached retrievals, and
// aggregates the analytics topic for GET /api/v1/analytics.
//
// Usage:
//
//	go run ./cmd/retrieval [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/bootstrap"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/ingestion/pipeline"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/metrics"
)

const snapshotInterval = time.Minute

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup("retrieval", cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting retrieval service",
		"port", cfg.Server.Port,
		"store", cfg.Store.Backend,
		"index", cfg.Index.Backend,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{
		Metrics:   cfg.Metrics.Enabled,
		Analytics: true,
		Redis:     cfg.Redis.Addr != "",
		Kafka:     true,
	})
	if err != nil {
		slog.Error("failed to initialise engine", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	if err := app.Warm(ctx); err != nil {
		slog.Error("index warm-up failed", "error", err)
		os.Exit(1)
	}

	app.Snapshots.StartPeriodicSave(ctx, app.Aggregator, snapshotInterval)

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Metrics.Enabled {
		g.Go(func() error {
			// a broken metrics listener is logged, not fatal
			if err := metrics.Serve(gctx, cfg.Metrics.Port, nil); err != nil {
				slog.Error("metrics server stopped", "error", err)
			}
			return nil
		})
	}
	if cfg.Kafka.Enabled() {
		startConsumers(gctx, g, app)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      newRouter(ctx, app),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-gctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("retrieval service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	stop()
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		slog.Error("consumer stopped", "error", err)
	}

	slog.Info("retrieval service stopped")
}

// startConsumers follows the broadcast topics. Every replica needs every
// index.complete event, so that consumer joins a group of its own.
func startConsumers(ctx context.Context, g *errgroup.Group, app *bootstrap.App) {
	cfg := app.Config

	var refresher consumer.Refresher
	if app.LocalIndex() {
		refresher = app.Pipeline
	}
	var invalidator pipeline.CacheInvalidator
	if app.Cache != nil {
		invalidator = app.Cache
	}
	hostname, _ := os.Hostname()
	completions := kafka.NewConsumer(
		cfg.Kafka,
		cfg.Kafka.Topics.IndexComplete,
		consumer.HandleIndexComplete(refresher, invalidator),
		kafka.WithGroup(fmt.Sprintf("%s-replica-%s", cfg.Kafka.ConsumerGroup, hostname)),
	)
	events := kafka.NewConsumer(
		cfg.Kafka,
		cfg.Kafka.Topics.AnalyticsEvents,
		analytics.HandleEvent(app.Aggregator),
		kafka.WithGroup(cfg.Kafka.ConsumerGroup+"-analytics"),
	)

	followers := consumer.New(completions, events)
	g.Go(func() error { return followers.Start(ctx) })
	slog.Info("kafka consumers started",
		"index_complete", cfg.Kafka.Topics.IndexComplete,
		"analytics", cfg.Kafka.Topics.AnalyticsEvents,
		"local_index", refresher != nil,
	)
}
