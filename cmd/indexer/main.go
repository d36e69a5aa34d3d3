// Command indexer drains the chunk-ingest topic through the ingestion
// pipeline. Each processed file is announced on index.complete so retrieval
// replicas can refresh.
//
// Usage:
//
//	go run ./cmd/indexer [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/bootstrap"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/logger"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup("indexer", cfg.Logging.Level, cfg.Logging.Format)
	if !cfg.Kafka.Enabled() {
		slog.Error("indexer requires kafka brokers", "hint", "set kafka.brokers or CRE_KAFKA_BROKERS")
		os.Exit(1)
	}
	slog.Info("starting indexer service", "store", cfg.Store.Backend, "index", cfg.Index.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{
		Analytics: true,
		Redis:     cfg.Redis.Addr != "",
		Kafka:     true,
	})
	if err != nil {
		slog.Error("failed to initialise engine", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	kafkaConsumer := kafka.NewConsumer(
		cfg.Kafka,
		cfg.Kafka.Topics.ChunkIngest,
		consumer.HandleIngestRequest(app.Pipeline),
		kafka.FromEarliest(),
	)
	indexConsumer := consumer.New(kafkaConsumer)

	slog.Info("indexer service ready, consuming from kafka",
		"topic", cfg.Kafka.Topics.ChunkIngest,
		"group", cfg.Kafka.ConsumerGroup,
	)

	if err := indexConsumer.Start(ctx); err != nil && ctx.Err() == nil {
		slog.Error("consumer error", "error", err)
	}

	slog.Info("indexer service stopped")
}
