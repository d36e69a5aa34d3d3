// Command loadtest drives GET /retrieve on a running retrieval service and
// reports latency percentiles alongside the engine's own quality signals:
// partial answers, low-confidence answers and cache hits.
//
// Usage:
//
//	go run ./cmd/loadtest -course cs101 -concurrency 16 -duration 30s [-rps 200]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
)

var defaultQueries = []string{
	"binary search tree insertion",
	"dijkstra shortest path",
	"dynamic programming knapsack",
	"hash table collisions",
	"big o notation",
	"merge sort complexity",
	"assignment deadline",
	"recursion base case",
	"graph traversal bfs dfs",
	"heap priority queue",
}

func main() {
	var (
		cfg     runConfig
		queries string
	)
	flag.StringVar(&cfg.BaseURL, "url", "http://localhost:8080", "base URL of the retrieval service")
	flag.StringVar(&cfg.CourseID, "course", "", "course to query (required)")
	flag.IntVar(&cfg.Concurrency, "concurrency", 10, "concurrent workers")
	flag.DurationVar(&cfg.Duration, "duration", 30*time.Second, "test duration")
	flag.Float64Var(&cfg.RPS, "rps", 0, "total request rate cap, 0 for unlimited")
	flag.IntVar(&cfg.Limit, "limit", 8, "limit parameter sent with each query")
	flag.BoolVar(&cfg.Hydrate, "hydrate", false, "request chunk content")
	flag.StringVar(&queries, "queries", "", "semicolon-separated queries; defaults to a built-in set")
	flag.Parse()

	if cfg.CourseID == "" {
		fmt.Fprintln(os.Stderr, "-course is required")
		os.Exit(2)
	}
	cfg.Queries = defaultQueries
	if queries != "" {
		cfg.Queries = strings.Split(queries, ";")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("target %s course=%s concurrency=%d duration=%s rps=%g queries=%d\n\n",
		cfg.BaseURL, cfg.CourseID, cfg.Concurrency, cfg.Duration, cfg.RPS, len(cfg.Queries))

	rep, err := run(ctx, cfg, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	rep.print(os.Stdout)
	if rep.total == 0 {
		fmt.Fprintln(os.Stderr, "no requests completed; is the service running?")
		os.Exit(1)
	}
}
