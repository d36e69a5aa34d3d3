package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/kafka"
)

const maxLatencySamples = 10000

type AggregatedStats struct {
	TotalRetrievals    int64            `json:"total_retrievals"`
	LowConfidenceCount int64            `json:"low_confidence_count"`
	PartialCount       int64            `json:"partial_count"`
	ZeroResultCount    int64            `json:"zero_result_count"`
	CacheHits          int64            `json:"cache_hits"`
	CacheMisses        int64            `json:"cache_misses"`
	AvgLatencyMs       float64          `json:"avg_latency_ms"`
	P50LatencyMs       int64            `json:"p50_latency_ms"`
	P95LatencyMs       int64            `json:"p95_latency_ms"`
	P99LatencyMs       int64            `json:"p99_latency_ms"`
	TopQueries         []QueryCount     `json:"top_queries"`
	ZeroResultQueries  []QueryCount     `json:"zero_result_queries"`
	FailedKinds        map[string]int64 `json:"failed_kinds"`
	IngestsByStatus    map[string]int64 `json:"ingests_by_status"`
	ChunksIngested     int64            `json:"chunks_ingested"`
	RetrievalsPerMin   float64          `json:"retrievals_per_minute"`
}

type QueryCount struct {
	Query string `json:"query"`
	Count int64  `json:"count"`
}

// Aggregator keeps in-memory retrieval and ingestion statistics. It is a
// Tracker itself, so a single process can record events without Kafka.
type Aggregator struct {
	mu                sync.RWMutex
	totalRetrievals   atomic.Int64
	lowConfidence     atomic.Int64
	partial           atomic.Int64
	zeroResults       atomic.Int64
	cacheHits         atomic.Int64
	cacheMisses       atomic.Int64
	chunksIngested    atomic.Int64
	latencies         []int64
	next              int
	queryCounts       map[string]int64
	zeroResultQueries map[string]int64
	failedKinds       map[string]int64
	ingests           map[string]int64
	startTime         time.Time

	logger *slog.Logger
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		latencies:         make([]int64, 0, 1024),
		queryCounts:       make(map[string]int64),
		zeroResultQueries: make(map[string]int64),
		failedKinds:       make(map[string]int64),
		ingests:           make(map[string]int64),
		startTime:         time.Now(),
		logger:            slog.Default().With("component", "analytics-aggregator"),
	}
}

// Track records event immediately.
func (a *Aggregator) Track(event any) {
	switch e := event.(type) {
	case RetrievalEvent:
		a.recordRetrieval(e)
	case *RetrievalEvent:
		a.recordRetrieval(*e)
	case IngestEvent:
		a.recordIngest(e)
	case *IngestEvent:
		a.recordIngest(*e)
	default:
		a.logger.Warn("ignoring unknown analytics event", "type", fmt.Sprintf("%T", event))
	}
}

// HandleEvent decodes messages from the analytics topic into agg.
func HandleEvent(agg *Aggregator) kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		envelope, err := kafka.DecodeJSON[struct {
			Type EventType `json:"type"`
		}](value)
		if err != nil {
			return err
		}
		switch envelope.Type {
		case EventRetrieval:
			e, err := kafka.DecodeJSON[RetrievalEvent](value)
			if err != nil {
				return err
			}
			agg.recordRetrieval(e)
		case EventIngest:
			e, err := kafka.DecodeJSON[IngestEvent](value)
			if err != nil {
				return err
			}
			agg.recordIngest(e)
		default:
			return fmt.Errorf("%w: unknown analytics event type %q", kafka.ErrPoison, envelope.Type)
		}
		return nil
	}
}

func (a *Aggregator) recordRetrieval(event RetrievalEvent) {
	a.totalRetrievals.Add(1)
	if event.CacheHit {
		a.cacheHits.Add(1)
	} else {
		a.cacheMisses.Add(1)
	}
	if event.LowConfidence {
		a.lowConfidence.Add(1)
	}
	if event.Partial {
		a.partial.Add(1)
	}
	if event.Returned == 0 {
		a.zeroResults.Add(1)
	}

	query := strings.ToLower(strings.TrimSpace(event.Query))
	a.mu.Lock()
	// ring buffer once full
	if len(a.latencies) < maxLatencySamples {
		a.latencies = append(a.latencies, event.LatencyMs)
	} else {
		a.latencies[a.next] = event.LatencyMs
		a.next = (a.next + 1) % maxLatencySamples
	}
	a.queryCounts[query]++
	if event.Returned == 0 {
		a.zeroResultQueries[query]++
	}
	for _, k := range event.FailedKinds {
		a.failedKinds[k]++
	}
	a.mu.Unlock()
}

func (a *Aggregator) recordIngest(event IngestEvent) {
	a.chunksIngested.Add(int64(event.ChunkCount))
	a.mu.Lock()
	a.ingests[event.Status]++
	a.mu.Unlock()
}

func (a *Aggregator) Stats() AggregatedStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := AggregatedStats{
		TotalRetrievals:    a.totalRetrievals.Load(),
		LowConfidenceCount: a.lowConfidence.Load(),
		PartialCount:       a.partial.Load(),
		ZeroResultCount:    a.zeroResults.Load(),
		CacheHits:          a.cacheHits.Load(),
		CacheMisses:        a.cacheMisses.Load(),
		ChunksIngested:     a.chunksIngested.Load(),
		FailedKinds:        copyCounts(a.failedKinds),
		IngestsByStatus:    copyCounts(a.ingests),
	}
	if len(a.latencies) > 0 {
		sorted := make([]int64, len(a.latencies))
		copy(sorted, a.latencies)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		var sum int64
		for _, l := range sorted {
			sum += l
		}
		stats.AvgLatencyMs = float64(sum) / float64(len(sorted))
		stats.P50LatencyMs = percentile(sorted, 50)
		stats.P95LatencyMs = percentile(sorted, 95)
		stats.P99LatencyMs = percentile(sorted, 99)
	}
	stats.TopQueries = topN(a.queryCounts, 10)
	stats.ZeroResultQueries = topN(a.zeroResultQueries, 10)
	if elapsed := time.Since(a.startTime).Minutes(); elapsed > 0 {
		stats.RetrievalsPerMin = float64(stats.TotalRetrievals) / elapsed
	}
	return stats
}

func copyCounts(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func percentile(sorted []int64, pct int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func topN(counts map[string]int64, n int) []QueryCount {
	result := make([]QueryCount, 0, len(counts))
	for query, count := range counts {
		result = append(result, QueryCount{Query: query, Count: count})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Query < result[j].Query
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}
