// Package metrics defines the Prometheus metric collectors used by the
// retrieval and ingestion services and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the engine. A nil *Metrics is
// valid and records nothing, which keeps tests and CLI paths free of
// registry setup.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	IngestTotal          *prometheus.CounterVec
	IngestDuration       prometheus.Histogram
	ChunksWrittenTotal   prometheus.Counter
	RetrievalTotal       *prometheus.CounterVec
	RetrievalLatency     prometheus.Histogram
	RetrievalHits        prometheus.Histogram
	SubQueryFailures     *prometheus.CounterVec
	LowConfidenceTotal   prometheus.Counter
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	IndexedChunks        prometheus.Gauge
	CircuitBreakerState  *prometheus.GaugeVec
}

// New creates all collectors and registers them with reg. A nil reg uses
// the process default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, route, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		IngestTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_total",
				Help: "Ingestion runs by outcome (indexed, unchanged, degraded, invalid, failed).",
			},
			[]string{"status"},
		),
		IngestDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ingest_duration_seconds",
				Help:    "Wall time of an ingestion run.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),
		ChunksWrittenTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "chunks_written_total",
				Help: "Chunks written to the chunk store.",
			},
		),
		RetrievalTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "retrieval_total",
				Help: "Retrieval calls by outcome (ok, degraded, partial, unavailable, cached).",
			},
			[]string{"outcome"},
		),
		RetrievalLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "retrieval_latency_seconds",
				Help:    "Retrieval latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
		),
		RetrievalHits: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "retrieval_hits",
				Help:    "Number of chunks returned per retrieval.",
				Buckets: []float64{0, 1, 2, 5, 10, 25, 50},
			},
		),
		SubQueryFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "retrieval_subquery_failures_total",
				Help: "Per-kind sub-query failures, including timeouts and open circuits.",
			},
			[]string{"kind"},
		),
		LowConfidenceTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "retrieval_low_confidence_total",
				Help: "Retrievals flagged low confidence.",
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of retrieval cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of retrieval cache misses.",
			},
		),
		IndexedChunks: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "search_index_chunks",
				Help: "Chunks currently held by the search index.",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.IngestTotal,
		m.IngestDuration,
		m.ChunksWrittenTotal,
		m.RetrievalTotal,
		m.RetrievalLatency,
		m.RetrievalHits,
		m.SubQueryFailures,
		m.LowConfidenceTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.IndexedChunks,
		m.CircuitBreakerState,
	)

	return m
}

// ObserveIngest records one ingestion outcome.
func (m *Metrics) ObserveIngest(status string, seconds float64, chunks int) {
	if m == nil {
		return
	}
	m.IngestTotal.WithLabelValues(status).Inc()
	m.IngestDuration.Observe(seconds)
	if chunks > 0 {
		m.ChunksWrittenTotal.Add(float64(chunks))
	}
}

// ObserveRetrieval records one retrieval outcome.
func (m *Metrics) ObserveRetrieval(outcome string, seconds float64, hits int, lowConfidence bool) {
	if m == nil {
		return
	}
	m.RetrievalTotal.WithLabelValues(outcome).Inc()
	m.RetrievalLatency.Observe(seconds)
	m.RetrievalHits.Observe(float64(hits))
	if lowConfidence {
		m.LowConfidenceTotal.Inc()
	}
}

// SubQueryFailed counts one failed per-kind sub-query.
func (m *Metrics) SubQueryFailed(kind string) {
	if m == nil {
		return
	}
	m.SubQueryFailures.WithLabelValues(kind).Inc()
}

// CacheLookup counts a cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.Inc()
		return
	}
	m.CacheMissesTotal.Inc()
}

// SetIndexedChunks reports the current index size.
func (m *Metrics) SetIndexedChunks(n int) {
	if m == nil {
		return
	}
	m.IndexedChunks.Set(float64(n))
}

// SetBreakerState records a circuit breaker transition.
func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// RequestStarted bumps the in-flight gauge; call the returned func when the
// request completes.
func (m *Metrics) RequestStarted() func() {
	if m == nil {
		return func() {}
	}
	m.HTTPRequestsInFlight.Inc()
	return m.HTTPRequestsInFlight.Dec
}

// ObserveHTTP records one served request. route should be a pattern such as
// /api/v1/courses/{courseID}/retrieve, never a raw path.
func (m *Metrics) ObserveHTTP(method, route string, status int, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(seconds)
}

// Handler serves g for scraping; a nil g serves the default registry.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
