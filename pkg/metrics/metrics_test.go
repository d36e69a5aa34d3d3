package metrics

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveIngest("indexed", 0.1, 3)
	m.ObserveRetrieval("ok", 0.01, 2, true)
	m.SubQueryFailed("pdf")
	m.CacheLookup(true)
	m.SetIndexedChunks(5)
	m.SetBreakerState("search-pdf", 1)
	m.ObserveHTTP("GET", "/health/live", 200, 0.001)
	m.RequestStarted()()
}

func TestRecorders(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveIngest("indexed", 0.2, 4)
	m.ObserveIngest("unchanged", 0.01, 0)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IngestTotal.WithLabelValues("indexed")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.ChunksWrittenTotal))

	m.ObserveRetrieval("partial", 0.05, 1, true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RetrievalTotal.WithLabelValues("partial")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LowConfidenceTotal))

	m.SubQueryFailed("platform")
	m.SubQueryFailed("platform")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SubQueryFailures.WithLabelValues("platform")))

	m.CacheLookup(true)
	m.CacheLookup(false)
	m.CacheLookup(false)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHitsTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheMissesTotal))

	m.SetBreakerState("search-pdf", 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("search-pdf")))

	done := m.RequestStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsInFlight))
	done()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.HTTPRequestsInFlight))

	m.ObserveHTTP("GET", "/api/v1/courses/{courseID}/retrieve", 200, 0.02)
	assert.Equal(t, 1.0, testutil.ToFloat64(
		m.HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/courses/{courseID}/retrieve", "200")))
}

func TestHandlerServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.SetIndexedChunks(42)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "search_index_chunks 42")
}

func TestServeStopsWithContext(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	reg := prometheus.NewRegistry()
	New(reg)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- Serve(ctx, port, reg) }()

	url := fmt.Sprintf("http://127.0.0.1:%d/metrics", port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode == http.StatusOK && len(body) > 0
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(6 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
