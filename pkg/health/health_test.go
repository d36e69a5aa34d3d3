package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func up(context.Context) ComponentHealth { return ComponentHealth{Status: StatusUp} }

func failing(context.Context) error { return errors.New("connection refused") }

func TestRunWorstStatusWins(t *testing.T) {
	c := NewChecker()
	c.Register("chunk_store", up)
	c.Register("redis", PingCheck(failing), Optional())

	report := c.Run(context.Background())
	assert.Equal(t, StatusDegraded, report.Status)
	assert.Equal(t, StatusDegraded, report.Components["redis"].Status)
	assert.True(t, report.Components["redis"].Optional)
	assert.Equal(t, "connection refused", report.Components["redis"].Message)

	c.Register("search_index", PingCheck(nil))
	report = c.Run(context.Background())
	assert.Equal(t, StatusDown, report.Status)
	assert.Equal(t, "not configured", report.Components["search_index"].Message)
}

func TestRegisterReplaces(t *testing.T) {
	c := NewChecker()
	c.Register("chunk_store", PingCheck(failing))
	c.Register("chunk_store", up)
	report := c.Run(context.Background())
	assert.Equal(t, StatusUp, report.Status)
	assert.Len(t, report.Components, 1)
}

func TestChecksRunUnderTimeout(t *testing.T) {
	c := NewChecker()
	c.Register("slow", func(ctx context.Context) ComponentHealth {
		deadline, ok := ctx.Deadline()
		require.True(t, ok)
		assert.WithinDuration(t, time.Now().Add(checkTimeout), deadline, time.Second)
		return ComponentHealth{Status: StatusUp}
	})
	c.Run(context.Background())
}

func TestReadyHandler(t *testing.T) {
	c := NewChecker()
	var healthy atomic.Bool
	healthy.Store(true)
	var calls atomic.Int32
	c.Register("chunk_store", PingCheck(func(context.Context) error {
		calls.Add(1)
		if healthy.Load() {
			return nil
		}
		return errors.New("locked")
	}))
	now := time.Now()
	c.now = func() time.Time { return now }

	rec := httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	healthy.Store(false)
	rec = httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "report is reused within the TTL")
	assert.EqualValues(t, 1, calls.Load())

	now = now.Add(2 * reportTTL)
	rec = httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var report Report
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	assert.Equal(t, StatusDown, report.Components["chunk_store"].Status)
}

func TestLiveHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	NewChecker().LiveHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"alive"`)
}
