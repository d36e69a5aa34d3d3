// Package health runs dependency probes for the liveness and readiness
// endpoints. The chunk store and search index are required; the cache is
// registered as optional, so losing it degrades the service without taking
// it out of rotation.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

type Status string

const (
	StatusUp       Status = "up"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

func (s Status) rank() int {
	switch s {
	case StatusUp:
		return 0
	case StatusDegraded:
		return 1
	}
	return 2
}

const (
	checkTimeout = 2 * time.Second
	// readiness probes inside this window reuse the previous report
	reportTTL = time.Second
)

// Check probes one dependency.
type Check func(ctx context.Context) ComponentHealth

type ComponentHealth struct {
	Status   Status `json:"status"`
	Message  string `json:"message,omitempty"`
	Optional bool   `json:"optional,omitempty"`
	Latency  string `json:"latency,omitempty"`
}

type Report struct {
	Status     Status                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	CheckedAt  time.Time                  `json:"checkedAt"`
}

type registration struct {
	name     string
	check    Check
	optional bool
}

// RegisterOption tweaks a registration.
type RegisterOption func(*registration)

// Optional caps the component's effect on the overall status at degraded.
func Optional() RegisterOption {
	return func(r *registration) { r.optional = true }
}

type Checker struct {
	mu      sync.Mutex
	checks  []registration
	started time.Time
	last    *Report
	now     func() time.Time
}

func NewChecker() *Checker {
	return &Checker{started: time.Now(), now: time.Now}
}

// Register adds or replaces the check called name.
func (c *Checker) Register(name string, check Check, opts ...RegisterOption) {
	reg := registration{name: name, check: check}
	for _, opt := range opts {
		opt(&reg)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = nil
	for i := range c.checks {
		if c.checks[i].name == name {
			c.checks[i] = reg
			return
		}
	}
	c.checks = append(c.checks, reg)
}

// Run probes every component in parallel, each under its own timeout. The
// overall status is the worst component status after optional components
// are capped at degraded.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.Lock()
	checks := append([]registration(nil), c.checks...)
	c.mu.Unlock()

	results := make([]ComponentHealth, len(checks))
	var g errgroup.Group
	for i, reg := range checks {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			start := time.Now()
			res := reg.check(cctx)
			res.Latency = time.Since(start).Round(time.Millisecond).String()
			if reg.optional {
				res.Optional = true
				if res.Status == StatusDown {
					res.Status = StatusDegraded
				}
			}
			results[i] = res
			return nil
		})
	}
	g.Wait()

	report := Report{
		Status:     StatusUp,
		Components: make(map[string]ComponentHealth, len(checks)),
		CheckedAt:  c.now().UTC(),
	}
	for i, reg := range checks {
		report.Components[reg.name] = results[i]
		if results[i].Status.rank() > report.Status.rank() {
			report.Status = results[i].Status
		}
	}
	return report
}

// cachedRun returns the previous report while it is younger than reportTTL.
func (c *Checker) cachedRun(ctx context.Context) Report {
	c.mu.Lock()
	if c.last != nil && c.now().Sub(c.last.CheckedAt) < reportTTL {
		report := *c.last
		c.mu.Unlock()
		return report
	}
	c.mu.Unlock()

	report := c.Run(ctx)
	c.mu.Lock()
	c.last = &report
	c.mu.Unlock()
	return report
}

// PingCheck turns a ping function into a Check. A nil ping reports the
// dependency as not configured.
func PingCheck(ping func(ctx context.Context) error) Check {
	return func(ctx context.Context) ComponentHealth {
		if ping == nil {
			return ComponentHealth{Status: StatusDown, Message: "not configured"}
		}
		if err := ping(ctx); err != nil {
			return ComponentHealth{Status: StatusDown, Message: err.Error()}
		}
		return ComponentHealth{Status: StatusUp}
	}
}

// LiveHandler answers liveness probes without touching dependencies.
func (c *Checker) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":        "alive",
			"uptimeSeconds": int64(c.now().Sub(c.started).Seconds()),
		})
	}
}

// ReadyHandler answers 503 only when a required component is down.
func (c *Checker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := c.cachedRun(r.Context())
		status := http.StatusOK
		if report.Status == StatusDown {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, report)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
