// Package resilience holds the failure handling shared by the ingestion
// pipeline and the retriever: per-dependency circuit breakers, retry with
// backoff and bounded calls.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// BreakerConfig tunes a Breaker. Zero fields take defaults. OnStateChange
// runs under the breaker's lock and must not call back into it.
type BreakerConfig struct {
	FailureThreshold int
	ResetTimeout     time.Duration
	Probes           int
	OnStateChange    func(name string, to State)
}

// Breaker opens after FailureThreshold consecutive failures and rejects calls
// until ResetTimeout has passed, then lets up to Probes calls through. One
// successful probe closes it; one failed probe opens it again.
type Breaker struct {
	name   string
	cfg    BreakerConfig
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	inFlight int
}

func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.Probes <= 0 {
		cfg.Probes = 1
	}
	return &Breaker{
		name:   name,
		cfg:    cfg,
		logger: slog.Default().With("component", "circuit-breaker", "name", name),
		now:    time.Now,
	}
}

// Do runs fn when the circuit allows it. A failure that coincides with ctx
// being done is the caller giving up, not the dependency failing, so it is
// returned without being counted.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}
	err = fn(ctx)
	switch {
	case err == nil:
		b.succeed()
	case ctx.Err() != nil:
		b.abandon(probe)
	default:
		b.fail()
	}
	return err
}

func (b *Breaker) Name() string { return b.name }

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateOpen:
		wait := b.cfg.ResetTimeout - b.now().Sub(b.openedAt)
		if wait > 0 {
			return false, fmt.Errorf("%w: %s (retry in %v)", ErrCircuitOpen, b.name, wait.Round(time.Millisecond))
		}
		b.setState(StateHalfOpen)
		b.inFlight = 0
		b.logger.Info("circuit half-open, probing")
		fallthrough
	case StateHalfOpen:
		if b.inFlight >= b.cfg.Probes {
			return false, fmt.Errorf("%w: %s (probe in flight)", ErrCircuitOpen, b.name)
		}
		b.inFlight++
		return true, nil
	}
	return false, nil
}

func (b *Breaker) succeed() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	if b.state == StateHalfOpen {
		b.inFlight = 0
		b.setState(StateClosed)
		b.logger.Info("circuit closed")
	}
}

func (b *Breaker) fail() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	switch b.state {
	case StateClosed:
		if b.failures >= b.cfg.FailureThreshold {
			b.trip()
			b.logger.Warn("circuit opened", "consecutive_failures", b.failures)
		}
	case StateHalfOpen:
		b.trip()
		b.logger.Warn("probe failed, circuit re-opened")
	}
}

func (b *Breaker) abandon(probe bool) {
	if !probe {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen && b.inFlight > 0 {
		b.inFlight--
	}
}

func (b *Breaker) trip() {
	b.openedAt = b.now()
	b.inFlight = 0
	b.setState(StateOpen)
}

func (b *Breaker) setState(to State) {
	if b.state == to {
		return
	}
	b.state = to
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.name, to)
	}
}
