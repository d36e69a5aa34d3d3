package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/errors"
)

// RetryConfig bounds a retry loop. Retryable, when set, decides which
// errors are worth another attempt; without it every error is, except
// validation errors and those wrapped with Permanent.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Retryable    func(error) bool
}

// RetryFromConfig converts the YAML retry settings.
func RetryFromConfig(c config.RetryConfig) RetryConfig {
	return RetryConfig{
		MaxAttempts:  c.MaxAttempts,
		InitialDelay: c.InitialDelay,
		MaxDelay:     c.MaxDelay,
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 10 * time.Second
	}
	if c.MaxDelay < c.InitialDelay {
		c.MaxDelay = c.InitialDelay
	}
	return c
}

type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

// Permanent stops Retry at err. Retry returns err itself, unwrapped.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err}
}

// ExhaustedError is returned once every attempt has failed.
type ExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Retry calls fn until it succeeds, returns an error that is not retryable,
// ctx is done, or MaxAttempts is used up.
func Retry(ctx context.Context, op string, cfg RetryConfig, fn func() error) error {
	_, err := RetryValue(ctx, op, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// RetryValue is Retry for calls that produce a value.
func RetryValue[T any](ctx context.Context, op string, cfg RetryConfig, fn func() (T, error)) (T, error) {
	cfg = cfg.withDefaults()
	var zero T
	for attempt := 1; ; attempt++ {
		v, err := fn()
		if err == nil {
			if attempt > 1 {
				slog.Default().Info("recovered after retry", "op", op, "attempt", attempt)
			}
			return v, nil
		}
		var p permanentError
		if errors.As(err, &p) {
			return zero, p.err
		}
		if apperrors.IsValidation(err) || (cfg.Retryable != nil && !cfg.Retryable(err)) {
			return zero, err
		}
		if attempt >= cfg.MaxAttempts {
			return zero, &ExhaustedError{Op: op, Attempts: attempt, Err: err}
		}

		delay := backoff(attempt, cfg)
		slog.Default().Warn("attempt failed, backing off",
			"op", op, "attempt", attempt, "max_attempts", cfg.MaxAttempts, "delay", delay, "error", err)
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("%s abandoned after %d attempts: %w", op, attempt, errors.Join(ctx.Err(), err))
		}
	}
}

// backoff doubles from InitialDelay, capped at MaxDelay, then picks
// uniformly from the upper half so concurrent retriers spread out.
func backoff(attempt int, cfg RetryConfig) time.Duration {
	d := cfg.InitialDelay
	for i := 1; i < attempt && d < cfg.MaxDelay; i++ {
		d *= 2
	}
	d = min(d, cfg.MaxDelay)
	half := d / 2
	if half <= 0 {
		return d
	}
	return half + rand.N(half+1)
}
