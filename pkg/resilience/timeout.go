package resilience

import (
	"context"
	"fmt"
	"time"
)

// Bounded runs fn under a derived deadline and returns as soon as either fn
// finishes or the deadline fires. fn keeps running in the background until
// it notices its context is done, so it must honour ctx. A non-positive
// limit calls fn directly.
func Bounded[T any](ctx context.Context, limit time.Duration, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	if limit <= 0 {
		return fn(ctx)
	}
	cctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	type outcome struct {
		val T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := fn(cctx)
		done <- outcome{v, err}
	}()

	var zero T
	select {
	case out := <-done:
		return out.val, out.err
	case <-cctx.Done():
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("%s: %w", name, err)
		}
		return zero, fmt.Errorf("%s exceeded %v: %w", name, limit, context.DeadlineExceeded)
	}
}
