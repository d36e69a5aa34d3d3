package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	redisclient "github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/redis"
)

// Locker serialises pipeline runs per key. The returned unlock func must be
// called exactly once.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// LocalLocker is an in-process keyed mutex. Waiting honours ctx.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]*slot)}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-s.ch
				l.release(key, s)
			})
		}, nil
	case <-ctx.Done():
		l.release(key, s)
		return nil, ctx.Err()
	}
}

func (l *LocalLocker) release(key string, s *slot) {
	l.mu.Lock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
	l.mu.Unlock()
}

// RedisLocker takes a Redis lease per key so runs are serialised across
// replicas. While held, the lease is extended every ttl/3; a holder that dies
// loses it after ttl.
type RedisLocker struct {
	client *redisclient.Client
	ttl    time.Duration
	poll   time.Duration
	logger *slog.Logger
}

func NewRedisLocker(client *redisclient.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{
		client: client,
		ttl:    ttl,
		poll:   50 * time.Millisecond,
		logger: slog.Default().With("component", "redis-locker"),
	}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	wait := l.poll
	for {
		lease, err := l.client.AcquireLease(ctx, key, l.ttl)
		if err == nil {
			return l.hold(lease), nil
		}
		if !errors.Is(err, redisclient.ErrLeaseHeld) {
			return nil, err
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		wait = min(wait*2, time.Second)
	}
}

// hold keeps lease alive until the returned unlock runs.
func (l *RedisLocker) hold(lease *redisclient.Lease) func() {
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(max(l.ttl/3, 10*time.Millisecond))
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				ectx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				err := lease.Extend(ectx, l.ttl)
				cancel()
				if errors.Is(err, redisclient.ErrLeaseLost) {
					l.logger.Warn("lease lost while held", "key", lease.Key)
					return
				}
				if err != nil {
					l.logger.Warn("failed to extend lease", "key", lease.Key, "error", err)
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := lease.Release(rctx); err != nil {
				l.logger.Warn("failed to release lease", "key", lease.Key, "error", err)
			}
		})
	}
}
