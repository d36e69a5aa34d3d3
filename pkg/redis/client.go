// Package redis wraps go-redis for the two jobs Redis does here: holding
// cached retrieval results and handing out per-file ingest leases.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/config"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLeaseHeld is returned by AcquireLease when another holder owns the key.
var ErrLeaseHeld = errors.New("lease held by another owner")

// ErrLeaseLost is returned by Lease.Extend once the key expired or changed
// hands.
var ErrLeaseLost = errors.New("lease no longer owned")

const (
	connectTimeout = 5 * time.Second
	scanPage       = 200
)

var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

type Client struct {
	rdb *redis.Client
}

// NewClient connects and pings. An empty address is a configuration error;
// callers that treat Redis as optional should check Addr first.
func NewClient(cfg config.RedisConfig) (*Client, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address not configured")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		DialTimeout: connectTimeout,
	})
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return &Client{rdb: rdb}, nil
}

// Lookup returns the bytes stored at key. A missing key is (nil, false, nil).
func (c *Client) Lookup(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (c *Client) Store(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

// UnlinkMatching removes every key matching the glob pattern and returns how
// many were removed. Keys are unlinked one SCAN page at a time so a large
// course never blocks the server on a single command.
func (c *Client) UnlinkMatching(ctx context.Context, pattern string) (int64, error) {
	var (
		removed int64
		cursor  uint64
	)
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, pattern, scanPage).Result()
		if err != nil {
			return removed, fmt.Errorf("scanning %s: %w", pattern, err)
		}
		if len(keys) > 0 {
			n, err := c.rdb.Unlink(ctx, keys...).Result()
			if err != nil {
				return removed, fmt.Errorf("unlinking %d keys for %s: %w", len(keys), pattern, err)
			}
			removed += n
		}
		if next == 0 {
			return removed, nil
		}
		cursor = next
	}
}

// Lease is an exclusive hold on a key, identified by a random token.
type Lease struct {
	Key   string
	token string
	rdb   *redis.Client
}

// AcquireLease takes key for ttl if nobody holds it.
func (c *Client) AcquireLease(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	token := uuid.NewString()
	ok, err := c.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquiring lease %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLeaseHeld
	}
	return &Lease{Key: key, token: token, rdb: c.rdb}, nil
}

// Extend pushes the expiry out to ttl from now while the lease is still ours.
func (l *Lease) Extend(ctx context.Context, ttl time.Duration) error {
	n, err := extendScript.Run(ctx, l.rdb, []string{l.Key}, l.token, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("extending lease %s: %w", l.Key, err)
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}

// Release deletes the key only if the token still matches, so a lease that
// expired and was taken by someone else is left alone.
func (l *Lease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.rdb, []string{l.Key}, l.token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("releasing lease %s: %w", l.Key, err)
	}
	return nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
