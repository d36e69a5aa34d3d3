// Package cache keeps fused retrieval results in Redis, keyed per course so
// ingestion can drop a course's entries without touching the rest.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/searcher/retriever"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/redis"
)

const keyPrefix = "retrieve:"

type QueryCache struct {
	client  *pkgredis.Client
	cfg     config.RedisConfig
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

func New(client *pkgredis.Client, cfg config.RedisConfig, m *metrics.Metrics) *QueryCache {
	return &QueryCache{
		client:  client,
		cfg:     cfg,
		metrics: m,
		logger:  slog.Default().With("component", "query-cache"),
	}
}

// Key identifies a prepared request: course, parsed query plan, limit
// and allocation. Hydration is applied after the cache and is not part of
// it.
func Key(req retriever.Request) string {
	var b strings.Builder
	b.WriteString(planKey(req.Query))
	b.WriteString("\x00limit=")
	b.WriteString(strconv.Itoa(req.Limit))
	b.WriteString("\x00alloc=")
	for i, s := range req.Allocation {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s=%g", strings.ToLower(strings.TrimSpace(s.Kind)), s.Weight)
	}
	hash := sha256.Sum256([]byte(b.String()))
	return fmt.Sprintf("%s%s:%x", keyPrefix, req.CourseID, hash)
}

func (c *QueryCache) Get(ctx context.Context, key string) (*retriever.Result, bool) {
	data, found, err := c.client.Lookup(ctx, key)
	if err != nil {
		c.logger.Error("cache get failed", "key", key, "error", err)
	}
	if !found {
		c.miss()
		return nil, false
	}
	var result retriever.Result
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	c.hits.Add(1)
	c.metrics.CacheLookup(true)
	c.logger.Debug("cache hit", "key", key)
	return &result, true
}

// Set stores result unless it is partial; a result cut short by a deadline
// must not be served to later callers.
func (c *QueryCache) Set(ctx context.Context, key string, result *retriever.Result) {
	if result == nil || result.Partial {
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.client.Store(ctx, key, data, c.cfg.CacheTTL); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached result for req or runs computeFn once per
// key across concurrent callers. The returned result is shared and must be
// treated as read-only.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	req retriever.Request,
	computeFn func() (*retriever.Result, error),
) (*retriever.Result, bool, error) {
	key := Key(req)
	if result, ok := c.Get(ctx, key); ok {
		return result, true, nil
	}
	val, err, _ := c.group.Do(key, func() (interface{}, error) {
		result, err := computeFn()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, key, result)
		return result, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*retriever.Result), false, nil
}

// InvalidateCourse drops every cached result for courseID.
func (c *QueryCache) InvalidateCourse(ctx context.Context, courseID string) error {
	pattern := keyPrefix + escapeGlob(courseID) + ":*"
	deleted, err := c.client.UnlinkMatching(ctx, pattern)
	if err != nil {
		return fmt.Errorf("invalidating cache for course %s: %w", courseID, err)
	}
	c.logger.Info("cache invalidate", "course_id", courseID, "keys_deleted", deleted)
	return nil
}

func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *QueryCache) miss() {
	c.misses.Add(1)
	c.metrics.CacheLookup(false)
}

// planKey renders what the index actually runs for query: the ranked terms
// and the excluded terms. Case and spacing only matter where the parser
// says so, as with the "NOT" operator.
func planKey(query string) string {
	plan := parser.Parse(query)
	return strings.Join(plan.Terms, " ") + "\x00not=" + strings.Join(plan.ExcludeTerms, " ")
}

// escapeGlob quotes the Redis SCAN MATCH metacharacters.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
