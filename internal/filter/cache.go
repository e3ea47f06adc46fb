package filter

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/pkg/resilience"
)

const keyPrefix = "filter:"

// Store is the subset of pkg/redis.Client the cache needs.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// Verdict is the cached outcome for one n-gram.
type Verdict struct {
	Kept    bool   `json:"kept"`
	Witness uint32 `json:"witness,omitempty"`
}

// VerdictCache memoises verdicts in Redis, namespaced by the phrase index
// fingerprint so a rebuilt index never reads stale verdicts. Store failures
// degrade to recomputation; after repeated failures the breaker stops
// calling the store for a while.
type VerdictCache struct {
	store     Store
	ttl       time.Duration
	namespace string
	group     singleflight.Group
	breaker   *resilience.Breaker
	metrics   *metrics.Metrics
	logger    *slog.Logger
	hits      atomic.Int64
	misses    atomic.Int64
}

func NewVerdictCache(store Store, fingerprint uint64, ttl time.Duration, m *metrics.Metrics) *VerdictCache {
	return &VerdictCache{
		store:     store,
		ttl:       ttl,
		namespace: fmt.Sprintf("%s%016x:", keyPrefix, fingerprint),
		breaker:   resilience.NewBreaker("verdict-cache", resilience.BreakerConfig{}),
		metrics:   m,
		logger:    slog.Default().With("component", "verdict-cache"),
	}
}

func (c *VerdictCache) Get(ctx context.Context, words []string) (Verdict, bool) {
	key := c.buildKey(words)
	var data string
	err := c.breaker.Do(func() error {
		var err error
		data, err = c.store.Get(ctx, key)
		if pkgredis.IsNilError(err) {
			return nil
		}
		return err
	})
	if err != nil || data == "" {
		if err != nil {
			c.logger.Debug("cache get failed", "key", key, "error", err)
		}
		c.miss()
		return Verdict{}, false
	}
	var v Verdict
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.miss()
		return Verdict{}, false
	}
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
	return v, true
}

func (c *VerdictCache) Set(ctx context.Context, words []string, v Verdict) {
	key := c.buildKey(words)
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.breaker.Do(func() error { return c.store.Set(ctx, key, data, c.ttl) }); err != nil {
		c.logger.Debug("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached verdict for words, or computes and stores
// it. Concurrent misses on the same n-gram share one computation. The bool
// reports a cache hit.
func (c *VerdictCache) GetOrCompute(ctx context.Context, words []string, compute func() Verdict) (Verdict, bool) {
	if v, ok := c.Get(ctx, words); ok {
		return v, true
	}
	val, _, _ := c.group.Do(c.buildKey(words), func() (any, error) {
		v := compute()
		c.Set(ctx, words, v)
		return v, nil
	})
	return val.(Verdict), false
}

// Invalidate deletes every verdict stored under this index fingerprint.
func (c *VerdictCache) Invalidate(ctx context.Context) error {
	deleted, err := c.store.FlushByPattern(ctx, c.namespace+"*")
	if err != nil {
		return fmt.Errorf("invalidating verdict cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return nil
}

func (c *VerdictCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *VerdictCache) miss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}

func (c *VerdictCache) buildKey(words []string) string {
	hash := sha256.Sum256([]byte(strings.Join(words, " ")))
	return fmt.Sprintf("%s%x", c.namespace, hash[:16])
}
