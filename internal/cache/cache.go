// Package cache memoizes query results in Redis, keyed by process epoch and
// index generation so a result never outlives the snapshot it was computed
// from. Generations restart at zero in every process, so the epoch keeps a
// restarted or sibling instance sharing the same Redis from reading entries
// built over a different post set.
package cache

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/pkg/resilience"
	"golang.org/x/sync/singleflight"
)

const keyPrefix = "relengine:"

// ErrMiss is returned by a Backend when the key is absent.
var ErrMiss = errors.New("cache miss")

// Backend is the byte store behind the cache.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

type redisBackend struct {
	client *pkgredis.Client
}

// NewRedisBackend adapts a Redis client, translating redis.Nil to ErrMiss.
func NewRedisBackend(client *pkgredis.Client) Backend {
	return &redisBackend{client: client}
}

func (b *redisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := b.client.Get(ctx, key)
	if pkgredis.IsNilError(err) {
		return nil, ErrMiss
	}
	return data, err
}

func (b *redisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return b.client.Set(ctx, key, value, ttl)
}

func (b *redisBackend) FlushByPattern(ctx context.Context, pattern string) (int64, error) {
	return b.client.FlushByPattern(ctx, pattern)
}

// Key identifies one cached query result within a generation.
type Key struct {
	Generation uint64
	Kind       string
	Parts      []string
}

// Options configures a ResultCache. An empty Epoch is replaced by a random
// one, which is what a service should use.
type Options struct {
	TTL     time.Duration
	Epoch   string
	Metrics *metrics.Metrics
	Breaker resilience.CircuitBreakerConfig
}

type ResultCache struct {
	epoch   string
	backend Backend
	ttl     time.Duration
	metrics *metrics.Metrics
	breaker *resilience.CircuitBreaker
	group   singleflight.Group
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64

	mu          sync.Mutex
	generations map[uint64]struct{}
}

func New(backend Backend, opts Options) *ResultCache {
	epoch := opts.Epoch
	if epoch == "" {
		epoch = newEpoch()
	}
	c := &ResultCache{
		epoch:       epoch,
		backend:     backend,
		ttl:         opts.TTL,
		metrics:     opts.Metrics,
		logger:      slog.Default().With("component", "result-cache"),
		generations: make(map[uint64]struct{}),
	}
	cbCfg := opts.Breaker
	if m := opts.Metrics; m != nil {
		next := cbCfg.OnStateChange
		cbCfg.OnStateChange = func(name string, to resilience.State) {
			m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			if next != nil {
				next(name, to)
			}
		}
	}
	c.breaker = resilience.NewCircuitBreaker("result-cache", cbCfg)
	c.logger.Info("result cache ready", "epoch", epoch, "ttl", opts.TTL)
	return c
}

func newEpoch() string {
	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("t%x", time.Now().UnixNano())
	}
	return hex.EncodeToString(b[:])
}

// Breaker reports the state of the breaker guarding the backend.
func (c *ResultCache) Breaker() resilience.BreakerStatus {
	return c.breaker.Status()
}

// Epoch returns the namespace this cache writes under.
func (c *ResultCache) Epoch() string {
	return c.epoch
}

// KeyString returns the backend key for k.
func (c *ResultCache) KeyString(k Key) string {
	hash := sha256.Sum256([]byte(strings.Join(k.Parts, "\x00")))
	return fmt.Sprintf("%s%s:%x", c.generationPrefix(k.Generation), k.Kind, hash[:16])
}

func (c *ResultCache) generationPrefix(gen uint64) string {
	return fmt.Sprintf("%s%s:g%d:", keyPrefix, c.epoch, gen)
}

// GetOrCompute returns the cached value for key, or runs compute, stores its
// result and returns it. Concurrent misses on one key share a single
// compute. Backend failures degrade to computing without caching. A nil
// cache always computes.
func GetOrCompute[T any](ctx context.Context, c *ResultCache, key Key, compute func() (T, error)) (T, bool, error) {
	if c == nil {
		v, err := compute()
		return v, false, err
	}
	k := c.KeyString(key)
	var v T
	if c.load(ctx, k, &v) {
		return v, true, nil
	}
	val, err, _ := c.group.Do(k, func() (interface{}, error) {
		var cached T
		if c.load(ctx, k, &cached) {
			return cached, nil
		}
		computed, err := compute()
		if err != nil {
			return nil, err
		}
		c.store(ctx, k, key.Generation, computed)
		return computed, nil
	})
	if err != nil {
		var zero T
		return zero, false, err
	}
	return val.(T), false, nil
}

func (c *ResultCache) load(ctx context.Context, key string, dst any) bool {
	var data []byte
	miss := false
	err := c.breaker.Execute(func() error {
		d, err := c.backend.Get(ctx, key)
		if errors.Is(err, ErrMiss) {
			miss = true
			return nil
		}
		data = d
		return err
	})
	switch {
	case err != nil:
		c.logger.Warn("cache get failed", "key", key, "error", err)
		c.recordMiss()
		return false
	case miss:
		c.recordMiss()
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.recordMiss()
		return false
	}
	c.recordHit()
	c.logger.Debug("cache hit", "key", key)
	return true
}

func (c *ResultCache) store(ctx context.Context, key string, gen uint64, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	err = c.breaker.Execute(func() error {
		return c.backend.Set(ctx, key, data, c.ttl)
	})
	if err != nil {
		c.logger.Warn("cache set failed", "key", key, "error", err)
		return
	}
	c.mu.Lock()
	c.generations[gen] = struct{}{}
	c.mu.Unlock()
}

// Invalidate drops every entry written for a generation older than current.
func (c *ResultCache) Invalidate(ctx context.Context, current uint64) (int64, error) {
	c.mu.Lock()
	stale := make([]uint64, 0, len(c.generations))
	for gen := range c.generations {
		if gen < current {
			stale = append(stale, gen)
		}
	}
	c.mu.Unlock()

	var deleted int64
	for _, gen := range stale {
		n, err := c.backend.FlushByPattern(ctx, c.generationPrefix(gen)+"*")
		deleted += n
		if err != nil {
			return deleted, fmt.Errorf("invalidating generation %d: %w", gen, err)
		}
		c.mu.Lock()
		delete(c.generations, gen)
		c.mu.Unlock()
	}
	if deleted > 0 {
		c.logger.Info("cache invalidate", "generations", len(stale), "keys_deleted", deleted)
	}
	return deleted, nil
}

func (c *ResultCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *ResultCache) recordHit() {
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
}

func (c *ResultCache) recordMiss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}
