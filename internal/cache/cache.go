// Package cache memoizes rendered responses in the shared key-value store.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/shard-coordinator/internal/jobs"
	"github.com/JakeFAU/shard-coordinator/internal/kv"
	"github.com/JakeFAU/shard-coordinator/internal/metrics"
)

const keyPrefix = "cache:"

// envelope carries its own absolute expiry so a backend that keeps the key
// past its TTL never serves a stale body.
type envelope struct {
	Body      []byte    `json:"body"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ComputeFunc renders a fresh response body.
type ComputeFunc func(ctx context.Context) ([]byte, error)

// ResponseCache stores response bodies under a TTL. Concurrent misses each
// compute independently.
type ResponseCache struct {
	store  kv.Store
	clock  jobs.Clock
	logger *zap.Logger
}

// New builds a cache over store.
func New(store kv.Store, clock jobs.Clock, logger *zap.Logger) *ResponseCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResponseCache{store: store, clock: clock, logger: logger}
}

// Get returns a live entry.
func (c *ResponseCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, ok, err := c.store.Get(ctx, keyPrefix+key)
	if err != nil {
		return nil, false, fmt.Errorf("cache get %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.logger.Warn("discarding unreadable cache entry", zap.String("key", key), zap.Error(err))
		return nil, false, nil
	}
	if !c.clock.Now().Before(env.ExpiresAt) {
		return nil, false, nil
	}
	return env.Body, true, nil
}

// Set stores body until now+ttl.
func (c *ResponseCache) Set(ctx context.Context, key string, body []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("cache set %s: ttl must be > 0", key)
	}
	raw, err := json.Marshal(envelope{Body: body, ExpiresAt: c.clock.Now().Add(ttl)})
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", key, err)
	}
	if err := c.store.Set(ctx, keyPrefix+key, raw, ttl); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// Invalidate drops entries so the next read recomputes.
func (c *ResponseCache) Invalidate(ctx context.Context, keys ...string) error {
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = keyPrefix + k
	}
	if err := c.store.Delete(ctx, full...); err != nil {
		return fmt.Errorf("cache invalidate: %w", err)
	}
	return nil
}

// GetOrCompute serves a live entry or renders, stores and returns a fresh
// one. Cache backend failures degrade to computing on every call.
func (c *ResponseCache) GetOrCompute(ctx context.Context, key string, ttl time.Duration, fn ComputeFunc) ([]byte, error) {
	body, ok, err := c.Get(ctx, key)
	if err != nil {
		c.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
	}
	if ok {
		metrics.ObserveCache(true)
		return body, nil
	}
	metrics.ObserveCache(false)

	body, err = fn(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.Set(ctx, key, body, ttl); err != nil {
		c.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
	return body, nil
}
