// Package redis implements kv.Store on Redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/JakeFAU/shard-coordinator/internal/kv"
)

// Config holds connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

var (
	renewScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// Store is a prefixed view over a Redis client.
type Store struct {
	client goredis.UniversalClient
	prefix string
}

var _ kv.Store = (*Store)(nil)

// New dials Redis using cfg.
func New(cfg Config) (*Store, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("kv.addr is required")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewWithClient(client, cfg.Prefix), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client goredis.UniversalClient, prefix string) *Store {
	return &Store{client: client, prefix: prefix}
}

func (s *Store) key(k string) string {
	return s.prefix + k
}

// Get returns the value and whether the key exists.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return b, true, nil
}

// Set stores value with an optional ttl.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete removes keys.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}
	if err := s.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Append pushes value onto the tail of a list.
func (s *Store) Append(ctx context.Context, key, value string) error {
	if err := s.client.RPush(ctx, s.key(key), value).Err(); err != nil {
		return fmt.Errorf("redis rpush %s: %w", key, err)
	}
	return nil
}

// Range returns the whole list.
func (s *Store) Range(ctx context.Context, key string) ([]string, error) {
	vals, err := s.client.LRange(ctx, s.key(key), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange %s: %w", key, err)
	}
	return vals, nil
}

// AcquireLease takes the lease with SET NX PX, or extends it if holder
// already owns it.
func (s *Store) AcquireLease(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.key(key), holder, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis acquire lease %s: %w", key, err)
	}
	if ok {
		return true, nil
	}
	return s.RenewLease(ctx, key, holder, ttl)
}

// RenewLease extends the lease while holder still owns it.
func (s *Store) RenewLease(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	n, err := renewScript.Run(ctx, s.client, []string{s.key(key)}, holder, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("redis renew lease %s: %w", key, err)
	}
	return n == 1, nil
}

// ReleaseLease deletes the lease while holder still owns it.
func (s *Store) ReleaseLease(ctx context.Context, key, holder string) (bool, error) {
	n, err := releaseScript.Run(ctx, s.client, []string{s.key(key)}, holder).Int64()
	if err != nil {
		return false, fmt.Errorf("redis release lease %s: %w", key, err)
	}
	return n == 1, nil
}

// LeaseHolder returns the current lease owner.
func (s *Store) LeaseHolder(ctx context.Context, key string) (string, bool, error) {
	b, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return "", ok, err
	}
	return string(b), true, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close closes the client.
func (s *Store) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}
