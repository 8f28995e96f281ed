// Package kv defines the shared key-value surface the coordinator uses for
// leader election, the published ETA, the admin banner and cached responses.
package kv

import (
	"context"
	"time"
)

// Store is implemented by the redis backend and the in-process backend.
type Store interface {
	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value; a zero ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error

	// Append pushes value onto the tail of the list at key.
	Append(ctx context.Context, key, value string) error
	// Range returns the whole list at key, head first.
	Range(ctx context.Context, key string) ([]string, error)

	// AcquireLease sets key to holder with ttl if the key is free. A holder
	// that already owns the lease gets it extended.
	AcquireLease(ctx context.Context, key, holder string, ttl time.Duration) (bool, error)
	// RenewLease extends the lease only while holder still owns it.
	RenewLease(ctx context.Context, key, holder string, ttl time.Duration) (bool, error)
	// ReleaseLease deletes the lease only while holder still owns it.
	ReleaseLease(ctx context.Context, key, holder string) (bool, error)
	// LeaseHolder returns the current owner, if any.
	LeaseHolder(ctx context.Context, key string) (string, bool, error)

	Ping(ctx context.Context) error
	Close() error
}
