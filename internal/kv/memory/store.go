// Package memory implements kv.Store in process for tests and single-node runs.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/shard-coordinator/internal/jobs"
	"github.com/JakeFAU/shard-coordinator/internal/kv"
)

type entry struct {
	value   []byte
	list    []string
	expires time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expires.IsZero() && !now.Before(e.expires)
}

// Store keeps values in a map guarded by a mutex. Expiry is evaluated
// lazily against the clock.
type Store struct {
	mu    sync.Mutex
	data  map[string]entry
	clock jobs.Clock
}

var _ kv.Store = (*Store)(nil)

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// NewStore returns an empty store. A nil clock uses wall time.
func NewStore(clock jobs.Clock) *Store {
	if clock == nil {
		clock = wallClock{}
	}
	return &Store{data: make(map[string]entry), clock: clock}
}

func (s *Store) lookup(key string) (entry, bool) {
	e, ok := s.data[key]
	if !ok {
		return entry{}, false
	}
	if e.expired(s.clock.Now()) {
		delete(s.data, key)
		return entry{}, false
	}
	return e, true
}

func (s *Store) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.clock.Now().Add(ttl)
}

// Get returns a copy of the stored value.
func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookup(key)
	if !ok || e.value == nil {
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

// Set stores a copy of value.
func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = entry{value: append([]byte{}, value...), expires: s.deadline(ttl)}
	return nil
}

// Delete removes keys.
func (s *Store) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.data, k)
	}
	return nil
}

// Append pushes value onto the list at key.
func (s *Store) Append(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, _ := s.lookup(key)
	e.list = append(e.list, value)
	s.data[key] = e
	return nil
}

// Range returns a copy of the list at key.
func (s *Store) Range(_ context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookup(key)
	if !ok {
		return nil, nil
	}
	return append([]string(nil), e.list...), nil
}

// AcquireLease claims key for holder if free or already held by holder.
func (s *Store) AcquireLease(_ context.Context, key, holder string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookup(key)
	if ok && string(e.value) != holder {
		return false, nil
	}
	s.data[key] = entry{value: []byte(holder), expires: s.deadline(ttl)}
	return true, nil
}

// RenewLease extends the lease while holder owns it.
func (s *Store) RenewLease(_ context.Context, key, holder string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookup(key)
	if !ok || string(e.value) != holder {
		return false, nil
	}
	e.expires = s.deadline(ttl)
	s.data[key] = e
	return true, nil
}

// ReleaseLease drops the lease while holder owns it.
func (s *Store) ReleaseLease(_ context.Context, key, holder string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookup(key)
	if !ok || string(e.value) != holder {
		return false, nil
	}
	delete(s.data, key)
	return true, nil
}

// LeaseHolder returns the current owner.
func (s *Store) LeaseHolder(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookup(key)
	if !ok || e.value == nil {
		return "", false, nil
	}
	return string(e.value), true, nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() error { return nil }
