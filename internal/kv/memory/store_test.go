package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestSetExpiresAgainstClock(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := NewStore(clock)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "eta", []byte("Stalled"), time.Minute))
	got, ok, err := s.Get(ctx, "eta")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Stalled", string(got))

	clock.Advance(time.Minute)
	_, ok, err = s.Get(ctx, "eta")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Set(ctx, "banner", []byte("hi"), 0))
	clock.Advance(24 * time.Hour)
	_, ok, _ = s.Get(ctx, "banner")
	require.True(t, ok, "zero ttl never expires")
}

func TestAppendRange(t *testing.T) {
	t.Parallel()

	s := NewStore(nil)
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, "leaders", "a"))
	require.NoError(t, s.Append(ctx, "leaders", "b"))
	vals, err := s.Range(ctx, "leaders")
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, vals)

	require.NoError(t, s.Delete(ctx, "leaders"))
	vals, err = s.Range(ctx, "leaders")
	require.NoError(t, err)
	require.Empty(t, vals)
}

func TestLeaseOwnership(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(0, 0)}
	s := NewStore(clock)
	ctx := context.Background()

	ok, _ := s.AcquireLease(ctx, "leader", "a", 10*time.Second)
	require.True(t, ok)
	ok, _ = s.AcquireLease(ctx, "leader", "b", 10*time.Second)
	require.False(t, ok)

	clock.Advance(8 * time.Second)
	ok, _ = s.RenewLease(ctx, "leader", "a", 10*time.Second)
	require.True(t, ok)
	clock.Advance(8 * time.Second)
	holder, ok, _ := s.LeaseHolder(ctx, "leader")
	require.True(t, ok)
	require.Equal(t, "a", holder)

	ok, _ = s.ReleaseLease(ctx, "leader", "b")
	require.False(t, ok)

	clock.Advance(11 * time.Second)
	ok, _ = s.RenewLease(ctx, "leader", "a", 10*time.Second)
	require.False(t, ok, "expired lease cannot be renewed")
	ok, _ = s.AcquireLease(ctx, "leader", "b", 10*time.Second)
	require.True(t, ok)
	ok, _ = s.ReleaseLease(ctx, "leader", "b")
	require.True(t, ok)
}
