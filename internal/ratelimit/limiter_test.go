package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllowEnforcesBurstPerKey(t *testing.T) {
	t.Parallel()

	// One token every ~17 minutes: the second call inside the test cannot refill.
	l := New(Config{RatePerSecond: 0.001, Burst: 2})

	require.True(t, l.Allow("worker-a"))
	require.True(t, l.Allow("worker-a"))
	require.False(t, l.Allow("worker-a"))

	require.True(t, l.Allow("worker-b"), "buckets are independent")
	require.Equal(t, 2, l.Len())

	l.Forget("worker-a")
	require.True(t, l.Allow("worker-a"), "forgotten key starts with a full bucket")
}

func TestZeroRateIsUnlimited(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	for range 100 {
		require.True(t, l.Allow("worker-a"))
	}
	require.Zero(t, l.Len())
}

func TestNilLimiterAllows(t *testing.T) {
	t.Parallel()

	var l *Limiter
	require.True(t, l.Allow("x"))
	l.Forget("x")
	require.Zero(t, l.Len())
}
