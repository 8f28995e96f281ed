package election

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	kvmemory "github.com/JakeFAU/shard-coordinator/internal/kv/memory"
)

// tracker records how many duties run at once.
type tracker struct {
	active  atomic.Int32
	maxSeen atomic.Int32
	runs    atomic.Int32
}

func (tr *tracker) duty(ctx context.Context) {
	n := tr.active.Add(1)
	tr.runs.Add(1)
	for {
		m := tr.maxSeen.Load()
		if n <= m || tr.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	<-ctx.Done()
	tr.active.Add(-1)
}

func leaseConfig(node string) Config {
	return Config{Strategy: StrategyLease, Key: "leader", NodeID: node, TTL: 150 * time.Millisecond}
}

func TestLeaseElectsExactlyOneAndFailsOver(t *testing.T) {
	store := kvmemory.NewStore(nil)
	tr := &tracker{}

	a, err := New(leaseConfig("node-a"), store, nil)
	require.NoError(t, err)
	b, err := New(leaseConfig("node-b"), store, nil)
	require.NoError(t, err)

	ctxA, cancelA := context.WithCancel(context.Background())
	ctxB, cancelB := context.WithCancel(context.Background())
	defer cancelB()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = a.Run(ctxA, tr.duty) }()
	go func() { defer wg.Done(); _ = b.Run(ctxB, tr.duty) }()

	require.Eventually(t, func() bool { return tr.active.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(400 * time.Millisecond)
	require.Equal(t, int32(1), tr.maxSeen.Load(), "never two leaders at once")

	leader, follower, cancelLeader := a, b, cancelA
	if b.IsLeader() {
		leader, follower = b, a
		cancelLeader = cancelB
	}
	require.True(t, leader.IsLeader())
	require.False(t, follower.IsLeader())

	cancelLeader()
	require.Eventually(t, follower.IsLeader, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, int32(1), tr.maxSeen.Load())

	cancelA()
	cancelB()
	wg.Wait()
	require.Equal(t, int32(0), tr.active.Load())

	_, held, err := store.LeaseHolder(context.Background(), "leader")
	require.NoError(t, err)
	require.False(t, held, "graceful shutdown releases the lease")
}

func TestLeaseLossCancelsDuty(t *testing.T) {
	store := kvmemory.NewStore(nil)
	e, err := New(leaseConfig("node-a"), store, nil)
	require.NoError(t, err)

	started := make(chan struct{}, 1)
	stopped := make(chan struct{}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = e.Run(ctx, func(dctx context.Context) {
			select {
			case started <- struct{}{}:
			default:
			}
			<-dctx.Done()
			select {
			case stopped <- struct{}{}:
			default:
			}
		})
	}()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("duty never started")
	}

	// Another node steals the key, as if our lease had lapsed.
	require.NoError(t, store.Delete(context.Background(), "leader"))
	ok, err := store.AcquireLease(context.Background(), "leader", "node-z", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("duty not cancelled after losing the lease")
	}
	require.Eventually(t, func() bool { return !e.IsLeader() }, time.Second, 10*time.Millisecond)
}

func TestListElectsHeadAndClearsOnShutdown(t *testing.T) {
	store := kvmemory.NewStore(nil)
	require.NoError(t, store.Append(context.Background(), "leaders", "node-a"))

	cfg := func(node string) Config {
		return Config{Strategy: StrategyList, Key: "leaders", NodeID: node, SettleDelay: 20 * time.Millisecond}
	}
	// node-a joined earlier; Run appends it again, the head entry still wins.
	a, err := New(cfg("node-a"), store, nil)
	require.NoError(t, err)
	b, err := New(cfg("node-b"), store, nil)
	require.NoError(t, err)

	tr := &tracker{}
	ctxA, cancelA := context.WithCancel(context.Background())
	ctxB, cancelB := context.WithCancel(context.Background())
	errs := make(chan error, 2)
	go func() { errs <- a.Run(ctxA, tr.duty) }()
	go func() { errs <- b.Run(ctxB, tr.duty) }()

	require.Eventually(t, a.IsLeader, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	require.False(t, b.IsLeader())
	require.Equal(t, int32(1), tr.runs.Load())

	cancelA()
	cancelB()
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)

	nodes, err := store.Range(context.Background(), "leaders")
	require.NoError(t, err)
	require.Empty(t, nodes)
}

func TestNewValidatesConfig(t *testing.T) {
	store := kvmemory.NewStore(nil)
	_, err := New(Config{Strategy: "raft", Key: "k", NodeID: "n"}, store, nil)
	require.Error(t, err)
	_, err = New(Config{Strategy: StrategyLease, Key: "k", NodeID: "n"}, store, nil)
	require.Error(t, err)
	_, err = New(Config{Strategy: StrategyList, NodeID: "n"}, store, nil)
	require.Error(t, err)
	_, err = New(Config{Strategy: StrategyList, Key: "k"}, store, nil)
	require.Error(t, err)
}
