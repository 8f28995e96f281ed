package snapshot_test

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/shard-coordinator/internal/blob"
	"github.com/JakeFAU/shard-coordinator/internal/blob/memory"
	"github.com/JakeFAU/shard-coordinator/internal/jobs"
	"github.com/JakeFAU/shard-coordinator/internal/snapshot"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type stubSource struct {
	summary jobs.Summary
	board   []byte
	err     error
}

func (s stubSource) Summary(context.Context) (jobs.Summary, error) {
	return s.summary, s.err
}

func (s stubSource) LeaderboardJSON(context.Context) ([]byte, error) {
	return s.board, nil
}

func TestExportWritesStampedAndLatest(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	src := stubSource{
		summary: jobs.Summary{Completion: "3 / 10", Counts: jobs.JobCounts{Closed: 3, Open: 7}},
		board:   []byte(`[{"nickname":"ada","jobs_completed":3}]`),
	}
	clock := fixedClock{now: time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC)}
	exp, err := snapshot.New(snapshot.Config{Interval: time.Minute, Prefix: "snapshots"}, src, blobs, clock, nil)
	require.NoError(t, err)

	res, err := exp.Export(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.URIs, 4)

	paths := blobs.Paths()
	sort.Strings(paths)
	assert.Equal(t, []string{
		"snapshots/20240601T123000Z/leaderboard.json",
		"snapshots/20240601T123000Z/summary.json",
		"snapshots/latest/leaderboard.json",
		"snapshots/latest/summary.json",
	}, paths)

	raw, err := exp.Latest(context.Background(), "summary.json")
	require.NoError(t, err)
	var got jobs.Summary
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "3 / 10", got.Completion)

	board, err := exp.Latest(context.Background(), "leaderboard.json")
	require.NoError(t, err)
	assert.JSONEq(t, string(src.board), string(board))
}

func TestExportSourceError(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	boom := errors.New("db down")
	exp, err := snapshot.New(snapshot.Config{Interval: time.Minute}, stubSource{err: boom}, blobs, fixedClock{now: time.Now()}, nil)
	require.NoError(t, err)

	_, err = exp.Export(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Empty(t, blobs.Paths())
}

func TestLatestMissing(t *testing.T) {
	t.Parallel()

	exp, err := snapshot.New(snapshot.Config{Interval: time.Minute}, stubSource{}, memory.NewBlobStore(), fixedClock{}, nil)
	require.NoError(t, err)
	_, err = exp.Latest(context.Background(), "summary.json")
	require.ErrorIs(t, err, blob.ErrNotFound)
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := snapshot.New(snapshot.Config{}, stubSource{}, memory.NewBlobStore(), fixedClock{}, nil)
	require.Error(t, err)
	_, err = snapshot.New(snapshot.Config{Interval: time.Second}, nil, memory.NewBlobStore(), fixedClock{}, nil)
	require.Error(t, err)
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	exp, err := snapshot.New(snapshot.Config{Interval: 10 * time.Millisecond}, stubSource{board: []byte("[]")}, memory.NewBlobStore(), fixedClock{now: time.Now()}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		exp.Run(ctx)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("exporter did not stop")
	}
}
