package jobs

import (
	"context"
	"time"
)

// JobStore owns the job lifecycle rows and the claim protocol.
type JobStore interface {
	Claim(ctx context.Context, req ClaimRequest) (Job, error)
	Release(ctx context.Context, number int64, reason ReleaseReason) error
	Complete(ctx context.Context, c Completion) (Job, error)
	Reopen(ctx context.Context, number int64) error
	MarkDone(ctx context.Context, numbers []int64, nickname string, pairs int64) ([]int64, error)
	GetJob(ctx context.Context, number int64) (Job, error)
	FindOpenByURL(ctx context.Context, url string) ([]Job, error)
	CountEligible(ctx context.Context, class WorkerClass) (int64, error)
	Counts(ctx context.Context) (JobCounts, error)
}

// WorkerStore persists registered workers.
type WorkerStore interface {
	CreateWorker(ctx context.Context, w Worker) error
	GetWorker(ctx context.Context, token string) (Worker, error)
	GetWorkerByName(ctx context.Context, displayName string) (Worker, error)
	// TouchWorker refreshes last-seen; a non-nil progress also replaces the
	// progress text.
	TouchWorker(ctx context.Context, token string, at time.Time, progress *string) error
	// DeleteWorker removes the worker and releases its job in one
	// transaction, returning the released job number (zero if none).
	DeleteWorker(ctx context.Context, token string) (int64, error)
	StaleWorkers(ctx context.Context, cutoff time.Time) ([]Worker, error)
	// ReapWorker deletes the worker only if it is still stale at cutoff,
	// releasing its job first. It reports whether the row was removed.
	ReapWorker(ctx context.Context, token string, cutoff time.Time) (bool, int64, error)
	ListWorkers(ctx context.Context) ([]Worker, error)
	CountWorkers(ctx context.Context) (map[WorkerClass]int64, error)
}

// LeaderboardStore reads aggregated credit.
type LeaderboardStore interface {
	Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error)
	LeaderboardEntry(ctx context.Context, nickname string) (LeaderboardEntry, error)
	TotalPairs(ctx context.Context) (int64, error)
}

// Store is the full relational surface.
type Store interface {
	JobStore
	WorkerStore
	LeaderboardStore
	Ping(ctx context.Context) error
	Close()
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces opaque worker tokens.
type IDGenerator interface {
	NewID() (string, error)
}

// NameGenerator produces human-friendly display names.
type NameGenerator interface {
	Generate() string
}

// Publisher pushes lifecycle events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}
