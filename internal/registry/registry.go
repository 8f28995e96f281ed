// Package registry tracks volunteer workers: registration, heartbeats,
// disconnects and lookups by display name or token.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/JakeFAU/shard-coordinator/internal/jobs"
	"github.com/JakeFAU/shard-coordinator/internal/metrics"
	"github.com/JakeFAU/shard-coordinator/internal/publisher"
)

const (
	defaultCacheSize = 256
	defaultCacheTTL  = 5 * time.Second
	maxNameAttempts  = 8
	initialProgress  = "Initialized"
)

// Config tunes the lookup cache.
type Config struct {
	LookupCacheSize int
	LookupCacheTTL  time.Duration
}

// Registry is the WorkerRegistry.
type Registry struct {
	store  jobs.WorkerStore
	ids    jobs.IDGenerator
	names  jobs.NameGenerator
	clock  jobs.Clock
	events *publisher.Emitter
	logger *zap.Logger

	byName *expirable.LRU[string, jobs.Worker]
}

// New builds a Registry.
func New(
	cfg Config,
	store jobs.WorkerStore,
	ids jobs.IDGenerator,
	names jobs.NameGenerator,
	clock jobs.Clock,
	events *publisher.Emitter,
	logger *zap.Logger,
) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	size := cfg.LookupCacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	ttl := cfg.LookupCacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Registry{
		store:  store,
		ids:    ids,
		names:  names,
		clock:  clock,
		events: events,
		logger: logger,
		byName: expirable.NewLRU[string, jobs.Worker](size, nil, ttl),
	}
}

// Register creates a worker with no job. Display-name collisions are retried
// with a fresh name.
func (r *Registry) Register(ctx context.Context, class jobs.WorkerClass, nickname string) (jobs.Worker, error) {
	if _, err := jobs.ParseWorkerClass(string(class)); err != nil {
		return jobs.Worker{}, err
	}
	nickname = strings.TrimSpace(nickname)
	if nickname == "" {
		return jobs.Worker{}, fmt.Errorf("%w: nickname is required", jobs.ErrBadInput)
	}

	var lastErr error
	for range maxNameAttempts {
		token, err := r.ids.NewID()
		if err != nil {
			return jobs.Worker{}, fmt.Errorf("generate token: %w", err)
		}
		now := r.clock.Now()
		w := jobs.Worker{
			Token:       token,
			DisplayName: r.names.Generate(),
			Class:       class,
			Nickname:    nickname,
			Progress:    initialProgress,
			FirstSeen:   now,
			LastSeen:    now,
		}
		err = r.store.CreateWorker(ctx, w)
		if err == nil {
			r.logger.Info("worker registered",
				zap.String("display_name", w.DisplayName),
				zap.String("class", string(class)),
				zap.String("nickname", nickname),
			)
			return w, nil
		}
		if !errors.Is(err, jobs.ErrDuplicateWorker) {
			return jobs.Worker{}, fmt.Errorf("register worker: %w", err)
		}
		lastErr = err
	}
	return jobs.Worker{}, fmt.Errorf("register worker after %d attempts: %w", maxNameAttempts, lastErr)
}

// Touch refreshes the idle clock.
func (r *Registry) Touch(ctx context.Context, token string) error {
	return r.store.TouchWorker(ctx, token, r.clock.Now(), nil)
}

// UpdateProgress refreshes the idle clock and replaces the progress text.
func (r *Registry) UpdateProgress(ctx context.Context, token, progress string) error {
	return r.store.TouchWorker(ctx, token, r.clock.Now(), &progress)
}

// Validate reports whether token is registered with class, refreshing it
// when it is.
func (r *Registry) Validate(ctx context.Context, token string, class jobs.WorkerClass) (bool, error) {
	w, err := r.store.GetWorker(ctx, token)
	if err != nil {
		if errors.Is(err, jobs.ErrWorkerNotFound) {
			return false, nil
		}
		return false, err
	}
	if w.Class != class {
		return false, nil
	}
	if err := r.Touch(ctx, token); err != nil && !errors.Is(err, jobs.ErrWorkerNotFound) {
		return false, err
	}
	return true, nil
}

// Disconnect releases the worker's job, if any, and deletes the worker.
func (r *Registry) Disconnect(ctx context.Context, token string) (bool, error) {
	w, err := r.store.GetWorker(ctx, token)
	if err != nil {
		return false, err
	}
	released, err := r.store.DeleteWorker(ctx, token)
	if err != nil {
		return false, err
	}
	r.byName.Remove(w.DisplayName)
	if released == 0 {
		return false, nil
	}
	metrics.ObserveRelease(string(jobs.ReleaseDisconnect))
	r.events.Emit(ctx, jobs.Event{
		Type:       jobs.EventReleased,
		JobNumbers: []int64{released},
		Class:      w.Class,
		Nickname:   w.Nickname,
		Reason:     string(jobs.ReleaseDisconnect),
		At:         r.clock.Now(),
	})
	return true, nil
}

// Lookup resolves a worker by display name or token. Display-name hits are
// served from a small recency cache, so they may lag the store by the
// cache TTL.
func (r *Registry) Lookup(ctx context.Context, nameOrToken string) (jobs.Worker, error) {
	if w, ok := r.byName.Get(nameOrToken); ok {
		return w, nil
	}
	w, err := r.store.GetWorkerByName(ctx, nameOrToken)
	if err == nil {
		r.byName.Add(nameOrToken, w)
		return w, nil
	}
	if !errors.Is(err, jobs.ErrWorkerNotFound) {
		return jobs.Worker{}, err
	}
	return r.store.GetWorker(ctx, nameOrToken)
}

// Forget drops a cached display-name entry.
func (r *Registry) Forget(displayName string) {
	r.byName.Remove(displayName)
}
