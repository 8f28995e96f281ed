// Package reaper reclaims work from workers that stopped reporting.
package reaper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/shard-coordinator/internal/jobs"
	"github.com/JakeFAU/shard-coordinator/internal/metrics"
	"github.com/JakeFAU/shard-coordinator/internal/publisher"
)

// Config controls idle detection.
type Config struct {
	IdleTimeout time.Duration
	Interval    time.Duration
}

// Result summarizes one sweep.
type Result struct {
	Scanned  int
	Reaped   int
	Released []int64
}

// Hook observes every reaped worker, e.g. to drop per-worker caches.
type Hook func(w jobs.Worker)

// Reaper is the IdleReaper. Each worker is reaped in its own transaction
// that re-checks staleness, so a worker that reports in mid-sweep is kept.
type Reaper struct {
	cfg    Config
	store  jobs.WorkerStore
	clock  jobs.Clock
	events *publisher.Emitter
	logger *zap.Logger
	hooks  []Hook
}

// New builds a Reaper.
func New(cfg Config, store jobs.WorkerStore, clock jobs.Clock, events *publisher.Emitter, logger *zap.Logger, hooks ...Hook) (*Reaper, error) {
	if cfg.IdleTimeout <= 0 {
		return nil, fmt.Errorf("workers.idle_timeout must be > 0")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("workers.reap_interval must be > 0")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reaper{cfg: cfg, store: store, clock: clock, events: events, logger: logger, hooks: hooks}, nil
}

// Run sweeps every interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := r.Sweep(ctx)
			if err != nil {
				r.logger.Warn("idle sweep incomplete", zap.Int("reaped", res.Reaped), zap.Error(err))
				continue
			}
			if res.Reaped > 0 {
				r.logger.Info("idle sweep", zap.Int("scanned", res.Scanned), zap.Int("reaped", res.Reaped))
			}
		}
	}
}

// Sweep reaps every worker idle for longer than the timeout. Failures on one
// worker do not stop the sweep; they are joined into the returned error.
func (r *Reaper) Sweep(ctx context.Context) (Result, error) {
	now := r.clock.Now()
	cutoff := now.Add(-r.cfg.IdleTimeout)
	stale, err := r.store.StaleWorkers(ctx, cutoff)
	if err != nil {
		return Result{}, fmt.Errorf("list stale workers: %w", err)
	}

	res := Result{Scanned: len(stale)}
	var errs []error
	for _, w := range stale {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		reaped, released, err := r.store.ReapWorker(ctx, w.Token, cutoff)
		if err != nil {
			errs = append(errs, fmt.Errorf("reap %s: %w", w.DisplayName, err))
			continue
		}
		if !reaped {
			continue
		}
		res.Reaped++
		r.logger.Info("reaped idle worker",
			zap.String("display_name", w.DisplayName),
			zap.String("nickname", w.Nickname),
			zap.Time("last_seen", w.LastSeen),
			zap.Int64("released_job", released),
		)
		for _, h := range r.hooks {
			h(w)
		}
		if released == 0 {
			continue
		}
		res.Released = append(res.Released, released)
		metrics.ObserveRelease(string(jobs.ReleaseIdle))
		r.events.Emit(ctx, jobs.Event{
			Type:       jobs.EventReleased,
			JobNumbers: []int64{released},
			Class:      w.Class,
			Nickname:   w.Nickname,
			Reason:     string(jobs.ReleaseIdle),
			At:         now,
		})
	}
	metrics.ObserveReaped(res.Reaped)
	return res, errors.Join(errs...)
}
