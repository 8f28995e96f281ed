// Package throughput samples the job completion rate on a fixed interval
// and publishes a projected time to completion.
package throughput

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/shard-coordinator/internal/jobs"
	"github.com/JakeFAU/shard-coordinator/internal/kv"
	"github.com/JakeFAU/shard-coordinator/internal/metrics"
)

// Published sentinels.
const (
	Calculating = "Calculating..."
	Finished    = "Finished"
	Stalled     = "Stalled"
)

// Key is where the latest Estimate is published.
const Key = "eta"

// Config controls the sampling window.
type Config struct {
	Interval time.Duration
	Window   int
}

// CountSource provides the per-stage job snapshot.
type CountSource interface {
	Counts(ctx context.Context) (jobs.JobCounts, error)
}

// Estimate is the published projection.
type Estimate struct {
	Text          string    `json:"text"`
	Seconds       int64     `json:"seconds"`
	RatePerSecond float64   `json:"rate_per_second"`
	Remaining     int64     `json:"remaining"`
	Samples       int       `json:"samples"`
	At            time.Time `json:"at"`
}

// Estimator keeps a sliding window of per-interval completion deltas. It
// must only run on the elected process; a second copy would publish a
// competing window.
type Estimator struct {
	cfg    Config
	src    CountSource
	store  kv.Store
	clock  jobs.Clock
	logger *zap.Logger

	mu         sync.Mutex
	samples    []int64
	lastClosed int64
	primed     bool
}

// New builds an Estimator.
func New(cfg Config, src CountSource, store kv.Store, clock jobs.Clock, logger *zap.Logger) (*Estimator, error) {
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("throughput.interval must be > 0")
	}
	if cfg.Window < 1 {
		return nil, fmt.Errorf("throughput.window must be >= 1")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Estimator{cfg: cfg, src: src, store: store, clock: clock, logger: logger}, nil
}

// Run samples every interval until ctx is cancelled. The first reading only
// establishes the baseline.
func (e *Estimator) Run(ctx context.Context) {
	if err := e.prime(ctx); err != nil {
		e.logger.Warn("throughput baseline failed", zap.Error(err))
	}
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			est, err := e.Sample(ctx)
			if err != nil {
				e.logger.Warn("throughput sample failed", zap.Error(err))
				continue
			}
			e.logger.Info("eta updated",
				zap.String("eta", est.Text),
				zap.Float64("rate_per_second", est.RatePerSecond),
				zap.Int64("remaining", est.Remaining),
			)
		}
	}
}

func (e *Estimator) prime(ctx context.Context) error {
	counts, err := e.src.Counts(ctx)
	if err != nil {
		return fmt.Errorf("read job counts: %w", err)
	}
	e.mu.Lock()
	e.lastClosed = counts.Closed
	e.primed = true
	e.mu.Unlock()
	return nil
}

// Sample reads the closed count, records the delta since the previous
// sample and publishes the new estimate. An unprimed estimator only records
// the baseline.
func (e *Estimator) Sample(ctx context.Context) (Estimate, error) {
	counts, err := e.src.Counts(ctx)
	if err != nil {
		return Estimate{}, fmt.Errorf("read job counts: %w", err)
	}
	e.mu.Lock()
	if e.primed {
		e.push(counts.Closed - e.lastClosed)
	}
	e.lastClosed = counts.Closed
	e.primed = true
	est := e.compute(counts.Remaining())
	e.mu.Unlock()
	return e.publish(ctx, est)
}

// Record pushes one completion delta and publishes the estimate against
// the current remaining count.
func (e *Estimator) Record(ctx context.Context, delta int64) (Estimate, error) {
	counts, err := e.src.Counts(ctx)
	if err != nil {
		return Estimate{}, fmt.Errorf("read job counts: %w", err)
	}
	e.mu.Lock()
	e.push(delta)
	est := e.compute(counts.Remaining())
	e.mu.Unlock()
	return e.publish(ctx, est)
}

// push appends a sample; admin reopens can make a delta negative, which is
// clamped. Callers hold e.mu.
func (e *Estimator) push(delta int64) {
	if delta < 0 {
		delta = 0
	}
	e.samples = append(e.samples, delta)
	if over := len(e.samples) - e.cfg.Window; over > 0 {
		e.samples = e.samples[over:]
	}
}

// compute derives the estimate from the window. Callers hold e.mu.
func (e *Estimator) compute(remaining int64) Estimate {
	est := Estimate{Remaining: remaining, Samples: len(e.samples), Seconds: -1, At: e.clock.Now()}
	if remaining == 0 {
		est.Text = Finished
		est.Seconds = 0
		return est
	}
	if len(e.samples) == 0 {
		est.Text = Calculating
		return est
	}
	var sum int64
	for _, s := range e.samples {
		sum += s
	}
	intervalMs := e.cfg.Interval.Milliseconds()
	n := int64(len(e.samples))
	est.RatePerSecond = float64(sum) / float64(n) / e.cfg.Interval.Seconds()
	if sum == 0 {
		est.Text = Stalled
		return est
	}
	// remaining / (sum / n / interval), kept in integers so the floor is exact.
	est.Seconds = remaining * intervalMs * n / (sum * 1000)
	est.Text = Format(est.Seconds)
	return est
}

func (e *Estimator) publish(ctx context.Context, est Estimate) (Estimate, error) {
	metrics.SetETA(float64(est.Seconds))
	raw, err := json.Marshal(est)
	if err != nil {
		return est, fmt.Errorf("encode estimate: %w", err)
	}
	if err := e.store.Set(ctx, Key, raw, 0); err != nil {
		return est, fmt.Errorf("publish estimate: %w", err)
	}
	return est, nil
}

// Current reads the published estimate. Before the first publication it
// reports Calculating.
func Current(ctx context.Context, store kv.Store) (Estimate, error) {
	raw, ok, err := store.Get(ctx, Key)
	if err != nil {
		return Estimate{}, fmt.Errorf("read estimate: %w", err)
	}
	if !ok {
		return Estimate{Text: Calculating, Seconds: -1}, nil
	}
	var est Estimate
	if err := json.Unmarshal(raw, &est); err != nil {
		return Estimate{}, fmt.Errorf("decode estimate: %w", err)
	}
	return est, nil
}
