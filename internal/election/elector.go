// Package election picks the single process that runs the background duties.
package election

import (
	"context"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/shard-coordinator/internal/kv"
	"github.com/JakeFAU/shard-coordinator/internal/metrics"
)

// Strategy selects the election protocol.
type Strategy string

const (
	// StrategyLease holds an expiring key that the leader keeps renewing. A
	// crashed leader is replaced once its lease lapses.
	StrategyLease Strategy = "lease"
	// StrategyList appends node ids to a shared list and elects the head.
	// The list is only cleared on graceful shutdown, so a crashed head
	// leaves the deployment leaderless until an operator clears the key.
	StrategyList Strategy = "list"
)

const releaseTimeout = 5 * time.Second

// Config configures an Elector.
type Config struct {
	Strategy    Strategy
	Key         string
	NodeID      string
	TTL         time.Duration
	SettleDelay time.Duration
}

// Duty is work that must run on one process only. It must return promptly
// once ctx is cancelled.
type Duty func(ctx context.Context)

// Elector runs a Duty while this process holds leadership.
type Elector struct {
	cfg    Config
	store  kv.Store
	logger *zap.Logger
	leader atomic.Bool
}

// New validates cfg and builds an Elector.
func New(cfg Config, store kv.Store, logger *zap.Logger) (*Elector, error) {
	switch cfg.Strategy {
	case StrategyLease:
		if cfg.TTL <= 0 {
			return nil, fmt.Errorf("election.ttl must be > 0")
		}
	case StrategyList:
		if cfg.SettleDelay < 0 {
			return nil, fmt.Errorf("election.settle_delay must be >= 0")
		}
	default:
		return nil, fmt.Errorf("election.strategy must be lease or list, got %q", cfg.Strategy)
	}
	if cfg.Key == "" {
		return nil, fmt.Errorf("election.key is required")
	}
	if cfg.NodeID == "" {
		return nil, fmt.Errorf("election.node_id is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Elector{cfg: cfg, store: store, logger: logger.With(zap.String("node_id", cfg.NodeID))}, nil
}

// IsLeader reports whether the duty is currently running here.
func (e *Elector) IsLeader() bool {
	return e.leader.Load()
}

// NodeID returns this process's election identity.
func (e *Elector) NodeID() string {
	return e.cfg.NodeID
}

// Run blocks until ctx is cancelled, running duty whenever this process is
// the leader.
func (e *Elector) Run(ctx context.Context, duty Duty) error {
	if e.cfg.Strategy == StrategyList {
		return e.runList(ctx, duty)
	}
	return e.runLease(ctx, duty)
}

func (e *Elector) setLeader(v bool) {
	e.leader.Store(v)
	metrics.SetLeader(v)
}

func (e *Elector) runLease(ctx context.Context, duty Duty) error {
	every := e.cfg.TTL / 3
	for {
		ok, err := e.store.AcquireLease(ctx, e.cfg.Key, e.cfg.NodeID, e.cfg.TTL)
		switch {
		case ctx.Err() != nil:
			return nil
		case err != nil:
			e.logger.Warn("lease acquire failed", zap.Error(err))
		case ok:
			e.logger.Info("leadership acquired")
			e.lead(ctx, duty, every)
			if ctx.Err() != nil {
				e.release()
				return nil
			}
			e.logger.Warn("leadership lost")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(every):
		}
	}
}

// lead runs duty and renews the lease until ctx ends or the lease is lost.
// Two consecutive renewal errors are treated as loss: by then two thirds of
// the TTL have passed without confirmation.
func (e *Elector) lead(ctx context.Context, duty Duty, every time.Duration) {
	dutyCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	e.setLeader(true)
	go func() {
		defer close(done)
		duty(dutyCtx)
	}()
	defer func() {
		cancel()
		<-done
		e.setLeader(false)
	}()

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			ok, err := e.store.RenewLease(ctx, e.cfg.Key, e.cfg.NodeID, e.cfg.TTL)
			if err != nil {
				failures++
				e.logger.Warn("lease renew failed", zap.Int("consecutive", failures), zap.Error(err))
				if failures >= 2 {
					return
				}
				continue
			}
			if !ok {
				return
			}
			failures = 0
		}
	}
}

func (e *Elector) release() {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if _, err := e.store.ReleaseLease(ctx, e.cfg.Key, e.cfg.NodeID); err != nil {
		e.logger.Warn("lease release failed", zap.Error(err))
		return
	}
	e.logger.Info("leadership released")
}

func (e *Elector) runList(ctx context.Context, duty Duty) error {
	if err := e.store.Append(ctx, e.cfg.Key, e.cfg.NodeID); err != nil {
		return fmt.Errorf("join leader list: %w", err)
	}
	select {
	case <-ctx.Done():
		return nil
	case <-time.After(e.cfg.SettleDelay):
	}
	nodes, err := e.store.Range(ctx, e.cfg.Key)
	if err != nil {
		return fmt.Errorf("read leader list: %w", err)
	}
	if len(nodes) == 0 || nodes[0] != e.cfg.NodeID {
		e.logger.Info("not elected", zap.Int("position", slices.Index(nodes, e.cfg.NodeID)))
		<-ctx.Done()
		return nil
	}

	e.logger.Info("elected at list head")
	e.setLeader(true)
	duty(ctx)
	e.setLeader(false)

	clearCtx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := e.store.Delete(clearCtx, e.cfg.Key); err != nil {
		return fmt.Errorf("clear leader list: %w", err)
	}
	e.logger.Info("leader list cleared")
	return nil
}
