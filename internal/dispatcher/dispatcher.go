// Package dispatcher fans the singleton background duties out onto
// goroutines for as long as this process holds leadership.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Runner is a long-lived loop that returns once ctx is cancelled.
type Runner interface {
	Run(ctx context.Context)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context)

// Run calls f(ctx).
func (f RunnerFunc) Run(ctx context.Context) { f(ctx) }

// Duty is a named Runner.
type Duty struct {
	Name   string
	Runner Runner
}

// Dispatcher starts every duty and waits for all of them.
type Dispatcher struct {
	duties []Duty
	logger *zap.Logger
}

// New creates a Dispatcher.
func New(logger *zap.Logger, duties ...Duty) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{duties: duties, logger: logger}
}

// Names lists the registered duties.
func (d *Dispatcher) Names() []string {
	out := make([]string, len(d.duties))
	for i, duty := range d.duties {
		out[i] = duty.Name
	}
	return out
}

// Run starts all duties and blocks until the context finishes and every
// duty has returned. A duty that panics is logged and does not take the
// others down.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, duty := range d.duties {
		wg.Add(1)
		go func(duty Duty) {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					d.logger.Error("duty panicked", zap.String("duty", duty.Name), zap.String("panic", fmt.Sprint(rec)))
				}
			}()
			d.logger.Info("duty started", zap.String("duty", duty.Name))
			duty.Runner.Run(ctx)
			d.logger.Info("duty stopped", zap.String("duty", duty.Name))
		}(duty)
	}
	<-ctx.Done()
	wg.Wait()
}
