// Package publisher fans job lifecycle events out to the configured sink.
package publisher

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/shard-coordinator/internal/jobs"
)

// Emitter publishes events to one topic. Failures are logged and never
// surface to the caller: the transition they describe is already committed.
type Emitter struct {
	pub    jobs.Publisher
	topic  string
	logger *zap.Logger
}

// NewEmitter builds an Emitter. A nil publisher yields an Emitter that
// drops every event.
func NewEmitter(pub jobs.Publisher, topic string, logger *zap.Logger) *Emitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Emitter{pub: pub, topic: topic, logger: logger}
}

// Emit publishes ev.
func (e *Emitter) Emit(ctx context.Context, ev jobs.Event) {
	if e == nil || e.pub == nil {
		return
	}
	id, err := e.pub.Publish(ctx, e.topic, ev)
	if err != nil {
		e.logger.Warn("publish event failed",
			zap.String("type", string(ev.Type)),
			zap.Int64s("jobs", ev.JobNumbers),
			zap.Error(err),
		)
		return
	}
	e.logger.Debug("event published", zap.String("type", string(ev.Type)), zap.String("message_id", id))
}
