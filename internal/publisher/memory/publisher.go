// Package memory records published events in process for tests and
// single-node development.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/shard-coordinator/internal/jobs"
)

// Publisher stores published payloads for inspection.
type Publisher struct {
	mu       sync.RWMutex
	messages []PublishedMessage
}

var _ jobs.Publisher = (*Publisher)(nil)

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	Topic   string
	Payload any
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the message and returns a pseudo ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, PublishedMessage{Topic: topic, Payload: payload})
	return fmt.Sprintf("memory-%d", len(p.messages)), nil
}

// Messages returns the recorded publishes.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}

// Events returns the recorded payloads that are lifecycle events, in order.
func (p *Publisher) Events() []jobs.Event {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []jobs.Event
	for _, m := range p.messages {
		if ev, ok := m.Payload.(jobs.Event); ok {
			out = append(out, ev)
		}
	}
	return out
}
