// Package uuid generates worker tokens and node identifiers.
package uuid

import (
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/JakeFAU/shard-coordinator/internal/jobs"
)

// Generator creates random UUID tokens. Worker tokens are bearer secrets,
// so they use v4 rather than the time-ordered v7.
type Generator struct{}

var _ jobs.IDGenerator = Generator{}

// NewUUIDGenerator creates a new Generator.
func NewUUIDGenerator() *Generator {
	return &Generator{}
}

// NewID returns a UUIDv4 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate uuid4: %w", err)
	}
	return id.String(), nil
}

// NewRequestID returns a time-ordered UUIDv7 string for request correlation.
func (Generator) NewRequestID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// NodeID names this process for leader election: hostname plus a random
// suffix so two processes on one host never collide.
func NodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "node"
	}
	return host + "-" + uuid.NewString()[:8]
}
