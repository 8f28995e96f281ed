// Package system provides the wall clock used outside tests.
package system

import (
	"time"

	"github.com/JakeFAU/shard-coordinator/internal/jobs"
)

// Clock implements jobs.Clock using time.Now.
type Clock struct{}

var _ jobs.Clock = Clock{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC, truncated to microseconds so values
// survive a round trip through a TIMESTAMPTZ column unchanged.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
