package jobs

import "errors"

var (
	// ErrWorkerNotFound means the token is unknown; the worker must re-register.
	ErrWorkerNotFound = errors.New("jobs: worker not found")
	// ErrJobNotFound means no job carries the requested number.
	ErrJobNotFound = errors.New("jobs: job not found")
	// ErrNoJobAvailable is transient; callers retry with backoff.
	ErrNoJobAvailable = errors.New("jobs: no job available")
	// ErrAlreadyCompleted rejects a duplicate or late completion report.
	ErrAlreadyCompleted = errors.New("jobs: job already completed")
	// ErrInvalidState rejects a transition that is illegal for the job's stage.
	ErrInvalidState = errors.New("jobs: invalid state transition")
	// ErrBadInput means a completion is missing fields required by the worker class.
	ErrBadInput = errors.New("jobs: bad input")
	// ErrInvalidClass rejects an unknown worker class.
	ErrInvalidClass = errors.New("jobs: invalid worker class")
	// ErrDuplicateWorker means the token or display name is already taken.
	ErrDuplicateWorker = errors.New("jobs: duplicate worker")
	// ErrUserNotFound means the nickname has no leaderboard credit yet.
	ErrUserNotFound = errors.New("jobs: user not found")
	// ErrRateLimited rejects a claim from a worker polling faster than allowed.
	ErrRateLimited = errors.New("jobs: rate limited")
	// ErrUnavailable means an optional capability is not configured.
	ErrUnavailable = errors.New("jobs: unavailable")
)

// IsNotFound reports whether err names an unknown worker, job or user.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrWorkerNotFound) ||
		errors.Is(err, ErrJobNotFound) ||
		errors.Is(err, ErrUserNotFound)
}
