package jobs

import (
	"fmt"
	"strings"
	"time"
)

// WorkerClass declares which stage track a worker may claim from.
type WorkerClass string

const (
	// ClassHybrid workers run the full pipeline and close jobs directly.
	ClassHybrid WorkerClass = "HYBRID"
	// ClassCPU workers crawl the first stage and hand jobs off to the GPU track.
	ClassCPU WorkerClass = "CPU"
	// ClassGPU workers only process jobs already handed off by a CPU worker.
	ClassGPU WorkerClass = "GPU"
)

// ParseWorkerClass normalizes a client-supplied class name.
func ParseWorkerClass(raw string) (WorkerClass, error) {
	switch WorkerClass(strings.ToUpper(strings.TrimSpace(raw))) {
	case ClassHybrid:
		return ClassHybrid, nil
	case ClassCPU:
		return ClassCPU, nil
	case ClassGPU:
		return ClassGPU, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidClass, raw)
	}
}

// GPUTrack reports whether the class claims second-stage jobs.
func (c WorkerClass) GPUTrack() bool {
	return c == ClassGPU
}

// Stage is the derived lifecycle state of a job.
type Stage string

const (
	StageOpen       Stage = "open"
	StagePending    Stage = "pending"
	StageGPUPending Stage = "gpu_pending"
	StageGPUClaimed Stage = "gpu_claimed"
	StageClosed     Stage = "closed"
)

// Job is one shard of crawl work. The boolean flags mirror the persisted
// columns; Stage derives the state machine position from them.
type Job struct {
	Number       int64     `json:"number"`
	URL          string    `json:"url"`
	StartID      string    `json:"start_id"`
	EndID        string    `json:"end_id"`
	Shard        int       `json:"shard"`
	Priority     bool      `json:"priority"`
	GPU          bool      `json:"gpu"`
	GPUURL       string    `json:"gpu_url,omitempty"`
	Pending      bool      `json:"pending"`
	Closed       bool      `json:"closed"`
	Claimant     string    `json:"claimant,omitempty"`
	CPUCompletor string    `json:"cpu_completor,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Stage derives the lifecycle position from the job flags.
func (j Job) Stage() Stage {
	switch {
	case j.Closed:
		return StageClosed
	case j.GPU && j.Pending:
		return StageGPUClaimed
	case j.GPU:
		return StageGPUPending
	case j.Pending:
		return StagePending
	default:
		return StageOpen
	}
}

// SourceURL is the location a worker should fetch for the job's current track.
func (j Job) SourceURL() string {
	if j.GPU && j.GPUURL != "" {
		return j.GPUURL
	}
	return j.URL
}

// Worker is a registered volunteer. JobNumber is zero when no job is held.
type Worker struct {
	Token         string      `json:"-"`
	DisplayName   string      `json:"display_name"`
	Class         WorkerClass `json:"type"`
	Nickname      string      `json:"user"`
	JobNumber     int64       `json:"job_number,omitempty"`
	Progress      string      `json:"progress"`
	JobsCompleted int64       `json:"jobs_completed"`
	FirstSeen     time.Time   `json:"first_seen"`
	LastSeen      time.Time   `json:"last_seen"`
}

// HasJob reports whether the worker currently holds a claim.
func (w Worker) HasJob() bool {
	return w.JobNumber != 0
}

// LeaderboardEntry aggregates credit for one user nickname.
type LeaderboardEntry struct {
	Nickname      string `json:"nickname"`
	JobsCompleted int64  `json:"jobs_completed"`
	PairsScraped  int64  `json:"pairs_scraped"`
	CPUJobs       int64  `json:"cpu_jobs"`
	GPUJobs       int64  `json:"gpu_jobs"`
}

// JobCounts is a per-stage snapshot of the job table.
type JobCounts struct {
	Open       int64 `json:"open"`
	Pending    int64 `json:"pending"`
	GPUOpen    int64 `json:"gpu_open"`
	GPUPending int64 `json:"gpu_pending"`
	Closed     int64 `json:"closed"`
}

// Total returns the number of jobs across every stage.
func (c JobCounts) Total() int64 {
	return c.Open + c.Pending + c.GPUOpen + c.GPUPending + c.Closed
}

// Remaining counts jobs that are neither claimed nor closed.
func (c JobCounts) Remaining() int64 {
	return c.Open + c.GPUOpen
}

// ClaimOrder selects how eligible rows are ranked during a claim.
type ClaimOrder string

const (
	// OrderPriority prefers priority (CSV-derived) jobs, then lowest number.
	OrderPriority ClaimOrder = "priority"
	// OrderRandom prefers priority jobs, then picks at random.
	OrderRandom ClaimOrder = "random"
)

// ClaimRequest asks the store to assign one eligible job to a worker.
type ClaimRequest struct {
	Token string
	Class WorkerClass
	Order ClaimOrder
	At    time.Time
}

// Completion is a worker's report that its job is done.
type Completion struct {
	Number   int64
	Token    string
	Class    WorkerClass
	Nickname string
	// Pairs is the scraped-volume figure reported by hybrid and GPU workers.
	Pairs int64
	// GPUURL is where a CPU worker left its first-stage output.
	GPUURL string
	At     time.Time
}

// ReleaseReason labels why a claim was returned to the pool.
type ReleaseReason string

const (
	ReleaseIdle       ReleaseReason = "idle_timeout"
	ReleaseDisconnect ReleaseReason = "disconnect"
	ReleaseInvalid    ReleaseReason = "invalid_result"
	ReleaseReclaim    ReleaseReason = "reclaim"
)

// Summary is the dashboard view served from the response cache.
type Summary struct {
	Counts          JobCounts             `json:"counts"`
	Completion      string                `json:"completion_str"`
	CompletionRatio float64               `json:"completion_float"`
	Workers         map[WorkerClass]int64 `json:"workers"`
	TotalWorkers    int64                 `json:"total_connected_workers"`
	PairsScraped    int64                 `json:"total_pairs_scraped"`
	ETA             string                `json:"eta"`
	Banner          string                `json:"banner"`
	GeneratedAt     time.Time             `json:"generated_at"`
}
