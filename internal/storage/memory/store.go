// Package memory provides an in-process Store for development and tests.
package memory

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/shard-coordinator/internal/jobs"
)

// Store keeps jobs, workers and leaderboard rows in maps guarded by one
// mutex. Every method is a single critical section, which gives it the same
// atomicity the postgres store gets from row locks.
type Store struct {
	mu          sync.RWMutex
	jobs        map[int64]*jobs.Job
	workers     map[string]*jobs.Worker
	names       map[string]string
	leaderboard map[string]*jobs.LeaderboardEntry
}

var _ jobs.Store = (*Store)(nil)

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		jobs:        make(map[int64]*jobs.Job),
		workers:     make(map[string]*jobs.Worker),
		names:       make(map[string]string),
		leaderboard: make(map[string]*jobs.LeaderboardEntry),
	}
}

// Seed inserts or replaces job rows. It stands in for the offline shard
// import in development deployments.
func (s *Store) Seed(rows ...jobs.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range rows {
		cp := j
		s.jobs[j.Number] = &cp
	}
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() {}

// Claim assigns one eligible job to the worker. A job the worker already
// holds is released in the same critical section and may be handed back.
func (s *Store) Claim(_ context.Context, req jobs.ClaimRequest) (jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.workers[req.Token]
	if !ok {
		return jobs.Job{}, jobs.ErrWorkerNotFound
	}
	held := w.JobNumber
	track := req.Class.GPUTrack()

	var candidates []*jobs.Job
	for _, j := range s.jobs {
		if j.Closed || j.GPU != track {
			continue
		}
		if j.Pending && (j.Number != held || j.Claimant != req.Token) {
			continue
		}
		candidates = append(candidates, j)
	}
	if len(candidates) == 0 {
		return jobs.Job{}, jobs.ErrNoJobAvailable
	}
	picked := pick(candidates, req.Order)

	if held != 0 && held != picked.Number {
		s.releaseLocked(held, req.Token, req.At)
	}
	picked.Pending = true
	picked.Claimant = req.Token
	picked.UpdatedAt = req.At
	w.JobNumber = picked.Number
	w.Progress = "Received new job"
	w.LastSeen = req.At
	return *picked, nil
}

func pick(candidates []*jobs.Job, order jobs.ClaimOrder) *jobs.Job {
	sort.Slice(candidates, func(i, k int) bool {
		if candidates[i].Priority != candidates[k].Priority {
			return candidates[i].Priority
		}
		return candidates[i].Number < candidates[k].Number
	})
	if order != jobs.OrderRandom {
		return candidates[0]
	}
	n := 0
	for n < len(candidates) && candidates[n].Priority == candidates[0].Priority {
		n++
	}
	return candidates[rand.IntN(n)]
}

// Release returns a pending job to the unclaimed state of its track.
func (s *Store) Release(_ context.Context, number int64, _ jobs.ReleaseReason) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[number]
	if !ok {
		return jobs.ErrJobNotFound
	}
	if !j.Pending || j.Closed {
		return fmt.Errorf("release job %d: %w", number, jobs.ErrInvalidState)
	}
	s.releaseLocked(number, j.Claimant, time.Now().UTC())
	return nil
}

func (s *Store) releaseLocked(number int64, token string, at time.Time) {
	if j, ok := s.jobs[number]; ok && j.Pending && !j.Closed && j.Claimant == token {
		j.Pending = false
		j.Claimant = ""
		j.UpdatedAt = at
	}
	if w, ok := s.workers[token]; ok && w.JobNumber == number {
		w.JobNumber = 0
	}
}

// Complete applies a completion report and credits the leaderboard.
func (s *Store) Complete(_ context.Context, c jobs.Completion) (jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.workers[c.Token]
	if !ok {
		return jobs.Job{}, jobs.ErrWorkerNotFound
	}
	j, ok := s.jobs[c.Number]
	if !ok {
		return jobs.Job{}, jobs.ErrJobNotFound
	}
	if j.Closed || (c.Class == jobs.ClassCPU && j.GPU) {
		return jobs.Job{}, jobs.ErrAlreadyCompleted
	}
	if !j.Pending || j.Claimant != c.Token || j.GPU != c.Class.GPUTrack() {
		return jobs.Job{}, fmt.Errorf("complete job %d: %w", c.Number, jobs.ErrInvalidState)
	}

	j.Pending = false
	j.UpdatedAt = c.At
	switch c.Class {
	case jobs.ClassCPU:
		j.GPU = true
		j.GPUURL = c.GPUURL
		j.Claimant = ""
		j.CPUCompletor = c.Nickname
		s.entry(c.Nickname).CPUJobs++
	case jobs.ClassGPU:
		scraper := j.CPUCompletor
		if scraper == "" {
			scraper = c.Nickname
		}
		j.Closed = true
		j.Claimant = scraper
		e := s.entry(scraper)
		e.JobsCompleted++
		e.PairsScraped += c.Pairs
		s.entry(c.Nickname).GPUJobs++
	default:
		j.Closed = true
		j.Claimant = c.Nickname
		e := s.entry(c.Nickname)
		e.JobsCompleted++
		e.PairsScraped += c.Pairs
	}

	w.JobNumber = 0
	w.JobsCompleted++
	w.Progress = "Completed job"
	w.LastSeen = c.At
	return *j, nil
}

func (s *Store) entry(nickname string) *jobs.LeaderboardEntry {
	e, ok := s.leaderboard[nickname]
	if !ok {
		e = &jobs.LeaderboardEntry{Nickname: nickname}
		s.leaderboard[nickname] = e
	}
	return e
}

// Reopen rolls a closed job back to Open on the first-stage track.
func (s *Store) Reopen(_ context.Context, number int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[number]
	if !ok {
		return jobs.ErrJobNotFound
	}
	if !j.Closed {
		return fmt.Errorf("reopen job %d: %w", number, jobs.ErrInvalidState)
	}
	j.Closed = false
	j.Pending = false
	j.GPU = false
	j.GPUURL = ""
	j.Claimant = ""
	j.CPUCompletor = ""
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkDone closes every listed job that is neither closed nor claimed and
// credits nickname with the number actually closed.
func (s *Store) MarkDone(_ context.Context, numbers []int64, nickname string, pairs int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var closed []int64
	now := time.Now().UTC()
	for _, n := range numbers {
		j, ok := s.jobs[n]
		if !ok || j.Closed || j.Pending {
			continue
		}
		j.Closed = true
		j.Claimant = nickname
		j.UpdatedAt = now
		closed = append(closed, n)
	}
	if len(closed) > 0 {
		sort.Slice(closed, func(a, b int) bool { return closed[a] < closed[b] })
		e := s.entry(nickname)
		e.JobsCompleted += int64(len(closed))
		e.PairsScraped += pairs
	}
	return closed, nil
}

// GetJob fetches a job by number.
func (s *Store) GetJob(_ context.Context, number int64) (jobs.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[number]
	if !ok {
		return jobs.Job{}, jobs.ErrJobNotFound
	}
	return *j, nil
}

// FindOpenByURL lists unclosed jobs whose source URL matches.
func (s *Store) FindOpenByURL(_ context.Context, url string) ([]jobs.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []jobs.Job
	for _, j := range s.jobs {
		if !j.Closed && j.URL == url {
			out = append(out, *j)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Number < out[k].Number })
	return out, nil
}

// CountEligible counts unclaimed jobs on the class's track.
func (s *Store) CountEligible(_ context.Context, class jobs.WorkerClass) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, j := range s.jobs {
		if !j.Closed && !j.Pending && j.GPU == class.GPUTrack() {
			n++
		}
	}
	return n, nil
}

// Counts tallies jobs per stage.
func (s *Store) Counts(context.Context) (jobs.JobCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var c jobs.JobCounts
	for _, j := range s.jobs {
		switch j.Stage() {
		case jobs.StageOpen:
			c.Open++
		case jobs.StagePending:
			c.Pending++
		case jobs.StageGPUPending:
			c.GPUOpen++
		case jobs.StageGPUClaimed:
			c.GPUPending++
		case jobs.StageClosed:
			c.Closed++
		}
	}
	return c, nil
}
