package memory

import (
	"context"
	"sort"
	"time"

	"github.com/JakeFAU/shard-coordinator/internal/jobs"
)

// CreateWorker inserts a new worker row.
func (s *Store) CreateWorker(_ context.Context, w jobs.Worker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.workers[w.Token]; exists {
		return jobs.ErrDuplicateWorker
	}
	if _, exists := s.names[w.DisplayName]; exists {
		return jobs.ErrDuplicateWorker
	}
	cp := w
	s.workers[w.Token] = &cp
	s.names[w.DisplayName] = w.Token
	return nil
}

// GetWorker fetches a worker by token.
func (s *Store) GetWorker(_ context.Context, token string) (jobs.Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workers[token]
	if !ok {
		return jobs.Worker{}, jobs.ErrWorkerNotFound
	}
	return *w, nil
}

// GetWorkerByName fetches a worker by display name.
func (s *Store) GetWorkerByName(_ context.Context, displayName string) (jobs.Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	token, ok := s.names[displayName]
	if !ok {
		return jobs.Worker{}, jobs.ErrWorkerNotFound
	}
	return *s.workers[token], nil
}

// TouchWorker refreshes last-seen and optionally the progress text.
func (s *Store) TouchWorker(_ context.Context, token string, at time.Time, progress *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workers[token]
	if !ok {
		return jobs.ErrWorkerNotFound
	}
	w.LastSeen = at
	if progress != nil {
		w.Progress = *progress
	}
	return nil
}

// DeleteWorker releases the worker's job and removes it.
func (s *Store) DeleteWorker(_ context.Context, token string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workers[token]
	if !ok {
		return 0, jobs.ErrWorkerNotFound
	}
	return s.deleteLocked(w), nil
}

func (s *Store) deleteLocked(w *jobs.Worker) int64 {
	released := w.JobNumber
	if released != 0 {
		s.releaseLocked(released, w.Token, time.Now().UTC())
	}
	delete(s.workers, w.Token)
	delete(s.names, w.DisplayName)
	return released
}

// StaleWorkers lists workers last seen before cutoff, oldest first.
func (s *Store) StaleWorkers(_ context.Context, cutoff time.Time) ([]jobs.Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []jobs.Worker
	for _, w := range s.workers {
		if w.LastSeen.Before(cutoff) {
			out = append(out, *w)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].LastSeen.Before(out[k].LastSeen) })
	return out, nil
}

// ReapWorker deletes the worker if it is still stale at cutoff.
func (s *Store) ReapWorker(_ context.Context, token string, cutoff time.Time) (bool, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workers[token]
	if !ok || !w.LastSeen.Before(cutoff) {
		return false, 0, nil
	}
	return true, s.deleteLocked(w), nil
}

// ListWorkers returns every worker ordered by registration time.
func (s *Store) ListWorkers(context.Context) ([]jobs.Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]jobs.Worker, 0, len(s.workers))
	for _, w := range s.workers {
		out = append(out, *w)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].FirstSeen.Before(out[k].FirstSeen) })
	return out, nil
}

// CountWorkers tallies connected workers per class.
func (s *Store) CountWorkers(context.Context) (map[jobs.WorkerClass]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := map[jobs.WorkerClass]int64{}
	for _, w := range s.workers {
		out[w.Class]++
	}
	return out, nil
}

// Leaderboard returns the top entries by jobs completed, then pairs.
func (s *Store) Leaderboard(_ context.Context, limit int) ([]jobs.LeaderboardEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]jobs.LeaderboardEntry, 0, len(s.leaderboard))
	for _, e := range s.leaderboard {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].JobsCompleted != out[k].JobsCompleted {
			return out[i].JobsCompleted > out[k].JobsCompleted
		}
		if out[i].PairsScraped != out[k].PairsScraped {
			return out[i].PairsScraped > out[k].PairsScraped
		}
		return out[i].Nickname < out[k].Nickname
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// LeaderboardEntry fetches one user's credit.
func (s *Store) LeaderboardEntry(_ context.Context, nickname string) (jobs.LeaderboardEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.leaderboard[nickname]
	if !ok {
		return jobs.LeaderboardEntry{}, jobs.ErrUserNotFound
	}
	return *e, nil
}

// TotalPairs sums scraped volume across users.
func (s *Store) TotalPairs(context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total int64
	for _, e := range s.leaderboard {
		total += e.PairsScraped
	}
	return total, nil
}
