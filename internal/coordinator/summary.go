package coordinator

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/JakeFAU/shard-coordinator/internal/jobs"
	"github.com/JakeFAU/shard-coordinator/internal/throughput"
)

var printer = message.NewPrinter(language.English)

// Summary assembles the dashboard view straight from the stores.
func (s *Service) Summary(ctx context.Context) (jobs.Summary, error) {
	counts, err := s.store.Counts(ctx)
	if err != nil {
		return jobs.Summary{}, fmt.Errorf("summary counts: %w", err)
	}
	workers, err := s.store.CountWorkers(ctx)
	if err != nil {
		return jobs.Summary{}, fmt.Errorf("summary workers: %w", err)
	}
	pairs, err := s.store.TotalPairs(ctx)
	if err != nil {
		return jobs.Summary{}, fmt.Errorf("summary pairs: %w", err)
	}
	eta, err := throughput.Current(ctx, s.kv)
	if err != nil {
		return jobs.Summary{}, err
	}
	banner, err := s.Banner(ctx)
	if err != nil {
		return jobs.Summary{}, err
	}

	var totalWorkers int64
	for _, n := range workers {
		totalWorkers += n
	}
	total := counts.Total()
	ratio := 0.0
	if total > 0 {
		ratio = float64(counts.Closed) / float64(total) * 100
	}
	return jobs.Summary{
		Counts:          counts,
		Completion:      printer.Sprintf("%d / %d", counts.Closed, total),
		CompletionRatio: ratio,
		Workers:         workers,
		TotalWorkers:    totalWorkers,
		PairsScraped:    pairs,
		ETA:             eta.Text,
		Banner:          banner,
		GeneratedAt:     s.clock.Now(),
	}, nil
}

// SummaryJSON serves the encoded summary through the response cache.
func (s *Service) SummaryJSON(ctx context.Context) ([]byte, error) {
	return s.cache.GetOrCompute(ctx, summaryCacheKey, s.cfg.CacheTTL, func(ctx context.Context) ([]byte, error) {
		sum, err := s.Summary(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(sum)
	})
}

// LeaderboardJSON serves the encoded leaderboard through the response cache.
func (s *Service) LeaderboardJSON(ctx context.Context) ([]byte, error) {
	return s.cache.GetOrCompute(ctx, leaderboardCacheKey, s.cfg.CacheTTL, func(ctx context.Context) ([]byte, error) {
		entries, err := s.store.Leaderboard(ctx, 0)
		if err != nil {
			return nil, fmt.Errorf("leaderboard: %w", err)
		}
		if entries == nil {
			entries = []jobs.LeaderboardEntry{}
		}
		return json.Marshal(entries)
	})
}

// LeaderboardEntry returns one user's credit.
func (s *Service) LeaderboardEntry(ctx context.Context, nickname string) (jobs.LeaderboardEntry, error) {
	return s.store.LeaderboardEntry(ctx, nickname)
}

// WorkerData resolves a worker by display name or token.
func (s *Service) WorkerData(ctx context.Context, nameOrToken string) (jobs.Worker, error) {
	return s.registry.Lookup(ctx, nameOrToken)
}
