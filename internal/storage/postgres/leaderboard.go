package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/shard-coordinator/internal/jobs"
)

const leaderboardColumns = `nickname, jobs_completed, pairs_scraped, cpu_jobs, gpu_jobs`

func scanEntry(row pgx.Row) (jobs.LeaderboardEntry, error) {
	var e jobs.LeaderboardEntry
	if err := row.Scan(&e.Nickname, &e.JobsCompleted, &e.PairsScraped, &e.CPUJobs, &e.GPUJobs); err != nil {
		return jobs.LeaderboardEntry{}, fmt.Errorf("scan leaderboard entry: %w", err)
	}
	return e, nil
}

// Leaderboard returns the top entries by jobs completed, then pairs. A limit
// of zero returns every entry.
func (s *Store) Leaderboard(ctx context.Context, limit int) ([]jobs.LeaderboardEntry, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+leaderboardColumns+` FROM leaderboard
ORDER BY jobs_completed DESC, pairs_scraped DESC, nickname
LIMIT NULLIF($1::int, 0)`, limit)
	if err != nil {
		return nil, fmt.Errorf("query leaderboard: %w", err)
	}
	defer rows.Close()
	var out []jobs.LeaderboardEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate leaderboard: %w", err)
	}
	return out, nil
}

// LeaderboardEntry fetches one user's credit.
func (s *Store) LeaderboardEntry(ctx context.Context, nickname string) (jobs.LeaderboardEntry, error) {
	e, err := scanEntry(s.pool.QueryRow(ctx,
		`SELECT `+leaderboardColumns+` FROM leaderboard WHERE nickname = $1`, nickname))
	if err != nil {
		if isNoRows(err) {
			return jobs.LeaderboardEntry{}, jobs.ErrUserNotFound
		}
		return jobs.LeaderboardEntry{}, err
	}
	return e, nil
}

// TotalPairs sums scraped volume across users.
func (s *Store) TotalPairs(ctx context.Context) (int64, error) {
	var total int64
	if err := s.pool.QueryRow(ctx, `SELECT COALESCE(SUM(pairs_scraped), 0)::bigint FROM leaderboard`).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum pairs: %w", err)
	}
	return total, nil
}
