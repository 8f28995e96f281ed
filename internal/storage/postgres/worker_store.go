package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/shard-coordinator/internal/jobs"
)

const insertWorkerSQL = `INSERT INTO workers (token, display_name, class, nickname, progress, first_seen, last_seen)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

// CreateWorker inserts a new worker row.
func (s *Store) CreateWorker(ctx context.Context, w jobs.Worker) error {
	_, err := s.pool.Exec(ctx, insertWorkerSQL,
		w.Token,
		w.DisplayName,
		string(w.Class),
		w.Nickname,
		w.Progress,
		w.FirstSeen,
		w.LastSeen,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return jobs.ErrDuplicateWorker
		}
		return fmt.Errorf("insert worker: %w", err)
	}
	return nil
}

// GetWorker fetches a worker by token.
func (s *Store) GetWorker(ctx context.Context, token string) (jobs.Worker, error) {
	return s.getWorker(ctx, `SELECT `+workerColumns+` FROM workers WHERE token = $1`, token)
}

// GetWorkerByName fetches a worker by display name.
func (s *Store) GetWorkerByName(ctx context.Context, displayName string) (jobs.Worker, error) {
	return s.getWorker(ctx, `SELECT `+workerColumns+` FROM workers WHERE display_name = $1`, displayName)
}

func (s *Store) getWorker(ctx context.Context, query, key string) (jobs.Worker, error) {
	w, err := scanWorker(s.pool.QueryRow(ctx, query, key))
	if err != nil {
		if isNoRows(err) {
			return jobs.Worker{}, jobs.ErrWorkerNotFound
		}
		return jobs.Worker{}, fmt.Errorf("get worker: %w", err)
	}
	return w, nil
}

const (
	touchSQL         = `UPDATE workers SET last_seen = $2 WHERE token = $1`
	touchProgressSQL = `UPDATE workers SET last_seen = $2, progress = $3 WHERE token = $1`
)

// TouchWorker refreshes last-seen and optionally the progress text.
func (s *Store) TouchWorker(ctx context.Context, token string, at time.Time, progress *string) error {
	query, args := touchSQL, []any{token, at}
	if progress != nil {
		query, args = touchProgressSQL, append(args, *progress)
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("touch worker: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return jobs.ErrWorkerNotFound
	}
	return nil
}

const (
	deleteWorkerSQL = `DELETE FROM workers WHERE token = $1 RETURNING COALESCE(job_number, 0)`

	releaseForWorkerSQL = `UPDATE jobs SET pending = FALSE, claimant = NULL, updated_at = NOW()
WHERE number = $1 AND claimant = $2 AND pending AND NOT closed`

	lockStaleWorkerSQL = `SELECT COALESCE(job_number, 0) FROM workers
WHERE token = $1 AND last_seen < $2 FOR UPDATE`

	reapWorkerSQL = `DELETE FROM workers WHERE token = $1`
)

// DeleteWorker removes the worker and releases its job in one transaction.
func (s *Store) DeleteWorker(ctx context.Context, token string) (int64, error) {
	var held int64
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, deleteWorkerSQL, token).Scan(&held); err != nil {
			if isNoRows(err) {
				return jobs.ErrWorkerNotFound
			}
			return fmt.Errorf("delete worker: %w", err)
		}
		return releaseFor(ctx, tx, held, token)
	})
	if err != nil {
		return 0, err
	}
	return held, nil
}

func releaseFor(ctx context.Context, tx pgx.Tx, number int64, token string) error {
	if number == 0 {
		return nil
	}
	if _, err := tx.Exec(ctx, releaseForWorkerSQL, number, token); err != nil {
		return fmt.Errorf("release job %d: %w", number, err)
	}
	return nil
}

// StaleWorkers lists workers last seen before cutoff, oldest first.
func (s *Store) StaleWorkers(ctx context.Context, cutoff time.Time) ([]jobs.Worker, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+workerColumns+` FROM workers WHERE last_seen < $1 ORDER BY last_seen`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stale workers: %w", err)
	}
	return collectWorkers(rows)
}

// ReapWorker locks the worker row, re-checks staleness, releases its job and
// deletes it. A worker that became active since the listing is left alone.
func (s *Store) ReapWorker(ctx context.Context, token string, cutoff time.Time) (bool, int64, error) {
	var (
		held   int64
		reaped bool
	)
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, lockStaleWorkerSQL, token, cutoff).Scan(&held); err != nil {
			if isNoRows(err) {
				return nil
			}
			return fmt.Errorf("lock stale worker: %w", err)
		}
		if err := releaseFor(ctx, tx, held, token); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, reapWorkerSQL, token); err != nil {
			return fmt.Errorf("reap worker: %w", err)
		}
		reaped = true
		return nil
	})
	if err != nil {
		return false, 0, err
	}
	if !reaped {
		return false, 0, nil
	}
	return true, held, nil
}

// ListWorkers returns every worker ordered by registration time.
func (s *Store) ListWorkers(ctx context.Context) ([]jobs.Worker, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+workerColumns+` FROM workers ORDER BY first_seen`)
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	return collectWorkers(rows)
}

func collectWorkers(rows pgx.Rows) ([]jobs.Worker, error) {
	defer rows.Close()
	var out []jobs.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workers: %w", err)
	}
	return out, nil
}

// CountWorkers tallies connected workers per class.
func (s *Store) CountWorkers(ctx context.Context) (map[jobs.WorkerClass]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT class, COUNT(*) FROM workers GROUP BY class`)
	if err != nil {
		return nil, fmt.Errorf("count workers: %w", err)
	}
	defer rows.Close()
	out := map[jobs.WorkerClass]int64{}
	for rows.Next() {
		var (
			class string
			n     int64
		)
		if err := rows.Scan(&class, &n); err != nil {
			return nil, fmt.Errorf("scan worker count: %w", err)
		}
		out[jobs.WorkerClass(class)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate worker counts: %w", err)
	}
	return out, nil
}
