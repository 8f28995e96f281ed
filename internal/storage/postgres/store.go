// Package postgres provides the Postgres-backed coordinator store. The claim
// protocol relies on FOR UPDATE SKIP LOCKED so concurrent claimants never
// block on one another and never receive the same row.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/shard-coordinator/internal/jobs"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pgxIface is the subset of *pgxpool.Pool the store uses. pgxmock satisfies
// it in tests.
type pgxIface interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Store implements jobs.Store on Postgres.
type Store struct {
	pool pgxIface
}

var _ jobs.Store = (*Store)(nil)

// New connects a pool using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool pgxIface) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// withTx runs fn inside a transaction. fn's error aborts the transaction and
// is returned as-is so callers can match sentinels.
func (s *Store) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return errors.Join(err, fmt.Errorf("rollback tx: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

const jobColumns = `number, url, start_id, end_id, shard, priority, gpu, COALESCE(gpu_url, ''),
	pending, closed, COALESCE(claimant, ''), COALESCE(cpu_completor, ''), updated_at`

func scanJob(row pgx.Row) (jobs.Job, error) {
	var j jobs.Job
	err := row.Scan(
		&j.Number,
		&j.URL,
		&j.StartID,
		&j.EndID,
		&j.Shard,
		&j.Priority,
		&j.GPU,
		&j.GPUURL,
		&j.Pending,
		&j.Closed,
		&j.Claimant,
		&j.CPUCompletor,
		&j.UpdatedAt,
	)
	if err != nil {
		return jobs.Job{}, fmt.Errorf("scan job: %w", err)
	}
	return j, nil
}

func collectJobs(rows pgx.Rows) ([]jobs.Job, error) {
	defer rows.Close()
	var out []jobs.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return out, nil
}

const workerColumns = `token, display_name, class, nickname, COALESCE(job_number, 0), progress,
	jobs_completed, first_seen, last_seen`

func scanWorker(row pgx.Row) (jobs.Worker, error) {
	var (
		w     jobs.Worker
		class string
	)
	err := row.Scan(
		&w.Token,
		&w.DisplayName,
		&class,
		&w.Nickname,
		&w.JobNumber,
		&w.Progress,
		&w.JobsCompleted,
		&w.FirstSeen,
		&w.LastSeen,
	)
	if err != nil {
		return jobs.Worker{}, fmt.Errorf("scan worker: %w", err)
	}
	w.Class = jobs.WorkerClass(class)
	return w, nil
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
