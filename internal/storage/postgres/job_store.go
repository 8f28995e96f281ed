package postgres

import (
	"context"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/shard-coordinator/internal/jobs"
)

const (
	lockWorkerSQL = `SELECT COALESCE(job_number, 0) FROM workers WHERE token = $1 FOR UPDATE`

	releaseHeldSQL = `UPDATE jobs SET pending = FALSE, claimant = NULL, updated_at = $3
WHERE number = $1 AND claimant = $2 AND pending AND NOT closed`

	claimSQLTemplate = `UPDATE jobs SET pending = TRUE, claimant = $2, updated_at = $3
WHERE number = (
	SELECT number FROM jobs
	WHERE pending = FALSE AND closed = FALSE AND gpu = $1
	ORDER BY %s
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
RETURNING ` + jobColumns

	assignWorkerSQL = `UPDATE workers SET job_number = $1, progress = 'Received new job', last_seen = $3
WHERE token = $2`
)

var claimSQL = map[jobs.ClaimOrder]string{
	jobs.OrderPriority: fmt.Sprintf(claimSQLTemplate, "priority DESC, number"),
	jobs.OrderRandom:   fmt.Sprintf(claimSQLTemplate, "priority DESC, random()"),
}

// Claim selects and assigns one eligible job in a single transaction. The
// inner SELECT skips rows locked by concurrent claimants, so two callers can
// never both lock-then-update the same job.
func (s *Store) Claim(ctx context.Context, req jobs.ClaimRequest) (jobs.Job, error) {
	query, ok := claimSQL[req.Order]
	if !ok {
		query = claimSQL[jobs.OrderPriority]
	}
	var claimed jobs.Job
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var held int64
		if err := tx.QueryRow(ctx, lockWorkerSQL, req.Token).Scan(&held); err != nil {
			if isNoRows(err) {
				return jobs.ErrWorkerNotFound
			}
			return fmt.Errorf("lock worker: %w", err)
		}
		if held != 0 {
			if _, err := tx.Exec(ctx, releaseHeldSQL, held, req.Token, req.At); err != nil {
				return fmt.Errorf("release held job: %w", err)
			}
		}
		job, err := scanJob(tx.QueryRow(ctx, query, req.Class.GPUTrack(), req.Token, req.At))
		if err != nil {
			if isNoRows(err) {
				return jobs.ErrNoJobAvailable
			}
			return fmt.Errorf("claim job: %w", err)
		}
		if _, err := tx.Exec(ctx, assignWorkerSQL, job.Number, req.Token, req.At); err != nil {
			return fmt.Errorf("assign job: %w", err)
		}
		claimed = job
		return nil
	})
	if err != nil {
		return jobs.Job{}, err
	}
	return claimed, nil
}

const (
	releaseSQL = `UPDATE jobs SET pending = FALSE, claimant = NULL, updated_at = NOW()
WHERE number = $1 AND pending AND NOT closed`

	unassignSQL  = `UPDATE workers SET job_number = NULL WHERE job_number = $1`
	jobExistsSQL = `SELECT EXISTS(SELECT 1 FROM jobs WHERE number = $1)`
)

// Release returns a pending job to the unclaimed state of its track and
// detaches it from whichever worker held it.
func (s *Store) Release(ctx context.Context, number int64, _ jobs.ReleaseReason) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, releaseSQL, number)
		if err != nil {
			return fmt.Errorf("release job: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return s.missingOrInvalid(ctx, tx, number)
		}
		if _, err := tx.Exec(ctx, unassignSQL, number); err != nil {
			return fmt.Errorf("unassign job: %w", err)
		}
		return nil
	})
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *Store) missingOrInvalid(ctx context.Context, q querier, number int64) error {
	var exists bool
	if err := q.QueryRow(ctx, jobExistsSQL, number).Scan(&exists); err != nil {
		return fmt.Errorf("check job: %w", err)
	}
	if !exists {
		return jobs.ErrJobNotFound
	}
	return fmt.Errorf("job %d: %w", number, jobs.ErrInvalidState)
}

const (
	lockJobSQL = `SELECT ` + jobColumns + ` FROM jobs WHERE number = $1 FOR UPDATE`

	handoffSQL = `UPDATE jobs SET pending = FALSE, claimant = NULL, gpu = TRUE, gpu_url = $2,
	cpu_completor = $3, updated_at = $4
WHERE number = $1`

	closeSQL = `UPDATE jobs SET pending = FALSE, closed = TRUE, claimant = $2, updated_at = $3
WHERE number = $1`

	finishWorkerSQL = `UPDATE workers SET job_number = NULL, jobs_completed = jobs_completed + 1,
	progress = 'Completed job', last_seen = $2
WHERE token = $1`

	creditSQL = `INSERT INTO leaderboard (nickname, jobs_completed, pairs_scraped, cpu_jobs, gpu_jobs)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (nickname) DO UPDATE SET
	jobs_completed = leaderboard.jobs_completed + EXCLUDED.jobs_completed,
	pairs_scraped = leaderboard.pairs_scraped + EXCLUDED.pairs_scraped,
	cpu_jobs = leaderboard.cpu_jobs + EXCLUDED.cpu_jobs,
	gpu_jobs = leaderboard.gpu_jobs + EXCLUDED.gpu_jobs`
)

type credit struct {
	nickname string
	jobs     int64
	pairs    int64
	cpu      int64
	gpu      int64
}

func applyCredit(ctx context.Context, tx pgx.Tx, c credit) error {
	if _, err := tx.Exec(ctx, creditSQL, c.nickname, c.jobs, c.pairs, c.cpu, c.gpu); err != nil {
		return fmt.Errorf("credit leaderboard: %w", err)
	}
	return nil
}

// Complete applies a completion report under row locks on the worker and
// then the job, the same order Claim, DeleteWorker and ReapWorker use. Closed
// jobs, and CPU reports for jobs already handed off, are rejected with
// ErrAlreadyCompleted so retries never double-credit the leaderboard.
func (s *Store) Complete(ctx context.Context, c jobs.Completion) (jobs.Job, error) {
	var done jobs.Job
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var held int64
		if err := tx.QueryRow(ctx, lockWorkerSQL, c.Token).Scan(&held); err != nil {
			if isNoRows(err) {
				return jobs.ErrWorkerNotFound
			}
			return fmt.Errorf("lock worker: %w", err)
		}
		job, err := scanJob(tx.QueryRow(ctx, lockJobSQL, c.Number))
		if err != nil {
			if isNoRows(err) {
				return jobs.ErrJobNotFound
			}
			return fmt.Errorf("lock job: %w", err)
		}
		if job.Closed || (c.Class == jobs.ClassCPU && job.GPU) {
			return jobs.ErrAlreadyCompleted
		}
		if !job.Pending || job.Claimant != c.Token || job.GPU != c.Class.GPUTrack() {
			return fmt.Errorf("complete job %d: %w", c.Number, jobs.ErrInvalidState)
		}

		job.Pending = false
		job.UpdatedAt = c.At
		var credits []credit
		switch c.Class {
		case jobs.ClassCPU:
			if _, err := tx.Exec(ctx, handoffSQL, c.Number, c.GPUURL, c.Nickname, c.At); err != nil {
				return fmt.Errorf("hand off job: %w", err)
			}
			job.GPU = true
			job.GPUURL = c.GPUURL
			job.Claimant = ""
			job.CPUCompletor = c.Nickname
			credits = append(credits, credit{nickname: c.Nickname, cpu: 1})
		default:
			scraper := c.Nickname
			if c.Class == jobs.ClassGPU && job.CPUCompletor != "" {
				scraper = job.CPUCompletor
			}
			if _, err := tx.Exec(ctx, closeSQL, c.Number, scraper, c.At); err != nil {
				return fmt.Errorf("close job: %w", err)
			}
			job.Closed = true
			job.Claimant = scraper
			credits = append(credits, credit{nickname: scraper, jobs: 1, pairs: c.Pairs})
			if c.Class == jobs.ClassGPU {
				credits = append(credits, credit{nickname: c.Nickname, gpu: 1})
			}
		}

		tag, err := tx.Exec(ctx, finishWorkerSQL, c.Token, c.At)
		if err != nil {
			return fmt.Errorf("finish worker: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return jobs.ErrWorkerNotFound
		}
		for _, cr := range credits {
			if err := applyCredit(ctx, tx, cr); err != nil {
				return err
			}
		}
		done = job
		return nil
	})
	if err != nil {
		return jobs.Job{}, err
	}
	return done, nil
}

const reopenSQL = `UPDATE jobs SET closed = FALSE, pending = FALSE, gpu = FALSE, gpu_url = NULL,
	claimant = NULL, cpu_completor = NULL, updated_at = NOW()
WHERE number = $1 AND closed`

// Reopen rolls a closed job back to Open on the first-stage track.
func (s *Store) Reopen(ctx context.Context, number int64) error {
	tag, err := s.pool.Exec(ctx, reopenSQL, number)
	if err != nil {
		return fmt.Errorf("reopen job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.missingOrInvalid(ctx, s.pool, number)
	}
	return nil
}

const markDoneSQL = `UPDATE jobs SET closed = TRUE, claimant = $2, updated_at = NOW()
WHERE number = ANY($1) AND NOT closed AND NOT pending
RETURNING number`

// MarkDone closes every listed job that is neither closed nor claimed,
// credits nickname with the number actually closed and returns those job
// numbers in ascending order.
func (s *Store) MarkDone(ctx context.Context, numbers []int64, nickname string, pairs int64) ([]int64, error) {
	var closed []int64
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, markDoneSQL, numbers, nickname)
		if err != nil {
			return fmt.Errorf("mark jobs done: %w", err)
		}
		closed, err = pgx.CollectRows(rows, pgx.RowTo[int64])
		if err != nil {
			return fmt.Errorf("collect closed jobs: %w", err)
		}
		if len(closed) == 0 {
			return nil
		}
		slices.Sort(closed)
		return applyCredit(ctx, tx, credit{nickname: nickname, jobs: int64(len(closed)), pairs: pairs})
	})
	if err != nil {
		return nil, err
	}
	return closed, nil
}

// GetJob fetches a job by number.
func (s *Store) GetJob(ctx context.Context, number int64) (jobs.Job, error) {
	job, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE number = $1`, number))
	if err != nil {
		if isNoRows(err) {
			return jobs.Job{}, jobs.ErrJobNotFound
		}
		return jobs.Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// FindOpenByURL lists unclosed jobs whose source URL matches.
func (s *Store) FindOpenByURL(ctx context.Context, url string) ([]jobs.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE url = $1 AND NOT closed ORDER BY number`, url)
	if err != nil {
		return nil, fmt.Errorf("find jobs by url: %w", err)
	}
	return collectJobs(rows)
}

const countEligibleSQL = `SELECT COUNT(*) FROM jobs WHERE NOT pending AND NOT closed AND gpu = $1`

// CountEligible counts unclaimed jobs on the class's track.
func (s *Store) CountEligible(ctx context.Context, class jobs.WorkerClass) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, countEligibleSQL, class.GPUTrack()).Scan(&n); err != nil {
		return 0, fmt.Errorf("count eligible jobs: %w", err)
	}
	return n, nil
}

const countsSQL = `SELECT
	COUNT(*) FILTER (WHERE NOT closed AND NOT pending AND NOT gpu),
	COUNT(*) FILTER (WHERE NOT closed AND pending AND NOT gpu),
	COUNT(*) FILTER (WHERE NOT closed AND NOT pending AND gpu),
	COUNT(*) FILTER (WHERE NOT closed AND pending AND gpu),
	COUNT(*) FILTER (WHERE closed)
FROM jobs`

// Counts tallies jobs per stage in one scan.
func (s *Store) Counts(ctx context.Context) (jobs.JobCounts, error) {
	var c jobs.JobCounts
	err := s.pool.QueryRow(ctx, countsSQL).Scan(&c.Open, &c.Pending, &c.GPUOpen, &c.GPUPending, &c.Closed)
	if err != nil {
		return jobs.JobCounts{}, fmt.Errorf("count jobs: %w", err)
	}
	return c, nil
}
