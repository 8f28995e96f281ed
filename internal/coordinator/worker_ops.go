package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/shard-coordinator/internal/jobs"
	"github.com/JakeFAU/shard-coordinator/internal/metrics"
)

// CompleteRequest is a worker's completion report. CPU workers send the
// location of their first-stage output; hybrid and GPU workers send the
// scraped-pair count.
type CompleteRequest struct {
	Token string
	// Number names the job being reported. Zero means the job the worker
	// currently holds. A retried report for a job that already closed is
	// rejected with ErrAlreadyCompleted.
	Number int64
	// Class, when set, must match the registered class.
	Class   jobs.WorkerClass
	Count   int64
	URL     string
	StartID string
	EndID   string
	Shard   *int
}

var tracer = otel.Tracer("github.com/JakeFAU/shard-coordinator/internal/coordinator")

func endSpan(span trace.Span, err error) {
	if err != nil && !errors.Is(err, jobs.ErrNoJobAvailable) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// worker resolves token and checks the declared class. A mismatched class
// is reported as an unknown worker, matching what a re-registering client
// expects.
func (s *Service) worker(ctx context.Context, token string, class jobs.WorkerClass) (jobs.Worker, error) {
	w, err := s.store.GetWorker(ctx, token)
	if err != nil {
		return jobs.Worker{}, err
	}
	if class != "" && w.Class != class {
		return jobs.Worker{}, fmt.Errorf("%w: registered as %s", jobs.ErrWorkerNotFound, w.Class)
	}
	return w, nil
}

// Claim assigns the next eligible job on the worker's track.
func (s *Service) Claim(ctx context.Context, token string, class jobs.WorkerClass) (job jobs.Job, err error) {
	ctx, span := tracer.Start(ctx, "coordinator.Claim")
	defer func() {
		if err == nil {
			span.SetAttributes(attribute.Int64("job.number", job.Number))
		}
		endSpan(span, err)
	}()
	w, err := s.worker(ctx, token, class)
	if err != nil {
		return jobs.Job{}, err
	}
	if !s.limiter.Allow(token) {
		metrics.ObserveClaim(string(w.Class), "rate_limited")
		s.touch(ctx, token)
		return jobs.Job{}, jobs.ErrRateLimited
	}
	span.SetAttributes(attribute.String("worker.class", string(w.Class)))
	job, err = s.store.Claim(ctx, jobs.ClaimRequest{
		Token: token,
		Class: w.Class,
		Order: s.cfg.Order,
		At:    s.clock.Now(),
	})
	switch {
	case errors.Is(err, jobs.ErrNoJobAvailable):
		// The claim transaction rolled back, so the poll itself has to
		// count as activity or a patient GPU worker would be reaped.
		metrics.ObserveClaim(string(w.Class), "no_job")
		s.touch(ctx, token)
		return jobs.Job{}, err
	case err != nil:
		metrics.ObserveClaim(string(w.Class), "error")
		return jobs.Job{}, err
	}
	metrics.ObserveClaim(string(w.Class), "claimed")
	s.logger.Debug("job claimed",
		zap.Int64("job", job.Number),
		zap.String("worker", w.DisplayName),
		zap.String("class", string(w.Class)),
	)
	return job, nil
}

func (s *Service) touch(ctx context.Context, token string) {
	if err := s.registry.Touch(ctx, token); err != nil && !errors.Is(err, jobs.ErrWorkerNotFound) {
		s.logger.Warn("touch worker failed", zap.Error(err))
	}
}

// Progress records the worker's progress text and refreshes its heartbeat.
func (s *Service) Progress(ctx context.Context, token string, class jobs.WorkerClass, progress string) error {
	if _, err := s.worker(ctx, token, class); err != nil {
		return err
	}
	return s.registry.UpdateProgress(ctx, token, progress)
}

func validateCompletion(class jobs.WorkerClass, req CompleteRequest) error {
	if class == jobs.ClassCPU {
		var missing []string
		if strings.TrimSpace(req.URL) == "" {
			missing = append(missing, "url")
		}
		if req.StartID == "" {
			missing = append(missing, "start_id")
		}
		if req.EndID == "" {
			missing = append(missing, "end_id")
		}
		if req.Shard == nil {
			missing = append(missing, "shard")
		}
		if len(missing) > 0 {
			return fmt.Errorf("%w: CPU result missing %s", jobs.ErrBadInput, strings.Join(missing, ", "))
		}
		return nil
	}
	if req.Count <= 0 {
		return fmt.Errorf("%w: count must be > 0", jobs.ErrBadInput)
	}
	return nil
}

// Complete applies a completion report for the worker's current job.
func (s *Service) Complete(ctx context.Context, req CompleteRequest) (_ jobs.Job, err error) {
	ctx, span := tracer.Start(ctx, "coordinator.Complete")
	defer func() { endSpan(span, err) }()
	w, err := s.worker(ctx, req.Token, req.Class)
	if err != nil {
		return jobs.Job{}, err
	}
	number := w.JobNumber
	if req.Number != 0 {
		number = req.Number
	}
	if number == 0 {
		return jobs.Job{}, fmt.Errorf("%w: worker holds no job", jobs.ErrInvalidState)
	}
	if err := validateCompletion(w.Class, req); err != nil {
		metrics.ObserveCompletion(string(w.Class), "bad_input")
		return jobs.Job{}, err
	}

	span.SetAttributes(
		attribute.String("worker.class", string(w.Class)),
		attribute.Int64("job.number", number),
	)
	now := s.clock.Now()
	job, err := s.store.Complete(ctx, jobs.Completion{
		Number:   number,
		Token:    w.Token,
		Class:    w.Class,
		Nickname: w.Nickname,
		Pairs:    req.Count,
		GPUURL:   req.URL,
		At:       now,
	})
	if err != nil {
		outcome := "error"
		switch {
		case errors.Is(err, jobs.ErrAlreadyCompleted):
			outcome = "duplicate"
		case errors.Is(err, jobs.ErrInvalidState):
			outcome = "invalid_state"
		}
		metrics.ObserveCompletion(string(w.Class), outcome)
		return jobs.Job{}, err
	}

	ev := jobs.Event{
		Type:       jobs.EventCompleted,
		JobNumbers: []int64{job.Number},
		Class:      w.Class,
		Nickname:   w.Nickname,
		Pairs:      req.Count,
		At:         now,
	}
	outcome := "closed"
	if w.Class == jobs.ClassCPU {
		ev.Type = jobs.EventHandoff
		outcome = "handoff"
	}
	metrics.ObserveCompletion(string(w.Class), outcome)
	s.events.Emit(ctx, ev)
	s.logger.Info("job completed",
		zap.Int64("job", job.Number),
		zap.String("stage", string(job.Stage())),
		zap.String("worker", w.DisplayName),
		zap.String("nickname", w.Nickname),
	)
	return job, nil
}

// InvalidResult returns the worker's job to its track's pool because the
// worker found its input unusable.
func (s *Service) InvalidResult(ctx context.Context, token string, class jobs.WorkerClass) error {
	w, err := s.worker(ctx, token, class)
	if err != nil {
		return err
	}
	if !w.HasJob() {
		return fmt.Errorf("%w: worker holds no job", jobs.ErrInvalidState)
	}
	if err := s.store.Release(ctx, w.JobNumber, jobs.ReleaseInvalid); err != nil {
		return err
	}
	metrics.ObserveRelease(string(jobs.ReleaseInvalid))
	s.events.Emit(ctx, jobs.Event{
		Type:       jobs.EventReleased,
		JobNumbers: []int64{w.JobNumber},
		Class:      w.Class,
		Nickname:   w.Nickname,
		Reason:     string(jobs.ReleaseInvalid),
		At:         s.clock.Now(),
	})
	s.touch(ctx, token)
	return nil
}

// Disconnect releases the worker's job and removes the worker.
func (s *Service) Disconnect(ctx context.Context, token string, class jobs.WorkerClass) (bool, error) {
	if _, err := s.worker(ctx, token, class); err != nil {
		return false, err
	}
	released, err := s.registry.Disconnect(ctx, token)
	if err != nil {
		return false, err
	}
	s.limiter.Forget(token)
	return released, nil
}

// Validate reports whether token is registered as class.
func (s *Service) Validate(ctx context.Context, token string, class jobs.WorkerClass) (bool, error) {
	return s.registry.Validate(ctx, token, class)
}

// JobCount returns the number of claimable jobs on the class's track.
func (s *Service) JobCount(ctx context.Context, class jobs.WorkerClass) (int64, error) {
	return s.store.CountEligible(ctx, class)
}
