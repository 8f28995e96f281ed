package coordinator

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/shard-coordinator/internal/jobs"
)

// MarkDoneRequest closes jobs completed outside the worker protocol.
type MarkDoneRequest struct {
	Numbers []int64
	// Manifest optionally names a blob object listing more job numbers.
	Manifest string
	Nickname string
	Pairs    int64
}

// Reopen rolls a closed job back to Open.
func (s *Service) Reopen(ctx context.Context, number int64) error {
	if err := s.store.Reopen(ctx, number); err != nil {
		return err
	}
	s.events.Emit(ctx, jobs.Event{Type: jobs.EventReopened, JobNumbers: []int64{number}, At: s.clock.Now()})
	s.invalidate(ctx, summaryCacheKey)
	s.logger.Info("job reopened", zap.Int64("job", number))
	return nil
}

// MarkDone closes every listed job that is neither closed nor claimed and
// credits nickname. It returns how many jobs were actually closed.
func (s *Service) MarkDone(ctx context.Context, req MarkDoneRequest) (int64, error) {
	nickname := strings.TrimSpace(req.Nickname)
	if nickname == "" {
		return 0, fmt.Errorf("%w: nickname is required", jobs.ErrBadInput)
	}
	if req.Pairs < 0 {
		return 0, fmt.Errorf("%w: pairs must be >= 0", jobs.ErrBadInput)
	}
	numbers, err := s.manifests.Resolve(ctx, req.Numbers, req.Manifest)
	if err != nil {
		return 0, err
	}
	closed, err := s.store.MarkDone(ctx, numbers, nickname, req.Pairs)
	if err != nil {
		return 0, err
	}
	updated := int64(len(closed))
	if updated > 0 {
		s.events.Emit(ctx, jobs.Event{
			Type:       jobs.EventMarkDone,
			JobNumbers: closed,
			Nickname:   nickname,
			Pairs:      req.Pairs,
			At:         s.clock.Now(),
		})
		s.invalidate(ctx, summaryCacheKey, leaderboardCacheKey)
	}
	s.logger.Info("jobs marked done",
		zap.Int("requested", len(numbers)),
		zap.Int64("updated", updated),
		zap.String("nickname", nickname),
	)
	return updated, nil
}

// Lookup lists unclosed jobs whose source URL matches.
func (s *Service) Lookup(ctx context.Context, url string) ([]jobs.Job, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("%w: url is required", jobs.ErrBadInput)
	}
	return s.store.FindOpenByURL(ctx, url)
}

// SetBanner overwrites the dashboard banner; empty text removes it. The
// banner bypasses the response cache's TTL.
func (s *Service) SetBanner(ctx context.Context, text string) error {
	var err error
	if text == "" {
		err = s.kv.Delete(ctx, bannerKey)
	} else {
		err = s.kv.Set(ctx, bannerKey, []byte(text), 0)
	}
	if err != nil {
		return fmt.Errorf("set banner: %w", err)
	}
	s.invalidate(ctx, summaryCacheKey)
	return nil
}

// WorkerListing is the operator view of connected workers.
type WorkerListing struct {
	Workers []jobs.Worker `json:"workers"`
	// Throttled counts workers with live claim-throttle state on this node.
	Throttled int `json:"throttled"`
}

// Workers lists every connected worker, oldest registration first.
func (s *Service) Workers(ctx context.Context) (WorkerListing, error) {
	ws, err := s.store.ListWorkers(ctx)
	if err != nil {
		return WorkerListing{}, err
	}
	if ws == nil {
		ws = []jobs.Worker{}
	}
	return WorkerListing{Workers: ws, Throttled: s.limiter.Len()}, nil
}

// Banner returns the current banner text.
func (s *Service) Banner(ctx context.Context) (string, error) {
	raw, _, err := s.kv.Get(ctx, bannerKey)
	if err != nil {
		return "", fmt.Errorf("get banner: %w", err)
	}
	return string(raw), nil
}

func (s *Service) invalidate(ctx context.Context, keys ...string) {
	if err := s.cache.Invalidate(ctx, keys...); err != nil {
		s.logger.Warn("cache invalidate failed", zap.Strings("keys", keys), zap.Error(err))
	}
}
