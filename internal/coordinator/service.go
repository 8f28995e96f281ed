// Package coordinator implements the worker-facing and admin operations on
// top of the job store, worker registry and shared key-value store.
package coordinator

import (
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/shard-coordinator/internal/backfill"
	"github.com/JakeFAU/shard-coordinator/internal/cache"
	"github.com/JakeFAU/shard-coordinator/internal/jobs"
	"github.com/JakeFAU/shard-coordinator/internal/kv"
	"github.com/JakeFAU/shard-coordinator/internal/publisher"
	"github.com/JakeFAU/shard-coordinator/internal/ratelimit"
	"github.com/JakeFAU/shard-coordinator/internal/registry"
)

// Cache keys and kv keys owned by the service.
const (
	summaryCacheKey     = "summary"
	leaderboardCacheKey = "leaderboard"
	bannerKey           = "banner"
)

// Config holds the service's tunables.
type Config struct {
	Order              jobs.ClaimOrder
	CacheTTL           time.Duration
	UploadAddresses    []string
	CPUUploadAddresses []string
}

// Deps are the collaborators a Service needs.
type Deps struct {
	Store     jobs.Store
	Registry  *registry.Registry
	KV        kv.Store
	Cache     *cache.ResponseCache
	Limiter   *ratelimit.Limiter
	Manifests *backfill.Loader
	Events    *publisher.Emitter
	Clock     jobs.Clock
	Logger    *zap.Logger
}

// Service is safe for concurrent use; it holds no per-request state and
// never locks across a store round trip.
type Service struct {
	cfg       Config
	store     jobs.Store
	registry  *registry.Registry
	kv        kv.Store
	cache     *cache.ResponseCache
	limiter   *ratelimit.Limiter
	manifests *backfill.Loader
	events    *publisher.Emitter
	clock     jobs.Clock
	logger    *zap.Logger
}

// New builds a Service.
func New(cfg Config, d Deps) (*Service, error) {
	if d.Store == nil || d.Registry == nil || d.KV == nil || d.Cache == nil || d.Clock == nil {
		return nil, fmt.Errorf("coordinator: store, registry, kv, cache and clock are required")
	}
	switch cfg.Order {
	case "":
		cfg.Order = jobs.OrderPriority
	case jobs.OrderPriority, jobs.OrderRandom:
	default:
		return nil, fmt.Errorf("claim.order must be priority or random, got %q", cfg.Order)
	}
	if cfg.CacheTTL <= 0 {
		return nil, fmt.Errorf("cache.ttl must be > 0")
	}
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cfg:       cfg,
		store:     d.Store,
		registry:  d.Registry,
		kv:        d.KV,
		cache:     d.Cache,
		limiter:   d.Limiter,
		manifests: d.Manifests,
		events:    d.Events,
		clock:     d.Clock,
		logger:    logger,
	}, nil
}

// Registry exposes the worker registry for registration and lookups.
func (s *Service) Registry() *registry.Registry {
	return s.registry
}

// UploadAddress picks a random upload target for the class.
func (s *Service) UploadAddress(class jobs.WorkerClass) (string, error) {
	pool := s.cfg.UploadAddresses
	if class == jobs.ClassCPU && len(s.cfg.CPUUploadAddresses) > 0 {
		pool = s.cfg.CPUUploadAddresses
	}
	if len(pool) == 0 {
		return "", fmt.Errorf("%w: no upload addresses configured", jobs.ErrUnavailable)
	}
	return pool[rand.IntN(len(pool))], nil
}
