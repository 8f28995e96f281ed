package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/shard-coordinator/internal/coordinator"
	"github.com/JakeFAU/shard-coordinator/internal/metrics"
	"github.com/JakeFAU/shard-coordinator/internal/telemetry"
)

// ReadyCheck reports whether a downstream dependency is reachable.
type ReadyCheck func(ctx context.Context) error

// RequestIDs mints request correlation ids.
type RequestIDs interface {
	NewRequestID() (string, error)
}

// Options configures the HTTP surface.
type Options struct {
	// AdminKey guards /admin; the admin routes are not mounted when empty.
	AdminKey string
	// WorkerKey, when set, must accompany every /api request.
	WorkerKey      string
	RequestTimeout time.Duration
	ReadyChecks    map[string]ReadyCheck
	RequestIDs     RequestIDs
	// Leader, when set, is reported by /healthz.
	Leader func() bool
}

// Server wires HTTP handlers to the coordinator service.
type Server struct {
	router chi.Router
	svc    *coordinator.Service
	opts   Options
	logger *zap.Logger
}

const readyTimeout = 2 * time.Second

// NewServer constructs a Server with middleware and routes.
func NewServer(svc *coordinator.Service, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	s := &Server{svc: svc, opts: opts, logger: logger}

	r := chi.NewRouter()
	r.Use(telemetry.Middleware)
	r.Use(requestIDMiddleware(opts.RequestIDs))
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(opts.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Get("/data", s.summary)
	r.Get("/leaderboard", s.leaderboard)
	r.Get("/leaderboard/{nickname}", s.leaderboardEntry)
	r.Get("/worker/{name}/data", s.workerData)

	r.Route("/api", func(r chi.Router) {
		if opts.WorkerKey != "" {
			r.Use(apiKeyMiddleware(opts.WorkerKey))
		}
		r.Get("/new", s.newWorker)
		r.Post("/validateWorker", s.validateWorker)
		r.Get("/getUploadAddress", s.uploadAddress)
		r.Post("/newJob", s.newJob)
		r.Get("/jobCount", s.jobCount)
		r.Post("/updateProgress", s.updateProgress)
		r.Post("/markAsDone", s.markAsDone)
		r.Post("/invalidResult", s.invalidResult)
		r.Post("/gpuInvalidDownload", s.invalidResult)
		r.Post("/bye", s.bye)
	})

	if opts.AdminKey != "" {
		r.Route("/admin", func(r chi.Router) {
			r.Use(apiKeyMiddleware(opts.AdminKey))
			r.Post("/reopen", s.reopen)
			r.Post("/markdone", s.markDone)
			r.Get("/lookup", s.lookup)
			r.Get("/workers", s.listWorkers)
			r.Get("/banner", s.getBanner)
			r.Put("/banner", s.putBanner)
		})
	}

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{"status": "ok"}
	if s.opts.Leader != nil {
		body["leader"] = s.opts.Leader()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()
	failed := map[string]string{}
	for name, check := range s.opts.ReadyChecks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		s.logger.Warn("readiness check failed", zap.Any("failed", failed))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failed": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if subtle.ConstantTimeCompare([]byte(key), []byte(expected)) != 1 {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
