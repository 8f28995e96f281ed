package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/shard-coordinator/internal/backfill"
	blobmemory "github.com/JakeFAU/shard-coordinator/internal/blob/memory"
	"github.com/JakeFAU/shard-coordinator/internal/cache"
	"github.com/JakeFAU/shard-coordinator/internal/coordinator"
	"github.com/JakeFAU/shard-coordinator/internal/jobs"
	kvmemory "github.com/JakeFAU/shard-coordinator/internal/kv/memory"
	"github.com/JakeFAU/shard-coordinator/internal/publisher"
	pubmemory "github.com/JakeFAU/shard-coordinator/internal/publisher/memory"
	"github.com/JakeFAU/shard-coordinator/internal/ratelimit"
	"github.com/JakeFAU/shard-coordinator/internal/registry"
	"github.com/JakeFAU/shard-coordinator/internal/storage/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

type seqIDs struct{ n atomic.Int64 }

func (s *seqIDs) NewID() (string, error) {
	return fmt.Sprintf("token-%d", s.n.Add(1)), nil
}

type seqNames struct{ n atomic.Int64 }

func (s *seqNames) Generate() string {
	return fmt.Sprintf("worker-%d", s.n.Add(1))
}

type fixedRequestIDs struct{}

func (fixedRequestIDs) NewRequestID() (string, error) { return "req-1", nil }

type testEnv struct {
	server *Server
	store  *memory.Store
}

func newTestEnv(t *testing.T, opts Options) testEnv {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)}
	store := memory.NewStore()
	kvs := kvmemory.NewStore(clock)
	events := publisher.NewEmitter(pubmemory.New(), "job-events", nil)
	reg := registry.New(registry.Config{}, store, &seqIDs{}, &seqNames{}, clock, events, nil)
	svc, err := coordinator.New(coordinator.Config{
		CacheTTL:        30 * time.Second,
		UploadAddresses: []string{"https://up.example/a"},
	}, coordinator.Deps{
		Store:     store,
		Registry:  reg,
		KV:        kvs,
		Cache:     cache.New(kvs, clock, nil),
		Limiter:   ratelimit.New(ratelimit.Config{}),
		Manifests: backfill.NewLoader(blobmemory.NewBlobStore()),
		Events:    events,
		Clock:     clock,
	})
	require.NoError(t, err)
	if opts.RequestIDs == nil {
		opts.RequestIDs = fixedRequestIDs{}
	}
	return testEnv{server: NewServer(svc, opts, zap.NewNop()), store: store}
}

func (e testEnv) do(t *testing.T, method, target string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (e testEnv) register(t *testing.T, class, nickname string) registerResponse {
	t.Helper()
	rec := e.do(t, http.MethodGet, "/api/new?nickname="+nickname+"&type="+class, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[registerResponse](t, rec)
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	rec := env.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "req-1", rec.Header().Get("X-Request-ID"))
	require.NotContains(t, rec.Body.String(), "leader")

	env = newTestEnv(t, Options{Leader: func() bool { return true }})
	rec = env.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, decode[map[string]any](t, rec)["leader"])
}

func TestReadyzReportsFailedChecks(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{ReadyChecks: map[string]ReadyCheck{
		"store": func(context.Context) error { return nil },
		"kv":    func(context.Context) error { return errors.New("connection refused") },
	}})
	rec := env.do(t, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "connection refused")
}

func TestRegisterAndHybridCompletion(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	env.store.Seed(jobs.Job{Number: 1, URL: "https://src.example/1", StartID: "0", EndID: "9"})

	reg := env.register(t, "HYBRID", "ada")
	require.Equal(t, "token-1", reg.Token)
	require.Equal(t, "worker-1", reg.DisplayName)
	require.Equal(t, "https://up.example/a", reg.UploadAddress)

	rec := env.do(t, http.MethodPost, "/api/newJob", workerRequest{Token: reg.Token})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	job := decode[jobResponse](t, rec)
	require.Equal(t, int64(1), job.Number)
	require.Equal(t, "https://src.example/1", job.URL)

	rec = env.do(t, http.MethodPost, "/api/updateProgress", workerRequest{Token: reg.Token, Progress: "50%"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/markAsDone", workerRequest{Token: reg.Token, Count: 42})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Contains(t, rec.Body.String(), `"stage":"closed"`)

	rec = env.do(t, http.MethodPost, "/api/markAsDone", workerRequest{Token: reg.Token, Count: 42})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/markAsDone", workerRequest{Token: reg.Token, Number: job.Number, Count: 42})
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "already completed")

	rec = env.do(t, http.MethodGet, "/leaderboard", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	board := decode[[]jobs.LeaderboardEntry](t, rec)
	require.Len(t, board, 1)
	require.Equal(t, "ada", board[0].Nickname)
	require.Equal(t, int64(42), board[0].PairsScraped)

	rec = env.do(t, http.MethodGet, "/worker/worker-1/data", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"user":"ada"`)
	require.NotContains(t, rec.Body.String(), reg.Token)
}

func TestGPUReceivesHandoffURL(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	env.store.Seed(jobs.Job{Number: 5, URL: "https://src.example/5"})

	cpu := env.register(t, "CPU", "cpu-user")
	rec := env.do(t, http.MethodPost, "/api/newJob", workerRequest{Token: cpu.Token, Type: "CPU"})
	require.Equal(t, http.StatusOK, rec.Code)

	shard := 0
	rec = env.do(t, http.MethodPost, "/api/markAsDone", workerRequest{
		Token: cpu.Token, Type: "CPU", URL: "gs://staging/5.tar", StartID: "1", EndID: "2", Shard: &shard,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Contains(t, rec.Body.String(), `"stage":"gpu_pending"`)

	rec = env.do(t, http.MethodGet, "/api/jobCount?type=GPU", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, int64(1), decode[map[string]int64](t, rec)["count"])

	gpu := env.register(t, "GPU", "gpu-user")
	rec = env.do(t, http.MethodPost, "/api/newJob", workerRequest{Token: gpu.Token, Type: "GPU"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "gs://staging/5.tar", decode[jobResponse](t, rec).URL)

	rec = env.do(t, http.MethodPost, "/api/gpuInvalidDownload", workerRequest{Token: gpu.Token, Type: "GPU"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/bye", workerRequest{Token: gpu.Token, Type: "GPU"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"released":false`)
}

func TestWorkerErrors(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	reg := env.register(t, "HYBRID", "ada")

	cases := []struct {
		name   string
		method string
		target string
		body   any
		want   int
	}{
		{"no job available", http.MethodPost, "/api/newJob", workerRequest{Token: reg.Token}, http.StatusServiceUnavailable},
		{"unknown token", http.MethodPost, "/api/newJob", workerRequest{Token: "nope"}, http.StatusNotFound},
		{"class mismatch", http.MethodPost, "/api/newJob", workerRequest{Token: reg.Token, Type: "GPU"}, http.StatusNotFound},
		{"bad class", http.MethodPost, "/api/newJob", workerRequest{Token: reg.Token, Type: "TPU"}, http.StatusBadRequest},
		{"missing token", http.MethodPost, "/api/bye", workerRequest{}, http.StatusBadRequest},
		{"no held job", http.MethodPost, "/api/markAsDone", workerRequest{Token: reg.Token, Count: 1}, http.StatusConflict},
		{"missing nickname", http.MethodGet, "/api/new?type=CPU", nil, http.StatusBadRequest},
		{"bad class on register", http.MethodGet, "/api/new?nickname=x&type=TPU", nil, http.StatusBadRequest},
	}
	for _, tc := range cases {
		rec := env.do(t, tc.method, tc.target, tc.body)
		require.Equal(t, tc.want, rec.Code, "%s: %s", tc.name, rec.Body.String())
		require.Contains(t, rec.Body.String(), `"error"`, tc.name)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/newJob", bytes.NewBufferString("{invalid"))
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestValidateWorker(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	reg := env.register(t, "CPU", "ada")

	rec := env.do(t, http.MethodPost, "/api/validateWorker", workerRequest{Token: reg.Token, Type: "CPU"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, decode[map[string]bool](t, rec)["valid"])

	rec = env.do(t, http.MethodPost, "/api/validateWorker", workerRequest{Token: reg.Token, Type: "GPU"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, decode[map[string]bool](t, rec)["valid"])
}

func TestWorkerKeyRequired(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{WorkerKey: "volunteer"})
	rec := env.do(t, http.MethodGet, "/api/jobCount", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/jobCount", nil, "X-API-Key", "volunteer")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/data", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminRoutesDisabledWithoutKey(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	rec := env.do(t, http.MethodPut, "/admin/banner", bannerRequest{Text: "hi"})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminFlow(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{AdminKey: "secret"})
	env.store.Seed(
		jobs.Job{Number: 1, URL: "https://src.example/a"},
		jobs.Job{Number: 2, URL: "https://src.example/b"},
	)
	auth := []string{"X-API-Key", "secret"}

	rec := env.do(t, http.MethodPut, "/admin/banner", bannerRequest{Text: "hi"}, "X-API-Key", "wrong")
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodGet, "/data", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"banner":""`)

	rec = env.do(t, http.MethodPut, "/admin/banner", bannerRequest{Text: "maintenance at noon"}, auth...)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodGet, "/data", nil)
	require.Contains(t, rec.Body.String(), "maintenance at noon")

	rec = env.do(t, http.MethodGet, "/admin/lookup?url=https://src.example/b", nil, auth...)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"number":2`)

	rec = env.do(t, http.MethodGet, "/admin/lookup", nil, auth...)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/admin/markdone", markDoneRequest{Numbers: []int64{1, 2}, Nickname: "ops", Pairs: 10}, auth...)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, int64(2), decode[map[string]int64](t, rec)["updated"])

	rec = env.do(t, http.MethodPost, "/admin/reopen", reopenRequest{Number: 1}, auth...)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/admin/reopen", reopenRequest{Number: 99}, auth...)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/admin/reopen", reopenRequest{}, auth...)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	reg := env.register(t, "GPU", "grace")
	rec = env.do(t, http.MethodGet, "/admin/workers", nil, auth...)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	listing := decode[struct {
		Workers   []jobs.Worker `json:"workers"`
		Throttled int           `json:"throttled"`
	}](t, rec)
	require.Len(t, listing.Workers, 1)
	require.Equal(t, reg.DisplayName, listing.Workers[0].DisplayName)
	require.Equal(t, jobs.ClassGPU, listing.Workers[0].Class)
	require.NotContains(t, rec.Body.String(), reg.Token)

	rec = env.do(t, http.MethodGet, "/leaderboard/ops", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"nickname":"ops"`)

	rec = env.do(t, http.MethodGet, "/leaderboard/nobody", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	handler := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestStatusFor(t *testing.T) {
	t.Parallel()

	cases := map[error]int{
		jobs.ErrWorkerNotFound:                      http.StatusNotFound,
		fmt.Errorf("wrap: %w", jobs.ErrJobNotFound): http.StatusNotFound,
		jobs.ErrUserNotFound:                        http.StatusNotFound,
		jobs.ErrNoJobAvailable:                      http.StatusServiceUnavailable,
		jobs.ErrUnavailable:                         http.StatusServiceUnavailable,
		jobs.ErrAlreadyCompleted:                    http.StatusConflict,
		jobs.ErrInvalidState:                        http.StatusConflict,
		jobs.ErrBadInput:                            http.StatusBadRequest,
		jobs.ErrInvalidClass:                        http.StatusBadRequest,
		jobs.ErrRateLimited:                         http.StatusTooManyRequests,
		errors.New("connection reset"):              http.StatusInternalServerError,
	}
	for err, want := range cases {
		require.Equal(t, want, statusFor(err), err.Error())
	}
}
