package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/shard-coordinator/internal/config"
)

// These tests install global loggers and tracer providers, so they run
// sequentially.

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Server.Port = 0
	cfg.Logging.Development = false
	cfg.Logging.Level = "error"
	cfg.Auth.AdminKey = "secret"
	cfg.Snapshot.Enabled = true
	return &cfg
}

func TestBuildWithMemoryBackends(t *testing.T) {
	app, err := Build(context.Background(), memoryConfig(t), "test")
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, app.Close(context.Background())) })

	require.ElementsMatch(t, []string{"reaper", "throughput", "snapshot"}, app.dispatch.Names())

	for _, path := range []string{"/healthz", "/readyz", "/metrics", "/data", "/leaderboard"} {
		rec := httptest.NewRecorder()
		app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, path)
	}

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/new?nickname=ada&type=CPU", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"token"`)
}

func TestSetupPublisherWithoutTopicDropsEvents(t *testing.T) {
	cfg := memoryConfig(t)
	app := &App{cfg: cfg, logger: zap.NewNop()}

	pub, err := setupPublisher(context.Background(), app)
	require.NoError(t, err)
	require.Nil(t, pub)
	require.Nil(t, app.pubsubClient)
}

func TestRunElectsAndStops(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Election.TTL = 300 * time.Millisecond
	app, err := Build(context.Background(), cfg, "test")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	require.Eventually(t, app.elector.IsLeader, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop")
	}
	require.False(t, app.elector.IsLeader())
}

func TestMigrateSkipsNonPostgres(t *testing.T) {
	require.NoError(t, Migrate(context.Background(), memoryConfig(t), zap.NewNop()))
}
