// Package server wires the coordinator's dependencies and runs the process.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/shard-coordinator/internal/api"
	"github.com/JakeFAU/shard-coordinator/internal/backfill"
	"github.com/JakeFAU/shard-coordinator/internal/blob"
	gcsblob "github.com/JakeFAU/shard-coordinator/internal/blob/gcs"
	localblob "github.com/JakeFAU/shard-coordinator/internal/blob/local"
	memoryblob "github.com/JakeFAU/shard-coordinator/internal/blob/memory"
	"github.com/JakeFAU/shard-coordinator/internal/cache"
	"github.com/JakeFAU/shard-coordinator/internal/clock/system"
	"github.com/JakeFAU/shard-coordinator/internal/config"
	"github.com/JakeFAU/shard-coordinator/internal/coordinator"
	"github.com/JakeFAU/shard-coordinator/internal/dispatcher"
	"github.com/JakeFAU/shard-coordinator/internal/election"
	"github.com/JakeFAU/shard-coordinator/internal/id/uuid"
	"github.com/JakeFAU/shard-coordinator/internal/jobs"
	"github.com/JakeFAU/shard-coordinator/internal/kv"
	memorykv "github.com/JakeFAU/shard-coordinator/internal/kv/memory"
	rediskv "github.com/JakeFAU/shard-coordinator/internal/kv/redis"
	"github.com/JakeFAU/shard-coordinator/internal/logging"
	"github.com/JakeFAU/shard-coordinator/internal/metrics"
	"github.com/JakeFAU/shard-coordinator/internal/naming"
	"github.com/JakeFAU/shard-coordinator/internal/publisher"
	gcppublisher "github.com/JakeFAU/shard-coordinator/internal/publisher/pubsub"
	"github.com/JakeFAU/shard-coordinator/internal/ratelimit"
	"github.com/JakeFAU/shard-coordinator/internal/reaper"
	"github.com/JakeFAU/shard-coordinator/internal/registry"
	"github.com/JakeFAU/shard-coordinator/internal/snapshot"
	memorystore "github.com/JakeFAU/shard-coordinator/internal/storage/memory"
	pgstore "github.com/JakeFAU/shard-coordinator/internal/storage/postgres"
	"github.com/JakeFAU/shard-coordinator/internal/telemetry"
	"github.com/JakeFAU/shard-coordinator/internal/throughput"
)

// App contains the application's dependencies.
type App struct {
	cfg             *config.Config
	logger          *zap.Logger
	restoreLogging  func()
	store           jobs.Store
	kv              kv.Store
	apiServer       *api.Server
	service         *coordinator.Service
	elector         *election.Elector
	dispatch        *dispatcher.Dispatcher
	pubsubClient    *pubsub.Client
	pubsubPublisher *pubsub.Publisher
	storage         *storage.Client
	tracerShutdown  telemetry.ShutdownFunc
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config, version string) (*App, error) {
	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
		Service:     cfg.Telemetry.ServiceName,
	})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	app := &App{cfg: cfg, logger: logger, restoreLogging: logging.Install(logger)}
	metrics.Init()

	nodeID := cfg.Election.NodeID
	if nodeID == "" {
		nodeID = uuid.NodeID()
	}
	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("node_id", nodeID),
		zap.String("database", cfg.Database.Backend),
		zap.String("kv", cfg.KV.Backend),
		zap.String("blob", cfg.Blob.Backend),
	)

	app.tracerShutdown, err = telemetry.Init(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     version,
		NodeID:      nodeID,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return nil, app.abort(fmt.Errorf("tracer init failed: %w", err))
	}

	clock := system.New()
	ids := uuid.NewUUIDGenerator()

	if app.store, err = setupStore(ctx, app); err != nil {
		return nil, app.abort(err)
	}
	if app.kv, err = setupKV(app, clock); err != nil {
		return nil, app.abort(err)
	}
	blobs, err := setupBlob(ctx, app)
	if err != nil {
		return nil, app.abort(err)
	}
	pub, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, app.abort(err)
	}
	events := publisher.NewEmitter(pub, cfg.PubSub.TopicName, logger.Named("events"))

	reg := registry.New(registry.Config{
		LookupCacheSize: cfg.Workers.LookupCacheSize,
		LookupCacheTTL:  cfg.Workers.LookupCacheTTL,
	}, app.store, ids, naming.New(), clock, events, logger.Named("registry"))
	limiter := ratelimit.New(ratelimit.Config{
		RatePerSecond: cfg.Claim.RatePerSecond,
		Burst:         cfg.Claim.Burst,
	})

	app.service, err = coordinator.New(coordinator.Config{
		Order:              jobs.ClaimOrder(cfg.Claim.Order),
		CacheTTL:           cfg.Cache.TTL,
		UploadAddresses:    cfg.Upload.Addresses,
		CPUUploadAddresses: cfg.Upload.CPUAddresses,
	}, coordinator.Deps{
		Store:     app.store,
		Registry:  reg,
		KV:        app.kv,
		Cache:     cache.New(app.kv, clock, logger.Named("cache")),
		Limiter:   limiter,
		Manifests: backfill.NewLoader(blobs),
		Events:    events,
		Clock:     clock,
		Logger:    logger.Named("coordinator"),
	})
	if err != nil {
		return nil, app.abort(fmt.Errorf("coordinator init failed: %w", err))
	}

	if app.dispatch, err = setupDuties(app, reg, limiter, blobs, events, clock); err != nil {
		return nil, app.abort(err)
	}
	app.elector, err = election.New(election.Config{
		Strategy:    election.Strategy(cfg.Election.Strategy),
		Key:         cfg.Election.Key,
		NodeID:      nodeID,
		TTL:         cfg.Election.TTL,
		SettleDelay: cfg.Election.SettleDelay,
	}, app.kv, logger.Named("election"))
	if err != nil {
		return nil, app.abort(fmt.Errorf("elector init failed: %w", err))
	}

	app.apiServer = api.NewServer(app.service, api.Options{
		AdminKey:       cfg.Auth.AdminKey,
		WorkerKey:      cfg.Auth.WorkerKey,
		RequestTimeout: cfg.Server.RequestTimeout,
		RequestIDs:     ids,
		Leader:         app.elector.IsLeader,
		ReadyChecks: map[string]api.ReadyCheck{
			"database": app.store.Ping,
			"kv":       app.kv.Ping,
		},
	}, logger.Named("api"))
	if cfg.Auth.AdminKey == "" {
		logger.Warn("auth.admin_key is empty, admin routes are disabled")
	}
	return app, nil
}

// abort releases whatever Build managed to open before failing.
func (a *App) abort(err error) error {
	a.closeInfrastructure(context.Background())
	a.closeObservability(context.Background())
	return err
}

func setupStore(ctx context.Context, app *App) (jobs.Store, error) {
	switch app.cfg.Database.Backend {
	case config.BackendPostgres:
		store, err := pgstore.New(ctx, postgresConfig(app.cfg))
		if err != nil {
			return nil, fmt.Errorf("postgres store init failed: %w", err)
		}
		app.logger.Info("using postgres job store")
		return store, nil
	default:
		app.logger.Warn("using in-memory job store, state is lost on restart")
		return memorystore.NewStore(), nil
	}
}

func postgresConfig(cfg *config.Config) pgstore.Config {
	return pgstore.Config{
		DSN:             cfg.Database.DSN,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
	}
}

func setupKV(app *App, clock jobs.Clock) (kv.Store, error) {
	switch app.cfg.KV.Backend {
	case config.BackendRedis:
		store, err := rediskv.New(rediskv.Config{
			Addr:     app.cfg.KV.Addr,
			Password: app.cfg.KV.Password,
			DB:       app.cfg.KV.DB,
			Prefix:   app.cfg.KV.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("redis kv init failed: %w", err)
		}
		app.logger.Info("using redis kv store", zap.String("addr", app.cfg.KV.Addr))
		return store, nil
	default:
		app.logger.Warn("using in-memory kv store, election is process-local")
		return memorykv.NewStore(clock), nil
	}
}

func setupBlob(ctx context.Context, app *App) (blob.Store, error) {
	switch app.cfg.Blob.Backend {
	case config.BackendGCS:
		var err error
		app.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		store, err := gcsblob.New(app.storage, gcsblob.Config{Bucket: app.cfg.Blob.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Info("using GCS blob store", zap.String("bucket", app.cfg.Blob.Bucket))
		return store, nil
	case config.BackendLocal:
		store, err := localblob.New(localblob.Config{BaseDir: app.cfg.Blob.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Info("using local blob store", zap.String("path", app.cfg.Blob.BaseDir))
		return store, nil
	default:
		app.logger.Info("using in-memory blob store")
		return memoryblob.NewBlobStore(), nil
	}
}

func setupPublisher(ctx context.Context, app *App) (jobs.Publisher, error) {
	if app.cfg.PubSub.TopicName == "" || app.cfg.PubSub.ProjectID == "" {
		app.logger.Warn("No Pub/Sub topic configured, lifecycle events are dropped")
		return nil, nil
	}
	var err error
	app.pubsubClient, err = pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubPublisher = app.pubsubClient.Publisher(app.cfg.PubSub.TopicName)
	app.logger.Info(
		"Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return gcppublisher.New(app.pubsubPublisher), nil
}

// setupDuties builds the loops that only the elected leader runs.
func setupDuties(
	app *App,
	reg *registry.Registry,
	limiter *ratelimit.Limiter,
	blobs blob.Store,
	events *publisher.Emitter,
	clock jobs.Clock,
) (*dispatcher.Dispatcher, error) {
	cfg := app.cfg
	reap, err := reaper.New(reaper.Config{
		IdleTimeout: cfg.Workers.IdleTimeout,
		Interval:    cfg.Workers.ReapInterval,
	}, app.store, clock, events, app.logger.Named("reaper"),
		func(w jobs.Worker) { reg.Forget(w.DisplayName) },
		func(w jobs.Worker) { limiter.Forget(w.Token) },
	)
	if err != nil {
		return nil, fmt.Errorf("reaper init failed: %w", err)
	}
	est, err := throughput.New(throughput.Config{
		Interval: cfg.Throughput.Interval,
		Window:   cfg.Throughput.Window,
	}, app.store, app.kv, clock, app.logger.Named("throughput"))
	if err != nil {
		return nil, fmt.Errorf("throughput init failed: %w", err)
	}
	duties := []dispatcher.Duty{
		{Name: "reaper", Runner: reap},
		{Name: "throughput", Runner: est},
	}
	if cfg.Snapshot.Enabled {
		exp, err := snapshot.New(snapshot.Config{
			Interval: cfg.Snapshot.Interval,
			Prefix:   cfg.Snapshot.Prefix,
		}, app.service, blobs, clock, app.logger.Named("snapshot"))
		if err != nil {
			return nil, fmt.Errorf("snapshot init failed: %w", err)
		}
		duties = append(duties, dispatcher.Duty{Name: "snapshot", Runner: exp})
	}
	d := dispatcher.New(app.logger.Named("dispatcher"), duties...)
	app.logger.Info("leader duties configured",
		zap.Strings("duties", d.Names()),
		zap.Duration("idle_timeout", cfg.Workers.IdleTimeout),
		zap.Duration("reap_interval", cfg.Workers.ReapInterval),
		zap.Duration("throughput_interval", cfg.Throughput.Interval),
		zap.Int("throughput_window", cfg.Throughput.Window),
	)
	return d, nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the application and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	electionDone := make(chan struct{})
	go func() {
		defer close(electionDone)
		if err := a.elector.Run(ctx, a.dispatch.Run); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("election stopped", zap.Error(err))
			stop()
		}
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	select {
	case <-electionDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("leader duties did not stop before the shutdown deadline")
	}

	return a.Close(shutdownCtx)
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	a.closeInfrastructure(ctx)
	a.logger.Info("shutdown complete")
	a.closeObservability(ctx)
	return nil
}

func (a *App) closeInfrastructure(_ context.Context) {
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.kv != nil {
		if err := a.kv.Close(); err != nil {
			a.logger.Warn("kv close failed", zap.Error(err))
		}
	}
	if a.store != nil {
		a.store.Close()
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	if a.restoreLogging != nil {
		a.restoreLogging()
	}
}

// Migrate applies the relational schema for the configured database.
func Migrate(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if cfg.Database.Backend != config.BackendPostgres {
		logger.Info("database.backend is not postgres, nothing to migrate", zap.String("backend", cfg.Database.Backend))
		return nil
	}
	store, err := pgstore.New(ctx, postgresConfig(cfg))
	if err != nil {
		return fmt.Errorf("postgres store init failed: %w", err)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	logger.Info("schema applied")
	return nil
}
