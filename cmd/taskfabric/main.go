package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	tfhttp "github.com/taskfabric/taskfabric/internal/adapter/http"
	"github.com/taskfabric/taskfabric/internal/adapter/local"
	tfnats "github.com/taskfabric/taskfabric/internal/adapter/nats"
	tfotel "github.com/taskfabric/taskfabric/internal/adapter/otel"
	"github.com/taskfabric/taskfabric/internal/adapter/postgres"
	"github.com/taskfabric/taskfabric/internal/adapter/ristretto"
	"github.com/taskfabric/taskfabric/internal/adapter/ws"
	"github.com/taskfabric/taskfabric/internal/config"
	"github.com/taskfabric/taskfabric/internal/domain/strategy"
	"github.com/taskfabric/taskfabric/internal/logger"
	"github.com/taskfabric/taskfabric/internal/port/executor"
	"github.com/taskfabric/taskfabric/internal/resilience"
	"github.com/taskfabric/taskfabric/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closeLog := logger.New(cfg.Logging)
	slog.SetDefault(log)
	defer closeLog.Close()

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"pool_size", cfg.Pool.Size,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Telemetry ---
	shutdownOTel, err := tfotel.Setup(ctx, cfg.Logging.Service, cfg.OTel.Endpoint)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(shutdownCtx); err != nil {
			slog.Error("otel shutdown", "error", err)
		}
	}()

	metrics, err := tfotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Core services ---
	core := buildCore(cfg, metrics)

	if cfg.Postgres.DSN != "" {
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()

		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		slog.Info("postgres connected, migrations applied")

		core.Router.SetArchiver(postgres.NewArchiveStore(pool))
	}

	if cfg.NATS.URL != "" {
		queue, err := tfnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = queue.Close() }()
		core.Router.SetQueue(queue)
	}

	snapshots, err := ristretto.New(cfg.Cache.MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer snapshots.Close()
	core.Router.SetCache(snapshots, cfg.Cache.TTL)

	hub := ws.NewHub()
	core.Router.SetBroadcaster(hub)
	core.Pool.SetBroadcaster(hub)

	core.Start(ctx)
	defer core.Stop()

	// --- HTTP ---
	handlers := tfhttp.NewHandlers(core.Router, core.Pool, hub)

	r := chi.NewRouter()
	r.Use(tfhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(tfhttp.Logger)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(tfotel.HTTPMiddleware(cfg.Logging.Service))
	tfhttp.MountRoutes(r, handlers)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// services bundles the wired core for handler construction and shutdown.
type services struct {
	Router  *service.RouterService
	Pool    *service.PoolService
	Reviews *service.ReviewQueueService
}

// buildCore wires the core services: registry, decider, pool, review
// queue, and router, with the local collaborators registered per mode.
func buildCore(cfg *config.Config, metrics *tfotel.Metrics) *services {
	executors := executor.NewRegistry()
	executors.Register(strategy.ModeDirect, local.NewExecutor(strategy.ModeDirect))
	executors.Register(strategy.ModeReviewed, local.NewExecutor(strategy.ModeReviewed))
	executors.Register(strategy.ModeFullLoop, local.NewExecutor(strategy.ModeFullLoop))

	breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	decider := service.NewDeciderService(cfg.Decider, local.NewClassifier(), breaker)
	registry := service.NewRegistryService()
	pool := service.NewPoolService(cfg.Pool, executors, registry)
	router := service.NewRouterService(cfg.Router, decider, registry, pool, executors)
	reviews := service.NewReviewQueueService(cfg.Review, nil, router)

	pool.SetReviewSink(reviews)
	router.SetMetrics(metrics)
	reviews.SetOnBatch(func(size int) {
		metrics.ReviewBatchSize.Record(context.Background(), int64(size))
	})

	return &services{Router: router, Pool: pool, Reviews: reviews}
}

// Start launches the asynchronous parts of the core in dependency order.
func (s *services) Start(ctx context.Context) {
	s.Pool.Start(ctx)
	s.Reviews.Start(ctx)
	s.Router.Start(ctx)
}

// Stop shuts the core down: intake first, then workers, then the review
// queue so buffered verdicts still land.
func (s *services) Stop() {
	s.Router.Stop()
	s.Pool.Stop()
	s.Reviews.Stop()
}
