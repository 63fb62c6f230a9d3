// Package main is the entrypoint for the errhub API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiranshivaraju/errhub/internal/api"
	"github.com/kiranshivaraju/errhub/internal/api/handler"
	mw "github.com/kiranshivaraju/errhub/internal/api/middleware"
	"github.com/kiranshivaraju/errhub/internal/api/response"
	"github.com/kiranshivaraju/errhub/internal/apikey"
	"github.com/kiranshivaraju/errhub/internal/cache"
	"github.com/kiranshivaraju/errhub/internal/config"
	"github.com/kiranshivaraju/errhub/internal/fingerprint"
	"github.com/kiranshivaraju/errhub/internal/ingest"
	"github.com/kiranshivaraju/errhub/internal/metrics"
	"github.com/kiranshivaraju/errhub/internal/notify"
	"github.com/kiranshivaraju/errhub/internal/query"
	"github.com/kiranshivaraju/errhub/internal/store"
	"github.com/kiranshivaraju/errhub/internal/triage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Server.LogLevel,
	}))
	slog.SetDefault(logger)
	slog.Info("config loaded",
		"env", cfg.Server.Env,
		"store_backend", cfg.Database.Backend,
		"fingerprint_mode", cfg.Ingest.FingerprintMode,
		"reopen_policy", cfg.Ingest.ReopenPolicy,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Open the error store
	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	// 3. Connect to Redis
	redisClient, err := cache.NewClient(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis client: %w", err)
	}
	defer redisClient.Close()

	redisCache := cache.NewRedisCache(redisClient)
	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 4. Seed the first admin key
	created, err := apikey.Bootstrap(ctx, st, cfg.Server.BootstrapAdminKey)
	if err != nil {
		return fmt.Errorf("bootstrap admin key: %w", err)
	}
	if created {
		slog.Info("bootstrap admin key created", "name", apikey.BootstrapName)
	}

	// 5. Build services
	fp, err := fingerprint.New(fingerprint.Mode(cfg.Ingest.FingerprintMode), cfg.Ingest.FingerprintMaxLength)
	if err != nil {
		return fmt.Errorf("create fingerprint generator: %w", err)
	}
	ingestSvc := ingest.NewService(st, fp, cfg.Ingest)
	querySvc := query.NewService(st)
	triageSvc := triage.NewService(st)

	dispatcher := notify.NewDispatcher(notify.NewRedisPublisher(redisClient, cfg.Notify.Stream), cfg.Notify.Critical)
	if dispatcher.Enabled() {
		slog.Info("critical signals enabled", "stream", cfg.Notify.Stream)
	}

	metrics.Register(prometheus.DefaultRegisterer)

	// 6. Build router with dependencies
	deps := api.Dependencies{
		Auth:      mw.NewAuth(st),
		RateLimit: mw.NewRateLimit(redisCache, cfg.RateLimit.RequestsPerMinute),

		HealthHandler:  healthHandler(st, redisCache),
		MetricsHandler: promhttp.Handler(),

		IngestHandler:  handler.NewIngestHandler(ingestSvc, dispatcher),
		ListRecords:    handler.NewListRecordsHandler(querySvc),
		GetRecord:      handler.NewGetRecordHandler(querySvc),
		RecordHistory:  handler.NewRecordHistoryHandler(querySvc),
		SummaryHandler: handler.NewSummaryHandler(querySvc),

		AssignHandler:  handler.NewTransitionHandler(triageSvc, store.ActionAssign),
		StartHandler:   handler.NewTransitionHandler(triageSvc, store.ActionStart),
		ResolveHandler: handler.NewTransitionHandler(triageSvc, store.ActionResolve),
		IgnoreHandler:  handler.NewTransitionHandler(triageSvc, store.ActionIgnore),

		CreateKeyHandler: handler.NewCreateKeyHandler(st),
		ListKeysHandler:  handler.NewListKeysHandler(st),
		RevokeKeyHandler: handler.NewRevokeKeyHandler(st),
	}

	router := api.NewRouter(deps)

	// 7. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// openStore builds the configured store backend. The returned func releases it.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	if cfg.Database.Backend == config.BackendMemory {
		slog.Warn("using in-memory store, records are lost on restart")
		return store.NewMemoryStore(), func() {}, nil
	}

	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	slog.Info("database connected")

	if err := store.RunMigrations(cfg.Database.URL, cfg.Server.MigrationsDir); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	return store.NewPostgresStore(pool), pool.Close, nil
}

// healthHandler checks database and cache connectivity.
func healthHandler(s store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["cache"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
