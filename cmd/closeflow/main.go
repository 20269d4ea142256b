package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/closeflow/internal/app"
	"github.com/odyssey-erp/closeflow/internal/backend"
	"github.com/odyssey-erp/closeflow/internal/files"
	"github.com/odyssey-erp/closeflow/internal/observability"
	"github.com/odyssey-erp/closeflow/internal/platform/cache"
	"github.com/odyssey-erp/closeflow/internal/platform/db"
	"github.com/odyssey-erp/closeflow/internal/prefs"
	"github.com/odyssey-erp/closeflow/internal/readiness"
	"github.com/odyssey-erp/closeflow/internal/statement"
	"github.com/odyssey-erp/closeflow/internal/upload"
	"github.com/odyssey-erp/closeflow/internal/wizard"
	wizardhttp "github.com/odyssey-erp/closeflow/internal/wizard/http"
	"github.com/odyssey-erp/closeflow/jobs"
)

func main() {
	_ = godotenv.Load()

	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping server startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	redisClient, err := cache.New(ctx, cfg.Redis())
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	store, closeStore, err := openPrefs(ctx, cfg, redisClient)
	if err != nil {
		logger.Error("open prefs store", slog.Any("error", err), slog.String("driver", cfg.PrefsDriver))
		os.Exit(1)
	}
	defer closeStore()

	metrics := observability.NewMetrics()
	catalog := statement.DefaultCatalog()

	client := backend.NewClient(cfg.BackendURL, cfg.BackendTimeout,
		backend.WithStatementCategories(catalog.Keys()...),
		backend.WithLogger(logger),
	)

	var enqueuer statement.Enqueuer
	if cfg.AsyncGeneration {
		jobClient, err := jobs.NewClient(cfg.QueueRedis())
		if err != nil {
			logger.Error("init job client", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			if err := jobClient.Close(); err != nil {
				logger.Warn("job client close", slog.Any("error", err))
			}
		}()
		enqueuer = jobClient
	}
	generator := statement.NewGenerator(catalog, client, enqueuer, metrics, logger)

	manager := wizard.NewManager(client, store, cfg.ReportingCurrencies,
		wizard.WithLogger(logger),
		wizard.WithReadiness(generator.CheckReadiness,
			readiness.WithIntervals(cfg.ReadinessInterval, time.Second),
			readiness.WithObserver(metrics),
			readiness.WithLogger(logger),
		),
	)
	defer manager.Close()

	wizardHandler := wizardhttp.NewHandler(wizardhttp.Deps{
		Logger:        logger,
		Workspaces:    manager,
		Files:         files.NewRegistry(client, catalog.Keys(), metrics, logger),
		Confirmations: files.NewTokenStore(redisClient, cfg.DeleteTokenTTL),
		Uploads:       upload.NewValidator(cfg.MaxUploadBytes),
		Generator:     generator,
		Backend:       client,
		Streams:       metrics,
		AsyncDefault:  cfg.AsyncGeneration,
	})

	inspector := asynq.NewInspector(cfg.QueueRedis())
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("asynq inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:        logger,
		Config:        cfg,
		WizardHandler: wizardHandler,
		JobHandler:    jobs.NewHandler(inspector, logger),
		Metrics:       metrics,
		Backend:       client,
	})

	go evictIdle(ctx, manager, cfg.WorkspaceIdle, logger)

	server := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           router,
		ReadTimeout:       cfg.AppReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("server listening", slog.String("addr", cfg.AppAddr), slog.String("backend", cfg.BackendURL))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
	}
	logger.Info("server stopped")
}

// openPrefs builds the preference store selected by PREFS_DRIVER.
func openPrefs(ctx context.Context, cfg *app.Config, redisClient *redis.Client) (prefs.Store, func(), error) {
	switch cfg.PrefsDriver {
	case app.PrefsMemory:
		return prefs.NewMemoryStore(), func() {}, nil
	case app.PrefsPostgres:
		pool, err := db.New(ctx, cfg.Postgres())
		if err != nil {
			return nil, nil, err
		}
		store := prefs.NewPostgresStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, pool.Close, nil
	default:
		return prefs.NewRedisStore(redisClient, "", cfg.PrefsTTL), func() {}, nil
	}
}

func evictIdle(ctx context.Context, manager *wizard.Manager, idle time.Duration, logger *slog.Logger) {
	if idle <= 0 {
		return
	}
	interval := idle / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := manager.Evict(idle); n > 0 {
				logger.Info("evicted idle workspaces", slog.Int("count", n), slog.Int("live", manager.Len()))
			}
		}
	}
}
