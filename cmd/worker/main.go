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

	"github.com/chai-vision/chai-vision/internal/app"
	jobmetrics "github.com/chai-vision/chai-vision/internal/jobs"
	"github.com/chai-vision/chai-vision/internal/observability"
	"github.com/chai-vision/chai-vision/internal/platform/cache"
	"github.com/chai-vision/chai-vision/internal/platform/db"
	"github.com/chai-vision/chai-vision/internal/sales"
	"github.com/chai-vision/chai-vision/internal/targets"
	"github.com/chai-vision/chai-vision/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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

	pool, err := db.New(ctx, db.Options{DSN: cfg.PGDSN, MaxConns: cfg.PGMaxConns, ConnectTimeout: 10 * time.Second})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	// The worker exists to drive the shared cache, so Redis is mandatory here.
	redisClient, err := cache.NewRedis(ctx, cache.RedisOptions{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	salesService := sales.NewService(
		sales.NewRepository(pool),
		sales.NewRemoteCache(redisClient, cfg.CacheTTL),
		cache.NewTTL[sales.Dataset](cfg.LocalCacheTTL, 16),
		logger,
	)
	targetsService := targets.NewService(
		targets.NewRepository(pool),
		cache.NewVersioned(redisClient, targets.CacheNamespace, cfg.CacheTTL),
		logger,
	)

	metrics := observability.NewMetrics()
	metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("worker metrics server", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	refreshJob := jobs.NewKPIRefreshJob(salesService, targetsService, logger, jobmetrics.NewMetrics(metrics.Registerer()))
	refreshTask, err := jobs.NewKPIRefreshTask(jobs.KPIRefreshPayload{Reason: "scheduled"})
	if err != nil {
		logger.Error("build refresh task", slog.Any("error", err))
		os.Exit(1)
	}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: redisOpts,
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskKPIRefresh, Handler: refreshJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.RefreshCron, Task: refreshTask, Options: []asynq.Option{asynq.MaxRetry(3), asynq.Unique(time.Minute)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("starting worker", slog.String("refresh_cron", cfg.RefreshCron), slog.String("metrics_addr", cfg.WorkerMetricsAddr))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
