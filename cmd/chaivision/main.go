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

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"

	chaicli "github.com/chai-vision/chai-vision/cmd/chaivision/cli"
	"github.com/chai-vision/chai-vision/internal/app"
	"github.com/chai-vision/chai-vision/internal/dashboard"
	dashboardhttp "github.com/chai-vision/chai-vision/internal/dashboard/http"
	"github.com/chai-vision/chai-vision/internal/ingest"
	"github.com/chai-vision/chai-vision/internal/kpi"
	"github.com/chai-vision/chai-vision/internal/observability"
	"github.com/chai-vision/chai-vision/internal/periods"
	"github.com/chai-vision/chai-vision/internal/platform/cache"
	"github.com/chai-vision/chai-vision/internal/platform/db"
	"github.com/chai-vision/chai-vision/internal/rbac"
	"github.com/chai-vision/chai-vision/internal/sales"
	"github.com/chai-vision/chai-vision/internal/targets"
	"github.com/chai-vision/chai-vision/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	if err := newApp(cfg, logger).RunContext(ctx, os.Args); err != nil {
		logger.Error("chaivision", slog.Any("error", err))
		os.Exit(1)
	}
}

func newApp(cfg *app.Config, logger *slog.Logger) *cli.App {
	return &cli.App{
		Name:  "chaivision",
		Usage: "Revenue KPI dashboard backend",
		Action: func(c *cli.Context) error {
			if c.Args().Present() {
				return fmt.Errorf("unknown command %q", c.Args().First())
			}
			return serve(c.Context, cfg, logger)
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Run the HTTP API",
				Action: func(c *cli.Context) error {
					return serve(c.Context, cfg, logger)
				},
			},
			{
				Name:  "jobs",
				Usage: "Trigger and inspect background jobs",
				Subcommands: []*cli.Command{
					{
						Name:  "trigger",
						Usage: "Enqueue a task",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:    "name",
								Usage:   "Task type to enqueue",
								Value:   jobs.TaskKPIRefresh,
								EnvVars: []string{"JOBS_TASK"},
							},
							&cli.IntFlag{
								Name:    "year",
								Usage:   "Calendar year to refresh (default current)",
								EnvVars: []string{"JOBS_YEAR"},
							},
						},
						Action: runJobs(cfg, "trigger"),
					},
					{
						Name:   "inspect",
						Usage:  "Show queue depth",
						Action: runJobs(cfg, "inspect"),
					},
					{
						Name:  "scheduled",
						Usage: "List scheduled tasks",
						Flags: []cli.Flag{
							&cli.IntFlag{
								Name:  "size",
								Usage: "Page size",
								Value: 10,
							},
						},
						Action: runJobs(cfg, "scheduled"),
					},
				},
			},
			{
				Name:  "targets",
				Usage: "Manage revenue targets",
				Subcommands: []*cli.Command{
					{
						Name:  "import",
						Usage: "Validate and store targets from a YAML file",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:     "file",
								Usage:    "YAML file with a targets list",
								Required: true,
								EnvVars:  []string{"TARGETS_FILE"},
							},
							&cli.Int64Flag{
								Name:    "user",
								Usage:   "User id recorded as updated_by",
								EnvVars: []string{"TARGETS_UPDATED_BY"},
							},
							&cli.BoolFlag{
								Name:  "dry-run",
								Usage: "Validate without storing",
							},
							&cli.BoolFlag{
								Name:  "json",
								Usage: "Print a JSON summary",
							},
						},
						Action: func(c *cli.Context) error {
							return runTargets(c, cfg, logger)
						},
					},
				},
			},
		},
	}
}

// exitCode maps a command's exit status onto urfave/cli, which exits the
// process for non-zero codes.
func exitCode(code int) error {
	if code == 0 {
		return nil
	}
	return cli.Exit("", code)
}

func redisOpt(cfg *app.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
}

func connect(ctx context.Context, cfg *app.Config, logger *slog.Logger) (*pgxpool.Pool, *redis.Client, error) {
	pool, err := db.New(ctx, db.Options{DSN: cfg.PGDSN, MaxConns: cfg.PGMaxConns, ConnectTimeout: 10 * time.Second})
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	redisClient, err := cache.NewRedis(ctx, cache.RedisOptions{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		// Caches fall back to storage reads without Redis.
		logger.Warn("redis unavailable, shared cache disabled", slog.Any("error", err))
		redisClient = nil
	}
	return pool, redisClient, nil
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	pool, redisClient, err := connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer pool.Close()
	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	metrics := observability.NewMetrics()

	salesRepo := sales.NewRepository(pool)
	salesService := sales.NewService(
		salesRepo,
		sales.NewRemoteCache(redisClient, cfg.CacheTTL),
		cache.NewTTL[sales.Dataset](cfg.LocalCacheTTL, 64),
		logger,
	)
	targetsService := targets.NewService(
		targets.NewRepository(pool),
		cache.NewVersioned(redisClient, targets.CacheNamespace, cfg.CacheTTL),
		logger,
	).WithTolerance(cfg.TargetTolerance)

	rbacService := rbac.NewService(rbac.NewRepository(pool))
	rbacMiddleware := rbac.Middleware{Service: rbacService, Logger: logger}

	engine := kpi.NewEngine(periods.NewWindow()).WithRunRateDays(cfg.RunRateWindowDays)
	dashboardService := dashboard.NewService(salesService, targetsService, rbacService, dashboard.Options{
		Engine:  engine,
		MemoTTL: cfg.LocalCacheTTL,
		Logger:  logger,
		Metrics: metrics,
	})
	ingestService := ingest.NewService(salesRepo, salesService, cfg.IngestMaxBytes, logger, metrics)

	jobClient := jobs.NewClient(redisOpt(cfg))
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpt(cfg))
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	if redisClient != nil {
		go func() {
			if err := salesService.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("sales cache watcher stopped", slog.Any("error", err))
			}
		}()
	}

	readiness := map[string]app.ReadinessCheck{"postgres": pool.Ping}
	if redisClient != nil {
		readiness["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		Metrics:        metrics,
		RBACMiddleware: rbacMiddleware,
		KPIHandler:     dashboardhttp.NewHandler(logger, dashboardService, rbacMiddleware.RequireAny),
		UploadHandler:  ingest.NewHandler(logger, ingestService, salesService, rbacMiddleware.RequireAll),
		TargetsHandler: targets.NewHandler(logger, targetsService, rbacMiddleware.RequireAny),
		AccessHandler:  rbac.NewAccessHandler(logger, rbacService),
		JobHandler:     jobs.NewHandler(inspector, jobClient, rbacMiddleware.RequireAny, logger),
		Readiness:      readiness,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

func runJobs(cfg *app.Config, action string) cli.ActionFunc {
	return func(c *cli.Context) error {
		jobsCLI := chaicli.NewJobsCLI(redisOpt(cfg))
		defer jobsCLI.Close()
		return exitCode(jobsCLI.RunCommand(c.Context, chaicli.JobsOptions{
			Action: action,
			Name:   c.String("name"),
			Year:   c.Int("year"),
			Size:   c.Int("size"),
		}))
	}
}

func runTargets(c *cli.Context, cfg *app.Config, logger *slog.Logger) error {
	ctx := c.Context
	opts := chaicli.TargetsImportOptions{
		Path:       c.String("file"),
		UpdatedBy:  c.Int64("user"),
		DryRun:     c.Bool("dry-run"),
		JSONOutput: c.Bool("json"),
	}
	if opts.DryRun {
		return exitCode(chaicli.NewTargetsCLI(nil, cfg.TargetTolerance).ImportCommand(ctx, opts))
	}

	pool, redisClient, err := connect(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("targets import: %w", err)
	}
	defer pool.Close()
	if redisClient != nil {
		defer redisClient.Close()
	}
	service := targets.NewService(
		targets.NewRepository(pool),
		cache.NewVersioned(redisClient, targets.CacheNamespace, cfg.CacheTTL),
		logger,
	).WithTolerance(cfg.TargetTolerance)
	return exitCode(chaicli.NewTargetsCLI(service, cfg.TargetTolerance).ImportCommand(ctx, opts))
}
