package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/sitestock/sitestock/internal/app"
	jobmetrics "github.com/sitestock/sitestock/internal/jobs"
	"github.com/sitestock/sitestock/internal/ledger"
	"github.com/sitestock/sitestock/internal/platform/cache"
	"github.com/sitestock/sitestock/internal/platform/db"
	"github.com/sitestock/sitestock/internal/shared"
	"github.com/sitestock/sitestock/jobs"
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

	redisOpt, err := cache.AsynqOpt(cfg.RedisAddr)
	if err != nil {
		logger.Error("asynq options", slog.Any("error", err))
		os.Exit(1)
	}

	store, err := ledger.Open(ctx, ledger.Config{
		Backend:         cfg.Ledger.Backend,
		SpreadsheetID:   cfg.Ledger.SpreadsheetID,
		CredentialsFile: cfg.Ledger.CredentialsFile,
		WorkbookPath:    cfg.Ledger.WorkbookPath,
		RatePerSecond:   cfg.Ledger.RatePerSecond,
	}, logger)
	if err != nil {
		logger.Error("open ledger", slog.Any("error", err))
		os.Exit(1)
	}

	metrics := jobmetrics.NewMetrics(nil)
	sortJob := jobs.NewSortJob(store, cfg.Ledger.Backend, logger, metrics)

	handlers := []jobs.TaskHandler{
		{Type: jobs.TaskLedgerSort, Handler: sortJob.Handle},
	}
	var cron []jobs.CronRegistration

	if cfg.PGDSN != "" {
		pool, err := db.New(ctx, cfg.PGDSN)
		if err != nil {
			logger.Error("connect database", slog.Any("error", err))
			os.Exit(1)
		}
		defer pool.Close()
		if err := db.EnsureSchema(ctx, pool); err != nil {
			logger.Error("ensure schema", slog.Any("error", err))
			os.Exit(1)
		}
		cleanup := &jobs.CleanupJob{
			Store:   shared.NewIdempotencyStore(pool),
			Logger:  logger,
			Metrics: metrics,
		}
		handlers = append(handlers, jobs.TaskHandler{Type: jobs.TaskIdempotencyCleanup, Handler: cleanup.Handle})
		cron = append(cron, jobs.CronRegistration{
			Spec:    "20 3 * * *",
			Task:    jobs.NewCleanupTask(),
			Options: []asynq.Option{asynq.MaxRetry(1)},
		})
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: redisOpt,
		Logger:    logger,
		Handlers:  handlers,
		Cron:      cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("starting worker", slog.String("ledger", cfg.Ledger.Backend), slog.Int("cron_entries", len(cron)))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
