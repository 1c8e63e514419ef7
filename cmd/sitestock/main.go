package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/sitestock/sitestock/internal/app"
	"github.com/sitestock/sitestock/internal/auth"
	"github.com/sitestock/sitestock/internal/catalog"
	"github.com/sitestock/sitestock/internal/extraction"
	"github.com/sitestock/sitestock/internal/ledger"
	"github.com/sitestock/sitestock/internal/objects"
	"github.com/sitestock/sitestock/internal/observability"
	"github.com/sitestock/sitestock/internal/platform/cache"
	"github.com/sitestock/sitestock/internal/platform/db"
	"github.com/sitestock/sitestock/internal/shared"
	"github.com/sitestock/sitestock/internal/staging"
	"github.com/sitestock/sitestock/internal/view"
	"github.com/sitestock/sitestock/jobs"
)

var ledgerMessages = []shared.SafeMessage{
	{Err: ledger.ErrInvalidTabName, Message: "This object name cannot be used as a sheet name."},
	{Err: ledger.ErrPersistenceFailed, Message: "The rows could not be saved. Nothing was sent, try again."},
}

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
	if err := cfg.RequireExtraction(); err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, "sitestock_session", cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	templates, err := view.NewEngine()
	if err != nil {
		logger.Error("parse templates", slog.Any("error", err))
		os.Exit(1)
	}

	cat, err := catalog.Load(cfg.CatalogFile)
	if err != nil {
		logger.Error("load catalog", slog.Any("error", err))
		os.Exit(1)
	}

	metrics := observability.NewMetrics()

	extractor, err := extraction.NewClient(extraction.Config{
		APIKey:       cfg.Extract.APIKey,
		BaseURL:      cfg.Extract.BaseURL,
		Model:        cfg.Extract.Model,
		PollInterval: cfg.Extract.PollInterval,
		PollTimeout:  cfg.Extract.PollTimeout,
		MaxDimension: cfg.Extract.MaxDimension,
		Categories:   catalog.Names(),
		Logger:       logger,
	})
	if err != nil {
		logger.Error("init extraction client", slog.Any("error", err))
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
	writer := ledger.NewWriter(store, ledger.WriterConfig{
		Attempts: cfg.Ledger.RetryAttempts,
		Backoff:  cfg.Ledger.RetryBackoff,
		Logger:   logger,
		Metrics:  metrics,
	})
	registry := objects.NewRegistry(writer, cat.SeedObjects(), objects.Config{Logger: logger})

	deps := staging.Dependencies{
		Extractor: extractor,
		Ledger:    writer,
		Tables:    staging.NewRepository(redisClient, cfg.SessionTTL),
		Objects:   registry,
		Catalog:   cat,
		Metrics:   metrics,
		Logger:    logger,
	}

	if cfg.PGDSN != "" {
		pool, err := db.New(ctx, cfg.PGDSN)
		if err != nil {
			logger.Error("connect postgres", slog.Any("error", err))
			os.Exit(1)
		}
		defer pool.Close()
		if err := db.EnsureSchema(ctx, pool); err != nil {
			logger.Error("ensure schema", slog.Any("error", err))
			os.Exit(1)
		}
		deps.Audit = shared.NewAuditLogger(pool)
		deps.Idempotency = shared.NewIdempotencyStore(pool)
	}

	redisOpt, err := cache.AsynqOpt(cfg.RedisAddr)
	if err != nil {
		logger.Error("asynq options", slog.Any("error", err))
		os.Exit(1)
	}
	if cfg.Ledger.SortAfterAppend {
		jobClient := jobs.NewClient(redisOpt)
		defer func() {
			if err := jobClient.Close(); err != nil {
				logger.Warn("job client close", slog.Any("error", err))
			}
		}()
		deps.Scheduler = jobClient
	}
	inspector := asynq.NewInspector(redisOpt)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	authService, err := auth.NewService(cfg.AppPasswordHash)
	if err != nil {
		logger.Error("init auth", slog.Any("error", err))
		os.Exit(1)
	}
	if !authService.Enabled() {
		logger.Warn("APP_PASSWORD_HASH not set, intake page is open to anyone who can reach it")
	}

	stagingService := staging.NewService(deps)
	stagingHandler := staging.NewHandler(logger, stagingService, templates, csrfManager, staging.HandlerConfig{
		MaxUpload: cfg.Extract.MaxUpload,
		Messages:  ledgerMessages,
	})

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		Templates:      templates,
		SessionManager: sessionManager,
		CSRFManager:    csrfManager,
		AuthService:    authService,
		AuthHandler:    auth.NewHandler(logger, authService, templates, sessionManager, csrfManager),
		StagingHandler: stagingHandler,
		JobHandler:     jobs.NewHandler(inspector, logger),
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("ledger", cfg.Ledger.Backend))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
