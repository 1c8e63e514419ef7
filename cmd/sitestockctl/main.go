package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/sitestock/sitestock/cmd/sitestockctl/cli"
	"github.com/sitestock/sitestock/internal/app"
	"github.com/sitestock/sitestock/internal/catalog"
	"github.com/sitestock/sitestock/internal/extraction"
	"github.com/sitestock/sitestock/internal/ledger"
	"github.com/sitestock/sitestock/internal/platform/cache"
	"github.com/sitestock/sitestock/jobs"
)

type ctlBackend struct {
	store     ledger.Store
	catalog   *catalog.Catalog
	extractor *extraction.Client
	jobs      *jobs.Client
	inspector *asynq.Inspector
}

func (r *ctlBackend) ListObjects(ctx context.Context) ([]string, error) {
	return r.store.ListObjects(ctx)
}

func (r *ctlBackend) Extract(ctx context.Context, image []byte) (extraction.Result, error) {
	if r.extractor == nil {
		return extraction.Result{}, errors.New("EXTRACT_API_KEY must be provided")
	}
	return r.extractor.Extract(ctx, image)
}

func (r *ctlBackend) EnqueueSort(ctx context.Context, object string) error {
	return r.jobs.EnqueueSort(ctx, object)
}

func (r *ctlBackend) QueueStats(context.Context) (jobs.QueueHealth, error) {
	return jobs.InspectQueue(r.inspector)
}

func (r *ctlBackend) Catalog() *catalog.Catalog {
	return r.catalog
}

func (r *ctlBackend) Close() error {
	return errors.Join(r.jobs.Close(), r.inspector.Close())
}

func open(ctx context.Context) (cli.Backend, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := app.NewLogger(cfg)

	cat, err := catalog.Load(cfg.CatalogFile)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	store, err := ledger.Open(ctx, ledger.Config{
		Backend:         cfg.Ledger.Backend,
		SpreadsheetID:   cfg.Ledger.SpreadsheetID,
		CredentialsFile: cfg.Ledger.CredentialsFile,
		WorkbookPath:    cfg.Ledger.WorkbookPath,
		RatePerSecond:   cfg.Ledger.RatePerSecond,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	var extractor *extraction.Client
	if cfg.RequireExtraction() == nil {
		extractor, err = extraction.NewClient(extraction.Config{
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
			return nil, err
		}
	}

	redisOpt, err := cache.AsynqOpt(cfg.RedisAddr)
	if err != nil {
		return nil, err
	}
	return &ctlBackend{
		store:     store,
		catalog:   cat,
		extractor: extractor,
		jobs:      jobs.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
	}, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCommand(open).ExecuteContext(ctx); err != nil {
		slog.Default().Error("sitestockctl", slog.Any("error", err))
		os.Exit(1)
	}
}
