package ledger

import (
	"context"
	"fmt"
	"log/slog"
)

// Backends accepted by Open.
const (
	BackendSheets   = "sheets"
	BackendWorkbook = "workbook"
)

// Config selects and configures a Store.
type Config struct {
	Backend         string
	SpreadsheetID   string
	CredentialsFile string
	WorkbookPath    string
	RatePerSecond   float64
}

// Open builds the configured Store.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (Store, error) {
	switch cfg.Backend {
	case BackendSheets, "":
		return NewSheetsStore(ctx, SheetsConfig{
			SpreadsheetID:   cfg.SpreadsheetID,
			CredentialsFile: cfg.CredentialsFile,
			RatePerSecond:   cfg.RatePerSecond,
			Logger:          logger,
		})
	case BackendWorkbook:
		if cfg.WorkbookPath == "" {
			return nil, fmt.Errorf("ledger: workbook path is required")
		}
		return NewWorkbookStore(cfg.WorkbookPath), nil
	default:
		return nil, fmt.Errorf("ledger: unknown backend %q", cfg.Backend)
	}
}
