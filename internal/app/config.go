package app

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds runtime configuration for the application.
type Config struct {
	AppEnv            string        `envconfig:"APP_ENV" default:"development"`
	AppAddr           string        `envconfig:"APP_ADDR" default:":8080"`
	AppReadTimeout    time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s"`
	AppWriteTimeout   time.Duration `envconfig:"APP_WRITE_TIMEOUT" default:"150s"`
	AppRequestTimeout time.Duration `envconfig:"APP_REQUEST_TIMEOUT" default:"120s"`
	AppPasswordHash   string        `envconfig:"APP_PASSWORD_HASH"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty"`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr     string        `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379"`
	SessionSecret string        `envconfig:"SESSION_SECRET" required:"true"`
	SessionTTL    time.Duration `envconfig:"SESSION_TTL" default:"72h"`

	CSRFSecret string `envconfig:"CSRF_SECRET" required:"true"`

	CatalogFile string `envconfig:"CATALOG_FILE"`

	Extract ExtractConfig
	Ledger  LedgerConfig
}

// ExtractConfig configures the hosted invoice model.
type ExtractConfig struct {
	APIKey       string        `envconfig:"EXTRACT_API_KEY"`
	BaseURL      string        `envconfig:"EXTRACT_BASE_URL" default:"https://generativelanguage.googleapis.com"`
	Model        string        `envconfig:"EXTRACT_MODEL"`
	PollInterval time.Duration `envconfig:"EXTRACT_POLL_INTERVAL" default:"1s"`
	PollTimeout  time.Duration `envconfig:"EXTRACT_POLL_TIMEOUT" default:"60s"`
	MaxUpload    int64         `envconfig:"EXTRACT_MAX_UPLOAD" default:"10485760"`
	MaxDimension int           `envconfig:"EXTRACT_MAX_DIMENSION" default:"2048"`
}

// LedgerConfig configures where shipments are written.
type LedgerConfig struct {
	Backend         string        `envconfig:"LEDGER_BACKEND" default:"sheets"`
	SpreadsheetID   string        `envconfig:"LEDGER_SPREADSHEET_ID"`
	CredentialsFile string        `envconfig:"LEDGER_CREDENTIALS_FILE" default:"service_account.json"`
	WorkbookPath    string        `envconfig:"LEDGER_WORKBOOK_PATH" default:"materials.xlsx"`
	RetryAttempts   int           `envconfig:"LEDGER_RETRY_ATTEMPTS" default:"3"`
	RetryBackoff    time.Duration `envconfig:"LEDGER_RETRY_BACKOFF" default:"500ms"`
	RatePerSecond   float64       `envconfig:"LEDGER_RATE_PER_SECOND" default:"1"`
	SortAfterAppend bool          `envconfig:"LEDGER_SORT_AFTER_APPEND" default:"true"`
}

// LoadConfig reads configuration from a .env file, when present, and the environment.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if cfg.SessionSecret == "" {
		return nil, errors.New("session secret must be provided")
	}
	if cfg.CSRFSecret == "" {
		return nil, errors.New("csrf secret must be provided")
	}
	if cfg.Ledger.RetryAttempts < 1 {
		return nil, errors.New("LEDGER_RETRY_ATTEMPTS must be at least 1")
	}
	switch cfg.Ledger.Backend {
	case "sheets":
		if cfg.Ledger.SpreadsheetID == "" {
			return nil, errors.New("LEDGER_SPREADSHEET_ID is required for the sheets backend")
		}
	case "workbook":
	default:
		return nil, fmt.Errorf("unknown LEDGER_BACKEND %q", cfg.Ledger.Backend)
	}
	return &cfg, nil
}

// RequireExtraction fails when the server cannot reach the invoice model.
func (c *Config) RequireExtraction() error {
	if c == nil || c.Extract.APIKey == "" {
		return errors.New("EXTRACT_API_KEY must be provided")
	}
	return nil
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}
