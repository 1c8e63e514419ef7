package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("SESSION_SECRET", "s")
	t.Setenv("CSRF_SECRET", "c")
	t.Setenv("LEDGER_BACKEND", "workbook")
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequired(t)
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.AppAddr)
	assert.Equal(t, 72*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 150*time.Second, cfg.AppWriteTimeout)
	assert.Equal(t, int64(10<<20), cfg.Extract.MaxUpload)
	assert.Equal(t, 60*time.Second, cfg.Extract.PollTimeout)
	assert.Equal(t, 3, cfg.Ledger.RetryAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Ledger.RetryBackoff)
	assert.True(t, cfg.Ledger.SortAfterAppend)
	assert.False(t, cfg.IsProduction())
	assert.Error(t, cfg.RequireExtraction())
}

func TestLoadConfigRequiresSecrets(t *testing.T) {
	t.Setenv("SESSION_SECRET", "")
	t.Setenv("CSRF_SECRET", "")
	_, err := LoadConfig()
	require.Error(t, err)
}

func TestLoadConfigLedgerBackend(t *testing.T) {
	setRequired(t)
	t.Setenv("LEDGER_BACKEND", "sheets")
	_, err := LoadConfig()
	require.ErrorContains(t, err, "LEDGER_SPREADSHEET_ID")

	t.Setenv("LEDGER_SPREADSHEET_ID", "sheet-1")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "sheet-1", cfg.Ledger.SpreadsheetID)

	t.Setenv("LEDGER_BACKEND", "csv")
	_, err = LoadConfig()
	require.Error(t, err)
}

func TestLoadConfigExtraction(t *testing.T) {
	setRequired(t)
	t.Setenv("EXTRACT_API_KEY", "key")
	t.Setenv("EXTRACT_POLL_TIMEOUT", "5s")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.NoError(t, cfg.RequireExtraction())
	assert.Equal(t, 5*time.Second, cfg.Extract.PollTimeout)
}
