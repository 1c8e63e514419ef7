package ledger

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/sitestock/sitestock/internal/staging"
)

func TestShipmentRowUsesShippedTotal(t *testing.T) {
	s := shipment("14.03.2026", "Цемент", 4, 500)
	s.Quantity = decimal.RequireFromString("2.5")
	s.Total = s.UnitPrice.Mul(s.Quantity)

	row := ShipmentRow(s)
	require.Len(t, row, len(Header))
	require.Equal(t, 2.5, row[2])
	require.Equal(t, 1250.0, row[5])
	require.Len(t, ShipmentRows([]staging.Shipment{s, s}), 2)
}

func TestOpenBackends(t *testing.T) {
	store, err := Open(context.Background(), Config{Backend: BackendWorkbook, WorkbookPath: filepath.Join(t.TempDir(), "x.xlsx")}, nil)
	require.NoError(t, err)
	require.IsType(t, &WorkbookStore{}, store)

	_, err = Open(context.Background(), Config{Backend: "ftp"}, nil)
	require.Error(t, err)
}
