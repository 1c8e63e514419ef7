// Package ledger persists shipments to an append-only, per-object spreadsheet log.
// Each destination object owns one tab whose first row is Header.
package ledger

import (
	"context"
	"errors"

	"github.com/sitestock/sitestock/internal/staging"
)

// Header is the fixed first row of every destination tab.
var Header = []string{"Date", "Name", "Quantity", "Unit", "Price", "Total", "Category"}

var (
	// ErrPersistenceFailed wraps the final error of a delivery that exhausted its retries.
	ErrPersistenceFailed = errors.New("ledger: persistence failed")
	// ErrInvalidTabName is returned when an object name cannot be used as a tab title.
	ErrInvalidTabName = errors.New("ledger: invalid tab name")
)

// Sheet identifies a destination tab returned by Store.Ensure.
type Sheet struct {
	Name string
	ID   int64
}

// Store is the persistence collaborator.
type Store interface {
	// ListObjects returns the titles of all existing destination tabs.
	ListObjects(ctx context.Context) ([]string, error)
	// Ensure returns the tab for name, creating it with Header when missing.
	Ensure(ctx context.Context, name string) (Sheet, error)
	// Append adds rows below the last used row of sheet.
	Append(ctx context.Context, sheet Sheet, rows [][]any) error
	// SortByDate orders the data rows of the named tab by their date column.
	SortByDate(ctx context.Context, name string) error
}

// ShipmentRow renders one shipment as the seven Header cells.
func ShipmentRow(s staging.Shipment) []any {
	return []any{
		s.DocumentDate,
		s.Name,
		s.Quantity.InexactFloat64(),
		s.Unit,
		s.UnitPrice.InexactFloat64(),
		s.Total.InexactFloat64(),
		string(s.Category),
	}
}

// ShipmentRows renders shipments in order.
func ShipmentRows(shipments []staging.Shipment) [][]any {
	rows := make([][]any, 0, len(shipments))
	for _, s := range shipments {
		rows = append(rows, ShipmentRow(s))
	}
	return rows
}

func headerRow() []any {
	out := make([]any, len(Header))
	for i, h := range Header {
		out[i] = h
	}
	return out
}
