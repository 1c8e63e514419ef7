package staging

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sitestock/sitestock/internal/catalog"
	"github.com/sitestock/sitestock/internal/extraction"
)

var newRowID = uuid.NewString

// Reconcile validates a distribution request against the table and returns the
// shipments to persist together with the table of remainders. It never mutates table.
//
// The call is all-or-nothing: every selected row is evaluated, and if any of them
// fails validation the input table is returned unchanged with the joined errors.
// Rows whose requested quantity is not positive are skipped without error.
func Reconcile(table Table, selections Selections, destination string) (Result, error) {
	destination = strings.TrimSpace(destination)
	if destination == "" {
		return Result{Table: table}, ErrDestinationRequired
	}
	if len(selections) == 0 {
		return Result{Table: table}, ErrNothingSelected
	}

	var errs []error
	for _, id := range sortedKeys(selections) {
		if _, ok := table.Row(id); !ok {
			errs = append(errs, fmt.Errorf("%w: %s", ErrUnknownRow, id))
		}
	}

	next := Table{ID: table.ID, Revision: table.Revision, CreatedAt: table.CreatedAt, Rows: make([]LineItem, 0, len(table.Rows))}
	var shipments []Shipment
	for _, row := range table.Rows {
		requested, ok := selections[row.ID]
		if !ok {
			next.Rows = append(next.Rows, row)
			continue
		}
		send := row.Quantity
		if requested.Valid {
			send = requested.Decimal
		}
		if send.GreaterThan(row.Quantity) {
			errs = append(errs, &OverShipmentError{RowID: row.ID, Name: row.Name, Requested: send, Remaining: row.Quantity})
			continue
		}
		if !send.IsPositive() {
			next.Rows = append(next.Rows, row)
			continue
		}
		shipments = append(shipments, Shipment{
			Object:       destination,
			RowID:        row.ID,
			DocumentDate: row.DocumentDate,
			Name:         row.Name,
			Quantity:     send,
			Unit:         row.Unit,
			UnitPrice:    row.UnitPrice,
			Total:        row.UnitPrice.Mul(send),
			Category:     row.Category,
		})
		remainder := row.Quantity.Sub(send)
		if remainder.LessThanOrEqual(Epsilon) {
			continue
		}
		row.Quantity = remainder
		row.Selected = false
		next.Rows = append(next.Rows, row)
	}
	if len(errs) > 0 {
		return Result{Table: table}, errors.Join(errs...)
	}
	return Result{Shipments: shipments, Table: next}, nil
}

// PlanSelections turns the table's selected flags into reconcile selections.
// A single selected row ships sendQty (or everything when sendQty is not set);
// several selected rows always ship their full remaining quantities.
func PlanSelections(table Table, sendQty decimal.NullDecimal) (Selections, error) {
	selected := table.Selected()
	switch len(selected) {
	case 0:
		return nil, ErrNothingSelected
	case 1:
		return Selections{selected[0].ID: sendQty}, nil
	}
	out := make(Selections, len(selected))
	for _, row := range selected {
		out[row.ID] = decimal.NullDecimal{}
	}
	return out, nil
}

// Duplicate appends a copy of each listed row to the end of the table, in table order.
// Copies keep the full quantity; the user is expected to reduce one of them.
func Duplicate(table Table, ids []string) (Table, error) {
	want, err := idSet(table, ids)
	if err != nil {
		return table, err
	}
	next := table.clone()
	for _, row := range table.Rows {
		if _, ok := want[row.ID]; !ok {
			continue
		}
		dup := row
		dup.ID = newRowID()
		dup.Selected = false
		next.Rows = append(next.Rows, dup)
	}
	return next, nil
}

// RemoveRows drops the listed rows.
func RemoveRows(table Table, ids []string) (Table, error) {
	drop, err := idSet(table, ids)
	if err != nil {
		return table, err
	}
	next := Table{ID: table.ID, Revision: table.Revision, CreatedAt: table.CreatedAt, Rows: make([]LineItem, 0, len(table.Rows))}
	for _, row := range table.Rows {
		if _, ok := drop[row.ID]; ok {
			continue
		}
		next.Rows = append(next.Rows, row)
	}
	return next, nil
}

// ApplyEdits applies grid edits. Rows not mentioned are left untouched and rows
// edited down to zero quantity are removed.
func ApplyEdits(table Table, edits []RowEdit) (Table, error) {
	byID := make(map[string]RowEdit, len(edits))
	var errs []error
	for _, edit := range edits {
		if _, ok := table.Row(edit.ID); !ok {
			errs = append(errs, fmt.Errorf("%w: %s", ErrUnknownRow, edit.ID))
			continue
		}
		if err := validateEdit(edit); err != nil {
			errs = append(errs, err)
			continue
		}
		byID[edit.ID] = edit
	}
	if len(errs) > 0 {
		return table, errors.Join(errs...)
	}

	next := Table{ID: table.ID, Revision: table.Revision, CreatedAt: table.CreatedAt, Rows: make([]LineItem, 0, len(table.Rows))}
	for _, row := range table.Rows {
		if edit, ok := byID[row.ID]; ok {
			row.Name = strings.TrimSpace(edit.Name)
			row.Quantity = edit.Quantity
			row.Unit = strings.TrimSpace(edit.Unit)
			row.Category = edit.Category
			row.DocumentDate = strings.TrimSpace(edit.DocumentDate)
			row.Selected = edit.Selected
		}
		if row.Quantity.IsZero() {
			continue
		}
		next.Rows = append(next.Rows, row)
	}
	return next, nil
}

// AddRow appends a manually entered row. Its unit price is fixed from now on.
func AddRow(table Table, item LineItem) (Table, LineItem, error) {
	item.Name = strings.TrimSpace(item.Name)
	item.Unit = strings.TrimSpace(item.Unit)
	item.DocumentDate = strings.TrimSpace(item.DocumentDate)
	if err := validateEdit(RowEdit{Name: item.Name, Quantity: item.Quantity, Category: item.Category, DocumentDate: item.DocumentDate}); err != nil {
		return table, LineItem{}, err
	}
	if item.UnitPrice.IsNegative() {
		return table, LineItem{}, ErrInvalidPrice
	}
	if !item.Quantity.IsPositive() {
		return table, LineItem{}, fmt.Errorf("%w: new rows need a positive quantity", ErrNegativeQuantity)
	}
	item.ID = newRowID()
	next := table.clone()
	next.Rows = append(next.Rows, item)
	return next, item, nil
}

// BuildTable turns an extraction result into a fresh staging table: service rows are
// dropped, categories and units normalised and zero-quantity rows discarded.
func BuildTable(res extraction.Result, cat *catalog.Catalog, now time.Time) (Table, error) {
	items := catalog.FilterServiceRows(cat, res.Items, func(it extraction.Item) string { return it.Name })
	table := Table{ID: uuid.NewString(), CreatedAt: now.UTC(), Rows: make([]LineItem, 0, len(items))}
	for _, it := range items {
		if !it.Quantity.IsPositive() {
			continue
		}
		table.Rows = append(table.Rows, LineItem{
			ID:           newRowID(),
			Name:         strings.TrimSpace(it.Name),
			Quantity:     it.Quantity,
			Unit:         cat.NormalizeUnit(it.Unit),
			UnitPrice:    unitPrice(it),
			Category:     cat.NormalizeCategory(it.Category),
			DocumentDate: res.InvoiceDate,
		})
	}
	if table.Empty() {
		return Table{}, ErrEmptyExtraction
	}
	return table, nil
}

// unitPrice falls back to total / quantity when the model did not report a price.
func unitPrice(it extraction.Item) decimal.Decimal {
	if it.Price.IsPositive() || !it.Total.IsPositive() || !it.Quantity.IsPositive() {
		return it.Price
	}
	return it.Total.DivRound(it.Quantity, 4)
}

func validateEdit(edit RowEdit) error {
	if strings.TrimSpace(edit.Name) == "" {
		return ErrNameRequired
	}
	if edit.Quantity.IsNegative() {
		return fmt.Errorf("%w: %q", ErrNegativeQuantity, edit.Name)
	}
	if !edit.Category.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidCategory, edit.Category)
	}
	if !ValidDocumentDate(strings.TrimSpace(edit.DocumentDate)) {
		return fmt.Errorf("%w: %q", ErrInvalidDate, edit.DocumentDate)
	}
	return nil
}

func idSet(table Table, ids []string) (map[string]struct{}, error) {
	set := make(map[string]struct{}, len(ids))
	var errs []error
	for _, id := range ids {
		if _, ok := table.Row(id); !ok {
			errs = append(errs, fmt.Errorf("%w: %s", ErrUnknownRow, id))
			continue
		}
		set[id] = struct{}{}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return set, nil
}

func sortedKeys(s Selections) []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
