package staging

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sitestock/sitestock/internal/catalog"
)

// DateLayout is the layout of invoice document dates.
const DateLayout = "02.01.2006"

// Epsilon absorbs rounding noise when deciding whether a row is fully distributed.
var Epsilon = decimal.New(1, -3)

// LineItem is one extracted or user-edited invoice row. Quantity is the amount that
// still remains to be distributed.
type LineItem struct {
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	Quantity     decimal.Decimal  `json:"quantity"`
	Unit         string           `json:"unit"`
	UnitPrice    decimal.Decimal  `json:"unit_price"`
	Category     catalog.Category `json:"category"`
	DocumentDate string           `json:"document_date"`
	Selected     bool             `json:"selected"`
}

// Total is the value of the remaining quantity at the purchase price.
func (li LineItem) Total() decimal.Decimal {
	return li.UnitPrice.Mul(li.Quantity)
}

// Table is the staging table produced by one extraction.
type Table struct {
	ID        string     `json:"id"`
	Revision  int64      `json:"revision"`
	CreatedAt time.Time  `json:"created_at"`
	Rows      []LineItem `json:"rows"`
}

// Empty reports whether no rows remain.
func (t Table) Empty() bool {
	return len(t.Rows) == 0
}

// Row returns the row with the given id.
func (t Table) Row(id string) (LineItem, bool) {
	for _, row := range t.Rows {
		if row.ID == id {
			return row, true
		}
	}
	return LineItem{}, false
}

// Selected returns the rows flagged for the next distribution, in table order.
func (t Table) Selected() []LineItem {
	var out []LineItem
	for _, row := range t.Rows {
		if row.Selected {
			out = append(out, row)
		}
	}
	return out
}

// QuantitySum adds the remaining quantities of all rows.
func (t Table) QuantitySum() decimal.Decimal {
	sum := decimal.Zero
	for _, row := range t.Rows {
		sum = sum.Add(row.Quantity)
	}
	return sum
}

func (t Table) clone() Table {
	out := t
	out.Rows = make([]LineItem, len(t.Rows))
	copy(out.Rows, t.Rows)
	return out
}

// Shipment is a quantity of one line item sent to one object.
type Shipment struct {
	Object       string           `json:"object"`
	RowID        string           `json:"row_id"`
	DocumentDate string           `json:"document_date"`
	Name         string           `json:"name"`
	Quantity     decimal.Decimal  `json:"quantity"`
	Unit         string           `json:"unit"`
	UnitPrice    decimal.Decimal  `json:"unit_price"`
	Total        decimal.Decimal  `json:"total"`
	Category     catalog.Category `json:"category"`
}

// Selections maps row ids to the quantity to send. An invalid NullDecimal means the
// full remaining quantity.
type Selections map[string]decimal.NullDecimal

// Result is the outcome of a successful reconcile.
type Result struct {
	Shipments []Shipment
	Table     Table
}

// RowEdit carries the user-editable fields of a row. UnitPrice is not editable.
type RowEdit struct {
	ID           string
	Name         string
	Quantity     decimal.Decimal
	Unit         string
	Category     catalog.Category
	DocumentDate string
	Selected     bool
}

var (
	// ErrOverShipment indicates a requested quantity above the remaining quantity.
	ErrOverShipment = errors.New("staging: requested quantity exceeds remaining quantity")
	// ErrUnknownRow indicates a row id that is not in the table.
	ErrUnknownRow = errors.New("staging: unknown row")
	// ErrDestinationRequired indicates a distribution without a destination object.
	ErrDestinationRequired = errors.New("staging: destination object required")
	// ErrNothingSelected indicates a distribution without selected rows.
	ErrNothingSelected = errors.New("staging: no rows selected")
	// ErrNegativeQuantity indicates an edit that would make a quantity negative.
	ErrNegativeQuantity = errors.New("staging: quantity must be >= 0")
	// ErrNameRequired indicates an empty row name.
	ErrNameRequired = errors.New("staging: name required")
	// ErrInvalidCategory indicates a category outside the closed set.
	ErrInvalidCategory = errors.New("staging: invalid category")
	// ErrInvalidDate indicates a document date not in DD.MM.YYYY form.
	ErrInvalidDate = errors.New("staging: document date must be DD.MM.YYYY")
	// ErrInvalidPrice indicates a negative unit price.
	ErrInvalidPrice = errors.New("staging: unit price must be >= 0")
	// ErrEmptyExtraction indicates nothing usable survived extraction.
	ErrEmptyExtraction = errors.New("staging: no material rows recognised")
	// ErrNoTable indicates the session has no staging table.
	ErrNoTable = errors.New("staging: no staging table")
	// ErrStaleTable indicates the submitted form was built from an older revision.
	ErrStaleTable = errors.New("staging: table changed, reload and retry")
)

// OverShipmentError reports one row whose requested quantity exceeds what remains.
type OverShipmentError struct {
	RowID     string
	Name      string
	Requested decimal.Decimal
	Remaining decimal.Decimal
}

func (e *OverShipmentError) Error() string {
	return fmt.Sprintf("staging: %q: requested %s exceeds remaining %s", e.Name, e.Requested.String(), e.Remaining.String())
}

// Unwrap lets errors.Is match ErrOverShipment.
func (e *OverShipmentError) Unwrap() error {
	return ErrOverShipment
}

// ValidDocumentDate reports whether s is a DD.MM.YYYY date.
func ValidDocumentDate(s string) bool {
	_, err := time.Parse(DateLayout, s)
	return err == nil
}
