package staging

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sitestock/sitestock/internal/shared"
)

// DistributedEvent summarises one successful distribution.
type DistributedEvent struct {
	SessionID string
	TableID   string
	Revision  int64
	Object    string
	Rows      int
	Quantity  decimal.Decimal
	Value     decimal.Decimal
	Remaining int
	// Left is the quantity still staged across all rows.
	Left decimal.Decimal
	At   time.Time
}

func newDistributedEvent(sessionID string, before Table, res Result, object string, at time.Time) DistributedEvent {
	ev := DistributedEvent{
		SessionID: sessionID,
		TableID:   before.ID,
		Revision:  before.Revision,
		Object:    object,
		Rows:      len(res.Shipments),
		Quantity:  decimal.Zero,
		Value:     decimal.Zero,
		Remaining: len(res.Table.Rows),
		Left:      res.Table.QuantitySum(),
		At:        at,
	}
	for _, s := range res.Shipments {
		ev.Quantity = ev.Quantity.Add(s.Quantity)
		ev.Value = ev.Value.Add(s.Total)
	}
	return ev
}

// AuditLog renders the event as an audit journal entry.
func (e DistributedEvent) AuditLog() shared.AuditLog {
	return shared.AuditLog{
		Actor:    e.SessionID,
		Action:   "staging:distribute",
		Entity:   "staging_table",
		EntityID: e.TableID + "#" + strconv.FormatInt(e.Revision, 10),
		Meta: map[string]any{
			"object":    e.Object,
			"rows":      e.Rows,
			"quantity":  e.Quantity.String(),
			"value":     e.Value.StringFixed(2),
			"remaining": e.Remaining,
			"left":      e.Left.String(),
		},
		At: e.At,
	}
}
