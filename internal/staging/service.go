package staging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sitestock/sitestock/internal/catalog"
	"github.com/sitestock/sitestock/internal/extraction"
	"github.com/sitestock/sitestock/internal/observability"
	"github.com/sitestock/sitestock/internal/shared"
)

const idempotencyModule = "staging:distribute"

// Extractor reads an invoice image.
type Extractor interface {
	Extract(ctx context.Context, image []byte) (extraction.Result, error)
}

// LedgerWriter appends shipments to the destination object's log.
type LedgerWriter interface {
	Deliver(ctx context.Context, object string, shipments []Shipment) error
}

// TableRepository stores the staging table of each session.
type TableRepository interface {
	Load(ctx context.Context, sessionID string) (Table, error)
	Save(ctx context.Context, sessionID string, table Table) error
	Delete(ctx context.Context, sessionID string) error
}

// ObjectRegistry knows the destination object names.
type ObjectRegistry interface {
	Names(ctx context.Context) []string
	Add(name string) (string, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort claims and releases submission keys.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// SortScheduler queues re-sorting of a destination tab.
type SortScheduler interface {
	EnqueueSort(ctx context.Context, object string) error
}

// MetricsPort records intake counters.
type MetricsPort interface {
	ObserveExtraction(result string)
	AddShipments(n int)
}

// Dependencies groups the service collaborators. Audit, Idempotency, Scheduler and
// Metrics are optional.
type Dependencies struct {
	Extractor   Extractor
	Ledger      LedgerWriter
	Tables      TableRepository
	Objects     ObjectRegistry
	Catalog     *catalog.Catalog
	Audit       AuditPort
	Idempotency IdempotencyPort
	Scheduler   SortScheduler
	Metrics     MetricsPort
	Logger      *slog.Logger
	Now         func() time.Time
}

// Service coordinates staging operations for one session at a time.
type Service struct {
	deps Dependencies
}

// NewService builds Service.
func NewService(deps Dependencies) *Service {
	if deps.Catalog == nil {
		deps.Catalog = catalog.Default()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Service{deps: deps}
}

// Recognize extracts an invoice and replaces the session's table with the result.
// On failure the previous table is kept and nothing from the batch is stored.
func (s *Service) Recognize(ctx context.Context, sessionID string, image []byte) (Table, error) {
	res, err := s.deps.Extractor.Extract(ctx, image)
	if err != nil {
		s.observeExtraction(err)
		return Table{}, err
	}
	table, err := BuildTable(res, s.deps.Catalog, s.deps.Now())
	if err != nil {
		s.observeExtraction(err)
		return Table{}, err
	}
	table.Revision = 1
	if err := s.deps.Tables.Save(ctx, sessionID, table); err != nil {
		return Table{}, err
	}
	s.observeExtraction(nil)
	s.deps.Logger.Info("invoice recognised",
		slog.String("table_id", table.ID),
		slog.Int("extracted", len(res.Items)),
		slog.Int("rows", len(table.Rows)),
		slog.String("invoice_date", res.InvoiceDate))
	return table, nil
}

// Table returns the session's table or ErrNoTable.
func (s *Service) Table(ctx context.Context, sessionID string) (Table, error) {
	return s.deps.Tables.Load(ctx, sessionID)
}

// Edit applies grid edits to the table at revision.
func (s *Service) Edit(ctx context.Context, sessionID string, revision int64, edits []RowEdit) (Table, error) {
	return s.mutate(ctx, sessionID, revision, func(t Table) (Table, error) {
		return ApplyEdits(t, edits)
	})
}

// AddRow appends a manually entered row.
func (s *Service) AddRow(ctx context.Context, sessionID string, revision int64, item LineItem) (Table, error) {
	return s.mutate(ctx, sessionID, revision, func(t Table) (Table, error) {
		next, _, err := AddRow(t, item)
		return next, err
	})
}

// Duplicate appends copies of the listed rows.
func (s *Service) Duplicate(ctx context.Context, sessionID string, revision int64, ids []string) (Table, error) {
	return s.mutate(ctx, sessionID, revision, func(t Table) (Table, error) {
		return Duplicate(t, ids)
	})
}

// Remove drops the listed rows.
func (s *Service) Remove(ctx context.Context, sessionID string, revision int64, ids []string) (Table, error) {
	return s.mutate(ctx, sessionID, revision, func(t Table) (Table, error) {
		return RemoveRows(t, ids)
	})
}

// Discard deletes the session's table.
func (s *Service) Discard(ctx context.Context, sessionID string) error {
	return s.deps.Tables.Delete(ctx, sessionID)
}

// Objects lists the known destination names.
func (s *Service) Objects(ctx context.Context) []string {
	return s.deps.Objects.Names(ctx)
}

// DistributeInput describes one distribution request.
type DistributeInput struct {
	SessionID   string
	Revision    int64
	Destination string
	// SendQuantity is used when exactly one row is selected; invalid means everything.
	SendQuantity decimal.NullDecimal
}

// DistributeResult reports what was shipped and what remains.
type DistributeResult struct {
	Object    string
	Shipments []Shipment
	Table     Table
}

// Distribute ships the selected rows to the destination. Shipments are persisted
// before the reconciled table is saved; a persistence failure leaves the stored
// table as it was so the user can retry.
func (s *Service) Distribute(ctx context.Context, in DistributeInput) (DistributeResult, error) {
	table, err := s.load(ctx, in.SessionID, in.Revision)
	if err != nil {
		return DistributeResult{}, err
	}
	selections, err := PlanSelections(table, in.SendQuantity)
	if err != nil {
		return DistributeResult{}, err
	}
	res, err := Reconcile(table, selections, in.Destination)
	if err != nil {
		return DistributeResult{}, err
	}
	object, err := s.deps.Objects.Add(in.Destination)
	if err != nil {
		return DistributeResult{}, err
	}
	if len(res.Shipments) == 0 {
		return DistributeResult{Object: object, Table: table}, nil
	}

	key := table.ID + ":" + strconv.FormatInt(table.Revision, 10)
	if s.deps.Idempotency != nil {
		if err := s.deps.Idempotency.CheckAndInsert(ctx, key, idempotencyModule); err != nil {
			return DistributeResult{}, err
		}
	}
	if err := s.deps.Ledger.Deliver(ctx, object, res.Shipments); err != nil {
		s.releaseKey(key)
		s.deps.Logger.Error("distribution not persisted",
			slog.String("table_id", table.ID),
			slog.String("object", object),
			slog.Any("error", err))
		return DistributeResult{}, err
	}

	next := res.Table
	next.Revision = table.Revision + 1
	if err := s.deps.Tables.Save(ctx, in.SessionID, next); err != nil {
		// The key stays claimed: the rows are already in the ledger.
		return DistributeResult{}, fmt.Errorf("staging: shipments persisted but table not saved: %w", err)
	}

	ev := newDistributedEvent(in.SessionID, table, res, object, s.deps.Now())
	if s.deps.Metrics != nil {
		s.deps.Metrics.AddShipments(ev.Rows)
	}
	if s.deps.Audit != nil {
		if err := s.deps.Audit.Record(ctx, ev.AuditLog()); err != nil {
			s.deps.Logger.Warn("audit distribution", slog.Any("error", err))
		}
	}
	if s.deps.Scheduler != nil {
		if err := s.deps.Scheduler.EnqueueSort(ctx, object); err != nil {
			s.deps.Logger.Warn("enqueue sort", slog.String("object", object), slog.Any("error", err))
		}
	}
	s.deps.Logger.Info("rows distributed",
		slog.String("table_id", table.ID),
		slog.String("object", object),
		slog.Int("shipments", ev.Rows),
		slog.String("value", ev.Value.StringFixed(2)),
		slog.Int("remaining", ev.Remaining))
	return DistributeResult{Object: object, Shipments: res.Shipments, Table: next}, nil
}

func (s *Service) mutate(ctx context.Context, sessionID string, revision int64, fn func(Table) (Table, error)) (Table, error) {
	table, err := s.load(ctx, sessionID, revision)
	if err != nil {
		return Table{}, err
	}
	next, err := fn(table)
	if err != nil {
		return Table{}, err
	}
	next.Revision = table.Revision + 1
	if err := s.deps.Tables.Save(ctx, sessionID, next); err != nil {
		return Table{}, err
	}
	return next, nil
}

// load fetches the table and rejects forms built from another revision. Revision 0
// skips the check.
func (s *Service) load(ctx context.Context, sessionID string, revision int64) (Table, error) {
	table, err := s.deps.Tables.Load(ctx, sessionID)
	if err != nil {
		return Table{}, err
	}
	if revision != 0 && revision != table.Revision {
		return Table{}, fmt.Errorf("%w: have %d, form %d", ErrStaleTable, table.Revision, revision)
	}
	return table, nil
}

func (s *Service) releaseKey(key string) {
	if s.deps.Idempotency == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.deps.Idempotency.Delete(ctx, key, idempotencyModule); err != nil {
		s.deps.Logger.Warn("release idempotency key", slog.String("key", key), slog.Any("error", err))
	}
}

func (s *Service) observeExtraction(err error) {
	if s.deps.Metrics == nil {
		return
	}
	switch {
	case err == nil:
		s.deps.Metrics.ObserveExtraction(observability.ExtractionOK)
	case errors.Is(err, extraction.ErrExtractionTimeout):
		s.deps.Metrics.ObserveExtraction(observability.ExtractionTimeout)
	case errors.Is(err, ErrEmptyExtraction):
		s.deps.Metrics.ObserveExtraction(observability.ExtractionEmpty)
	default:
		s.deps.Metrics.ObserveExtraction(observability.ExtractionFailed)
	}
}
