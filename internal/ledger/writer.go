package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sitestock/sitestock/internal/staging"
)

// Retry defaults.
const (
	DefaultAttempts = 3
	DefaultBackoff  = 500 * time.Millisecond
)

// RetryRecorder observes retried deliveries.
type RetryRecorder interface {
	IncLedgerRetry(operation string)
}

// WriterConfig tunes delivery retries.
type WriterConfig struct {
	Attempts int
	Backoff  time.Duration
	Logger   *slog.Logger
	Metrics  RetryRecorder
}

// Writer appends shipments to the destination tab, retrying transient failures.
type Writer struct {
	store    Store
	attempts int
	backoff  time.Duration
	logger   *slog.Logger
	metrics  RetryRecorder
	sleep    func(context.Context, time.Duration) error
}

// NewWriter wraps store.
func NewWriter(store Store, cfg WriterConfig) *Writer {
	if cfg.Attempts <= 0 {
		cfg.Attempts = DefaultAttempts
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Writer{
		store:    store,
		attempts: cfg.Attempts,
		backoff:  cfg.Backoff,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		sleep:    sleepContext,
	}
}

// Deliver ensures the object's tab exists and appends one row per shipment. Both steps
// are retried together with exponential backoff. A failed append is repeated only when
// the backend rejected it with a retryable status. The returned error wraps
// ErrPersistenceFailed and the last underlying failure.
func (w *Writer) Deliver(ctx context.Context, object string, shipments []staging.Shipment) error {
	if len(shipments) == 0 {
		return nil
	}
	rows := ShipmentRows(shipments)
	delay := w.backoff
	var lastErr error
	for attempt := 1; attempt <= w.attempts; attempt++ {
		if attempt > 1 {
			if w.metrics != nil {
				w.metrics.IncLedgerRetry("deliver")
			}
			if err := w.sleep(ctx, delay); err != nil {
				lastErr = err
				break
			}
			delay *= 2
		}
		sheet, err := w.store.Ensure(ctx, object)
		if err != nil {
			lastErr = err
			if !IsTransient(err) {
				break
			}
			w.logger.Warn("ledger tab unavailable",
				slog.String("object", object),
				slog.Int("attempt", attempt),
				slog.Any("error", err))
			continue
		}
		err = w.store.Append(ctx, sheet, rows)
		if err == nil {
			w.logger.Info("ledger rows appended",
				slog.String("object", object),
				slog.Int("rows", len(rows)),
				slog.Int("attempt", attempt))
			return nil
		}
		lastErr = err
		// Append is not idempotent; only a definite rejection is safe to repeat.
		if !IsTransientResponse(err) {
			break
		}
		w.logger.Warn("ledger append failed",
			slog.String("object", object),
			slog.Int("attempt", attempt),
			slog.Any("error", err))
	}
	return fmt.Errorf("%w: %s: %w", ErrPersistenceFailed, object, lastErr)
}

// ListObjects lists the destination tabs known to the store.
func (w *Writer) ListObjects(ctx context.Context) ([]string, error) {
	return w.store.ListObjects(ctx)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
