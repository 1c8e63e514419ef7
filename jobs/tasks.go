package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/sitestock/sitestock/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerSort re-sorts one destination tab by document date.
	TaskLedgerSort = "ledger:sort"
	// TaskIdempotencyCleanup purges old distribution submission keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// sortUniqueWindow coalesces bursts of distributions to the same object into one sort.
const sortUniqueWindow = 30 * time.Second

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// SortPayload names the tab to sort.
type SortPayload struct {
	Object string `json:"object"`
}

// NewSortTask constructs a ledger sort task.
func NewSortTask(object string) (*asynq.Task, error) {
	object = strings.TrimSpace(object)
	if object == "" {
		return nil, errors.New("jobs: sort task needs an object")
	}
	data, err := json.Marshal(SortPayload{Object: object})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerSort, data, asynq.Queue(QueueDefault), asynq.MaxRetry(5)), nil
}

// TabSorter orders a destination tab by date.
type TabSorter interface {
	SortByDate(ctx context.Context, name string) error
}

// SortJob handles TaskLedgerSort.
type SortJob struct {
	Store   TabSorter
	Backend string
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewSortJob constructs the sort handler.
func NewSortJob(store TabSorter, backend string, logger *slog.Logger, metrics *jobmetrics.Metrics) *SortJob {
	return &SortJob{Store: store, Backend: backend, Logger: logger, Metrics: metrics}
}

// Handle sorts the tab named in the payload.
func (j *SortJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Store == nil {
		return errors.New("ledger sort: store not configured")
	}
	var payload SortPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil || strings.TrimSpace(payload.Object) == "" {
		return fmt.Errorf("ledger sort: bad payload: %w", asynq.SkipRetry)
	}

	metrics := j.Metrics
	if metrics == nil {
		metrics = defaultJobMetrics
	}
	tracker := metrics.Track(TaskLedgerSort)
	if err := j.Store.SortByDate(ctx, payload.Object); err != nil {
		j.log().Error("sort tab", slog.String("object", payload.Object), slog.Any("error", err))
		return tracker.End(err)
	}
	metrics.AddSorted(j.Backend)
	j.log().Info("tab sorted", slog.String("object", payload.Object))
	return tracker.End(nil)
}

func (j *SortJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskLedgerSort))
	}
	return slog.Default().With(slog.String("job", TaskLedgerSort))
}

// KeyCleaner removes expired idempotency keys.
type KeyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// CleanupJob handles TaskIdempotencyCleanup.
type CleanupJob struct {
	Store     KeyCleaner
	Retention time.Duration
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewCleanupTask constructs the periodic cleanup task.
func NewCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskIdempotencyCleanup, nil, asynq.Queue(QueueDefault), asynq.MaxRetry(1))
}

// Handle deletes keys older than Retention.
func (j *CleanupJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Store == nil {
		return errors.New("idempotency cleanup: store not configured")
	}
	metrics := j.Metrics
	if metrics == nil {
		metrics = defaultJobMetrics
	}
	retention := j.Retention
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	tracker := metrics.Track(TaskIdempotencyCleanup)
	removed, err := j.Store.Cleanup(ctx, retention)
	if err != nil {
		return tracker.End(err)
	}
	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("idempotency keys purged", slog.Int64("removed", removed), slog.Duration("retention", retention))
	return tracker.End(nil)
}
