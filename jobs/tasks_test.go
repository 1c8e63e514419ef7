package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/sitestock/sitestock/internal/jobs"
)

type fakeSorter struct {
	sorted []string
	err    error
}

func (f *fakeSorter) SortByDate(_ context.Context, name string) error {
	f.sorted = append(f.sorted, name)
	return f.err
}

func TestNewSortTask(t *testing.T) {
	task, err := NewSortTask("  Офис ")
	require.NoError(t, err)
	assert.Equal(t, TaskLedgerSort, task.Type())
	var payload SortPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, "Офис", payload.Object)

	_, err = NewSortTask(" ")
	require.Error(t, err)
}

func TestSortJobHandle(t *testing.T) {
	store := &fakeSorter{}
	job := NewSortJob(store, "workbook", nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	task, err := NewSortTask("Склад")
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, []string{"Склад"}, store.sorted)

	store.err = errors.New("quota exceeded")
	require.Error(t, job.Handle(context.Background(), task))
}

func TestSortJobSkipsBadPayload(t *testing.T) {
	job := NewSortJob(&fakeSorter{}, "sheets", nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	err := job.Handle(context.Background(), asynq.NewTask(TaskLedgerSort, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

type fakeCleaner struct {
	olderThan time.Duration
}

func (f *fakeCleaner) Cleanup(_ context.Context, olderThan time.Duration) (int64, error) {
	f.olderThan = olderThan
	return 3, nil
}

func TestCleanupJobDefaultsRetention(t *testing.T) {
	store := &fakeCleaner{}
	job := &CleanupJob{Store: store, Metrics: jobmetrics.NewMetrics(prometheus.NewRegistry())}
	require.NoError(t, job.Handle(context.Background(), NewCleanupTask()))
	assert.Equal(t, 7*24*time.Hour, store.olderThan)

	var missing *CleanupJob
	require.Error(t, missing.Handle(context.Background(), NewCleanupTask()))
}

type fakeInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (f fakeInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) {
	return f.info, f.err
}

func TestHealthEndpoint(t *testing.T) {
	cases := []struct {
		name      string
		inspector QueueInspector
		status    int
		pending   int
	}{
		{name: "no inspector", status: http.StatusOK},
		{name: "queue info", inspector: fakeInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 4}}, status: http.StatusOK, pending: 4},
		{name: "queue not created yet", inspector: fakeInspector{err: asynq.ErrQueueNotFound}, status: http.StatusOK},
		{name: "redis down", inspector: fakeInspector{err: errors.New("dial tcp")}, status: http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := chi.NewRouter()
			NewHandler(tc.inspector, nil).MountRoutes(r)
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
			require.Equal(t, tc.status, rr.Code)
			if tc.status != http.StatusOK {
				return
			}
			var body QueueHealth
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			assert.Equal(t, QueueDefault, body.Queue)
			assert.Equal(t, tc.pending, body.Pending)
		})
	}
}
