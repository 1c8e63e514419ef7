package ledger

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/sitestock/sitestock/internal/staging"
)

type fakeStore struct {
	mu        sync.Mutex
	ensureErr []error
	failures  []error
	ensured   []string
	appended  map[string][][]any
	listErr   error
	objects   []string
	sortCalls []string
}

func newFakeStore(failures ...error) *fakeStore {
	return &fakeStore{failures: failures, appended: make(map[string][][]any)}
}

func (f *fakeStore) ListObjects(context.Context) ([]string, error) {
	return f.objects, f.listErr
}

func (f *fakeStore) Ensure(_ context.Context, name string) (Sheet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensured = append(f.ensured, name)
	if len(f.ensureErr) > 0 {
		err := f.ensureErr[0]
		f.ensureErr = f.ensureErr[1:]
		if err != nil {
			return Sheet{}, err
		}
	}
	return Sheet{Name: name}, nil
}

func (f *fakeStore) Append(_ context.Context, sheet Sheet, rows [][]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		if err != nil {
			return err
		}
	}
	f.appended[sheet.Name] = append(f.appended[sheet.Name], rows...)
	return nil
}

func (f *fakeStore) SortByDate(_ context.Context, name string) error {
	f.sortCalls = append(f.sortCalls, name)
	return nil
}

type retryCounter struct{ n int }

func (r *retryCounter) IncLedgerRetry(string) { r.n++ }

func newTestWriter(store Store, metrics RetryRecorder) (*Writer, *[]time.Duration) {
	w := NewWriter(store, WriterConfig{Attempts: 3, Backoff: 10 * time.Millisecond, Metrics: metrics})
	var slept []time.Duration
	w.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return w, &slept
}

func TestDeliverRetriesTransientFailures(t *testing.T) {
	store := newFakeStore(&googleapi.Error{Code: http.StatusServiceUnavailable}, &googleapi.Error{Code: http.StatusBadGateway})
	metrics := &retryCounter{}
	w, slept := newTestWriter(store, metrics)

	err := w.Deliver(context.Background(), "Офис", []staging.Shipment{shipment("14.03.2026", "Цемент", 4, 500)})
	require.NoError(t, err)
	require.Len(t, store.appended["Офис"], 1)
	require.Equal(t, []any{"14.03.2026", "Цемент", 4.0, "шт", 500.0, 2000.0, "Dry Mixes"}, store.appended["Офис"][0])
	require.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, *slept)
	require.Equal(t, 2, metrics.n)
	require.Len(t, store.ensured, 3)
}

func TestDeliverGivesUpAfterAttempts(t *testing.T) {
	boom := &googleapi.Error{Code: http.StatusTooManyRequests, Message: "quota"}
	store := newFakeStore(boom, boom, boom, boom)
	w, slept := newTestWriter(store, nil)

	err := w.Deliver(context.Background(), "Офис", []staging.Shipment{shipment("14.03.2026", "Цемент", 1, 1)})
	require.ErrorIs(t, err, ErrPersistenceFailed)
	require.True(t, IsRateLimited(err))
	require.Len(t, *slept, 2)
	require.Empty(t, store.appended)
}

func TestDeliverStopsOnPermanentFailure(t *testing.T) {
	store := newFakeStore(&googleapi.Error{Code: http.StatusForbidden})
	w, slept := newTestWriter(store, nil)

	err := w.Deliver(context.Background(), "Офис", []staging.Shipment{shipment("14.03.2026", "Цемент", 1, 1)})
	require.ErrorIs(t, err, ErrPersistenceFailed)
	require.Empty(t, *slept)
}

func TestDeliverDoesNotRepeatAmbiguousAppend(t *testing.T) {
	store := newFakeStore(errors.New("connection reset"), nil)
	w, slept := newTestWriter(store, nil)

	err := w.Deliver(context.Background(), "Офис", []staging.Shipment{shipment("14.03.2026", "Цемент", 1, 1)})
	require.ErrorIs(t, err, ErrPersistenceFailed)
	require.ErrorContains(t, err, "connection reset")
	require.Empty(t, *slept)
	require.Len(t, store.ensured, 1)
	require.Empty(t, store.appended)
}

func TestDeliverRetriesNetworkFailureBeforeAppend(t *testing.T) {
	store := newFakeStore()
	store.ensureErr = []error{errors.New("connection reset")}
	w, slept := newTestWriter(store, nil)

	err := w.Deliver(context.Background(), "Офис", []staging.Shipment{shipment("14.03.2026", "Цемент", 1, 1)})
	require.NoError(t, err)
	require.Len(t, *slept, 1)
	require.Len(t, store.ensured, 2)
	require.Len(t, store.appended["Офис"], 1)
}

func TestDeliverNothingIsNoop(t *testing.T) {
	store := newFakeStore()
	w, _ := newTestWriter(store, nil)
	require.NoError(t, w.Deliver(context.Background(), "Офис", nil))
	require.Empty(t, store.ensured)
}

func TestIsTransient(t *testing.T) {
	require.True(t, IsTransient(&googleapi.Error{Code: 500}))
	require.True(t, IsTransient(&googleapi.Error{Code: 429}))
	require.True(t, IsTransient(errors.New("io")))
	require.False(t, IsTransient(&googleapi.Error{Code: 404}))
	require.False(t, IsTransient(context.Canceled))
	require.False(t, IsTransient(nil))

	require.True(t, IsTransientResponse(&googleapi.Error{Code: 503}))
	require.False(t, IsTransientResponse(errors.New("io")))
	require.False(t, IsTransientResponse(&googleapi.Error{Code: 400}))
}
