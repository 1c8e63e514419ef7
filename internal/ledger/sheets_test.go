package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/sitestock/sitestock/internal/staging"
)

type fakeSheetsAPI struct {
	mu       sync.Mutex
	tabs     map[string]int64
	nextID   int64
	batches  []map[string]any
	updates  [][]any
	appended [][]any
	// failBatches rejects that many batchUpdate calls with 503 before applying them.
	failBatches int
}

func (f *fakeSheetsAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	path := r.URL.Path
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodGet && strings.HasSuffix(path, "/v4/spreadsheets/book"):
		var sheets []map[string]any
		for title, id := range f.tabs {
			sheets = append(sheets, map[string]any{"properties": map[string]any{"sheetId": id, "title": title}})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"sheets": sheets})
	case r.Method == http.MethodPost && strings.HasSuffix(path, ":batchUpdate"):
		var body struct {
			Requests []map[string]any `json:"requests"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if f.failBatches > 0 {
			f.failBatches--
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"code":503,"message":"unavailable"}}`))
			return
		}
		var replies []map[string]any
		for _, req := range body.Requests {
			f.batches = append(f.batches, req)
			if add, ok := req["addSheet"].(map[string]any); ok {
				props := add["properties"].(map[string]any)
				title := props["title"].(string)
				id := f.nextID + 1
				if v, ok := props["sheetId"].(float64); ok {
					id = int64(v)
				}
				f.nextID = id
				f.tabs[title] = id
				replies = append(replies, map[string]any{"addSheet": map[string]any{"properties": map[string]any{"sheetId": id, "title": title}}})
				continue
			}
			if upd, ok := req["updateCells"].(map[string]any); ok {
				for _, row := range upd["rows"].([]any) {
					var values []any
					for _, cell := range row.(map[string]any)["values"].([]any) {
						v := cell.(map[string]any)["userEnteredValue"].(map[string]any)
						values = append(values, v["stringValue"])
					}
					f.updates = append(f.updates, values)
				}
			}
			replies = append(replies, map[string]any{})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"replies": replies})
	case strings.Contains(path, "/values/") && strings.HasSuffix(path, ":append"):
		var body struct {
			Values [][]any `json:"values"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.appended = append(f.appended, body.Values...)
		_, _ = w.Write([]byte(`{}`))
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":404,"message":"not found"}}`))
	}
}

func newSheetsTestStore(t *testing.T, api *fakeSheetsAPI) *SheetsStore {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	store, err := NewSheetsStore(context.Background(), SheetsConfig{
		SpreadsheetID: "book",
		RatePerSecond: 1000,
		Options:       []option.ClientOption{option.WithHTTPClient(srv.Client()), option.WithEndpoint(srv.URL + "/")},
	})
	require.NoError(t, err)
	return store
}

func TestSheetsEnsureCreatesTabWithHeader(t *testing.T) {
	api := &fakeSheetsAPI{tabs: map[string]int64{"Склад": 0}}
	store := newSheetsTestStore(t, api)
	ctx := context.Background()

	existing, err := store.Ensure(ctx, "Склад")
	require.NoError(t, err)
	require.Equal(t, Sheet{Name: "Склад", ID: 0}, existing)
	require.Empty(t, api.batches)

	created, err := store.Ensure(ctx, "Офис")
	require.NoError(t, err)
	require.Equal(t, api.tabs["Офис"], created.ID)
	require.NotZero(t, created.ID)
	require.Len(t, api.batches, 2)
	require.Contains(t, api.batches[0], "addSheet")
	require.Contains(t, api.batches[1], "updateCells")
	require.Len(t, api.updates, 1)
	require.Equal(t, []any{"Date", "Name", "Quantity", "Unit", "Price", "Total", "Category"}, api.updates[0])

	names, err := store.ListObjects(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"Склад", "Офис"}, names)
}

func TestSheetsAppendAndSort(t *testing.T) {
	api := &fakeSheetsAPI{tabs: map[string]int64{"Офис": 0}}
	store := newSheetsTestStore(t, api)
	ctx := context.Background()

	sheet, err := store.Ensure(ctx, "Офис")
	require.NoError(t, err)
	require.NoError(t, store.Append(ctx, sheet, [][]any{{"14.03.2026", "Цемент", 4.0, "шт", 500.0, 2000.0, "Dry Mixes"}}))
	require.Len(t, api.appended, 1)
	require.Equal(t, "Цемент", api.appended[0][1])

	require.NoError(t, store.SortByDate(ctx, "Офис"))
	require.Len(t, api.batches, 1)
	sortReq, ok := api.batches[0]["sortRange"].(map[string]any)
	require.True(t, ok)
	grid := sortReq["range"].(map[string]any)
	require.EqualValues(t, 0, grid["sheetId"])
	require.EqualValues(t, 1, grid["startRowIndex"])
}

func TestDeliverAfterFailedTabCreationWritesHeader(t *testing.T) {
	api := &fakeSheetsAPI{tabs: map[string]int64{}, failBatches: 1}
	store := newSheetsTestStore(t, api)
	w := NewWriter(store, WriterConfig{Attempts: 3})
	w.sleep = func(context.Context, time.Duration) error { return nil }

	err := w.Deliver(context.Background(), "Офис", []staging.Shipment{shipment("14.03.2026", "Цемент", 4, 500)})
	require.NoError(t, err)
	require.Contains(t, api.tabs, "Офис")
	require.Len(t, api.updates, 1)
	require.Equal(t, []any{"Date", "Name", "Quantity", "Unit", "Price", "Total", "Category"}, api.updates[0])
	require.Len(t, api.appended, 1)
	require.Equal(t, "Цемент", api.appended[0][1])
}

func TestPickSheetIDSkipsTakenIDs(t *testing.T) {
	api := &fakeSheetsAPI{tabs: map[string]int64{}}
	store := newSheetsTestStore(t, api)
	first := store.pickSheetID("Офис")
	require.NotZero(t, first)
	require.Equal(t, first, store.pickSheetID("Офис"))

	store.ids["Склад"] = first
	require.NotEqual(t, first, store.pickSheetID("Офис"))
}

func TestSheetsMissingSpreadsheetID(t *testing.T) {
	_, err := NewSheetsStore(context.Background(), SheetsConfig{})
	require.Error(t, err)
}
