package ledger

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

const rateLimitCooldown = 30 * time.Second

// SheetsConfig configures the Google Sheets backend.
type SheetsConfig struct {
	SpreadsheetID   string
	CredentialsFile string
	// RatePerSecond caps API calls; Sheets allows roughly one write per second per user.
	RatePerSecond float64
	// Options replaces the credential lookup, e.g. with option.WithHTTPClient in tests.
	Options []option.ClientOption
	Logger  *slog.Logger
}

// SheetsStore keeps one tab per destination object in a Google spreadsheet.
type SheetsStore struct {
	svc     *sheets.Service
	id      string
	limiter *rate.Limiter
	logger  *slog.Logger

	mu      sync.Mutex
	ids     map[string]int64
	retryAt time.Time
}

// NewSheetsStore authenticates with a service account key and returns the store.
func NewSheetsStore(ctx context.Context, cfg SheetsConfig) (*SheetsStore, error) {
	if cfg.SpreadsheetID == "" {
		return nil, fmt.Errorf("ledger: spreadsheet id is required")
	}
	opts := cfg.Options
	if len(opts) == 0 {
		data, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("ledger: read credentials: %w", err)
		}
		creds, err := google.CredentialsFromJSON(ctx, data, sheets.SpreadsheetsScope)
		if err != nil {
			return nil, fmt.Errorf("ledger: parse credentials: %w", err)
		}
		opts = []option.ClientOption{option.WithTokenSource(creds.TokenSource)}
	}
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("ledger: sheets service: %w", err)
	}
	perSecond := cfg.RatePerSecond
	if perSecond <= 0 {
		perSecond = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SheetsStore{
		svc:     svc,
		id:      cfg.SpreadsheetID,
		limiter: rate.NewLimiter(rate.Limit(perSecond), 3),
		logger:  logger,
		ids:     make(map[string]int64),
	}, nil
}

// ListObjects implements Store.
func (s *SheetsStore) ListObjects(ctx context.Context) ([]string, error) {
	props, err := s.properties(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(props))
	for _, p := range props {
		names = append(names, p.Title)
	}
	return names, nil
}

// Ensure implements Store.
func (s *SheetsStore) Ensure(ctx context.Context, name string) (Sheet, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Sheet{}, fmt.Errorf("%w: empty", ErrInvalidTabName)
	}
	if id, ok := s.cached(name); ok {
		return Sheet{Name: name, ID: id}, nil
	}
	if _, err := s.properties(ctx); err != nil {
		return Sheet{}, err
	}
	if id, ok := s.cached(name); ok {
		return Sheet{Name: name, ID: id}, nil
	}

	// Tab and header row go out in one batch; a failed call leaves no tab behind.
	id := s.pickSheetID(name)
	if err := s.wait(ctx); err != nil {
		return Sheet{}, err
	}
	_, err := s.svc.Spreadsheets.BatchUpdate(s.id, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{
			{AddSheet: &sheets.AddSheetRequest{Properties: &sheets.SheetProperties{SheetId: id, Title: name}}},
			{UpdateCells: &sheets.UpdateCellsRequest{
				Start: &sheets.GridCoordinate{
					SheetId:         id,
					ForceSendFields: []string{"RowIndex", "ColumnIndex"},
				},
				Rows:   []*sheets.RowData{headerCells()},
				Fields: "userEnteredValue",
			}},
		},
	}).Context(ctx).Do()
	if err != nil {
		return Sheet{}, s.observe(fmt.Errorf("ledger: add sheet %q: %w", name, err))
	}

	s.mu.Lock()
	s.ids[name] = id
	s.mu.Unlock()
	s.logger.Info("ledger tab created", slog.String("object", name), slog.Int64("sheet_id", id))
	return Sheet{Name: name, ID: id}, nil
}

// Append implements Store.
func (s *SheetsStore) Append(ctx context.Context, sheet Sheet, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	if err := s.wait(ctx); err != nil {
		return err
	}
	_, err := s.svc.Spreadsheets.Values.Append(s.id, a1(sheet.Name, "A1"), &sheets.ValueRange{Values: rows}).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return s.observe(fmt.Errorf("ledger: append to %q: %w", sheet.Name, err))
	}
	return nil
}

// SortByDate implements Store. Data rows start at row 2; column A holds the date.
func (s *SheetsStore) SortByDate(ctx context.Context, name string) error {
	sheet, err := s.Ensure(ctx, name)
	if err != nil {
		return err
	}
	if err := s.wait(ctx); err != nil {
		return err
	}
	_, err = s.svc.Spreadsheets.BatchUpdate(s.id, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{SortRange: &sheets.SortRangeRequest{
			Range: &sheets.GridRange{
				SheetId:          sheet.ID,
				StartRowIndex:    1,
				StartColumnIndex: 0,
				EndColumnIndex:   int64(len(Header)),
				ForceSendFields:  []string{"SheetId", "StartColumnIndex"},
			},
			SortSpecs: []*sheets.SortSpec{{
				DimensionIndex:  0,
				SortOrder:       "ASCENDING",
				ForceSendFields: []string{"DimensionIndex"},
			}},
		}}},
	}).Context(ctx).Do()
	if err != nil {
		return s.observe(fmt.Errorf("ledger: sort %q: %w", name, err))
	}
	return nil
}

func (s *SheetsStore) properties(ctx context.Context) ([]*sheets.SheetProperties, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	resp, err := s.svc.Spreadsheets.Get(s.id).Fields("sheets.properties(sheetId,title)").Context(ctx).Do()
	if err != nil {
		return nil, s.observe(fmt.Errorf("ledger: list sheets: %w", err))
	}
	props := make([]*sheets.SheetProperties, 0, len(resp.Sheets))
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sh := range resp.Sheets {
		if sh.Properties == nil {
			continue
		}
		s.ids[sh.Properties.Title] = sh.Properties.SheetId
		props = append(props, sh.Properties)
	}
	return props, nil
}

// pickSheetID derives a stable positive tab id from the title, skipping ids already taken.
func (s *SheetsStore) pickSheetID(name string) int64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	id := int64(h.Sum32() & 0x7fffffff)
	s.mu.Lock()
	defer s.mu.Unlock()
	taken := make(map[int64]bool, len(s.ids))
	for _, v := range s.ids {
		taken[v] = true
	}
	for id == 0 || taken[id] {
		id = (id + 1) & 0x7fffffff
	}
	return id
}

func headerCells() *sheets.RowData {
	cells := make([]*sheets.CellData, 0, len(Header))
	for _, h := range Header {
		title := h
		cells = append(cells, &sheets.CellData{UserEnteredValue: &sheets.ExtendedValue{StringValue: &title}})
	}
	return &sheets.RowData{Values: cells}
}

func (s *SheetsStore) cached(name string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.ids[name]
	return id, ok
}

// wait blocks for a limiter token and for any cooldown after a 429.
func (s *SheetsStore) wait(ctx context.Context) error {
	s.mu.Lock()
	retryAt := s.retryAt
	s.mu.Unlock()
	if d := time.Until(retryAt); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	return s.limiter.Wait(ctx)
}

func (s *SheetsStore) observe(err error) error {
	if IsRateLimited(err) {
		s.mu.Lock()
		s.retryAt = time.Now().Add(rateLimitCooldown)
		s.mu.Unlock()
		s.logger.Warn("ledger rate limited", slog.Duration("cooldown", rateLimitCooldown))
	}
	return err
}

// a1 builds an A1 range for a tab title, quoting it as Sheets requires.
func a1(title, cells string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'!" + cells
}
