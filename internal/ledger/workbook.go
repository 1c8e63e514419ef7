package ledger

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"github.com/sitestock/sitestock/internal/staging"
)

const (
	maxTabRunes  = 31
	defaultSheet = "Sheet1"
)

// numeric columns of Header (Quantity, Price, Total), zero-based.
var numericColumns = map[int]bool{2: true, 4: true, 5: true}

// WorkbookStore keeps the ledger in a local XLSX file. Every call opens and saves the
// file under a mutex, so the file stays consistent for a single process.
type WorkbookStore struct {
	path string
	mu   sync.Mutex
}

// NewWorkbookStore returns a store for path. The file is created on first Ensure.
func NewWorkbookStore(path string) *WorkbookStore {
	return &WorkbookStore{path: path}
}

// TabName validates name as a worksheet title.
func TabName(name string) (string, error) {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return "", fmt.Errorf("%w: empty", ErrInvalidTabName)
	case utf8.RuneCountInString(name) > maxTabRunes:
		return "", fmt.Errorf("%w: %q is longer than %d characters", ErrInvalidTabName, name, maxTabRunes)
	case strings.ContainsAny(name, `:\/?*[]`):
		return "", fmt.Errorf("%w: %q contains one of : \\ / ? * [ ]", ErrInvalidTabName, name)
	case strings.HasPrefix(name, "'") || strings.HasSuffix(name, "'"):
		return "", fmt.Errorf("%w: %q starts or ends with an apostrophe", ErrInvalidTabName, name)
	}
	return name, nil
}

// ListObjects implements Store. A missing file has no objects.
func (w *WorkbookStore) ListObjects(_ context.Context) ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	f, created, err := w.open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if created {
		return []string{}, nil
	}
	return f.GetSheetList(), nil
}

// Ensure implements Store.
func (w *WorkbookStore) Ensure(_ context.Context, name string) (Sheet, error) {
	tab, err := TabName(name)
	if err != nil {
		return Sheet{}, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	f, created, err := w.open()
	if err != nil {
		return Sheet{}, err
	}
	defer f.Close()

	idx, err := f.GetSheetIndex(tab)
	if err != nil {
		return Sheet{}, fmt.Errorf("ledger: workbook index %q: %w", tab, err)
	}
	if idx >= 0 {
		return Sheet{Name: tab, ID: int64(idx)}, nil
	}
	if created {
		if err := f.SetSheetName(defaultSheet, tab); err != nil {
			return Sheet{}, fmt.Errorf("ledger: workbook rename: %w", err)
		}
		idx, err = f.GetSheetIndex(tab)
	} else {
		idx, err = f.NewSheet(tab)
	}
	if err != nil {
		return Sheet{}, fmt.Errorf("ledger: workbook new sheet %q: %w", tab, err)
	}
	header := headerRow()
	if err := f.SetSheetRow(tab, "A1", &header); err != nil {
		return Sheet{}, fmt.Errorf("ledger: workbook header %q: %w", tab, err)
	}
	if err := f.SaveAs(w.path); err != nil {
		return Sheet{}, fmt.Errorf("ledger: save workbook: %w", err)
	}
	return Sheet{Name: tab, ID: int64(idx)}, nil
}

// Append implements Store.
func (w *WorkbookStore) Append(_ context.Context, sheet Sheet, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	f, _, err := w.open()
	if err != nil {
		return err
	}
	defer f.Close()

	existing, err := f.GetRows(sheet.Name)
	if err != nil {
		return fmt.Errorf("ledger: workbook read %q: %w", sheet.Name, err)
	}
	if err := writeRows(f, sheet.Name, len(existing)+1, rows); err != nil {
		return err
	}
	if err := f.SaveAs(w.path); err != nil {
		return fmt.Errorf("ledger: save workbook: %w", err)
	}
	return nil
}

// SortByDate implements Store. Rows with unparseable dates keep their relative order
// after all dated rows.
func (w *WorkbookStore) SortByDate(_ context.Context, name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	f, _, err := w.open()
	if err != nil {
		return err
	}
	defer f.Close()

	all, err := f.GetRows(name, excelize.Options{RawCellValue: true})
	if err != nil {
		return fmt.Errorf("ledger: workbook read %q: %w", name, err)
	}
	if len(all) <= 2 {
		return nil
	}
	data := all[1:]
	sort.SliceStable(data, func(i, j int) bool {
		di, okI := rowDate(data[i])
		dj, okJ := rowDate(data[j])
		if okI != okJ {
			return okI
		}
		return okI && di.Before(dj)
	})
	rows := make([][]any, 0, len(data))
	for _, r := range data {
		rows = append(rows, typedRow(r))
	}
	if err := writeRows(f, name, 2, rows); err != nil {
		return err
	}
	if err := f.SaveAs(w.path); err != nil {
		return fmt.Errorf("ledger: save workbook: %w", err)
	}
	return nil
}

func (w *WorkbookStore) open() (*excelize.File, bool, error) {
	f, err := excelize.OpenFile(w.path)
	if errors.Is(err, fs.ErrNotExist) {
		return excelize.NewFile(), true, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("ledger: open workbook: %w", err)
	}
	return f, false, nil
}

func writeRows(f *excelize.File, tab string, first int, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, first+i)
		if err != nil {
			return fmt.Errorf("ledger: workbook cell: %w", err)
		}
		if err := f.SetSheetRow(tab, cell, &row); err != nil {
			return fmt.Errorf("ledger: workbook write %q: %w", tab, err)
		}
	}
	return nil
}

func rowDate(row []string) (time.Time, bool) {
	if len(row) == 0 {
		return time.Time{}, false
	}
	t, err := time.Parse(staging.DateLayout, strings.TrimSpace(row[0]))
	return t, err == nil
}

// typedRow restores numbers in the numeric columns so a rewrite keeps cell types.
func typedRow(row []string) []any {
	out := make([]any, len(row))
	for i, v := range row {
		if numericColumns[i] {
			if n, err := strconv.ParseFloat(v, 64); err == nil {
				out[i] = n
				continue
			}
		}
		out[i] = v
	}
	return out
}
