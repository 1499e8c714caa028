// Package sheets keeps the lead tracker in a local xlsx workbook with one
// sheet per category plus monitoring, daily stats and run history.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/david/childcare-leads/internal/store"
)

const (
	timestampLayout = "2006-01-02 15:04:05"
	defaultSheet    = "Sheet1"
)

var headers = map[string][]string{
	store.SheetNewProjects: {
		"Discovered Date", "Country", "Province/State", "City", "Name", "Address",
		"Capacity", "License Number", "License Status", "Phone", "Email",
		"Source", "Source URL", "Follow-up Status", "Priority", "AI Score",
		"Scoring Method", "AI Reasoning", "Notes", "Owner", "Run ID", "Updated At",
	},
	store.SheetSales: {
		"Discovered Date", "Country", "Province/State", "City", "Name", "Price",
		"Capacity", "Annual Revenue", "Cash Flow", "Lease Remaining", "Property Type",
		"Phone", "Source", "Source URL", "Follow-up Status", "AI Score",
		"Priority", "Notes", "Run ID", "Updated At",
	},
	store.SheetTenders: {
		"Published Date", "Deadline Date", "Days Remaining", "Country", "Province/State", "Name",
		"Contract Value", "Notes", "Tender Type", "Organization", "Contact",
		"Source URL", "Bid Submitted", "AI Score", "Priority", "Run ID", "Updated At",
	},
	store.SheetSourceMonitoring: {
		"Source", "Type", "Last Success", "Last Attempt", "New Records",
		"Total Records", "Status", "Error", "Response Time (ms)",
	},
	store.SheetDailyStats: {
		"Date", "Canada New", "Canada Sales", "Canada Tenders",
		"Australia New", "Australia Sales", "Australia Tenders",
		"Critical", "High", "Total", "Status",
	},
	store.SheetRuns: {
		"Run ID", "Status", "Sources", "Dry Run", "Fetched", "Valid", "Rejected",
		"Duplicates", "Scored", "Saved", "Critical", "High", "Fallbacks",
		"Error", "Started At", "Finished At",
	},
}

var sheetOrder = []string{
	store.SheetNewProjects,
	store.SheetSales,
	store.SheetTenders,
	store.SheetSourceMonitoring,
	store.SheetDailyStats,
	store.SheetRuns,
}

// Workbook is a store.Store backed by one xlsx file. Every write is saved
// before it returns.
type Workbook struct {
	path   string
	file   *excelize.File
	logger *zap.Logger
	now    func() time.Time
	mu     sync.Mutex
}

var _ store.Store = (*Workbook)(nil)

// Open loads the workbook at path, creating it with every sheet when missing.
func Open(path string, logger *zap.Logger) (*Workbook, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		f   *excelize.File
		err error
	)
	if _, statErr := os.Stat(path); statErr == nil {
		f, err = excelize.OpenFile(path)
		if err != nil {
			return nil, fmt.Errorf("open workbook %s: %w", path, err)
		}
	} else if errors.Is(statErr, os.ErrNotExist) {
		f = excelize.NewFile()
		logger.Info("creating workbook", zap.String("path", path))
	} else {
		return nil, fmt.Errorf("stat workbook %s: %w", path, statErr)
	}

	w := &Workbook{path: path, file: f, logger: logger, now: time.Now}
	if err := w.ensureSheets(); err != nil {
		f.Close()
		return nil, err
	}
	if err := w.file.SaveAs(path); err != nil {
		f.Close()
		return nil, fmt.Errorf("save workbook: %w", err)
	}
	return w, nil
}

// ensureSheets creates missing sheets and rewrites headers that drifted.
func (w *Workbook) ensureSheets() error {
	existing := w.file.GetSheetList()
	for _, name := range sheetOrder {
		if !slices.Contains(existing, name) {
			if _, err := w.file.NewSheet(name); err != nil {
				return fmt.Errorf("create sheet %s: %w", name, err)
			}
		}
		rows, err := w.file.GetRows(name)
		if err != nil {
			return fmt.Errorf("read sheet %s: %w", name, err)
		}
		want := headers[name]
		if len(rows) == 0 || !slices.Equal(rows[0], want) {
			if err := w.setRow(name, 1, toAny(want)); err != nil {
				return err
			}
		}
	}
	if slices.Contains(w.file.GetSheetList(), defaultSheet) {
		rows, _ := w.file.GetRows(defaultSheet)
		if len(rows) == 0 {
			if err := w.file.DeleteSheet(defaultSheet); err != nil {
				return fmt.Errorf("remove default sheet: %w", err)
			}
		}
	}
	return nil
}

func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func (w *Workbook) setRow(sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := w.file.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write %s row %d: %w", sheet, row, err)
	}
	return nil
}

// appendRows writes rows after the last used row of sheet.
func (w *Workbook) appendRows(sheet string, rows [][]any) error {
	existing, err := w.file.GetRows(sheet)
	if err != nil {
		return fmt.Errorf("read sheet %s: %w", sheet, err)
	}
	next := max(len(existing), 1) + 1
	for i, r := range rows {
		if err := w.setRow(sheet, next+i, r); err != nil {
			return err
		}
	}
	return nil
}

func (w *Workbook) save() error {
	if err := w.file.Save(); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}

// column returns every value under header in sheet, skipping the header row.
func (w *Workbook) column(sheet, header string) ([]string, error) {
	rows, err := w.file.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	idx := slices.Index(rows[0], header)
	if idx < 0 {
		return nil, fmt.Errorf("sheet %s has no %q column", sheet, header)
	}
	var out []string
	for _, r := range rows[1:] {
		if idx < len(r) {
			if v := strings.TrimSpace(r[idx]); v != "" {
				out = append(out, v)
			}
		}
	}
	return out, nil
}

// ExistingLicenseNumbers reads the license column of New Projects.
func (w *Workbook) ExistingLicenseNumbers(ctx context.Context) ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.column(store.SheetNewProjects, "License Number")
}

// ExistingAddresses reads the address column of New Projects, lowercased.
func (w *Workbook) ExistingAddresses(ctx context.Context) ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	addrs, err := w.column(store.SheetNewProjects, "Address")
	if err != nil {
		return nil, err
	}
	for i, a := range addrs {
		addrs[i] = strings.ToLower(a)
	}
	return addrs, nil
}

// Path is where the workbook is saved.
func (w *Workbook) Path() string { return w.path }

func (w *Workbook) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}
