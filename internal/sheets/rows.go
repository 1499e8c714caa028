package sheets

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/david/childcare-leads/internal/models"
	"github.com/david/childcare-leads/internal/report"
	"github.com/david/childcare-leads/internal/store"
)

const (
	followUpDefault = "Not contacted"
	bidDefault      = "No"
)

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func capacityCell(o models.Opportunity) any {
	if o.Capacity == nil {
		return ""
	}
	return *o.Capacity
}

func daysRemaining(deadline *string, now time.Time) any {
	if deadline == nil {
		return ""
	}
	d, err := time.Parse("2006-01-02", *deadline)
	if err != nil {
		return ""
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return int(d.Sub(today).Hours() / 24)
}

func newProjectRow(o models.Opportunity, runID, updated string) []any {
	return []any{
		o.DiscoveredDate, o.Country, o.Province, o.City, o.Name, o.Address,
		capacityCell(o), o.LicenseNumber, o.LicenseStatus, o.Phone, o.Email,
		o.Source, o.SourceURL, followUpDefault, string(o.Priority), o.AIScore,
		string(o.ScoringMethod), o.AIReasoning, o.Notes, "", runID, updated,
	}
}

func saleRow(o models.Opportunity, runID, updated string) []any {
	return []any{
		o.DiscoveredDate, o.Country, o.Province, o.City, o.Name, deref(o.Price),
		capacityCell(o), deref(o.AnnualRevenue), deref(o.CashFlow), deref(o.LeaseRemaining), deref(o.PropertyType),
		o.Phone, o.Source, o.SourceURL, followUpDefault, o.AIScore,
		string(o.Priority), o.Notes, runID, updated,
	}
}

func tenderRow(o models.Opportunity, runID, updated string, now time.Time) []any {
	return []any{
		deref(o.PublishedDate), deref(o.DeadlineDate), daysRemaining(o.DeadlineDate, now), o.Country, o.Province, o.Name,
		deref(o.ContractValue), o.Notes, deref(o.TenderType), deref(o.Organization), o.Phone,
		o.SourceURL, bidDefault, o.AIScore, string(o.Priority), runID, updated,
	}
}

// AppendOpportunities writes each bucket to its sheet and saves once.
func (w *Workbook) AppendOpportunities(ctx context.Context, runID string, c report.Classified) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	updated := now.Format(timestampLayout)
	buckets := []struct {
		sheet string
		rows  [][]any
	}{
		{store.SheetNewProjects, mapRows(c.NewProjects, func(o models.Opportunity) []any { return newProjectRow(o, runID, updated) })},
		{store.SheetSales, mapRows(c.Sales, func(o models.Opportunity) []any { return saleRow(o, runID, updated) })},
		{store.SheetTenders, mapRows(c.Tenders, func(o models.Opportunity) []any { return tenderRow(o, runID, updated, now) })},
	}

	written := 0
	for _, b := range buckets {
		if len(b.rows) == 0 {
			continue
		}
		if err := w.appendRows(b.sheet, b.rows); err != nil {
			return written, err
		}
		written += len(b.rows)
		w.logger.Info("appended rows", zap.String("sheet", b.sheet), zap.Int("rows", len(b.rows)))
	}
	if written == 0 {
		return 0, nil
	}
	if err := w.save(); err != nil {
		return 0, err
	}
	return written, nil
}

func mapRows(records []models.Opportunity, fn func(models.Opportunity) []any) [][]any {
	out := make([][]any, 0, len(records))
	for _, o := range records {
		out = append(out, fn(o))
	}
	return out
}

// UpdateSourceStatus upserts one monitoring row per source name. Last Success
// only moves when the fetch succeeded.
func (w *Workbook) UpdateSourceStatus(ctx context.Context, statuses []models.SourceStatus) error {
	if len(statuses) == 0 {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	rows, err := w.file.GetRows(store.SheetSourceMonitoring)
	if err != nil {
		return fmt.Errorf("read sheet %s: %w", store.SheetSourceMonitoring, err)
	}
	index := make(map[string]int, len(rows))
	for i, r := range rows {
		if i == 0 || len(r) == 0 {
			continue
		}
		index[r[0]] = i + 1
	}
	next := max(len(rows), 1) + 1

	for _, s := range statuses {
		attempt := s.CheckedAt
		if attempt.IsZero() {
			attempt = w.now()
		}
		lastSuccess := ""
		rowNum, exists := index[s.Name]
		if exists && rowNum <= len(rows) && len(rows[rowNum-1]) > 2 {
			lastSuccess = rows[rowNum-1][2]
		}
		if s.Status == models.SourceStatusOK {
			lastSuccess = attempt.Format(timestampLayout)
		}
		row := []any{
			s.Name, s.Type, lastSuccess, attempt.Format(timestampLayout), s.Count,
			s.Total, s.Status, s.Error, s.ResponseTime.Milliseconds(),
		}
		if !exists {
			rowNum = next
			next++
			index[s.Name] = rowNum
		}
		if err := w.setRow(store.SheetSourceMonitoring, rowNum, row); err != nil {
			return err
		}
	}
	return w.save()
}

// AppendDailyStats adds one row to Daily Stats.
func (w *Workbook) AppendDailyStats(ctx context.Context, day string, stats report.Stats, status string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	row := []any{
		day, stats.CanadaNew, stats.CanadaSales, stats.CanadaTenders,
		stats.AustraliaNew, stats.AustraliaSales, stats.AustraliaTenders,
		stats.CriticalCount, stats.HighCount, stats.Total, status,
	}
	if err := w.appendRows(store.SheetDailyStats, [][]any{row}); err != nil {
		return err
	}
	return w.save()
}

func runRow(r models.Run) []any {
	finished := ""
	if r.FinishedAt != nil {
		finished = r.FinishedAt.UTC().Format(time.RFC3339)
	}
	return []any{
		r.ID, r.Status, r.Sources, strconv.FormatBool(r.DryRun), r.Fetched, r.Valid, r.Rejected,
		r.Duplicates, r.Scored, r.Saved, r.Critical, r.High, r.Fallbacks,
		r.Error, r.StartedAt.UTC().Format(time.RFC3339), finished,
	}
}

func parseRun(row []string) (models.Run, error) {
	cell := func(i int) string {
		if i < len(row) {
			return row[i]
		}
		return ""
	}
	num := func(i int) int {
		n, _ := strconv.Atoi(cell(i))
		return n
	}
	r := models.Run{
		ID:         cell(0),
		Status:     cell(1),
		Sources:    cell(2),
		DryRun:     cell(3) == "true",
		Fetched:    num(4),
		Valid:      num(5),
		Rejected:   num(6),
		Duplicates: num(7),
		Scored:     num(8),
		Saved:      num(9),
		Critical:   num(10),
		High:       num(11),
		Fallbacks:  num(12),
		Error:      cell(13),
	}
	started, err := time.Parse(time.RFC3339, cell(14))
	if err != nil {
		return models.Run{}, fmt.Errorf("run %s: bad start time %q: %w", r.ID, cell(14), err)
	}
	r.StartedAt = started
	if v := cell(15); v != "" {
		finished, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return models.Run{}, fmt.Errorf("run %s: bad finish time %q: %w", r.ID, v, err)
		}
		r.FinishedAt = &finished
	}
	return r, nil
}

// findRun returns the 1-based sheet row of a run, 0 when absent.
func findRun(rows [][]string, id string) int {
	for i, r := range rows {
		if i > 0 && len(r) > 0 && r[0] == id {
			return i + 1
		}
	}
	return 0
}

func (w *Workbook) StartRun(ctx context.Context, run models.Run) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.appendRows(store.SheetRuns, [][]any{runRow(run)}); err != nil {
		return err
	}
	return w.save()
}

// FinishRun overwrites the run's row, appending when StartRun never ran.
func (w *Workbook) FinishRun(ctx context.Context, run models.Run) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	rows, err := w.file.GetRows(store.SheetRuns)
	if err != nil {
		return fmt.Errorf("read sheet %s: %w", store.SheetRuns, err)
	}
	if n := findRun(rows, run.ID); n > 0 {
		err = w.setRow(store.SheetRuns, n, runRow(run))
	} else {
		err = w.appendRows(store.SheetRuns, [][]any{runRow(run)})
	}
	if err != nil {
		return err
	}
	return w.save()
}

// ListRuns returns the most recently started runs first.
func (w *Workbook) ListRuns(ctx context.Context, limit int) ([]models.Run, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	rows, err := w.file.GetRows(store.SheetRuns)
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", store.SheetRuns, err)
	}
	limit = store.ClampLimit(limit)
	var runs []models.Run
	for _, row := range rows[min(1, len(rows)):] {
		if len(row) == 0 || row[0] == "" {
			continue
		}
		r, err := parseRun(row)
		if err != nil {
			w.logger.Warn("skipping unreadable run row", zap.Error(err))
			continue
		}
		runs = append(runs, r)
	}
	slices.SortStableFunc(runs, func(a, b models.Run) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	if len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (w *Workbook) GetRun(ctx context.Context, id string) (models.Run, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	rows, err := w.file.GetRows(store.SheetRuns)
	if err != nil {
		return models.Run{}, fmt.Errorf("read sheet %s: %w", store.SheetRuns, err)
	}
	n := findRun(rows, id)
	if n == 0 {
		return models.Run{}, store.ErrNotFound
	}
	return parseRun(rows[n-1])
}
