package db

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/david/childcare-leads/internal/models"
	"github.com/david/childcare-leads/internal/report"
	"github.com/david/childcare-leads/internal/store"
)

// Both backends share these statements. They use ? placeholders; the postgres
// store rebinds them to $n.
const (
	insertOpportunitySQL = `INSERT INTO opportunities (
		record_id, run_id, category, name, address, city, province, country, capacity,
		license_number, license_status, phone, email, discovered_date, source, source_url,
		type, notes, details, ai_score, priority, capacity_score, location_score, stage_score,
		scoring_method, ai_reasoning, ai_recommendation
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (record_id) DO NOTHING`

	upsertSourceStatusSQL = `INSERT INTO source_status (
		name, type, status, count, total, error, response_ms, last_attempt, last_success
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (name) DO UPDATE SET
		type = excluded.type,
		status = excluded.status,
		count = excluded.count,
		total = excluded.total,
		error = excluded.error,
		response_ms = excluded.response_ms,
		last_attempt = excluded.last_attempt,
		last_success = COALESCE(excluded.last_success, source_status.last_success)`

	insertDailyStatsSQL = `INSERT INTO daily_stats (
		day, canada_new, canada_sales, canada_tenders, australia_new, australia_sales,
		australia_tenders, critical, high, total, status
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	insertRunSQL = `INSERT INTO ingest_runs (
		id, status, sources, dry_run, fetched, valid, rejected, duplicates, scored, saved,
		critical, high, fallbacks, error, started_at, finished_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	// finishRunSQL updates every column; the id is the last argument.
	finishRunSQL = `UPDATE ingest_runs SET
		status = ?, sources = ?, dry_run = ?, fetched = ?, valid = ?, rejected = ?,
		duplicates = ?, scored = ?, saved = ?, critical = ?, high = ?, fallbacks = ?,
		error = ?, started_at = ?, finished_at = ?
	WHERE id = ?`

	runCols = `id, status, sources, dry_run, fetched, valid, rejected, duplicates, scored, saved,
		critical, high, fallbacks, error, started_at, finished_at`

	opportunityCols = `record_id, run_id, category, name, address, city, province, country, capacity,
		license_number, license_status, phone, email, discovered_date, source, source_url,
		type, notes, details, ai_score, priority, capacity_score, location_score, stage_score,
		scoring_method, ai_reasoning, ai_recommendation`

	licenseSeedSQL = `SELECT license_number FROM opportunities WHERE license_number <> ''`
	addressSeedSQL = `SELECT LOWER(address) FROM opportunities WHERE address <> ''`
)

// opportunityRow mirrors the opportunities table minus created_at and follow_up_status.
type opportunityRow struct {
	RecordID         string `db:"record_id"`
	RunID            string `db:"run_id"`
	Category         string `db:"category"`
	Name             string `db:"name"`
	Address          string `db:"address"`
	City             string `db:"city"`
	Province         string `db:"province"`
	Country          string `db:"country"`
	Capacity         *int   `db:"capacity"`
	LicenseNumber    string `db:"license_number"`
	LicenseStatus    string `db:"license_status"`
	Phone            string `db:"phone"`
	Email            string `db:"email"`
	DiscoveredDate   string `db:"discovered_date"`
	Source           string `db:"source"`
	SourceURL        string `db:"source_url"`
	Type             string `db:"type"`
	Notes            string `db:"notes"`
	Details          []byte `db:"details"`
	AIScore          int    `db:"ai_score"`
	Priority         string `db:"priority"`
	CapacityScore    int    `db:"capacity_score"`
	LocationScore    int    `db:"location_score"`
	StageScore       int    `db:"stage_score"`
	ScoringMethod    string `db:"scoring_method"`
	AIReasoning      string `db:"ai_reasoning"`
	AIRecommendation string `db:"ai_recommendation"`
}

func opportunityArgs(runID string, category models.Category, o models.Opportunity) ([]any, error) {
	details, err := json.Marshal(o.Details)
	if err != nil {
		return nil, fmt.Errorf("encode details for %s: %w", o.Name, err)
	}
	return []any{
		models.RecordID(o), runID, string(category), o.Name, o.Address, o.City, o.Province, o.Country, o.Capacity,
		o.LicenseNumber, o.LicenseStatus, o.Phone, o.Email, o.DiscoveredDate, o.Source, o.SourceURL,
		o.Type, o.Notes, string(details), o.AIScore, string(o.Priority), o.CapacityScore, o.LocationScore, o.StageScore,
		string(o.ScoringMethod), o.AIReasoning, o.AIRecommendation,
	}, nil
}

func (r opportunityRow) toModel() models.Opportunity {
	o := models.Opportunity{
		Name:             r.Name,
		Address:          r.Address,
		City:             r.City,
		Province:         r.Province,
		Country:          r.Country,
		Capacity:         r.Capacity,
		LicenseNumber:    r.LicenseNumber,
		LicenseStatus:    r.LicenseStatus,
		Phone:            r.Phone,
		Email:            r.Email,
		DiscoveredDate:   r.DiscoveredDate,
		Source:           r.Source,
		SourceURL:        r.SourceURL,
		Type:             r.Type,
		Notes:            r.Notes,
		AIScore:          r.AIScore,
		Priority:         models.Priority(r.Priority),
		CapacityScore:    r.CapacityScore,
		LocationScore:    r.LocationScore,
		StageScore:       r.StageScore,
		ScoringMethod:    models.ScoringMethod(r.ScoringMethod),
		AIReasoning:      r.AIReasoning,
		AIRecommendation: r.AIRecommendation,
	}
	if len(r.Details) > 0 {
		_ = json.Unmarshal(r.Details, &o.Details)
	}
	return o
}

// classifiedArgs flattens the buckets into insert arguments in bucket order.
func classifiedArgs(runID string, c report.Classified) ([][]any, error) {
	buckets := []struct {
		category models.Category
		records  []models.Opportunity
	}{
		{models.CategoryNewProject, c.NewProjects},
		{models.CategorySale, c.Sales},
		{models.CategoryTender, c.Tenders},
	}
	var out [][]any
	for _, b := range buckets {
		for _, o := range b.records {
			args, err := opportunityArgs(runID, b.category, o)
			if err != nil {
				return nil, err
			}
			out = append(out, args)
		}
	}
	return out, nil
}

func sourceStatusArgs(s models.SourceStatus, now time.Time) []any {
	attempt := s.CheckedAt
	if attempt.IsZero() {
		attempt = now
	}
	var lastSuccess *time.Time
	if s.Status == models.SourceStatusOK {
		lastSuccess = &attempt
	}
	return []any{s.Name, s.Type, s.Status, s.Count, s.Total, s.Error, s.ResponseTime.Milliseconds(), attempt, lastSuccess}
}

func dailyStatsArgs(day string, s report.Stats, status string) []any {
	return []any{
		day, s.CanadaNew, s.CanadaSales, s.CanadaTenders, s.AustraliaNew, s.AustraliaSales,
		s.AustraliaTenders, s.CriticalCount, s.HighCount, s.Total, status,
	}
}

// buildListWhere renders the filter clause for ListOpportunities with ? placeholders.
func buildListWhere(p store.ListParams) (string, []any) {
	where := "WHERE 1=1"
	var args []any

	if q := strings.ToLower(strings.TrimSpace(p.Query)); q != "" {
		where += " AND (LOWER(name) LIKE ? OR LOWER(address) LIKE ?)"
		args = append(args, "%"+q+"%", "%"+q+"%")
	}
	if c := strings.ToLower(strings.TrimSpace(p.Country)); c != "" {
		where += " AND LOWER(country) LIKE ?"
		args = append(args, "%"+c+"%")
	}
	if p.Province != "" {
		where += " AND province = ?"
		args = append(args, p.Province)
	}
	if p.Category != "" {
		where += " AND category = ?"
		args = append(args, string(p.Category))
	}
	if p.Priority != "" {
		where += " AND priority = ?"
		args = append(args, string(p.Priority))
	}
	if p.MinScore > 0 {
		where += " AND ai_score >= ?"
		args = append(args, p.MinScore)
	}
	if p.RunID != "" {
		where += " AND run_id = ?"
		args = append(args, p.RunID)
	}
	return where, args
}

func normalizeListParams(p store.ListParams) store.ListParams {
	p.Limit = store.ClampLimit(p.Limit)
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// listSQL returns the count and page queries for p.
func listSQL(p store.ListParams) (countSQL, pageSQL string, args []any) {
	where, args := buildListWhere(p)
	countSQL = "SELECT COUNT(*) FROM opportunities " + where
	pageSQL = fmt.Sprintf("SELECT %s FROM opportunities %s ORDER BY ai_score DESC, discovered_date DESC, record_id LIMIT ? OFFSET ?",
		opportunityCols, where)
	return countSQL, pageSQL, args
}

func runArgs(r models.Run) []any {
	return []any{
		r.ID, r.Status, r.Sources, r.DryRun, r.Fetched, r.Valid, r.Rejected, r.Duplicates, r.Scored, r.Saved,
		r.Critical, r.High, r.Fallbacks, r.Error, r.StartedAt, r.FinishedAt,
	}
}

// finishArgs orders a run's columns for finishRunSQL.
func finishArgs(r models.Run) []any {
	args := runArgs(r)
	return append(args[1:], r.ID)
}

func emptyOverview() store.Overview {
	return store.Overview{ByPriority: map[string]int{}, ByCategory: map[string]int{}}
}
