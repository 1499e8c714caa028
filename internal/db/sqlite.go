package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/david/childcare-leads/internal/models"
	"github.com/david/childcare-leads/internal/report"
	"github.com/david/childcare-leads/internal/store"
)

// sqliteTimeLayout is fixed width so text order matches time order.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore keeps everything in one local database file. Timestamps are
// stored as UTC text.
type SQLiteStore struct {
	db     *sqlx.DB
	logger *zap.Logger
	now    func() time.Time
}

var (
	_ store.Store   = (*SQLiteStore)(nil)
	_ store.Browser = (*SQLiteStore)(nil)
)

// OpenSQLite opens (or creates) the database at path and migrates it.
func OpenSQLite(ctx context.Context, path string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := ApplySQLiteMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db, logger: logger, now: time.Now}, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

// textTimes replaces time arguments with their stored text form.
func textTimes(args []any) []any {
	out := make([]any, len(args))
	for i, a := range args {
		switch v := a.(type) {
		case time.Time:
			out[i] = formatTime(v)
		case *time.Time:
			out[i] = formatTimePtr(v)
		default:
			out[i] = a
		}
	}
	return out
}

func (s *SQLiteStore) ExistingLicenseNumbers(ctx context.Context) ([]string, error) {
	var out []string
	err := s.db.SelectContext(ctx, &out, licenseSeedSQL)
	return out, err
}

func (s *SQLiteStore) ExistingAddresses(ctx context.Context) ([]string, error) {
	var out []string
	err := s.db.SelectContext(ctx, &out, addressSeedSQL)
	return out, err
}

func (s *SQLiteStore) AppendOpportunities(ctx context.Context, runID string, c report.Classified) (int, error) {
	all, err := classifiedArgs(runID, c)
	if err != nil {
		return 0, err
	}
	if len(all) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	written := 0
	for _, args := range all {
		res, err := tx.ExecContext(ctx, insertOpportunitySQL, args...)
		if err != nil {
			return 0, fmt.Errorf("insert opportunity: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		written += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	s.logger.Info("stored opportunities", zap.Int("records", len(all)), zap.Int("inserted", written))
	return written, nil
}

func (s *SQLiteStore) UpdateSourceStatus(ctx context.Context, statuses []models.SourceStatus) error {
	now := s.now()
	for _, st := range statuses {
		if _, err := s.db.ExecContext(ctx, upsertSourceStatusSQL, textTimes(sourceStatusArgs(st, now))...); err != nil {
			return fmt.Errorf("upsert source status %s: %w", st.Name, err)
		}
	}
	return nil
}

func (s *SQLiteStore) AppendDailyStats(ctx context.Context, day string, stats report.Stats, status string) error {
	if _, err := s.db.ExecContext(ctx, insertDailyStatsSQL, dailyStatsArgs(day, stats, status)...); err != nil {
		return fmt.Errorf("insert daily stats: %w", err)
	}
	return nil
}

func (s *SQLiteStore) StartRun(ctx context.Context, run models.Run) error {
	if _, err := s.db.ExecContext(ctx, insertRunSQL, textTimes(runArgs(run))...); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (s *SQLiteStore) FinishRun(ctx context.Context, run models.Run) error {
	res, err := s.db.ExecContext(ctx, finishRunSQL, textTimes(finishArgs(run))...)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return s.StartRun(ctx, run)
	}
	return nil
}

// sqliteRun is models.Run with text timestamps.
type sqliteRun struct {
	ID         string         `db:"id"`
	Status     string         `db:"status"`
	Sources    string         `db:"sources"`
	DryRun     bool           `db:"dry_run"`
	Fetched    int            `db:"fetched"`
	Valid      int            `db:"valid"`
	Rejected   int            `db:"rejected"`
	Duplicates int            `db:"duplicates"`
	Scored     int            `db:"scored"`
	Saved      int            `db:"saved"`
	Critical   int            `db:"critical"`
	High       int            `db:"high"`
	Fallbacks  int            `db:"fallbacks"`
	Error      string         `db:"error"`
	StartedAt  string         `db:"started_at"`
	FinishedAt sql.NullString `db:"finished_at"`
}

func (r sqliteRun) toModel() (models.Run, error) {
	run := models.Run{
		ID:         r.ID,
		Status:     r.Status,
		Sources:    r.Sources,
		DryRun:     r.DryRun,
		Fetched:    r.Fetched,
		Valid:      r.Valid,
		Rejected:   r.Rejected,
		Duplicates: r.Duplicates,
		Scored:     r.Scored,
		Saved:      r.Saved,
		Critical:   r.Critical,
		High:       r.High,
		Fallbacks:  r.Fallbacks,
		Error:      r.Error,
	}
	started, err := time.Parse(sqliteTimeLayout, r.StartedAt)
	if err != nil {
		return models.Run{}, fmt.Errorf("run %s: bad started_at: %w", run.ID, err)
	}
	run.StartedAt = started
	if r.FinishedAt.Valid {
		finished, err := time.Parse(sqliteTimeLayout, r.FinishedAt.String)
		if err != nil {
			return models.Run{}, fmt.Errorf("run %s: bad finished_at: %w", run.ID, err)
		}
		run.FinishedAt = &finished
	}
	return run, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]models.Run, error) {
	var rows []sqliteRun
	if err := s.db.SelectContext(ctx, &rows,
		"SELECT "+runCols+" FROM ingest_runs ORDER BY started_at DESC LIMIT ?", store.ClampLimit(limit)); err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	runs := make([]models.Run, 0, len(rows))
	for _, r := range rows {
		run, err := r.toModel()
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (models.Run, error) {
	var row sqliteRun
	err := s.db.GetContext(ctx, &row, "SELECT "+runCols+" FROM ingest_runs WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Run{}, store.ErrNotFound
	}
	if err != nil {
		return models.Run{}, fmt.Errorf("query run: %w", err)
	}
	return row.toModel()
}

func (s *SQLiteStore) ListOpportunities(ctx context.Context, params store.ListParams) (store.ListResult, error) {
	params = normalizeListParams(params)
	countSQL, pageSQL, args := listSQL(params)

	var total int
	if err := s.db.GetContext(ctx, &total, countSQL, args...); err != nil {
		return store.ListResult{}, fmt.Errorf("count failed: %w", err)
	}

	var rows []opportunityRow
	if err := s.db.SelectContext(ctx, &rows, pageSQL, append(args, params.Limit, params.Offset)...); err != nil {
		return store.ListResult{}, fmt.Errorf("query failed: %w", err)
	}
	opps := make([]models.Opportunity, 0, len(rows))
	for _, r := range rows {
		opps = append(opps, r.toModel())
	}
	return store.ListResult{Opportunities: opps, Total: total, Limit: params.Limit, Offset: params.Offset}, nil
}

type groupCount struct {
	Key   string `db:"k"`
	Count int    `db:"n"`
}

func (s *SQLiteStore) groupCounts(ctx context.Context, column string, into map[string]int) error {
	var rows []groupCount
	query := fmt.Sprintf("SELECT %s AS k, COUNT(*) AS n FROM opportunities GROUP BY %s", column, column)
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return err
	}
	for _, r := range rows {
		into[r.Key] = r.Count
	}
	return nil
}

func (s *SQLiteStore) Overview(ctx context.Context) (store.Overview, error) {
	ov := emptyOverview()
	if err := s.db.QueryRowxContext(ctx, "SELECT COUNT(*), COUNT(DISTINCT source) FROM opportunities").Scan(&ov.Total, &ov.Sources); err != nil {
		return ov, fmt.Errorf("count opportunities: %w", err)
	}
	if err := s.groupCounts(ctx, "priority", ov.ByPriority); err != nil {
		return ov, fmt.Errorf("count by priority: %w", err)
	}
	if err := s.groupCounts(ctx, "category", ov.ByCategory); err != nil {
		return ov, fmt.Errorf("count by category: %w", err)
	}
	return ov, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
