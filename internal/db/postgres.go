package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/david/childcare-leads/internal/models"
	"github.com/david/childcare-leads/internal/report"
	"github.com/david/childcare-leads/internal/store"
)

// PostgresStore is the pgx backed store.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	now    func() time.Time
}

var (
	_ store.Store   = (*PostgresStore)(nil)
	_ store.Browser = (*PostgresStore)(nil)
)

func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresStore{pool: pool, logger: logger, now: time.Now}
}

// OpenPostgres connects, migrates and returns a ready store.
func OpenPostgres(ctx context.Context, dbURL string, logger *zap.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	pool, err := Connect(ctx, dbURL)
	if err != nil {
		return nil, err
	}
	if err := ApplyMigrations(ctx, pool, logger); err != nil {
		pool.Close()
		return nil, err
	}
	return NewPostgresStore(pool, logger), nil
}

func dollar(query string) string {
	return sqlx.Rebind(sqlx.DOLLAR, query)
}

func (s *PostgresStore) column(ctx context.Context, query string) ([]string, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *PostgresStore) ExistingLicenseNumbers(ctx context.Context) ([]string, error) {
	return s.column(ctx, licenseSeedSQL)
}

func (s *PostgresStore) ExistingAddresses(ctx context.Context) ([]string, error) {
	return s.column(ctx, addressSeedSQL)
}

// AppendOpportunities inserts every record in one transaction. Records whose
// RecordID is already stored are skipped and not counted.
func (s *PostgresStore) AppendOpportunities(ctx context.Context, runID string, c report.Classified) (int, error) {
	all, err := classifiedArgs(runID, c)
	if err != nil {
		return 0, err
	}
	if len(all) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	query := dollar(insertOpportunitySQL)
	written := 0
	for _, args := range all {
		tag, err := tx.Exec(ctx, query, args...)
		if err != nil {
			return 0, fmt.Errorf("insert opportunity: %w", err)
		}
		written += int(tag.RowsAffected())
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	s.logger.Info("stored opportunities", zap.Int("records", len(all)), zap.Int("inserted", written))
	return written, nil
}

func (s *PostgresStore) UpdateSourceStatus(ctx context.Context, statuses []models.SourceStatus) error {
	query := dollar(upsertSourceStatusSQL)
	now := s.now()
	for _, st := range statuses {
		if _, err := s.pool.Exec(ctx, query, sourceStatusArgs(st, now)...); err != nil {
			return fmt.Errorf("upsert source status %s: %w", st.Name, err)
		}
	}
	return nil
}

func (s *PostgresStore) AppendDailyStats(ctx context.Context, day string, stats report.Stats, status string) error {
	if _, err := s.pool.Exec(ctx, dollar(insertDailyStatsSQL), dailyStatsArgs(day, stats, status)...); err != nil {
		return fmt.Errorf("insert daily stats: %w", err)
	}
	return nil
}

func (s *PostgresStore) StartRun(ctx context.Context, run models.Run) error {
	if _, err := s.pool.Exec(ctx, dollar(insertRunSQL), runArgs(run)...); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (s *PostgresStore) FinishRun(ctx context.Context, run models.Run) error {
	tag, err := s.pool.Exec(ctx, dollar(finishRunSQL), finishArgs(run)...)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.StartRun(ctx, run)
	}
	return nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]models.Run, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+runCols+" FROM ingest_runs ORDER BY started_at DESC LIMIT $1", store.ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	runs, err := pgx.CollectRows(rows, pgx.RowToStructByName[models.Run])
	if err != nil {
		return nil, fmt.Errorf("scan runs: %w", err)
	}
	if runs == nil {
		runs = []models.Run{}
	}
	return runs, nil
}

func (s *PostgresStore) GetRun(ctx context.Context, id string) (models.Run, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+runCols+" FROM ingest_runs WHERE id = $1", id)
	if err != nil {
		return models.Run{}, fmt.Errorf("query run: %w", err)
	}
	run, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[models.Run])
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Run{}, store.ErrNotFound
	}
	if err != nil {
		return models.Run{}, fmt.Errorf("scan run: %w", err)
	}
	return run, nil
}

func (s *PostgresStore) ListOpportunities(ctx context.Context, params store.ListParams) (store.ListResult, error) {
	params = normalizeListParams(params)
	countSQL, pageSQL, args := listSQL(params)

	var total int
	if err := s.pool.QueryRow(ctx, dollar(countSQL), args...).Scan(&total); err != nil {
		return store.ListResult{}, fmt.Errorf("count failed: %w", err)
	}

	rows, err := s.pool.Query(ctx, dollar(pageSQL), append(args, params.Limit, params.Offset)...)
	if err != nil {
		return store.ListResult{}, fmt.Errorf("query failed: %w", err)
	}
	scanned, err := pgx.CollectRows(rows, pgx.RowToStructByName[opportunityRow])
	if err != nil {
		return store.ListResult{}, fmt.Errorf("scan failed: %w", err)
	}

	opps := make([]models.Opportunity, 0, len(scanned))
	for _, r := range scanned {
		opps = append(opps, r.toModel())
	}
	return store.ListResult{Opportunities: opps, Total: total, Limit: params.Limit, Offset: params.Offset}, nil
}

func (s *PostgresStore) groupCounts(ctx context.Context, column string, into map[string]int) error {
	rows, err := s.pool.Query(ctx, fmt.Sprintf("SELECT %s, COUNT(*) FROM opportunities GROUP BY %s", column, column))
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return err
		}
		into[key] = count
	}
	return rows.Err()
}

func (s *PostgresStore) Overview(ctx context.Context) (store.Overview, error) {
	ov := emptyOverview()
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*), COUNT(DISTINCT source) FROM opportunities").Scan(&ov.Total, &ov.Sources); err != nil {
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

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
