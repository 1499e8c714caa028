package db

import (
	"context"
	"embed"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

type migration struct {
	name string
	sql  string
}

func loadMigrations(dialect string) ([]migration, error) {
	dir := path.Join("migrations", dialect)
	entries, err := migrationsFS.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded migrations: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	out := make([]migration, 0, len(names))
	for _, name := range names {
		content, err := migrationsFS.ReadFile(path.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read migration file %s: %w", name, err)
		}
		out = append(out, migration{name: name, sql: string(content)})
	}
	return out, nil
}

// ApplyMigrations runs every embedded postgres migration not yet recorded in
// schema_migrations.
func ApplyMigrations(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) error {
	if _, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("failed to ensure schema_migrations table: %w", err)
	}

	migrations, err := loadMigrations("postgres")
	if err != nil {
		return err
	}

	for _, m := range migrations {
		var alreadyApplied bool
		err := pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE filename = $1)", m.name).Scan(&alreadyApplied)
		if err != nil {
			return fmt.Errorf("failed to check migration %s: %w", m.name, err)
		}
		if alreadyApplied {
			continue
		}

		logger.Info("applying migration", zap.String("file", m.name))
		if _, err = pool.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", m.name, err)
		}

		if _, err = pool.Exec(ctx, "INSERT INTO schema_migrations (filename) VALUES ($1)", m.name); err != nil {
			return fmt.Errorf("failed to mark migration %s as applied: %w", m.name, err)
		}
	}

	return nil
}

// ApplySQLiteMigrations is ApplyMigrations for the sqlite backend. Each file
// runs in its own transaction.
func ApplySQLiteMigrations(ctx context.Context, db *sqlx.DB, logger *zap.Logger) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("failed to ensure schema_migrations table: %w", err)
	}

	migrations, err := loadMigrations("sqlite")
	if err != nil {
		return err
	}

	for _, m := range migrations {
		var applied int
		if err := db.GetContext(ctx, &applied, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", m.name); err != nil {
			return fmt.Errorf("failed to check migration %s: %w", m.name, err)
		}
		if applied > 0 {
			continue
		}

		logger.Info("applying migration", zap.String("file", m.name))
		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %s: %w", m.name, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", m.name); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to mark migration %s as applied: %w", m.name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %s: %w", m.name, err)
		}
	}
	return nil
}
