package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations[i] upgrades the schema from version i to i+1. Statements use
// IF NOT EXISTS so a partially applied step can be re-run.
var migrations = [][]string{
	{
		`CREATE TABLE IF NOT EXISTS jobs (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			app_id      INTEGER NOT NULL,
			name        TEXT    NOT NULL,
			schedule    TEXT    NOT NULL,
			description TEXT    NOT NULL DEFAULT '',
			action      TEXT    NOT NULL,
			config      TEXT    NOT NULL DEFAULT '{}',
			active      INTEGER NOT NULL DEFAULT 1,
			last_run    INTEGER,
			next_run    INTEGER,
			created_at  INTEGER NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_jobs_app ON jobs(app_id, active)`,

		`CREATE TABLE IF NOT EXISTS data_points (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			app_id     INTEGER NOT NULL,
			key        TEXT    NOT NULL,
			value      TEXT    NOT NULL,
			created_at INTEGER NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_data_points_series ON data_points(app_id, key, created_at)`,
	},
}

func schemaVersion() int { return len(migrations) }

// migrate applies the pending migrations, each in its own transaction.
func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("sqlite: create schema_version: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("sqlite: read schema version: %w", err)
	}

	for v := current; v < len(migrations); v++ {
		if err := applyMigration(ctx, db, v+1, migrations[v]); err != nil {
			return err
		}
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, version int, stmts []string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin migration %d: %w", version, err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: migration %d: %w\nstatement: %s", version, err, stmt)
		}
	}
	if _, err := tx.ExecContext(ctx, "INSERT OR REPLACE INTO schema_version (version) VALUES (?)", version); err != nil {
		return fmt.Errorf("sqlite: record schema version: %w", err)
	}
	return tx.Commit()
}
