package db

import (
	"context"
	"database/sql"

	"github.com/cockroachdb/errors"
)

type Migration struct {
	Version int
	UpSQL   string
	DownSQL string
}

var migrations = []Migration{
	{
		Version: 1,
		UpSQL: `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	applied_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS fixes (
	fix_id TEXT PRIMARY KEY,
	request_ref TEXT NOT NULL UNIQUE,
	alert_id TEXT NOT NULL CHECK(length(alert_id) > 0),
	analysis_id TEXT NOT NULL CHECK(length(analysis_id) > 0),
	requested_at TEXT NOT NULL,
	completed_at TEXT,
	result_code TEXT NOT NULL CHECK(result_code IN ('completed','failed')),
	action_id TEXT,
	error_text TEXT
);

CREATE INDEX IF NOT EXISTS fixes_requested_at ON fixes(requested_at DESC);
`,
		DownSQL: `
DROP INDEX IF EXISTS fixes_requested_at;
DROP TABLE IF EXISTS fixes;
DROP TABLE IF EXISTS schema_migrations;
`,
	},
	{
		Version: 2,
		UpSQL: `
ALTER TABLE fixes ADD COLUMN output TEXT;
CREATE INDEX IF NOT EXISTS fixes_alert_id ON fixes(alert_id, requested_at DESC);
`,
		DownSQL: `
DROP INDEX IF EXISTS fixes_alert_id;
-- The output column goes away with the table in migration 1's DownSQL.
SELECT 1;
`,
	},
}

func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations(version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL)`); err != nil {
		return errors.Wrap(err, "create schema_migrations")
	}

	for _, m := range migrations {
		var exists int
		err := db.QueryRowContext(ctx, `SELECT 1 FROM schema_migrations WHERE version = ?`, m.Version).Scan(&exists)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return errors.Wrapf(err, "check migration %d", m.Version)
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return errors.Wrapf(err, "begin tx for migration %d", m.Version)
		}
		if _, err := tx.ExecContext(ctx, m.UpSQL); err != nil {
			tx.Rollback() //nolint:errcheck
			return errors.Wrapf(err, "apply migration %d", m.Version)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version, applied_at) VALUES (?, datetime('now'))`, m.Version); err != nil {
			tx.Rollback() //nolint:errcheck
			return errors.Wrapf(err, "record migration %d", m.Version)
		}
		if err := tx.Commit(); err != nil {
			return errors.Wrapf(err, "commit migration %d", m.Version)
		}
	}
	return nil
}

func RollbackAll(ctx context.Context, db *sql.DB) error {
	for i := len(migrations) - 1; i >= 0; i-- {
		m := migrations[i]
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return errors.Wrapf(err, "begin rollback tx %d", m.Version)
		}
		if _, err := tx.ExecContext(ctx, m.DownSQL); err != nil {
			tx.Rollback() //nolint:errcheck
			return errors.Wrapf(err, "rollback migration %d", m.Version)
		}
		if err := tx.Commit(); err != nil {
			return errors.Wrapf(err, "commit rollback %d", m.Version)
		}
	}
	return nil
}
