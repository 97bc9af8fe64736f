package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"

	"github.com/g960059/setrouble/internal/model"
	"github.com/g960059/setrouble/internal/security"
)

var (
	ErrDuplicate = errors.New("duplicate")
	ErrNotFound  = errors.New("not found")
)

const defaultListLimit = 50

// Store is the fix journal. It records operator fix requests and their
// outcome; alert state is never stored.
type Store struct {
	db *sql.DB
}

// Open opens the journal at path and brings its schema up to date.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, errors.Wrap(err, "create db dir")
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, errors.Wrap(err, "ping sqlite")
	}
	if err := os.Chmod(path, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
		db.Close() //nolint:errcheck
		return nil, errors.Wrap(err, "chmod db path")
	}
	if err := ApplyMigrations(ctx, db); err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

// RecordFix journals a finished fix request. Error text is redacted before
// it is written.
func (s *Store) RecordFix(ctx context.Context, rec model.FixRecord) error {
	if rec.ErrorText != nil {
		redacted := security.RedactError(*rec.ErrorText)
		rec.ErrorText = &redacted
	}
	if rec.Output != nil {
		redacted := security.RedactPayload(*rec.Output)
		rec.Output = &redacted
	}
	return s.InsertFix(ctx, rec)
}

func (s *Store) InsertFix(ctx context.Context, rec model.FixRecord) error {
	if rec.RequestedAt.IsZero() {
		rec.RequestedAt = time.Now().UTC()
	}
	if rec.ResultCode == "" {
		rec.ResultCode = model.FixResultFailed
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO fixes(fix_id, request_ref, alert_id, analysis_id, requested_at, completed_at, result_code, action_id, error_text, output)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, rec.FixID, rec.RequestRef, rec.AlertID, rec.AnalysisID, ts(rec.RequestedAt), nullableTS(rec.CompletedAt), string(rec.ResultCode), nullableStr(rec.ActionID), nullableStr(rec.ErrorText), nullableStr(rec.Output))
	if err != nil {
		if isUniqueErr(err) {
			return ErrDuplicate
		}
		return errors.Wrap(err, "insert fix")
	}
	return nil
}

const fixColumns = `fix_id, request_ref, alert_id, analysis_id, requested_at, completed_at, result_code, action_id, error_text, output`

func (s *Store) GetFix(ctx context.Context, fixID string) (model.FixRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+fixColumns+` FROM fixes WHERE fix_id = ?`, fixID)
	return scanFix(row)
}

func (s *Store) GetFixByRequestRef(ctx context.Context, requestRef string) (model.FixRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+fixColumns+` FROM fixes WHERE request_ref = ?`, requestRef)
	return scanFix(row)
}

type ListFixesOptions struct {
	AlertID string
	Limit   int
}

// ListFixes returns journal rows newest first.
func (s *Store) ListFixes(ctx context.Context, opts ListFixesOptions) ([]model.FixRecord, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query := `SELECT ` + fixColumns + ` FROM fixes`
	args := []any{}
	if alertID := strings.TrimSpace(opts.AlertID); alertID != "" {
		query += ` WHERE alert_id = ?`
		args = append(args, alertID)
	}
	query += ` ORDER BY requested_at DESC, fix_id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list fixes")
	}
	defer rows.Close() //nolint:errcheck

	out := make([]model.FixRecord, 0)
	for rows.Next() {
		rec, err := scanFix(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate fixes")
	}
	return out, nil
}

// PurgeBefore deletes rows requested before cutoff and reports how many
// were removed.
func (s *Store) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM fixes WHERE requested_at < ?`, ts(cutoff))
	if err != nil {
		return 0, errors.Wrap(err, "purge fixes")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "purge fixes rows affected")
	}
	return n, nil
}

func scanFix(scanner interface{ Scan(dest ...any) error }) (model.FixRecord, error) {
	var (
		requestedAt string
		completedAt sql.NullString
		resultCode  string
		actionID    sql.NullString
		errorText   sql.NullString
		output      sql.NullString
		out         model.FixRecord
	)
	if err := scanner.Scan(
		&out.FixID,
		&out.RequestRef,
		&out.AlertID,
		&out.AnalysisID,
		&requestedAt,
		&completedAt,
		&resultCode,
		&actionID,
		&errorText,
		&output,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.FixRecord{}, ErrNotFound
		}
		return model.FixRecord{}, errors.Wrap(err, "scan fix")
	}
	out.ResultCode = model.FixResult(resultCode)
	out.ActionID = nullString(actionID)
	out.ErrorText = nullString(errorText)
	out.Output = nullString(output)

	parsed, err := parseTS(requestedAt)
	if err != nil {
		return model.FixRecord{}, errors.Wrap(err, "parse fix requested_at")
	}
	out.RequestedAt = parsed
	if completedAt.Valid {
		parsedCompleted, parseErr := parseTS(completedAt.String)
		if parseErr != nil {
			return model.FixRecord{}, errors.Wrap(parseErr, "parse fix completed_at")
		}
		out.CompletedAt = &parsedCompleted
	}
	return out, nil
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullableTS(v *time.Time) any {
	if v == nil {
		return nil
	}
	return ts(*v)
}

func nullableStr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

// tsLayout is fixed width so that text order matches time order.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

func ts(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTS(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func isUniqueErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed: UNIQUE")
}
