// Package sqlite provides a SQLite-backed series storage implementation.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/cod31nvictus/eterny/server/recurrence"
	"github.com/cod31nvictus/eterny/server/storage"
	"github.com/samber/mo"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

//go:embed schema.sql
var schemaSQL string

// Store persists series, exceptions and template references in SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates or opens a SQLite database at path and applies the schema.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement, so exceptions follow their series
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	db, err := sql.Open("sqlite", filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PutTemplate inserts or renames a template reference.
func (s *Store) PutTemplate(ctx context.Context, t *storage.Template) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO templates (owner_id, id, name) VALUES (?, ?, ?)
		 ON CONFLICT (owner_id, id) DO UPDATE SET name = excluded.name`,
		t.OwnerID, t.ID, t.Name,
	)
	if err != nil {
		return fmt.Errorf("put template: %w", err)
	}
	return nil
}

func (s *Store) GetTemplate(ctx context.Context, ownerID, templateID string) (*storage.Template, error) {
	t := storage.Template{OwnerID: ownerID, ID: templateID}
	err := s.db.QueryRowContext(ctx,
		`SELECT name FROM templates WHERE owner_id = ? AND id = ?`,
		ownerID, templateID,
	).Scan(&t.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &storage.Error{Type: storage.ErrNotFound, Message: "template not found"}
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	return &t, nil
}

func (s *Store) GetSeries(ctx context.Context, ownerID, seriesID string) (*storage.Series, error) {
	return getSeries(ctx, s.db, ownerID, seriesID)
}

func (s *Store) ListSeries(ctx context.Context, ownerID string, opts *storage.ListOptions) ([]*storage.Series, error) {
	query := `SELECT ` + seriesColumns + ` FROM series WHERE owner_id = ?`
	args := []any{ownerID}
	if opts != nil && opts.ActiveOnly {
		query += ` AND is_active = 1`
	}
	if opts != nil && opts.End != nil {
		query += ` AND start_date <= ?`
		args = append(args, opts.End.String())
	}

	list, err := querySeries(ctx, s.db, query, args...)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*storage.Series, len(list))
	filtered := list[:0]
	for _, ser := range list {
		if opts.Matches(ser) {
			filtered = append(filtered, ser)
			byID[ser.ID] = ser
		}
	}
	if len(filtered) > 0 {
		if err := loadOwnerExceptions(ctx, s.db, ownerID, byID); err != nil {
			return nil, err
		}
	}
	storage.SortSeries(filtered)
	return filtered, nil
}

// WithTx runs fn inside one SQLite transaction. Any error from fn rolls the
// transaction back.
func (s *Store) WithTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &storage.Error{Type: storage.ErrStorageUnavailable, Message: "begin transaction", Err: err}
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(&tx{q: sqlTx, now: s.now}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return &storage.Error{Type: storage.ErrCommit, Message: "commit transaction", Err: err}
	}
	return nil
}

type tx struct {
	q   querier
	now func() time.Time
}

func (t *tx) GetSeries(ctx context.Context, ownerID, seriesID string) (*storage.Series, error) {
	return getSeries(ctx, t.q, ownerID, seriesID)
}

func (t *tx) CreateSeries(ctx context.Context, ser *storage.Series) error {
	if err := ser.Validate(); err != nil {
		return err
	}
	rule, err := recurrence.MarshalRule(ser.Recurrence)
	if err != nil {
		return &storage.Error{Type: storage.ErrInvalidInput, Message: "encode recurrence", Err: err}
	}

	now := t.now().UTC()
	created := ser.Created
	if created.IsZero() {
		created = now
	}
	_, err = t.q.ExecContext(ctx,
		`INSERT INTO series (
		   id, owner_id, template_id, start_date, end_date, recurrence,
		   is_active, notes, version, created_at, modified_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		ser.ID, ser.OwnerID, ser.TemplateID, ser.StartDate.String(), nullDate(ser.EndDate), string(rule),
		boolToInt(ser.IsActive), ser.Notes, toMillis(created), toMillis(now),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &storage.Error{Type: storage.ErrAlreadyExists, Message: "series already exists"}
		}
		return fmt.Errorf("create series: %w", err)
	}
	if err := writeExceptions(ctx, t.q, ser); err != nil {
		return err
	}

	ser.Version = 1
	ser.Created = fromMillis(toMillis(created))
	ser.Modified = fromMillis(toMillis(now))
	return nil
}

func (t *tx) UpdateSeries(ctx context.Context, ser *storage.Series) error {
	if err := ser.Validate(); err != nil {
		return err
	}
	rule, err := recurrence.MarshalRule(ser.Recurrence)
	if err != nil {
		return &storage.Error{Type: storage.ErrInvalidInput, Message: "encode recurrence", Err: err}
	}

	now := t.now().UTC()
	res, err := t.q.ExecContext(ctx,
		`UPDATE series SET
		   template_id = ?, start_date = ?, end_date = ?, recurrence = ?,
		   is_active = ?, notes = ?, version = version + 1, modified_at = ?
		 WHERE id = ? AND owner_id = ? AND version = ?`,
		ser.TemplateID, ser.StartDate.String(), nullDate(ser.EndDate), string(rule),
		boolToInt(ser.IsActive), ser.Notes, toMillis(now),
		ser.ID, ser.OwnerID, ser.Version,
	)
	if err != nil {
		return fmt.Errorf("update series: %w", err)
	}
	if err := checkAffected(ctx, t.q, res, ser.OwnerID, ser.ID, ser.Version); err != nil {
		return err
	}

	if _, err := t.q.ExecContext(ctx, `DELETE FROM series_exceptions WHERE series_id = ?`, ser.ID); err != nil {
		return fmt.Errorf("clear exceptions: %w", err)
	}
	if err := writeExceptions(ctx, t.q, ser); err != nil {
		return err
	}

	ser.Version++
	ser.Modified = fromMillis(toMillis(now))
	return nil
}

func (t *tx) DeleteSeries(ctx context.Context, ownerID, seriesID string, version int64) error {
	res, err := t.q.ExecContext(ctx,
		`DELETE FROM series WHERE id = ? AND owner_id = ? AND version = ?`,
		seriesID, ownerID, version,
	)
	if err != nil {
		return fmt.Errorf("delete series: %w", err)
	}
	return checkAffected(ctx, t.q, res, ownerID, seriesID, version)
}

// checkAffected tells a missing series apart from a version mismatch when
// a guarded write touched no rows.
func checkAffected(ctx context.Context, q querier, res sql.Result, ownerID, seriesID string, version int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	var stored int64
	err = q.QueryRowContext(ctx,
		`SELECT version FROM series WHERE id = ? AND owner_id = ?`,
		seriesID, ownerID,
	).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return &storage.Error{Type: storage.ErrNotFound, Message: "series not found"}
	}
	if err != nil {
		return fmt.Errorf("read series version: %w", err)
	}
	return &storage.Error{
		Type:    storage.ErrConflict,
		Message: fmt.Sprintf("series %s is at version %d, not %d", seriesID, stored, version),
	}
}

const seriesColumns = `id, owner_id, template_id, start_date, end_date, recurrence,
	is_active, notes, version, created_at, modified_at`

func getSeries(ctx context.Context, q querier, ownerID, seriesID string) (*storage.Series, error) {
	list, err := querySeries(ctx, q,
		`SELECT `+seriesColumns+` FROM series WHERE id = ? AND owner_id = ?`,
		seriesID, ownerID,
	)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, &storage.Error{Type: storage.ErrNotFound, Message: "series not found"}
	}
	ser := list[0]
	if err := loadExceptions(ctx, q, ser); err != nil {
		return nil, err
	}
	return ser, nil
}

// querySeries reads every row before returning so that no result set is
// left open on the single connection.
func querySeries(ctx context.Context, q querier, query string, args ...any) ([]*storage.Series, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query series: %w", err)
	}
	defer rows.Close()

	var list []*storage.Series
	for rows.Next() {
		var (
			ser      storage.Series
			start    string
			end      sql.NullString
			rule     string
			active   int
			created  int64
			modified int64
		)
		if err := rows.Scan(&ser.ID, &ser.OwnerID, &ser.TemplateID, &start, &end, &rule,
			&active, &ser.Notes, &ser.Version, &created, &modified); err != nil {
			return nil, fmt.Errorf("scan series: %w", err)
		}

		if ser.StartDate, err = recurrence.ParseDate(start); err != nil {
			return nil, fmt.Errorf("decode start date of %s: %w", ser.ID, err)
		}
		if end.Valid {
			d, err := recurrence.ParseDate(end.String)
			if err != nil {
				return nil, fmt.Errorf("decode end date of %s: %w", ser.ID, err)
			}
			ser.EndDate = mo.Some(d)
		}
		if ser.Recurrence, err = recurrence.UnmarshalRule([]byte(rule)); err != nil {
			return nil, fmt.Errorf("decode recurrence of %s: %w", ser.ID, err)
		}
		ser.IsActive = active != 0
		ser.Created = fromMillis(created)
		ser.Modified = fromMillis(modified)
		list = append(list, &ser)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate series: %w", err)
	}
	return list, nil
}

func loadExceptions(ctx context.Context, q querier, ser *storage.Series) error {
	byID := map[string]*storage.Series{ser.ID: ser}
	return scanExceptions(ctx, q, byID,
		`SELECT series_id, date, action, reason FROM series_exceptions WHERE series_id = ?`,
		ser.ID,
	)
}

func loadOwnerExceptions(ctx context.Context, q querier, ownerID string, byID map[string]*storage.Series) error {
	return scanExceptions(ctx, q, byID,
		`SELECT e.series_id, e.date, e.action, e.reason
		   FROM series_exceptions e JOIN series s ON s.id = e.series_id
		  WHERE s.owner_id = ?`,
		ownerID,
	)
}

func scanExceptions(ctx context.Context, q querier, byID map[string]*storage.Series, query string, args ...any) error {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query exceptions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var seriesID, date, action, reason string
		if err := rows.Scan(&seriesID, &date, &action, &reason); err != nil {
			return fmt.Errorf("scan exception: %w", err)
		}
		ser, ok := byID[seriesID]
		if !ok {
			continue
		}
		d, err := recurrence.ParseDate(date)
		if err != nil {
			return fmt.Errorf("decode exception date of %s: %w", seriesID, err)
		}
		if ser.Exceptions == nil {
			ser.Exceptions = make(map[recurrence.Date]storage.Exception)
		}
		ser.Exceptions[d] = storage.Exception{Date: d, Action: storage.ExceptionAction(action), Reason: reason}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate exceptions: %w", err)
	}
	return nil
}

func writeExceptions(ctx context.Context, q querier, ser *storage.Series) error {
	for _, d := range ser.ExceptionDates() {
		exc := ser.Exceptions[d]
		_, err := q.ExecContext(ctx,
			`INSERT INTO series_exceptions (series_id, date, action, reason) VALUES (?, ?, ?, ?)`,
			ser.ID, d.String(), string(exc.Action), exc.Reason,
		)
		if err != nil {
			return fmt.Errorf("write exception %s: %w", d, err)
		}
	}
	return nil
}

func nullDate(d mo.Option[recurrence.Date]) sql.NullString {
	if v, ok := d.Get(); ok {
		return sql.NullString{String: v.String(), Valid: true}
	}
	return sql.NullString{}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
