package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/tse-report-engine/internal/domain"
)

// SQLiteStore implements domain.Store on a local SQLite file.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
	log    *logrus.Logger
}

// NewSQLiteStore opens (or creates) the database file, creates the schema
// and repairs databases created by older releases.
func NewSQLiteStore(ctx context.Context, dbPath string, logger *logrus.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// sqlite allows a single writer
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	s := newSQLiteStore(db, dbPath, logger)
	if err := s.createSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	if _, err := s.SanityCheck(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed database sanity check: %w", err)
	}
	return s, nil
}

func newSQLiteStore(db *sql.DB, dbPath string, logger *logrus.Logger) *SQLiteStore {
	return &SQLiteStore{db: db, dbPath: dbPath, log: logger}
}

func (s *SQLiteStore) createSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS reports (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sender_id TEXT NOT NULL DEFAULT '',
		version TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT '',
		data TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS summarized_info (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		report_id INTEGER NOT NULL,
		type TEXT NOT NULL DEFAULT '',
		data TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS case_reports (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		report_id INTEGER NOT NULL,
		summary_id INTEGER NOT NULL,
		samp_id TEXT NOT NULL DEFAULT '',
		data TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS analytical_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		report_id INTEGER NOT NULL,
		summary_id INTEGER NOT NULL,
		case_id INTEGER NOT NULL,
		data TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_summarized_info_report ON summarized_info(report_id);
	CREATE INDEX IF NOT EXISTS idx_case_reports_summary ON case_reports(summary_id);
	CREATE INDEX IF NOT EXISTS idx_case_reports_report ON case_reports(report_id);
	CREATE INDEX IF NOT EXISTS idx_analytical_results_case ON analytical_results(case_id);
	CREATE INDEX IF NOT EXISTS idx_analytical_results_report ON analytical_results(report_id);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// legacyColumns are the columns added to the first schema release. Older
// database files are upgraded in place.
var legacyColumns = []struct {
	table, column, ddl string
}{
	{"reports", "aggregator_id", "TEXT NOT NULL DEFAULT ''"},
	{"reports", "dc_code", "TEXT NOT NULL DEFAULT ''"},
	{"reports", "type", "TEXT NOT NULL DEFAULT ''"},
}

// SanityCheck adds the columns missing from older database files and
// reports whether anything changed.
func (s *SQLiteStore) SanityCheck(ctx context.Context) (bool, error) {
	changed := false
	for _, lc := range legacyColumns {
		exists, err := s.columnExists(ctx, lc.table, lc.column)
		if err != nil {
			return changed, err
		}
		if exists {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", lc.table, lc.column, lc.ddl)
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return changed, fmt.Errorf("adding column %s.%s: %w", lc.table, lc.column, err)
		}
		s.log.WithFields(logrus.Fields{
			"table":  lc.table,
			"column": lc.column,
		}).Info("Added missing column")
		changed = true
	}
	return changed, nil
}

func (s *SQLiteStore) columnExists(ctx context.Context, tableName, column string) (bool, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return false, fmt.Errorf("reading columns of %s: %w", tableName, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return false, fmt.Errorf("scanning columns of %s: %w", tableName, err)
		}
		if strings.EqualFold(name, column) {
			return true, nil
		}
	}
	return false, rows.Err()
}

// Add inserts the record and assigns its id.
func (s *SQLiteStore) Add(ctx context.Context, rec domain.Record) error {
	t, err := tableFor(rec.Kind())
	if err != nil {
		return err
	}
	data, err := encodeCells(rec)
	if err != nil {
		return err
	}

	pcols, pvals := t.parentValues(rec)
	icols, ivals := t.indexedColumns(rec)
	cols := append(append(pcols, icols...), "data", "created_at", "updated_at")
	ts := now()
	vals := append(append(pvals, ivals...), string(data), ts, ts)

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		t.name, strings.Join(cols, ", "), placeholders(len(cols)))

	result, err := s.db.ExecContext(ctx, query, vals...)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"kind":  rec.Kind().String(),
			"error": err,
		}).Error("Failed to add record")
		return fmt.Errorf("adding %s: %w", rec.Kind(), err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get insert ID: %w", err)
	}
	rec.SetRecordID(id)

	s.log.WithFields(logrus.Fields{
		"kind": rec.Kind().String(),
		"id":   id,
	}).Debug("Record added")
	return nil
}

// Update rewrites every column of a persisted record.
func (s *SQLiteStore) Update(ctx context.Context, rec domain.Record) error {
	t, err := tableFor(rec.Kind())
	if err != nil {
		return err
	}
	data, err := encodeCells(rec)
	if err != nil {
		return err
	}

	pcols, pvals := t.parentValues(rec)
	icols, ivals := t.indexedColumns(rec)
	cols := append(append(pcols, icols...), "data", "updated_at")
	vals := append(append(pvals, ivals...), string(data), now())

	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = c + " = ?"
	}
	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", t.name, strings.Join(sets, ", "))

	result, err := s.db.ExecContext(ctx, query, append(vals, rec.RecordID())...)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"kind":  rec.Kind().String(),
			"id":    rec.RecordID(),
			"error": err,
		}).Error("Failed to update record")
		return fmt.Errorf("updating %s %d: %w", rec.Kind(), rec.RecordID(), err)
	}
	return expectAffected(result, rec.Kind(), rec.RecordID())
}

// Delete removes the record and every record below it.
func (s *SQLiteStore) Delete(ctx context.Context, rec domain.Record) error {
	t, err := tableFor(rec.Kind())
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ?", t.name), rec.RecordID()); err != nil {
		return fmt.Errorf("deleting %s %d: %w", rec.Kind(), rec.RecordID(), err)
	}
	if err := deleteDescendantsTx(ctx, tx, rec.Kind(), rec.RecordID()); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteByParentID removes the records of kind below the parent and their
// own descendants.
func (s *SQLiteStore) DeleteByParentID(ctx context.Context, kind, parent domain.Kind, parentID int64) error {
	t, err := tableFor(kind)
	if err != nil {
		return err
	}
	if !t.hasParent(parent) {
		return fmt.Errorf("%w: %s has no %s parent", domain.ErrInvalidKind, kind, parent)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for k := kind; k <= domain.KindResult; k++ {
		kt := tables[k]
		query := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", kt.name, parentSQLColumns[parent])
		if _, err := tx.ExecContext(ctx, query, parentID); err != nil {
			return fmt.Errorf("deleting %s by %s %d: %w", k, parent, parentID, err)
		}
	}
	return tx.Commit()
}

func deleteDescendantsTx(ctx context.Context, tx *sql.Tx, kind domain.Kind, id int64) error {
	for k := kind + 1; k <= domain.KindResult; k++ {
		kt := tables[k]
		query := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", kt.name, parentSQLColumns[kind])
		if _, err := tx.ExecContext(ctx, query, id); err != nil {
			return fmt.Errorf("deleting %s below %s %d: %w", k, kind, id, err)
		}
	}
	return nil
}

// GetByID loads one record.
func (s *SQLiteStore) GetByID(ctx context.Context, kind domain.Kind, id int64) (domain.Record, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	var data string
	err = s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT data FROM %s WHERE id = ?", t.name), id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %d not found: %w", kind, id, domain.ErrNotFound)
	}
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"kind":  kind.String(),
			"id":    id,
			"error": err,
		}).Error("Failed to get record by ID")
		return nil, fmt.Errorf("getting %s by ID: %w", kind, err)
	}
	return decodeRecord(kind, id, []byte(data))
}

// GetByParentID lists the records of kind below the parent.
func (s *SQLiteStore) GetByParentID(ctx context.Context, kind, parent domain.Kind, parentID int64, order domain.Order) ([]domain.Record, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	if !t.hasParent(parent) {
		return nil, fmt.Errorf("%w: %s has no %s parent", domain.ErrInvalidKind, kind, parent)
	}
	query := fmt.Sprintf("SELECT id, data FROM %s WHERE %s = ? %s", t.name, parentSQLColumns[parent], orderClause(order))
	return s.query(ctx, kind, query, parentID)
}

// GetByStringField lists the records of kind whose column equals value.
func (s *SQLiteStore) GetByStringField(ctx context.Context, kind domain.Kind, field, value string) ([]domain.Record, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	if col, ok := t.indexed[field]; ok {
		query := fmt.Sprintf("SELECT id, data FROM %s WHERE %s = ? ORDER BY id ASC", t.name, col)
		return s.query(ctx, kind, query, value)
	}
	query := fmt.Sprintf("SELECT id, data FROM %s WHERE json_extract(data, ?) = ? ORDER BY id ASC", t.name)
	return s.query(ctx, kind, query, jsonCodePath(field), value)
}

// GetAll lists every record of kind.
func (s *SQLiteStore) GetAll(ctx context.Context, kind domain.Kind) ([]domain.Record, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	return s.query(ctx, kind, fmt.Sprintf("SELECT id, data FROM %s ORDER BY id ASC", t.name))
}

func (s *SQLiteStore) query(ctx context.Context, kind domain.Kind, query string, args ...any) ([]domain.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", kind, err)
	}
	defer rows.Close()

	var out []domain.Record
	for rows.Next() {
		var (
			id   int64
			data string
		)
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		rec, err := decodeRecord(kind, id, []byte(data))
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Health pings the database file.
func (s *SQLiteStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the store and releases resources.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func jsonCodePath(field string) string {
	return `$."` + field + `".code`
}

func expectAffected(result sql.Result, kind domain.Kind, id int64) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d not found: %w", kind, id, domain.ErrNotFound)
	}
	return nil
}

var _ domain.Store = (*SQLiteStore)(nil)
