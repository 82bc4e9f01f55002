package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/tse-report-engine/internal/domain"
)

// PostgresStore implements domain.Store on PostgreSQL. The schema is owned
// by the migrations directory.
type PostgresStore struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewPostgresStore creates a store over an established pool.
func NewPostgresStore(db *pgxpool.Pool, logger *logrus.Logger) *PostgresStore {
	return &PostgresStore{
		db:  db,
		log: logger,
	}
}

// Add inserts the record and assigns its id.
func (r *PostgresStore) Add(ctx context.Context, rec domain.Record) error {
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
	cols := append(append(pcols, icols...), "data")
	vals := append(append(pvals, ivals...), data)

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id",
		t.name, strings.Join(cols, ", "), numberedPlaceholders(1, len(cols)))

	var id int64
	if err := r.db.QueryRow(ctx, query, vals...).Scan(&id); err != nil {
		r.log.WithFields(logrus.Fields{
			"kind":  rec.Kind().String(),
			"error": err,
		}).Error("Failed to add record")
		return fmt.Errorf("adding %s: %w", rec.Kind(), err)
	}
	rec.SetRecordID(id)

	r.log.WithFields(logrus.Fields{
		"kind": rec.Kind().String(),
		"id":   id,
	}).Debug("Record added")
	return nil
}

// Update rewrites every column of a persisted record.
func (r *PostgresStore) Update(ctx context.Context, rec domain.Record) error {
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
	cols := append(append(pcols, icols...), "data")
	vals := append(append(pvals, ivals...), data)

	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = fmt.Sprintf("%s = $%d", c, i+1)
	}
	query := fmt.Sprintf("UPDATE %s SET %s, updated_at = NOW() WHERE id = $%d",
		t.name, strings.Join(sets, ", "), len(cols)+1)

	tag, err := r.db.Exec(ctx, query, append(vals, rec.RecordID())...)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"kind":  rec.Kind().String(),
			"id":    rec.RecordID(),
			"error": err,
		}).Error("Failed to update record")
		return fmt.Errorf("updating %s %d: %w", rec.Kind(), rec.RecordID(), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %d not found: %w", rec.Kind(), rec.RecordID(), domain.ErrNotFound)
	}
	return nil
}

// Delete removes the record and every record below it.
func (r *PostgresStore) Delete(ctx context.Context, rec domain.Record) error {
	t, err := tableFor(rec.Kind())
	if err != nil {
		return err
	}

	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = $1", t.name), rec.RecordID()); err != nil {
			return fmt.Errorf("deleting %s %d: %w", rec.Kind(), rec.RecordID(), err)
		}
		for k := rec.Kind() + 1; k <= domain.KindResult; k++ {
			query := fmt.Sprintf("DELETE FROM %s WHERE %s = $1", tables[k].name, parentSQLColumns[rec.Kind()])
			if _, err := tx.Exec(ctx, query, rec.RecordID()); err != nil {
				return fmt.Errorf("deleting %s below %s %d: %w", k, rec.Kind(), rec.RecordID(), err)
			}
		}
		return nil
	})
}

// DeleteByParentID removes the records of kind below the parent and their
// own descendants.
func (r *PostgresStore) DeleteByParentID(ctx context.Context, kind, parent domain.Kind, parentID int64) error {
	t, err := tableFor(kind)
	if err != nil {
		return err
	}
	if !t.hasParent(parent) {
		return fmt.Errorf("%w: %s has no %s parent", domain.ErrInvalidKind, kind, parent)
	}

	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		for k := kind; k <= domain.KindResult; k++ {
			query := fmt.Sprintf("DELETE FROM %s WHERE %s = $1", tables[k].name, parentSQLColumns[parent])
			if _, err := tx.Exec(ctx, query, parentID); err != nil {
				return fmt.Errorf("deleting %s by %s %d: %w", k, parent, parentID, err)
			}
		}
		return nil
	})
}

// GetByID loads one record.
func (r *PostgresStore) GetByID(ctx context.Context, kind domain.Kind, id int64) (domain.Record, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	var data []byte
	err = r.db.QueryRow(ctx, fmt.Sprintf("SELECT data FROM %s WHERE id = $1", t.name), id).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s %d not found: %w", kind, id, domain.ErrNotFound)
		}
		r.log.WithFields(logrus.Fields{
			"kind":  kind.String(),
			"id":    id,
			"error": err,
		}).Error("Failed to get record by ID")
		return nil, fmt.Errorf("getting %s by ID: %w", kind, err)
	}
	return decodeRecord(kind, id, data)
}

// GetByParentID lists the records of kind below the parent.
func (r *PostgresStore) GetByParentID(ctx context.Context, kind, parent domain.Kind, parentID int64, order domain.Order) ([]domain.Record, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	if !t.hasParent(parent) {
		return nil, fmt.Errorf("%w: %s has no %s parent", domain.ErrInvalidKind, kind, parent)
	}
	query := fmt.Sprintf("SELECT id, data FROM %s WHERE %s = $1 %s", t.name, parentSQLColumns[parent], orderClause(order))
	return r.query(ctx, kind, query, parentID)
}

// GetByStringField lists the records of kind whose column equals value.
func (r *PostgresStore) GetByStringField(ctx context.Context, kind domain.Kind, field, value string) ([]domain.Record, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	if col, ok := t.indexed[field]; ok {
		query := fmt.Sprintf("SELECT id, data FROM %s WHERE %s = $1 ORDER BY id ASC", t.name, col)
		return r.query(ctx, kind, query, value)
	}
	query := fmt.Sprintf("SELECT id, data FROM %s WHERE data -> $1::text ->> 'code' = $2 ORDER BY id ASC", t.name)
	return r.query(ctx, kind, query, field, value)
}

// GetAll lists every record of kind.
func (r *PostgresStore) GetAll(ctx context.Context, kind domain.Kind) ([]domain.Record, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	return r.query(ctx, kind, fmt.Sprintf("SELECT id, data FROM %s ORDER BY id ASC", t.name))
}

func (r *PostgresStore) query(ctx context.Context, kind domain.Kind, query string, args ...any) ([]domain.Record, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"kind":  kind.String(),
			"error": err,
		}).Error("Failed to query records")
		return nil, fmt.Errorf("querying %s: %w", kind, err)
	}
	defer rows.Close()

	var out []domain.Record
	for rows.Next() {
		var (
			id   int64
			data []byte
		)
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("scanning %s: %w", kind, err)
		}
		rec, err := decodeRecord(kind, id, data)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close is a no-op; the pool belongs to the caller.
func (r *PostgresStore) Close() error {
	return nil
}

func numberedPlaceholders(start, n int) string {
	ph := make([]string, n)
	for i := range ph {
		ph[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(ph, ", ")
}

var _ domain.Store = (*PostgresStore)(nil)
