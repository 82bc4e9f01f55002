package repository

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tse-report-engine/internal/domain"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return logger
}

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "data", "reports.db")
	store, err := NewSQLiteStore(context.Background(), dbPath, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) domain.Store {
		return newTestSQLiteStore(t)
	})
}

func TestSQLiteStore_SanityCheckUpgradesOldFiles(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)

	changed, err := store.SanityCheck(ctx)
	require.NoError(t, err)
	assert.False(t, changed, "a fresh database is already complete")

	// a file created before the aggregation columns existed
	dbPath := filepath.Join(t.TempDir(), "old.db")
	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `
		CREATE TABLE reports (id INTEGER PRIMARY KEY AUTOINCREMENT, sender_id TEXT, version TEXT, status TEXT, data TEXT);
		CREATE TABLE summarized_info (id INTEGER PRIMARY KEY AUTOINCREMENT, report_id INTEGER, type TEXT, data TEXT);`)
	require.NoError(t, err)

	old := newSQLiteStore(db, dbPath, quietLogger())
	changed, err = old.SanityCheck(ctx)
	require.NoError(t, err)
	assert.True(t, changed)

	for _, lc := range legacyColumns {
		exists, err := old.columnExists(ctx, lc.table, lc.column)
		require.NoError(t, err)
		assert.True(t, exists, "%s.%s", lc.table, lc.column)
	}
	require.NoError(t, old.Close())
}

func TestLegacyColumnsAreWritten(t *testing.T) {
	written := map[string]bool{}
	for _, tbl := range tables {
		for _, column := range tbl.indexed {
			written[tbl.name+"."+column] = true
		}
	}
	for _, lc := range legacyColumns {
		assert.True(t, written[lc.table+"."+lc.column], "%s.%s is never written", lc.table, lc.column)
	}
}

func TestSQLiteStore_AddFailureIsWrapped(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := newSQLiteStore(db, ":memory:", quietLogger())
	mock.ExpectExec("INSERT INTO reports").WillReturnError(errors.New("disk I/O error"))

	err = store.Add(context.Background(), domain.NewReport())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "adding Report")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_DeleteRollsBackOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := newSQLiteStore(db, ":memory:", quietLogger())
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM summarized_info WHERE id = ?").
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM case_reports WHERE summary_id = ?").
		WithArgs(int64(7)).
		WillReturnError(errors.New("locked"))
	mock.ExpectRollback()

	summary := domain.NewSummarizedInfo()
	summary.SetRecordID(7)
	err = store.Delete(context.Background(), summary)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deleting CaseReport below SummarizedInformation 7")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_UpdateWithoutRowsIsNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := newSQLiteStore(db, ":memory:", quietLogger())
	mock.ExpectExec("UPDATE case_reports SET").WillReturnResult(sqlmock.NewResult(0, 0))

	c := domain.NewCaseReport()
	c.SetRecordID(3)
	err = store.Update(context.Background(), c)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}
