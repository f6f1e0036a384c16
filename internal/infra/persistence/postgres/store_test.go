package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"metax/pkg/domain"
)

func newMockStore(t *testing.T, rows *sqlmock.Rows) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return db, nil })
	t.Cleanup(restore)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS state").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT bucket, payload FROM state").WillReturnRows(rows)
	store, err := NewStore(context.Background(), "", nil)
	require.NoError(t, err)
	return store, mock
}

func TestNewStoreLoadsSnapshot(t *testing.T) {
	rows := sqlmock.NewRows([]string{"bucket", "payload"}).
		AddRow("data_catalog", []byte(`{"c1":{"id":"c1","title":{"en":"IDA"},"dataset_versioning_enabled":true}}`)).
		AddRow("unknown_bucket", []byte(`{}`))
	store, mock := newMockStore(t, rows)

	err := store.View(context.Background(), func(v domain.TransactionView) error {
		c, ok := v.FindDataCatalog("c1")
		require.True(t, ok)
		require.True(t, c.DatasetVersioningEnabled)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTransactionPersistsTouchedBuckets(t *testing.T) {
	store, mock := newMockStore(t, sqlmock.NewRows([]string{"bucket", "payload"}))

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO state").WithArgs("dataset", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateDataset(domain.Dataset{Title: domain.MultiLang{"en": "x"}, State: domain.StateDraft})
		return err
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTransactionSkipsReadOnly(t *testing.T) {
	store, mock := newMockStore(t, sqlmock.NewRows([]string{"bucket", "payload"}))
	_, err := store.RunInTransaction(context.Background(), func(domain.Transaction) error { return nil })
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTransactionPersistError(t *testing.T) {
	store, mock := newMockStore(t, sqlmock.NewRows([]string{"bucket", "payload"}))
	mock.ExpectBegin().WillReturnError(errors.New("db down"))

	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateFile(domain.File{Filename: "a"})
		return err
	})
	require.ErrorContains(t, err, "begin tx")
}

func TestNewStoreDecodeError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(OverrideSQLOpen(func(string, string) (*sql.DB, error) { return db, nil }))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS state").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT bucket, payload FROM state").
		WillReturnRows(sqlmock.NewRows([]string{"bucket", "payload"}).AddRow("dataset", []byte(`not json`)))
	_, err = NewStore(context.Background(), "", nil)
	require.ErrorContains(t, err, "decode dataset")
}
