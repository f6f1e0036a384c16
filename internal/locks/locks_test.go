package locks

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"metax/internal/logging"
)

func TestKeyUsesLastFourBytes(t *testing.T) {
	k, err := Key("00000000-0000-0000-0000-000000000102")
	require.NoError(t, err)
	require.EqualValues(t, 0x0102, k)

	k, err = Key("00000000-0000-0000-0000-0000ffffffff")
	require.NoError(t, err)
	require.EqualValues(t, -1, k)

	_, err = Key("not-a-uuid")
	require.Error(t, err)
	require.Equal(t, "rems_publish", REMSPublish.String())
	require.Equal(t, "lock_type(9)", LockType(9).String())
}

func TestLocalLockExcludes(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()
	id := "9d4f0c1e-7a5b-4b0e-8c3a-1f2e3d4c5b6a"

	release, err := l.Lock(ctx, SyncDataset, id)
	require.NoError(t, err)

	_, ok, err := l.TryLock(ctx, SyncDataset, id)
	require.NoError(t, err)
	require.False(t, ok)

	other, ok, err := l.TryLock(ctx, REMSPublish, id)
	require.NoError(t, err)
	require.True(t, ok)
	other()

	timeout, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(timeout, SyncDataset, id)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release()
	again, ok, err := l.TryLock(ctx, SyncDataset, id)
	require.NoError(t, err)
	require.True(t, ok)
	again()
}

func TestPostgresLockAndRelease(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	id := "00000000-0000-0000-0000-000000000007"

	mock.ExpectExec("SELECT pg_advisory_lock").WithArgs(int32(1), int32(7)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SELECT pg_advisory_unlock").WithArgs(int32(1), int32(7)).WillReturnResult(sqlmock.NewResult(0, 0))

	p := NewPostgres(db, logging.Test(t))
	release, err := p.Lock(context.Background(), SyncDataset, id)
	require.NoError(t, err)
	release()
	release()
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTryLock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	id := "00000000-0000-0000-0000-000000000007"

	mock.ExpectQuery("SELECT pg_try_advisory_lock").WithArgs(int32(2), int32(7)).
		WillReturnRows(sqlmock.NewRows([]string{"ok"}).AddRow(false))
	mock.ExpectQuery("SELECT pg_try_advisory_lock").WithArgs(int32(2), int32(7)).
		WillReturnRows(sqlmock.NewRows([]string{"ok"}).AddRow(true))
	mock.ExpectExec("SELECT pg_advisory_unlock").WithArgs(int32(2), int32(7)).WillReturnResult(sqlmock.NewResult(0, 0))

	p := NewPostgres(db, nil)
	_, ok, err := p.TryLock(context.Background(), REMSPublish, id)
	require.NoError(t, err)
	require.False(t, ok)

	release, ok, err := p.TryLock(context.Background(), REMSPublish, id)
	require.NoError(t, err)
	require.True(t, ok)
	release()
	require.NoError(t, mock.ExpectationsWereMet())
}
