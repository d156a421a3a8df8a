package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db, mock
}

func TestExecuteCommitsOnSuccess(t *testing.T) {
	db, mock := newMockDB(t)
	mgr := NewManager(db)

	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL statement_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("UPDATE tickets").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := mgr.Execute(context.Background(), TxOptions{Isolation: sql.LevelReadCommitted}, func(tx *gorm.DB) error {
		return tx.Exec("UPDATE tickets SET quantity = quantity - 1").Error
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteRollsBackAndPropagatesBusinessError(t *testing.T) {
	db, mock := newMockDB(t)
	mgr := NewManager(db)

	boom := errors.New("insufficient quantity")
	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL statement_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := mgr.Execute(context.Background(), TxOptions{Isolation: sql.LevelSerializable}, func(tx *gorm.DB) error {
		return boom
	})

	// Re-raised untouched so callers can inspect it.
	assert.Same(t, boom, err)
	assert.NoError(t, mock.ExpectationsWereMet(), "connection must be released exactly once")
}

func TestExecuteKeepsClassifiedErrorInspectable(t *testing.T) {
	db, mock := newMockDB(t)
	mgr := NewManager(db)

	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL statement_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := mgr.Execute(context.Background(), TxOptions{Isolation: sql.LevelSerializable}, func(tx *gorm.DB) error {
		return pgError("40001")
	})

	require.Error(t, err)
	assert.Equal(t, FailureSerialization, Classify(err))
	assert.True(t, Retryable(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteAppliesTimeoutOverrides(t *testing.T) {
	db, mock := newMockDB(t)
	mgr := NewManager(db)

	mock.ExpectBegin()
	// 80ms override: half would be 40ms, but the explicit value wins.
	mock.ExpectExec("SET LOCAL statement_timeout = 25").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	opts := TxOptions{
		Isolation:   sql.LevelReadCommitted,
		TxTimeout:   80 * time.Millisecond,
		StmtTimeout: 25 * time.Millisecond,
	}
	err := mgr.Execute(context.Background(), opts, func(tx *gorm.DB) error {
		return nil
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteTimesOutSlowUnitOfWork(t *testing.T) {
	db, mock := newMockDB(t)
	mgr := NewManager(db)

	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL statement_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	opts := TxOptions{
		Isolation: sql.LevelReadCommitted,
		TxTimeout: 30 * time.Millisecond,
	}
	start := time.Now()
	err := mgr.Execute(context.Background(), opts, func(tx *gorm.DB) error {
		time.Sleep(120 * time.Millisecond)
		return nil
	})

	// The caller observes the timeout, not the unit of work's result.
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransactionTimeout)
	assert.Equal(t, FailureStatementTimeout, Classify(err))
	assert.Less(t, time.Since(start), 100*time.Millisecond, "must not wait for the slow unit of work")

	// The worker unwinds afterwards and the transaction is rolled back.
	time.Sleep(150 * time.Millisecond)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteUnknownIsolationLevelFailsBeforeBegin(t *testing.T) {
	db, mock := newMockDB(t)
	mgr := NewManager(db)

	err := mgr.Execute(context.Background(), TxOptions{Isolation: sql.IsolationLevel(42)}, func(tx *gorm.DB) error {
		t.Fatal("unit of work must not run")
		return nil
	})

	assert.ErrorIs(t, err, ErrUnknownIsolationLevel)
	assert.NoError(t, mock.ExpectationsWereMet(), "no transaction may be opened")
}

func TestExecuteBeginFailureIsFatal(t *testing.T) {
	db, mock := newMockDB(t)
	mgr := NewManager(db)

	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

	err := mgr.Execute(context.Background(), TxOptions{Isolation: sql.LevelReadCommitted}, func(tx *gorm.DB) error {
		t.Fatal("unit of work must not run")
		return nil
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "begin transaction")
	assert.False(t, Retryable(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteCommitFailureStaysClassifiable(t *testing.T) {
	db, mock := newMockDB(t)
	mgr := NewManager(db)

	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL statement_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit().WillReturnError(pgError("40001"))

	err := mgr.Execute(context.Background(), TxOptions{Isolation: sql.LevelSerializable}, func(tx *gorm.DB) error {
		return nil
	})

	// Serialization failures can surface at commit time; the retry driver
	// must still recognize them through the wrap.
	require.Error(t, err)
	assert.Equal(t, FailureSerialization, Classify(err))
	assert.True(t, Retryable(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}
