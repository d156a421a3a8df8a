package booking

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/farellandr/ticketlock/internal/database"
)

func newMockManager(t *testing.T) (*database.Manager, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return database.NewManager(db), mock
}

func ticketRows(id, owner uuid.UUID, quantity, version int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "title", "description", "price", "quantity", "version", "user_id"}).
		AddRow(id.String(), "Standing", "GA standing", 250, quantity, version, owner.String())
}

func expectTxStart(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL statement_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestPessimisticBookLocksAndDecrements(t *testing.T) {
	mgr, mock := newMockManager(t)
	ticketID, userID := uuid.New(), uuid.New()

	expectTxStart(mock)
	mock.ExpectQuery(`SELECT .+ FROM "tickets".+FOR UPDATE NOWAIT`).
		WillReturnRows(ticketRows(ticketID, userID, 10, 1))
	mock.ExpectExec(`UPDATE "tickets" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO "bookings"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT .+ FROM "tickets"`).
		WillReturnRows(ticketRows(ticketID, userID, 8, 2))
	mock.ExpectCommit()

	ticket, err := NewPessimisticBooker(mgr).Book(context.Background(), ticketID, userID, 2)

	require.NoError(t, err)
	assert.Equal(t, 8, ticket.Quantity)
	assert.Equal(t, 2, ticket.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPessimisticBookInsufficientQuantity(t *testing.T) {
	mgr, mock := newMockManager(t)
	ticketID, userID := uuid.New(), uuid.New()

	expectTxStart(mock)
	mock.ExpectQuery(`SELECT .+ FROM "tickets".+FOR UPDATE NOWAIT`).
		WillReturnRows(ticketRows(ticketID, userID, 10, 1))
	mock.ExpectRollback()

	_, err := NewPessimisticBooker(mgr).Book(context.Background(), ticketID, userID, 999)

	// A business rejection: no update, no version bump, nothing retried.
	assert.ErrorIs(t, err, ErrInsufficientQuantity)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPessimisticBookNotFound(t *testing.T) {
	mgr, mock := newMockManager(t)

	expectTxStart(mock)
	mock.ExpectQuery(`SELECT .+ FROM "tickets".+FOR UPDATE NOWAIT`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	_, err := NewPessimisticBooker(mgr).Book(context.Background(), uuid.New(), uuid.New(), 1)

	assert.ErrorIs(t, err, ErrTicketNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPessimisticBookLockDenied(t *testing.T) {
	mgr, mock := newMockManager(t)

	expectTxStart(mock)
	mock.ExpectQuery(`SELECT .+ FROM "tickets".+FOR UPDATE NOWAIT`).
		WillReturnError(&pgconn.PgError{Code: "55P03", Message: "could not obtain lock on row"})
	mock.ExpectRollback()

	_, err := NewPessimisticBooker(mgr).Book(context.Background(), uuid.New(), uuid.New(), 1)

	// NOWAIT denial surfaces as Locked; the caller decides what to do next.
	assert.ErrorIs(t, err, ErrTicketLocked)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPessimisticReleaseIncrements(t *testing.T) {
	mgr, mock := newMockManager(t)
	ticketID, userID := uuid.New(), uuid.New()

	expectTxStart(mock)
	mock.ExpectQuery(`SELECT .+ FROM "tickets".+FOR UPDATE NOWAIT`).
		WillReturnRows(ticketRows(ticketID, userID, 8, 2))
	mock.ExpectExec(`UPDATE "tickets" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO "bookings"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT .+ FROM "tickets"`).
		WillReturnRows(ticketRows(ticketID, userID, 10, 3))
	mock.ExpectCommit()

	ticket, err := NewPessimisticBooker(mgr).Release(context.Background(), ticketID, userID, 2)

	require.NoError(t, err)
	assert.Equal(t, 10, ticket.Quantity)
	assert.Equal(t, 3, ticket.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPessimisticCheckAvailability(t *testing.T) {
	mgr, mock := newMockManager(t)
	ticketID, userID := uuid.New(), uuid.New()

	expectTxStart(mock)
	mock.ExpectQuery(`SELECT .+ FROM "tickets".+FOR SHARE`).
		WillReturnRows(ticketRows(ticketID, userID, 3, 7))
	mock.ExpectCommit()

	available, err := NewPessimisticBooker(mgr).CheckAvailability(context.Background(), ticketID, 3)

	require.NoError(t, err)
	assert.True(t, available)
	assert.NoError(t, mock.ExpectationsWereMet())
}
