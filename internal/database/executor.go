package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"
)

// TxOptions configures a single Execute call. Zero timeouts fall back to the
// isolation-level defaults from TimeoutsFor.
type TxOptions struct {
	Isolation   sql.IsolationLevel
	TxTimeout   time.Duration
	StmtTimeout time.Duration
	ReadOnly    bool
}

// Manager owns the transaction lifecycle: it begins a transaction on a
// dedicated pooled connection, applies the statement timeout, runs the unit
// of work, and commits or rolls back. The connection is released on every
// exit path.
type Manager struct {
	db *gorm.DB
}

func NewManager(db *gorm.DB) *Manager {
	return &Manager{db: db}
}

// Execute runs fn inside a transaction at the requested isolation level.
//
// A wall-clock timer covers the whole transaction: if the budget elapses
// before fn returns, the in-flight statement is cancelled, the transaction is
// rolled back, and the caller observes ErrTransactionTimeout. The race
// between the timer and normal completion is resolved so that exactly one of
// {result, timeout} is observed.
//
// Errors raised by fn are rolled back, logged with their failure class, and
// re-raised unmodified so callers and the retry driver can inspect them.
// Connection-acquisition failures are fatal at this layer and never retried.
func (m *Manager) Execute(ctx context.Context, opts TxOptions, fn func(tx *gorm.DB) error) error {
	txTimeout, stmtTimeout, err := TimeoutsFor(opts.Isolation)
	if err != nil {
		return err
	}
	if opts.TxTimeout > 0 {
		txTimeout = opts.TxTimeout
	}
	if opts.StmtTimeout > 0 {
		stmtTimeout = opts.StmtTimeout
	}

	tctx, cancel := context.WithTimeout(ctx, txTimeout)
	defer cancel()

	tx := m.db.WithContext(tctx).Begin(&sql.TxOptions{
		Isolation: opts.Isolation,
		ReadOnly:  opts.ReadOnly,
	})
	if tx.Error != nil {
		return fmt.Errorf("begin transaction: %w", tx.Error)
	}

	// SET LOCAL scopes the timeout to this transaction only, so the pooled
	// connection goes back clean.
	if err := tx.Exec(fmt.Sprintf("SET LOCAL statement_timeout = %d", stmtTimeout.Milliseconds())).Error; err != nil {
		rollback(tx)
		return fmt.Errorf("set statement timeout: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- fn(tx)
	}()

	select {
	case err := <-done:
		if err != nil {
			rollback(tx)
			log.Printf("database: transaction rolled back (%s): %v", Classify(err), err)
			return err
		}
		// Commit can itself fail with a deadlock or serialization failure
		// under the stronger isolation levels; the wrap keeps the SQLSTATE
		// visible to the classifier.
		if err := tx.Commit().Error; err != nil {
			return fmt.Errorf("commit transaction: %w", err)
		}
		return nil
	case <-tctx.Done():
		// The expired context cancels whatever statement is in flight; the
		// worker goroutine unwinds shortly after and hands the transaction
		// back for rollback, releasing the connection.
		go func() {
			<-done
			rollback(tx)
		}()
		log.Printf("database: transaction timed out after %s", txTimeout)
		return fmt.Errorf("%w after %s", ErrTransactionTimeout, txTimeout)
	}
}

// rollback releases the transaction. A rollback failure is logged but never
// masks the error that triggered it.
func rollback(tx *gorm.DB) {
	if err := tx.Rollback().Error; err != nil && !errors.Is(err, sql.ErrTxDone) {
		log.Printf("database: rollback failed: %v", err)
	}
}
