package booking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/farellandr/ticketlock/internal/database"
	"github.com/farellandr/ticketlock/internal/models"
)

// OptimisticBooker never blocks on locks. Each attempt reads the ticket
// without locking at READ COMMITTED, computes the new quantity in memory and
// issues one conditional UPDATE guarded by the version read. A missed guard
// (zero rows affected) raises ErrVersionConflict, which the retry driver
// resolves with a fresh read. The whole safety argument rests on that single
// UPDATE being atomic, which Postgres guarantees per statement.
type OptimisticBooker struct {
	mgr     *database.Manager
	retrier *database.Retrier
}

// NewOptimisticBooker builds the strategy with the given retry policy.
// High-contention call sites raise MaxRetries; everything else keeps the
// default.
func NewOptimisticBooker(mgr *database.Manager, policy database.RetryPolicy) *OptimisticBooker {
	return &OptimisticBooker{
		mgr:     mgr,
		retrier: database.NewRetrier(policy, retryOnVersionConflict),
	}
}

// retryOnVersionConflict widens the generic predicate with the CAS miss that
// only this strategy can resolve by re-reading. Business rejections like
// insufficient quantity stay non-retryable: waiting does not grow quantity.
func retryOnVersionConflict(err error) bool {
	return database.Classify(err) == database.FailureVersionConflict || database.Retryable(err)
}

// Book decrements the ticket's quantity by qty, retrying version conflicts.
func (b *OptimisticBooker) Book(ctx context.Context, ticketID, userID uuid.UUID, qty int) (*models.Ticket, error) {
	var ticket models.Ticket
	err := b.retrier.Do(ctx, fmt.Sprintf("book ticket %s", ticketID), func(ctx context.Context) error {
		return b.mgr.Execute(ctx, database.TxOptions{Isolation: sql.LevelReadCommitted}, func(tx *gorm.DB) error {
			if err := readTicket(tx, ticketID, &ticket); err != nil {
				return err
			}
			if ticket.Quantity < qty {
				return ErrInsufficientQuantity
			}
			return applyDelta(tx, &ticket, ticket.Quantity-qty, userID, qty, ActionBook, StrategyOptimistic)
		})
	})
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

// Release gives qty units back, retrying version conflicts.
func (b *OptimisticBooker) Release(ctx context.Context, ticketID, userID uuid.UUID, qty int) (*models.Ticket, error) {
	var ticket models.Ticket
	err := b.retrier.Do(ctx, fmt.Sprintf("release ticket %s", ticketID), func(ctx context.Context) error {
		return b.mgr.Execute(ctx, database.TxOptions{Isolation: sql.LevelReadCommitted}, func(tx *gorm.DB) error {
			if err := readTicket(tx, ticketID, &ticket); err != nil {
				return err
			}
			return applyDelta(tx, &ticket, ticket.Quantity+qty, userID, qty, ActionRelease, StrategyOptimistic)
		})
	})
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

// CheckAvailability is a plain unlocked read; there is nothing to conflict
// with, so no retry loop.
func (b *OptimisticBooker) CheckAvailability(ctx context.Context, ticketID uuid.UUID, qty int) (bool, error) {
	var ticket models.Ticket
	err := b.mgr.Execute(ctx, database.TxOptions{Isolation: sql.LevelReadCommitted, ReadOnly: true}, func(tx *gorm.DB) error {
		return readTicket(tx, ticketID, &ticket)
	})
	if err != nil {
		return false, err
	}
	return ticket.Quantity >= qty, nil
}

func readTicket(tx *gorm.DB, ticketID uuid.UUID, out *models.Ticket) error {
	err := tx.Where("id = ?", ticketID).First(out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrTicketNotFound
	}
	return err
}
