package booking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/farellandr/ticketlock/internal/database"
	"github.com/farellandr/ticketlock/internal/models"
)

// PessimisticBooker serializes writers through exclusive row locks. Locks are
// taken NOWAIT: a competitor that finds the row held fails immediately with
// ErrTicketLocked instead of queueing behind the holder — the caller decides
// whether to try again.
//
// Book and Release run at SERIALIZABLE, so a concurrent writer may be
// rejected either by the lock (immediately) or by a serialization failure at
// commit, depending on timing. Both shapes are surfaced to the caller.
type PessimisticBooker struct {
	mgr *database.Manager
}

func NewPessimisticBooker(mgr *database.Manager) *PessimisticBooker {
	return &PessimisticBooker{mgr: mgr}
}

// Book decrements the ticket's quantity by qty while holding an exclusive
// row lock for the whole read-modify-write.
func (b *PessimisticBooker) Book(ctx context.Context, ticketID, userID uuid.UUID, qty int) (*models.Ticket, error) {
	var ticket models.Ticket
	err := b.mgr.Execute(ctx, database.TxOptions{Isolation: sql.LevelSerializable}, func(tx *gorm.DB) error {
		if err := lockTicket(tx, ticketID, &ticket); err != nil {
			return err
		}
		if ticket.Quantity < qty {
			return ErrInsufficientQuantity
		}
		return applyDelta(tx, &ticket, ticket.Quantity-qty, userID, qty, ActionBook, StrategyPessimistic)
	})
	if err != nil {
		return nil, mapLockDenied(err)
	}
	return &ticket, nil
}

// Release gives qty units back under the same locking discipline as Book.
func (b *PessimisticBooker) Release(ctx context.Context, ticketID, userID uuid.UUID, qty int) (*models.Ticket, error) {
	var ticket models.Ticket
	err := b.mgr.Execute(ctx, database.TxOptions{Isolation: sql.LevelSerializable}, func(tx *gorm.DB) error {
		if err := lockTicket(tx, ticketID, &ticket); err != nil {
			return err
		}
		return applyDelta(tx, &ticket, ticket.Quantity+qty, userID, qty, ActionRelease, StrategyPessimistic)
	})
	if err != nil {
		return nil, mapLockDenied(err)
	}
	return &ticket, nil
}

// CheckAvailability reports whether qty units are available, holding a
// shared row lock under REPEATABLE READ so the answer reflects a stable
// snapshot.
func (b *PessimisticBooker) CheckAvailability(ctx context.Context, ticketID uuid.UUID, qty int) (bool, error) {
	var ticket models.Ticket
	err := b.mgr.Execute(ctx, database.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: false}, func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "SHARE"}).
			Where("id = ?", ticketID).
			First(&ticket).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrTicketNotFound
		}
		return err
	})
	if err != nil {
		return false, mapLockDenied(err)
	}
	return ticket.Quantity >= qty, nil
}

// lockTicket loads the row under FOR UPDATE NOWAIT.
func lockTicket(tx *gorm.DB, ticketID uuid.UUID, out *models.Ticket) error {
	err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "NOWAIT"}).
		Where("id = ?", ticketID).
		First(out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrTicketNotFound
	}
	return err
}

// applyDelta persists the new quantity and bumps version, both in the single
// conditional UPDATE that the optimistic strategy relies on for its CAS.
// Under the pessimistic strategies the version predicate cannot miss — the
// row lock is already held — so the two paths share this helper. The audit
// row and the re-read stay inside the same transaction.
func applyDelta(tx *gorm.DB, ticket *models.Ticket, newQuantity int, userID uuid.UUID, qty int, action, strategy string) error {
	res := tx.Model(&models.Ticket{}).
		Where("id = ? AND version = ?", ticket.ID, ticket.Version).
		Updates(map[string]interface{}{
			"quantity": newQuantity,
			"version":  ticket.Version + 1,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return database.ErrVersionConflict
	}

	record := models.Booking{
		TicketID: ticket.ID,
		UserID:   userID,
		Quantity: qty,
		Action:   action,
		Strategy: strategy,
	}
	if err := tx.Create(&record).Error; err != nil {
		return err
	}

	return tx.Where("id = ?", ticket.ID).First(ticket).Error
}

// mapLockDenied turns a NOWAIT lock denial into the domain's Locked error,
// keeping the driver error visible in the chain. Everything else passes
// through untouched.
func mapLockDenied(err error) error {
	if database.Classify(err) == database.FailureLockTimeout {
		return fmt.Errorf("%w: %v", ErrTicketLocked, err)
	}
	return err
}
