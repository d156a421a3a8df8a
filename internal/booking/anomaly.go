package booking

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/farellandr/ticketlock/internal/database"
	"github.com/farellandr/ticketlock/internal/models"
)

// AnomalyReport records what an observing transaction saw before and after a
// concurrent write, and whether the read anomaly showed up at the probed
// isolation level. Diagnostic only; nothing in the booking paths depends on
// these probes.
type AnomalyReport struct {
	Anomaly    string `json:"anomaly"`
	Isolation  string `json:"isolation"`
	FirstRead  int    `json:"first_read"`
	SecondRead int    `json:"second_read"`
	Occurred   bool   `json:"occurred"`
}

// AnomalyProbe orchestrates pairs of interleaved transactions against a real
// ticket row to surface dirty, non-repeatable and phantom reads.
type AnomalyProbe struct {
	mgr *database.Manager
}

func NewAnomalyProbe(mgr *database.Manager) *AnomalyProbe {
	return &AnomalyProbe{mgr: mgr}
}

// errProbeRollback aborts the writer transaction on purpose so its
// uncommitted change disappears.
var errProbeRollback = errors.New("probe rollback")

const (
	selectQuantity = "SELECT quantity FROM tickets WHERE id = ?"
	probeBump      = 7
)

// DirtyRead opens a writer transaction that mutates the ticket and stays
// uncommitted while the observer reads at the probed level, then rolls the
// writer back. Postgres never exposes uncommitted rows, so on this store the
// anomaly should not occur at any level.
func (p *AnomalyProbe) DirtyRead(ctx context.Context, level sql.IsolationLevel, ticketID uuid.UUID) (*AnomalyReport, error) {
	baseline, err := p.readQuantity(ctx, sql.LevelReadCommitted, ticketID)
	if err != nil {
		return nil, err
	}

	uncommitted := make(chan error, 1)
	release := make(chan struct{})
	writerDone := make(chan error, 1)
	go func() {
		writerDone <- p.mgr.Execute(ctx, database.TxOptions{Isolation: sql.LevelReadCommitted}, func(tx *gorm.DB) error {
			err := tx.Exec("UPDATE tickets SET quantity = quantity + ?, version = version + 1 WHERE id = ?", probeBump, ticketID).Error
			uncommitted <- err
			if err != nil {
				return err
			}
			<-release
			return errProbeRollback
		})
	}()

	if err := <-uncommitted; err != nil {
		close(release)
		<-writerDone
		return nil, err
	}
	seen, readErr := p.readQuantity(ctx, level, ticketID)
	close(release)
	if werr := <-writerDone; werr != nil && !errors.Is(werr, errProbeRollback) {
		return nil, werr
	}
	if readErr != nil {
		return nil, readErr
	}

	return &AnomalyReport{
		Anomaly:    "dirty read",
		Isolation:  level.String(),
		FirstRead:  baseline,
		SecondRead: seen,
		Occurred:   seen != baseline,
	}, nil
}

// NonRepeatableRead reads the ticket twice inside one observer transaction
// with a committed concurrent update in between. At READ COMMITTED the two
// reads differ; REPEATABLE READ and above pin the snapshot.
func (p *AnomalyProbe) NonRepeatableRead(ctx context.Context, level sql.IsolationLevel, ticketID uuid.UUID) (*AnomalyReport, error) {
	var first, second int
	err := p.mgr.Execute(ctx, database.TxOptions{Isolation: level}, func(tx *gorm.DB) error {
		if err := tx.Raw(selectQuantity, ticketID).Scan(&first).Error; err != nil {
			return err
		}
		if err := p.bumpQuantity(ctx, ticketID, probeBump); err != nil {
			return err
		}
		return tx.Raw(selectQuantity, ticketID).Scan(&second).Error
	})
	if err != nil {
		return nil, err
	}
	// Undo the committed probe write.
	if err := p.bumpQuantity(ctx, ticketID, -probeBump); err != nil {
		return nil, err
	}

	return &AnomalyReport{
		Anomaly:    "non-repeatable read",
		Isolation:  level.String(),
		FirstRead:  first,
		SecondRead: second,
		Occurred:   second != first,
	}, nil
}

// PhantomRead counts the ticket's booking rows twice inside one observer
// transaction while a concurrent transaction commits a new matching row. The
// probe row is owned by userID and removed afterwards.
func (p *AnomalyProbe) PhantomRead(ctx context.Context, level sql.IsolationLevel, ticketID, userID uuid.UUID) (*AnomalyReport, error) {
	probe := models.Booking{
		TicketID: ticketID,
		UserID:   userID,
		Quantity: 0,
		Action:   "probe",
		Strategy: "probe",
	}

	var first, second int
	err := p.mgr.Execute(ctx, database.TxOptions{Isolation: level}, func(tx *gorm.DB) error {
		if err := tx.Raw("SELECT COUNT(*) FROM bookings WHERE ticket_id = ?", ticketID).Scan(&first).Error; err != nil {
			return err
		}
		if err := p.mgr.Execute(ctx, database.TxOptions{Isolation: sql.LevelReadCommitted}, func(writer *gorm.DB) error {
			return writer.Create(&probe).Error
		}); err != nil {
			return err
		}
		return tx.Raw("SELECT COUNT(*) FROM bookings WHERE ticket_id = ?", ticketID).Scan(&second).Error
	})
	if err != nil {
		return nil, err
	}
	if err := p.mgr.Execute(ctx, database.TxOptions{Isolation: sql.LevelReadCommitted}, func(tx *gorm.DB) error {
		return tx.Unscoped().Where("id = ?", probe.ID).Delete(&models.Booking{}).Error
	}); err != nil {
		return nil, err
	}

	return &AnomalyReport{
		Anomaly:    "phantom read",
		Isolation:  level.String(),
		FirstRead:  first,
		SecondRead: second,
		Occurred:   second != first,
	}, nil
}

func (p *AnomalyProbe) readQuantity(ctx context.Context, level sql.IsolationLevel, ticketID uuid.UUID) (int, error) {
	var quantity int
	err := p.mgr.Execute(ctx, database.TxOptions{Isolation: level}, func(tx *gorm.DB) error {
		return tx.Raw(selectQuantity, ticketID).Scan(&quantity).Error
	})
	return quantity, err
}

// bumpQuantity commits a standalone quantity change, keeping the version
// bump so the row never skips a version on a successful write.
func (p *AnomalyProbe) bumpQuantity(ctx context.Context, ticketID uuid.UUID, delta int) error {
	return p.mgr.Execute(ctx, database.TxOptions{Isolation: sql.LevelReadCommitted}, func(tx *gorm.DB) error {
		return tx.Exec("UPDATE tickets SET quantity = quantity + ?, version = version + 1 WHERE id = ?", delta, ticketID).Error
	})
}
