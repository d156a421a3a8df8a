package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Booking struct {
	gorm.Model
	ID       uuid.UUID `gorm:"type:uuid;primary_key"`
	Quantity int       `gorm:"not null"`
	Action   string    `gorm:"not null"`
	Strategy string    `gorm:"not null"`
	Used     bool      `gorm:"not null"`
	TicketID uuid.UUID
	Ticket   Ticket
	UserID   uuid.UUID
	User     User
}

func (booking *Booking) BeforeCreate(tx *gorm.DB) (err error) {
	if booking.ID == uuid.Nil {
		booking.ID = uuid.New()
	}
	return
}
