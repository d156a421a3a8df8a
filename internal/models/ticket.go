package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Ticket struct {
	gorm.Model
	ID          uuid.UUID `gorm:"type:uuid;primary_key"`
	Title       string    `gorm:"not null"`
	Description string
	Price       int `gorm:"not null;check:price >= 0"`
	Quantity    int `gorm:"not null;check:quantity >= 0"`
	Version     int `gorm:"not null;default:1"`
	UserID      uuid.UUID
	User        User
}

func (ticket *Ticket) BeforeCreate(tx *gorm.DB) (err error) {
	if ticket.ID == uuid.Nil {
		ticket.ID = uuid.New()
	}
	if ticket.Version == 0 {
		ticket.Version = 1
	}
	return
}
