package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

const bookingTopic = "booking-events"

// BookingEvent is published after a booking mutation commits.
type BookingEvent struct {
	TicketID  string    `json:"ticket_id"`
	UserID    string    `json:"user_id"`
	Quantity  int       `json:"quantity"`
	Action    string    `json:"action"`
	Strategy  string    `json:"strategy"`
	At        time.Time `json:"at"`
}

// Publisher writes booking events to Kafka. A nil Publisher is valid and
// drops everything, so the booking flow never depends on the broker being up.
type Publisher struct {
	writer *kafka.Writer
}

func NewPublisher(brokers []string) *Publisher {
	if len(brokers) == 0 {
		return nil
	}
	return &Publisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    bookingTopic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

// PublishBooking sends one event, keyed by ticket so events for a ticket stay
// ordered within a partition.
func (p *Publisher) PublishBooking(ctx context.Context, event BookingEvent) error {
	if p == nil {
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.TicketID),
		Value: payload,
	})
}

func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.writer.Close()
}
