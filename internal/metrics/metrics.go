package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BookingRequests counts booking-layer calls by strategy and action.
	BookingRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ticketlock_booking_requests_total",
		Help: "Total number of book/release/availability requests",
	}, []string{"strategy", "action"})

	// BookingFailures counts rejected or failed booking-layer calls by the
	// condition that stopped them.
	BookingFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ticketlock_booking_failures_total",
		Help: "Total number of failed booking requests by reason",
	}, []string{"reason"})

	// TicketQuantity tracks the last quantity observed after a successful
	// booking mutation.
	TicketQuantity = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ticketlock_last_ticket_quantity",
		Help: "Quantity of the most recently mutated ticket",
	})
)
