package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/farellandr/ticketlock/internal/booking"
	"github.com/farellandr/ticketlock/internal/database"
	"github.com/farellandr/ticketlock/internal/events"
	"github.com/farellandr/ticketlock/internal/helpers"
	"github.com/farellandr/ticketlock/internal/metrics"
	"github.com/farellandr/ticketlock/internal/middleware"
	"github.com/farellandr/ticketlock/internal/models"
)

type BookingRequest struct {
	Quantity int    `json:"quantity" binding:"required,gt=0"`
	Strategy string `json:"strategy"`
}

// Booking endpoints see the heaviest contention, so they get more attempts
// than the generic default.
func bookingRetryPolicy() database.RetryPolicy {
	policy := database.DefaultRetryPolicy()
	policy.MaxRetries = 5
	return policy
}

func BookTicket(c *gin.Context) {
	handleBookingAction(c, booking.ActionBook)
}

func ReleaseTicket(c *gin.Context) {
	handleBookingAction(c, booking.ActionRelease)
}

func handleBookingAction(c *gin.Context, action string) {
	ticketID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		helpers.RespondWithError(c, http.StatusBadRequest, "Invalid ticket ID.")
		return
	}

	var req BookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.RespondWithError(c, http.StatusBadRequest, "Invalid input. Please check your fields.")
		return
	}
	strategy := req.Strategy
	if strategy == "" {
		strategy = booking.StrategyOptimistic
	}

	userIDValue, exists := c.Get("user_id")
	if !exists {
		helpers.RespondWithError(c, http.StatusUnauthorized, "User ID not found in token.")
		return
	}
	userID := userIDValue.(uuid.UUID)

	db, exists := c.Get("db")
	if !exists {
		helpers.RespondWithError(c, http.StatusInternalServerError, "Database connection not found.")
		return
	}
	mgr := database.NewManager(db.(*gorm.DB))

	metrics.BookingRequests.WithLabelValues(strategy, action).Inc()

	var ticket *models.Ticket
	ctx := c.Request.Context()
	switch strategy {
	case booking.StrategyPessimistic:
		booker := booking.NewPessimisticBooker(mgr)
		if action == booking.ActionBook {
			ticket, err = booker.Book(ctx, ticketID, userID, req.Quantity)
		} else {
			ticket, err = booker.Release(ctx, ticketID, userID, req.Quantity)
		}
	case booking.StrategyOptimistic:
		booker := booking.NewOptimisticBooker(mgr, bookingRetryPolicy())
		if action == booking.ActionBook {
			ticket, err = booker.Book(ctx, ticketID, userID, req.Quantity)
		} else {
			ticket, err = booker.Release(ctx, ticketID, userID, req.Quantity)
		}
	default:
		helpers.RespondWithError(c, http.StatusBadRequest, "Unknown strategy. Use 'pessimistic' or 'optimistic'.")
		return
	}

	if err != nil {
		respondBookingError(c, err)
		return
	}

	metrics.TicketQuantity.Set(float64(ticket.Quantity))
	publishBookingEvent(c, ticket, userID, req.Quantity, action, strategy)

	c.JSON(http.StatusOK, gin.H{
		"message": "Booking processed successfully.",
		"ticket":  ticket,
	})
}

func CheckAvailability(c *gin.Context) {
	ticketID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		helpers.RespondWithError(c, http.StatusBadRequest, "Invalid ticket ID.")
		return
	}

	qty, err := helpers.StringToInt(c.DefaultQuery("quantity", "1"))
	if err != nil || qty <= 0 {
		helpers.RespondWithError(c, http.StatusBadRequest, "Invalid quantity.")
		return
	}
	strategy := c.DefaultQuery("strategy", booking.StrategyOptimistic)

	db, exists := c.Get("db")
	if !exists {
		helpers.RespondWithError(c, http.StatusInternalServerError, "Database connection not found.")
		return
	}
	mgr := database.NewManager(db.(*gorm.DB))

	metrics.BookingRequests.WithLabelValues(strategy, "availability").Inc()

	var available bool
	switch strategy {
	case booking.StrategyPessimistic:
		available, err = booking.NewPessimisticBooker(mgr).CheckAvailability(c.Request.Context(), ticketID, qty)
	case booking.StrategyOptimistic:
		available, err = booking.NewOptimisticBooker(mgr, bookingRetryPolicy()).CheckAvailability(c.Request.Context(), ticketID, qty)
	default:
		helpers.RespondWithError(c, http.StatusBadRequest, "Unknown strategy. Use 'pessimistic' or 'optimistic'.")
		return
	}
	if err != nil {
		respondBookingError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ticket_id": ticketID,
		"quantity":  qty,
		"available": available,
	})
}

// respondBookingError maps the booking error taxonomy onto HTTP statuses:
// business rejections are definitive, contention is a 409 the client may
// retry, a lock denial is 423, timeouts are 504.
func respondBookingError(c *gin.Context, err error) {
	var conflict *database.ConflictAfterRetriesError
	switch {
	case errors.Is(err, booking.ErrTicketNotFound):
		metrics.BookingFailures.WithLabelValues("not_found").Inc()
		helpers.RespondWithError(c, http.StatusNotFound, "Ticket not found.")
	case errors.Is(err, booking.ErrInsufficientQuantity):
		metrics.BookingFailures.WithLabelValues("insufficient_quantity").Inc()
		helpers.RespondWithError(c, http.StatusConflict, "Not enough tickets available.")
	case errors.Is(err, booking.ErrTicketLocked):
		metrics.BookingFailures.WithLabelValues("locked").Inc()
		helpers.RespondWithError(c, http.StatusLocked, "Ticket is being booked by someone else. Please try again.")
	case errors.As(err, &conflict):
		metrics.BookingFailures.WithLabelValues("conflict_after_retries").Inc()
		helpers.RespondWithError(c, http.StatusConflict, "Ticket is under heavy contention. Please try again.")
	case errors.Is(err, database.ErrTransactionTimeout):
		metrics.BookingFailures.WithLabelValues("timeout").Inc()
		helpers.RespondWithError(c, http.StatusGatewayTimeout, "Booking timed out. Please try again later.")
	default:
		switch database.Classify(err) {
		case database.FailureDeadlock, database.FailureSerialization:
			metrics.BookingFailures.WithLabelValues("contention").Inc()
			helpers.RespondWithError(c, http.StatusConflict, "Booking conflicted with another request. Please try again.")
		case database.FailureStatementTimeout:
			metrics.BookingFailures.WithLabelValues("timeout").Inc()
			helpers.RespondWithError(c, http.StatusGatewayTimeout, "Booking timed out. Please try again later.")
		default:
			metrics.BookingFailures.WithLabelValues("internal").Inc()
			helpers.RespondWithError(c, http.StatusInternalServerError, "Failed to process booking.")
		}
	}
}

// publishBookingEvent is fire-and-forget: the booking already committed, a
// broker hiccup must not fail the request.
func publishBookingEvent(c *gin.Context, ticket *models.Ticket, userID uuid.UUID, qty int, action, strategy string) {
	publisher := middleware.GetPublisher(c)
	if publisher == nil {
		return
	}
	event := events.BookingEvent{
		TicketID: ticket.ID.String(),
		UserID:   userID.String(),
		Quantity: qty,
		Action:   action,
		Strategy: strategy,
		At:       time.Now().UTC(),
	}
	// Detached from the request context: the response should not wait for
	// Kafka, and the publish must survive the request ending.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := publisher.PublishBooking(ctx, event); err != nil {
			log.Printf("events: failed to publish booking event: %v", err)
		}
	}()
}
