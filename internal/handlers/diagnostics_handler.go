package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/farellandr/ticketlock/internal/booking"
	"github.com/farellandr/ticketlock/internal/database"
	"github.com/farellandr/ticketlock/internal/helpers"
)

// RunAnomalyProbe exercises one of the read anomalies against a real ticket
// at the requested isolation level. Admin-only; it commits and undoes probe
// writes on the target row.
func RunAnomalyProbe(c *gin.Context) {
	ticketID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		helpers.RespondWithError(c, http.StatusBadRequest, "Invalid ticket ID.")
		return
	}

	level, err := database.ParseIsolationLevel(c.DefaultQuery("level", "READ COMMITTED"))
	if err != nil {
		helpers.RespondWithError(c, http.StatusBadRequest, "Unknown isolation level.")
		return
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
	probe := booking.NewAnomalyProbe(database.NewManager(db.(*gorm.DB)))

	var report *booking.AnomalyReport
	ctx := c.Request.Context()
	switch c.DefaultQuery("anomaly", "non-repeatable-read") {
	case "dirty-read":
		report, err = probe.DirtyRead(ctx, level, ticketID)
	case "non-repeatable-read":
		report, err = probe.NonRepeatableRead(ctx, level, ticketID)
	case "phantom-read":
		report, err = probe.PhantomRead(ctx, level, ticketID, userID)
	default:
		helpers.RespondWithError(c, http.StatusBadRequest, "Unknown anomaly. Use 'dirty-read', 'non-repeatable-read' or 'phantom-read'.")
		return
	}
	if err != nil {
		respondBookingError(c, err)
		return
	}

	c.JSON(http.StatusOK, report)
}
