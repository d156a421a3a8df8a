package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"
	"gorm.io/gorm"

	"github.com/farellandr/ticketlock/internal/helpers"
	"github.com/farellandr/ticketlock/internal/models"
)

func generateQRCodeData(bkg *models.Booking) string {
	secretKey := os.Getenv("JWT_SECRET")
	signature := generateSignature(bkg.ID, bkg.TicketID, bkg.UserID, secretKey)
	return fmt.Sprintf("booking:%s;ticket:%s;signature:%s",
		bkg.ID.String(),
		bkg.TicketID.String(),
		signature,
	)
}

func generateSignature(bookingID, ticketID, userID uuid.UUID, secretKey string) string {
	data := fmt.Sprintf("%s:%s:%s", bookingID.String(), ticketID.String(), userID.String())
	h := hmac.New(sha256.New, []byte(secretKey))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

func extractBookingIDFromQRData(qrData string) (uuid.UUID, error) {
	parts := strings.Split(qrData, ";")
	if len(parts) != 3 || !strings.HasPrefix(parts[0], "booking:") || !strings.HasPrefix(parts[2], "signature:") {
		return uuid.Nil, fmt.Errorf("invalid QR data format")
	}
	return uuid.Parse(strings.TrimPrefix(parts[0], "booking:"))
}

func validateQRCodeSignature(bkg *models.Booking, qrData string) bool {
	parts := strings.Split(qrData, ";")
	if len(parts) != 3 || !strings.HasPrefix(parts[2], "signature:") {
		return false
	}

	secretKey := os.Getenv("JWT_SECRET")
	signature := strings.TrimPrefix(parts[2], "signature:")
	expectedSignature := generateSignature(bkg.ID, bkg.TicketID, bkg.UserID, secretKey)
	return hmac.Equal([]byte(expectedSignature), []byte(signature))
}

func GenerateBookingQR(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		helpers.RespondWithError(c, http.StatusUnauthorized, "User not authenticated.")
		return
	}

	bookingID, err := uuid.Parse(c.Param("bookingId"))
	if err != nil {
		helpers.RespondWithError(c, http.StatusBadRequest, "Invalid booking ID")
		return
	}

	db, exists := c.Get("db")
	if !exists {
		helpers.RespondWithError(c, http.StatusInternalServerError, "Database connection not found")
		return
	}
	gormDB := db.(*gorm.DB)

	var bkg models.Booking
	if err := gormDB.Preload("Ticket").First(&bkg, bookingID).Error; err != nil {
		helpers.RespondWithError(c, http.StatusNotFound, "Booking not found")
		return
	}

	if bkg.UserID != userID {
		helpers.RespondWithError(c, http.StatusForbidden, "You don't have permission to generate QR code for this booking")
		return
	}

	if bkg.Used {
		helpers.RespondWithError(c, http.StatusForbidden, "Booking already used")
		return
	}

	qrData := generateQRCodeData(&bkg)

	qrImage, err := qrcode.Encode(qrData, qrcode.Medium, 256)
	if err != nil {
		helpers.RespondWithError(c, http.StatusInternalServerError, "Failed to generate QR code")
		return
	}

	c.Data(http.StatusOK, "image/png", qrImage)
}

func ValidateBooking(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		helpers.RespondWithError(c, http.StatusUnauthorized, "User not authenticated.")
		return
	}

	db, exists := c.Get("db")
	if !exists {
		helpers.RespondWithError(c, http.StatusInternalServerError, "Database connection not found")
		return
	}
	gormDB := db.(*gorm.DB)

	var validationRequest struct {
		QRData string `json:"qr_data" binding:"required"`
	}
	if err := c.ShouldBindJSON(&validationRequest); err != nil {
		helpers.RespondWithError(c, http.StatusBadRequest, "Invalid request payload")
		return
	}

	bookingID, err := extractBookingIDFromQRData(validationRequest.QRData)
	if err != nil {
		helpers.RespondWithError(c, http.StatusBadRequest, "Invalid QR code format")
		return
	}

	var bkg models.Booking
	if err := gormDB.Preload("Ticket").First(&bkg, bookingID).Error; err != nil {
		helpers.RespondWithError(c, http.StatusNotFound, "Booking not found")
		return
	}

	if !validateQRCodeSignature(&bkg, validationRequest.QRData) {
		helpers.RespondWithError(c, http.StatusForbidden, "Invalid QR code signature")
		return
	}

	if bkg.Ticket.UserID != userID {
		helpers.RespondWithError(c, http.StatusForbidden, "You don't have permission to validate this booking")
		return
	}

	if bkg.Used {
		helpers.RespondWithError(c, http.StatusForbidden, "Booking already used")
		return
	}

	if err := gormDB.Model(&bkg).Update("used", true).Error; err != nil {
		helpers.RespondWithError(c, http.StatusInternalServerError, "Failed to validate booking")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Booking validated successfully",
		"booking": gin.H{
			"ticket_title": bkg.Ticket.Title,
			"quantity":     bkg.Quantity,
		},
	})
}
