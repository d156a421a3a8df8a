package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/farellandr/ticketlock/internal/events"
)

func EventsMiddleware(publisher *events.Publisher) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("events", publisher)
		c.Next()
	}
}

func GetPublisher(c *gin.Context) *events.Publisher {
	publisher, exists := c.Get("events")
	if !exists {
		return nil
	}
	return publisher.(*events.Publisher)
}
