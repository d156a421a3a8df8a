package server

import (
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/farellandr/ticketlock/config"
	"github.com/farellandr/ticketlock/internal/events"
	"github.com/farellandr/ticketlock/internal/handlers"
	"github.com/farellandr/ticketlock/internal/middleware"
)

func Start() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %v", err)
	}

	db, err := config.InitDatabase(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %v", err)
	}

	rdb := config.InitRedis(cfg)
	publisher := events.NewPublisher(cfg.KafkaBrokers)
	defer publisher.Close()

	r := gin.Default()

	setupRoutes(r, db, rdb, publisher, cfg)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	return r.Run(":" + port)
}

func setupRoutes(r *gin.Engine, db *gorm.DB, rdb *redis.Client, publisher *events.Publisher, cfg *config.Config) {
	r.Use(middleware.DatabaseMiddleware(db))
	r.Use(middleware.EventsMiddleware(publisher))

	r.GET("/health", handlers.HealthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	public := r.Group("/v1")
	{
		public.POST("/register", handlers.Register)
		public.POST("/login", handlers.Login)

		ticketPublic := public.Group("/tickets")
		{
			ticketPublic.GET("", handlers.ListTickets)
			ticketPublic.GET("/:id", handlers.GetTicket)
			ticketPublic.GET("/:id/availability", handlers.CheckAvailability)
		}
	}

	protected := r.Group("/v1")
	protected.Use(middleware.JWTAuthMiddleware())
	{
		ticketProtected := protected.Group("/tickets")
		{
			ticketProtected.POST("", handlers.CreateTicket)
			ticketProtected.PUT("/:id", handlers.UpdateTicket)
			ticketProtected.DELETE("/:id", handlers.DeleteTicket)
		}

		// Booking endpoints carry the contention, so they get the limiter.
		bookingRoutes := protected.Group("/tickets")
		bookingRoutes.Use(middleware.RateLimitMiddleware(rdb, cfg.RateLimitCapacity, cfg.RateLimitInterval))
		{
			bookingRoutes.POST("/:id/book", handlers.BookTicket)
			bookingRoutes.POST("/:id/release", handlers.ReleaseTicket)
		}

		bookings := protected.Group("/bookings")
		{
			bookings.GET("/:bookingId/qr", handlers.GenerateBookingQR)
			bookings.POST("/validate", handlers.ValidateBooking)
		}

		diagnostics := protected.Group("/diagnostics")
		diagnostics.Use(middleware.RequireRole("admin"))
		{
			diagnostics.GET("/tickets/:id/anomalies", handlers.RunAnomalyProbe)
		}
	}
}
