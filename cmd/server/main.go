package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/dealpoint/commission-api/internal/auth"
	"github.com/dealpoint/commission-api/internal/database"
	"github.com/dealpoint/commission-api/internal/deal"
	"github.com/dealpoint/commission-api/internal/payment"
	"github.com/dealpoint/commission-api/internal/template"
	"github.com/dealpoint/commission-api/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	// Configure pretty logging for development
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set global log level
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the commission API server with graceful
// shutdown support. It sets up the engine services, database connection
// and API routes.
func main() {
	// Initialize database
	db, err := database.NewDatabase(os.Getenv("DATABASE_PATH"))
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = "commission-secret-key"
	}

	// Initialize router
	router := gin.Default()

	// Initialize services and handlers
	authService := auth.NewService(jwtSecret)
	authHandlers := auth.NewGinHandlers(authService)
	// Register test credentials
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)

	paymentService := payment.NewService(db)
	paymentHandlers := payment.NewGinHandlers(paymentService)

	dealService := deal.NewService(db, paymentService)
	dealHandlers := deal.NewGinHandlers(dealService)

	templateService := template.NewService(db)
	templateHandlers := template.NewGinHandlers(templateService)

	// Setup middleware
	router.Use(middleware.RateLimit())

	// Setup API routes
	setupRoutes(router, jwtSecret, authHandlers, dealHandlers, paymentHandlers, templateHandlers)

	// Get port from env otherwise it's 8080
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Create server
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers
// It groups routes by functionality and applies appropriate middleware:
// - Auth routes: Public endpoints for authentication
// - Deal routes: Protected by JWT authentication; mutation events and reads
// - Internal routes: Override pins, protected by internal authentication
func setupRoutes(
	router *gin.Engine,
	jwtSecret string,
	authHandlers *auth.GinHandlers,
	dealHandlers *deal.GinHandlers,
	paymentHandlers *payment.GinHandlers,
	templateHandlers *template.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Deal routes: creation, mutation events, schedule and template reads
		deals := v1.Group("/deals")
		deals.Use(middleware.JWTAuth(jwtSecret))
		{
			deals.POST("", dealHandlers.CreateDealHandler())
			deals.GET("/:deal_id", dealHandlers.GetDealHandler())
			deals.PATCH("/:deal_id", dealHandlers.ApplyChangeHandler())
			deals.GET("/:deal_id/payments", paymentHandlers.ListPaymentsHandler())
			deals.GET("/:deal_id/templates", templateHandlers.ListTemplatesHandler())
			deals.PUT("/:deal_id/templates/:broker_id", templateHandlers.UpsertTemplateHandler())
			deals.DELETE("/:deal_id/templates/:broker_id", templateHandlers.DeleteTemplateHandler())
		}

		// Payment reads
		payments := v1.Group("/payments")
		payments.Use(middleware.JWTAuth(jwtSecret))
		{
			payments.GET("/:payment_id/splits", paymentHandlers.ListSplitsHandler())
		}

		// Internal routes (should be protected by internal network)
		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth(jwtSecret))
		{
			internal.POST("/payments/:payment_id/override", paymentHandlers.OverrideHandler())
			internal.DELETE("/payments/:payment_id/override", paymentHandlers.ClearOverrideHandler())
		}
	}
}
