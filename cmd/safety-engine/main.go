package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/gorm/logger"

	"github.com/wecodeblooded/safety-engine/internal/config"
	"github.com/wecodeblooded/safety-engine/internal/database"
	"github.com/wecodeblooded/safety-engine/internal/emergency"
	"github.com/wecodeblooded/safety-engine/internal/handlers"
	"github.com/wecodeblooded/safety-engine/internal/jobs"
	"github.com/wecodeblooded/safety-engine/internal/middleware"
	"github.com/wecodeblooded/safety-engine/internal/notify"
	"github.com/wecodeblooded/safety-engine/internal/risk"
	"github.com/wecodeblooded/safety-engine/internal/services"
)

func main() {
	// Load .env file if it exists (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found or error loading it (this is fine if using environment variables): %v", err)
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Starting Safety Alert & Dispatch Engine...")

	// Initialize database connection
	if err := database.Connect(cfg.DatabaseURL, logger.Warn); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	log.Printf("Database connection established")

	// Run database migrations
	if err := database.AutoMigrate(); err != nil {
		log.Fatalf("Failed to run database migrations: %v", err)
	}

	db := database.GetDB()

	// Fan-out hub for operator, participant and family websocket sessions
	hub := notify.NewHub()

	// Slack operator mirror (nil when unconfigured, safe to call)
	slackMirror := notify.NewSlackMirror(cfg.SlackToken, cfg.SlackChannel)
	if slackMirror != nil {
		log.Printf("Slack alert mirror enabled on channel %s", cfg.SlackChannel)
	} else {
		log.Printf("Slack alert mirror disabled (set SLACK_BOT_TOKEN and SLACK_ALERTS_CHANNEL to enable)")
	}

	// External scoring and dispatch lookup clients
	scorer := risk.NewClient(cfg.DetectorURL, cfg.DetectorTimeout)
	locator := emergency.NewLocator(cfg.OverpassURL, cfg.OverpassTimeout)
	log.Printf("Risk detector: %s, dispatch lookup: %s", cfg.DetectorURL, cfg.OverpassURL)

	// Core services
	lifecycle := services.NewLifecycleService(db, cfg.Engine, scorer, locator, hub, slackMirror)
	dislocation := services.NewDislocationService(db, cfg.Engine, hub, slackMirror, locator, lifecycle)

	// Messaging gateway and the durable delivery worker
	gateway := notify.NewGateway(notify.GatewayOptions{
		BaseURL:      cfg.GatewayBaseURL,
		AccountSID:   cfg.GatewayAccountSID,
		AuthToken:    cfg.GatewayAuthToken,
		SMSFrom:      cfg.GatewaySMSFrom,
		WhatsAppFrom: cfg.GatewayWhatsFrom,
	}, 15*time.Second)
	if gateway.Configured() {
		log.Printf("Messaging gateway configured")
	} else {
		log.Printf("Messaging gateway not configured; queued messages will fail softly")
	}
	worker := jobs.NewDeliveryWorker(db, gateway, cfg.Engine.DeliveryBatchSize, cfg.Engine.MaxDeliveryAttempts)

	// Cron jobs: inactivity sweep and scheduled delivery runs
	scheduler, err := jobs.NewScheduler(lifecycle, worker)
	if err != nil {
		log.Fatalf("Failed to set up scheduler: %v", err)
	}
	scheduler.Start()

	// Dislocation sweep runs on its own sub-minute ticker
	sweepStop := make(chan struct{})
	sweep := jobs.NewDislocationSweep(dislocation)
	go sweep.Start(cfg.Engine.DislocationInterval, sweepStop)
	log.Printf("Dislocation sweep every %s, threshold %.1f km", cfg.Engine.DislocationInterval, cfg.Engine.DislocationKm)

	// Initialize handlers
	httpHandler := handlers.NewHTTPHandler()
	apiHandler := handlers.NewAPIHandler(db, lifecycle, worker)
	wsHandler := handlers.NewSessionWSHandler(db, hub, lifecycle, dislocation)

	// Set up HTTP server routes
	mux := http.NewServeMux()
	httpHandler.SetupRoutes(mux)
	apiHandler.SetupRoutes(mux)
	wsHandler.SetupRoutes(mux)

	// Wrap all routes with request-ID tagging, then CORS
	corsMiddleware := middleware.NewCORSMiddleware() // Allow all origins
	rootHandler := corsMiddleware.Wrap(middleware.RequestIDMiddleware(mux))

	// Start HTTP server in goroutine
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: rootHandler,
	}

	go func() {
		log.Printf("Starting HTTP server on port %d", cfg.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	log.Println("Engine is running! Press Ctrl+C to exit.")
	log.Printf("Health check endpoint: http://localhost:%d/health", cfg.HTTPPort)
	log.Printf("API base URL: http://localhost:%d/api/v1", cfg.HTTPPort)
	log.Printf("WebSocket endpoint: ws://localhost:%d/ws", cfg.HTTPPort)

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Received shutdown signal, cleaning up...")

	close(sweepStop)
	scheduler.Stop()

	log.Println("Shutting down HTTP server...")
	if err := httpServer.Close(); err != nil {
		log.Printf("Error shutting down HTTP server: %v", err)
	}

	if err := database.Close(); err != nil {
		log.Printf("Error closing database: %v", err)
	}

	log.Println("Shutdown complete")
}
