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

	"github.com/slaguard/slaguard/internal/breaker"
	"github.com/slaguard/slaguard/internal/config"
	"github.com/slaguard/slaguard/internal/database"
	"github.com/slaguard/slaguard/internal/handlers"
	"github.com/slaguard/slaguard/internal/jobs"
	"github.com/slaguard/slaguard/internal/middleware"
	"github.com/slaguard/slaguard/internal/notify"
	"github.com/slaguard/slaguard/internal/services"
	"github.com/slaguard/slaguard/internal/sla"
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

	log.Printf("Starting SLA compliance monitor...")

	if cfg.AuthEnabled && cfg.AdminPassword == "" {
		log.Fatalf("ADMIN_PASSWORD is not set")
	}

	// Initialize database connection
	if err := database.Connect(cfg.DatabaseURL, logger.Warn); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	// Run database migrations
	if err := database.AutoMigrate(); err != nil {
		log.Fatalf("Failed to run database migrations: %v", err)
	}

	// Initialize default database records (default policy, admin user)
	passwordHash := ""
	if cfg.AdminPassword != "" {
		passwordHash, err = database.HashPassword(cfg.AdminPassword)
		if err != nil {
			log.Fatalf("Failed to hash admin password: %v", err)
		}
	}
	if err := database.InitializeDefaults(cfg.AdminUsername, passwordHash); err != nil {
		log.Fatalf("Failed to initialize database defaults: %v", err)
	}

	// Initialize JWT authentication middleware
	jwtAuthMiddleware := middleware.NewJWTAuthMiddleware(&middleware.JWTAuthConfig{
		Enabled:        cfg.AuthEnabled,
		JWTSecret:      cfg.JWTSecret,
		JWTExpiryHours: cfg.JWTExpiryHours,
		SkipPaths: []string{
			"/health",
			"/auth/login",
			"/ws/events",
		},
	}, database.GetDB())
	if cfg.AuthEnabled {
		log.Printf("JWT authentication enabled for user: %s", cfg.AdminUsername)
	} else {
		log.Printf("Authentication is DISABLED")
	}

	// Load business-hours calendar
	calendar := sla.DefaultCalendar()
	if cfg.CalendarPath != "" {
		calendar, err = sla.LoadCalendarFile(cfg.CalendarPath)
		if err != nil {
			log.Fatalf("Failed to load calendar from %s: %v", cfg.CalendarPath, err)
		}
		log.Printf("Loaded business calendar from %s", cfg.CalendarPath)
	}

	// Pick the notification transport. Without a Slack token, escalations
	// still land in the process log.
	var dispatcher notify.Dispatcher = notify.LogNotifier{}
	if cfg.SlackBotToken != "" {
		dispatcher = notify.NewSlackNotifier(cfg.SlackBotToken, cfg.SlackDefaultChannel)
		log.Printf("Slack notifications enabled (default channel: %s)", cfg.SlackDefaultChannel)
	} else {
		log.Printf("SLACK_BOT_TOKEN not set, logging notifications instead")
	}
	circuit := breaker.New(dispatcher.Name(), breaker.DefaultSettings())

	// Initialize services
	db := database.GetDB()
	policyService := services.NewPolicyService(db, calendar)
	itemService := services.NewItemService(db, calendar)
	detector := services.NewDetector(db, calendar)
	escalationEngine := services.NewEscalationEngine(db, dispatcher, notify.LogNotifier{}, circuit)
	complianceService := services.NewComplianceService(db)

	// Initialize handlers
	eventsHub := handlers.NewEventsHub()
	httpHandler := handlers.NewHTTPHandler()
	apiHandler := handlers.NewAPIHandler(policyService, itemService, detector, escalationEngine, complianceService, eventsHub)
	authHandler := handlers.NewAuthHandler(jwtAuthMiddleware)

	// Set up HTTP server routes
	mux := http.NewServeMux()
	httpHandler.SetupRoutes(mux)
	apiHandler.SetupRoutes(mux)
	authHandler.SetupRoutes(mux)

	// Wrap all routes with CORS first, then request IDs, then JWT
	corsMiddleware := middleware.NewCORSMiddleware() // Allow all origins
	authenticatedHandler := corsMiddleware.Wrap(
		middleware.RequestIDMiddleware(jwtAuthMiddleware.Wrap(mux)))

	// Start the background monitoring loop
	monitor := jobs.NewSLAMonitor(detector, escalationEngine, eventsHub)
	stopMonitor := make(chan struct{})
	go monitor.Start(time.Duration(cfg.SweepIntervalSeconds)*time.Second, stopMonitor)
	log.Printf("SLA monitor started (sweep every %ds)", cfg.SweepIntervalSeconds)

	// Start HTTP server in goroutine
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: authenticatedHandler,
	}

	go func() {
		log.Printf("Starting HTTP server on port %d", cfg.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	log.Printf("Health check endpoint: http://localhost:%d/health", cfg.HTTPPort)
	log.Printf("API base URL: http://localhost:%d/api", cfg.HTTPPort)
	log.Printf("Live event feed: ws://localhost:%d/ws/events", cfg.HTTPPort)

	// Set up graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Received shutdown signal, cleaning up...")
	close(stopMonitor)

	log.Println("Shutting down HTTP server...")
	if err := httpServer.Close(); err != nil {
		log.Printf("Error shutting down HTTP server: %v", err)
	}
	if err := database.Close(); err != nil {
		log.Printf("Error closing database: %v", err)
	}

	log.Println("Shutdown complete")
}
