package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/veyra-ai/be-cost-approvals/internal/client"
	"github.com/veyra-ai/be-cost-approvals/internal/config"
	"github.com/veyra-ai/be-cost-approvals/internal/database"
	"github.com/veyra-ai/be-cost-approvals/internal/handler"
	"github.com/veyra-ai/be-cost-approvals/internal/logger"
	"github.com/veyra-ai/be-cost-approvals/internal/middleware"
	"github.com/veyra-ai/be-cost-approvals/internal/repository"
	"github.com/veyra-ai/be-cost-approvals/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       os.Getenv("LOG_LEVEL"),
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting Cost Approvals Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load the workflow policy; a broken hierarchy fails startup, not requests
	policies, err := config.NewPolicyStore(cfg.PolicyPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.PolicyPath).Msg("Failed to load workflow policy")
	}
	if err := policies.Watch(ctx, log); err != nil {
		log.Fatal().Err(err).Msg("Failed to start workflow policy watcher")
	}
	log.Info().Str("path", cfg.PolicyPath).Msg("Workflow policy loaded")

	// Initialize database
	db, err := database.New(ctx, database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		Database:    cfg.Database.Database,
		SSLMode:     cfg.Database.SSLMode,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnTime: cfg.Database.MaxConnTime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
		OpTimeout:   cfg.Database.OpTimeout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	// Initialize repositories
	recordRepo := repository.NewCostTableRepository(db)
	requestRepo := repository.NewApprovalRequestRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	// Initialize collaborator clients
	identityClient := client.NewIdentityClient(getEnv("IDENTITY_URL", "http://localhost:8081"))

	var notifier service.Notifier
	if cfg.NATS.Enabled {
		publisher, err := client.NewNotificationPublisher(cfg.NATS.URL, log.Logger)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect notification publisher")
		}
		notifier = publisher
		log.Info().Str("url", cfg.NATS.URL).Msg("Notification publisher connected")
	} else {
		log.Info().Msg("Notifications disabled")
	}

	// Initialize workflow engine and escalation scheduler
	engine := service.NewWorkflowEngine(recordRepo, requestRepo, auditRepo, policies, identityClient, notifier, log)
	scheduler := service.NewEscalationScheduler(recordRepo, requestRepo, auditRepo, policies, identityClient, notifier, log, cfg.Scheduler.Interval)
	go scheduler.Run(ctx)

	// Setup HTTP routes
	httpHandler := handler.NewHTTPHandler(engine, log)
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// Metrics
	mux.Handle("/metrics", promhttp.Handler())

	// Cost table approval routes
	mux.HandleFunc("/api/v1/cost-tables/submit", httpHandler.SubmitCostTable)
	mux.HandleFunc("/api/v1/cost-tables/decide", httpHandler.Decide)
	mux.HandleFunc("/api/v1/cost-tables/resubmit", httpHandler.Resubmit)
	mux.HandleFunc("/api/v1/cost-tables/delegate", httpHandler.Delegate)
	mux.HandleFunc("/api/v1/cost-tables/pending", httpHandler.ListPending)
	mux.HandleFunc("/api/v1/cost-tables/overdue", httpHandler.ListOverdue)
	mux.HandleFunc("/api/v1/cost-tables/history", httpHandler.History)
	mux.HandleFunc("/api/v1/cost-tables/workflow", httpHandler.GetWorkflow)

	// Apply middleware
	var h http.Handler = mux
	h = middleware.RequestID(h)
	h = middleware.Logger(&log.Logger)(h)
	h = middleware.Recovery(&log.Logger)(h)
	h = middleware.CORS([]string{"*"})(h)
	h = middleware.Timeout(cfg.Server.WriteTimeout)(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	cancel() // stops the scheduler between transitions, never mid-transition

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Server stopped")
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
