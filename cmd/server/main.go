package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"

	"github.com/caseworks/leximport/internal/config"
	"github.com/caseworks/leximport/internal/db"
	"github.com/caseworks/leximport/internal/export"
	"github.com/caseworks/leximport/internal/importer"
	"github.com/caseworks/leximport/internal/middleware"
	"github.com/caseworks/leximport/internal/progress"
	"github.com/caseworks/leximport/internal/reconcile"
	"github.com/caseworks/leximport/internal/report"
	"github.com/caseworks/leximport/internal/repository"
)

func main() {
	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Setup database connection
	conn, err := db.NewConnection(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer conn.Close()

	// Run migrations
	if err := db.RunMigrations(cfg.Database, "./migrations"); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Create repositories
	jobRepo := repository.NewImportJobRepository(conn.Pool)
	clientRepo := repository.NewClientRepository(conn.Pool)
	feeEarnerRepo := repository.NewFeeEarnerRepository(conn.Pool)
	matterRepo := repository.NewMatterRepository(conn.Pool)
	auditRepo := repository.NewAuditRepository(conn.Pool)

	// Assemble the import pipeline
	tracker := progress.NewTracker(
		jobRepo,
		progress.WithCheckpointInterval(cfg.Import.CheckpointInterval),
		progress.WithRetention(cfg.Import.SnapshotRetention),
	)
	defer tracker.Close()

	alerter := report.LogAlerter{}
	reconciler := reconcile.NewReconciler(clientRepo, feeEarnerRepo, nil)
	retry := importer.DefaultRetryPolicy()
	retry.MaxAttempts = cfg.Import.RetryAttempts
	coordinator := importer.NewCoordinator(cfg.Import.BatchSize, cfg.Import.Concurrency, retry)
	reporter := report.NewReporter(auditRepo, alerter)
	importService := importer.NewService(
		jobRepo,
		clientRepo,
		feeEarnerRepo,
		matterRepo,
		conn,
		reconciler,
		coordinator,
		tracker,
		reporter,
		alerter,
	)
	exportService := export.NewService(matterRepo, feeEarnerRepo)

	// Routes
	mux := http.NewServeMux()
	importer.NewHandler(importService, tracker, jobRepo).Register(mux)
	export.NewHandler(exportService).Register(mux)

	// Setup CORS
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})

	handler := corsHandler.Handler(
		middleware.LoggingMiddleware(
			middleware.IdentityMiddleware(mux),
		),
	)

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Starting import server on %s", cfg.Server.Addr)

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
