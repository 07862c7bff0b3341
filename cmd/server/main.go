/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the campus payment ledger server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration from the environment (and .env if present)
  2. Initialize SQLite store
  3. Connect the Kafka publisher when brokers are configured
  4. Build the ledger engine and HTTP router
  5. Start server with graceful shutdown

ENVIRONMENT:
  PORT           HTTP server port (default: 8080)
  DB_PATH        SQLite database path (default: campuspay.db)
                 Use ":memory:" for an in-memory database
  PENDING_LIMIT  Per-wallet cap on accumulated pending dues
  KAFKA_BROKERS  Comma-separated broker list; empty disables events

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close the publisher and database connection
  4. Exit

SEE ALSO:
  - api/server.go: Router configuration
  - ledger/engine.go: Transfer and clearance semantics
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/campuspay/ledger-engine/api"
	"github.com/campuspay/ledger-engine/config"
	"github.com/campuspay/ledger-engine/events/kafka"
	"github.com/campuspay/ledger-engine/ledger"
	"github.com/campuspay/ledger-engine/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Engine options
	opts := []ledger.Option{ledger.WithPendingLimit(cfg.PendingLimit)}

	var publisher *kafka.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		publisher = kafka.NewPublisher(cfg.KafkaBrokers)
		defer publisher.Close()
		opts = append(opts, ledger.WithPublisher(publisher))
		log.Printf("Publishing transaction events to %v", cfg.KafkaBrokers)
	}

	engine := ledger.New(store, opts...)

	// Create router
	handler := api.NewHandler(engine, store)
	router := api.NewRouter(handler)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("🚀 Server starting on http://localhost:%d", cfg.Port)
		log.Printf("📊 API available at http://localhost:%d/api", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
