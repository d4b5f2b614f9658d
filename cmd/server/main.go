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

	"github.com/tradiehq/integrations/internal/api"
	"github.com/tradiehq/integrations/internal/config"
	"github.com/tradiehq/integrations/internal/database"
	"github.com/tradiehq/integrations/internal/jobs"
	"github.com/tradiehq/integrations/internal/oauth"
	"github.com/tradiehq/integrations/internal/secrets"
	"github.com/tradiehq/integrations/internal/store"
	"github.com/tradiehq/integrations/internal/tokens"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize database
	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	// Get underlying SQL database for cleanup
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("Failed to get database connection: %v", err)
	}
	defer sqlDB.Close()

	// Run migrations
	if err := database.RunMigrations(cfg.Database); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Derive the token encryption key once; the codec is immutable and
	// injected everywhere it is needed.
	codec, err := secrets.NewCodec(cfg.Tokens.EncryptionKey)
	if err != nil {
		log.Fatalf("Failed to initialize token codec: %v", err)
	}

	// Wire the credential lifecycle manager
	st := store.NewGormStore(db)
	client := oauth.NewClient(cfg.ServiceM8)
	manager := tokens.NewManager(client, st, st, codec, cfg.Tokens.ExpiryBuffer)

	// Initialize job scheduler
	scheduler := jobs.NewScheduler(st)
	scheduler.Start()
	defer scheduler.Stop()

	// Setup API router
	router := api.NewRouter(cfg, manager)

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on port %d", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
