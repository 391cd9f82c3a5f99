package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/afyalink/server/internal/auth"
	"github.com/afyalink/server/internal/chat"
	"github.com/afyalink/server/internal/config"
	"github.com/afyalink/server/internal/db"
	httphandler "github.com/afyalink/server/internal/http"
	"github.com/afyalink/server/internal/http/handlers"
	"github.com/afyalink/server/internal/notify"
	"github.com/afyalink/server/internal/repo"
)

func main() {
	// Load .env from CWD so it works from the repo root (env vars override)
	_ = godotenv.Load(".env")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx := context.Background()

	// Open database connection
	database, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()

	// Run migrations
	if err := runMigrations(database); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Initialize repositories
	userRepo := repo.NewUserRepo(database)
	otpRepo := repo.NewOtpRepo(database)
	accessRepo := repo.NewAccessCodeRepo(database)
	passkeyRepo := repo.NewPasskeyRepo(database)
	sessionRepo := repo.NewSessionRepo(database)
	requestRepo := repo.NewRequestRepo(database)
	convRepo := repo.NewConversationRepo(database)

	// Initialize services
	otpService := auth.NewOTPService(otpRepo, cfg.OTPTTL)
	accessCodeService := auth.NewAccessCodeService(accessRepo, userRepo, otpService)
	sessionService := auth.NewSessionService(sessionRepo, cfg.SessionTTL)
	passkeyService := auth.NewPasskeyService(passkeyRepo, accessRepo, userRepo, sessionService, "afyalink.app", "AfyaLink")
	jwtService := auth.NewJWTService(cfg.JWTSecret)
	notifier := notify.New(database, cfg.WhatsAppLinkBase)
	bridge := chat.NewBridge(requestRepo, convRepo)
	relay := chat.NewRelay(requestRepo, convRepo, bridge, notifier)

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(otpService, accessCodeService, passkeyService, cfg.CountryCode, cfg.DevMode)
	requestHandler := handlers.NewRequestHandler(requestRepo, userRepo, jwtService, sessionService, accessCodeService, cfg.CountryCode)
	chatHandler := handlers.NewChatHandler(relay, jwtService, sessionService, accessCodeService, cfg.CountryCode)

	// Create router
	router := httphandler.NewRouter(authHandler, requestHandler, chatHandler)

	// Create HTTP server with timeouts
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}

// runMigrations runs database migrations using goose
func runMigrations(database *sql.DB) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	migrationDir := "internal/db/migrations"
	if info, err := os.Stat(migrationDir); err != nil || !info.IsDir() {
		return fmt.Errorf("migrations directory not found (run from the repo root)")
	}

	absDir, _ := filepath.Abs(migrationDir)
	log.Printf("Running migrations from %s", absDir)

	if err := goose.Up(database, migrationDir); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
