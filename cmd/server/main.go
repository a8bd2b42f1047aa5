/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the billing engine server. Handles
  configuration, dependency injection, seeding and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and the environment configuration
  2. Build the zap logger at the configured level
  3. Open the SQLite store, seed the bootstrap admin and tariffs
  4. Ensure the offline recovery key file exists
  5. Open the CSV audit log
  6. Wire the service layer and the HTTP router
  7. Start the server with graceful shutdown

SEEDING:
  On an empty database the configured admin account (forced to change
  its password on first login) and the default tier schedule are
  inserted. Subsequent starts leave both alone.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close the audit log and the database
  4. Exit

ENVIRONMENT:
  See config/config.go for every variable and its default. A bare
  `server` starts on :8080 with data/ for all files.

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Environment variables
*/
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wattline/billing-engine/access"
	"github.com/wattline/billing-engine/api"
	"github.com/wattline/billing-engine/audit"
	"github.com/wattline/billing-engine/auth"
	"github.com/wattline/billing-engine/billing"
	"github.com/wattline/billing-engine/config"
	"github.com/wattline/billing-engine/service"
	"github.com/wattline/billing-engine/store/sqlite"
)

func main() {
	// A .env file is optional; the environment wins either way.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	if err := ensureDataDirs(cfg); err != nil {
		logger.Fatal("failed to create data directories", zap.Error(err))
	}

	// Store and seeding
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer store.Close()

	hasher := auth.Hasher{Cost: cfg.Auth.BcryptCost}
	adminCreated, err := seedDefaults(store, hasher, cfg)
	if err != nil {
		logger.Fatal("failed to seed defaults", zap.Error(err))
	}
	if adminCreated {
		logger.Info("bootstrap admin created; password change is forced on first login",
			zap.String("username", cfg.Auth.AdminUsername))
	}

	_, created, err := service.EnsureRecoveryKey(cfg.Auth.RecoveryKeyPath)
	if err != nil {
		logger.Fatal("failed to ensure recovery key", zap.Error(err))
	}
	if created {
		logger.Info("recovery key generated", zap.String("path", cfg.Auth.RecoveryKeyPath))
	}

	auditLog, err := audit.NewCSVLog(cfg.Audit.Path)
	if err != nil {
		logger.Fatal("failed to open audit log", zap.Error(err))
	}
	defer auditLog.Close()

	// Service layer
	detector := billing.Detector{
		MeterMax:          cfg.Meter.MaxValue,
		ThresholdFraction: cfg.Meter.RolloverThreshold,
	}
	editPolicy := access.Policy{EditWindow: cfg.Meter.EditWindow}
	sessions := auth.NewSessionRegistry(cfg.Auth.SessionTimeout)
	throttle := auth.NewLoginThrottle(cfg.Auth.MaxLoginAttempts, cfg.Auth.LockoutWindow)
	credentials := auth.CredentialPolicy{MinLength: cfg.Auth.MinPasswordLength}

	handler := api.NewHandler(
		service.NewAuth(store, sessions, throttle, hasher, credentials, auditLog, logger, cfg.Auth.RecoveryKeyPath),
		service.NewMeters(store, auditLog, logger),
		service.NewReadings(store, detector, editPolicy, auditLog, logger),
		service.NewTariffs(store, auditLog, logger),
		service.NewDashboard(store, logger),
		logger,
	)

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      api.NewRouter(handler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting",
			zap.String("service", cfg.ServiceName),
			zap.String("addr", cfg.ListenAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

// buildLogger returns a production zap logger at the configured level.
func buildLogger(level string) (*zap.Logger, error) {
	parsed, err := zapcore.ParseLevel(level)
	if err != nil {
		parsed = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parsed)
	return cfg.Build()
}

// ensureDataDirs creates the directories behind every configured file
// path so a fresh checkout starts without manual setup.
func ensureDataDirs(cfg *config.Config) error {
	for _, path := range []string{cfg.Database.Path, cfg.Auth.RecoveryKeyPath, cfg.Audit.Path} {
		if path == ":memory:" {
			continue
		}
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
		}
	}
	return nil
}

// seedDefaults inserts the bootstrap admin and the default schedule on
// an empty database.
func seedDefaults(store *sqlite.Store, hasher auth.Hasher, cfg *config.Config) (bool, error) {
	hash, err := hasher.Hash(cfg.Auth.AdminPassword)
	if err != nil {
		return false, err
	}

	admin := auth.User{
		ID:                 billing.UserID(uuid.NewString()),
		Name:               "Administrator",
		Username:           auth.NormalizeUsername(cfg.Auth.AdminUsername),
		PasswordHash:       hash,
		Role:               auth.RoleAdmin,
		Status:             auth.StatusActive,
		MustChangePassword: true,
		CreatedAt:          time.Now(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return store.SeedDefaults(ctx, admin, billing.DefaultSchedule())
}
