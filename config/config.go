/*
config.go - Application configuration from environment variables

Every tunable of the engine in one struct, loaded once at startup.
Values come from the environment (optionally via a .env file loaded in
main); each has a default matching the standard household installation,
so a bare `billing-engined` starts with no configuration at all.
*/
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	ServiceName string
	ListenAddr  string
	Database    DatabaseConfig
	Auth        AuthConfig
	Meter       MeterConfig
	Audit       AuditConfig
	LogLevel    string
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	Path string
}

// AuthConfig holds credential and session settings.
type AuthConfig struct {
	BcryptCost        int
	SessionTimeout    time.Duration
	MaxLoginAttempts  int
	LockoutWindow     time.Duration
	MinPasswordLength int
	AdminUsername     string
	AdminPassword     string
	RecoveryKeyPath   string
}

// MeterConfig holds counter geometry and edit rules.
type MeterConfig struct {
	MaxValue          float64
	RolloverThreshold float64
	EditWindow        time.Duration
	HistoryYears      int
}

// AuditConfig holds activity log settings.
type AuditConfig struct {
	Path string
}

// Load reads configuration from environment variables, applying the
// standard defaults for anything unset.
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "billing-engine"),
		ListenAddr:  getEnv("LISTEN_ADDR", ":8080"),
		Database: DatabaseConfig{
			Path: getEnv("DATABASE_PATH", "data/billing.db"),
		},
		Auth: AuthConfig{
			BcryptCost:        getEnvAsInt("BCRYPT_COST", 12),
			SessionTimeout:    getEnvAsHours("SESSION_TIMEOUT_HOURS", 3),
			MaxLoginAttempts:  getEnvAsInt("MAX_LOGIN_ATTEMPTS", 3),
			LockoutWindow:     getEnvAsMinutes("LOCKOUT_MINUTES", 1),
			MinPasswordLength: getEnvAsInt("MIN_PASSWORD_LENGTH", 6),
			AdminUsername:     getEnv("DEFAULT_ADMIN_USER", "admin"),
			AdminPassword:     getEnv("DEFAULT_ADMIN_PASS", "admin123"),
			RecoveryKeyPath:   getEnv("RECOVERY_KEY_PATH", "data/recovery_key.txt"),
		},
		Meter: MeterConfig{
			MaxValue:          getEnvAsFloat("METER_MAX_VALUE", 99999.9),
			RolloverThreshold: getEnvAsFloat("ROLLOVER_THRESHOLD", 0.95),
			EditWindow:        getEnvAsHours("LINKED_EDIT_HOURS", 48),
			HistoryYears:      getEnvAsInt("HISTORY_YEARS", 5),
		},
		Audit: AuditConfig{
			Path: getEnv("AUDIT_LOG_PATH", "data/activity_log.csv"),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsHours(key string, defaultValue int) time.Duration {
	return time.Duration(getEnvAsInt(key, defaultValue)) * time.Hour
}

func getEnvAsMinutes(key string, defaultValue int) time.Duration {
	return time.Duration(getEnvAsInt(key, defaultValue)) * time.Minute
}
