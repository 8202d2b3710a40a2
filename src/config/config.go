package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// AppConfig holds all configuration for the application.
// The values are loaded from environment variables.
type AppConfig struct {
	// Core settings
	Port         string
	DatabasePath string
	LogLevel     string

	// Security settings
	JWTSecret string

	// Payment rails provider
	ProviderBaseURL string
	ProviderToken   string
	ProviderTimeout time.Duration

	// Pre-configured payout account used when a customer has no external
	// account on file (check-delivery flow).
	CheckDeliveryExternalAccountID string

	// Wizard timing
	QuoteLockSeconds   int
	StatusPollInterval time.Duration
	StatusPollCeiling  time.Duration
	SessionTTL         time.Duration

	// Frontend URL for CORS and redirects
	FrontendBaseURL string
}

// Cfg is a global instance of the AppConfig.
var Cfg *AppConfig

// LoadConfig loads configuration from environment variables or a .env file.
// It centralizes all configuration logic for the application.
func LoadConfig() {
	errEnv := godotenv.Load()
	if errEnv != nil {
		errEnv = godotenv.Load("../.env")
	}
	if errEnv != nil {
		if os.IsNotExist(errEnv) {
			log.Println("Info: No .env file found. Relying on OS environment variables (expected in production).")
		} else {
			log.Printf("Warning: Error loading .env file: %v. Relying on OS environment variables.", errEnv)
		}
	} else {
		log.Println(".env file loaded successfully.")
	}

	log.Println("Loading application configuration...")

	jwtSecret := getRequiredEnv("JWT_SECRET")
	providerToken := getRequiredEnv("PROVIDER_API_TOKEN")

	// A single base-URL override selects between the local sandbox and the
	// remote provider host.
	providerBaseURL := getEnv("PROVIDER_BASE_URL", "https://api.sandbox.unblockpay.com/v1")

	Cfg = &AppConfig{
		Port:         getEnv("PORT", "5001"),
		DatabasePath: getEnv("DATABASE_PATH", "./crebit.db"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),

		JWTSecret: jwtSecret,

		ProviderBaseURL: providerBaseURL,
		ProviderToken:   providerToken,
		ProviderTimeout: getEnvAsDuration("PROVIDER_TIMEOUT", 30*time.Second),

		CheckDeliveryExternalAccountID: getEnv("CHECK_DELIVERY_EXTERNAL_ACCOUNT_ID", ""),

		QuoteLockSeconds:   getEnvAsInt("QUOTE_LOCK_SECONDS", 300),
		StatusPollInterval: getEnvAsDuration("STATUS_POLL_INTERVAL", 3*time.Second),
		StatusPollCeiling:  getEnvAsDuration("STATUS_POLL_CEILING", 10*time.Minute),
		SessionTTL:         getEnvAsDuration("SESSION_TTL", 2*time.Hour),

		FrontendBaseURL: getEnv("APP_BASE_URL", "http://localhost:3000"),
	}

	log.Printf("Configuration loaded: Port=%s, LogLevel=%s, DBPath=%s, Provider=%s",
		Cfg.Port, Cfg.LogLevel, Cfg.DatabasePath, Cfg.ProviderBaseURL)
}

// getEnv retrieves an environment variable or returns a fallback value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	log.Printf("Environment variable %s not set, using default: %s", key, fallback)
	return fallback
}

// getRequiredEnv retrieves an environment variable or terminates the application if not set.
func getRequiredEnv(key string) string {
	value, exists := os.LookupEnv(key)
	if !exists || strings.TrimSpace(value) == "" {
		log.Fatalf("FATAL: Required environment variable %s is not set or is empty. Application cannot start securely.", key)
	}
	return value
}

// getEnvAsInt retrieves an environment variable as an integer or returns a fallback.
func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	log.Printf("Invalid integer value for %s ('%s'), using default: %d", key, valueStr, fallback)
	return fallback
}

// getEnvAsDuration retrieves an environment variable as a time.Duration or returns a fallback.
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	log.Printf("Invalid duration value for %s ('%s'), using default: %s", key, valueStr, fallback.String())
	return fallback
}
