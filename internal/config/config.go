package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"bags-claim-sniper/internal/utils"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Store backends
const (
	StoreSupabase = "supabase"
	StorePostgres = "postgres"
)

// Config holds all configuration for the claim sniper
type Config struct {
	// GRPC Settings
	GRPCEndpoint string
	GRPCToken    string

	// RPC Settings
	RPCEndpoint string

	// Durable store
	StoreBackend  string
	SupabaseURL   string
	SupabaseKey   string
	DatabaseURL   string
	EncryptionKey string

	// Collaborators
	JupiterAPIURL    string
	JupiterRPS       float64
	TelegramBotToken string

	// Bags Fee Share Configuration
	BagsV1ProgramID string
	BagsV2ProgramID string

	// Timing
	RefreshInterval    time.Duration
	HeartbeatInterval  time.Duration
	BackoffBase        time.Duration
	BackoffMax         time.Duration
	HTTPTimeoutSeconds int
	ConfirmTimeout     time.Duration

	// Observability
	LogLevel    string
	MetricsAddr string

	// Runtime flags
	SimulateMode bool
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logrus.Warn("No .env file found, using environment variables")
	}

	config := &Config{}

	config.GRPCEndpoint = getEnv("GRPC_URL", "")
	config.GRPCToken = getEnv("GRPC_X_TOKEN", "")
	config.RPCEndpoint = getEnv("RPC_URL", "")

	config.StoreBackend = strings.ToLower(getEnv("STORE_BACKEND", StoreSupabase))
	config.SupabaseURL = getEnv("SUPABASE_URL", getEnv("NEXT_PUBLIC_SUPABASE_URL", ""))
	config.SupabaseKey = getEnv("SUPABASE_SERVICE_ROLE", "")
	config.DatabaseURL = getEnv("DATABASE_URL", "")
	config.EncryptionKey = getEnv("ENCRYPTION_KEY", "")

	config.JupiterAPIURL = getEnv("JUPITER_API_URL", "https://lite-api.jup.ag/swap/v1")
	config.JupiterRPS = getEnvFloat("JUPITER_RPS", 10)
	config.TelegramBotToken = getEnv("TELEGRAM_BOT_TOKEN", "")

	config.BagsV1ProgramID = getEnv("BAGS_V1_PROGRAM_ID", "FEEhPbKVKnco9EXnaY3i4R5rQVUx91wgVfu8qokixywi")
	config.BagsV2ProgramID = getEnv("BAGS_V2_PROGRAM_ID", "FEE2tBhCKAt7shrod19QttSVREUYPiyMzoku1mL1gqVK")

	config.RefreshInterval = time.Duration(getEnvInt("REFRESH_INTERVAL_MS", 1000)) * time.Millisecond
	config.HeartbeatInterval = time.Duration(getEnvInt("HEARTBEAT_INTERVAL_SECONDS", 30)) * time.Second
	config.BackoffBase = time.Duration(getEnvInt("BACKOFF_BASE_SECONDS", 5)) * time.Second
	config.BackoffMax = time.Duration(getEnvInt("BACKOFF_MAX_SECONDS", 60)) * time.Second
	config.HTTPTimeoutSeconds = getEnvInt("HTTP_TIMEOUT_SECONDS", 30)
	config.ConfirmTimeout = time.Duration(getEnvInt("CONFIRM_TIMEOUT_SECONDS", 60)) * time.Second

	config.LogLevel = getEnv("LOG_LEVEL", "info")
	config.MetricsAddr = getEnv("METRICS_ADDR", "")
	config.SimulateMode = getEnvBool("SIMULATE", false)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.GRPCEndpoint == "" {
		return fmt.Errorf("GRPC_URL must be set")
	}

	if c.RPCEndpoint == "" {
		return fmt.Errorf("RPC_URL must be set")
	}

	switch c.StoreBackend {
	case StoreSupabase:
		if c.SupabaseURL == "" {
			return fmt.Errorf("SUPABASE_URL must be set")
		}
		if c.SupabaseKey == "" {
			return fmt.Errorf("SUPABASE_SERVICE_ROLE must be set")
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL must be set when STORE_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be %q or %q, got: %q", StoreSupabase, StorePostgres, c.StoreBackend)
	}

	if c.JupiterRPS <= 0 {
		return fmt.Errorf("JUPITER_RPS must be positive, got: %f", c.JupiterRPS)
	}

	if c.RefreshInterval <= 0 {
		return fmt.Errorf("REFRESH_INTERVAL_MS must be positive, got: %s", c.RefreshInterval)
	}

	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("HEARTBEAT_INTERVAL_SECONDS must be positive, got: %s", c.HeartbeatInterval)
	}

	if c.ConfirmTimeout <= 0 {
		return fmt.Errorf("CONFIRM_TIMEOUT_SECONDS must be positive, got: %s", c.ConfirmTimeout)
	}

	if c.BackoffBase <= 0 || c.BackoffMax < c.BackoffBase {
		return fmt.Errorf("backoff must satisfy 0 < BACKOFF_BASE_SECONDS <= BACKOFF_MAX_SECONDS, got: %s / %s", c.BackoffBase, c.BackoffMax)
	}

	if c.HTTPTimeoutSeconds < 1 {
		return fmt.Errorf("HTTP_TIMEOUT_SECONDS must be at least 1, got: %d", c.HTTPTimeoutSeconds)
	}

	return nil
}

// GetTimeout returns the timeout for outbound HTTP calls
func (c *Config) GetTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}

// LogConfig logs the current configuration
func (c *Config) LogConfig() {
	logrus.WithFields(logrus.Fields{
		"rpc_endpoint":   utils.SanitizeURL(c.RPCEndpoint),
		"grpc_endpoint":  utils.SanitizeURL(c.GRPCEndpoint),
		"store":          c.StoreBackend,
		"encryption_key": utils.SanitizePrivateKey(c.EncryptionKey),
		"telegram":       c.TelegramBotToken != "",
		"refresh":        c.RefreshInterval.String(),
		"simulate_mode":  c.SimulateMode,
	}).Info("📋 Configuration loaded")
}

// Helper functions for environment variable handling

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
		logrus.Warnf("Invalid integer value for %s: %s, using default: %d", key, value, defaultValue)
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
		logrus.Warnf("Invalid float value for %s: %s, using default: %f", key, value, defaultValue)
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
		logrus.Warnf("Invalid bool value for %s: %s, using default: %t", key, value, defaultValue)
	}
	return defaultValue
}
