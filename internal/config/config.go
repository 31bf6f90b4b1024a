package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/Tesseract-Nexus/go-shared/secrets"
)

// Config holds all configuration for the service
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	App        AppConfig
	Background BackgroundConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host string
	Port string
}

// DatabaseConfig holds the shared tenant catalog database configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// DSN renders the catalog connection string. Tenant user-pool databases derive
// their own DSNs from per-tenant core config.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Password string
	DB       int
}

// AppConfig holds application configuration
type AppConfig struct {
	Environment string
	LogLevel    string
	// AdminAPIKeyHash is the bcrypt hash the admin API key is checked
	// against. Empty disables admin authentication (local development).
	AdminAPIKeyHash string
	NATSEnabled     bool
}

// BackgroundConfig holds the schedules of the recurring jobs
type BackgroundConfig struct {
	ReconcileInterval   time.Duration
	JanitorInterval     time.Duration
	SoftDeleteRetention time.Duration
	KeyRotationInterval time.Duration
}

// New creates a new configuration instance
func New() *Config {
	return &Config{
		Server: ServerConfig{
			Host: getEnvWithDefault("SERVER_HOST", "0.0.0.0"),
			Port: getEnvWithDefault("SERVER_PORT", "3567"),
		},
		Database: DatabaseConfig{
			Host:     getEnvWithDefault("DB_HOST", "localhost"),
			Port:     getEnvWithDefault("DB_PORT", "5432"),
			User:     getEnvWithDefault("DB_USER", "postgres"),
			Password: secrets.GetDBPassword(), // Fetch from GCP Secret Manager if enabled
			Name:     getEnvWithDefault("DB_NAME", "authcore"),
			SSLMode:  getEnvWithDefault("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Enabled:  getEnvAsBoolWithDefault("REDIS_ENABLED", false),
			Host:     getEnvWithDefault("REDIS_HOST", "localhost"),
			Port:     getEnvWithDefault("REDIS_PORT", "6379"),
			Password: getEnvWithDefault("REDIS_PASSWORD", ""),
			DB:       getEnvAsIntWithDefault("REDIS_DB", 0),
		},
		App: AppConfig{
			Environment:     getEnvWithDefault("APP_ENV", "development"),
			LogLevel:        getEnvWithDefault("LOG_LEVEL", "info"),
			AdminAPIKeyHash: secrets.GetSecretOrEnv("admin-api-key-hash", "ADMIN_API_KEY_HASH", ""),
			NATSEnabled:     getEnvAsBoolWithDefault("NATS_ENABLED", false),
		},
		Background: BackgroundConfig{
			ReconcileInterval:   getEnvAsDurationWithDefault("RECONCILE_INTERVAL", time.Minute),
			JanitorInterval:     getEnvAsDurationWithDefault("JANITOR_INTERVAL", time.Hour),
			SoftDeleteRetention: getEnvAsDurationWithDefault("SOFT_DELETE_RETENTION", 7*24*time.Hour),
			KeyRotationInterval: getEnvAsDurationWithDefault("KEY_ROTATION_INTERVAL", time.Hour),
		},
	}
}

// getEnvWithDefault gets environment variable with a default fallback
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntWithDefault gets environment variable as integer with default fallback
func getEnvAsIntWithDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsBoolWithDefault gets environment variable as boolean with default fallback
func getEnvAsBoolWithDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvAsDurationWithDefault gets environment variable as duration with default fallback
func getEnvAsDurationWithDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
