package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds the application configuration
type Config struct {
	// GitHub
	GitHubToken string
	Orgs        []string

	// Storage
	StorageType string // "sqlite", "postgres" or "memory"
	SQLitePath  string
	PostgresURL string

	// Sync
	SyncConcurrency int

	// API Server
	APIPort  string
	APIHost  string
	APIToken string

	// CLI
	APIEndpoint string

	// Logging
	LogLevel string
}

// Load loads the configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	return &Config{
		GitHubToken:     getEnv("GITHUB_TOKEN", ""),
		Orgs:            splitList(getEnv("GITHUB_ORGS", "")),
		StorageType:     getEnv("STORAGE_TYPE", "sqlite"),
		SQLitePath:      getEnv("SQLITE_PATH", "./analytics.db"),
		PostgresURL:     getEnv("POSTGRES_URL", ""),
		SyncConcurrency: getEnvInt("SYNC_CONCURRENCY", 3),
		APIPort:         getEnv("API_PORT", "8080"),
		APIHost:         getEnv("API_HOST", "localhost"),
		APIToken:        getEnv("API_TOKEN", ""),
		APIEndpoint:     getEnv("API_ENDPOINT", "http://localhost:8080"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
	}, nil
}

// getEnv returns the value of an environment variable or a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return defaultValue
	}
	return n
}

// splitList splits a comma-separated environment value into trimmed entries
func splitList(value string) []string {
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.GitHubToken == "" {
		return &ConfigError{Field: "GITHUB_TOKEN", Message: "GitHub token is required"}
	}
	if len(c.Orgs) == 0 {
		return &ConfigError{Field: "GITHUB_ORGS", Message: "at least one organization is required"}
	}
	if c.StorageType != "sqlite" && c.StorageType != "postgres" && c.StorageType != "memory" {
		return &ConfigError{Field: "STORAGE_TYPE", Message: "must be 'sqlite', 'postgres' or 'memory'"}
	}
	if c.StorageType == "postgres" && c.PostgresURL == "" {
		return &ConfigError{Field: "POSTGRES_URL", Message: "PostgreSQL URL is required when STORAGE_TYPE is 'postgres'"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}
