package config

import (
	"fmt"
	"os"
	"strconv"
)

// Data source selection for the sync engine
const (
	DataSourceLive   = "live"
	DataSourceReplay = "replay"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Host string
	Port int

	// Database configuration
	DatabasePath string

	// Credential vault configuration
	MasterKey string

	// Sync engine configuration
	DataSource string // "live" hits provider APIs, "replay" reads captured bundles
	CaptureRaw bool   // persist successful live fetches to the replay store

	// Metrics configuration
	MetricsEnabled bool
	MetricsHost    string
	MetricsPort    int

	// Logging configuration
	LogLevel string
}

// Load reads configuration from environment variables
// It fails fast if required variables are missing or invalid
func Load() (*Config, error) {
	cfg := &Config{
		// Optional values with defaults
		Host:           getEnv("HOST", "localhost"),
		Port:           getEnvInt("PORT", 4201),
		DatabasePath:   getEnv("DATABASE_PATH", "./data.db"),
		DataSource:     getEnv("DATA_SOURCE", DataSourceLive),
		CaptureRaw:     getEnvBool("CAPTURE_RAW", false),
		MetricsEnabled: getEnvBool("METRICS_ENABLED", false),
		MetricsHost:    getEnv("METRICS_HOST", "localhost"),
		MetricsPort:    getEnvInt("METRICS_PORT", 4202),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
	}

	// Required values
	var missingVars []string

	cfg.MasterKey = os.Getenv("MASTER_KEY")
	if cfg.MasterKey == "" {
		missingVars = append(missingVars, "MASTER_KEY")
	}

	if len(missingVars) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %v", missingVars)
	}

	if cfg.DataSource != DataSourceLive && cfg.DataSource != DataSourceReplay {
		return nil, fmt.Errorf("invalid DATA_SOURCE %q: must be %q or %q", cfg.DataSource, DataSourceLive, DataSourceReplay)
	}

	return cfg, nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt gets an integer environment variable or returns a default value
func getEnvInt(key string, defaultValue int) int {
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

// getEnvBool gets a boolean environment variable or returns a default value
func getEnvBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}
