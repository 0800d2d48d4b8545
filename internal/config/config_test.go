package config

import (
	"testing"
)

func setRequiredEnv(t *testing.T) {
	t.Setenv("MASTER_KEY", "test-master-key")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Host != "localhost" {
		t.Errorf("Expected default host 'localhost', got '%s'", cfg.Host)
	}
	if cfg.Port != 4201 {
		t.Errorf("Expected default port 4201, got %d", cfg.Port)
	}
	if cfg.DatabasePath != "./data.db" {
		t.Errorf("Expected default database path './data.db', got '%s'", cfg.DatabasePath)
	}
	if cfg.DataSource != DataSourceLive {
		t.Errorf("Expected default data source 'live', got '%s'", cfg.DataSource)
	}
	if cfg.CaptureRaw {
		t.Error("Expected capture raw to default to false")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("Expected default log level 'info', got '%s'", cfg.LogLevel)
	}
}

func TestLoad_MissingMasterKey(t *testing.T) {
	t.Setenv("MASTER_KEY", "")

	_, err := Load()
	if err == nil {
		t.Fatal("Expected error when MASTER_KEY is missing")
	}
}

func TestLoad_ReplayMode(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DATA_SOURCE", "replay")
	t.Setenv("CAPTURE_RAW", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.DataSource != DataSourceReplay {
		t.Errorf("Expected data source 'replay', got '%s'", cfg.DataSource)
	}
	if !cfg.CaptureRaw {
		t.Error("Expected capture raw to be enabled")
	}
}

func TestLoad_InvalidDataSource(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DATA_SOURCE", "cached")

	_, err := Load()
	if err == nil {
		t.Fatal("Expected error for invalid DATA_SOURCE")
	}
}

func TestLoad_Overrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("HOST", "0.0.0.0")
	t.Setenv("PORT", "9000")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("METRICS_ENABLED", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Host != "0.0.0.0" {
		t.Errorf("Expected host '0.0.0.0', got '%s'", cfg.Host)
	}
	if cfg.Port != 9000 {
		t.Errorf("Expected port 9000, got %d", cfg.Port)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("Expected log level 'debug', got '%s'", cfg.LogLevel)
	}
	if !cfg.MetricsEnabled {
		t.Error("Expected metrics to be enabled")
	}
}

func TestLoad_InvalidPortFallsBack(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PORT", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Port != 4201 {
		t.Errorf("Expected fallback port 4201, got %d", cfg.Port)
	}
}
