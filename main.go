package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"healthsync/internal/config"
	"healthsync/internal/database"
	"healthsync/internal/engine"
	"healthsync/internal/handlers"
	"healthsync/internal/metrics"
	"healthsync/internal/normalize"
	"healthsync/internal/provider"
	"healthsync/internal/provider/fitbit"
	"healthsync/internal/provider/hevy"
	"healthsync/internal/provider/polar"
	"healthsync/internal/replay"
	"healthsync/internal/tokens"
	"healthsync/internal/vault"
)

func main() {
	// Local development convenience; no error if the file is absent
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Starting healthsync server",
		"host", cfg.Host,
		"port", cfg.Port,
		"database", cfg.DatabasePath,
		"data_source", cfg.DataSource,
		"capture_raw", cfg.CaptureRaw,
		"log_level", cfg.LogLevel)

	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		logger.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	logger.Info("Database opened successfully")

	v, err := vault.New(cfg.MasterKey)
	if err != nil {
		logger.Error("Failed to initialize credential vault", "error", err)
		os.Exit(1)
	}

	registry := provider.NewRegistry(
		hevy.New(logger),
		fitbit.New(logger),
		polar.New(logger),
	)
	logger.Info("Registered providers", "providers", registry.Names())

	tokenManager := tokens.NewManager(db, v, registry, logger)
	replayStore := replay.NewStore(db, logger)
	normalizer := normalize.New(db, logger)

	orchestrator := engine.New(db, tokenManager, registry, normalizer, replayStore, logger, engine.Options{
		DataSource: cfg.DataSource,
		CaptureRaw: cfg.CaptureRaw,
	})

	handler := handlers.NewProviderHandler(db, tokenManager, orchestrator, logger)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      handler.Routes(),
		ReadTimeout:  35 * time.Second,
		WriteTimeout: 120 * time.Second, // full syncs can run long
		IdleTimeout:  120 * time.Second,
	}

	collectorCtx, collectorCancel := context.WithCancel(context.Background())
	defer collectorCancel()

	// Start link gauge collector if metrics are enabled
	if cfg.MetricsEnabled {
		go func() {
			logger.Info("Starting active link collector")
			metrics.StartLinkGaugeCollector(collectorCtx, db, 15*time.Second)
		}()
	}

	// Start metrics server if enabled
	var metricsServer *http.Server
	if cfg.MetricsEnabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())

		metricsAddr := fmt.Sprintf("%s:%d", cfg.MetricsHost, cfg.MetricsPort)
		metricsServer = &http.Server{
			Addr:    metricsAddr,
			Handler: metricsMux,
		}

		go func() {
			logger.Info("Metrics server listening", "addr", metricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Metrics server failed", "error", err)
			}
		}()
	}

	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down gracefully...")

	collectorCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Metrics server shutdown failed", "error", err)
		}
	}

	logger.Info("Server stopped")
}
