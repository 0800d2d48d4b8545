package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"healthsync/internal/config"
	"healthsync/internal/database"
	"healthsync/internal/engine"
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
	// Disable structured logging for CLI
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError, // Only show errors
	})))

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	if command == "help" {
		printUsage()
		return
	}

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	switch command {
	case "sync":
		handleSync(cfg, db, config.DataSourceLive)
	case "replay":
		handleSync(cfg, db, config.DataSourceReplay)
	case "bundles":
		handleBundles(db)
	case "status":
		handleStatus(db)
	default:
		fmt.Fprintf(os.Stderr, "Error: Unknown command '%s'\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`healthsync CLI - Sync and Diagnostics

Usage:
  cli <command> [options]

Commands:
  sync <user-id> <provider> [mode]    Run a live sync (mode: incremental or full)
  replay <user-id> <provider> [mode]  Re-run a sync from the captured raw bundle
  bundles <user-id>                   List captured raw bundles for a user
  status <user-id>                    Show provider link status for a user
  help                                Show this help message

Examples:
  cli sync user-42 fitbit full
  cli replay user-42 fitbit
  cli bundles user-42
  cli status user-42

Environment Variables Required:
  MASTER_KEY      - Credential vault master key
  DATABASE_PATH   - SQLite database path (default: ./data.db)`)
}

func buildOrchestrator(cfg *config.Config, db *database.DB, dataSource string) (*engine.Orchestrator, error) {
	v, err := vault.New(cfg.MasterKey)
	if err != nil {
		return nil, err
	}

	logger := slog.Default()
	registry := provider.NewRegistry(
		hevy.New(logger),
		fitbit.New(logger),
		polar.New(logger),
	)

	tokenManager := tokens.NewManager(db, v, registry, logger)
	replayStore := replay.NewStore(db, logger)
	normalizer := normalize.New(db, logger)

	return engine.New(db, tokenManager, registry, normalizer, replayStore, logger, engine.Options{
		DataSource: dataSource,
		CaptureRaw: cfg.CaptureRaw && dataSource == config.DataSourceLive,
	}), nil
}

func handleSync(cfg *config.Config, db *database.DB, dataSource string) {
	if len(os.Args) < 4 {
		fmt.Fprintln(os.Stderr, "Error: sync requires <user-id> and <provider>")
		os.Exit(1)
	}
	userID := os.Args[2]
	providerName := os.Args[3]

	mode := engine.ModeIncremental
	if len(os.Args) > 4 {
		mode = engine.Mode(os.Args[4])
	}

	orch, err := buildOrchestrator(cfg, db, dataSource)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	verb := "Syncing"
	if dataSource == config.DataSourceReplay {
		verb = "Replaying"
	}
	fmt.Printf("%s %s for %s (mode: %s)...\n", verb, providerName, userID, mode)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	result, err := orch.Sync(ctx, userID, providerName, mode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Sync failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("✓ Sync completed successfully!")
	fmt.Printf("  Run ID: %s\n", result.RunID)
	fmt.Printf("  Captured: %v\n", result.CapturedTypes)
	if result.Replayed {
		fmt.Println("  Source: captured raw bundle")
	}
}

func handleBundles(db *database.DB) {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "Error: bundles requires <user-id>")
		os.Exit(1)
	}
	userID := os.Args[2]

	store := replay.NewStore(db, slog.Default())
	summaries, err := store.List(userID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to list bundles: %v\n", err)
		os.Exit(1)
	}

	if len(summaries) == 0 {
		fmt.Println("No captured bundles found.")
		return
	}

	fmt.Printf("Found %d bundle(s):\n\n", len(summaries))
	for _, s := range summaries {
		fmt.Printf("Provider: %s\n", s.Provider)
		fmt.Printf("  Data types: %d\n", s.Keys)
		fmt.Printf("  Last updated: %s\n", s.LastUpdated.Format(time.RFC3339))
		fmt.Println()
	}
}

func handleStatus(db *database.DB) {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "Error: status requires <user-id>")
		os.Exit(1)
	}
	userID := os.Args[2]

	links, err := db.ListLinks(userID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to list links: %v\n", err)
		os.Exit(1)
	}

	if len(links) == 0 {
		fmt.Println("No provider links found.")
		return
	}

	fmt.Printf("Found %d link(s):\n\n", len(links))
	for _, link := range links {
		fmt.Printf("Provider: %s\n", link.Provider)
		fmt.Printf("  Active: %t\n", link.IsActive)
		if link.ExternalUserID != nil && *link.ExternalUserID != "" {
			fmt.Printf("  External user: %s\n", *link.ExternalUserID)
		}
		if link.LastSyncAt != nil {
			fmt.Printf("  Last sync: %s\n", time.Unix(*link.LastSyncAt, 0).Format(time.RFC3339))
		} else {
			fmt.Println("  Last sync: never")
		}
		if link.TokenExpiresAt != nil {
			fmt.Printf("  Token expires: %s\n", time.Unix(*link.TokenExpiresAt, 0).Format(time.RFC3339))
		}
		fmt.Println()
	}
}
