package metrics

import (
	"context"
	"log/slog"
	"time"
)

// DB interface for link gauge queries
type DB interface {
	CountActiveLinksByProvider() (map[string]int64, error)
}

// StartLinkGaugeCollector starts a background goroutine that periodically
// refreshes the active link gauge from the database
func StartLinkGaugeCollector(ctx context.Context, db DB, interval time.Duration) {
	logger := slog.Default()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Collect once immediately
	collectActiveLinks(db, logger)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Link gauge collector stopping")
			return
		case <-ticker.C:
			collectActiveLinks(db, logger)
		}
	}
}

func collectActiveLinks(db DB, logger *slog.Logger) {
	counts, err := db.CountActiveLinksByProvider()
	if err != nil {
		logger.Error("Failed to count active links", "error", err)
		return
	}
	for provider, count := range counts {
		ActiveLinks.WithLabelValues(provider).Set(float64(count))
	}
}
