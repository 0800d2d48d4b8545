// Package replay persists the raw payloads captured during live syncs
// and serves them back so a sync can run without touching any remote
// API. Bundles are diagnostic data only; live syncs never read them.
package replay

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"healthsync/internal/database"
	"healthsync/internal/metrics"
)

// Store reads and writes raw response bundles
type Store struct {
	db     *database.DB
	logger *slog.Logger
}

// NewStore creates a replay store
func NewStore(db *database.DB, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Entry is one captured payload within a bundle
type Entry struct {
	Payload    json.RawMessage
	CapturedAt time.Time
}

// Bundle is everything captured for one (user, provider), keyed by the
// logical data-type name.
type Bundle struct {
	Entries map[string]Entry
}

// LastUpdated returns the most recent capture time across all entries
func (b *Bundle) LastUpdated() time.Time {
	var latest time.Time
	for _, e := range b.Entries {
		if e.CapturedAt.After(latest) {
			latest = e.CapturedAt
		}
	}
	return latest
}

// Capture persists one payload under its data-type key, merging into
// the existing bundle. Payloads that fail to marshal are logged and
// dropped; capture must never fail a live sync.
func (s *Store) Capture(userID, providerName, dataKey string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("failed to marshal capture payload",
			"provider", providerName, "data_key", dataKey, "error", err)
		return
	}

	if err := s.db.UpsertRawBundleEntry(userID, providerName, dataKey, string(raw), time.Now()); err != nil {
		s.logger.Error("failed to persist capture",
			"provider", providerName, "data_key", dataKey, "error", err)
		return
	}

	metrics.RawCapturesTotal.WithLabelValues(providerName, dataKey).Inc()
	s.logger.Debug("captured raw payload",
		"provider", providerName, "data_key", dataKey, "bytes", len(raw))
}

// Load returns the stored bundle for (user, provider), or nil when
// nothing has been captured.
func (s *Store) Load(userID, providerName string) (*Bundle, error) {
	rows, err := s.db.GetRawBundle(userID, providerName)
	if err != nil {
		return nil, fmt.Errorf("failed to load raw bundle: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	bundle := &Bundle{Entries: make(map[string]Entry, len(rows))}
	for key, row := range rows {
		bundle.Entries[key] = Entry{
			Payload:    json.RawMessage(row.Payload),
			CapturedAt: time.Unix(row.CapturedAt, 0),
		}
	}
	return bundle, nil
}

// Summary describes one provider's stored bundle
type Summary struct {
	Provider    string
	Keys        int64
	LastUpdated time.Time
}

// List summarizes all bundles stored for a user
func (s *Store) List(userID string) ([]Summary, error) {
	rows, err := s.db.ListRawBundles(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list raw bundles: %w", err)
	}

	var out []Summary
	for providerName, row := range rows {
		out = append(out, Summary{
			Provider:    providerName,
			Keys:        row.Keys,
			LastUpdated: time.Unix(row.LastUpdated, 0),
		})
	}
	return out, nil
}
