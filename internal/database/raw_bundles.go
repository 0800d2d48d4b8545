package database

import (
	"fmt"
	"time"
)

// RawBundleEntry is one captured payload for a (user, provider, data key)
type RawBundleEntry struct {
	UserID     string
	Provider   string
	DataKey    string
	Payload    string // JSON
	CapturedAt int64
}

// UpsertRawBundleEntry merges a captured payload into the provider's
// bundle under its data-type key. Other keys in the bundle are never
// touched, so concurrent captures for different keys don't clobber
// each other.
func (db *DB) UpsertRawBundleEntry(userID, provider, dataKey, payload string, capturedAt time.Time) error {
	_, err := db.conn.Exec(`
		INSERT INTO raw_bundles (user_id, provider, data_key, payload, captured_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, provider, data_key) DO UPDATE SET
			payload = excluded.payload,
			captured_at = excluded.captured_at
	`, userID, provider, dataKey, payload, capturedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to upsert raw bundle entry: %w", err)
	}
	return nil
}

// GetRawBundle returns all captured entries for (user, provider) keyed by
// data type. An empty map means no bundle has been captured.
func (db *DB) GetRawBundle(userID, provider string) (map[string]*RawBundleEntry, error) {
	rows, err := db.conn.Query(`
		SELECT user_id, provider, data_key, payload, captured_at
		FROM raw_bundles
		WHERE user_id = ? AND provider = ?
	`, userID, provider)
	if err != nil {
		return nil, fmt.Errorf("failed to get raw bundle: %w", err)
	}
	defer rows.Close()

	bundle := make(map[string]*RawBundleEntry)
	for rows.Next() {
		var e RawBundleEntry
		if err := rows.Scan(&e.UserID, &e.Provider, &e.DataKey, &e.Payload, &e.CapturedAt); err != nil {
			return nil, fmt.Errorf("failed to scan raw bundle entry: %w", err)
		}
		bundle[e.DataKey] = &e
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating raw bundle: %w", err)
	}
	return bundle, nil
}

// ListRawBundles summarizes captured bundles for a user: provider name,
// number of keys, and the most recent capture time.
func (db *DB) ListRawBundles(userID string) (map[string]struct {
	Keys        int64
	LastUpdated int64
}, error) {
	rows, err := db.conn.Query(`
		SELECT provider, COUNT(*), MAX(captured_at)
		FROM raw_bundles
		WHERE user_id = ?
		GROUP BY provider
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list raw bundles: %w", err)
	}
	defer rows.Close()

	summaries := make(map[string]struct {
		Keys        int64
		LastUpdated int64
	})
	for rows.Next() {
		var provider string
		var s struct {
			Keys        int64
			LastUpdated int64
		}
		if err := rows.Scan(&provider, &s.Keys, &s.LastUpdated); err != nil {
			return nil, fmt.Errorf("failed to scan raw bundle summary: %w", err)
		}
		summaries[provider] = s
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating raw bundle summaries: %w", err)
	}
	return summaries, nil
}
