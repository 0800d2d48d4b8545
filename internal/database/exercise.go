package database

import (
	"database/sql"
	"fmt"
	"time"
)

// ExerciseDefinition is a canonical exercise/activity type
type ExerciseDefinition struct {
	ID              int64
	Name            string
	Source          string
	SourceTypeID    *string
	CaloriesPerHour float64
	CreatedAt       int64
}

// ExerciseEntry is a canonical workout record owned by a user
type ExerciseEntry struct {
	ID              int64
	UserID          string
	DefinitionID    int64
	EntryDate       string // YYYY-MM-DD
	DurationSeconds int
	Calories        *float64
	DistanceKm      *float64
	AvgHeartRate    *int
	Notes           *string
	EntrySource     string
	SourceID        string
	CreatedAt       int64
}

// FindDefinitionBySourceType looks up a definition by the provider's
// native activity type id. Returns nil if not found.
func (db *DB) FindDefinitionBySourceType(source, sourceTypeID string) (*ExerciseDefinition, error) {
	var d ExerciseDefinition
	err := db.conn.QueryRow(`
		SELECT id, name, source, source_type_id, calories_per_hour, created_at
		FROM exercise_definitions
		WHERE source = ? AND source_type_id = ?
	`, source, sourceTypeID).Scan(&d.ID, &d.Name, &d.Source, &d.SourceTypeID, &d.CaloriesPerHour, &d.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find definition by source type: %w", err)
	}
	return &d, nil
}

// FindDefinitionByName looks up a definition by case-insensitive name.
// Returns nil if not found.
func (db *DB) FindDefinitionByName(name string) (*ExerciseDefinition, error) {
	var d ExerciseDefinition
	err := db.conn.QueryRow(`
		SELECT id, name, source, source_type_id, calories_per_hour, created_at
		FROM exercise_definitions
		WHERE name = ? COLLATE NOCASE
		LIMIT 1
	`, name).Scan(&d.ID, &d.Name, &d.Source, &d.SourceTypeID, &d.CaloriesPerHour, &d.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find definition by name: %w", err)
	}
	return &d, nil
}

// CreateDefinition inserts a new exercise definition and sets its ID
func (db *DB) CreateDefinition(d *ExerciseDefinition) error {
	d.CreatedAt = time.Now().Unix()

	result, err := db.conn.Exec(`
		INSERT INTO exercise_definitions (name, source, source_type_id, calories_per_hour, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, d.Name, d.Source, d.SourceTypeID, d.CaloriesPerHour, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create definition: %w", err)
	}

	d.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get definition id: %w", err)
	}
	return nil
}

// DeleteEntriesBySourceAndDateRange removes all of a provider's entries for
// a user in [startDate, endDate] inclusive. Returns the number deleted.
// This is the delete phase of the idempotent replace strategy.
func (db *DB) DeleteEntriesBySourceAndDateRange(userID, source, startDate, endDate string) (int64, error) {
	result, err := db.conn.Exec(`
		DELETE FROM exercise_entries
		WHERE user_id = ? AND entry_source = ? AND entry_date >= ? AND entry_date <= ?
	`, userID, source, startDate, endDate)
	if err != nil {
		return 0, fmt.Errorf("failed to delete entries: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}

// UpsertEntries bulk-writes exercise entries in a single transaction.
// A conflict on (user, source, source_id) overwrites the stored row:
// the range delete only clears dates the incoming payload spans, so a
// record whose date moved outside that span still has a stale row here
// and a plain insert would fail forever on the unique index.
func (db *DB) UpsertEntries(entries []*ExerciseEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO exercise_entries (
			user_id, definition_id, entry_date, duration_seconds,
			calories, distance_km, avg_heart_rate, notes,
			entry_source, source_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, entry_source, source_id) DO UPDATE SET
			definition_id = excluded.definition_id,
			entry_date = excluded.entry_date,
			duration_seconds = excluded.duration_seconds,
			calories = excluded.calories,
			distance_km = excluded.distance_km,
			avg_heart_rate = excluded.avg_heart_rate,
			notes = excluded.notes
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, e := range entries {
		e.CreatedAt = now
		_, err := stmt.Exec(
			e.UserID, e.DefinitionID, e.EntryDate, e.DurationSeconds,
			e.Calories, e.DistanceKm, e.AvgHeartRate, e.Notes,
			e.EntrySource, e.SourceID, e.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert entry %s/%s: %w", e.EntrySource, e.SourceID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit entries: %w", err)
	}
	return nil
}

// CountEntriesBySource returns the number of entries a provider has
// contributed for a user.
func (db *DB) CountEntriesBySource(userID, source string) (int64, error) {
	var count int64
	err := db.conn.QueryRow(`
		SELECT COUNT(*) FROM exercise_entries
		WHERE user_id = ? AND entry_source = ?
	`, userID, source).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count entries: %w", err)
	}
	return count, nil
}

// ListEntriesBySource returns a provider's entries for a user ordered by date
func (db *DB) ListEntriesBySource(userID, source string) ([]*ExerciseEntry, error) {
	rows, err := db.conn.Query(`
		SELECT id, user_id, definition_id, entry_date, duration_seconds,
		       calories, distance_km, avg_heart_rate, notes,
		       entry_source, source_id, created_at
		FROM exercise_entries
		WHERE user_id = ? AND entry_source = ?
		ORDER BY entry_date, source_id
	`, userID, source)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	defer rows.Close()

	var entries []*ExerciseEntry
	for rows.Next() {
		var e ExerciseEntry
		err := rows.Scan(
			&e.ID, &e.UserID, &e.DefinitionID, &e.EntryDate, &e.DurationSeconds,
			&e.Calories, &e.DistanceKm, &e.AvgHeartRate, &e.Notes,
			&e.EntrySource, &e.SourceID, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		entries = append(entries, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entries: %w", err)
	}
	return entries, nil
}
