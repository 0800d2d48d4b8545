package database

import (
	"database/sql"
	"fmt"
	"time"
)

// SleepEntry is a nightly sleep summary
type SleepEntry struct {
	ID              int64
	UserID          string
	SleepDate       string // YYYY-MM-DD
	DurationSeconds int
	BedTime         *int64
	WakeTime        *int64
	Source          *string
	UpdatedAt       int64
}

// SleepStage is one interval within a night
type SleepStage struct {
	ID           int64
	SleepEntryID int64
	Stage        string // awake/light/deep/rem
	StartAt      int64
	EndAt        int64
}

// UpsertSleepEntry writes the nightly summary keyed by (user, date) and
// returns the row id.
func (db *DB) UpsertSleepEntry(e *SleepEntry) (int64, error) {
	e.UpdatedAt = time.Now().Unix()

	_, err := db.conn.Exec(`
		INSERT INTO sleep_entries (user_id, sleep_date, duration_seconds, bed_time, wake_time, source, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, sleep_date) DO UPDATE SET
			duration_seconds = excluded.duration_seconds,
			bed_time = excluded.bed_time,
			wake_time = excluded.wake_time,
			source = excluded.source,
			updated_at = excluded.updated_at
	`, e.UserID, e.SleepDate, e.DurationSeconds, e.BedTime, e.WakeTime, e.Source, e.UpdatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert sleep entry: %w", err)
	}

	var id int64
	err = db.conn.QueryRow(`
		SELECT id FROM sleep_entries WHERE user_id = ? AND sleep_date = ?
	`, e.UserID, e.SleepDate).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to read sleep entry id: %w", err)
	}

	e.ID = id
	return id, nil
}

// ReplaceSleepStages swaps the full stage sequence for a night so stages
// always stay consistent with the summary they belong to.
func (db *DB) ReplaceSleepStages(sleepEntryID int64, stages []*SleepStage) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM sleep_stages WHERE sleep_entry_id = ?`, sleepEntryID); err != nil {
		return fmt.Errorf("failed to delete sleep stages: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO sleep_stages (sleep_entry_id, stage, start_at, end_at)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare stage insert: %w", err)
	}
	defer stmt.Close()

	for _, s := range stages {
		if _, err := stmt.Exec(sleepEntryID, s.Stage, s.StartAt, s.EndAt); err != nil {
			return fmt.Errorf("failed to insert sleep stage: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit sleep stages: %w", err)
	}
	return nil
}

// GetSleepEntry returns the summary for (user, date), or nil
func (db *DB) GetSleepEntry(userID, date string) (*SleepEntry, error) {
	var e SleepEntry
	err := db.conn.QueryRow(`
		SELECT id, user_id, sleep_date, duration_seconds, bed_time, wake_time, source, updated_at
		FROM sleep_entries
		WHERE user_id = ? AND sleep_date = ?
	`, userID, date).Scan(&e.ID, &e.UserID, &e.SleepDate, &e.DurationSeconds, &e.BedTime, &e.WakeTime, &e.Source, &e.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sleep entry: %w", err)
	}
	return &e, nil
}

// ListSleepStages returns a night's stages ordered by start time
func (db *DB) ListSleepStages(sleepEntryID int64) ([]*SleepStage, error) {
	rows, err := db.conn.Query(`
		SELECT id, sleep_entry_id, stage, start_at, end_at
		FROM sleep_stages
		WHERE sleep_entry_id = ?
		ORDER BY start_at
	`, sleepEntryID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sleep stages: %w", err)
	}
	defer rows.Close()

	var stages []*SleepStage
	for rows.Next() {
		var s SleepStage
		if err := rows.Scan(&s.ID, &s.SleepEntryID, &s.Stage, &s.StartAt, &s.EndAt); err != nil {
			return nil, fmt.Errorf("failed to scan sleep stage: %w", err)
		}
		stages = append(stages, &s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sleep stages: %w", err)
	}
	return stages, nil
}
