package database

import (
	"database/sql"
	"fmt"
	"time"
)

// CheckinMeasurement holds the check-in body metrics for one day
type CheckinMeasurement struct {
	UserID     string
	Date       string // YYYY-MM-DD
	WeightKg   *float64
	HeightCm   *float64
	BodyFatPct *float64
	UpdatedAt  int64
}

// CustomMeasurement is a free-form metric keyed by category name + date + hour
type CustomMeasurement struct {
	ID        int64
	UserID    string
	Category  string
	Date      string // YYYY-MM-DD
	Hour      int    // -1 means no hour component
	Value     *float64
	TextValue *string
	Source    *string
	UpdatedAt int64
}

// UpsertCheckinMeasurement writes check-in fields for (user, date).
// Nil fields leave any previously stored value untouched so partial
// updates from different providers merge rather than clobber.
func (db *DB) UpsertCheckinMeasurement(m *CheckinMeasurement) error {
	m.UpdatedAt = time.Now().Unix()

	_, err := db.conn.Exec(`
		INSERT INTO measurements (user_id, m_date, weight_kg, height_cm, body_fat_pct, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, m_date) DO UPDATE SET
			weight_kg = COALESCE(excluded.weight_kg, weight_kg),
			height_cm = COALESCE(excluded.height_cm, height_cm),
			body_fat_pct = COALESCE(excluded.body_fat_pct, body_fat_pct),
			updated_at = excluded.updated_at
	`, m.UserID, m.Date, m.WeightKg, m.HeightCm, m.BodyFatPct, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert checkin measurement: %w", err)
	}
	return nil
}

// GetCheckinMeasurement returns the check-in row for (user, date), or nil
func (db *DB) GetCheckinMeasurement(userID, date string) (*CheckinMeasurement, error) {
	var m CheckinMeasurement
	err := db.conn.QueryRow(`
		SELECT user_id, m_date, weight_kg, height_cm, body_fat_pct, updated_at
		FROM measurements
		WHERE user_id = ? AND m_date = ?
	`, userID, date).Scan(&m.UserID, &m.Date, &m.WeightKg, &m.HeightCm, &m.BodyFatPct, &m.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkin measurement: %w", err)
	}
	return &m, nil
}

// UpsertCustomMeasurement writes a custom metric; latest write wins for
// the same (user, category, date, hour) key.
func (db *DB) UpsertCustomMeasurement(m *CustomMeasurement) error {
	m.UpdatedAt = time.Now().Unix()

	_, err := db.conn.Exec(`
		INSERT INTO custom_measurements (user_id, category, m_date, hour, value, text_value, source, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, category, m_date, hour) DO UPDATE SET
			value = excluded.value,
			text_value = excluded.text_value,
			source = excluded.source,
			updated_at = excluded.updated_at
	`, m.UserID, m.Category, m.Date, m.Hour, m.Value, m.TextValue, m.Source, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert custom measurement: %w", err)
	}
	return nil
}

// ListCustomMeasurements returns a user's custom metrics for one category
// ordered by date and hour
func (db *DB) ListCustomMeasurements(userID, category string) ([]*CustomMeasurement, error) {
	rows, err := db.conn.Query(`
		SELECT id, user_id, category, m_date, hour, value, text_value, source, updated_at
		FROM custom_measurements
		WHERE user_id = ? AND category = ?
		ORDER BY m_date, hour
	`, userID, category)
	if err != nil {
		return nil, fmt.Errorf("failed to list custom measurements: %w", err)
	}
	defer rows.Close()

	var measurements []*CustomMeasurement
	for rows.Next() {
		var m CustomMeasurement
		err := rows.Scan(&m.ID, &m.UserID, &m.Category, &m.Date, &m.Hour, &m.Value, &m.TextValue, &m.Source, &m.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan custom measurement: %w", err)
		}
		measurements = append(measurements, &m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating custom measurements: %w", err)
	}
	return measurements, nil
}

// CountCustomMeasurements returns the number of custom metric rows a user
// has for a category.
func (db *DB) CountCustomMeasurements(userID, category string) (int64, error) {
	var count int64
	err := db.conn.QueryRow(`
		SELECT COUNT(*) FROM custom_measurements
		WHERE user_id = ? AND category = ?
	`, userID, category).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count custom measurements: %w", err)
	}
	return count, nil
}
