// Package normalize maps adapter records into canonical storage with
// idempotent write strategies: date-bucketed data (workouts, sleep) is
// deleted per provider and range then upserted by source id, latest-wins
// data (measurements) is upserted by natural key. Running the same
// payload through twice always lands the same rows.
package normalize

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"healthsync/internal/database"
	"healthsync/internal/metrics"
	"healthsync/internal/provider"
)

// Calories/hour attributed to definitions whose payload gives no basis
// for an estimate
const defaultCaloriesPerHour = 300

// Normalizer writes canonical entries from adapter record lists
type Normalizer struct {
	db     *database.DB
	logger *slog.Logger
}

// New creates a normalizer
func New(db *database.DB, logger *slog.Logger) *Normalizer {
	return &Normalizer{db: db, logger: logger}
}

// decodeList accepts either a bare JSON list or a wrapper object
// holding the list under one of the given keys
func decodeList[T any](raw json.RawMessage, wrapperKeys ...string) ([]T, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var list []T
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}

	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return nil, fmt.Errorf("payload is neither a list nor an object: %w", err)
	}

	for _, key := range wrapperKeys {
		inner, ok := wrapper[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(inner, &list); err != nil {
			return nil, fmt.Errorf("failed to decode %q list: %w", key, err)
		}
		return list, nil
	}

	return nil, nil
}

// ProcessWorkouts replaces the provider's exercise entries across the
// date range covered by the payload.
func (n *Normalizer) ProcessWorkouts(userID, actingUserID, providerName string, raw json.RawMessage) error {
	workouts, err := decodeList[provider.Workout](raw, "workouts", "activities", "exercises", "data", "entries")
	if err != nil {
		metrics.RecordsSkippedTotal.WithLabelValues(providerName, metrics.DataTypeWorkouts, metrics.SkipReasonMalformed).Inc()
		return fmt.Errorf("failed to decode workouts: %w", err)
	}
	if len(workouts) == 0 {
		return nil
	}

	defCache := make(map[string]int64)
	var entries []*database.ExerciseEntry
	minDate, maxDate := "", ""

	for _, w := range workouts {
		if w.Start.IsZero() {
			n.logger.Warn("skipping workout without start time",
				"provider", providerName, "source_id", w.SourceID, "acting_user", actingUserID)
			metrics.RecordsSkippedTotal.WithLabelValues(providerName, metrics.DataTypeWorkouts, metrics.SkipReasonMissingStart).Inc()
			continue
		}

		duration := w.DurationSeconds
		if duration == 0 && w.DurationISO != "" {
			duration = ParseISODuration(w.DurationISO)
		}

		defID, err := n.resolveDefinition(defCache, providerName, w, duration)
		if err != nil {
			return err
		}

		date := w.Start.Format("2006-01-02")
		if minDate == "" || date < minDate {
			minDate = date
		}
		if date > maxDate {
			maxDate = date
		}

		entry := &database.ExerciseEntry{
			UserID:          userID,
			DefinitionID:    defID,
			EntryDate:       date,
			DurationSeconds: duration,
			EntrySource:     providerName,
			SourceID:        w.SourceID,
		}
		if w.Calories > 0 {
			cal := w.Calories
			entry.Calories = &cal
		}
		if w.DistanceMeters > 0 {
			km := w.DistanceMeters / 1000
			entry.DistanceKm = &km
		}
		if w.AvgHeartRate > 0 {
			hr := w.AvgHeartRate
			entry.AvgHeartRate = &hr
		}
		if w.Notes != "" {
			notes := w.Notes
			entry.Notes = &notes
		}
		entries = append(entries, entry)
	}

	if len(entries) == 0 {
		return nil
	}

	deleted, err := n.db.DeleteEntriesBySourceAndDateRange(userID, providerName, minDate, maxDate)
	if err != nil {
		return err
	}
	if err := n.db.UpsertEntries(entries); err != nil {
		return err
	}

	metrics.RecordsNormalizedTotal.WithLabelValues(providerName, metrics.DataTypeWorkouts).Add(float64(len(entries)))
	n.logger.Info("normalized workouts",
		"provider", providerName, "user_id", userID,
		"inserted", len(entries), "replaced", deleted,
		"from", minDate, "to", maxDate)
	return nil
}

// resolveDefinition finds or creates the canonical definition for a
// workout: by the provider's native type id first, then case-insensitive
// name, then a fresh definition with an estimated caloric rate.
func (n *Normalizer) resolveDefinition(cache map[string]int64, providerName string, w provider.Workout, durationSeconds int) (int64, error) {
	name := w.TypeName
	if name == "" {
		name = w.Name
	}
	if name == "" {
		name = providerName + " workout"
	}

	cacheKey := w.TypeID + "|" + name
	if id, ok := cache[cacheKey]; ok {
		return id, nil
	}

	if w.TypeID != "" {
		def, err := n.db.FindDefinitionBySourceType(providerName, w.TypeID)
		if err != nil {
			return 0, err
		}
		if def != nil {
			cache[cacheKey] = def.ID
			return def.ID, nil
		}
	}

	def, err := n.db.FindDefinitionByName(name)
	if err != nil {
		return 0, err
	}
	if def != nil {
		cache[cacheKey] = def.ID
		return def.ID, nil
	}

	caloriesPerHour := float64(defaultCaloriesPerHour)
	if w.Calories > 0 && durationSeconds > 0 {
		caloriesPerHour = w.Calories / float64(durationSeconds) * 3600
	}

	created := &database.ExerciseDefinition{
		Name:            name,
		Source:          providerName,
		CaloriesPerHour: caloriesPerHour,
	}
	if w.TypeID != "" {
		typeID := w.TypeID
		created.SourceTypeID = &typeID
	}
	if err := n.db.CreateDefinition(created); err != nil {
		return 0, err
	}

	n.logger.Debug("created exercise definition",
		"provider", providerName, "name", name, "calories_per_hour", caloriesPerHour)
	cache[cacheKey] = created.ID
	return created.ID, nil
}

// ProcessMeasurements upserts body metrics by their natural keys
func (n *Normalizer) ProcessMeasurements(userID, actingUserID, providerName string, raw json.RawMessage) error {
	measurements, err := decodeList[provider.Measurement](raw, "measurements", "weight", "data", "entries")
	if err != nil {
		metrics.RecordsSkippedTotal.WithLabelValues(providerName, metrics.DataTypeMeasurements, metrics.SkipReasonMalformed).Inc()
		return fmt.Errorf("failed to decode measurements: %w", err)
	}

	vocab := measurementMappings[providerName]
	written := 0

	for _, m := range measurements {
		if m.Date == "" {
			n.logger.Warn("skipping measurement without date",
				"provider", providerName, "code", m.Code)
			metrics.RecordsSkippedTotal.WithLabelValues(providerName, metrics.DataTypeMeasurements, metrics.SkipReasonMissingStart).Inc()
			continue
		}

		mapping, ok := vocab[m.Code]
		if !ok {
			n.logger.Warn("skipping unknown measurement code",
				"provider", providerName, "code", m.Code, "acting_user", actingUserID)
			metrics.RecordsSkippedTotal.WithLabelValues(providerName, metrics.DataTypeMeasurements, metrics.SkipReasonUnknownCode).Inc()
			continue
		}

		value := m.Value
		if mapping.convert != nil {
			value = mapping.convert(value)
		}

		if mapping.checkin != fieldNone {
			checkin := &database.CheckinMeasurement{UserID: userID, Date: m.Date}
			switch mapping.checkin {
			case fieldWeight:
				checkin.WeightKg = &value
			case fieldHeight:
				checkin.HeightCm = &value
			case fieldBodyFat:
				checkin.BodyFatPct = &value
			}
			if err := n.db.UpsertCheckinMeasurement(checkin); err != nil {
				return err
			}
		} else {
			custom := &database.CustomMeasurement{
				UserID:   userID,
				Category: mapping.category,
				Date:     m.Date,
				Hour:     m.Hour,
				Source:   &providerName,
			}
			if m.Text != "" {
				text := m.Text
				custom.TextValue = &text
			} else {
				custom.Value = &value
			}
			if err := n.db.UpsertCustomMeasurement(custom); err != nil {
				return err
			}
		}
		written++
	}

	if written > 0 {
		metrics.RecordsNormalizedTotal.WithLabelValues(providerName, metrics.DataTypeMeasurements).Add(float64(written))
		n.logger.Info("normalized measurements",
			"provider", providerName, "user_id", userID, "written", written)
	}
	return nil
}

// ProcessDailyActivity upserts day-bucketed activity metrics as custom
// measurements, latest value per day winning.
func (n *Normalizer) ProcessDailyActivity(userID, actingUserID, providerName string, raw json.RawMessage) error {
	dailyMetrics, err := decodeList[provider.DailyMetric](raw, "daily_activity", "activities", "data", "entries")
	if err != nil {
		metrics.RecordsSkippedTotal.WithLabelValues(providerName, metrics.DataTypeDailyActivity, metrics.SkipReasonMalformed).Inc()
		return fmt.Errorf("failed to decode daily activity: %w", err)
	}

	vocab := dailyMappings[providerName]
	written := 0

	for _, m := range dailyMetrics {
		if m.Date == "" {
			metrics.RecordsSkippedTotal.WithLabelValues(providerName, metrics.DataTypeDailyActivity, metrics.SkipReasonMissingStart).Inc()
			continue
		}

		mapping, ok := vocab[m.Code]
		if !ok {
			n.logger.Warn("skipping unknown daily activity code",
				"provider", providerName, "code", m.Code, "acting_user", actingUserID)
			metrics.RecordsSkippedTotal.WithLabelValues(providerName, metrics.DataTypeDailyActivity, metrics.SkipReasonUnknownCode).Inc()
			continue
		}

		value := m.Value
		if mapping.convert != nil {
			value = mapping.convert(value)
		}

		custom := &database.CustomMeasurement{
			UserID:   userID,
			Category: mapping.category,
			Date:     m.Date,
			Hour:     -1,
			Value:    &value,
			Source:   &providerName,
		}
		if err := n.db.UpsertCustomMeasurement(custom); err != nil {
			return err
		}
		written++
	}

	if written > 0 {
		metrics.RecordsNormalizedTotal.WithLabelValues(providerName, metrics.DataTypeDailyActivity).Add(float64(written))
		n.logger.Info("normalized daily activity",
			"provider", providerName, "user_id", userID, "written", written)
	}
	return nil
}

// ProcessSleep upserts nightly summaries and fully replaces each
// night's stage sequence so stages never drift from their summary.
func (n *Normalizer) ProcessSleep(userID, actingUserID, providerName string, raw json.RawMessage) error {
	sleeps, err := decodeList[provider.Sleep](raw, "sleep", "nights", "data", "entries")
	if err != nil {
		metrics.RecordsSkippedTotal.WithLabelValues(providerName, metrics.DataTypeSleep, metrics.SkipReasonMalformed).Inc()
		return fmt.Errorf("failed to decode sleep: %w", err)
	}

	written := 0
	for _, s := range sleeps {
		if s.Start.IsZero() {
			n.logger.Warn("skipping sleep record without start time",
				"provider", providerName, "date", s.Date, "acting_user", actingUserID)
			metrics.RecordsSkippedTotal.WithLabelValues(providerName, metrics.DataTypeSleep, metrics.SkipReasonMissingStart).Inc()
			continue
		}

		date := s.Date
		if date == "" {
			date = s.Start.Format("2006-01-02")
		}

		bed := s.Start.Unix()
		wake := s.Start.Add(secondsDuration(s.DurationSeconds)).Unix()

		entry := &database.SleepEntry{
			UserID:          userID,
			SleepDate:       date,
			DurationSeconds: s.DurationSeconds,
			BedTime:         &bed,
			WakeTime:        &wake,
			Source:          &providerName,
		}
		entryID, err := n.db.UpsertSleepEntry(entry)
		if err != nil {
			return err
		}

		events := ReconstructStages(s.Start, s.Start.Add(secondsDuration(s.DurationSeconds)), s.Stages)
		stages := make([]*database.SleepStage, 0, len(events))
		for _, ev := range events {
			stages = append(stages, &database.SleepStage{
				SleepEntryID: entryID,
				Stage:        ev.Stage,
				StartAt:      ev.StartAt.Unix(),
				EndAt:        ev.EndAt.Unix(),
			})
		}
		if err := n.db.ReplaceSleepStages(entryID, stages); err != nil {
			return err
		}
		written++
	}

	if written > 0 {
		metrics.RecordsNormalizedTotal.WithLabelValues(providerName, metrics.DataTypeSleep).Add(float64(written))
		n.logger.Info("normalized sleep",
			"provider", providerName, "user_id", userID, "nights", written)
	}
	return nil
}

func secondsDuration(s int) time.Duration {
	return time.Duration(s) * time.Second
}
