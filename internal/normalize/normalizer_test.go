package normalize

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthsync/internal/database"
	"healthsync/internal/provider"
)

func testNormalizer(t *testing.T) (*Normalizer, *database.DB) {
	t.Helper()

	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return New(db, slog.New(slog.NewTextHandler(io.Discard, nil))), db
}

func marshalWorkouts(t *testing.T, workouts []provider.Workout) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(workouts)
	require.NoError(t, err)
	return raw
}

func TestProcessWorkoutsIdempotent(t *testing.T) {
	n, db := testNormalizer(t)

	raw := marshalWorkouts(t, []provider.Workout{
		{SourceID: "w1", Name: "Run", TypeID: "90009", TypeName: "Run",
			Start: time.Date(2024, 5, 1, 7, 0, 0, 0, time.UTC), DurationSeconds: 1800, Calories: 250},
		{SourceID: "w2", Name: "Run", TypeID: "90009", TypeName: "Run",
			Start: time.Date(2024, 5, 3, 7, 0, 0, 0, time.UTC), DurationSeconds: 2400},
	})

	require.NoError(t, n.ProcessWorkouts("u1", "u1", "fitbit", raw))
	require.NoError(t, n.ProcessWorkouts("u1", "u1", "fitbit", raw))

	count, err := db.CountEntriesBySource("u1", "fitbit")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	// both share one definition
	def, err := db.FindDefinitionBySourceType("fitbit", "90009")
	require.NoError(t, err)
	require.NotNil(t, def)
	assert.Equal(t, "Run", def.Name)
	// 250 kcal over 30 minutes estimates 500/hr
	assert.InDelta(t, 500, def.CaloriesPerHour, 0.01)
}

func TestProcessWorkoutsReflectsRemoteDeletion(t *testing.T) {
	n, db := testNormalizer(t)

	first := marshalWorkouts(t, []provider.Workout{
		{SourceID: "w1", Name: "Run", Start: time.Date(2024, 5, 1, 7, 0, 0, 0, time.UTC), DurationSeconds: 1800},
		{SourceID: "w2", Name: "Run", Start: time.Date(2024, 5, 2, 7, 0, 0, 0, time.UTC), DurationSeconds: 1800},
	})
	require.NoError(t, n.ProcessWorkouts("u1", "u1", "polar", first))

	// w2 disappeared remotely; the replace pass drops it
	second := marshalWorkouts(t, []provider.Workout{
		{SourceID: "w1", Name: "Run", Start: time.Date(2024, 5, 1, 7, 0, 0, 0, time.UTC), DurationSeconds: 1800},
		{SourceID: "w3", Name: "Run", Start: time.Date(2024, 5, 2, 18, 0, 0, 0, time.UTC), DurationSeconds: 900},
	})
	require.NoError(t, n.ProcessWorkouts("u1", "u1", "polar", second))

	entries, err := db.ListEntriesBySource("u1", "polar")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "w1", entries[0].SourceID)
	assert.Equal(t, "w3", entries[1].SourceID)
}

func TestProcessWorkoutsRecordMovedOutsidePayloadRange(t *testing.T) {
	n, db := testNormalizer(t)

	first := marshalWorkouts(t, []provider.Workout{
		{SourceID: "w1", Name: "Run", Start: time.Date(2024, 4, 20, 7, 0, 0, 0, time.UTC), DurationSeconds: 1800},
	})
	require.NoError(t, n.ProcessWorkouts("u1", "u1", "polar", first))

	// The record's date was edited remotely; the new payload spans only
	// May, so the range delete never sees the April row. The write must
	// still land and every later sync must keep succeeding.
	second := marshalWorkouts(t, []provider.Workout{
		{SourceID: "w1", Name: "Run", Start: time.Date(2024, 5, 1, 7, 0, 0, 0, time.UTC), DurationSeconds: 2100},
	})
	require.NoError(t, n.ProcessWorkouts("u1", "u1", "polar", second))
	require.NoError(t, n.ProcessWorkouts("u1", "u1", "polar", second))

	entries, err := db.ListEntriesBySource("u1", "polar")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "2024-05-01", entries[0].EntryDate)
	assert.Equal(t, 2100, entries[0].DurationSeconds)
}

func TestProcessWorkoutsWrapperObject(t *testing.T) {
	n, db := testNormalizer(t)

	raw := json.RawMessage(`{"workouts":[
		{"sourceId":"w1","name":"Lift","start":"2024-05-01T18:00:00Z","durationSeconds":3600}
	]}`)
	require.NoError(t, n.ProcessWorkouts("u1", "u1", "hevy", raw))

	count, err := db.CountEntriesBySource("u1", "hevy")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestProcessWorkoutsSkipsMissingStart(t *testing.T) {
	n, db := testNormalizer(t)

	raw := marshalWorkouts(t, []provider.Workout{
		{SourceID: "bad", Name: "Mystery"},
		{SourceID: "good", Name: "Run", Start: time.Date(2024, 5, 1, 7, 0, 0, 0, time.UTC), DurationSeconds: 600},
	})
	require.NoError(t, n.ProcessWorkouts("u1", "u1", "polar", raw))

	entries, err := db.ListEntriesBySource("u1", "polar")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "good", entries[0].SourceID)
}

func TestProcessWorkoutsISODuration(t *testing.T) {
	n, db := testNormalizer(t)

	raw := marshalWorkouts(t, []provider.Workout{
		{SourceID: "w1", Name: "Trail Run", Start: time.Date(2024, 5, 1, 7, 0, 0, 0, time.UTC), DurationISO: "PT1H30M15S"},
	})
	require.NoError(t, n.ProcessWorkouts("u1", "u1", "polar", raw))

	entries, err := db.ListEntriesBySource("u1", "polar")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 5415, entries[0].DurationSeconds)
}

func TestProcessWorkoutsEmptyPayload(t *testing.T) {
	n, _ := testNormalizer(t)

	require.NoError(t, n.ProcessWorkouts("u1", "u1", "polar", nil))
	require.NoError(t, n.ProcessWorkouts("u1", "u1", "polar", json.RawMessage(`[]`)))
	require.NoError(t, n.ProcessWorkouts("u1", "u1", "polar", json.RawMessage(`{"unrelated":true}`)))
}

func TestProcessMeasurementsRouting(t *testing.T) {
	n, db := testNormalizer(t)

	raw := json.RawMessage(`[
		{"date":"2024-05-01","hour":-1,"code":"weight","value":82.5},
		{"date":"2024-05-01","hour":-1,"code":"fat","value":18.2},
		{"date":"2024-05-01","hour":-1,"code":"blood_unicorns","value":7}
	]`)
	require.NoError(t, n.ProcessMeasurements("u1", "u1", "fitbit", raw))

	checkin, err := db.GetCheckinMeasurement("u1", "2024-05-01")
	require.NoError(t, err)
	require.NotNil(t, checkin)
	assert.Equal(t, 82.5, *checkin.WeightKg)
	assert.Equal(t, 18.2, *checkin.BodyFatPct)
}

func TestProcessDailyActivityConversion(t *testing.T) {
	n, db := testNormalizer(t)

	raw := json.RawMessage(`[
		{"date":"2024-05-01","code":"active_steps","value":11200},
		{"date":"2024-05-01","code":"distance","value":8400}
	]`)
	require.NoError(t, n.ProcessDailyActivity("u1", "u1", "polar", raw))

	steps, err := db.ListCustomMeasurements("u1", "Steps")
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, 11200.0, *steps[0].Value)
	assert.Equal(t, "polar", *steps[0].Source)

	dist, err := db.ListCustomMeasurements("u1", "Distance (km)")
	require.NoError(t, err)
	require.Len(t, dist, 1)
	assert.Equal(t, 8.4, *dist[0].Value)
}

func TestProcessDailyActivityLatestWins(t *testing.T) {
	n, db := testNormalizer(t)

	require.NoError(t, n.ProcessDailyActivity("u1", "u1", "fitbit",
		json.RawMessage(`[{"date":"2024-05-01","code":"steps","value":9000}]`)))
	require.NoError(t, n.ProcessDailyActivity("u1", "u1", "fitbit",
		json.RawMessage(`[{"date":"2024-05-01","code":"steps","value":10250}]`)))

	steps, err := db.ListCustomMeasurements("u1", "Steps")
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, 10250.0, *steps[0].Value)
}

func TestProcessSleepReplacesStages(t *testing.T) {
	n, db := testNormalizer(t)

	start := time.Date(2024, 5, 1, 23, 10, 0, 0, time.UTC)
	raw, err := json.Marshal([]provider.Sleep{{
		Date:            "2024-05-02",
		Start:           start,
		DurationSeconds: 28200,
		Stages:          json.RawMessage(`[{"time":"23:10","value":2},{"time":"00:40","value":3}]`),
	}})
	require.NoError(t, err)

	require.NoError(t, n.ProcessSleep("u1", "u1", "fitbit", raw))
	require.NoError(t, n.ProcessSleep("u1", "u1", "fitbit", raw))

	entry, err := db.GetSleepEntry("u1", "2024-05-02")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, 28200, entry.DurationSeconds)
	assert.Equal(t, start.Unix(), *entry.BedTime)

	stages, err := db.ListSleepStages(entry.ID)
	require.NoError(t, err)
	require.Len(t, stages, 2)
	assert.Equal(t, "light", stages[0].Stage)
	assert.Equal(t, "deep", stages[1].Stage)
	// second stage starts after midnight on the 2nd
	assert.Equal(t, stages[1].StartAt, stages[0].EndAt)
}

func TestProcessSleepSkipsMissingStart(t *testing.T) {
	n, db := testNormalizer(t)

	raw := json.RawMessage(fmt.Sprintf(`{"nights":[
		{"date":"2024-05-02","durationSeconds":28200},
		{"date":"2024-05-03","start":%q,"durationSeconds":25000}
	]}`, "2024-05-02T23:00:00Z"))
	require.NoError(t, n.ProcessSleep("u1", "u1", "polar", raw))

	missing, err := db.GetSleepEntry("u1", "2024-05-02")
	require.NoError(t, err)
	assert.Nil(t, missing)

	kept, err := db.GetSleepEntry("u1", "2024-05-03")
	require.NoError(t, err)
	assert.NotNil(t, kept)
}
