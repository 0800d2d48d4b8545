package database

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertSleepEntryKeepsID(t *testing.T) {
	db := openTestDB(t)

	bed := time.Date(2024, 5, 1, 23, 10, 0, 0, time.UTC).Unix()
	wake := time.Date(2024, 5, 2, 7, 0, 0, 0, time.UTC).Unix()
	src := "fitbit"

	e := &SleepEntry{
		UserID: "u1", SleepDate: "2024-05-02",
		DurationSeconds: 28200, BedTime: &bed, WakeTime: &wake, Source: &src,
	}
	id1, err := db.UpsertSleepEntry(e)
	require.NoError(t, err)
	require.NotZero(t, id1)

	e.DurationSeconds = 28500
	id2, err := db.UpsertSleepEntry(e)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	got, err := db.GetSleepEntry("u1", "2024-05-02")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 28500, got.DurationSeconds)
	assert.Equal(t, bed, *got.BedTime)
}

func TestReplaceSleepStages(t *testing.T) {
	db := openTestDB(t)

	id, err := db.UpsertSleepEntry(&SleepEntry{
		UserID: "u1", SleepDate: "2024-05-02", DurationSeconds: 28200,
	})
	require.NoError(t, err)

	base := time.Date(2024, 5, 1, 23, 0, 0, 0, time.UTC).Unix()
	require.NoError(t, db.ReplaceSleepStages(id, []*SleepStage{
		{Stage: "light", StartAt: base, EndAt: base + 3600},
		{Stage: "deep", StartAt: base + 3600, EndAt: base + 7200},
	}))

	// Replace with a new sequence; old rows must be gone
	require.NoError(t, db.ReplaceSleepStages(id, []*SleepStage{
		{Stage: "awake", StartAt: base, EndAt: base + 600},
		{Stage: "light", StartAt: base + 600, EndAt: base + 5400},
		{Stage: "rem", StartAt: base + 5400, EndAt: base + 9000},
	}))

	stages, err := db.ListSleepStages(id)
	require.NoError(t, err)
	require.Len(t, stages, 3)
	assert.Equal(t, "awake", stages[0].Stage)
	assert.Equal(t, "light", stages[1].Stage)
	assert.Equal(t, "rem", stages[2].Stage)
}

func TestSleepStagesCascadeOnEntryDelete(t *testing.T) {
	db := openTestDB(t)

	id, err := db.UpsertSleepEntry(&SleepEntry{
		UserID: "u1", SleepDate: "2024-05-02", DurationSeconds: 28200,
	})
	require.NoError(t, err)
	require.NoError(t, db.ReplaceSleepStages(id, []*SleepStage{
		{Stage: "light", StartAt: 100, EndAt: 200},
	}))

	_, err = db.Conn().Exec(`DELETE FROM sleep_entries WHERE id = ?`, id)
	require.NoError(t, err)

	stages, err := db.ListSleepStages(id)
	require.NoError(t, err)
	assert.Empty(t, stages)
}
