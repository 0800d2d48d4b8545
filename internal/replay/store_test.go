package replay

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthsync/internal/database"
	"healthsync/internal/provider"
)

func testStore(t *testing.T) *Store {
	t.Helper()

	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewStore(db, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestCaptureAndLoadRoundTrip(t *testing.T) {
	s := testStore(t)

	workouts := []provider.Workout{{SourceID: "w1", Name: "Run", DurationSeconds: 1800}}
	s.Capture("u1", "polar", "workouts", workouts)
	s.Capture("u1", "polar", "sleep", []provider.Sleep{{Date: "2024-05-02"}})

	bundle, err := s.Load("u1", "polar")
	require.NoError(t, err)
	require.NotNil(t, bundle)
	require.Len(t, bundle.Entries, 2)

	assert.JSONEq(t,
		`[{"sourceId":"w1","name":"Run","start":"0001-01-01T00:00:00Z","durationSeconds":1800}]`,
		string(bundle.Entries["workouts"].Payload))
	assert.False(t, bundle.LastUpdated().IsZero())
}

func TestLoadMissingBundle(t *testing.T) {
	s := testStore(t)

	bundle, err := s.Load("u1", "fitbit")
	require.NoError(t, err)
	assert.Nil(t, bundle)
}

func TestCaptureOverwritesKey(t *testing.T) {
	s := testStore(t)

	s.Capture("u1", "hevy", "workouts", []provider.Workout{{SourceID: "a"}})
	s.Capture("u1", "hevy", "workouts", []provider.Workout{{SourceID: "b"}})

	bundle, err := s.Load("u1", "hevy")
	require.NoError(t, err)
	require.Len(t, bundle.Entries, 1)
	assert.Contains(t, string(bundle.Entries["workouts"].Payload), `"b"`)
}

func TestListSummaries(t *testing.T) {
	s := testStore(t)

	s.Capture("u1", "hevy", "workouts", []provider.Workout{})
	s.Capture("u1", "fitbit", "workouts", []provider.Workout{})
	s.Capture("u1", "fitbit", "sleep", []provider.Sleep{})

	summaries, err := s.List("u1")
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	byProvider := make(map[string]Summary)
	for _, sum := range summaries {
		byProvider[sum.Provider] = sum
	}
	assert.Equal(t, int64(2), byProvider["fitbit"].Keys)
	assert.Equal(t, int64(1), byProvider["hevy"].Keys)
}
