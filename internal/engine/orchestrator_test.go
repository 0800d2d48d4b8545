package engine

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthsync/internal/config"
	"healthsync/internal/database"
	"healthsync/internal/normalize"
	"healthsync/internal/provider"
	"healthsync/internal/replay"
	"healthsync/internal/tokens"
	"healthsync/internal/vault"
)

// fakeAdapter simulates a static-key provider with controllable
// per-data-type results and failures
type fakeAdapter struct {
	caps         provider.Capabilities
	workouts     []provider.Workout
	recent       []provider.Workout
	measurements []provider.Measurement
	sleeps       []provider.Sleep
	daily        []provider.DailyMetric

	workoutsErr error
	sleepErr    error
	recentErr   error
}

func (f *fakeAdapter) Name() string                        { return "fake" }
func (f *fakeAdapter) Capabilities() provider.Capabilities { return f.caps }

func (f *fakeAdapter) FetchProfile(ctx context.Context, acc provider.Account) (*provider.Profile, error) {
	return nil, provider.ErrNotSupported
}
func (f *fakeAdapter) FetchWorkouts(ctx context.Context, acc provider.Account, w provider.Window) ([]provider.Workout, error) {
	return f.workouts, f.workoutsErr
}
func (f *fakeAdapter) FetchMeasurements(ctx context.Context, acc provider.Account, w provider.Window) ([]provider.Measurement, error) {
	return f.measurements, nil
}
func (f *fakeAdapter) FetchSleep(ctx context.Context, acc provider.Account, w provider.Window) ([]provider.Sleep, error) {
	return f.sleeps, f.sleepErr
}
func (f *fakeAdapter) FetchDailyActivity(ctx context.Context, acc provider.Account, w provider.Window) ([]provider.DailyMetric, error) {
	return f.daily, nil
}
func (f *fakeAdapter) ValidateKey(ctx context.Context, acc provider.Account) error {
	return nil
}
func (f *fakeAdapter) FetchRecentWorkouts(ctx context.Context, acc provider.Account) ([]provider.Workout, error) {
	return f.recent, f.recentErr
}

type fixture struct {
	db    *database.DB
	store *replay.Store
	orch  *Orchestrator
}

func newFixture(t *testing.T, adapter provider.Adapter, opts Options) *fixture {
	t.Helper()

	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return fixtureWithDB(t, db, adapter, opts)
}

func fixtureWithDB(t *testing.T, db *database.DB, adapter provider.Adapter, opts Options) *fixture {
	t.Helper()

	v, err := vault.New("test-master-key")
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := provider.NewRegistry(adapter)
	tm := tokens.NewManager(db, v, registry, logger)
	store := replay.NewStore(db, logger)
	normalizer := normalize.New(db, logger)

	require.NoError(t, tm.ConnectAPIKey(context.Background(), "u1", "fake", "key-1"))

	return &fixture{
		db:    db,
		store: store,
		orch:  New(db, tm, registry, normalizer, store, logger, opts),
	}
}

func someWorkouts() []provider.Workout {
	return []provider.Workout{
		{SourceID: "w1", Name: "Run", Start: time.Date(2024, 5, 1, 7, 0, 0, 0, time.UTC), DurationSeconds: 1800},
		{SourceID: "w2", Name: "Run", Start: time.Date(2024, 5, 2, 7, 0, 0, 0, time.UTC), DurationSeconds: 2400},
	}
}

func TestSyncIdempotent(t *testing.T) {
	adapter := &fakeAdapter{
		caps:     provider.Capabilities{Workouts: true, IncrementalLookbackDays: 7},
		workouts: someWorkouts(),
	}
	f := newFixture(t, adapter, Options{DataSource: config.DataSourceLive})

	for i := 0; i < 2; i++ {
		result, err := f.orch.Sync(context.Background(), "u1", "fake", ModeIncremental)
		require.NoError(t, err)
		assert.Contains(t, result.CapturedTypes, "workouts")
	}

	count, err := f.db.CountEntriesBySource("u1", "fake")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestSyncResultTypesStableOrder(t *testing.T) {
	adapter := &fakeAdapter{
		caps: provider.Capabilities{Workouts: true, Measurements: true, Sleep: true,
			DailyActivity: true, IncrementalLookbackDays: 7},
		workouts: someWorkouts(),
		measurements: []provider.Measurement{
			{Date: "2024-05-01", Hour: -1, Code: "weight", Value: 80.5},
		},
		sleeps: []provider.Sleep{
			{Date: "2024-05-01", Start: time.Date(2024, 4, 30, 23, 0, 0, 0, time.UTC), DurationSeconds: 28800},
		},
		daily: []provider.DailyMetric{
			{Date: "2024-05-01", Code: "steps", Value: 9000},
		},
	}
	f := newFixture(t, adapter, Options{DataSource: config.DataSourceLive})

	want := []string{"daily_activity", "measurements", "sleep", "workouts"}
	for i := 0; i < 3; i++ {
		result, err := f.orch.Sync(context.Background(), "u1", "fake", ModeIncremental)
		require.NoError(t, err)
		assert.Equal(t, want, result.CapturedTypes)
	}
}

func TestSyncPartialFailureIsolation(t *testing.T) {
	adapter := &fakeAdapter{
		caps: provider.Capabilities{Workouts: true, Measurements: true, Sleep: true,
			IncrementalLookbackDays: 7},
		workouts: someWorkouts(),
		sleepErr: &provider.HTTPError{StatusCode: 500, Body: "upstream broken"},
	}
	f := newFixture(t, adapter, Options{DataSource: config.DataSourceLive})

	result, err := f.orch.Sync(context.Background(), "u1", "fake", ModeIncremental)
	require.NoError(t, err)
	assert.Contains(t, result.CapturedTypes, "workouts")
	assert.NotContains(t, result.CapturedTypes, "sleep")

	count, err := f.db.CountEntriesBySource("u1", "fake")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	// the run still committed
	link, err := f.db.GetLink("u1", "fake")
	require.NoError(t, err)
	assert.NotNil(t, link.LastSyncAt)
}

func TestSyncRateLimitAbortsRun(t *testing.T) {
	adapter := &fakeAdapter{
		caps:        provider.Capabilities{Workouts: true, Sleep: true, IncrementalLookbackDays: 7},
		workoutsErr: &provider.HTTPError{StatusCode: 429, Body: "slow down"},
		sleeps:      []provider.Sleep{{Date: "2024-05-02", Start: time.Date(2024, 5, 1, 23, 0, 0, 0, time.UTC)}},
	}
	f := newFixture(t, adapter, Options{DataSource: config.DataSourceLive})

	_, err := f.orch.Sync(context.Background(), "u1", "fake", ModeIncremental)
	require.ErrorIs(t, err, ErrRateLimited)

	// nothing committed, nothing marked synced
	entry, err := f.db.GetSleepEntry("u1", "2024-05-02")
	require.NoError(t, err)
	assert.Nil(t, entry)

	link, err := f.db.GetLink("u1", "fake")
	require.NoError(t, err)
	assert.Nil(t, link.LastSyncAt)
}

func TestSyncWidensIncrementalWithRecentHistory(t *testing.T) {
	adapter := &fakeAdapter{
		caps:     provider.Capabilities{Workouts: true, Transactional: true, IncrementalLookbackDays: 28},
		workouts: someWorkouts(),
		recent: []provider.Workout{
			// w2 duplicates the transactional result, w9 was missed by
			// a previously failed commit
			{SourceID: "w2", Name: "Run", Start: time.Date(2024, 5, 2, 7, 0, 0, 0, time.UTC), DurationSeconds: 2400},
			{SourceID: "w9", Name: "Run", Start: time.Date(2024, 4, 28, 7, 0, 0, 0, time.UTC), DurationSeconds: 1200},
		},
	}
	f := newFixture(t, adapter, Options{DataSource: config.DataSourceLive})

	_, err := f.orch.Sync(context.Background(), "u1", "fake", ModeIncremental)
	require.NoError(t, err)

	entries, err := f.db.ListEntriesBySource("u1", "fake")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "w9", entries[0].SourceID)
}

func TestSyncFullModeSkipsWidening(t *testing.T) {
	adapter := &fakeAdapter{
		caps:     provider.Capabilities{Workouts: true, IncrementalLookbackDays: 28},
		workouts: someWorkouts(),
		recent: []provider.Workout{
			{SourceID: "w9", Name: "Run", Start: time.Date(2024, 4, 28, 7, 0, 0, 0, time.UTC), DurationSeconds: 1200},
		},
	}
	f := newFixture(t, adapter, Options{DataSource: config.DataSourceLive})

	_, err := f.orch.Sync(context.Background(), "u1", "fake", ModeFull)
	require.NoError(t, err)

	count, err := f.db.CountEntriesBySource("u1", "fake")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestSyncReplayRoundTrip(t *testing.T) {
	adapter := &fakeAdapter{
		caps: provider.Capabilities{Workouts: true, Measurements: true, DailyActivity: true,
			IncrementalLookbackDays: 7},
		workouts: someWorkouts(),
		daily:    []provider.DailyMetric{{Date: "2024-05-01", Code: "steps", Value: 9000}},
	}

	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	live := fixtureWithDB(t, db, adapter, Options{DataSource: config.DataSourceLive, CaptureRaw: true})
	_, err = live.orch.Sync(context.Background(), "u1", "fake", ModeIncremental)
	require.NoError(t, err)

	liveCount, err := db.CountEntriesBySource("u1", "fake")
	require.NoError(t, err)
	require.Equal(t, int64(2), liveCount)

	// wipe canonical rows, then replay the captured bundle offline
	_, err = db.Conn().Exec(`DELETE FROM exercise_entries`)
	require.NoError(t, err)
	_, err = db.Conn().Exec(`DELETE FROM custom_measurements`)
	require.NoError(t, err)

	adapter.workoutsErr = &provider.HTTPError{StatusCode: 503, Body: "network must not be touched"}
	replayFixture := fixtureWithDB(t, db, adapter, Options{DataSource: config.DataSourceReplay})

	result, err := replayFixture.orch.Sync(context.Background(), "u1", "fake", ModeIncremental)
	require.NoError(t, err)
	assert.True(t, result.Replayed)

	replayCount, err := db.CountEntriesBySource("u1", "fake")
	require.NoError(t, err)
	assert.Equal(t, liveCount, replayCount)

	entries, err := db.ListEntriesBySource("u1", "fake")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "w1", entries[0].SourceID)
}

func TestSyncReplayWithoutBundle(t *testing.T) {
	adapter := &fakeAdapter{caps: provider.Capabilities{Workouts: true}}
	f := newFixture(t, adapter, Options{DataSource: config.DataSourceReplay})

	_, err := f.orch.Sync(context.Background(), "u1", "fake", ModeIncremental)
	assert.ErrorIs(t, err, ErrNoReplayBundle)
}

func TestSyncInvalidMode(t *testing.T) {
	adapter := &fakeAdapter{caps: provider.Capabilities{Workouts: true}}
	f := newFixture(t, adapter, Options{DataSource: config.DataSourceLive})

	_, err := f.orch.Sync(context.Background(), "u1", "fake", Mode("sideways"))
	assert.ErrorIs(t, err, ErrInvalidMode)
}

func TestSyncUnknownProvider(t *testing.T) {
	adapter := &fakeAdapter{caps: provider.Capabilities{Workouts: true}}
	f := newFixture(t, adapter, Options{DataSource: config.DataSourceLive})

	_, err := f.orch.Sync(context.Background(), "u1", "nope", ModeIncremental)
	assert.ErrorIs(t, err, provider.ErrUnknownProvider)
}

func TestMergeWorkoutsDedupByDate(t *testing.T) {
	primary := []provider.Workout{
		{SourceID: "a", Start: time.Date(2024, 5, 1, 7, 0, 0, 0, time.UTC)},
	}
	secondary := []provider.Workout{
		{SourceID: "b", Start: time.Date(2024, 5, 1, 18, 0, 0, 0, time.UTC)},
		{SourceID: "c", Start: time.Date(2024, 5, 2, 7, 0, 0, 0, time.UTC)},
	}

	byID := mergeWorkouts(primary, secondary, false)
	assert.Len(t, byID, 3)

	byDate := mergeWorkouts(primary, secondary, true)
	require.Len(t, byDate, 2)
	assert.Equal(t, "c", byDate[1].SourceID)
}
