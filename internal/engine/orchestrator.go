// Package engine runs the per-user per-provider sync pipeline. A run is
// a strict two-phase sequence: capture every raw payload first, then
// apply them all. Nothing is written to canonical storage until every
// network call has finished, so a failed run never leaves partial data
// behind and is always safe to retry.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"healthsync/internal/config"
	"healthsync/internal/database"
	"healthsync/internal/metrics"
	"healthsync/internal/normalize"
	"healthsync/internal/provider"
	"healthsync/internal/replay"
	"healthsync/internal/tokens"
)

// Mode selects the fetch window
type Mode string

const (
	ModeFull        Mode = "full"
	ModeIncremental Mode = "incremental"
)

// State is the run's position in the sync lifecycle
type State string

const (
	StateIdle         State = "idle"
	StateCapturingRaw State = "capturing_raw"
	StateProcessing   State = "processing"
	StateCommitted    State = "committed"
	StateErrored      State = "errored"
)

// Logical data-type keys, shared between capture, processing and the
// replay store so a replayed bundle flows through the same path
const (
	dataKeyWorkouts      = "workouts"
	dataKeyMeasurements  = "measurements"
	dataKeySleep         = "sleep"
	dataKeyDailyActivity = "daily_activity"
)

var (
	// ErrRateLimited aborts the whole run; retry later, nothing was
	// committed
	ErrRateLimited = errors.New("provider rate limited, sync aborted")

	// ErrInvalidMode is returned for unrecognized sync modes
	ErrInvalidMode = errors.New("invalid sync mode")

	// ErrNoReplayBundle is returned in replay mode when nothing has
	// been captured for the link
	ErrNoReplayBundle = errors.New("no raw bundle captured for provider")
)

// Options configures orchestrator behavior from the environment
type Options struct {
	// DataSource is live or replay
	DataSource string
	// CaptureRaw tees successful live fetches into the replay store
	CaptureRaw bool
}

// Orchestrator coordinates token acquisition, capture, normalization
// and bookkeeping for sync runs.
type Orchestrator struct {
	db         *database.DB
	tokens     *tokens.Manager
	registry   *provider.Registry
	normalizer *normalize.Normalizer
	replay     *replay.Store
	logger     *slog.Logger
	opts       Options
	now        func() time.Time
}

// New creates an orchestrator
func New(db *database.DB, tm *tokens.Manager, registry *provider.Registry, n *normalize.Normalizer, rs *replay.Store, logger *slog.Logger, opts Options) *Orchestrator {
	return &Orchestrator{
		db:         db,
		tokens:     tm,
		registry:   registry,
		normalizer: n,
		replay:     rs,
		logger:     logger,
		opts:       opts,
		now:        time.Now,
	}
}

// Result summarizes a completed sync run
type Result struct {
	RunID         string   `json:"runId"`
	Provider      string   `json:"provider"`
	Mode          Mode     `json:"mode"`
	CapturedTypes []string `json:"capturedTypes"`
	Replayed      bool     `json:"replayed"`
}

// Sync runs the full pipeline for one (user, provider) pair
func (o *Orchestrator) Sync(ctx context.Context, userID, providerName string, mode Mode) (*Result, error) {
	if mode != ModeFull && mode != ModeIncremental {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}

	adapter, err := o.registry.Get(providerName)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	logger := o.logger.With("run_id", runID, "user_id", userID, "provider", providerName, "mode", mode)
	start := o.now()
	replayed := o.opts.DataSource == config.DataSourceReplay

	logger.Info("sync starting", "state", StateCapturingRaw, "replay", replayed)

	var captured map[string]json.RawMessage
	var link *database.ProviderLink

	if replayed {
		captured, err = o.loadReplayBundle(userID, providerName)
	} else {
		captured, link, err = o.captureLive(ctx, logger, adapter, userID, mode)
	}
	if err != nil {
		logger.Error("sync failed", "state", StateErrored, "error", err)
		result := metrics.ResultFailure
		if errors.Is(err, ErrRateLimited) {
			result = metrics.ResultRateLimited
		}
		metrics.SyncRunsTotal.WithLabelValues(providerName, string(mode), result).Inc()
		return nil, err
	}

	logger.Info("capture complete", "state", StateProcessing, "data_types", len(captured))

	if err := o.process(logger, userID, providerName, captured); err != nil {
		logger.Error("sync failed", "state", StateErrored, "error", err)
		metrics.SyncRunsTotal.WithLabelValues(providerName, string(mode), metrics.ResultFailure).Inc()
		return nil, err
	}

	// Commit: the only ProviderLink side effect of a steady-state run.
	// Replay runs are diagnostic and leave bookkeeping alone.
	if link != nil {
		if err := o.db.TouchLinkLastSync(link.ID, o.now()); err != nil {
			logger.Error("sync failed", "state", StateErrored, "error", err)
			metrics.SyncRunsTotal.WithLabelValues(providerName, string(mode), metrics.ResultFailure).Inc()
			return nil, err
		}
	}

	duration := o.now().Sub(start)
	metrics.SyncRunsTotal.WithLabelValues(providerName, string(mode), metrics.ResultSuccess).Inc()
	metrics.SyncRunDuration.WithLabelValues(providerName, string(mode)).Observe(duration.Seconds())
	logger.Info("sync committed", "state", StateCommitted, "duration", duration)

	types := make([]string, 0, len(captured))
	for key := range captured {
		types = append(types, key)
	}
	sort.Strings(types)
	return &Result{
		RunID:         runID,
		Provider:      providerName,
		Mode:          mode,
		CapturedTypes: types,
		Replayed:      replayed,
	}, nil
}

// captureLive phase: acquire a valid token, then fetch every supported
// data type. One data type failing degrades to "no data of that type";
// a rate-limit response aborts the whole run so nothing half-fetched
// gets committed.
func (o *Orchestrator) captureLive(ctx context.Context, logger *slog.Logger, adapter provider.Adapter, userID string, mode Mode) (map[string]json.RawMessage, *database.ProviderLink, error) {
	providerName := adapter.Name()
	caps := adapter.Capabilities()

	// Token acquisition failure is fatal, unlike per-type fetches
	acc, link, err := o.tokens.GetValidAccessToken(ctx, userID, providerName)
	if err != nil {
		return nil, nil, err
	}

	window := o.window(caps, mode)
	captured := make(map[string]json.RawMessage)

	fetches := []struct {
		key       string
		supported bool
		fetch     func() (any, error)
	}{
		{dataKeyWorkouts, caps.Workouts, func() (any, error) {
			return o.fetchWorkouts(ctx, logger, adapter, acc, window, mode)
		}},
		{dataKeyMeasurements, caps.Measurements, func() (any, error) {
			return adapter.FetchMeasurements(ctx, acc, window)
		}},
		{dataKeySleep, caps.Sleep, func() (any, error) {
			return adapter.FetchSleep(ctx, acc, window)
		}},
		{dataKeyDailyActivity, caps.DailyActivity, func() (any, error) {
			return adapter.FetchDailyActivity(ctx, acc, window)
		}},
	}

	for _, f := range fetches {
		if !f.supported {
			continue
		}

		records, err := f.fetch()
		if err != nil {
			if provider.IsRateLimited(err) {
				return nil, nil, fmt.Errorf("%w: fetching %s: %v", ErrRateLimited, f.key, err)
			}
			logger.Warn("fetch failed, degrading to no data",
				"data_type", f.key, "error", err)
			metrics.FetchErrorsTotal.WithLabelValues(providerName, f.key).Inc()
			continue
		}

		raw, err := json.Marshal(records)
		if err != nil {
			logger.Warn("failed to encode fetched records", "data_type", f.key, "error", err)
			continue
		}
		captured[f.key] = raw

		if o.opts.CaptureRaw {
			o.replay.Capture(userID, providerName, f.key, records)
		}
	}

	return captured, link, nil
}

// fetchWorkouts optionally widens an incremental pull with the
// provider's recent-history list, deduplicated by natural key, to
// backfill anything a previously failed transaction commit skipped.
func (o *Orchestrator) fetchWorkouts(ctx context.Context, logger *slog.Logger, adapter provider.Adapter, acc provider.Account, window provider.Window, mode Mode) (any, error) {
	workouts, err := adapter.FetchWorkouts(ctx, acc, window)
	if err != nil {
		return nil, err
	}

	lister, ok := adapter.(provider.RecentLister)
	if !ok || mode != ModeIncremental {
		return workouts, nil
	}

	recent, err := lister.FetchRecentWorkouts(ctx, acc)
	if err != nil {
		// best-effort widening, the transactional result stands alone
		logger.Warn("recent-history widening failed", "error", err)
		return workouts, nil
	}

	merged := mergeWorkouts(workouts, recent, adapter.Capabilities().DedupByDate)
	if len(merged) > len(workouts) {
		logger.Info("widened incremental window",
			"transactional", len(workouts), "backfilled", len(merged)-len(workouts))
	}
	return merged, nil
}

// mergeWorkouts appends secondary records not already present in
// primary. The natural key is the provider's native id, or the calendar
// day for providers that dedup by date.
func mergeWorkouts(primary, secondary []provider.Workout, dedupByDate bool) []provider.Workout {
	key := func(w provider.Workout) string {
		if dedupByDate {
			return w.Start.Format("2006-01-02")
		}
		return w.SourceID
	}

	seen := make(map[string]bool, len(primary))
	for _, w := range primary {
		seen[key(w)] = true
	}

	out := primary
	for _, w := range secondary {
		if !seen[key(w)] {
			seen[key(w)] = true
			out = append(out, w)
		}
	}
	return out
}

func (o *Orchestrator) loadReplayBundle(userID, providerName string) (map[string]json.RawMessage, error) {
	bundle, err := o.replay.Load(userID, providerName)
	if err != nil {
		return nil, err
	}
	if bundle == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoReplayBundle, providerName)
	}

	captured := make(map[string]json.RawMessage, len(bundle.Entries))
	for key, entry := range bundle.Entries {
		captured[key] = entry.Payload
	}
	return captured, nil
}

// process phase: apply every captured payload through the normalizer in
// a fixed order. Errors here abort the commit; the captured data is
// safe to re-process because normalization is idempotent.
func (o *Orchestrator) process(logger *slog.Logger, userID, providerName string, captured map[string]json.RawMessage) error {
	steps := []struct {
		key   string
		apply func(raw json.RawMessage) error
	}{
		{dataKeyWorkouts, func(raw json.RawMessage) error {
			return o.normalizer.ProcessWorkouts(userID, userID, providerName, raw)
		}},
		{dataKeyMeasurements, func(raw json.RawMessage) error {
			return o.normalizer.ProcessMeasurements(userID, userID, providerName, raw)
		}},
		{dataKeySleep, func(raw json.RawMessage) error {
			return o.normalizer.ProcessSleep(userID, userID, providerName, raw)
		}},
		{dataKeyDailyActivity, func(raw json.RawMessage) error {
			return o.normalizer.ProcessDailyActivity(userID, userID, providerName, raw)
		}},
	}

	for _, step := range steps {
		raw, ok := captured[step.key]
		if !ok {
			continue
		}
		if err := step.apply(raw); err != nil {
			return fmt.Errorf("failed to process %s: %w", step.key, err)
		}
		logger.Debug("processed data type", "data_type", step.key)
	}
	return nil
}

func (o *Orchestrator) window(caps provider.Capabilities, mode Mode) provider.Window {
	now := o.now()
	if mode == ModeFull {
		return provider.FullWindow(now)
	}

	days := caps.IncrementalLookbackDays
	if days <= 0 {
		days = 7
	}
	return provider.IncrementalWindow(now, days)
}
