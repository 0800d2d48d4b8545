// Package provider defines the uniform adapter contract every external
// fitness platform is wrapped in. Adapters normalize provider payloads
// into the canonical intermediate records declared here at their own
// boundary; nothing downstream ever sees provider-specific key spellings.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"golang.org/x/oauth2"
)

// Capabilities describes what a provider supports and how it behaves.
// The orchestrator branches on these flags, never on provider names.
type Capabilities struct {
	Profile       bool
	Workouts      bool
	Measurements  bool
	Sleep         bool
	DailyActivity bool

	// OAuth is false for static API-key providers
	OAuth bool
	// RequiresState enables anti-CSRF state on the authorization flow
	RequiresState bool
	// TokensExpire is false for life-of-the-account tokens; refresh is
	// skipped entirely for such providers
	TokensExpire bool
	// Transactional marks differential fetch semantics (open, consume,
	// commit) instead of list/range calls
	Transactional bool
	// DedupByDate selects calendar-day natural keys for backfill dedup
	// instead of the provider's native record id
	DedupByDate bool

	// IncrementalLookbackDays is the window for incremental syncs
	IncrementalLookbackDays int
}

// Account carries the per-call authentication material for one user's
// link. AccessToken holds either a decrypted OAuth bearer token or a
// static API key.
type Account struct {
	AccessToken    string
	ExternalUserID string
}

// Window is a date range for list/range style fetches. A zero Start
// means "all available history".
type Window struct {
	Start time.Time
	End   time.Time
}

// IncrementalWindow returns the lookback window ending now
func IncrementalWindow(now time.Time, days int) Window {
	return Window{Start: now.AddDate(0, 0, -days), End: now}
}

// FullWindow returns a window covering all available history
func FullWindow(now time.Time) Window {
	return Window{End: now}
}

// IsFull reports whether the window covers all history
func (w Window) IsFull() bool {
	return w.Start.IsZero()
}

// Days lists every calendar date in the window, oldest first, formatted
// YYYY-MM-DD. Used by providers that require one call per day.
func (w Window) Days() []string {
	if w.IsFull() {
		return nil
	}

	var days []string
	for d := w.Start; !d.After(w.End); d = d.AddDate(0, 0, 1) {
		days = append(days, d.Format("2006-01-02"))
	}
	return days
}

// Profile identifies the user on the provider's side
type Profile struct {
	ExternalUserID string `json:"externalUserId"`
	Name           string `json:"name,omitempty"`
}

// Workout is the canonical intermediate shape for a workout/activity
// record. Start may be zero when the provider omitted the timestamp;
// the normalizer skips such records with a warning.
type Workout struct {
	SourceID        string    `json:"sourceId"`
	Name            string    `json:"name"`
	TypeID          string    `json:"typeId,omitempty"`
	TypeName        string    `json:"typeName,omitempty"`
	Start           time.Time `json:"start"`
	DurationSeconds int       `json:"durationSeconds,omitempty"`
	DurationISO     string    `json:"durationIso,omitempty"` // used when DurationSeconds is 0
	Calories        float64   `json:"calories,omitempty"`
	DistanceMeters  float64   `json:"distanceMeters,omitempty"`
	AvgHeartRate    int       `json:"avgHeartRate,omitempty"`
	Notes           string    `json:"notes,omitempty"`
}

// Measurement is a dated physiological metric carrying the provider's
// native metric code; the normalizer's vocabulary tables map codes to
// canonical categories and units.
type Measurement struct {
	Date  string  `json:"date"`           // YYYY-MM-DD
	Hour  int     `json:"hour"`           // -1 means no hour component
	Code  string  `json:"code"`           // provider-native metric code
	Value float64 `json:"value"`
	Text  string  `json:"text,omitempty"` // preformatted values, e.g. blood pressure
}

// Sleep is a nightly summary plus the provider's stage series. Stages
// is kept raw because providers disagree on shape: either an array of
// {"time","value"} samples or a clock-time-keyed map.
type Sleep struct {
	Date            string          `json:"date"` // YYYY-MM-DD
	Start           time.Time       `json:"start"`
	DurationSeconds int             `json:"durationSeconds"`
	Stages          json.RawMessage `json:"stages,omitempty"`
}

// DailyMetric is one day-bucketed activity statistic
type DailyMetric struct {
	Date  string  `json:"date"` // YYYY-MM-DD
	Code  string  `json:"code"` // provider-native metric code
	Value float64 `json:"value"`
}

// Adapter is the uniform capability surface per provider. Operations a
// provider does not support (per Capabilities) return ErrNotSupported
// and are never invoked by the orchestrator.
type Adapter interface {
	Name() string
	Capabilities() Capabilities

	FetchProfile(ctx context.Context, acc Account) (*Profile, error)
	FetchWorkouts(ctx context.Context, acc Account, w Window) ([]Workout, error)
	FetchMeasurements(ctx context.Context, acc Account, w Window) ([]Measurement, error)
	FetchSleep(ctx context.Context, acc Account, w Window) ([]Sleep, error)
	FetchDailyActivity(ctx context.Context, acc Account, w Window) ([]DailyMetric, error)
}

// OAuthConfigurer is implemented by OAuth2 providers
type OAuthConfigurer interface {
	OAuthEndpoint() oauth2.Endpoint
	OAuthScopes() []string
}

// UserRegistrar is implemented by providers that require a one-time
// registration of the external account after the first token exchange.
// An empty returned id means "already registered, keep the known id".
type UserRegistrar interface {
	RegisterUser(ctx context.Context, acc Account, memberID string) (string, error)
}

// KeyValidator is implemented by static API-key providers so connect can
// reject an invalid key up front.
type KeyValidator interface {
	ValidateKey(ctx context.Context, acc Account) error
}

// RecentLister is implemented by transactional providers that also offer
// a recent-history list call, used for best-effort backfill widening.
type RecentLister interface {
	FetchRecentWorkouts(ctx context.Context, acc Account) ([]Workout, error)
}

// ErrUnknownProvider is returned for provider names with no registered adapter
var ErrUnknownProvider = errors.New("unknown provider")

// ErrNotSupported is returned by adapter operations outside the
// provider's capability set
var ErrNotSupported = errors.New("operation not supported by provider")

// Registry holds the configured adapters by name
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry builds a registry from the given adapters
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

// Get returns the adapter for a provider name
func (r *Registry) Get(name string) (Adapter, error) {
	a, ok := r.adapters[name]
	if !ok {
		return nil, ErrUnknownProvider
	}
	return a, nil
}

// Names returns all registered provider names, sorted
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
