// Package polar fetches exercise, sleep, and daily activity data from
// the Polar AccessLink API. Polar issues long-lived tokens (no refresh)
// and serves exercises through a transactional differential API: each
// transaction yields only what changed since the last committed one.
package polar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2"

	"healthsync/internal/provider"
)

const (
	defaultAPIBase = "https://www.polaraccesslink.com/v3"
	authURL        = "https://flow.polar.com/oauth2/authorization"
	tokenURL       = "https://polarremote.com/v2/oauth2/token"

	pacingInterval = 150 * time.Millisecond

	// Polar serves at most this many nights/days of history
	maxHistoryDays = 28
)

// Client implements the adapter contract for Polar
type Client struct {
	httpClient *http.Client
	apiBase    string
	pacer      *provider.Pacer
	logger     *slog.Logger
}

// New creates a Polar client
func New(logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		apiBase:    defaultAPIBase,
		pacer:      provider.NewPacer(pacingInterval),
		logger:     logger,
	}
}

// SetAPIBase overrides the API base URL (used for testing)
func (c *Client) SetAPIBase(u string) {
	c.apiBase = u
}

func (c *Client) Name() string { return "polar" }

func (c *Client) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		Workouts:                true,
		Sleep:                   true,
		DailyActivity:           true,
		OAuth:                   true,
		RequiresState:           true,
		TokensExpire:            false,
		Transactional:           true,
		IncrementalLookbackDays: maxHistoryDays,
	}
}

// OAuthEndpoint returns the Polar OAuth2 endpoints. Like Fitbit, the
// token endpoint wants Basic client authentication.
func (c *Client) OAuthEndpoint() oauth2.Endpoint {
	return oauth2.Endpoint{
		AuthURL:   authURL,
		TokenURL:  tokenURL,
		AuthStyle: oauth2.AuthStyleInHeader,
	}
}

func (c *Client) OAuthScopes() []string {
	return []string{"accesslink.read_all"}
}

// RegisterUser registers the authenticated account with our client
// application. Polar answers 409 when the account is already registered,
// which counts as success; the caller keeps the id it already knows.
func (c *Client) RegisterUser(ctx context.Context, acc provider.Account, memberID string) (string, error) {
	payload, _ := json.Marshal(map[string]string{"member-id": memberID})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/users", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+acc.AccessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		c.logger.Debug("polar user already registered", "member_id", memberID)
		return "", nil
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &provider.HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var body struct {
		PolarUserID int64 `json:"polar-user-id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode registration response: %w", err)
	}
	return strconv.FormatInt(body.PolarUserID, 10), nil
}

type polarExercise struct {
	ID                int64   `json:"id"`
	StartTime         string  `json:"start-time"`
	Duration          string  `json:"duration"` // ISO-8601, e.g. PT1H30M
	Calories          float64 `json:"calories"`
	Distance          float64 `json:"distance"` // meters
	Sport             string  `json:"sport"`
	DetailedSportInfo string  `json:"detailed-sport-info"`
	HeartRate         struct {
		Average int `json:"average"`
	} `json:"heart-rate"`
}

func (e polarExercise) toWorkout() (provider.Workout, bool) {
	// Start times come back zone-less in the user's local time
	start, err := time.Parse("2006-01-02T15:04:05", e.StartTime)
	if err != nil {
		start, err = time.Parse(time.RFC3339, e.StartTime)
		if err != nil {
			return provider.Workout{}, false
		}
	}

	name := e.DetailedSportInfo
	if name == "" {
		name = e.Sport
	}

	return provider.Workout{
		SourceID:       strconv.FormatInt(e.ID, 10),
		Name:           name,
		TypeID:         e.Sport,
		TypeName:       name,
		Start:          start,
		DurationISO:    e.Duration,
		Calories:       e.Calories,
		DistanceMeters: e.Distance,
		AvgHeartRate:   e.HeartRate.Average,
	}, true
}

// FetchWorkouts drains one exercise transaction: open, fetch every
// listed resource, then commit so the provider marks the data consumed.
// A 204 on open means nothing new, which is an empty result.
func (c *Client) FetchWorkouts(ctx context.Context, acc provider.Account, w provider.Window) ([]provider.Workout, error) {
	txPath := fmt.Sprintf("/users/%s/exercise-transactions", acc.ExternalUserID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+txPath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+acc.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to open exercise transaction: %w", err)
	}

	if resp.StatusCode == http.StatusNoContent {
		resp.Body.Close()
		return nil, nil
	}
	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &provider.HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var opened struct {
		TransactionID int64 `json:"transaction-id"`
	}
	err = json.NewDecoder(resp.Body).Decode(&opened)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}

	listPath := fmt.Sprintf("%s/%d", txPath, opened.TransactionID)
	var listing struct {
		Exercises []string `json:"exercises"`
	}
	if err := c.get(ctx, acc, listPath, &listing); err != nil {
		return nil, fmt.Errorf("failed to list transaction exercises: %w", err)
	}

	var out []provider.Workout
	for i, resource := range listing.Exercises {
		if i > 0 {
			if err := c.pacer.Wait(ctx); err != nil {
				return nil, err
			}
		}

		path, err := c.resourcePath(resource)
		if err != nil {
			c.logger.Warn("skipping unparseable exercise resource", "resource", resource)
			continue
		}

		var ex polarExercise
		if err := c.get(ctx, acc, path, &ex); err != nil {
			return nil, fmt.Errorf("failed to fetch exercise %s: %w", resource, err)
		}

		workout, ok := ex.toWorkout()
		if !ok {
			c.logger.Warn("skipping exercise with unparseable start time",
				"exercise_id", ex.ID, "start_time", ex.StartTime)
			continue
		}
		out = append(out, workout)
	}

	if err := c.commit(ctx, acc, listPath); err != nil {
		return nil, fmt.Errorf("failed to commit transaction %d: %w", opened.TransactionID, err)
	}

	return out, nil
}

// FetchRecentWorkouts lists recent exercise history outside the
// transaction mechanism. Used to backfill anything a previously failed
// commit caused the differential API to skip.
func (c *Client) FetchRecentWorkouts(ctx context.Context, acc provider.Account) ([]provider.Workout, error) {
	var exercises []polarExercise
	if err := c.get(ctx, acc, "/exercises", &exercises); err != nil {
		return nil, fmt.Errorf("failed to list recent exercises: %w", err)
	}

	var out []provider.Workout
	for _, ex := range exercises {
		if workout, ok := ex.toWorkout(); ok {
			out = append(out, workout)
		}
	}
	return out, nil
}

// FetchSleep lists nights in the window. Polar reports the hypnogram as
// a map from clock time to stage code, passed through raw for the
// normalizer to reconstruct into intervals.
func (c *Client) FetchSleep(ctx context.Context, acc provider.Account, w provider.Window) ([]provider.Sleep, error) {
	var body struct {
		Nights []struct {
			Date           string          `json:"date"`
			SleepStartTime string          `json:"sleep_start_time"`
			SleepEndTime   string          `json:"sleep_end_time"`
			Hypnogram      json.RawMessage `json:"hypnogram"`
		} `json:"nights"`
	}
	if err := c.get(ctx, acc, "/users/sleep"+rangeQuery(w), &body); err != nil {
		return nil, fmt.Errorf("failed to fetch sleep: %w", err)
	}

	var out []provider.Sleep
	for _, n := range body.Nights {
		start, err := time.Parse(time.RFC3339, n.SleepStartTime)
		if err != nil {
			c.logger.Warn("skipping night with unparseable start time",
				"date", n.Date, "start_time", n.SleepStartTime)
			continue
		}

		duration := 0
		if end, err := time.Parse(time.RFC3339, n.SleepEndTime); err == nil && end.After(start) {
			duration = int(end.Sub(start).Seconds())
		}

		out = append(out, provider.Sleep{
			Date:            n.Date,
			Start:           start,
			DurationSeconds: duration,
			Stages:          n.Hypnogram,
		})
	}
	return out, nil
}

// FetchDailyActivity lists day summaries in the window
func (c *Client) FetchDailyActivity(ctx context.Context, acc provider.Account, w provider.Window) ([]provider.DailyMetric, error) {
	var body struct {
		Activities []struct {
			Date           string  `json:"date"`
			ActiveSteps    float64 `json:"active-steps"`
			Calories       float64 `json:"calories"`
			ActiveCalories float64 `json:"active-calories"`
			Distance       float64 `json:"distance"` // meters
		} `json:"activities"`
	}
	if err := c.get(ctx, acc, "/users/daily-activity"+rangeQuery(w), &body); err != nil {
		return nil, fmt.Errorf("failed to fetch daily activity: %w", err)
	}

	var out []provider.DailyMetric
	for _, a := range body.Activities {
		for _, m := range []struct {
			code  string
			value float64
		}{
			{"active_steps", a.ActiveSteps},
			{"calories", a.Calories},
			{"active_calories", a.ActiveCalories},
			{"distance", a.Distance},
		} {
			if m.value > 0 {
				out = append(out, provider.DailyMetric{Date: a.Date, Code: m.code, Value: m.value})
			}
		}
	}
	return out, nil
}

func (c *Client) FetchProfile(ctx context.Context, acc provider.Account) (*provider.Profile, error) {
	return nil, provider.ErrNotSupported
}

func (c *Client) FetchMeasurements(ctx context.Context, acc provider.Account, w provider.Window) ([]provider.Measurement, error) {
	return nil, provider.ErrNotSupported
}

// rangeQuery builds the from/to query for range endpoints; the provider
// caps history at maxHistoryDays regardless
func rangeQuery(w provider.Window) string {
	if w.IsFull() {
		end := time.Now().UTC()
		w = provider.Window{Start: end.AddDate(0, 0, -maxHistoryDays), End: end}
	}
	return "?" + url.Values{
		"from": {w.Start.Format("2006-01-02")},
		"to":   {w.End.Format("2006-01-02")},
	}.Encode()
}

// resourcePath converts an absolute resource URL from a transaction
// listing into a path relative to the configured API base
func (c *Client) resourcePath(resource string) (string, error) {
	u, err := url.Parse(resource)
	if err != nil {
		return "", err
	}
	base, err := url.Parse(c.apiBase)
	if err != nil {
		return "", err
	}

	path := u.Path
	if len(base.Path) > 0 && len(path) >= len(base.Path) && path[:len(base.Path)] == base.Path {
		path = path[len(base.Path):]
	}
	return path, nil
}

func (c *Client) commit(ctx context.Context, acc provider.Account, txPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.apiBase+txPath, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+acc.AccessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &provider.HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return nil
}

func (c *Client) get(ctx context.Context, acc provider.Account, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+acc.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &provider.HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
