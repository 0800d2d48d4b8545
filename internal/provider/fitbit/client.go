// Package fitbit fetches activity, body, sleep, and daily summary data
// from the Fitbit Web API. Fitbit tokens expire after 8 hours and the
// token endpoint requires HTTP Basic client authentication.
package fitbit

import (
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
	defaultAPIBase = "https://api.fitbit.com"
	authURL        = "https://www.fitbit.com/oauth2/authorize"
	tokenURL       = "https://api.fitbit.com/oauth2/token"

	pacingInterval = 150 * time.Millisecond

	// The per-day endpoints get expensive fast, so an unbounded sync is
	// capped at this many days of history
	maxBackfillDays = 90
)

// Client implements the adapter contract for Fitbit
type Client struct {
	httpClient *http.Client
	apiBase    string
	pacer      *provider.Pacer
	logger     *slog.Logger
}

// New creates a Fitbit client
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

func (c *Client) Name() string { return "fitbit" }

func (c *Client) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		Profile:                 true,
		Workouts:                true,
		Measurements:            true,
		Sleep:                   true,
		DailyActivity:           true,
		OAuth:                   true,
		RequiresState:           true,
		TokensExpire:            true,
		IncrementalLookbackDays: 7,
	}
}

// OAuthEndpoint returns the Fitbit OAuth2 endpoints. The token endpoint
// authenticates the client via Basic auth, not form parameters.
func (c *Client) OAuthEndpoint() oauth2.Endpoint {
	return oauth2.Endpoint{
		AuthURL:   authURL,
		TokenURL:  tokenURL,
		AuthStyle: oauth2.AuthStyleInHeader,
	}
}

func (c *Client) OAuthScopes() []string {
	return []string{"activity", "heartrate", "sleep", "weight", "profile"}
}

// boundedDays caps an unbounded window at maxBackfillDays of history
func boundedDays(w provider.Window) []string {
	if w.IsFull() {
		end := time.Now().UTC()
		w = provider.Window{Start: end.AddDate(0, 0, -maxBackfillDays), End: end}
	}
	return w.Days()
}

// FetchProfile returns the Fitbit user's identity
func (c *Client) FetchProfile(ctx context.Context, acc provider.Account) (*provider.Profile, error) {
	var body struct {
		User struct {
			EncodedID string `json:"encodedId"`
			FullName  string `json:"fullName"`
		} `json:"user"`
	}
	if err := c.get(ctx, acc, "/1/user/-/profile.json", &body); err != nil {
		return nil, fmt.Errorf("failed to fetch profile: %w", err)
	}
	return &provider.Profile{ExternalUserID: body.User.EncodedID, Name: body.User.FullName}, nil
}

type activityList struct {
	Activities []struct {
		LogID            int64   `json:"logId"`
		ActivityName     string  `json:"activityName"`
		ActivityTypeID   int64   `json:"activityTypeId"`
		StartTime        string  `json:"startTime"`
		Duration         int64   `json:"duration"` // milliseconds
		Calories         float64 `json:"calories"`
		Distance         float64 `json:"distance"` // kilometers
		AverageHeartRate int     `json:"averageHeartRate"`
	} `json:"activities"`
	Pagination struct {
		Next string `json:"next"`
	} `json:"pagination"`
}

// FetchWorkouts pages through the activity log list starting at the
// window start.
func (c *Client) FetchWorkouts(ctx context.Context, acc provider.Account, w provider.Window) ([]provider.Workout, error) {
	after := w.Start
	if w.IsFull() {
		after = time.Now().UTC().AddDate(0, 0, -maxBackfillDays)
	}

	path := "/1/user/-/activities/list.json?" + url.Values{
		"afterDate": {after.Format("2006-01-02")},
		"sort":      {"asc"},
		"offset":    {"0"},
		"limit":     {"100"},
	}.Encode()

	var out []provider.Workout
	for path != "" {
		var body activityList
		if err := c.get(ctx, acc, path, &body); err != nil {
			return nil, fmt.Errorf("failed to fetch activity list: %w", err)
		}

		for _, a := range body.Activities {
			start, err := time.Parse(time.RFC3339, a.StartTime)
			if err != nil {
				c.logger.Warn("skipping activity with unparseable start time",
					"log_id", a.LogID, "start_time", a.StartTime)
				continue
			}

			out = append(out, provider.Workout{
				SourceID:        strconv.FormatInt(a.LogID, 10),
				Name:            a.ActivityName,
				TypeID:          strconv.FormatInt(a.ActivityTypeID, 10),
				TypeName:        a.ActivityName,
				Start:           start,
				DurationSeconds: int(a.Duration / 1000),
				Calories:        a.Calories,
				DistanceMeters:  a.Distance * 1000,
				AvgHeartRate:    a.AverageHeartRate,
			})
		}

		path = ""
		if next := body.Pagination.Next; next != "" {
			if u, err := url.Parse(next); err == nil {
				path = u.Path + "?" + u.RawQuery
				if err := c.pacer.Wait(ctx); err != nil {
					return nil, err
				}
			}
		}
	}

	return out, nil
}

// FetchMeasurements pulls the body weight log for the window in a single
// range call.
func (c *Client) FetchMeasurements(ctx context.Context, acc provider.Account, w provider.Window) ([]provider.Measurement, error) {
	days := boundedDays(w)
	if len(days) == 0 {
		return nil, nil
	}
	start, end := days[0], days[len(days)-1]

	var body struct {
		Weight []struct {
			Date   string  `json:"date"`
			Weight float64 `json:"weight"`
			Fat    float64 `json:"fat"`
		} `json:"weight"`
	}
	path := fmt.Sprintf("/1/user/-/body/log/weight/date/%s/%s.json", start, end)
	if err := c.get(ctx, acc, path, &body); err != nil {
		return nil, fmt.Errorf("failed to fetch weight log: %w", err)
	}

	var out []provider.Measurement
	for _, entry := range body.Weight {
		out = append(out, provider.Measurement{
			Date: entry.Date, Hour: -1, Code: "weight", Value: entry.Weight,
		})
		if entry.Fat > 0 {
			out = append(out, provider.Measurement{
				Date: entry.Date, Hour: -1, Code: "fat", Value: entry.Fat,
			})
		}
	}
	return out, nil
}

type sleepDay struct {
	Sleep []struct {
		IsMainSleep bool   `json:"isMainSleep"`
		DateOfSleep string `json:"dateOfSleep"`
		StartTime   string `json:"startTime"`
		Duration    int64  `json:"duration"` // milliseconds
		Levels      struct {
			Data []struct {
				DateTime string `json:"dateTime"`
				Level    string `json:"level"`
				Seconds  int    `json:"seconds"`
			} `json:"data"`
		} `json:"levels"`
	} `json:"sleep"`
}

// Fitbit reports stages as named levels; the canonical stage codes are
// 1=awake 2=light 3=deep 4=rem
var levelCodes = map[string]int{
	"wake":     1,
	"awake":    1,
	"restless": 1,
	"light":    2,
	"asleep":   2,
	"deep":     3,
	"rem":      4,
}

type stageSample struct {
	Time  string `json:"time"`
	Value int    `json:"value"`
}

// FetchSleep makes one call per day in the window and keeps only the main
// sleep record for each night.
func (c *Client) FetchSleep(ctx context.Context, acc provider.Account, w provider.Window) ([]provider.Sleep, error) {
	var out []provider.Sleep

	for i, day := range boundedDays(w) {
		if i > 0 {
			if err := c.pacer.Wait(ctx); err != nil {
				return nil, err
			}
		}

		var body sleepDay
		if err := c.get(ctx, acc, "/1.2/user/-/sleep/date/"+day+".json", &body); err != nil {
			return nil, fmt.Errorf("failed to fetch sleep for %s: %w", day, err)
		}

		for _, s := range body.Sleep {
			if !s.IsMainSleep {
				continue
			}

			start, err := time.Parse("2006-01-02T15:04:05.000", s.StartTime)
			if err != nil {
				c.logger.Warn("skipping sleep with unparseable start time",
					"date", s.DateOfSleep, "start_time", s.StartTime)
				continue
			}

			var samples []stageSample
			for _, d := range s.Levels.Data {
				code, ok := levelCodes[d.Level]
				if !ok {
					continue
				}
				if t, err := time.Parse("2006-01-02T15:04:05.000", d.DateTime); err == nil {
					samples = append(samples, stageSample{Time: t.Format("15:04:05"), Value: code})
				}
			}

			var stages json.RawMessage
			if len(samples) > 0 {
				stages, _ = json.Marshal(samples)
			}

			out = append(out, provider.Sleep{
				Date:            s.DateOfSleep,
				Start:           start,
				DurationSeconds: int(s.Duration / 1000),
				Stages:          stages,
			})
		}
	}

	return out, nil
}

// FetchDailyActivity makes one summary call per day in the window
func (c *Client) FetchDailyActivity(ctx context.Context, acc provider.Account, w provider.Window) ([]provider.DailyMetric, error) {
	var out []provider.DailyMetric

	for i, day := range boundedDays(w) {
		if i > 0 {
			if err := c.pacer.Wait(ctx); err != nil {
				return nil, err
			}
		}

		var body struct {
			Summary struct {
				Steps             float64 `json:"steps"`
				Floors            float64 `json:"floors"`
				SedentaryMinutes  float64 `json:"sedentaryMinutes"`
				VeryActiveMinutes float64 `json:"veryActiveMinutes"`
				RestingHeartRate  float64 `json:"restingHeartRate"`
			} `json:"summary"`
		}
		if err := c.get(ctx, acc, "/1/user/-/activities/date/"+day+".json", &body); err != nil {
			return nil, fmt.Errorf("failed to fetch daily activity for %s: %w", day, err)
		}

		for _, m := range []struct {
			code  string
			value float64
		}{
			{"steps", body.Summary.Steps},
			{"floors", body.Summary.Floors},
			{"sedentary_minutes", body.Summary.SedentaryMinutes},
			{"very_active_minutes", body.Summary.VeryActiveMinutes},
			{"resting_heart_rate", body.Summary.RestingHeartRate},
		} {
			if m.value > 0 {
				out = append(out, provider.DailyMetric{Date: day, Code: m.code, Value: m.value})
			}
		}
	}

	return out, nil
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

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &provider.HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
