// Package hevy fetches workouts from the Hevy API. Hevy authenticates
// with a static API key, so no OAuth flow or token refresh applies.
package hevy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"healthsync/internal/provider"
)

const (
	defaultBaseURL = "https://api.hevyapp.com/v1"
	pageSize       = 10
	pacingInterval = 200 * time.Millisecond
)

// Client implements the adapter contract for Hevy
type Client struct {
	httpClient *http.Client
	baseURL    string
	pacer      *provider.Pacer
	logger     *slog.Logger
}

// New creates a Hevy client
func New(logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    defaultBaseURL,
		pacer:      provider.NewPacer(pacingInterval),
		logger:     logger,
	}
}

// SetBaseURL overrides the API base URL (used for testing)
func (c *Client) SetBaseURL(u string) {
	c.baseURL = u
}

func (c *Client) Name() string { return "hevy" }

func (c *Client) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		Workouts:                true,
		IncrementalLookbackDays: 30,
	}
}

type workoutPage struct {
	Page      int           `json:"page"`
	PageCount int           `json:"page_count"`
	Workouts  []hevyWorkout `json:"workouts"`
}

type hevyWorkout struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
}

// FetchWorkouts pages through the workout list newest-first, stopping
// once a whole page falls before the window start.
func (c *Client) FetchWorkouts(ctx context.Context, acc provider.Account, w provider.Window) ([]provider.Workout, error) {
	var out []provider.Workout

	for page := 1; ; page++ {
		if page > 1 {
			if err := c.pacer.Wait(ctx); err != nil {
				return nil, err
			}
		}

		var body workoutPage
		q := "/workouts?page=" + strconv.Itoa(page) + "&pageSize=" + strconv.Itoa(pageSize)
		if err := c.get(ctx, acc, q, &body); err != nil {
			return nil, fmt.Errorf("failed to fetch workouts page %d: %w", page, err)
		}

		allBeforeWindow := len(body.Workouts) > 0
		for _, hw := range body.Workouts {
			if !w.IsFull() && hw.StartTime.Before(w.Start) {
				continue
			}
			allBeforeWindow = false

			duration := 0
			if !hw.EndTime.IsZero() && hw.EndTime.After(hw.StartTime) {
				duration = int(hw.EndTime.Sub(hw.StartTime).Seconds())
			}

			out = append(out, provider.Workout{
				SourceID:        hw.ID,
				Name:            hw.Title,
				TypeName:        hw.Title,
				Start:           hw.StartTime,
				DurationSeconds: duration,
				Notes:           hw.Description,
			})
		}

		// The list is newest-first, so a page entirely before the
		// window means nothing further back is relevant
		if allBeforeWindow || page >= body.PageCount || len(body.Workouts) == 0 {
			break
		}
	}

	return out, nil
}

// ValidateKey confirms the API key works by hitting the cheapest
// authenticated endpoint.
func (c *Client) ValidateKey(ctx context.Context, acc provider.Account) error {
	var body struct {
		WorkoutCount int `json:"workout_count"`
	}
	if err := c.get(ctx, acc, "/workouts/count", &body); err != nil {
		return fmt.Errorf("failed to validate api key: %w", err)
	}
	c.logger.Debug("hevy key validated", "workout_count", body.WorkoutCount)
	return nil
}

func (c *Client) FetchProfile(ctx context.Context, acc provider.Account) (*provider.Profile, error) {
	return nil, provider.ErrNotSupported
}

func (c *Client) FetchMeasurements(ctx context.Context, acc provider.Account, w provider.Window) ([]provider.Measurement, error) {
	return nil, provider.ErrNotSupported
}

func (c *Client) FetchSleep(ctx context.Context, acc provider.Account, w provider.Window) ([]provider.Sleep, error) {
	return nil, provider.ErrNotSupported
}

func (c *Client) FetchDailyActivity(ctx context.Context, acc provider.Account, w provider.Window) ([]provider.DailyMetric, error) {
	return nil, provider.ErrNotSupported
}

func (c *Client) get(ctx context.Context, acc provider.Account, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("api-key", acc.AccessToken)
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
