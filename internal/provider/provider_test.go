package provider

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubAdapter struct {
	name string
}

func (s *stubAdapter) Name() string               { return s.name }
func (s *stubAdapter) Capabilities() Capabilities { return Capabilities{} }
func (s *stubAdapter) FetchProfile(ctx context.Context, acc Account) (*Profile, error) {
	return nil, ErrNotSupported
}
func (s *stubAdapter) FetchWorkouts(ctx context.Context, acc Account, w Window) ([]Workout, error) {
	return nil, ErrNotSupported
}
func (s *stubAdapter) FetchMeasurements(ctx context.Context, acc Account, w Window) ([]Measurement, error) {
	return nil, ErrNotSupported
}
func (s *stubAdapter) FetchSleep(ctx context.Context, acc Account, w Window) ([]Sleep, error) {
	return nil, ErrNotSupported
}
func (s *stubAdapter) FetchDailyActivity(ctx context.Context, acc Account, w Window) ([]DailyMetric, error) {
	return nil, ErrNotSupported
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry(&stubAdapter{name: "alpha"}, &stubAdapter{name: "beta"})

	a, err := reg.Get("alpha")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if a.Name() != "alpha" {
		t.Errorf("expected alpha, got %s", a.Name())
	}

	_, err = reg.Get("gamma")
	if !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("expected ErrUnknownProvider, got %v", err)
	}

	names := reg.Names()
	if len(names) != 2 || names[0] != "alpha" || names[1] != "beta" {
		t.Errorf("unexpected names: %v", names)
	}
}

func TestWindowDays(t *testing.T) {
	start := time.Date(2024, 3, 30, 10, 0, 0, 0, time.UTC)
	end := time.Date(2024, 4, 2, 8, 0, 0, 0, time.UTC)
	days := Window{Start: start, End: end}.Days()

	want := []string{"2024-03-30", "2024-03-31", "2024-04-01", "2024-04-02"}
	if len(days) != len(want) {
		t.Fatalf("expected %d days, got %d: %v", len(want), len(days), days)
	}
	for i, d := range want {
		if days[i] != d {
			t.Errorf("day %d: expected %s, got %s", i, d, days[i])
		}
	}
}

func TestWindowDaysFullHistory(t *testing.T) {
	if days := FullWindow(time.Now()).Days(); days != nil {
		t.Errorf("expected nil days for full window, got %v", days)
	}
}

func TestIncrementalWindow(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	w := IncrementalWindow(now, 7)
	if w.Start != now.AddDate(0, 0, -7) {
		t.Errorf("unexpected start: %v", w.Start)
	}
	if w.End != now {
		t.Errorf("unexpected end: %v", w.End)
	}
	if w.IsFull() {
		t.Error("incremental window should not be full")
	}
}

func TestErrorClassifiers(t *testing.T) {
	for _, tc := range []struct {
		status int
		check  func(error) bool
	}{
		{429, IsRateLimited},
		{401, IsUnauthorized},
		{403, IsForbidden},
		{404, IsNotFound},
	} {
		err := error(&HTTPError{StatusCode: tc.status, Body: "nope"})
		if !tc.check(err) {
			t.Errorf("status %d not classified", tc.status)
		}
		wrapped := errors.Join(errors.New("fetch failed"), err)
		if !tc.check(wrapped) {
			t.Errorf("wrapped status %d not classified", tc.status)
		}
	}

	if IsRateLimited(errors.New("plain")) {
		t.Error("plain error classified as rate limited")
	}
}
