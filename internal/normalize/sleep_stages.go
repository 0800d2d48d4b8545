package normalize

import (
	"encoding/json"
	"sort"
	"time"
)

// StageEvent is one reconstructed sleep stage interval
type StageEvent struct {
	Stage   string
	StartAt time.Time
	EndAt   time.Time
}

// Canonical stage codes shared by all providers
var stageNames = map[int]string{
	1: "awake",
	2: "light",
	3: "deep",
	4: "rem",
}

type stageSample struct {
	Time  string `json:"time"`
	Value int    `json:"value"`
}

// ReconstructStages turns a provider's stage series into absolute-time
// intervals. The series arrives either as an ordered array of
// {time, value} samples or as a clock-time-keyed map; sample times are
// wall-clock only, so anchoring starts at the night's start timestamp
// and a clock time smaller than the running cursor means the series
// crossed midnight. The final interval ends at the wake time.
func ReconstructStages(anchor, wake time.Time, raw json.RawMessage) []StageEvent {
	samples := decodeStageSamples(raw, anchor)
	if len(samples) == 0 {
		return nil
	}

	starts := make([]time.Time, 0, len(samples))
	stages := make([]string, 0, len(samples))

	cursor := anchor
	for _, s := range samples {
		name, ok := stageNames[s.Value]
		if !ok {
			continue
		}

		clock, ok := parseClock(s.Time)
		if !ok {
			continue
		}

		t := time.Date(cursor.Year(), cursor.Month(), cursor.Day(),
			clock.Hour(), clock.Minute(), clock.Second(), 0, cursor.Location())
		for t.Before(cursor) {
			t = t.AddDate(0, 0, 1)
		}
		cursor = t

		starts = append(starts, t)
		stages = append(stages, name)
	}

	events := make([]StageEvent, 0, len(starts))
	for i := range starts {
		end := wake
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		if end.Before(starts[i]) {
			end = starts[i]
		}
		events = append(events, StageEvent{Stage: stages[i], StartAt: starts[i], EndAt: end})
	}
	return events
}

func decodeStageSamples(raw json.RawMessage, anchor time.Time) []stageSample {
	if len(raw) == 0 {
		return nil
	}

	var list []stageSample
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}

	var keyed map[string]int
	if err := json.Unmarshal(raw, &keyed); err != nil {
		return nil
	}

	// Map order is meaningless; sort keys by elapsed time since the
	// anchor's clock position so the midnight rollover sorts correctly
	anchorSecs := anchor.Hour()*3600 + anchor.Minute()*60 + anchor.Second()
	elapsed := func(k string) int {
		clock, ok := parseClock(k)
		if !ok {
			return 1 << 30
		}
		secs := clock.Hour()*3600 + clock.Minute()*60 + clock.Second()
		return ((secs - anchorSecs) + 86400) % 86400
	}

	keys := make([]string, 0, len(keyed))
	for k := range keyed {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return elapsed(keys[i]) < elapsed(keys[j]) })

	out := make([]stageSample, 0, len(keys))
	for _, k := range keys {
		out = append(out, stageSample{Time: k, Value: keyed[k]})
	}
	return out
}

func parseClock(s string) (time.Time, bool) {
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
