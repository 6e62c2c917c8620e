package models

import (
	"fmt"
	"strings"
	"time"
)

// TimeRange describes a closed time window.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// IsZero reports whether neither bound is set.
func (r TimeRange) IsZero() bool {
	return r.Start.IsZero() && r.End.IsZero()
}

// Validate checks that the range is ordered.
func (r TimeRange) Validate() error {
	if r.Start.IsZero() || r.End.IsZero() {
		return ValidationErrorf("time range requires both start and end")
	}
	if !r.Start.Before(r.End) {
		return ValidationErrorf("start time %s must be before end time %s",
			r.Start.Format(time.RFC3339), r.End.Format(time.RFC3339))
	}
	return nil
}

// Lookback returns the range [now-d, now].
func Lookback(now time.Time, d time.Duration) TimeRange {
	return TimeRange{Start: now.Add(-d), End: now}
}

// ParseTimeArg parses a user supplied time bound. It accepts RFC3339 timestamps,
// "now", and "now-<duration>" (e.g. "now-15m").
func ParseTimeArg(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "" || s == "now":
		return now, nil
	case strings.HasPrefix(s, "now-"):
		d, err := time.ParseDuration(strings.TrimPrefix(s, "now-"))
		if err != nil {
			return time.Time{}, ValidationErrorf("invalid relative time %q: %v", s, err)
		}
		return now.Add(-d), nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, ValidationErrorf("invalid time %q: expected RFC3339 or now-<duration>", s)
	}
	return t, nil
}

// ParseTimeRange parses start and end arguments. An empty start means
// end minus the given lookback.
func ParseTimeRange(start, end string, lookback time.Duration, now time.Time) (TimeRange, error) {
	e, err := ParseTimeArg(end, now)
	if err != nil {
		return TimeRange{}, err
	}
	if strings.TrimSpace(start) == "" {
		return TimeRange{Start: e.Add(-lookback), End: e}, nil
	}
	s, err := ParseTimeArg(start, now)
	if err != nil {
		return TimeRange{}, err
	}
	return TimeRange{Start: s, End: e}, nil
}

func (r TimeRange) String() string {
	return fmt.Sprintf("%s..%s", r.Start.Format(time.RFC3339), r.End.Format(time.RFC3339))
}
