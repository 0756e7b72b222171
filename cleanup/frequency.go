package cleanup

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Frequency says how often a cache root may run its cleanup action.
type Frequency time.Duration

const (
	// Always runs cleanup every time the root is opened.
	Always Frequency = 0
	// Never disables automatic cleanup.
	Never Frequency = -1
	// Daily runs cleanup at most once every 24 hours.
	Daily = Frequency(24 * time.Hour)
)

// Every returns a frequency of at most one cleanup per d.
func Every(d time.Duration) Frequency {
	if d <= 0 {
		return Always
	}
	return Frequency(d)
}

// Due reports whether cleanup should run given the last run time. A zero
// last time means cleanup never ran.
func (f Frequency) Due(last, now time.Time) bool {
	switch {
	case f == Never:
		return false
	case f == Always:
		return true
	case last.IsZero():
		return true
	default:
		return now.Sub(last) >= time.Duration(f)
	}
}

func (f Frequency) String() string {
	switch f {
	case Always:
		return "always"
	case Never:
		return "never"
	case Daily:
		return "daily"
	default:
		return time.Duration(f).String()
	}
}

// ParseFrequency parses "always", "never", "daily", or a duration accepted
// by ParseDuration.
func ParseFrequency(value string) (Frequency, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "always":
		return Always, nil
	case "never":
		return Never, nil
	case "daily":
		return Daily, nil
	}

	d, err := ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid cleanup frequency %q: %w", value, err)
	}
	return Every(d), nil
}

// ParseDuration parses a Go duration, additionally accepting a whole
// number of days such as "7d".
func ParseDuration(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if days, ok := strings.CutSuffix(value, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("invalid day count %q", value)
		}
		if n < 0 {
			return 0, fmt.Errorf("negative duration %q", value)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", value)
	}
	return d, nil
}
