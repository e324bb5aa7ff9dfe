package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseTime accepts unix seconds (fractional allowed), a YYYY-MM-DD date or
// an RFC 3339 timestamp. Results are UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("time is required")
	}
	if sec, err := strconv.ParseFloat(s, 64); err == nil {
		if sec < 0 {
			return time.Time{}, fmt.Errorf("invalid time %q: negative unix seconds", s)
		}
		return FromUnix(sec), nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid time %q: use unix seconds, YYYY-MM-DD or RFC 3339", s)
}

// ParseInterval converts a candle interval such as 1m, 4h, 1d or 1w to a
// duration. Other Go duration strings are accepted as well.
func ParseInterval(interval string) (time.Duration, error) {
	interval = strings.TrimSpace(interval)
	if len(interval) < 2 {
		return 0, fmt.Errorf("invalid interval format: %q", interval)
	}

	var d time.Duration
	switch unit := interval[len(interval)-1]; unit {
	case 'd', 'w':
		n, err := strconv.Atoi(interval[:len(interval)-1])
		if err != nil {
			return 0, fmt.Errorf("invalid interval format: %q", interval)
		}
		d = time.Duration(n) * 24 * time.Hour
		if unit == 'w' {
			d *= 7
		}
	default:
		var err error
		d, err = time.ParseDuration(interval)
		if err != nil {
			return 0, fmt.Errorf("invalid interval format: %q", interval)
		}
	}

	if d < time.Second {
		return 0, fmt.Errorf("interval %q must be at least 1s", interval)
	}
	return d, nil
}
