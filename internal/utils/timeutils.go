package utils

import (
	"fmt"
	"time"
)

// ParseRFC3339 returns a time from the provided string or an error.
func ParseRFC3339(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time: %w", err)
	}
	return t, nil
}

// WindowSamples returns how many snapshot slots a window of the given
// duration needs at the expected sampling interval, never less than two.
func WindowSamples(window, interval time.Duration) int {
	if interval <= 0 || window <= 0 {
		return 2
	}
	n := int(window / interval)
	if n < 2 {
		n = 2
	}
	return n
}
