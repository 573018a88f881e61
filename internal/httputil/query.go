package httputil

import (
	"fmt"
	"strconv"
	"time"
)

// ParseTime accepts RFC 3339 or Unix seconds. Empty means now.
func ParseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Now().UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	sec, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("t must be RFC 3339 or Unix seconds, got %q", v)
	}
	return time.Unix(sec, 0).UTC(), nil
}

// PositiveInt parses v, falling back to def when empty.
func PositiveInt(v string, def int, field string) (int, error) {
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", field, v)
	}
	return n, nil
}
