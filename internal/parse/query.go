// Package parse turns loosely formatted client input into typed values.
package parse

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// Time accepts RFC3339 or a bare date. A bare date used as an upper bound
// covers the whole day.
func Time(raw string, endOfDay bool) (*time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return nil, fmt.Errorf("unable to parse time: %q", raw)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

// DateRange parses optional start and end bounds.
func DateRange(start, end string) (*time.Time, *time.Time, error) {
	from, err := Time(start, false)
	if err != nil {
		return nil, nil, err
	}
	to, err := Time(end, true)
	if err != nil {
		return nil, nil, err
	}
	return from, to, nil
}

// Bool accepts the usual spellings. Empty means false.
func Bool(raw string) (bool, error) {
	s := strings.TrimSpace(strings.ToLower(raw))
	switch s {
	case "":
		return false, nil
	case "yes", "y", "on":
		return true, nil
	case "no", "n", "off":
		return false, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("unable to parse bool: %q", raw)
	}
	return b, nil
}
