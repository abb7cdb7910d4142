// Package parse turns the time inputs accepted by the HTTP surface into
// UTC instants.
package parse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	// "90m", "2h", "1h30m", "2 hours", "45 min"
	durationRe = regexp.MustCompile(`(?i)^\s*(?:(\d+)\s*(?:h|hr|hrs|hour|hours))?\s*(?:(\d+)\s*(?:m|min|mins|minute|minutes))?\s*$`)

	localLayouts = []string{
		"2006-01-02T15:04:05",
		"2006-01-02T15:04",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
	}
)

// Time parses an RFC3339 instant, or a wall-clock time without offset that
// is interpreted in loc. The result is in UTC.
func Time(raw string, loc *time.Location) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time")
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse time: %q", raw)
}

// Duration parses a positive duration given in hours and/or minutes.
func Duration(raw string) (time.Duration, error) {
	m := durationRe.FindStringSubmatch(raw)
	if m == nil || (m[1] == "" && m[2] == "") {
		return 0, fmt.Errorf("unable to parse duration: %q", raw)
	}
	var d time.Duration
	if m[1] != "" {
		h, err := strconv.Atoi(m[1])
		if err != nil {
			return 0, fmt.Errorf("unable to parse duration: %q", raw)
		}
		d += time.Duration(h) * time.Hour
	}
	if m[2] != "" {
		mins, err := strconv.Atoi(m[2])
		if err != nil {
			return 0, fmt.Errorf("unable to parse duration: %q", raw)
		}
		d += time.Duration(mins) * time.Minute
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive: %q", raw)
	}
	return d, nil
}

// Window resolves a start plus either an end time or a duration. An end
// time wins when both are given.
func Window(start, end, duration string, loc *time.Location) (time.Time, time.Time, error) {
	s, err := Time(start, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("start: %w", err)
	}
	if strings.TrimSpace(end) != "" {
		e, err := Time(end, loc)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("end: %w", err)
		}
		return s, e, nil
	}
	if strings.TrimSpace(duration) == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("either end or duration is required")
	}
	d, err := Duration(duration)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return s, s.Add(d), nil
}
