package exec

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Defaults applied when a spoken time names a unit but no usable
// number.
const (
	defaultMinutes = 30 * time.Minute
	defaultHours   = time.Hour
	fallbackDelay  = time.Hour
	tomorrowAtHour = 9
)

var reNumber = regexp.MustCompile(`\d+`)

// NormalizeTime converts a spoken relative time ("in 30 minutes",
// "in an hour", "tomorrow") to an absolute time. It never fails:
// unrecognized phrasing falls back to an hour from now, on the theory
// that a roughly-timed reminder beats a dropped one.
func NormalizeTime(raw string, now time.Time) time.Time {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return now.Add(fallbackDelay)
	}

	switch {
	case strings.Contains(s, "minute") || strings.Contains(s, " min"):
		return now.Add(extract(s, time.Minute, defaultMinutes))

	case strings.Contains(s, "hour") || strings.Contains(s, " hr"):
		return now.Add(extract(s, time.Hour, defaultHours))

	case strings.Contains(s, "tomorrow"):
		next := now.AddDate(0, 0, 1)
		hour := tomorrowAtHour
		if h, ok := clockHour(s); ok {
			hour = h
		}
		return time.Date(next.Year(), next.Month(), next.Day(), hour, 0, 0, 0, now.Location())

	case strings.Contains(s, "day"):
		return now.Add(extract(s, 24*time.Hour, 24*time.Hour))
	}

	return now.Add(fallbackDelay)
}

// extract multiplies the first number in s by unit, or returns the
// default when no number parses.
func extract(s string, unit, def time.Duration) time.Duration {
	m := reNumber.FindString(s)
	if m == "" {
		return def
	}
	n, err := strconv.Atoi(m)
	if err != nil || n <= 0 {
		return def
	}
	return time.Duration(n) * unit
}

var reClock = regexp.MustCompile(`at\s+(\d{1,2})(?::(\d{2}))?\s*(am|pm)?`)

// clockHour pulls an hour out of phrases like "tomorrow at 3pm".
func clockHour(s string) (int, bool) {
	m := reClock.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	h, err := strconv.Atoi(m[1])
	if err != nil || h < 0 || h > 23 {
		return 0, false
	}
	if m[3] == "pm" && h < 12 {
		h += 12
	}
	return h, true
}
