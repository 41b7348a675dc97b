// Package timeutil provides helpers for the epoch-millisecond timestamps used by
// the game server API and for the date formats shown on the leaderboard.
// All calendar math is done in UTC.
// No external dependencies - uses only standard library.
package timeutil

import (
	"fmt"
	"time"
)

// Common layouts.
const (
	// DateLayout is the layout of PlayerRecord.last_game.
	DateLayout = "2006-01-02"

	// LegacyDateLayout is the dotted layout used by older leaderboard files.
	LegacyDateLayout = "2006.01.02"
)

// Day is one calendar day.
const Day = 24 * time.Hour

// Now returns the current time in UTC.
func Now() time.Time {
	return time.Now().UTC()
}

// FromMillis converts epoch milliseconds to a UTC time.
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// Date creates a UTC midnight time.
func Date(year, month, day int) time.Time {
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}

// DateMillis returns epoch milliseconds of a UTC midnight.
func DateMillis(year, month, day int) int64 {
	return Date(year, month, day).UnixMilli()
}

// ParseDate parses "2006-01-02" (or the dotted legacy form) as UTC midnight.
func ParseDate(value string) (time.Time, error) {
	if t, err := time.ParseInLocation(DateLayout, value, time.UTC); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(LegacyDateLayout, value, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("timeutil: invalid date %q", value)
	}
	return t, nil
}

// FormatDateMillis formats epoch milliseconds as "2006-01-02" in UTC.
func FormatDateMillis(ms int64) string {
	return FromMillis(ms).Format(DateLayout)
}

// FormatMillis renders epoch milliseconds as RFC3339 for logs.
func FormatMillis(ms int64) string {
	return FromMillis(ms).Format(time.RFC3339)
}

// StartOfDay returns UTC midnight of t's day.
func StartOfDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the number of whole days from t1 to t2.
func DaysBetween(t1, t2 time.Time) int {
	return int(StartOfDay(t2).Sub(StartOfDay(t1)) / Day)
}

// FormatRelative renders a future instant as "in 5m 12s" for the countdown fallback.
func FormatRelative(from, to time.Time) string {
	d := to.Sub(from)
	if d <= 0 {
		return "now"
	}
	d = d.Round(time.Second)
	m := int(d / time.Minute)
	s := int((d % time.Minute) / time.Second)
	if m == 0 {
		return fmt.Sprintf("in %ds", s)
	}
	return fmt.Sprintf("in %dm %ds", m, s)
}
