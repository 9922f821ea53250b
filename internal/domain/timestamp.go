package domain

import (
	"errors"
	"time"
)

// ErrInvalidTimestamp is returned for strings that are not ISO-8601 timestamps.
var ErrInvalidTimestamp = errors.New("invalid ISO-8601 timestamp")

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02",
}

const clockLayout = "15:04:05"

// ParseTimestamp parses an ISO-8601 date or datetime. Values without an
// offset are taken as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, ErrInvalidTimestamp
}

// FormatTimestamp renders t in UTC with a trailing Z, with microseconds only
// when they are non-zero.
func FormatTimestamp(t time.Time) string {
	t = t.UTC()
	if t.Nanosecond()/int(time.Microsecond) == 0 {
		return t.Format("2006-01-02T15:04:05") + "Z"
	}
	return t.Format("2006-01-02T15:04:05.000000") + "Z"
}

// NowTimestamp returns the current time formatted by FormatTimestamp.
func NowTimestamp() string {
	return FormatTimestamp(time.Now())
}

// ClockTime renders the time-of-day part of t as HH:MM:SS.
func ClockTime(t time.Time) string {
	return t.Format(clockLayout)
}

func validClock(s string) bool {
	if _, err := time.Parse(clockLayout, s); err == nil {
		return true
	}
	_, err := time.Parse("15:04:05.999999", s)
	return err == nil
}
