package domain

import (
	"regexp"
	"strings"
	"time"
)

// Vendor timestamps are tenant-local wall clock. They must never round-trip
// through a timezone-aware conversion: the bars run on local business dates
// and a UTC reinterpretation silently shifts late-night sales onto the wrong
// day. Everything in this file is textual manipulation only.

var localTimestampRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}$`)

// offsetSuffixRe matches trailing timezone markers such as -0300, +00:00 or Z.
var offsetSuffixRe = regexp.MustCompile(`(Z|[+-]\d{2}:?\d{2})$`)

// LocalTimestamp strips the timezone marker from a vendor ISO timestamp and
// returns it as "YYYY-MM-DD HH:MM:SS" local wall clock. Returns "" when the
// input does not reduce to that shape.
func LocalTimestamp(iso string) string {
	s := strings.TrimSpace(iso)
	if s == "" || s == "null" || s == "undefined" {
		return ""
	}
	s = offsetSuffixRe.ReplaceAllString(s, "")
	s = strings.Replace(s, "T", " ", 1)
	// Drop fractional seconds if present.
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s = s[:i]
	}
	if !localTimestampRe.MatchString(s) {
		return ""
	}
	return s
}

// JoinLocal combines a business date and a wall-clock time-of-day string
// into one local timestamp, as a textual join. Returns "" if either part is
// missing or malformed.
func JoinLocal(date, timeOfDay string) string {
	date = strings.TrimSpace(date)
	timeOfDay = strings.TrimSpace(timeOfDay)
	if date == "" || timeOfDay == "" {
		return ""
	}
	// Dates sometimes arrive as full ISO timestamps; keep the date part only.
	if i := strings.IndexByte(date, 'T'); i >= 0 {
		date = date[:i]
	}
	if len(timeOfDay) == 5 { // HH:MM
		timeOfDay += ":00"
	}
	joined := date + " " + timeOfDay
	if !localTimestampRe.MatchString(joined) {
		return ""
	}
	return joined
}

// DateOnly returns the YYYY-MM-DD part of a vendor date value, or "" when
// the value has no usable date.
func DateOnly(v string) string {
	v = strings.TrimSpace(v)
	if i := strings.IndexByte(v, 'T'); i >= 0 {
		v = v[:i]
	}
	if len(v) != 10 {
		return ""
	}
	if _, err := time.Parse("2006-01-02", v); err != nil {
		return ""
	}
	return v
}

// DurationSeconds computes the elapsed seconds between two wall-clock
// time-of-day values on the same business date. Returns nil when either
// value does not parse or when later precedes earlier; a duration is never
// negative.
func DurationSeconds(earlier, later string) *int {
	a, errA := time.Parse("15:04:05", normalizeTimeOfDay(earlier))
	b, errB := time.Parse("15:04:05", normalizeTimeOfDay(later))
	if errA != nil || errB != nil {
		return nil
	}
	if b.Before(a) {
		return nil
	}
	secs := int(b.Sub(a).Seconds())
	return &secs
}

func normalizeTimeOfDay(s string) string {
	s = strings.TrimSpace(s)
	if len(s) == 5 { // HH:MM
		return s + ":00"
	}
	return s
}
