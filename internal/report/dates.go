package report

import (
	"strings"
	"time"
)

var isoLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

var dayLayouts = []string{
	"2006-01-02",
	"Jan 2, 2006",
	"January 2, 2006",
	"Jan 2 2006",
	"2 Jan 2006",
}

var monthLayouts = []string{
	"Jan 2006",
	"January 2006",
	"2006-01",
}

// ParseISO8601 accepts RFC 3339 timestamps with or without fractional
// seconds. Timestamps without a zone are taken as UTC.
func ParseISO8601(s string) (time.Time, bool) {
	return parseWith(strings.TrimSpace(s), isoLayouts)
}

// ParseDate accepts ISO 8601 timestamps, bare dates and "Dec 20, 2025".
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if t, ok := parseWith(s, isoLayouts); ok {
		return t, true
	}
	return parseWith(s, dayLayouts)
}

// ParseMonth accepts "Dec 2025", "2025-12" and anything ParseDate accepts.
func ParseMonth(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if t, ok := parseWith(s, monthLayouts); ok {
		return t, true
	}
	return ParseDate(s)
}

func parseWith(s string, layouts []string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, l := range layouts {
		if t, err := time.ParseInLocation(l, s, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
