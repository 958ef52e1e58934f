package feed

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05 Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	time.RFC822Z,
	time.RFC822,
	"2006/01/02 15:04:05",
	"2006/01/02",
	"2006/1/2",
	"2006-01-02",
	"January 2, 2006",
	"Jan 2, 2006",
}

// parseDate accepts the string layouts above or a numeric unix timestamp in
// seconds or milliseconds. Anything else yields now. Layouts without a zone
// are read as UTC.
func parseDate(v any, now time.Time) time.Time {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return now
		}
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return fromUnix(n, now)
		}
		for _, layout := range dateLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed
			}
		}
	case json.Number:
		if n, err := t.Float64(); err == nil {
			return fromUnix(n, now)
		}
	case float64:
		return fromUnix(t, now)
	}
	return now
}

func fromUnix(n float64, now time.Time) time.Time {
	if n <= 0 {
		return now
	}
	// Anything past 1e11 seconds is year 5138; treat it as milliseconds.
	if n >= 1e11 {
		return time.UnixMilli(int64(n)).UTC()
	}
	return time.Unix(int64(n), 0).UTC()
}
