package domain

import (
	"regexp"
	"strings"
	"time"
)

// offsetSuffix matches an explicit ±HH:MM timezone offset at the end of a
// timestamp.
var offsetSuffix = regexp.MustCompile(`[+-]\d{2}:\d{2}$`)

// NormalizeTimestamp canonicalizes a timestamp received from the channel
// into ISO-8601. The transport emits either a space-separated date-time,
// a proper ISO instant, or nothing at all:
//
//   - "2024-01-05 10:00:00"       -> "2024-01-05T10:00:00Z"
//   - "2024-01-05T10:00:00+05:30" -> unchanged
//   - ""                          -> now, in RFC 3339 UTC
//
// Inputs that already carry a Z or an explicit offset are preserved as-is.
func NormalizeTimestamp(raw string, now func() time.Time) string {
	if now == nil {
		now = time.Now
	}
	s := strings.TrimSpace(raw)
	if s == "" {
		return now().UTC().Format(time.RFC3339)
	}
	s = strings.Replace(s, " ", "T", 1)
	if strings.HasSuffix(s, "Z") || offsetSuffix.MatchString(s) {
		return s
	}
	return s + "Z"
}
