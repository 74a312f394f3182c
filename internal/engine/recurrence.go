package engine

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// freqPattern accepts "3 weeks", "weekly", "2 Month", "day" and friends: an
// optional interval count followed by a unit, plural tolerated.
var freqPattern = regexp.MustCompile(`^(?:(\d+)\s*)?(daily|weekly|monthly|yearly|day|week|month|year)s?$`)

// parseFrequency normalizes a repeat-frequency string into an interval count
// and a canonical unit. ok is false when the string does not parse; callers
// treat that as "no expansion", not as an error. The count is returned as
// written, so "0 days" yields count 0 for the caller to reject.
func parseFrequency(freq string) (count int, unit string, ok bool) {
	m := freqPattern.FindStringSubmatch(strings.ToLower(strings.TrimSpace(freq)))
	if m == nil {
		return 0, "", false
	}
	count = 1
	if m[1] != "" {
		count, _ = strconv.Atoi(m[1])
	}
	switch m[2] {
	case "daily", "day":
		unit = "day"
	case "weekly", "week":
		unit = "week"
	case "monthly", "month":
		unit = "month"
	case "yearly", "year":
		unit = "year"
	}
	return count, unit, true
}

func advance(t time.Time, count int, unit string) time.Time {
	switch unit {
	case "day":
		return t.AddDate(0, 0, count)
	case "week":
		return t.AddDate(0, 0, 7*count)
	case "month":
		return t.AddDate(0, count, 0)
	case "year":
		return t.AddDate(count, 0, 0)
	}
	return t
}

// expandOccurrences returns the start times of the recurring instances that
// follow base: strictly after base, at most until (inclusive). An unparseable
// frequency or a non-positive interval yields no occurrences. truncated
// reports that the horizon holds more occurrences than limit allows.
func expandOccurrences(base time.Time, freq string, until time.Time, limit int) (starts []time.Time, truncated bool) {
	count, unit, ok := parseFrequency(freq)
	if !ok || count < 1 {
		return nil, false
	}
	next := advance(base, count, unit)
	for !next.After(until) {
		if limit > 0 && len(starts) >= limit {
			return starts, true
		}
		starts = append(starts, next)
		next = advance(next, count, unit)
	}
	return starts, false
}
