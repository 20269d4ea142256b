package period

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var monthIndex = map[string]int{
	"jan": 1, "feb": 2, "mar": 3, "apr": 4, "may": 5, "jun": 6,
	"jul": 7, "aug": 8, "sep": 9, "oct": 10, "nov": 11, "dec": 12,
}

// monthName matches an abbreviation or the full month name, never a longer word.
const monthName = `(jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)`

var (
	monthYearPattern = regexp.MustCompile(`(?i)(?:^|[^A-Za-z])` + monthName + `[_\-' ]?(\d{4}|\d{2})(?:\D|$)`)
	yearMonthPattern = regexp.MustCompile(`(?i)(?:^|\D)(\d{4})[_\-' ]?` + monthName + `(?:[^A-Za-z]|$)`)
)

// ParseKey extracts a chronological ordinal (year*12 + month) from a period
// key such as "mar_2025", "Mar'25" or "2025-jun". Two digit years map to 20yy.
// The month must stand on its own next to the year, so "summary_2026" does not
// parse.
func ParseKey(key string) (int, bool) {
	if m := monthYearPattern.FindStringSubmatch(key); m != nil {
		return ordinal(m[1], m[2])
	}
	if m := yearMonthPattern.FindStringSubmatch(key); m != nil {
		return ordinal(m[2], m[1])
	}
	return 0, false
}

func ordinal(month, year string) (int, bool) {
	mi, ok := monthIndex[strings.ToLower(month)[:3]]
	if !ok {
		return 0, false
	}
	y, err := strconv.Atoi(year)
	if err != nil {
		return 0, false
	}
	if len(year) == 2 {
		y += 2000
	}
	return y*12 + mi, true
}

// LatestKey returns the chronologically latest parseable key. When no key
// parses it falls back to the first key in sorted order. It returns false only
// for an empty set.
func LatestKey(keys []string) (string, bool) {
	if len(keys) == 0 {
		return "", false
	}
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	best, bestOrd, parsed := sorted[0], 0, false
	for _, key := range sorted {
		ord, ok := ParseKey(key)
		if !ok {
			continue
		}
		if !parsed || ord > bestOrd {
			best, bestOrd, parsed = key, ord, true
		}
	}
	return best, true
}

// Resolve applies the selection precedence: a stored key, then the backend's
// current key, then the latest parseable key, then the first key. Only keys
// present in available are accepted.
func Resolve(available map[string]string, stored, backendCurrent string) (string, bool) {
	if _, ok := available[stored]; ok && stored != "" {
		return stored, true
	}
	if _, ok := available[backendCurrent]; ok && backendCurrent != "" {
		return backendCurrent, true
	}
	keys := make([]string, 0, len(available))
	for k := range available {
		keys = append(keys, k)
	}
	return LatestKey(keys)
}
