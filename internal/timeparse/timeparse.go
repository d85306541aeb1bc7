// Package timeparse holds small textual parsing helpers shared by the
// config-document and recurrence layers. Unlike the teacher's
// ParseTime/ParseDuration, every function here returns an error instead
// of panicking — a malformed document must be rejected, not crash the
// process.
package timeparse

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration parses an "HH:MM:SS" duration string, as used by Schedule
// Entry.Duration (spec.md §3). Bounds (1s <= d < 24h) are the caller's
// responsibility to check — this function only parses the grammar.
func Duration(s string) (time.Duration, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("malformed duration %q: want HH:MM:SS", s)
	}

	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 {
		return 0, fmt.Errorf("malformed duration %q: bad hours", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("malformed duration %q: bad minutes", s)
	}
	sec, err := strconv.Atoi(parts[2])
	if err != nil || sec < 0 || sec > 59 {
		return 0, fmt.Errorf("malformed duration %q: bad seconds", s)
	}

	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec)*time.Second, nil
}

// Date parses a "YYYY-MM-DD" civil date, as used by Schedule Entry's
// anchor date ("startDay" in the document, spec.md §6).
func Date(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed date %q: want YYYY-MM-DD", s)
	}
	return t, nil
}
