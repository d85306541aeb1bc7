// Package timecode parses the Time Code grammar from spec.md §3/§4.C:
// either a wall-clock "HH:MM", or one of SUNRISE/SUNSET/ZENITH optionally
// suffixed with +N/-N minutes.
package timecode

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Kind distinguishes a wall-clock time code from a solar-relative one.
type Kind int

const (
	Clock Kind = iota
	Sunrise
	Sunset
	Zenith
)

func (k Kind) String() string {
	switch k {
	case Clock:
		return "clock"
	case Sunrise:
		return "sunrise"
	case Sunset:
		return "sunset"
	case Zenith:
		return "zenith"
	default:
		return "unknown"
	}
}

// TimeCode is a parsed, validated Time Code. Zero value is not meaningful;
// always construct via Parse.
type TimeCode struct {
	Kind Kind

	// Valid when Kind == Clock.
	Hour, Minute int

	// Valid (and otherwise zero) when Kind is a solar kind: the +N/-N
	// minute offset from the anchor, defaulting to 0.
	OffsetMinutes int

	raw string
}

// String returns the original text this TimeCode was parsed from.
func (c TimeCode) String() string { return c.raw }

var offsetPattern = regexp.MustCompile(`^(SUNRISE|SUNSET|ZENITH)([+-]\d+)?$`)

// Parse parses a Time Code. An unrecognized code returns an error rather
// than a default value — per spec.md §4.C, callers must skip the entry,
// not substitute a fallback.
func Parse(s string) (TimeCode, error) {
	raw := s
	s = strings.TrimSpace(s)

	if hh, mm, ok := parseClock(s); ok {
		return TimeCode{Kind: Clock, Hour: hh, Minute: mm, raw: raw}, nil
	}

	if m := offsetPattern.FindStringSubmatch(s); m != nil {
		var kind Kind
		switch m[1] {
		case "SUNRISE":
			kind = Sunrise
		case "SUNSET":
			kind = Sunset
		case "ZENITH":
			kind = Zenith
		}
		offset := 0
		if m[2] != "" {
			n, err := strconv.Atoi(m[2])
			if err != nil {
				return TimeCode{}, fmt.Errorf("malformed time code %q: bad offset", raw)
			}
			offset = n
		}
		return TimeCode{Kind: kind, OffsetMinutes: offset, raw: raw}, nil
	}

	return TimeCode{}, fmt.Errorf("malformed time code %q", raw)
}

// parseClock parses an "HH:MM" string with 0<=HH<=23, 0<=MM<=59.
func parseClock(s string) (hour, minute int, ok bool) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	hh, err := strconv.Atoi(parts[0])
	if err != nil || hh < 0 || hh > 23 {
		return 0, 0, false
	}
	mm, err := strconv.Atoi(parts[1])
	if err != nil || mm < 0 || mm > 59 {
		return 0, 0, false
	}
	return hh, mm, true
}
