// Package solar implements the Time Resolver (spec.md §4.C): turning a
// Time Code plus a civil date and garden location into an absolute
// instant, with a small per-date cache of the day's solar anchors.
package solar

import (
	"fmt"
	"sync"
	"time"

	"github.com/dromara/carbon/v2"
	sunriselib "github.com/nathan-osman/go-sunrise"

	"github.com/watermeister/wmcore/timecode"
)

// Location is the garden's position and civil time zone.
type Location struct {
	Latitude  float64
	Longitude float64
	Zone      *time.Location
}

// anchors holds the three solar anchors for one civil date, already
// localized to the garden's civil time zone.
type anchors struct {
	sunrise time.Time
	noon    time.Time
	sunset  time.Time
}

// maxCachedDates bounds the solar anchor cache to the last 7 distinct
// dates, per spec.md §4.C.
const maxCachedDates = 7

// Resolver resolves Time Codes to absolute instants, caching the solar
// anchors it computes per civil date. Safe for concurrent use.
type Resolver struct {
	mu    sync.Mutex
	cache map[string]anchors
	order []string // insertion order, oldest first, for bounded eviction
}

// NewResolver returns a Resolver with an empty cache.
func NewResolver() *Resolver {
	return &Resolver{cache: make(map[string]anchors, maxCachedDates)}
}

// Resolve resolves code against date (interpreted as a civil date — only
// the year/month/day are used) in loc's time zone. Returns an error for a
// malformed or otherwise unresolvable code; callers must skip the entry
// rather than substitute a default (spec.md §4.C).
func (r *Resolver) Resolve(code timecode.TimeCode, date time.Time, loc Location) (time.Time, error) {
	switch code.Kind {
	case timecode.Clock:
		return r.resolveClock(code, date, loc), nil
	case timecode.Sunrise, timecode.Sunset, timecode.Zenith:
		return r.resolveSolar(code, date, loc)
	default:
		return time.Time{}, fmt.Errorf("unresolvable time code %q", code.String())
	}
}

func (r *Resolver) resolveClock(code timecode.TimeCode, date time.Time, loc Location) time.Time {
	y, m, d := date.In(loc.Zone).Date()
	return time.Date(y, m, d, code.Hour, code.Minute, 0, 0, loc.Zone)
}

func (r *Resolver) resolveSolar(code timecode.TimeCode, date time.Time, loc Location) (time.Time, error) {
	a, err := r.anchorsFor(date, loc)
	if err != nil {
		return time.Time{}, err
	}

	var anchor time.Time
	switch code.Kind {
	case timecode.Sunrise:
		anchor = a.sunrise
	case timecode.Sunset:
		anchor = a.sunset
	case timecode.Zenith:
		anchor = a.noon
	}

	if anchor.IsZero() {
		return time.Time{}, fmt.Errorf("solar data unavailable for %s on %s", code.Kind, date.Format("2006-01-02"))
	}

	return anchor.Add(time.Duration(code.OffsetMinutes) * time.Minute), nil
}

// anchorsFor returns the cached solar anchors for date's civil day,
// computing and caching them on a miss.
func (r *Resolver) anchorsFor(date time.Time, loc Location) (anchors, error) {
	key := cacheKey(date, loc)

	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.cache[key]; ok {
		return a, nil
	}

	a, err := computeAnchors(date, loc)
	if err != nil {
		return anchors{}, err
	}

	r.cache[key] = a
	r.order = append(r.order, key)
	if len(r.order) > maxCachedDates {
		evict := r.order[0]
		r.order = r.order[1:]
		delete(r.cache, evict)
	}

	return a, nil
}

// cacheKey ties a cached entry to both the civil date and the location,
// so a resolver reused across gardens (e.g. in tests) never serves a
// stale anchor for the wrong coordinates.
func cacheKey(date time.Time, loc Location) string {
	y, m, d := date.In(loc.Zone).Date()
	return fmt.Sprintf("%04d-%02d-%02d|%.6f|%.6f|%s", y, m, d, loc.Latitude, loc.Longitude, loc.Zone.String())
}

// computeAnchors runs the sunrise/sunset almanac computation and derives
// a solar-noon ("zenith") anchor as the midpoint between them — go-sunrise
// does not expose a dedicated solar-noon function, so the midpoint of the
// day's sunrise and sunset is used as a close approximation.
func computeAnchors(date time.Time, loc Location) (anchors, error) {
	civil := carbon.NewCarbon(date).SetTimezone(loc.Zone.String())
	if civil.Error != nil {
		return anchors{}, fmt.Errorf("invalid civil date: %w", civil.Error)
	}

	rise, set := sunriselib.SunriseSunset(
		loc.Latitude, loc.Longitude,
		civil.Year(), time.Month(civil.Month()), civil.Day(),
	)

	if rise.IsZero() || set.IsZero() {
		// Polar day/night: the sun does not rise or set on this date.
		return anchors{}, fmt.Errorf("no sunrise/sunset for %04d-%02d-%02d at (%.4f, %.4f)",
			civil.Year(), civil.Month(), civil.Day(), loc.Latitude, loc.Longitude)
	}

	rise = rise.In(loc.Zone)
	set = set.In(loc.Zone)
	noon := rise.Add(set.Sub(rise) / 2)

	return anchors{sunrise: rise, noon: noon, sunset: set}, nil
}
