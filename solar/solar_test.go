package solar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watermeister/wmcore/timecode"
)

func testLocation(t *testing.T) Location {
	t.Helper()
	tz, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return Location{Latitude: 40.7128, Longitude: -74.0060, Zone: tz}
}

func mustParse(t *testing.T, s string) timecode.TimeCode {
	t.Helper()
	c, err := timecode.Parse(s)
	require.NoError(t, err)
	return c
}

func TestResolve_Clock(t *testing.T) {
	r := NewResolver()
	loc := testLocation(t)
	date := time.Date(2026, 7, 15, 0, 0, 0, 0, loc.Zone)

	got, err := r.Resolve(mustParse(t, "07:00"), date, loc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 7, 15, 7, 0, 0, 0, loc.Zone), got)
}

func TestResolve_SunOffsetsAreIdentical(t *testing.T) {
	// spec.md §8: SUNRISE-0, SUNRISE+0 and SUNRISE resolve to identical instants.
	r := NewResolver()
	loc := testLocation(t)
	date := time.Date(2026, 7, 15, 0, 0, 0, 0, loc.Zone)

	bare, err := r.Resolve(mustParse(t, "SUNRISE"), date, loc)
	require.NoError(t, err)
	minus, err := r.Resolve(mustParse(t, "SUNRISE-0"), date, loc)
	require.NoError(t, err)
	plus, err := r.Resolve(mustParse(t, "SUNRISE+0"), date, loc)
	require.NoError(t, err)

	assert.True(t, bare.Equal(minus))
	assert.True(t, bare.Equal(plus))
}

func TestResolve_SunOffsetAppliesMinutes(t *testing.T) {
	r := NewResolver()
	loc := testLocation(t)
	date := time.Date(2026, 7, 15, 0, 0, 0, 0, loc.Zone)

	base, err := r.Resolve(mustParse(t, "SUNSET"), date, loc)
	require.NoError(t, err)
	offset, err := r.Resolve(mustParse(t, "SUNSET-30"), date, loc)
	require.NoError(t, err)

	assert.Equal(t, -30*time.Minute, offset.Sub(base))
}

func TestResolve_CachedAcrossRepeatedCalls(t *testing.T) {
	// spec.md §8 invariant 5: re-resolving the same code on the same date
	// yields bit-identical instants while the anchors are cached.
	r := NewResolver()
	loc := testLocation(t)
	date := time.Date(2026, 7, 15, 0, 0, 0, 0, loc.Zone)

	first, err := r.Resolve(mustParse(t, "ZENITH"), date, loc)
	require.NoError(t, err)
	second, err := r.Resolve(mustParse(t, "ZENITH"), date, loc)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, r.cache, 1)
}

func TestResolve_CacheBoundedToSevenDates(t *testing.T) {
	r := NewResolver()
	loc := testLocation(t)

	for day := 1; day <= 10; day++ {
		date := time.Date(2026, 7, day, 0, 0, 0, 0, loc.Zone)
		_, err := r.Resolve(mustParse(t, "SUNRISE"), date, loc)
		require.NoError(t, err)
	}

	assert.LessOrEqual(t, len(r.cache), maxCachedDates)
	// The 3 oldest dates (July 1-3) should have been evicted.
	_, stillCached := r.cache[cacheKey(time.Date(2026, 7, 1, 0, 0, 0, 0, loc.Zone), loc)]
	assert.False(t, stillCached)
}

func TestResolve_ZenithBetweenSunriseAndSunset(t *testing.T) {
	r := NewResolver()
	loc := testLocation(t)
	date := time.Date(2026, 7, 15, 0, 0, 0, 0, loc.Zone)

	rise, err := r.Resolve(mustParse(t, "SUNRISE"), date, loc)
	require.NoError(t, err)
	zenith, err := r.Resolve(mustParse(t, "ZENITH"), date, loc)
	require.NoError(t, err)
	set, err := r.Resolve(mustParse(t, "SUNSET"), date, loc)
	require.NoError(t, err)

	assert.True(t, zenith.After(rise))
	assert.True(t, zenith.Before(set))
}
