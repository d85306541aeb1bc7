package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watermeister/wmcore/configdoc"
	"github.com/watermeister/wmcore/hardware"
	"github.com/watermeister/wmcore/recurrence"
	"github.com/watermeister/wmcore/registry"
	"github.com/watermeister/wmcore/solar"
	"github.com/watermeister/wmcore/timecode"
	"github.com/watermeister/wmcore/zone"
)

func testZones(t *testing.T) *zone.Set {
	t.Helper()
	set, err := zone.NewSet([]zone.Zone{
		{ID: 1, Output: "gpio5", Mode: zone.ModeManualScheduled},
		{ID: 2, Output: "gpio6", Mode: zone.ModeManualScheduled},
	})
	require.NoError(t, err)
	return set
}

func newTestEngine(t *testing.T, now *time.Time) (*Engine, *registry.Registry, *hardware.Simulator) {
	t.Helper()
	zones := testZones(t)
	sim := hardware.NewSimulator(zones, nil)
	require.NoError(t, sim.Initialise())

	store := registry.NewStore(filepath.Join(t.TempDir(), "active_runs.json"))
	clock := func() time.Time { return *now }
	reg := registry.New(sim, store, clock, nil)

	loc := solar.Location{Latitude: 40.7128, Longitude: -74.0060, Zone: time.UTC}
	e := New(zones, reg, solar.NewResolver(), loc, 1.0, clock, nil)
	return e, reg, sim
}

func mustTimeCode(t *testing.T, s string) timecode.TimeCode {
	t.Helper()
	c, err := timecode.Parse(s)
	require.NoError(t, err)
	return c
}

// TestEngine_ScheduledDailyRun implements spec.md §8 scenario 1.
func TestEngine_ScheduledDailyRun(t *testing.T) {
	now := time.Date(2026, 7, 31, 6, 59, 30, 0, time.UTC)
	e, reg, _ := newTestEngine(t, &now)

	e.ReloadSchedule(
		map[zone.ID]recurrence.Entry{1: {Period: recurrence.Daily, Cycles: 1}},
		map[zone.ID][]configdoc.Window{1: {{Start: mustTimeCode(t, "07:00"), Duration: 1 * time.Minute}}},
	)

	e.evaluateSchedule(now)
	assert.False(t, reg.IsActive(1), "must not be active before the scheduled start")

	now = time.Date(2026, 7, 31, 7, 0, 10, 0, time.UTC)
	e.evaluateSchedule(now)
	require.True(t, reg.IsActive(1))
	run, _ := reg.Query(1, now)
	remaining := run.Remaining(now)
	assert.True(t, remaining >= 49*time.Second && remaining <= 60*time.Second, "remaining=%s", remaining)

	now = time.Date(2026, 7, 31, 7, 1, 10, 0, time.UTC)
	reg.ExpireDue(now)
	assert.False(t, reg.IsActive(1))
}

// TestEngine_CatchUpAfterOutage implements spec.md §8 scenario 2 in
// spirit: an entry whose window opened before "now" but has not yet
// closed is started for its remaining duration (4 minutes into a
// 10-minute window started at 20:15, leaving 6 minutes).
func TestEngine_CatchUpAfterOutage(t *testing.T) {
	now := time.Date(2026, 7, 31, 20, 19, 0, 0, time.UTC)
	e, reg, sim := newTestEngine(t, &now)

	e.ReloadSchedule(
		map[zone.ID]recurrence.Entry{2: {Period: recurrence.Daily, Cycles: 1}},
		map[zone.ID][]configdoc.Window{2: {{Start: mustTimeCode(t, "20:15"), Duration: 10 * time.Minute}}},
	)

	e.catchUpMissedSchedule(now)

	require.True(t, reg.IsActive(2))
	run, _ := reg.Query(2, now)
	remaining := run.Remaining(now)
	assert.True(t, remaining >= 5*time.Minute && remaining <= 6*time.Minute, "remaining=%s", remaining)

	on, err := sim.Read(2)
	require.NoError(t, err)
	assert.True(t, on)
}

// TestEngine_CatchUpSkipsEntirelyMissedEvents covers spec.md §4.F:
// "If start + duration <= now: skip — missed entirely."
func TestEngine_CatchUpSkipsEntirelyMissedEvents(t *testing.T) {
	now := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)
	e, reg, _ := newTestEngine(t, &now)

	e.ReloadSchedule(
		map[zone.ID]recurrence.Entry{1: {Period: recurrence.Daily, Cycles: 1}},
		map[zone.ID][]configdoc.Window{1: {{Start: mustTimeCode(t, "07:00"), Duration: 1 * time.Minute}}},
	)

	e.catchUpMissedSchedule(now)
	assert.False(t, reg.IsActive(1))
}

// TestEngine_CancelSuppressesRestart implements spec.md §8 scenario 4.
func TestEngine_CancelSuppressesRestart(t *testing.T) {
	now := time.Date(2026, 7, 31, 9, 5, 0, 0, time.UTC)
	e, reg, _ := newTestEngine(t, &now)

	e.ReloadSchedule(
		map[zone.ID]recurrence.Entry{1: {Period: recurrence.Daily, Cycles: 1}},
		map[zone.ID][]configdoc.Window{1: {{Start: mustTimeCode(t, "09:00"), Duration: 20 * time.Minute}}},
	)

	_, err := reg.Start(1, 20*time.Minute, registry.Scheduled)
	require.NoError(t, err)
	require.NoError(t, e.StopManual(1))

	e.evaluateSchedule(now)
	assert.False(t, reg.IsActive(1), "cancelled zone must not restart within the same window")
}

func TestEngine_EmergencyStopAllLeavesSnapshotIntact(t *testing.T) {
	now := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)
	e, reg, sim := newTestEngine(t, &now)

	_, err := reg.Start(1, 2*time.Minute, registry.Scheduled)
	require.NoError(t, err)
	_, err = reg.Start(2, 2*time.Minute, registry.Scheduled)
	require.NoError(t, err)

	require.NoError(t, e.EmergencyStopAll())

	for _, id := range []zone.ID{1, 2} {
		on, err := sim.Read(id)
		require.NoError(t, err)
		assert.False(t, on)
	}
}

func TestEngine_StartManualRejectsNonSchedulableZone(t *testing.T) {
	now := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)
	zones, err := zone.NewSet([]zone.Zone{
		{ID: 1, Output: "gpio5", Mode: zone.ModeManualScheduled},
		{ID: 8, Output: "gpio26", Mode: zone.ModeManualScheduled, IsPump: true},
	})
	require.NoError(t, err)

	sim := hardware.NewSimulator(zones, nil)
	require.NoError(t, sim.Initialise())
	store := registry.NewStore(filepath.Join(t.TempDir(), "active_runs.json"))
	clock := func() time.Time { return now }
	reg := registry.New(sim, store, clock, nil)
	loc := solar.Location{Latitude: 0, Longitude: 0, Zone: time.UTC}
	e := New(zones, reg, solar.NewResolver(), loc, 1.0, clock, nil)

	assert.Error(t, e.StartManual(8, 60))
}

func TestEngine_RunHonorsContextCancellation(t *testing.T) {
	now := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)
	e, _, _ := newTestEngine(t, &now)

	ctx, cancel := context.WithCancel(context.Background())
	doneCh := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(doneCh)
	}()

	cancel()
	select {
	case <-doneCh:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestRestoreSnapshot_DiscardsExpiredEntries(t *testing.T) {
	now := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)
	zones := testZones(t)
	sim := hardware.NewSimulator(zones, nil)
	require.NoError(t, sim.Initialise())
	store := registry.NewStore(filepath.Join(t.TempDir(), "active_runs.json"))
	clock := func() time.Time { return now }
	reg := registry.New(sim, store, clock, nil)

	snap := map[zone.ID]registry.SnapshotEntry{
		1: {End: now.Add(5 * time.Minute), Origin: registry.Scheduled},
		2: {End: now.Add(-1 * time.Minute), Origin: registry.Scheduled},
	}

	RestoreSnapshot(reg, snap, now)

	assert.True(t, reg.IsActive(1))
	assert.False(t, reg.IsActive(2))
}
