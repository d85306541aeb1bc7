// Package engine implements the Run Loop (spec.md §4.F): the 1 Hz
// worker that expires finished runs, evaluates the schedule for new
// starts, refreshes countdowns, and performs daily housekeeping — plus
// the startup catch-up procedure that restores persisted runs and makes
// up missed events after downtime.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Workiva/go-datastructures/queue"

	"github.com/watermeister/wmcore/configdoc"
	"github.com/watermeister/wmcore/errs"
	"github.com/watermeister/wmcore/recurrence"
	"github.com/watermeister/wmcore/registry"
	"github.com/watermeister/wmcore/solar"
	"github.com/watermeister/wmcore/zone"
)

// tickInterval is the Run Loop's cadence (spec.md §4.F: "~1 Hz").
const tickInterval = 1 * time.Second

// evaluateEveryNTicks makes schedule evaluation run at ~0.5 Hz (spec.md
// §4.F step 2: "every 2nd tick is acceptable").
const evaluateEveryNTicks = 2

// housekeepingCheckEveryNTicks checks for the daily housekeeping hour
// once a minute, matching the original source's 60-tick cadence.
const housekeepingCheckEveryNTicks = 60

// evaluationWindow is the half-open window during which a resolved start
// instant is still eligible to fire this tick (spec.md §4.F / §9:
// "[start, start+60s) as a half-open window").
const evaluationWindow = 60 * time.Second

// catchUpFloor is the minimum remaining duration a missed-but-still-open
// event must have to be worth starting at all (spec.md §4.F: "provided
// at least a few seconds remain").
const catchUpFloor = 3 * time.Second

// catchUpTimeout bounds the startup catch-up phase in wall-clock time
// (spec.md §4.F: "e.g. 30 s").
const catchUpTimeout = 30 * time.Second

// catchUpMaxEntriesPerZone bounds per-zone catch-up work (spec.md §4.F:
// "e.g. cap at 5 entries per zone").
const catchUpMaxEntriesPerZone = 5

// housekeepingHour is the local hour at or after which the daily
// smart-refresh hook fires (spec.md §4.F step 4: "at or after 06:00 local").
const housekeepingHour = 6

// SmartRefreshFunc is the supplemented hook spec.md §4.F step 4 names but
// leaves out of scope: the engine only invokes it, once per eligible
// zone, once per civil day.
type SmartRefreshFunc func(zone.ID)

// Clock abstracts time.Now so tests can drive the loop deterministically.
type Clock func() time.Time

// Schedule is one zone's recurrence entry plus its resolved windows, as
// produced by configdoc.ScheduleDocument.Entries.
type Schedule struct {
	Entry   recurrence.Entry
	Windows []configdoc.Window
}

// Engine wires together every component named in spec.md §2 into the
// Run Loop.
type Engine struct {
	zones    *zone.Set
	reg      *registry.Registry
	resolver *solar.Resolver
	location solar.Location

	clock Clock
	log   *slog.Logger

	mu            sync.RWMutex
	schedules     map[zone.ID]Schedule
	multiplier    float64
	lastHousekeep time.Time // civil date of the last housekeeping invocation, zero if none yet
	smartRefresh  SmartRefreshFunc

	tickCount uint64

	stop chan struct{}
	done chan struct{}
}

// New builds an Engine. zones, reg, and location must already reflect a
// successfully loaded configuration; schedules may be swapped later via
// ReloadSchedule.
func New(zones *zone.Set, reg *registry.Registry, resolver *solar.Resolver, location solar.Location, multiplier float64, clock Clock, log *slog.Logger) *Engine {
	if clock == nil {
		clock = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		zones:      zones,
		reg:        reg,
		resolver:   resolver,
		location:   location,
		clock:      clock,
		log:        log,
		schedules:  make(map[zone.ID]Schedule),
		multiplier: multiplier,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// SetSmartRefresh registers the out-of-scope "smart refresh" callback
// (spec.md §4.F step 4). Passing nil disables the hook.
func (e *Engine) SetSmartRefresh(fn SmartRefreshFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.smartRefresh = fn
}

// ReloadSchedule atomically replaces every zone's recurrence entry and
// resolved windows (spec.md §3 Lifecycle: "replaced atomically when the
// schedule file is reloaded").
func (e *Engine) ReloadSchedule(entries map[zone.ID]recurrence.Entry, windows map[zone.ID][]configdoc.Window) {
	schedules := make(map[zone.ID]Schedule, len(entries))
	for id, entry := range entries {
		schedules[id] = Schedule{Entry: entry, Windows: windows[id]}
	}

	e.mu.Lock()
	e.schedules = schedules
	e.mu.Unlock()
}

// ReloadSettings atomically replaces the garden location and duration
// multiplier (spec.md §3: "a mutation requires an explicit reload").
func (e *Engine) ReloadSettings(location solar.Location, multiplier float64) {
	e.mu.Lock()
	e.location = location
	e.multiplier = multiplier
	e.mu.Unlock()
}

func (e *Engine) snapshotSettings() (solar.Location, float64, map[zone.ID]Schedule) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	schedules := make(map[zone.ID]Schedule, len(e.schedules))
	for id, s := range e.schedules {
		schedules[id] = s
	}
	return e.location, e.multiplier, schedules
}

// ZoneStatus is the Status surface's per-zone record (spec.md §6:
// get_zone_status).
type ZoneStatus struct {
	Active    bool
	Origin    registry.Origin
	Remaining time.Duration
	EndTime   time.Time // zero when !Active
}

// GetZoneStatus returns zone id's current status.
func (e *Engine) GetZoneStatus(id zone.ID) ZoneStatus {
	now := e.clock()
	run, active := e.reg.Query(id, now)
	if !active {
		return ZoneStatus{}
	}
	return ZoneStatus{Active: true, Origin: run.Origin, Remaining: run.Remaining(now), EndTime: run.End}
}

// GetAllZoneStatus returns every zone's current status.
func (e *Engine) GetAllZoneStatus() map[zone.ID]ZoneStatus {
	now := e.clock()
	all := e.reg.QueryAll()
	out := make(map[zone.ID]ZoneStatus, len(all))
	for id, run := range all {
		out[id] = ZoneStatus{Active: true, Origin: run.Origin, Remaining: run.Remaining(now), EndTime: run.End}
	}
	return out
}

// StartManual starts zone id for durationSeconds, origin=manual (spec.md
// §6: start_manual). Manual durations are taken literally — invariant 3
// (spec.md §8) scales only scheduled runs by the duration multiplier.
func (e *Engine) StartManual(id zone.ID, durationSeconds int) error {
	if !e.zones.Schedulable(id) {
		return errs.New(errs.KindValidation, "engine.StartManual", fmt.Errorf("zone %d is not schedulable", id))
	}
	_, err := e.reg.Start(id, time.Duration(durationSeconds)*time.Second, registry.Manual)
	return err
}

// StopManual cancels zone id's active run (spec.md §6: stop_manual).
func (e *Engine) StopManual(id zone.ID) error {
	return e.reg.Stop(id, registry.ReasonManualCancel)
}

// EmergencyStopAll immediately de-energises every zone without touching
// the persisted snapshot (spec.md §6: emergency_stop_all).
func (e *Engine) EmergencyStopAll() error {
	return e.reg.EmergencyStopAll()
}

// Run executes the startup catch-up procedure and then drives the Run
// Loop at tickInterval until ctx is cancelled or Stop is called.
func (e *Engine) Run(ctx context.Context) {
	e.catchUp(e.clock())

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	defer close(e.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stop:
			return
		case <-ticker.C:
			e.tick()
		}
	}
}

// Stop signals Run to return and waits for it to do so.
func (e *Engine) Stop() {
	close(e.stop)
	<-e.done
}

// tick runs one iteration of the loop (spec.md §4.F).
func (e *Engine) tick() {
	defer func() {
		// The loop never crashes the process (spec.md §7): a single
		// tick's failure is logged and the next tick proceeds.
		if r := recover(); r != nil {
			e.log.Error("run loop tick panicked", "recovered", r)
		}
	}()

	e.tickCount++
	now := e.clock()

	stopped := e.reg.ExpireDue(now)
	if len(stopped) > 0 {
		e.log.Info("expired runs", "zones", stopped)
	}

	if e.tickCount%evaluateEveryNTicks == 0 {
		e.evaluateSchedule(now)
	}

	if e.tickCount%housekeepingCheckEveryNTicks == 0 {
		e.runHousekeeping(now)
	}
}

// evaluateSchedule implements spec.md §4.F step 2.
// pendingStart is a candidate new run discovered during one pass of
// evaluateSchedule. It implements queue.Item so a tick with several
// zones becoming due at once starts them earliest-window-first rather
// than in map iteration order.
type pendingStart struct {
	zone     zone.ID
	start    time.Time
	duration time.Duration
}

func (p pendingStart) Compare(other queue.Item) int {
	o := other.(pendingStart)
	switch {
	case p.start.Before(o.start):
		return 1
	case p.start.After(o.start):
		return -1
	default:
		return 0
	}
}

func (e *Engine) evaluateSchedule(now time.Time) {
	location, multiplier, schedules := e.snapshotSettings()

	pending := make([]queue.Item, 0)

	for _, z := range e.zones.All() {
		if !e.zones.Schedulable(z.ID) {
			continue
		}
		sched, ok := schedules[z.ID]
		if !ok {
			continue
		}
		if e.reg.IsActive(z.ID) {
			continue
		}

		fires, err := recurrence.Evaluate(sched.Entry, now.In(location.Zone))
		if err != nil {
			e.log.Warn("recurrence evaluation failed", "zone_id", z.ID, "error", err)
			continue
		}
		if !fires {
			continue
		}

		if e.reg.IsCancelled(z.ID) {
			// Cancellation Set entries are erased once every window for
			// today has closed (spec.md §3), so tomorrow's occurrence
			// fires normally.
			if e.allWindowsClosed(sched, now, location, multiplier) {
				e.reg.ClearCancellation(z.ID)
			} else {
				continue
			}
		}

		for _, win := range sched.Windows {
			start, err := e.resolver.Resolve(win.Start, now, location)
			if err != nil {
				e.log.Warn("time code resolution failed", "zone_id", z.ID, "error", err)
				continue
			}

			elapsed := now.Sub(start)
			if elapsed < 0 || elapsed >= evaluationWindow {
				continue
			}

			pending = append(pending, pendingStart{
				zone:     z.ID,
				start:    start,
				duration: scale(win.Duration, multiplier),
			})
			break // at most one new start per zone per tick (spec.md §4.F)
		}
	}

	if len(pending) == 0 {
		return
	}

	pq := queue.NewPriorityQueue(len(pending), false)
	if err := pq.Put(pending...); err != nil {
		e.log.Warn("failed to queue pending starts", "error", err)
		return
	}
	for !pq.Empty() {
		popped, err := pq.Get(1)
		if err != nil {
			e.log.Warn("failed to drain pending-start queue", "error", err)
			return
		}
		p := popped[0].(pendingStart)
		if _, err := e.reg.Start(p.zone, p.duration, registry.Scheduled); err != nil {
			e.log.Warn("scheduled start failed", "zone_id", p.zone, "error", err)
		}
	}
}

// allWindowsClosed reports whether every resolved window in sched has
// already ended as of now, i.e. there is no remaining chance this zone
// could still be (re)started today.
func (e *Engine) allWindowsClosed(sched Schedule, now time.Time, location solar.Location, multiplier float64) bool {
	for _, win := range sched.Windows {
		start, err := e.resolver.Resolve(win.Start, now, location)
		if err != nil {
			continue
		}
		if now.Before(start.Add(scale(win.Duration, multiplier))) {
			return false
		}
	}
	return true
}

// runHousekeeping implements spec.md §4.F step 4.
func (e *Engine) runHousekeeping(now time.Time) {
	location, _, _ := e.snapshotSettings()
	local := now.In(location.Zone)

	e.mu.Lock()
	today := civilDate(local)
	if local.Hour() < housekeepingHour || sameCivilDate(e.lastHousekeep, today) {
		e.mu.Unlock()
		return
	}
	e.lastHousekeep = today
	fn := e.smartRefresh
	e.mu.Unlock()

	if fn == nil {
		return
	}
	for _, z := range e.zones.All() {
		if z.Mode == zone.ModeSmart {
			fn(z.ID)
		}
	}
}

// catchUp implements the second half of spec.md §4.F's startup catch-up
// procedure — starting events whose window is still partly open — bounded
// to catchUpTimeout in wall-clock time. Restoring the persisted Active-Run
// Snapshot itself (the procedure's first half) happens before Run is
// called, via RestoreSnapshot, because it needs the registry's Store
// which the Engine does not hold (see SPEC_FULL.md §10).
func (e *Engine) catchUp(now time.Time) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.catchUpMissedSchedule(now)
	}()

	select {
	case <-done:
	case <-time.After(catchUpTimeout):
		e.log.Warn("catch-up timed out, continuing without finishing it")
	}
}

// catchUpMissedSchedule starts events whose window is still partly open.
func (e *Engine) catchUpMissedSchedule(now time.Time) {
	location, multiplier, schedules := e.snapshotSettings()

	type candidate struct {
		zone zone.ID
		win  configdoc.Window
	}
	var candidates []candidate

	for _, z := range e.zones.All() {
		if !e.zones.Schedulable(z.ID) || e.reg.IsActive(z.ID) {
			continue
		}
		sched, ok := schedules[z.ID]
		if !ok {
			continue
		}
		fires, err := recurrence.Evaluate(sched.Entry, now.In(location.Zone))
		if err != nil || !fires {
			continue
		}

		count := 0
		for _, win := range sched.Windows {
			if count >= catchUpMaxEntriesPerZone {
				break
			}
			candidates = append(candidates, candidate{zone: z.ID, win: win})
			count++
		}
	}

	for _, c := range candidates {
		start, err := e.resolver.Resolve(c.win.Start, now, location)
		if err != nil {
			continue
		}

		duration := scale(c.win.Duration, multiplier)
		end := start.Add(duration)

		if now.Before(start) || !now.Before(end) {
			continue // not yet due, or missed entirely (spec.md §4.F)
		}

		remaining := end.Sub(now)
		if remaining < catchUpFloor {
			continue
		}

		if _, err := e.reg.StartRemaining(c.zone, end, registry.Scheduled); err != nil {
			e.log.Warn("catch-up start failed", "zone_id", c.zone, "error", err)
			continue
		}
		e.log.Info("Catch-up: Started missed event from outage", "zone_id", c.zone, "remaining", remaining)
	}
}

// RestoreSnapshot restores every entry in snap whose End is still in the
// future, energising hardware directly through the registry. Entries
// already past are discarded (spec.md §4.F). Called once before Run, by
// the caller that owns the registry's Store.
func RestoreSnapshot(reg *registry.Registry, snap map[zone.ID]registry.SnapshotEntry, now time.Time) {
	type pending struct {
		id  zone.ID
		end time.Time
	}
	ordered := make([]pending, 0, len(snap))
	for id, e := range snap {
		if e.End.After(now) {
			ordered = append(ordered, pending{id: id, end: e.End})
		}
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].end.Before(ordered[j].end) })

	for _, p := range ordered {
		origin := snap[p.id].Origin
		if _, err := reg.StartRemaining(p.id, p.end, origin); err != nil {
			continue
		}
	}
}

func scale(d time.Duration, multiplier float64) time.Duration {
	return time.Duration(float64(d) * multiplier)
}

func civilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func sameCivilDate(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}
