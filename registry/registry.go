// Package registry implements the Active-Run Registry (spec.md §4.E): the
// in-memory truth about which zones are energised, when each run ends,
// and whether it is manual or scheduled — persisted to disk on every
// mutation so a restart can recover.
package registry

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Workiva/go-datastructures/queue"
	"github.com/google/uuid"

	"github.com/watermeister/wmcore/errs"
	"github.com/watermeister/wmcore/hardware"
	"github.com/watermeister/wmcore/zone"
)

// Origin distinguishes a manually started run from a scheduler-started one.
type Origin int

const (
	Manual Origin = iota
	Scheduled
)

func (o Origin) String() string {
	if o == Manual {
		return "manual"
	}
	return "scheduled"
}

// StopReason records why a run ended, for logging and for deciding
// whether the zone enters the Cancellation Set.
type StopReason int

const (
	ReasonExpired StopReason = iota
	ReasonManualCancel
	ReasonEmergency
	ReasonHardwareFailure
)

// Run is an Active Run (spec.md §3).
type Run struct {
	Zone          zone.ID
	Start         time.Time
	End           time.Time
	Origin        Origin
	CorrelationID uuid.UUID // log-correlation only; not part of the persisted identity
	HardwareError bool      // annotated when the driver failed to honor this run (spec.md §7)
}

// Remaining returns the seconds left in the run as of now. Negative once
// the run is past its end instant.
func (r Run) Remaining(now time.Time) time.Duration {
	return r.End.Sub(now)
}

// gapBetweenExpiries is the brief pause spec.md §4.E asks for between
// consecutive stops within one ExpireDue call, so pump inspection always
// sees a stable hardware state.
const gapBetweenExpiries = 100 * time.Millisecond

// Registry is the Active-Run Registry. All map mutations happen under mu;
// hardware operations and persistence are never performed while mu is
// held (spec.md §4.E locking discipline).
type Registry struct {
	mu        sync.Mutex
	runs      map[zone.ID]Run
	cancelled map[zone.ID]struct{} // Cancellation Set

	driver hardware.Driver // pump-coupled
	store  *Store          // snapshot persistence
	clock  func() time.Time
	log    *slog.Logger
}

// New builds an empty Registry. driver should already be pump-coupled
// (see package pump) — the registry does not know about pump rules.
func New(driver hardware.Driver, store *Store, clock func() time.Time, log *slog.Logger) *Registry {
	if clock == nil {
		clock = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		runs:      make(map[zone.ID]Run),
		cancelled: make(map[zone.ID]struct{}),
		driver:    driver,
		store:     store,
		clock:     clock,
		log:       log,
	}
}

// Start begins a run for zone id, origin o, lasting duration. Returns
// errs.ErrOverlap if the zone already has an active run (spec.md §7,
// §8 scenario 6): the existing run is left untouched and no snapshot
// mutation occurs.
func (r *Registry) Start(id zone.ID, duration time.Duration, o Origin) (Run, error) {
	now := r.clock()

	r.mu.Lock()
	if _, active := r.runs[id]; active {
		r.mu.Unlock()
		return Run{}, errs.New(errs.KindOverlap, "registry.Start", fmt.Errorf("zone %d already has an active run", id))
	}

	run := Run{
		Zone:          id,
		Start:         now,
		End:           now.Add(duration),
		Origin:        o,
		CorrelationID: uuid.New(),
	}
	r.runs[id] = run
	delete(r.cancelled, id)
	snapshotCopy := r.copyRunsLocked()
	r.mu.Unlock()

	if err := r.setHardwareWithRetry(id, true); err != nil {
		r.markHardwareFailure(id, err)
		return run, err
	}

	r.persist(snapshotCopy)
	r.log.Info("zone started", "zone_id", id, "origin", o, "end", run.End, "correlation_id", run.CorrelationID)
	return run, nil
}

// StartRemaining restores or resumes a run so that it ends at a
// previously-computed absolute end instant, used by catch-up and crash
// recovery (spec.md §4.F). It bypasses the overlap check by design: it is
// only ever called for zones the caller has already confirmed are not
// currently active.
func (r *Registry) StartRemaining(id zone.ID, end time.Time, o Origin) (Run, error) {
	now := r.clock()
	run := Run{
		Zone:          id,
		Start:         now,
		End:           end,
		Origin:        o,
		CorrelationID: uuid.New(),
	}

	r.mu.Lock()
	r.runs[id] = run
	delete(r.cancelled, id)
	snapshotCopy := r.copyRunsLocked()
	r.mu.Unlock()

	if err := r.setHardwareWithRetry(id, true); err != nil {
		r.markHardwareFailure(id, err)
		return run, err
	}

	r.persist(snapshotCopy)
	return run, nil
}

// Stop ends zone id's active run, if any, for the given reason. Stopping
// a zone with no active run is a no-op (spec.md §8 boundary: cancelling a
// run whose end is already past must not error).
func (r *Registry) Stop(id zone.ID, reason StopReason) error {
	r.mu.Lock()
	_, existed := r.runs[id]
	delete(r.runs, id)
	if reason == ReasonManualCancel {
		r.cancelled[id] = struct{}{}
	}
	snapshotCopy := r.copyRunsLocked()
	r.mu.Unlock()

	if !existed {
		return nil
	}

	if err := r.setHardwareWithRetry(id, false); err != nil {
		// A failure to stop is critical (spec.md §7): the run stays
		// removed from the registry (the operator's intent wins) but the
		// hardware error is surfaced so an emergency-stop escalation can
		// be offered.
		r.persist(snapshotCopy)
		return err
	}

	r.persist(snapshotCopy)
	r.log.Info("zone stopped", "zone_id", id, "reason", reason)
	return nil
}

// runItem adapts a Run to queue.Item so ExpireDue can drain due runs in
// ascending End order through a priority queue rather than a sort.
type runItem struct{ Run }

func (ri runItem) Compare(other queue.Item) int {
	o := other.(runItem)
	switch {
	case ri.End.Before(o.End):
		return 1
	case ri.End.After(o.End):
		return -1
	default:
		return 0
	}
}

// ExpireDue stops every run whose End is at or before now, in ascending
// End order, with a brief pause between consecutive stops so pump
// inspection always observes a settled state (spec.md §4.E/§4.F). The
// ordering itself is a textbook priority-queue drain: every due run is
// pushed in, then popped out lowest-End-first.
func (r *Registry) ExpireDue(now time.Time) []zone.ID {
	r.mu.Lock()
	items := make([]queue.Item, 0)
	for _, run := range r.runs {
		if !run.End.After(now) {
			items = append(items, runItem{run})
		}
	}
	r.mu.Unlock()

	pq := queue.NewPriorityQueue(len(items), false)
	if len(items) > 0 {
		if err := pq.Put(items...); err != nil {
			r.log.Warn("failed to queue expired runs", "error", err)
		}
	}

	stopped := make([]zone.ID, 0, len(items))
	for !pq.Empty() {
		popped, err := pq.Get(1)
		if err != nil {
			r.log.Warn("failed to drain expired-run queue", "error", err)
			break
		}
		run := popped[0].(runItem).Run

		if err := r.Stop(run.Zone, ReasonExpired); err != nil {
			r.log.Warn("failed to stop expired zone", "zone_id", run.Zone, "error", err)
			continue
		}
		stopped = append(stopped, run.Zone)
		if !pq.Empty() {
			time.Sleep(gapBetweenExpiries)
		}
	}
	return stopped
}

// EmergencyStopAll stops every active run with reason Emergency. Unlike
// Stop, it does NOT persist the (now-empty) mutation: spec.md §4.E/§5
// intentionally leave the on-disk snapshot holding the pre-stop entries,
// so a restart within each run's remaining window resumes it.
func (r *Registry) EmergencyStopAll() error {
	r.mu.Lock()
	ids := make([]zone.ID, 0, len(r.runs))
	for id := range r.runs {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	var firstErr error
	for _, id := range ids {
		r.mu.Lock()
		delete(r.runs, id)
		r.mu.Unlock()

		if err := r.setHardwareWithRetry(id, false); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	r.log.Warn("emergency stop executed", "zones", ids)
	return firstErr
}

// OrderlyShutdown persists the current snapshot first, then de-energises
// hardware, but leaves the in-memory map (and therefore the file just
// written) describing the runs as still active — so a subsequent restart
// restores them (spec.md §4.E/§5).
func (r *Registry) OrderlyShutdown() error {
	r.mu.Lock()
	snapshotCopy := r.copyRunsLocked()
	r.mu.Unlock()

	r.persist(snapshotCopy)

	if err := r.driver.ReleaseAll(); err != nil {
		return errs.New(errs.KindHardware, "registry.OrderlyShutdown", err)
	}
	r.log.Info("orderly shutdown complete")
	return nil
}

// Query returns a defensive copy of zone id's run, if any, along with
// remaining time computed against now.
func (r *Registry) Query(id zone.ID, now time.Time) (Run, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	return run, ok
}

// QueryAll returns a defensive copy of every active run.
func (r *Registry) QueryAll() map[zone.ID]Run {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.copyRunsLocked()
}

// IsCancelled reports whether id is in the Cancellation Set.
func (r *Registry) IsCancelled(id zone.ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.cancelled[id]
	return ok
}

// ClearCancellation removes id from the Cancellation Set — called once
// the relevant scheduled window has passed (spec.md §3 Cancellation Set).
func (r *Registry) ClearCancellation(id zone.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cancelled, id)
}

// IsActive reports whether zone id currently has an active run.
func (r *Registry) IsActive(id zone.ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.runs[id]
	return ok
}

func (r *Registry) copyRunsLocked() map[zone.ID]Run {
	out := make(map[zone.ID]Run, len(r.runs))
	for id, run := range r.runs {
		out[id] = run
	}
	return out
}

// setHardwareWithRetry applies a driver mutation once, and once more on
// failure (spec.md §7: "an immediate retry is attempted once").
func (r *Registry) setHardwareWithRetry(id zone.ID, on bool) error {
	err := r.driver.Set(id, on)
	if err == nil {
		return nil
	}
	r.log.Warn("hardware operation failed, retrying once", "zone_id", id, "on", on, "error", err)
	if err2 := r.driver.Set(id, on); err2 == nil {
		return nil
	}
	return errs.New(errs.KindHardware, "registry.setHardware", fmt.Errorf("zone %d: %w", id, err))
}

// markHardwareFailure force-stops a run in the registry after its
// hardware mutation persistently failed, so the operator sees the
// failure rather than a phantom active zone (spec.md §7).
func (r *Registry) markHardwareFailure(id zone.ID, cause error) {
	r.mu.Lock()
	if run, ok := r.runs[id]; ok {
		run.HardwareError = true
		r.runs[id] = run
	}
	r.mu.Unlock()

	r.log.Error("hardware failure forced run removal", "zone_id", id, "error", cause)

	r.mu.Lock()
	delete(r.runs, id)
	snapshotCopy := r.copyRunsLocked()
	r.mu.Unlock()
	r.persist(snapshotCopy)
}

func (r *Registry) persist(runs map[zone.ID]Run) {
	if r.store == nil {
		return
	}
	if err := r.store.Write(runs); err != nil {
		r.log.Error("failed to persist active-run snapshot", "error", err)
	}
}
