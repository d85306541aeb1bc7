// Package hardware implements the Hardware Driver (spec.md §4.A): the
// contract for setting a zone's physical output on or off and reading it
// back, with polarity handled here so the rest of the core only ever
// thinks in terms of "on"/"off".
package hardware

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/watermeister/wmcore/errs"
	"github.com/watermeister/wmcore/zone"
)

// Driver is the Hardware Driver contract. Implementations must make Set
// idempotent (setting an already-on zone is a no-op, not an error) and
// must de-energise every output after ReleaseAll.
type Driver interface {
	Initialise() error
	Set(id zone.ID, on bool) error
	Read(id zone.ID) (bool, error)
	ReleaseAll() error
}

// Simulator is an in-memory Driver implementation. It is the portable
// stand-in used wherever physical GPIO hardware is unavailable — e.g. in
// tests and on non-SBC development machines — grounded on the original
// system's gpio.py simulator fallback.
type Simulator struct {
	mu          sync.Mutex
	outputs     map[zone.ID]string // zone -> physical output identifier, for logging
	activeLow   map[zone.ID]bool
	state       map[zone.ID]bool // true == energised ("on"), independent of polarity
	initialised bool
	log         *slog.Logger
}

// NewSimulator builds a Simulator for the given zone set. Each zone's
// polarity (Zone.Active, true == active-low) is honored by Read/Set even
// though the simulator has no real electrical level to invert — the
// bookkeeping still exercises the same polarity-mapping code path a real
// driver would.
func NewSimulator(zones *zone.Set, log *slog.Logger) *Simulator {
	if log == nil {
		log = slog.Default()
	}
	outputs := make(map[zone.ID]string)
	activeLow := make(map[zone.ID]bool)
	for _, z := range zones.All() {
		outputs[z.ID] = z.Output
		activeLow[z.ID] = z.Active
	}
	return &Simulator{
		outputs:   outputs,
		activeLow: activeLow,
		state:     make(map[zone.ID]bool, len(outputs)),
		log:       log,
	}
}

func (s *Simulator) Initialise() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialised {
		return nil
	}
	for id := range s.outputs {
		s.state[id] = false
	}
	s.initialised = true
	s.log.Info("hardware initialised", "zones", len(s.outputs))
	return nil
}

// Set energises or de-energises a zone. It is idempotent: setting an
// already-on zone on (or an already-off zone off) succeeds without error
// and without emitting a redundant log line.
func (s *Simulator) Set(id zone.ID, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	output, ok := s.outputs[id]
	if !ok {
		return errs.New(errs.KindHardware, "hardware.Set", fmt.Errorf("zone %d has no configured output", id))
	}

	if s.state[id] == on {
		return nil
	}

	s.state[id] = on
	verb := "de-energised"
	if on {
		verb = "energised"
	}
	s.log.Info(verb+" zone output", "zone_id", id, "output", output, "active_low", s.activeLow[id])
	return nil
}

// Read returns the current logical ("on"/"off") state of a zone.
func (s *Simulator) Read(id zone.ID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.outputs[id]; !ok {
		return false, errs.New(errs.KindHardware, "hardware.Read", fmt.Errorf("zone %d has no configured output", id))
	}
	return s.state[id], nil
}

// ReleaseAll de-energises every configured output.
func (s *Simulator) ReleaseAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range s.outputs {
		s.state[id] = false
	}
	s.log.Warn("released all hardware outputs")
	return nil
}

// ReadAll returns the current logical state of every configured zone.
// This supplements spec.md §4.A's single-zone Read, mirroring the
// original system's get_all_zone_states(); the engine's status surface
// uses it to batch-verify hardware against registry state.
func ReadAll(d Driver, zones *zone.Set) (map[zone.ID]bool, error) {
	out := make(map[zone.ID]bool, len(zones.All()))
	for _, z := range zones.All() {
		on, err := d.Read(z.ID)
		if err != nil {
			return nil, err
		}
		out[z.ID] = on
	}
	return out, nil
}
