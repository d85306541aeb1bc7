// Package zone defines the Zone data model (spec.md §3) and the invariants
// a set of zones must satisfy before the engine will accept them.
package zone

import (
	"fmt"

	"github.com/watermeister/wmcore/errs"
)

// Mode is the operating mode of a zone.
type Mode int

const (
	// ModeDisabled zones carry no further state and are never scheduled.
	ModeDisabled Mode = iota
	// ModeManualScheduled zones run on their configured schedule and also
	// accept manual start/stop requests.
	ModeManualScheduled
	// ModeSmart zones are scheduled the same way, but their duration is
	// expected to be periodically recomputed by an out-of-scope
	// "smart refresh" collaborator (spec.md §4.F step 4).
	ModeSmart
)

func (m Mode) String() string {
	switch m {
	case ModeDisabled:
		return "disabled"
	case ModeManualScheduled:
		return "manual-scheduled"
	case ModeSmart:
		return "smart"
	default:
		return "unknown"
	}
}

// ID identifies a zone. Valid IDs are 1..N, N<=8 (spec.md §3).
type ID int

// Zone is a single numbered output.
type Zone struct {
	ID       ID
	Output   string // physical output identifier (GPIO pin name, relay channel, ...)
	Active   bool   // active-low (true) or active-high (false) polarity
	Mode     Mode
	IsPump   bool // true iff this zone is the designated pump zone
}

// Set is a validated collection of zones, keyed by ID.
type Set struct {
	zones map[ID]Zone
	pump  ID // 0 means "no pump designated"
}

const maxZones = 8

// NewSet validates zones against the invariants in spec.md §3:
//   - at most maxZones zones
//   - each output identifier used by exactly one zone
//   - at most one pump designation, and it must point to an existing
//     non-disabled zone
func NewSet(zones []Zone) (*Set, error) {
	if len(zones) == 0 {
		return nil, errs.New(errs.KindValidation, "zone.NewSet", fmt.Errorf("at least one zone is required"))
	}
	if len(zones) > maxZones {
		return nil, errs.New(errs.KindValidation, "zone.NewSet", fmt.Errorf("%d zones exceeds the maximum of %d", len(zones), maxZones))
	}

	byID := make(map[ID]Zone, len(zones))
	byOutput := make(map[string]ID, len(zones))
	var pump ID

	for _, z := range zones {
		if _, dup := byID[z.ID]; dup {
			return nil, errs.New(errs.KindValidation, "zone.NewSet", fmt.Errorf("duplicate zone id %d", z.ID))
		}
		if existing, dup := byOutput[z.Output]; dup {
			return nil, errs.New(errs.KindValidation, "zone.NewSet", fmt.Errorf("output %q used by both zone %d and zone %d", z.Output, existing, z.ID))
		}

		if z.IsPump {
			if pump != 0 {
				return nil, errs.New(errs.KindValidation, "zone.NewSet", fmt.Errorf("more than one pump designated: %d and %d", pump, z.ID))
			}
			if z.Mode == ModeDisabled {
				return nil, errs.New(errs.KindValidation, "zone.NewSet", fmt.Errorf("pump zone %d must not be disabled", z.ID))
			}
			pump = z.ID
		}

		byID[z.ID] = z
		byOutput[z.Output] = z.ID
	}

	return &Set{zones: byID, pump: pump}, nil
}

// Get returns the zone with the given ID.
func (s *Set) Get(id ID) (Zone, bool) {
	z, ok := s.zones[id]
	return z, ok
}

// All returns every zone in the set, in no particular order.
func (s *Set) All() []Zone {
	out := make([]Zone, 0, len(s.zones))
	for _, z := range s.zones {
		out = append(out, z)
	}
	return out
}

// Pump returns the designated pump zone ID, or 0 if none is designated.
func (s *Set) Pump() ID {
	return s.pump
}

// IsPump reports whether id is the designated pump zone.
func (s *Set) IsPump(id ID) bool {
	return s.pump != 0 && s.pump == id
}

// Schedulable reports whether the zone is eligible to carry a schedule
// entry: not disabled, and not the pump zone (spec.md §4.B — "The pump
// itself is never scheduled as a user-facing entry").
func (s *Set) Schedulable(id ID) bool {
	z, ok := s.zones[id]
	if !ok || z.Mode == ModeDisabled {
		return false
	}
	return !s.IsPump(id)
}
