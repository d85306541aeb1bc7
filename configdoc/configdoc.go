// Package configdoc loads and validates the three documents the engine
// consumes at the edges of its scope (spec.md §6): the Schedule
// Document, Garden Settings, and Hardware Configuration. Parsing itself
// is out of the core's budget per spec.md §1, but the core must still be
// able to turn these documents into the typed values its components
// operate on, so this package is the narrow translation layer between
// YAML on disk and zone.Set/recurrence.Entry/solar.Location.
package configdoc

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/watermeister/wmcore/errs"
	"github.com/watermeister/wmcore/internal/timeparse"
	"github.com/watermeister/wmcore/recurrence"
	"github.com/watermeister/wmcore/solar"
	"github.com/watermeister/wmcore/timecode"
	"github.com/watermeister/wmcore/zone"
)

// timeEntry is one Time Code + duration pair within a zone's schedule.
type timeEntry struct {
	StartTime string `yaml:"start_time"`
	Duration  string `yaml:"duration"`
}

// zoneSchedule is one zone's entry in the Schedule Document, plus the
// UI-only fields that must round-trip through a load/rewrite cycle
// without ever influencing engine behaviour (spec.md §6).
type zoneSchedule struct {
	Mode     string      `yaml:"mode"`
	Period   string      `yaml:"period,omitempty"`
	Cycles   int         `yaml:"cycles,omitempty"`
	StartDay string      `yaml:"startDay,omitempty"`
	Times    []timeEntry `yaml:"times,omitempty"`
	Cron     string      `yaml:"cron,omitempty"` // supplemented recurrence.Cron (SPEC_FULL.md §11.1)

	// UI-only passthrough fields. Never read by the core; stripped on
	// Save (spec.md §6).
	UIZoneID             string `yaml:"zone_id,omitempty"`
	UIScheduleMode       string `yaml:"scheduleMode,omitempty"`
	UIShowDurationPicker *bool  `yaml:"showDurationPicker,omitempty"`
	UIShowTimePicker     *bool  `yaml:"showTimePicker,omitempty"`
	UIOriginalIndex      *int   `yaml:"originalIndex,omitempty"`
}

// ScheduleDocument is the Schedule Document keyed by zone identifier
// (text, per spec.md §6).
type ScheduleDocument map[string]zoneSchedule

// Window is one resolved schedule entry: a Time Code and the duration to
// run once that code resolves to a start instant today.
type Window struct {
	Start    timecode.TimeCode
	Duration time.Duration
}

// LoadSchedule reads and validates a Schedule Document from path.
func LoadSchedule(path string) (ScheduleDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.New(errs.KindValidation, "configdoc.LoadSchedule", err)
	}

	var doc ScheduleDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errs.New(errs.KindValidation, "configdoc.LoadSchedule", err)
	}
	return doc, nil
}

// SaveSchedule rewrites path with doc, stripping every UI-only field
// (spec.md §6: "MUST be stripped by the core when rewriting the file").
func SaveSchedule(path string, doc ScheduleDocument) error {
	clean := make(ScheduleDocument, len(doc))
	for id, zs := range doc {
		zs.UIZoneID = ""
		zs.UIScheduleMode = ""
		zs.UIShowDurationPicker = nil
		zs.UIShowTimePicker = nil
		zs.UIOriginalIndex = nil
		clean[id] = zs
	}

	data, err := yaml.Marshal(clean)
	if err != nil {
		return errs.New(errs.KindValidation, "configdoc.SaveSchedule", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errs.New(errs.KindValidation, "configdoc.SaveSchedule", err)
	}
	return nil
}

// Entries translates a validated Schedule Document into per-zone
// recurrence entries and resolved windows, ready for the Run Loop.
// Zones with mode "disabled" are omitted from the result entirely.
func (d ScheduleDocument) Entries() (map[zone.ID]recurrence.Entry, map[zone.ID][]Window, error) {
	recEntries := make(map[zone.ID]recurrence.Entry, len(d))
	windows := make(map[zone.ID][]Window, len(d))

	for key, zs := range d {
		id, err := parseZoneID(key)
		if err != nil {
			return nil, nil, errs.New(errs.KindValidation, "configdoc.Entries", err)
		}
		if zs.Mode == "disabled" {
			continue
		}

		period, err := parsePeriod(zs.Period)
		if err != nil {
			return nil, nil, errs.New(errs.KindValidation, "configdoc.Entries", fmt.Errorf("zone %d: %w", id, err))
		}

		var anchor time.Time
		if period == recurrence.Weekly || period == recurrence.Monthly {
			anchor, err = timeparse.Date(zs.StartDay)
			if err != nil {
				return nil, nil, errs.New(errs.KindValidation, "configdoc.Entries", fmt.Errorf("zone %d: %w", id, err))
			}
		}

		if zs.Cycles <= 0 {
			return nil, nil, errs.New(errs.KindValidation, "configdoc.Entries", fmt.Errorf("zone %d: cycles must be positive", id))
		}
		if len(zs.Times) != zs.Cycles {
			return nil, nil, errs.New(errs.KindValidation, "configdoc.Entries", fmt.Errorf("zone %d: %d times does not match cycles-per-period %d", id, len(zs.Times), zs.Cycles))
		}

		zoneWindows := make([]Window, 0, len(zs.Times))
		for _, te := range zs.Times {
			code, err := timecode.Parse(te.StartTime)
			if err != nil {
				return nil, nil, errs.New(errs.KindValidation, "configdoc.Entries", fmt.Errorf("zone %d: %w", id, err))
			}
			dur, err := timeparse.Duration(te.Duration)
			if err != nil {
				return nil, nil, errs.New(errs.KindValidation, "configdoc.Entries", fmt.Errorf("zone %d: %w", id, err))
			}
			if dur < time.Second || dur >= 24*time.Hour {
				return nil, nil, errs.New(errs.KindValidation, "configdoc.Entries", fmt.Errorf("zone %d: duration %s out of range [1s, 24h)", id, dur))
			}
			zoneWindows = append(zoneWindows, Window{Start: code, Duration: dur})
		}

		recEntries[id] = recurrence.Entry{
			Period:   period,
			Cycles:   zs.Cycles,
			Anchor:   anchor,
			CronExpr: zs.Cron,
		}
		windows[id] = zoneWindows
	}

	return recEntries, windows, nil
}

// Modes extracts each zone's raw mode string, for BuildZoneSet.
func (d ScheduleDocument) Modes() (map[zone.ID]string, error) {
	modes := make(map[zone.ID]string, len(d))
	for key, zs := range d {
		id, err := parseZoneID(key)
		if err != nil {
			return nil, errs.New(errs.KindValidation, "configdoc.Modes", err)
		}
		modes[id] = zs.Mode
	}
	return modes, nil
}

func parsePeriod(s string) (recurrence.Period, error) {
	switch s {
	case "D":
		return recurrence.Daily, nil
	case "W":
		return recurrence.Weekly, nil
	case "M":
		return recurrence.Monthly, nil
	case "C":
		return recurrence.Cron, nil
	default:
		return 0, fmt.Errorf("unknown period %q", s)
	}
}

func parseZoneID(s string) (zone.ID, error) {
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil || n <= 0 {
		return 0, fmt.Errorf("malformed zone identifier %q", s)
	}
	return zone.ID(n), nil
}

// GardenSettings is the Garden Settings document (spec.md §6).
type GardenSettings struct {
	Latitude   float64 `yaml:"gps_lat"`
	Longitude  float64 `yaml:"gps_lon"`
	Timezone   string  `yaml:"timezone"`
	Multiplier float64 `yaml:"timer_multiplier"`
}

// LoadGardenSettings reads and validates Garden Settings from path.
func LoadGardenSettings(path string) (*GardenSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.New(errs.KindValidation, "configdoc.LoadGardenSettings", err)
	}

	var gs GardenSettings
	if err := yaml.Unmarshal(data, &gs); err != nil {
		return nil, errs.New(errs.KindValidation, "configdoc.LoadGardenSettings", err)
	}
	if err := gs.Validate(); err != nil {
		return nil, errs.New(errs.KindValidation, "configdoc.LoadGardenSettings", err)
	}
	return &gs, nil
}

// Validate checks Garden Settings against spec.md §6's bounds.
func (gs GardenSettings) Validate() error {
	if gs.Latitude < -90 || gs.Latitude > 90 {
		return fmt.Errorf("gps_lat %f out of range [-90, 90]", gs.Latitude)
	}
	if gs.Longitude < -180 || gs.Longitude > 180 {
		return fmt.Errorf("gps_lon %f out of range [-180, 180]", gs.Longitude)
	}
	if gs.Multiplier < 0.1 || gs.Multiplier > 10.0 {
		return fmt.Errorf("timer_multiplier %f out of range [0.1, 10.0]", gs.Multiplier)
	}
	if _, err := time.LoadLocation(gs.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", gs.Timezone, err)
	}
	return nil
}

// Location builds a solar.Location from the settings' lat/lon/timezone.
func (gs GardenSettings) Location() (solar.Location, error) {
	loc, err := time.LoadLocation(gs.Timezone)
	if err != nil {
		return solar.Location{}, fmt.Errorf("invalid timezone %q: %w", gs.Timezone, err)
	}
	return solar.Location{Latitude: gs.Latitude, Longitude: gs.Longitude, Zone: loc}, nil
}

// HardwareConfig is the Hardware Configuration document (spec.md §6).
type HardwareConfig struct {
	ZoneCount int      `yaml:"zoneCount"`
	Outputs   []string `yaml:"outputs"`
	PumpIndex int      `yaml:"pumpIndex"` // 0 = no pump, else 1-based index into Outputs
	ActiveLow bool     `yaml:"activeLow"`
	Numbering string   `yaml:"numbering"`
}

// LoadHardwareConfig reads and validates a Hardware Configuration from path.
func LoadHardwareConfig(path string) (*HardwareConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.New(errs.KindValidation, "configdoc.LoadHardwareConfig", err)
	}

	var hc HardwareConfig
	if err := yaml.Unmarshal(data, &hc); err != nil {
		return nil, errs.New(errs.KindValidation, "configdoc.LoadHardwareConfig", err)
	}
	if err := hc.Validate(); err != nil {
		return nil, errs.New(errs.KindValidation, "configdoc.LoadHardwareConfig", err)
	}
	return &hc, nil
}

// Validate checks the Hardware Configuration against spec.md §6's bounds.
func (hc HardwareConfig) Validate() error {
	if hc.ZoneCount < 1 || hc.ZoneCount > 8 {
		return fmt.Errorf("zoneCount %d out of range [1, 8]", hc.ZoneCount)
	}
	if len(hc.Outputs) != hc.ZoneCount {
		return fmt.Errorf("outputs has %d entries, want %d", len(hc.Outputs), hc.ZoneCount)
	}
	if hc.PumpIndex < 0 || hc.PumpIndex > hc.ZoneCount {
		return fmt.Errorf("pumpIndex %d out of range [0, %d]", hc.PumpIndex, hc.ZoneCount)
	}
	return nil
}

// BuildZoneSet combines the Hardware Configuration with per-zone modes
// sourced from the Schedule Document into a validated zone.Set.
func (hc HardwareConfig) BuildZoneSet(modes map[zone.ID]string) (*zone.Set, error) {
	zones := make([]zone.Zone, 0, hc.ZoneCount)
	for i, output := range hc.Outputs {
		id := zone.ID(i + 1)
		mode := zone.ModeDisabled
		switch modes[id] {
		case "manual-scheduled", "":
			mode = zone.ModeManualScheduled
		case "smart":
			mode = zone.ModeSmart
		case "disabled":
			mode = zone.ModeDisabled
		}

		zones = append(zones, zone.Zone{
			ID:     id,
			Output: output,
			Active: hc.ActiveLow,
			Mode:   mode,
			IsPump: hc.PumpIndex == i+1,
		})
	}
	return zone.NewSet(zones)
}
