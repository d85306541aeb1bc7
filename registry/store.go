package registry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/watermeister/wmcore/errs"
	"github.com/watermeister/wmcore/zone"
)

// entry is the on-disk shape of one Active Run (spec.md §6 snapshot
// format): end instant plus whether it was manual or scheduled.
type entry struct {
	End  time.Time `json:"end_time"`
	Type string    `json:"type"`
}

// Store persists Active-Run snapshots to a single file using a
// write-then-rename so a reader never observes a partially-written file.
type Store struct {
	path string
}

// NewStore builds a Store writing to path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Write atomically replaces the snapshot file with the given runs.
func (s *Store) Write(runs map[zone.ID]Run) error {
	doc := make(map[string]entry, len(runs))
	for id, run := range runs {
		doc[zoneKey(id)] = entry{End: run.End, Type: run.Origin.String()}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errs.New(errs.KindPersistence, "store.Write", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".snapshot-*.tmp")
	if err != nil {
		return errs.New(errs.KindPersistence, "store.Write", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errs.New(errs.KindPersistence, "store.Write", err)
	}
	if err := tmp.Close(); err != nil {
		return errs.New(errs.KindPersistence, "store.Write", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return errs.New(errs.KindPersistence, "store.Write", err)
	}
	return nil
}

// Read loads the snapshot, keyed by zone ID. A missing file is treated as
// an empty snapshot. A truncated or otherwise corrupt file is also
// treated as empty (spec.md §5: a partially-written snapshot must never
// block startup) rather than returned as an error.
func (s *Store) Read() (map[zone.ID]SnapshotEntry, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[zone.ID]SnapshotEntry{}, nil
	}
	if err != nil {
		return nil, errs.New(errs.KindPersistence, "store.Read", err)
	}

	var doc map[string]entry
	if err := json.Unmarshal(data, &doc); err != nil {
		return map[zone.ID]SnapshotEntry{}, nil
	}

	out := make(map[zone.ID]SnapshotEntry, len(doc))
	for key, e := range doc {
		id, ok := parseZoneKey(key)
		if !ok {
			continue
		}
		origin := Scheduled
		if e.Type == "manual" {
			origin = Manual
		}
		out[id] = SnapshotEntry{End: e.End, Origin: origin}
	}
	return out, nil
}

// SnapshotEntry is a recovered run, before the engine decides whether its
// remaining duration clears the catch-up floor (spec.md §4.F).
type SnapshotEntry struct {
	End    time.Time
	Origin Origin
}

func zoneKey(id zone.ID) string {
	return "zone_" + strconv.Itoa(int(id))
}

func parseZoneKey(key string) (zone.ID, bool) {
	const prefix = "zone_"
	rest, ok := strings.CutPrefix(key, prefix)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}
	return zone.ID(n), true
}
