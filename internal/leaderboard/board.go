package leaderboard

import (
	"cmp"
	"math"
	"slices"
)

// Entry is one pilot's best lap on a mission.
type Entry struct {
	Pilot                 string  `json:"pilot"`
	FastestLapTimeSeconds float64 `json:"fastest_lap_time_sec"`
}

// Valid reports whether the entry can take part in a ranking.
func (e Entry) Valid() bool {
	t := e.FastestLapTimeSeconds
	return e.Pilot != "" && t > 0 && !math.IsInf(t, 0) && !math.IsNaN(t)
}

// Board keeps one entry per pilot, ordered by ascending lap time.
// It is not safe for concurrent use; Sync serializes access to it.
type Board struct {
	entries []Entry
}

func NewBoard() *Board {
	return &Board{}
}

// Apply merges a single entry with the lower-time-wins rule and reports
// whether the board changed. Equal or slower times for a known pilot are
// ignored.
func (b *Board) Apply(e Entry) bool {
	if !e.Valid() {
		return false
	}

	i := slices.IndexFunc(b.entries, func(x Entry) bool { return x.Pilot == e.Pilot })
	switch {
	case i < 0:
		b.entries = append(b.entries, e)
	case e.FastestLapTimeSeconds < b.entries[i].FastestLapTimeSeconds:
		b.entries[i] = e
	default:
		return false
	}

	slices.SortStableFunc(b.entries, byLapTime)
	return true
}

// Merge applies a batch of unordered entries, fastest first, so a snapshot
// never overwrites a faster time the board already holds.
func (b *Board) Merge(entries []Entry) bool {
	sorted := slices.Clone(entries)
	slices.SortStableFunc(sorted, byLapTime)

	changed := false
	for _, e := range sorted {
		if b.Apply(e) {
			changed = true
		}
	}
	return changed
}

// Entries returns a copy of the ranked entries.
func (b *Board) Entries() []Entry {
	return slices.Clone(b.entries)
}

func (b *Board) Len() int {
	return len(b.entries)
}

func byLapTime(a, b Entry) int {
	return cmp.Compare(a.FastestLapTimeSeconds, b.FastestLapTimeSeconds)
}
