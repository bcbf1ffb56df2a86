// Package progress carries per-item outcomes of a scrub run from the
// engine to whoever is watching.
package progress

import "time"

// Status is the terminal state of one item.
type Status string

const (
	StatusRemoved     Status = "removed"
	StatusWouldRemove Status = "would-remove"
	StatusSkipped     Status = "skipped"
	StatusErrored     Status = "errored"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusRemoved, StatusWouldRemove, StatusSkipped, StatusErrored:
		return true
	}
	return false
}

// Action is what was (or would have been) done to an item.
type Action string

const (
	ActionDelete Action = "delete"
	ActionTrash  Action = "trash"
	ActionThin   Action = "thin"
	ActionScan   Action = "scan"
)

// Event reports the outcome of one item. Seq is assigned by the Reporter
// and increases by one per event within a run.
type Event struct {
	Seq      uint64
	RunID    string
	Path     string
	Kind     string
	Action   Action
	Status   Status
	Bytes    int64
	Language string
	BundleID string

	// Architectures lists the slices removed from a binary.
	Architectures []string

	Message string

	// Discovered is the number of items found so far, for progress bars.
	Discovered uint64
	DryRun     bool
}

// Summary aggregates one run.
type Summary struct {
	RunID       string
	Removed     int
	WouldRemove int
	Skipped     int
	Errored     int
	// Bytes is reclaimed space, or space a dry run would reclaim.
	Bytes    int64
	Duration time.Duration
	Canceled bool
	DryRun   bool
}

// Total is the number of reported items.
func (s Summary) Total() int {
	return s.Removed + s.WouldRemove + s.Skipped + s.Errored
}

func (s *Summary) add(e Event) {
	switch e.Status {
	case StatusRemoved:
		s.Removed++
		s.Bytes += e.Bytes
	case StatusWouldRemove:
		s.WouldRemove++
		s.Bytes += e.Bytes
	case StatusSkipped:
		s.Skipped++
	case StatusErrored:
		s.Errored++
	}
}
