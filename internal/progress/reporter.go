package progress

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrDuplicate is returned when an item is reported a second time.
	ErrDuplicate = errors.New("item already reported")
	// ErrSink is returned when the sink could not take an event. The run
	// must stop: nobody is listening any more.
	ErrSink = errors.New("progress sink failed")
)

// Sink receives events in Seq order.
type Sink interface {
	Emit(Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event) error

// Emit implements Sink.
func (f SinkFunc) Emit(e Event) error { return f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) error { return nil })

// Reporter numbers events, rejects duplicates, keeps the run summary and
// forwards events to a Sink. It is safe for concurrent use.
type Reporter struct {
	sink  Sink
	start time.Time

	discovered atomic.Uint64

	mu       sync.Mutex
	seq      uint64
	reported map[string]bool
	summary  Summary
	failed   error
}

// NewReporter starts the clock for run runID.
func NewReporter(runID string, dryRun bool, sink Sink) *Reporter {
	if sink == nil {
		sink = Discard
	}
	return &Reporter{
		sink:     sink,
		start:    time.Now(),
		reported: make(map[string]bool),
		summary:  Summary{RunID: runID, DryRun: dryRun},
	}
}

// Discover records one more discovered item.
func (r *Reporter) Discover() uint64 {
	return r.discovered.Add(1)
}

// Report emits e as the terminal report of e.Path.
func (r *Reporter) Report(e Event) error {
	if !e.Status.Valid() {
		return fmt.Errorf("invalid status %q", e.Status)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failed != nil {
		return r.failed
	}
	if r.reported[e.Path] {
		return fmt.Errorf("%s: %w", e.Path, ErrDuplicate)
	}

	r.seq++
	e.Seq = r.seq
	e.RunID = r.summary.RunID
	e.DryRun = r.summary.DryRun
	e.Discovered = r.discovered.Load()
	if e.Discovered < e.Seq {
		e.Discovered = e.Seq
	}

	if err := r.sink.Emit(e); err != nil {
		r.seq--
		r.failed = fmt.Errorf("%w: %v", ErrSink, err)
		return r.failed
	}
	r.reported[e.Path] = true
	r.summary.add(e)
	return nil
}

// Reported reports whether path already has a terminal report.
func (r *Reporter) Reported(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reported[path]
}

// Summary returns a snapshot of the accumulated summary.
func (r *Reporter) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.summary
	s.Duration = time.Since(r.start)
	return s
}

// Finish closes the run and returns its summary.
func (r *Reporter) Finish(canceled bool) Summary {
	s := r.Summary()
	s.Canceled = canceled
	return s
}
