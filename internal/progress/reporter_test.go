package progress

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestReporter_SequenceAndSummary(t *testing.T) {
	var got []Event
	r := NewReporter("run-1", false, SinkFunc(func(e Event) error {
		got = append(got, e)
		return nil
	}))
	r.Discover()
	r.Discover()
	r.Discover()

	events := []Event{
		{Path: "/a/de.lproj", Status: StatusRemoved, Bytes: 10},
		{Path: "/a/fr.lproj", Status: StatusSkipped},
		{Path: "/a/bin", Status: StatusErrored, Message: "boom"},
	}
	for _, e := range events {
		if err := r.Report(e); err != nil {
			t.Fatalf("Report: %v", err)
		}
	}

	for i, e := range got {
		if e.Seq != uint64(i+1) || e.RunID != "run-1" || e.Discovered != 3 {
			t.Fatalf("event %d = %+v", i, e)
		}
	}
	s := r.Finish(true)
	if s.Removed != 1 || s.Skipped != 1 || s.Errored != 1 || s.Bytes != 10 || !s.Canceled || s.Total() != 3 {
		t.Fatalf("summary = %+v", s)
	}
}

func TestReporter_RejectsDuplicates(t *testing.T) {
	r := NewReporter("run", true, nil)
	if err := r.Report(Event{Path: "/x", Status: StatusWouldRemove, Bytes: 5}); err != nil {
		t.Fatalf("Report: %v", err)
	}
	if err := r.Report(Event{Path: "/x", Status: StatusErrored}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("second report err = %v, want ErrDuplicate", err)
	}
	if s := r.Summary(); s.Total() != 1 || s.WouldRemove != 1 || s.Bytes != 5 || !s.DryRun {
		t.Fatalf("summary = %+v", s)
	}
	if !r.Reported("/x") || r.Reported("/y") {
		t.Fatal("Reported out of sync")
	}
}

func TestReporter_InvalidStatus(t *testing.T) {
	r := NewReporter("run", false, nil)
	if err := r.Report(Event{Path: "/x", Status: "gone"}); err == nil {
		t.Fatal("invalid status accepted")
	}
}

func TestReporter_SinkFailureIsSticky(t *testing.T) {
	calls := 0
	r := NewReporter("run", false, SinkFunc(func(Event) error {
		calls++
		return errors.New("pipe closed")
	}))
	if err := r.Report(Event{Path: "/x", Status: StatusRemoved}); !errors.Is(err, ErrSink) {
		t.Fatalf("err = %v, want ErrSink", err)
	}
	if err := r.Report(Event{Path: "/y", Status: StatusRemoved}); !errors.Is(err, ErrSink) {
		t.Fatalf("err = %v, want ErrSink", err)
	}
	if calls != 1 {
		t.Fatalf("sink called %d times after failing", calls)
	}
	if s := r.Summary(); s.Total() != 0 {
		t.Fatalf("failed event counted: %+v", s)
	}
}

func TestReporter_ConcurrentReportsStayOrdered(t *testing.T) {
	var mu sync.Mutex
	var seqs []uint64
	r := NewReporter("run", false, SinkFunc(func(e Event) error {
		mu.Lock()
		seqs = append(seqs, e.Seq)
		mu.Unlock()
		return nil
	}))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = r.Report(Event{Path: fmt.Sprintf("/p/%d", i), Status: StatusRemoved})
		}(i)
	}
	wg.Wait()

	if len(seqs) != 50 {
		t.Fatalf("got %d events", len(seqs))
	}
	for i, s := range seqs {
		if s != uint64(i+1) {
			t.Fatalf("seq out of order at %d: %v", i, seqs)
		}
	}
}
