// Package scrub runs one removal request end to end: scan, filter, mutate,
// report.
package scrub

import (
	"context"
	"errors"
	"io"
	"log"
	"runtime"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/lakshaymaurya-felt/monolingual/internal/config"
	"github.com/lakshaymaurya-felt/monolingual/internal/macho"
	"github.com/lakshaymaurya-felt/monolingual/internal/progress"
	"github.com/lakshaymaurya-felt/monolingual/internal/remove"
	"github.com/lakshaymaurya-felt/monolingual/internal/request"
	"github.com/lakshaymaurya-felt/monolingual/internal/scan"
)

const maxDefaultWorkers = 4

// Engine executes requests. The zero value is usable: it deletes instead of
// trashing unless Trash is set, and checks running processes before thinning.
type Engine struct {
	// Workers bounds concurrent mutations. Zero means min(4, NumCPU).
	Workers int
	Logger  *log.Logger
	// Debug logs one line per candidate.
	Debug bool
	Trash remove.TrashLocator
	Busy  BusyChecker
	// OwnerChecks limits every change to what the requesting uid could do
	// with its own permissions. Items it could not touch are skipped.
	OwnerChecks bool
}

func (e *Engine) workers() int {
	if e.Workers > 0 {
		return e.Workers
	}
	return min(maxDefaultWorkers, runtime.NumCPU())
}

func (e *Engine) logger() *log.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return log.New(io.Discard, "", 0)
}

// run holds the state of a single Run. Nothing outlives it.
type run struct {
	req      *request.HelperRequest
	log      *log.Logger
	debug    bool
	reporter *progress.Reporter
	remover  *remove.Remover
	locks    *pathLocks
	busy     map[string]bool
	roots    []string
	home     string
	access   *remove.Access
}

// Run executes req and streams one event per matched item to sink. It
// returns when every started item has been reported. Canceling ctx stops new
// items from starting; in-flight items complete. A sink failure cancels the
// run and is returned.
func (e *Engine) Run(ctx context.Context, req *request.HelperRequest, sink progress.Sink) (progress.Summary, error) {
	req = req.Clone()
	runID := uuid.NewString()
	logger := e.logger()

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	r := &run{
		req:      req,
		log:      logger,
		debug:    e.Debug,
		reporter: progress.NewReporter(runID, req.DryRun, sink),
		locks:    newPathLocks(),
	}
	for _, root := range req.Roots {
		r.roots = append(r.roots, root.Path)
	}
	if home, err := remove.HomeDir(req.UID); err == nil {
		r.home = home
	}
	if e.OwnerChecks {
		r.access = remove.AccessFor(req.UID)
	}
	r.remover = &remove.Remover{Trash: e.Trash, Roots: r.roots, Home: r.home, Access: r.access}
	if req.ThinSet() != nil && !req.DryRun {
		r.busy = e.runningExecutables(ctx, logger)
	}

	logger.Printf("run %s: dryRun=%v trash=%v strip=%v uid=%d ownerChecks=%v", runID, req.DryRun, req.Trash, req.DoStrip, req.UID, e.OwnerChecks)

	scanner := scan.New(req, scan.Options{Logger: r.debugLogger(), Bundles: scan.NewBundleResolver(0)})

	g := new(errgroup.Group)
	g.SetLimit(e.workers())
	for c := range scanner.Candidates(ctx) {
		r.reporter.Discover()
		g.Go(func() error {
			// Cancellation is checked between items, never mid-item.
			if ctx.Err() != nil {
				return nil
			}
			ev := r.process(c)
			if err := r.reporter.Report(ev); err != nil {
				if errors.Is(err, progress.ErrSink) {
					cancel(err)
					return err
				}
				logger.Printf("report %s: %v", c.Path, err)
			}
			return nil
		})
	}
	err := g.Wait()

	for _, w := range scanner.Warnings() {
		r.debugf("scan warning: %s", w)
	}
	canceled := ctx.Err() != nil
	sum := r.reporter.Finish(canceled)
	logger.Printf("run %s finished: removed=%d would-remove=%d skipped=%d errored=%d canceled=%v",
		runID, sum.Removed, sum.WouldRemove, sum.Skipped, sum.Errored, canceled)
	return sum, err
}

func (e *Engine) runningExecutables(ctx context.Context, logger *log.Logger) map[string]bool {
	busy := e.Busy
	if busy == nil {
		busy = ProcessTable{}
	}
	set, err := busy.RunningExecutables(ctx)
	if err != nil {
		logger.Printf("cannot list running processes: %v", err)
		return nil
	}
	return set
}

func (r *run) debugLogger() *log.Logger {
	if !r.debug {
		return nil
	}
	return r.log
}

func (r *run) debugf(format string, args ...any) {
	if r.debug {
		r.log.Printf(format, args...)
	}
}

// ─── Per-item processing ─────────────────────────────────────────────────────

func (r *run) process(c scan.Candidate) progress.Event {
	ev := progress.Event{
		Path:     c.Path,
		Kind:     c.Kind.String(),
		Language: c.Language,
		BundleID: c.BundleID,
	}
	r.debugf("candidate %s (%s)", c.Path, c.Kind)

	switch {
	case c.Kind == scan.KindScanError:
		ev.Action = progress.ActionScan
		return errored(ev, c.Err)
	case c.Kind == scan.KindBinary:
		ev.Action = progress.ActionThin
	case r.req.Trash:
		ev.Action = progress.ActionTrash
	default:
		ev.Action = progress.ActionDelete
	}

	if c.Skip != "" {
		return skipped(ev, c.Skip)
	}
	if c.Err != nil {
		return errored(ev, c.Err)
	}

	unlock := r.locks.Lock(c.Path)
	defer unlock()

	if c.Kind == scan.KindBinary {
		return r.thin(ev, c)
	}
	return r.remove(ev)
}

func (r *run) remove(ev progress.Event) progress.Event {
	out, err := r.remover.Remove(ev.Path, remove.Options{
		DryRun: r.req.DryRun,
		Trash:  r.req.Trash,
		UID:    r.req.UID,
	})
	switch {
	case errors.Is(err, remove.ErrProtected):
		return skipped(ev, "protected path")
	case errors.Is(err, remove.ErrNotPermitted):
		return skipped(ev, err.Error())
	case out.Remains != "":
		// Gone from its path, so it counts as removed.
		r.log.Printf("remove %s: %v", ev.Path, err)
		ev.Bytes = out.Bytes
		ev.Message = "remains left at " + out.Remains
		return done(ev, false)
	case err != nil:
		return errored(ev, err)
	}
	ev.Bytes = out.Bytes
	if out.Destination != "" {
		ev.Message = "moved to " + out.Destination
	}
	return done(ev, r.req.DryRun)
}

func (r *run) thin(ev progress.Event, c scan.Candidate) progress.Event {
	if config.IsProtectedPath(c.Path, r.roots, r.home) {
		return skipped(ev, "protected path")
	}
	if err := r.access.CanReplace(c.Path); err != nil {
		if errors.Is(err, remove.ErrNotPermitted) {
			return skipped(ev, err.Error())
		}
		return errored(ev, err)
	}
	if r.busy[c.Path] {
		return skipped(ev, "in use by a running process")
	}

	drop := make(map[string]bool, len(c.Thin))
	for _, arch := range c.Thin {
		drop[arch] = true
	}
	res, err := macho.Thin(c.Path, drop, r.req.DryRun)
	switch {
	case errors.Is(err, macho.ErrNothingToRemove):
		return skipped(ev, err.Error())
	case err != nil:
		return errored(ev, err)
	}
	ev.Bytes = res.Saved
	ev.Architectures = res.Removed
	ev.Message = "kept " + strings.Join(res.Kept, ", ")
	return done(ev, r.req.DryRun)
}

func done(ev progress.Event, dryRun bool) progress.Event {
	ev.Status = progress.StatusRemoved
	if dryRun {
		ev.Status = progress.StatusWouldRemove
	}
	return ev
}

func skipped(ev progress.Event, reason string) progress.Event {
	ev.Status = progress.StatusSkipped
	ev.Message = reason
	return ev
}

func errored(ev progress.Event, err error) progress.Event {
	ev.Status = progress.StatusErrored
	if err != nil {
		ev.Message = err.Error()
	}
	return ev
}
