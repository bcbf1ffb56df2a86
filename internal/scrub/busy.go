package scrub

import (
	"context"
	"path/filepath"

	"github.com/shirou/gopsutil/v4/process"
)

// BusyChecker lists executables that are currently mapped by a running
// process. Such files are never rewritten.
type BusyChecker interface {
	RunningExecutables(ctx context.Context) (map[string]bool, error)
}

// BusyFunc adapts a function to BusyChecker.
type BusyFunc func(ctx context.Context) (map[string]bool, error)

// RunningExecutables implements BusyChecker.
func (f BusyFunc) RunningExecutables(ctx context.Context) (map[string]bool, error) {
	return f(ctx)
}

// ProcessTable reads executables from the system process table.
type ProcessTable struct{}

// RunningExecutables implements BusyChecker. Processes that exit or deny
// access while being listed are ignored.
func (ProcessTable) RunningExecutables(ctx context.Context) (map[string]bool, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(procs))
	for _, p := range procs {
		exe, err := p.ExeWithContext(ctx)
		if err != nil || exe == "" {
			continue
		}
		if real, err := filepath.EvalSymlinks(exe); err == nil {
			exe = real
		}
		out[filepath.Clean(exe)] = true
	}
	return out, nil
}
