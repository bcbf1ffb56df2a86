package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/lakshaymaurya-felt/monolingual/internal/core"
	"github.com/lakshaymaurya-felt/monolingual/internal/progress"
)

// Printer writes one plain line per event. It is the fallback when output
// is not a terminal and the bubbletea view cannot render.
type Printer struct {
	w io.Writer
	// Verbose also prints skipped items.
	Verbose bool

	mu sync.Mutex
}

// NewPrinter returns a Printer writing to w.
func NewPrinter(w io.Writer, verbose bool) *Printer {
	return &Printer{w: w, Verbose: verbose}
}

// Event prints e. Safe for concurrent use.
func (p *Printer) Event(e progress.Event) {
	if e.Status == progress.StatusSkipped && !p.Verbose {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	line := fmt.Sprintf("  %-12s %9s  %s", statusLabel(e), sizeColumn(e), e.Path)
	if len(e.Architectures) > 0 && e.Action == progress.ActionThin && e.Status != progress.StatusSkipped {
		line += " [" + strings.Join(e.Architectures, ", ") + "]"
	}
	if e.Message != "" && (e.Status == progress.StatusSkipped || e.Status == progress.StatusErrored) {
		line += ": " + e.Message
	}
	fmt.Fprintln(p.w, line)
}

// Summary prints the closing totals of a run.
func (p *Printer) Summary(s progress.Summary) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintln(p.w, "  "+strings.Repeat("-", 58))
	if s.DryRun {
		fmt.Fprintf(p.w, "  Would reclaim %s from %s items (dry run)\n", core.FormatSize(s.Bytes), core.FormatCount(s.WouldRemove))
	} else {
		fmt.Fprintf(p.w, "  Reclaimed %s from %s items\n", core.FormatSize(s.Bytes), core.FormatCount(s.Removed))
	}
	fmt.Fprintf(p.w, "  Skipped: %d  Failed: %d\n", s.Skipped, s.Errored)
	if s.Canceled {
		fmt.Fprintln(p.w, "  Canceled before all items were processed.")
	}
}

func sizeColumn(e progress.Event) string {
	if e.Status == progress.StatusSkipped || e.Status == progress.StatusErrored {
		return "-"
	}
	return core.FormatSize(e.Bytes)
}
