// Package status reports free space on the volumes a run touches, so the
// controller can show what a scrub actually reclaimed on disk.
package status

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/shirou/gopsutil/v4/disk"

	"github.com/lakshaymaurya-felt/monolingual/internal/core"
)

// Volume is one mounted filesystem.
type Volume struct {
	Mount string
	Total uint64
	Free  uint64
}

// UsedPercent is the share of the volume in use.
func (v Volume) UsedPercent() float64 {
	if v.Total == 0 {
		return 0
	}
	return float64(v.Total-v.Free) / float64(v.Total) * 100
}

// Snapshot returns the volumes holding paths, one entry per mount point,
// sorted by mount. Paths that cannot be resolved are left out.
func Snapshot(ctx context.Context, paths []string) []Volume {
	parts, err := disk.PartitionsWithContext(ctx, true)
	if err != nil {
		return nil
	}
	mounts := make(map[string]bool)
	for _, p := range paths {
		if m := mountOf(parts, p); m != "" {
			mounts[m] = true
		}
	}

	var out []Volume
	for m := range mounts {
		u, err := disk.UsageWithContext(ctx, m)
		if err != nil {
			continue
		}
		out = append(out, Volume{Mount: m, Total: u.Total, Free: u.Free})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Mount < out[j].Mount })
	return out
}

// mountOf picks the longest mount point containing path.
func mountOf(parts []disk.PartitionStat, path string) string {
	path = filepath.Clean(path)
	best := ""
	for _, p := range parts {
		m := filepath.Clean(p.Mountpoint)
		if m != "/" && path != m && !strings.HasPrefix(path, m+string(filepath.Separator)) {
			continue
		}
		if len(m) > len(best) {
			best = m
		}
	}
	return best
}

// Describe renders one line per volume, with the change in free space when
// the volume also appears in before.
func Describe(before, after []Volume) []string {
	prev := make(map[string]Volume, len(before))
	for _, v := range before {
		prev[v.Mount] = v
	}
	lines := make([]string, 0, len(after))
	for _, v := range after {
		line := fmt.Sprintf("%s: %s free of %s (%.0f%% used)",
			v.Mount, core.FormatSize(int64(v.Free)), core.FormatSize(int64(v.Total)), v.UsedPercent())
		if p, ok := prev[v.Mount]; ok && v.Free > p.Free {
			line += ", " + core.FormatSize(int64(v.Free-p.Free)) + " more than before"
		}
		lines = append(lines, line)
	}
	return lines
}
