package request

import (
	"os"
	"path/filepath"

	"github.com/lakshaymaurya-felt/monolingual/internal/config"
)

// Selection holds the per-run choices made on the command line. Nil slices
// fall back to the config.
type Selection struct {
	Roots       []Root
	Remove      []string
	Keep        []string
	Thin        []string
	Directories []string
	Files       []string

	// Strip, Trash and DryRun override the config when non-nil.
	Strip  *bool
	Trash  *bool
	DryRun *bool
}

// Build creates a fresh request for one run from the loaded config and the
// user's selection.
func Build(cfg config.Config, sel Selection) *HelperRequest {
	r := &HelperRequest{
		DryRun:  pick(sel.DryRun, cfg.DryRun),
		DoStrip: pick(sel.Strip, cfg.Strip),
		UID:     uint32(os.Getuid()),
		Trash:   pick(sel.Trash, cfg.Trash),
	}

	r.Roots = sel.Roots
	if r.Roots == nil {
		r.Roots = make([]Root, 0, len(cfg.Roots))
		for _, rc := range cfg.Roots {
			r.Roots = append(r.Roots, Root{Path: rc.Path, Languages: rc.Languages, Architectures: rc.Architectures})
		}
	}

	// An empty removal list means "every language except the kept ones",
	// which is expressed by leaving includes absent.
	remove := firstNonNil(sel.Remove, cfg.RemoveLanguages)
	if len(remove) > 0 {
		r.Includes = cloneStrings(remove)
	}
	r.Excludes = cloneStrings(firstNonNil(sel.Keep, cfg.KeepLanguages))
	if r.Excludes == nil {
		r.Excludes = []string{}
	}

	r.BundleBlacklist = NewStringSet(cfg.BundleBlacklist...)

	if r.DoStrip {
		r.Thin = cloneStrings(firstNonNil(sel.Thin, cfg.Thin))
		if r.Thin == nil {
			r.Thin = []string{}
		}
	}

	if sel.Directories != nil {
		r.Directories = NewStringSet()
		for _, d := range sel.Directories {
			r.Directories[absPath(d)] = struct{}{}
		}
	}
	if sel.Files != nil {
		r.Files = make([]string, 0, len(sel.Files))
		for _, f := range sel.Files {
			r.Files = append(r.Files, absPath(f))
		}
	}
	return r
}

// ForPath builds the minimal request for a single opened path: languages and
// architectures are both processed, and no configured roots are walked.
func ForPath(cfg config.Config, path string) *HelperRequest {
	strip := cfg.Strip || len(cfg.Thin) > 0
	r := Build(cfg, Selection{
		Roots:       []Root{},
		Directories: []string{path},
		Strip:       &strip,
	})
	return r
}

func pick(override *bool, fallback bool) bool {
	if override != nil {
		return *override
	}
	return fallback
}

func firstNonNil(a, b []string) []string {
	if a != nil {
		return a
	}
	return b
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}
