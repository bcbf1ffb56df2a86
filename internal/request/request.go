package request

import (
	"path/filepath"
	"sort"
)

// ─── Root ────────────────────────────────────────────────────────────────────

// Root is one scan root of a removal run.
type Root struct {
	// Path is the absolute directory to walk.
	Path string

	// Languages enables localization removal under Path.
	Languages bool

	// Architectures enables fat-binary thinning under Path.
	Architectures bool
}

// DefaultRoots returns the roots used when the user has not configured any.
func DefaultRoots() []Root {
	return []Root{
		{Path: "/Applications", Languages: true, Architectures: true},
		{Path: "/Library", Languages: true, Architectures: true},
	}
}

// ─── StringSet ───────────────────────────────────────────────────────────────

// StringSet is an unordered set of strings. A nil StringSet means the field
// was not set at all, which is different from an empty set.
type StringSet map[string]struct{}

// NewStringSet returns a non-nil set holding values.
func NewStringSet(values ...string) StringSet {
	s := make(StringSet, len(values))
	for _, v := range values {
		s[v] = struct{}{}
	}
	return s
}

// Has reports whether v is a member.
func (s StringSet) Has(v string) bool {
	_, ok := s[v]
	return ok
}

// Len returns the number of members.
func (s StringSet) Len() int {
	return len(s)
}

// Sorted returns the members in ascending order, or nil for a nil set.
func (s StringSet) Sorted() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func (s StringSet) clone() StringSet {
	if s == nil {
		return nil
	}
	out := make(StringSet, len(s))
	for v := range s {
		out[v] = struct{}{}
	}
	return out
}

// ─── HelperRequest ───────────────────────────────────────────────────────────

// HelperRequest is the unit of work handed to the privileged scrubber.
//
// Optional fields use nil for "not set" and a non-nil empty value for "set
// but empty". Filters treat the two differently: an absent includes list
// admits everything, an empty one admits nothing.
type HelperRequest struct {
	DryRun  bool
	DoStrip bool
	UID     uint32
	Trash   bool

	Includes        []string
	Excludes        []string
	BundleBlacklist StringSet
	Directories     StringSet
	Files           []string
	Thin            []string

	// Roots is the root list of the run. Builds that predate it simply
	// ignore the key.
	Roots []Root
}

// Clone returns a deep copy so the receiver never shares backing storage
// with the caller.
func (r *HelperRequest) Clone() *HelperRequest {
	if r == nil {
		return nil
	}
	out := *r
	out.Includes = cloneStrings(r.Includes)
	out.Excludes = cloneStrings(r.Excludes)
	out.BundleBlacklist = r.BundleBlacklist.clone()
	out.Directories = r.Directories.clone()
	out.Files = cloneStrings(r.Files)
	out.Thin = cloneStrings(r.Thin)
	if r.Roots != nil {
		out.Roots = append(make([]Root, 0, len(r.Roots)), r.Roots...)
	}
	return &out
}

// ThinSet returns the architectures to remove, or nil when stripping is off.
func (r *HelperRequest) ThinSet() StringSet {
	if !r.DoStrip || len(r.Thin) == 0 {
		return nil
	}
	return NewStringSet(r.Thin...)
}

// Blacklisted reports whether a bundle identifier must never be touched.
func (r *HelperRequest) Blacklisted(bundleID string) bool {
	return bundleID != "" && r.BundleBlacklist.Has(bundleID)
}

// ScopePaths returns every explicit or root path named by the request, cleaned.
func (r *HelperRequest) ScopePaths() []string {
	var out []string
	for _, root := range r.Roots {
		out = append(out, filepath.Clean(root.Path))
	}
	for _, d := range r.Directories.Sorted() {
		out = append(out, filepath.Clean(d))
	}
	for _, f := range r.Files {
		out = append(out, filepath.Clean(f))
	}
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append(make([]string, 0, len(in)), in...)
}
