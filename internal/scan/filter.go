package scan

import (
	"path"
	"strings"
)

// Filter applies the request's include/exclude patterns. Patterns use
// path.Match syntax and are compared case-insensitively against either a
// language code or a bundle identifier.
//
// A nil list means no restriction. A non-nil empty includes list admits
// nothing.
type Filter struct {
	includes []string
	excludes []string
}

// NewFilter keeps the nil/empty distinction of its arguments.
func NewFilter(includes, excludes []string) Filter {
	return Filter{includes: lowerAll(includes), excludes: lowerAll(excludes)}
}

// Language reports whether the localization lang of bundleID may be removed.
func (f Filter) Language(lang, bundleID string) bool {
	if f.includes != nil && !matchAny(f.includes, lang, bundleID) {
		return false
	}
	if f.excludes != nil && matchAny(f.excludes, lang, bundleID) {
		return false
	}
	return true
}

// Binary reports whether binaries of bundleID may be thinned. Only excludes
// apply, by bundle identifier.
func (f Filter) Binary(bundleID string) bool {
	if f.excludes == nil || bundleID == "" {
		return true
	}
	return !matchAny(f.excludes, "", bundleID)
}

// Match reports whether s matches pattern, ignoring case. A malformed
// pattern only matches itself.
func Match(pattern, s string) bool {
	pattern, s = strings.ToLower(pattern), strings.ToLower(s)
	ok, err := path.Match(pattern, s)
	if err != nil {
		return pattern == s
	}
	return ok
}

func matchAny(patterns []string, values ...string) bool {
	for _, p := range patterns {
		for _, v := range values {
			if v != "" && Match(p, v) {
				return true
			}
		}
	}
	return false
}

func lowerAll(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}
