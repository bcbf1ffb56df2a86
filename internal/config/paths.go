package config

import (
	"path/filepath"
	"strings"
)

// RootConfig is one configured scan root.
type RootConfig struct {
	// Path is the directory to scan.
	Path string `json:"path"`

	// Languages enables localization removal under Path.
	Languages bool `json:"languages"`

	// Architectures enables fat-binary thinning under Path.
	Architectures bool `json:"architectures"`
}

// DefaultSocketPath is where the privileged helper listens.
const DefaultSocketPath = "/var/run/monolingual-helper.sock"

// StagingPrefix names the hidden sibling an item is renamed to while it is
// being deleted. Scans never descend into such directories.
const StagingPrefix = ".scrub-"

// DefaultRoots returns the roots scanned when none are configured.
func DefaultRoots() []RootConfig {
	return []RootConfig{
		{Path: "/Applications", Languages: true, Architectures: true},
		{Path: "/Library", Languages: true, Architectures: true},
	}
}

// DefaultKeepLanguages are never removed unless the user overrides the list.
// Base.lproj holds storyboards shared by every localization.
func DefaultKeepLanguages() []string {
	return []string{"en", "English", "Base"}
}

// DefaultBundleBlacklist returns bundle identifiers that are never touched.
// These bundles either verify their own resources at launch or are needed to
// recover the system.
func DefaultBundleBlacklist() []string {
	return []string{
		"com.apple.Terminal",
		"com.apple.finder",
		"com.apple.loginwindow",
		"com.apple.systempreferences",
		"com.apple.iWork.Keynote",
		"com.apple.iWork.Numbers",
		"com.apple.iWork.Pages",
		"com.apple.Xcode",
		"com.adobe.acrobat.pro",
		"com.microsoft.Word",
		"com.microsoft.Excel",
		"com.microsoft.Powerpoint",
		"com.microsoft.Outlook",
		"com.skype.skype",
		"com.google.Chrome",
	}
}

// ─── Protected paths ─────────────────────────────────────────────────────────

// protectedTrees are directory trees the scrubber must never mutate,
// regardless of what a request asks for.
var protectedTrees = []string{
	"/System",
	"/bin",
	"/boot",
	"/dev",
	"/etc",
	"/lib",
	"/lib64",
	"/private/etc",
	"/private/var/db",
	"/proc",
	"/sbin",
	"/sys",
	"/usr",
	"/var/db",
	"/var/lib",
}

// protectedExceptions re-open subtrees of protectedTrees.
var protectedExceptions = []string{
	"/usr/local",
}

// IsProtectedPath reports whether path must never be removed or rewritten.
// The filesystem root, home (the requesting user's home directory, if
// known) and the configured roots themselves are always protected; their
// contents are not.
func IsProtectedPath(path string, roots []string, home string) bool {
	path = filepath.Clean(path)
	if path == string(filepath.Separator) {
		return true
	}
	if home != "" && path == filepath.Clean(home) {
		return true
	}
	for _, r := range roots {
		if path == filepath.Clean(r) {
			return true
		}
	}
	for _, ex := range protectedExceptions {
		if within(ex, path) {
			return false
		}
	}
	for _, tree := range protectedTrees {
		if within(tree, path) {
			return true
		}
	}
	return false
}

func within(root, path string) bool {
	if root == path {
		return true
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}
