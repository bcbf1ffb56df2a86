package scan

import (
	"os"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"howett.net/plist"
)

const defaultBundleCacheSize = 4096

// bundleExtensions are directory suffixes that mark a flat bundle, whose
// Info.plist sits directly inside it.
var bundleExtensions = map[string]bool{
	".app":         true,
	".appex":       true,
	".bundle":      true,
	".component":   true,
	".framework":   true,
	".kext":        true,
	".mdimporter":  true,
	".plugin":      true,
	".prefpane":    true,
	".qlgenerator": true,
	".saver":       true,
	".xpc":         true,
}

type bundleInfo struct {
	isBundle bool
	id       string
}

// BundleResolver answers "is this directory a bundle, and what is its
// identifier" with a bounded per-run cache.
type BundleResolver struct {
	cache *lru.Cache[string, bundleInfo]
}

// NewBundleResolver creates a resolver caching up to size directories.
func NewBundleResolver(size int) *BundleResolver {
	if size <= 0 {
		size = defaultBundleCacheSize
	}
	cache, _ := lru.New[string, bundleInfo](size)
	return &BundleResolver{cache: cache}
}

// Lookup reports whether dir is a bundle and returns its CFBundleIdentifier,
// which may be empty.
func (b *BundleResolver) Lookup(dir string) (id string, ok bool) {
	info := b.lookup(filepath.Clean(dir))
	return info.id, info.isBundle
}

// Owner returns the identifier of the nearest bundle at or above path.
func (b *BundleResolver) Owner(path string) string {
	p := filepath.Clean(path)
	for {
		if info := b.lookup(p); info.isBundle {
			return info.id
		}
		parent := filepath.Dir(p)
		if parent == p {
			return ""
		}
		p = parent
	}
}

func (b *BundleResolver) lookup(dir string) bundleInfo {
	if info, ok := b.cache.Get(dir); ok {
		return info
	}
	info := readBundle(dir)
	b.cache.Add(dir, info)
	return info
}

func readBundle(dir string) bundleInfo {
	candidates := []string{
		filepath.Join(dir, "Contents", "Info.plist"),
		filepath.Join(dir, "Resources", "Info.plist"),
	}
	if bundleExtensions[strings.ToLower(filepath.Ext(dir))] {
		candidates = append(candidates, filepath.Join(dir, "Info.plist"))
	}
	for _, p := range candidates {
		fi, err := os.Stat(p)
		if err != nil || !fi.Mode().IsRegular() {
			continue
		}
		return bundleInfo{isBundle: true, id: readBundleID(p)}
	}
	return bundleInfo{}
}

// readBundleID decodes CFBundleIdentifier from an XML or binary plist.
func readBundleID(infoPlist string) string {
	f, err := os.Open(infoPlist)
	if err != nil {
		return ""
	}
	defer f.Close()

	var info struct {
		Identifier string `plist:"CFBundleIdentifier"`
	}
	if err := plist.NewDecoder(f).Decode(&info); err != nil {
		return ""
	}
	return strings.TrimSpace(info.Identifier)
}
