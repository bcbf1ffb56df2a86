package scan

import (
	"path/filepath"
	"testing"
)

func TestFilter_Language(t *testing.T) {
	tests := []struct {
		name     string
		includes []string
		excludes []string
		lang     string
		bundle   string
		want     bool
	}{
		{"no restriction", nil, nil, "de", "com.example.foo", true},
		{"empty includes block", []string{}, nil, "de", "com.example.foo", false},
		{"include by language", []string{"de"}, nil, "de", "", true},
		{"include miss", []string{"fr"}, nil, "de", "", false},
		{"include by bundle glob", []string{"com.example.*"}, nil, "de", "com.example.foo", true},
		{"case insensitive", []string{"ZH_*"}, nil, "zh_CN", "", true},
		{"exclude wins", []string{"*"}, []string{"en"}, "en", "", false},
		{"empty excludes allow", nil, []string{}, "en", "", true},
		{"exclude bundle", nil, []string{"com.apple.*"}, "de", "com.apple.mail", false},
		{"malformed pattern is literal", []string{"[de"}, nil, "[de", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFilter(tt.includes, tt.excludes)
			if got := f.Language(tt.lang, tt.bundle); got != tt.want {
				t.Fatalf("Language(%q, %q) = %v, want %v", tt.lang, tt.bundle, got, tt.want)
			}
		})
	}
}

func TestFilter_BinaryIgnoresIncludes(t *testing.T) {
	f := NewFilter([]string{}, []string{"com.example.keep"})
	if !f.Binary("com.example.other") {
		t.Fatal("includes applied to binaries")
	}
	if f.Binary("com.example.keep") {
		t.Fatal("excluded bundle thinned")
	}
	if !f.Binary("") {
		t.Fatal("loose binaries must not match bundle excludes")
	}
}

func TestBundleResolver_Owner(t *testing.T) {
	root := realDir(t)
	app := makeApp(t, root, "Foo.app", "com.example.foo", "de")
	fw := filepath.Join(app, "Contents", "Frameworks", "Bar.framework")
	writeFile(t, filepath.Join(fw, "Resources", "Info.plist"), []byte(`<?xml version="1.0"?><plist version="1.0"><dict><key>CFBundleIdentifier</key><string>com.example.bar</string></dict></plist>`), 0o644)

	b := NewBundleResolver(8)
	if id, ok := b.Lookup(app); !ok || id != "com.example.foo" {
		t.Fatalf("Lookup(app) = %q, %v", id, ok)
	}
	if got := b.Owner(filepath.Join(app, "Contents", "Resources", "de.lproj")); got != "com.example.foo" {
		t.Fatalf("owner of lproj = %q", got)
	}
	if got := b.Owner(filepath.Join(fw, "Resources", "en.lproj")); got != "com.example.bar" {
		t.Fatalf("owner inside framework = %q", got)
	}
	if got := b.Owner(root); got != "" {
		t.Fatalf("owner outside bundles = %q", got)
	}
}
