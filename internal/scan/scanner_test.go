package scan

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/lakshaymaurya-felt/monolingual/internal/config"
	"github.com/lakshaymaurya-felt/monolingual/internal/macho/machotest"
	"github.com/lakshaymaurya-felt/monolingual/internal/request"
)

const infoPlistTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>CFBundleIdentifier</key>
	<string>%s</string>
</dict>
</plist>
`

func writeFile(t *testing.T, path string, data []byte, mode os.FileMode) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, data, mode); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// makeApp creates an application bundle with the given localizations and
// returns its path.
func makeApp(t *testing.T, parent, name, id string, langs ...string) string {
	t.Helper()
	app := filepath.Join(parent, name)
	plist := []byte(fmt.Sprintf(infoPlistTemplate, id))
	writeFile(t, filepath.Join(app, "Contents", "Info.plist"), plist, 0o644)
	for _, lang := range langs {
		writeFile(t, filepath.Join(app, "Contents", "Resources", lang+".lproj", "Localizable.strings"), []byte("\"a\" = \"b\";"), 0o644)
	}
	return app
}

func collect(t *testing.T, req *request.HelperRequest) []Candidate {
	t.Helper()
	var out []Candidate
	for c := range New(req, Options{}).Candidates(context.Background()) {
		out = append(out, c)
	}
	SortCandidates(out)
	return out
}

func paths(cs []Candidate) []string {
	var out []string
	for _, c := range cs {
		out = append(out, c.Path)
	}
	return out
}

func realDir(t *testing.T) string {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatalf("EvalSymlinks: %v", err)
	}
	return dir
}

func TestCandidates_IncludesSelectLanguages(t *testing.T) {
	root := realDir(t)
	app := makeApp(t, root, "Foo.app", "com.example.foo", "de", "fr", "en")

	got := collect(t, &request.HelperRequest{
		Directories: request.NewStringSet(app),
		Includes:    []string{"de", "fr"},
	})
	want := []string{
		filepath.Join(app, "Contents", "Resources", "de.lproj"),
		filepath.Join(app, "Contents", "Resources", "fr.lproj"),
	}
	if !reflect.DeepEqual(paths(got), want) {
		t.Fatalf("candidates = %v, want %v", paths(got), want)
	}
	for _, c := range got {
		if c.Kind != KindLanguage || c.BundleID != "com.example.foo" {
			t.Fatalf("candidate %+v not tagged with its bundle", c)
		}
	}
}

func TestCandidates_ExcludesAndEmptyIncludes(t *testing.T) {
	root := realDir(t)
	app := makeApp(t, root, "Foo.app", "com.example.foo", "de", "en", "Base")

	got := collect(t, &request.HelperRequest{
		Directories: request.NewStringSet(app),
		Excludes:    []string{"EN", "base"},
	})
	if len(got) != 1 || got[0].Language != "de" {
		t.Fatalf("candidates = %v, want only de", paths(got))
	}

	got = collect(t, &request.HelperRequest{
		Directories: request.NewStringSet(app),
		Includes:    []string{},
	})
	if len(got) != 0 {
		t.Fatalf("empty includes admitted %v", paths(got))
	}
}

func TestCandidates_IncludeByBundlePattern(t *testing.T) {
	root := realDir(t)
	makeApp(t, root, "Foo.app", "com.example.foo", "de")
	makeApp(t, root, "Other.app", "org.other.app", "de")

	got := collect(t, &request.HelperRequest{
		Roots:    []request.Root{{Path: root, Languages: true}},
		Includes: []string{"com.example.*"},
	})
	if len(got) != 1 || got[0].BundleID != "com.example.foo" {
		t.Fatalf("candidates = %+v", got)
	}
}

func TestCandidates_BlacklistBeatsIncludes(t *testing.T) {
	root := realDir(t)
	makeApp(t, root, "Term.app", "com.apple.Terminal", "de", "fr")
	keep := makeApp(t, root, "Foo.app", "com.example.foo", "de")

	got := collect(t, &request.HelperRequest{
		Roots:           []request.Root{{Path: root, Languages: true}},
		Includes:        []string{"de", "fr", "com.apple.Terminal"},
		BundleBlacklist: request.NewStringSet("com.apple.Terminal"),
	})
	want := []string{filepath.Join(keep, "Contents", "Resources", "de.lproj")}
	if !reflect.DeepEqual(paths(got), want) {
		t.Fatalf("candidates = %v, want %v", paths(got), want)
	}
}

func TestCandidates_DeduplicatesOverlappingScopes(t *testing.T) {
	root := realDir(t)
	app := makeApp(t, root, "Foo.app", "com.example.foo", "de")
	link := filepath.Join(realDir(t), "alias.app")
	if err := os.Symlink(app, link); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	got := collect(t, &request.HelperRequest{
		Roots:       []request.Root{{Path: root, Languages: true}},
		Directories: request.NewStringSet(app, link),
	})
	if len(got) != 1 {
		t.Fatalf("candidates = %v, want one", paths(got))
	}
}

func TestCandidates_DoesNotFollowSymlinks(t *testing.T) {
	outside := realDir(t)
	makeApp(t, outside, "Elsewhere.app", "com.example.elsewhere", "de")

	root := realDir(t)
	if err := os.Symlink(outside, filepath.Join(root, "escape")); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	got := collect(t, &request.HelperRequest{Roots: []request.Root{{Path: root, Languages: true}}})
	if len(got) != 0 {
		t.Fatalf("walk escaped root: %v", paths(got))
	}
}

func TestCandidates_LanguagesOff(t *testing.T) {
	root := realDir(t)
	makeApp(t, root, "Foo.app", "com.example.foo", "de")
	got := collect(t, &request.HelperRequest{Roots: []request.Root{{Path: root, Architectures: true}}})
	if len(got) != 0 {
		t.Fatalf("languages disabled but got %v", paths(got))
	}
}

func TestCandidates_IgnoresStagingDirectories(t *testing.T) {
	root := realDir(t)
	writeFile(t, filepath.Join(root, config.StagingPrefix+"abc", "de.lproj", "x.strings"), []byte("x"), 0o644)
	got := collect(t, &request.HelperRequest{Roots: []request.Root{{Path: root, Languages: true}}})
	if len(got) != 0 {
		t.Fatalf("staging contents scanned: %v", paths(got))
	}
}

func TestCandidates_FatBinaries(t *testing.T) {
	root := realDir(t)
	app := makeApp(t, root, "Foo.app", "com.example.foo")
	exe := filepath.Join(app, "Contents", "MacOS", "Foo")
	writeFile(t, exe, machotest.Fat(false, machotest.PPC, machotest.I386, machotest.X8664), 0o755)
	// Not executable and no library suffix: never sniffed.
	writeFile(t, filepath.Join(app, "Contents", "Resources", "data.bin"), machotest.Fat(false, machotest.PPC, machotest.X8664), 0o644)
	// Fat but nothing to remove.
	writeFile(t, filepath.Join(app, "Contents", "MacOS", "helper"), machotest.Fat(false, machotest.X8664, machotest.Arm64), 0o755)

	req := &request.HelperRequest{
		DoStrip: true,
		Thin:    []string{"ppc", "i386"},
		Roots:   []request.Root{{Path: root, Architectures: true}},
	}
	got := collect(t, req)
	if len(got) != 1 || got[0].Path != exe || got[0].Kind != KindBinary {
		t.Fatalf("candidates = %+v", got)
	}
	if !reflect.DeepEqual(got[0].Thin, []string{"ppc", "i386"}) {
		t.Fatalf("thin = %v", got[0].Thin)
	}
	if !reflect.DeepEqual(got[0].Architectures, []string{"ppc", "i386", "x86_64"}) {
		t.Fatalf("architectures = %v", got[0].Architectures)
	}

	req.DoStrip = false
	if got := collect(t, req); len(got) != 0 {
		t.Fatalf("binaries scanned without doStrip: %v", paths(got))
	}
}

func TestCandidates_ExplicitFiles(t *testing.T) {
	root := realDir(t)
	layout := filepath.Join(root, "Dvorak.keylayout")
	writeFile(t, layout, []byte("<keyboard/>"), 0o644)
	thin := filepath.Join(root, "thin")
	writeFile(t, thin, machotest.X8664.Image(), 0o755)
	fat := filepath.Join(root, "fat")
	writeFile(t, fat, machotest.Fat(false, machotest.I386, machotest.X8664), 0o755)
	missing := filepath.Join(root, "missing")

	got := collect(t, &request.HelperRequest{
		DoStrip: true,
		Thin:    []string{"i386"},
		Files:   []string{layout, thin, fat, missing},
	})
	byPath := make(map[string]Candidate)
	for _, c := range got {
		byPath[c.Path] = c
	}

	if c := byPath[layout]; c.Kind != KindFile || c.Skip != "" {
		t.Fatalf("layout = %+v, want removable file", c)
	}
	if c := byPath[thin]; c.Kind != KindBinary || c.Skip == "" {
		t.Fatalf("thin binary = %+v, want skipped binary", c)
	}
	if c := byPath[fat]; c.Kind != KindBinary || c.Skip != "" || !reflect.DeepEqual(c.Thin, []string{"i386"}) {
		t.Fatalf("fat binary = %+v", c)
	}
	if c := byPath[missing]; c.Kind != KindScanError || c.Err == nil {
		t.Fatalf("missing = %+v, want scan error", c)
	}
}

func TestCandidates_ExplicitFileInBlacklistedBundle(t *testing.T) {
	root := realDir(t)
	app := makeApp(t, root, "Term.app", "com.apple.Terminal")
	item := filepath.Join(app, "Contents", "Resources", "extra.txt")
	writeFile(t, item, []byte("x"), 0o644)

	got := collect(t, &request.HelperRequest{
		Files:           []string{item},
		BundleBlacklist: request.NewStringSet("com.apple.Terminal"),
	})
	if len(got) != 1 || got[0].Skip == "" {
		t.Fatalf("candidates = %+v, want one skipped", got)
	}
}

func TestCandidates_StopsOnBreak(t *testing.T) {
	root := realDir(t)
	makeApp(t, root, "Foo.app", "com.example.foo", "de", "fr", "it", "ja")

	s := New(&request.HelperRequest{Roots: []request.Root{{Path: root, Languages: true}}}, Options{})
	n := 0
	for range s.Candidates(context.Background()) {
		n++
		if n == 2 {
			break
		}
	}
	if n != 2 {
		t.Fatalf("iterated %d, want 2", n)
	}
	if s.ScannedCount() == 0 {
		t.Fatal("scanned count not tracked")
	}
}

func TestCandidates_CanceledContext(t *testing.T) {
	root := realDir(t)
	makeApp(t, root, "Foo.app", "com.example.foo", "de")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for c := range New(&request.HelperRequest{Roots: []request.Root{{Path: root, Languages: true}}}, Options{}).Candidates(ctx) {
		t.Fatalf("canceled scan produced %+v", c)
	}
}
