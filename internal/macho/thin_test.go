package macho

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/lakshaymaurya-felt/monolingual/internal/macho/machotest"
)

func writeFat(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "Foo")
	if err := os.WriteFile(path, data, 0o755); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func TestThin_RewritesInPlace(t *testing.T) {
	original := machotest.Fat(false, machotest.I386, machotest.X8664, machotest.Arm64)
	path := writeFat(t, original)

	res, err := Thin(path, map[string]bool{"i386": true, "ppc": true}, false)
	if err != nil {
		t.Fatalf("Thin: %v", err)
	}
	if len(res.Removed) != 1 || res.Removed[0] != "i386" {
		t.Fatalf("removed = %v, want [i386]", res.Removed)
	}
	if len(res.Kept) != 2 {
		t.Fatalf("kept = %v", res.Kept)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if res.Saved != int64(len(original)-len(data)) {
		t.Fatalf("saved = %d, want %d", res.Saved, len(original)-len(data))
	}
	f := openBytes(t, data)
	if got := f.Architectures(); len(got) != 2 || got[0] != "x86_64" || got[1] != "arm64" {
		t.Fatalf("architectures after thinning = %v", got)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o755 {
		t.Fatalf("mode = %v, want 0755", info.Mode().Perm())
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Fatalf("temporary files left behind: %v", entries)
	}
}

func TestThin_SingleRetainedSliceBecomesThin(t *testing.T) {
	path := writeFat(t, machotest.Fat(false, machotest.I386, machotest.X8664))

	if _, err := Thin(path, map[string]bool{"i386": true}, false); err != nil {
		t.Fatalf("Thin: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !IsMachO(data) || IsFat(data) {
		t.Fatal("output is not a plain Mach-O image")
	}
	if !bytes.Equal(data, machotest.X8664.Image()) {
		t.Fatal("output differs from the retained slice")
	}
}

func TestThin_DryRunLeavesFileAlone(t *testing.T) {
	original := machotest.Fat(false, machotest.I386, machotest.X8664)
	path := writeFat(t, original)

	res, err := Thin(path, map[string]bool{"i386": true}, true)
	if err != nil {
		t.Fatalf("Thin: %v", err)
	}
	if res.Saved <= 0 {
		t.Fatalf("dry run saved = %d, want a positive estimate", res.Saved)
	}
	data, _ := os.ReadFile(path)
	if !bytes.Equal(data, original) {
		t.Fatal("dry run modified the file")
	}
}

func TestThin_RefusesLastArchitecture(t *testing.T) {
	original := machotest.Fat(false, machotest.I386, machotest.X8664)
	path := writeFat(t, original)

	_, err := Thin(path, map[string]bool{"i386": true, "x86_64": true}, false)
	if !errors.Is(err, ErrLastArchitecture) {
		t.Fatalf("err = %v, want ErrLastArchitecture", err)
	}
	data, _ := os.ReadFile(path)
	if !bytes.Equal(data, original) {
		t.Fatal("refused thinning still modified the file")
	}
}

func TestThin_NotFat(t *testing.T) {
	path := writeFat(t, machotest.X8664.Image())
	if _, err := Thin(path, map[string]bool{"x86_64": true}, false); !errors.Is(err, ErrNotFat) {
		t.Fatalf("err = %v, want ErrNotFat", err)
	}
}

func TestThin_KeepsSetIDBits(t *testing.T) {
	path := writeFat(t, machotest.Fat(false, machotest.I386, machotest.X8664))
	want := 0o755 | os.ModeSetuid | os.ModeSetgid
	if err := os.Chmod(path, want); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	if info, err := os.Stat(path); err != nil || info.Mode() != want {
		t.Skipf("filesystem does not keep set-id bits: %v", err)
	}

	if _, err := Thin(path, map[string]bool{"i386": true}, false); err != nil {
		t.Fatalf("Thin: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if got := info.Mode() & (os.ModePerm | os.ModeSetuid | os.ModeSetgid); got != want {
		t.Fatalf("mode = %v, want %v", got, want)
	}
}
