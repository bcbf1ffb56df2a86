package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

// clearEnv unsets the override variables for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"MONOLINGUAL_SOCKET", "MONOLINGUAL_TRASH", "MONOLINGUAL_STRIP",
		"MONOLINGUAL_DRY_RUN", "MONOLINGUAL_WORKERS", "MONOLINGUAL_THIN",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), configFileName)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig_MissingFileGivesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if !reflect.DeepEqual(cfg, DefaultConfig()) {
		t.Fatalf("cfg = %+v, want defaults", cfg)
	}
}

func TestLoadConfig_MergesPresentFieldsOnly(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `{
		"trash": true,
		"keepLanguages": [],
		"thin": ["ppc"],
		"socketPath": "",
		"workers": 2
	}`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if !cfg.Trash || cfg.Strip {
		t.Fatalf("Trash=%v Strip=%v", cfg.Trash, cfg.Strip)
	}
	if cfg.KeepLanguages == nil || len(cfg.KeepLanguages) != 0 {
		t.Fatalf("KeepLanguages = %#v, want empty list", cfg.KeepLanguages)
	}
	if !reflect.DeepEqual(cfg.Thin, []string{"ppc"}) || cfg.Workers != 2 {
		t.Fatalf("Thin=%v Workers=%d", cfg.Thin, cfg.Workers)
	}
	if cfg.SocketPath != DefaultSocketPath {
		t.Fatalf("empty socketPath replaced the default: %q", cfg.SocketPath)
	}
	if !reflect.DeepEqual(cfg.Roots, DefaultRoots()) {
		t.Fatalf("Roots = %+v", cfg.Roots)
	}
}

func TestLoadConfig_BadJSON(t *testing.T) {
	clearEnv(t)
	if _, err := LoadConfig(writeConfig(t, `{"trash": "yes"`)); err == nil {
		t.Fatal("LoadConfig accepted malformed JSON")
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `{"strip": false, "socketPath": "/tmp/file.sock"}`)
	t.Setenv("MONOLINGUAL_STRIP", "true")
	t.Setenv("MONOLINGUAL_SOCKET", "/tmp/env.sock")
	t.Setenv("MONOLINGUAL_THIN", " ppc, ,i386 ")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if !cfg.Strip || cfg.SocketPath != "/tmp/env.sock" {
		t.Fatalf("Strip=%v SocketPath=%q", cfg.Strip, cfg.SocketPath)
	}
	if !reflect.DeepEqual(cfg.Thin, []string{"ppc", "i386"}) {
		t.Fatalf("Thin = %v", cfg.Thin)
	}
}

func TestLoadConfig_EnvFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `{}`)
	env := filepath.Join(filepath.Dir(path), envFileName)
	if err := os.WriteFile(env, []byte("MONOLINGUAL_WORKERS=3\nMONOLINGUAL_DRY_RUN=1\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	// The process environment wins over the env file.
	t.Setenv("MONOLINGUAL_DRY_RUN", "false")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Workers != 3 || cfg.DryRun {
		t.Fatalf("Workers=%d DryRun=%v", cfg.Workers, cfg.DryRun)
	}
}

func TestLoadConfig_InvalidEnv(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `{}`)
	for k, v := range map[string]string{
		"MONOLINGUAL_TRASH":   "maybe",
		"MONOLINGUAL_WORKERS": "-1",
	} {
		t.Run(k, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(k, v)
			if _, err := LoadConfig(path); err == nil {
				t.Fatalf("%s=%s accepted", k, v)
			}
		})
	}
}

func TestIsProtectedPath(t *testing.T) {
	roots := []string{"/Applications", "/Library/"}
	tests := []struct {
		path string
		want bool
	}{
		{"/", true},
		{"/System/Library/CoreServices/Finder.app", true},
		{"/usr/lib/libSystem.B.dylib", true},
		{"/usr/local/share/foo/de.lproj", false},
		{"/Applications", true},
		{"/Library", true},
		{"/Applications/Foo.app/Contents/Resources/de.lproj", false},
		{"/Systemic/de.lproj", false},
		{"/etc/passwd", true},
		{"/var/lib/dpkg/status", true},
		{"/home/alice", true},
		{"/home/alice/Downloads/de.lproj", false},
		{"/var/root", false},
	}
	for _, tt := range tests {
		if got := IsProtectedPath(tt.path, roots, "/home/alice/"); got != tt.want {
			t.Fatalf("IsProtectedPath(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
