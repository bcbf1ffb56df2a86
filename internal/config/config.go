package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	configDirName  = "monolingual"
	configFileName = "config.json"
	envFileName    = "monolingual.env"
)

// Config is the controller's configuration. It is loaded once at startup
// and passed explicitly to whatever builds requests.
type Config struct {
	Roots           []RootConfig `json:"roots"`
	Trash           bool         `json:"trash"`
	Strip           bool         `json:"strip"`
	DryRun          bool         `json:"dryRun"`
	RemoveLanguages []string     `json:"removeLanguages"`
	KeepLanguages   []string     `json:"keepLanguages"`
	Thin            []string     `json:"thin"`
	BundleBlacklist []string     `json:"bundleBlacklist"`
	SocketPath      string       `json:"socketPath"`
	Workers         int          `json:"workers"`
}

type fileConfig struct {
	Roots           []RootConfig `json:"roots"`
	Trash           *bool        `json:"trash"`
	Strip           *bool        `json:"strip"`
	DryRun          *bool        `json:"dryRun"`
	RemoveLanguages []string     `json:"removeLanguages"`
	KeepLanguages   []string     `json:"keepLanguages"`
	Thin            []string     `json:"thin"`
	BundleBlacklist []string     `json:"bundleBlacklist"`
	SocketPath      *string      `json:"socketPath"`
	Workers         *int         `json:"workers"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Roots:           DefaultRoots(),
		Trash:           false,
		Strip:           false,
		KeepLanguages:   DefaultKeepLanguages(),
		BundleBlacklist: DefaultBundleBlacklist(),
		SocketPath:      DefaultSocketPath,
	}
}

// ConfigPath returns the location of the JSON config file.
func ConfigPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, configDirName, configFileName), nil
}

// LoadConfig reads the config file at path (or the default location when
// path is empty), then applies an optional env file and MONOLINGUAL_*
// environment overrides. A missing config file is not an error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		p, err := ConfigPath()
		if err != nil {
			return applyEnv(cfg, "")
		}
		path = p
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		var stored fileConfig
		if err := json.Unmarshal(data, &stored); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
		cfg = mergeConfig(cfg, stored)
	case !os.IsNotExist(err):
		return cfg, err
	}

	return applyEnv(cfg, filepath.Join(filepath.Dir(path), envFileName))
}

// SaveConfig writes cfg to the default config location.
func SaveConfig(cfg Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func mergeConfig(base Config, stored fileConfig) Config {
	merged := base
	if stored.Roots != nil {
		merged.Roots = stored.Roots
	}
	if stored.Trash != nil {
		merged.Trash = *stored.Trash
	}
	if stored.Strip != nil {
		merged.Strip = *stored.Strip
	}
	if stored.DryRun != nil {
		merged.DryRun = *stored.DryRun
	}
	if stored.RemoveLanguages != nil {
		merged.RemoveLanguages = stored.RemoveLanguages
	}
	if stored.KeepLanguages != nil {
		merged.KeepLanguages = stored.KeepLanguages
	}
	if stored.Thin != nil {
		merged.Thin = stored.Thin
	}
	if stored.BundleBlacklist != nil {
		merged.BundleBlacklist = stored.BundleBlacklist
	}
	if stored.SocketPath != nil && *stored.SocketPath != "" {
		merged.SocketPath = *stored.SocketPath
	}
	if stored.Workers != nil && *stored.Workers >= 0 {
		merged.Workers = *stored.Workers
	}
	return merged
}

// ─── Environment ─────────────────────────────────────────────────────────────

// applyEnv loads envFile (if present) into the process environment without
// overriding variables that are already set, then applies overrides.
func applyEnv(cfg Config, envFile string) (Config, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return cfg, fmt.Errorf("load %s: %w", envFile, err)
			}
		}
	}

	if v := strings.TrimSpace(os.Getenv("MONOLINGUAL_SOCKET")); v != "" {
		cfg.SocketPath = v
	}
	for name, dst := range map[string]*bool{
		"MONOLINGUAL_TRASH":   &cfg.Trash,
		"MONOLINGUAL_STRIP":   &cfg.Strip,
		"MONOLINGUAL_DRY_RUN": &cfg.DryRun,
	} {
		raw := strings.TrimSpace(os.Getenv(name))
		if raw == "" {
			continue
		}
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return cfg, fmt.Errorf("%s: %w", name, err)
		}
		*dst = b
	}
	if raw := strings.TrimSpace(os.Getenv("MONOLINGUAL_WORKERS")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return cfg, fmt.Errorf("MONOLINGUAL_WORKERS: invalid value %q", raw)
		}
		cfg.Workers = n
	}
	if raw := strings.TrimSpace(os.Getenv("MONOLINGUAL_THIN")); raw != "" {
		cfg.Thin = splitList(raw)
	}
	return cfg, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
