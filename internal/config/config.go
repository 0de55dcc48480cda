// Package config locates and loads the JSON-with-comments configuration
// document, in the spirit of the original configfiles.c: a per-program file
// under a root directory that is created if missing, resolved from
// ALLNET_CONFIG or $HOME/.allnet unless a root was set explicitly.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	atomicfile "github.com/natefinch/atomic"
	"github.com/tailscale/hujson"
)

const (
	homeExt    = ".allnet"
	envRootVar = "ALLNET_CONFIG"
)

// Config is the document read from and written to the program's config
// file. Fields mirror the runtime knobs named in spec.md §6.3 and §3.
type Config struct {
	// CacheCapacity is the number of packets the dispatcher's rotating
	// cache holds (spec.md §3.1).
	CacheCapacity int `json:"cache_capacity"`

	// ADAddress is the address (host:port, or unix:/path for a Unix
	// socket) the AD collaborator listens on.
	ADAddress string `json:"ad_address"`

	// MetricsAddress is the listen address for the Prometheus /metrics
	// and /debug/acache/snapshot HTTP endpoints. Empty disables them.
	MetricsAddress string `json:"metrics_address,omitempty"`

	// KeyringDir, if set, backs cmd/keyd's identity keyring with a
	// Badger directory instead of an in-memory one (SPEC_FULL.md §10.5).
	KeyringDir string `json:"keyring_dir,omitempty"`
}

// Default returns the configuration used when no file is found.
func Default() Config {
	return Config{
		CacheCapacity: 1024,
		ADAddress:     "",
	}
}

// Root resolves the config root directory: ALLNET_CONFIG if set, otherwise
// $HOME/.allnet. Unlike the original C, it does not special-case an iOS
// application-support path -- this module targets server/daemon deployment.
func Root() (string, error) {
	if env := os.Getenv(envRootVar); env != "" {
		return env, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve home directory: %w", err)
	}
	return filepath.Join(home, homeExt), nil
}

// Path returns the full path to program's config file under root,
// creating the program's subdirectory (mode 0700) if it does not exist.
func Path(root, program, file string) (string, error) {
	dir := filepath.Join(root, program)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("config: create directory %s: %w", dir, err)
	}
	return filepath.Join(dir, file), nil
}

// Load reads and parses path as JSONC, falling back to Default() if the
// file does not exist. A malformed existing file is reported as an error.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("config: invalid JSONC in %s: %w", path, err)
	}

	cfg := Default()
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: invalid JSON in %s: %w", path, err)
	}
	return cfg, nil
}

// Save serializes cfg as indented JSON and writes it to path atomically, so
// a crash mid-write can never leave a truncated or corrupt config file.
func Save(path string, cfg Config) error {
	buf, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	buf = append(buf, '\n')
	if err := atomicfile.WriteFile(path, bytes.NewReader(buf)); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}
