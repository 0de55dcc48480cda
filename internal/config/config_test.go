package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cscouto/acache/internal/config"
)

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.Load(filepath.Join(dir, "acached.conf"))
	require.NoError(t, err)
	require.Equal(t, config.Default(), cfg)
}

func TestLoadParsesJSONC(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "acached.conf")
	doc := []byte(`{
  // overriding just the capacity
  "cache_capacity": 128,
  "ad_address": "/tmp/ad.sock",
}`)
	require.NoError(t, os.WriteFile(path, doc, 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, 128, cfg.CacheCapacity)
	require.Equal(t, "/tmp/ad.sock", cfg.ADAddress)
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "acached.conf")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := config.Load(path)
	require.Error(t, err)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "acached.conf")
	want := config.Config{CacheCapacity: 777, ADAddress: "127.0.0.1:9999", MetricsAddress: ":9090"}

	require.NoError(t, config.Save(path, want))
	got, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestPathCreatesProgramDirectory(t *testing.T) {
	root := t.TempDir()
	path, err := config.Path(root, "acached", "acached.conf")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "acached", "acached.conf"), path)

	info, err := os.Stat(filepath.Join(root, "acached"))
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestRootPrefersEnvVar(t *testing.T) {
	t.Setenv("ALLNET_CONFIG", "/custom/root")
	root, err := config.Root()
	require.NoError(t, err)
	require.Equal(t, "/custom/root", root)
}
