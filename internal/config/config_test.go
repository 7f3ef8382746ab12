package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func useTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("CHATVAULT_DIR", dir)
	ClearCache()
	t.Cleanup(ClearCache)
	return dir
}

func TestDirHonorsOverride(t *testing.T) {
	dir := useTempDir(t)

	got, err := Dir()
	require.NoError(t, err)
	require.Equal(t, dir, got)
}

func TestLoadDefaultsWhenMissing(t *testing.T) {
	useTempDir(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, BackendSQLite, cfg.Storage.Backend)
	require.InDelta(t, 0.1, cfg.Search.SubstringThreshold, 1e-9)
	require.InDelta(t, 0.6, cfg.Search.FuzzyThreshold, 1e-9)
	require.Equal(t, 3, cfg.Search.ShortQueryLimit)
	require.Equal(t, "info", cfg.Logs.Level)
	require.Equal(t, "json", cfg.Logs.Format)
	require.True(t, cfg.Logs.Compress)
}

func TestLoadIsCached(t *testing.T) {
	useTempDir(t)

	first, err := Load()
	require.NoError(t, err)
	second, err := Load()
	require.NoError(t, err)
	require.Same(t, first, second)
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	dir := useTempDir(t)

	content := "[search]\nfuzzy_threshold = 0.75\n\n[storage]\nbackend = \"json\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0o600))

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, BackendJSON, cfg.Storage.Backend)
	require.InDelta(t, 0.75, cfg.Search.FuzzyThreshold, 1e-9)
	// Unset keys keep their defaults
	require.InDelta(t, 0.1, cfg.Search.SubstringThreshold, 1e-9)
	require.Equal(t, "info", cfg.Logs.Level)
}

func TestLoadInvalidBackendFallsBack(t *testing.T) {
	dir := useTempDir(t)

	content := "[storage]\nbackend = \"oracle\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0o600))

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, BackendSQLite, cfg.Storage.Backend)
}

func TestLoadParseErrorReturnsDefaults(t *testing.T) {
	dir := useTempDir(t)

	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("not [valid toml"), 0o600))

	cfg, err := Load()
	require.Error(t, err)
	require.NotNil(t, cfg)
	require.Equal(t, BackendSQLite, cfg.Storage.Backend)
}

func TestSaveRoundtrip(t *testing.T) {
	dir := useTempDir(t)

	cfg, err := Load()
	require.NoError(t, err)

	modified := *cfg
	modified.Search.FuzzyThreshold = 0.8
	modified.Logs.Level = "debug"
	require.NoError(t, Save(&modified))

	// Save cleared the cache, so Load re-reads the file
	reloaded, err := Load()
	require.NoError(t, err)
	require.InDelta(t, 0.8, reloaded.Search.FuzzyThreshold, 1e-9)
	require.Equal(t, "debug", reloaded.Logs.Level)

	// No stray temp file
	_, err = os.Stat(filepath.Join(dir, FileName+".tmp"))
	require.True(t, os.IsNotExist(err))
}
