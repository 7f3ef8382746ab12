package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
)

// FileName is the TOML config file for user preferences.
const FileName = "config.toml"

// Backend names accepted by [storage].backend.
const (
	BackendSQLite = "sqlite"
	BackendJSON   = "json"
)

// Config represents user-facing configuration in TOML format.
type Config struct {
	// Storage selects and locates the persistence backend
	Storage StorageSettings `toml:"storage"`

	// Search tunes the hybrid matcher thresholds
	Search SearchSettings `toml:"search"`

	// Logs defines structured log output settings
	Logs LogSettings `toml:"logs"`
}

// StorageSettings defines persistence configuration.
type StorageSettings struct {
	// Backend is "sqlite" (default) or "json"
	Backend string `toml:"backend"`

	// DataDir overrides the default data directory (~/.chatvault)
	DataDir string `toml:"data_dir"`
}

// SearchSettings defines search thresholds. Zero values fall back to the
// engine defaults.
type SearchSettings struct {
	// SubstringThreshold is the minimum score for short-query substring
	// matches (default: 0.1)
	SubstringThreshold float64 `toml:"substring_threshold"`

	// FuzzyThreshold is the minimum similarity ratio for fuzzy matches
	// (default: 0.6)
	FuzzyThreshold float64 `toml:"fuzzy_threshold"`

	// ShortQueryLimit is the query length below which substring matching
	// is used (default: 3)
	ShortQueryLimit int `toml:"short_query_limit"`

	// SnippetWindow is the runes of context kept around a match in
	// excerpts (default: 40)
	SnippetWindow int `toml:"snippet_window"`
}

// LogSettings defines log output configuration.
type LogSettings struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `toml:"level"`

	// Format sets the log format: "json" (default) or "text"
	Format string `toml:"format"`

	// MaxSizeMB is the max size in MB before rotation (default: 10)
	MaxSizeMB int `toml:"max_size_mb"`

	// MaxBackups is the number of rotated files to keep (default: 5)
	MaxBackups int `toml:"max_backups"`

	// RetentionDays is days to keep rotated files (default: 10)
	RetentionDays int `toml:"retention_days"`

	// Compress enables gzip compression for rotated files (default: true)
	Compress bool `toml:"compress"`
}

var defaultConfig = Config{
	Storage: StorageSettings{Backend: BackendSQLite},
	Search: SearchSettings{
		SubstringThreshold: 0.1,
		FuzzyThreshold:     0.6,
		ShortQueryLimit:    3,
		SnippetWindow:      40,
	},
	Logs: LogSettings{
		Level:         "info",
		Format:        "json",
		MaxSizeMB:     10,
		MaxBackups:    5,
		RetentionDays: 10,
		Compress:      true,
	},
}

var (
	cache   *Config
	cacheMu sync.RWMutex
)

// Dir returns the data/config directory, honoring the CHATVAULT_DIR
// override used by tests and multi-profile setups.
func Dir() (string, error) {
	if dir := os.Getenv("CHATVAULT_DIR"); dir != "" {
		return dir, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".chatvault"), nil
}

// Path returns the config file path.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName), nil
}

// Load reads the config, caching the result. A missing file yields the
// defaults. A parse error also yields the defaults so the process starts,
// with the error returned for display.
func Load() (*Config, error) {
	cacheMu.RLock()
	if cache != nil {
		defer cacheMu.RUnlock()
		return cache, nil
	}
	cacheMu.RUnlock()

	cacheMu.Lock()
	defer cacheMu.Unlock()

	// Double-check after acquiring write lock
	if cache != nil {
		return cache, nil
	}

	path, err := Path()
	if err != nil {
		c := defaultConfig
		cache = &c
		return cache, nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		c := defaultConfig
		cache = &c
		return cache, nil
	}

	cfg := defaultConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		c := defaultConfig
		cache = &c
		return cache, fmt.Errorf("config.toml parse error: %w", err)
	}

	if cfg.Storage.Backend != BackendSQLite && cfg.Storage.Backend != BackendJSON {
		cfg.Storage.Backend = BackendSQLite
	}

	cache = &cfg
	return cache, nil
}

// ClearCache drops the cached config so the next Load re-reads the file.
func ClearCache() {
	cacheMu.Lock()
	cache = nil
	cacheMu.Unlock()
}

// Save writes the config atomically (temp file, fsync, rename) and clears
// the cache so the next Load picks up the changes.
func Save(cfg *Config) error {
	path, err := Path()
	if err != nil {
		return fmt.Errorf("failed to get config path: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("# ChatVault Configuration\n")
	buf.WriteString("# Edit this file or use 'chatvault config'\n\n")

	encoder := toml.NewEncoder(&buf)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if f, err := os.Open(tmpPath); err == nil {
		_ = f.Sync()
		f.Close()
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to finalize config save: %w", err)
	}

	ClearCache()
	return nil
}
