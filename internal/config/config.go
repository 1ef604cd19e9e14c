// Package config loads service configuration from a TOML file,
// falling back to built-in defaults for anything unset.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml"
)

// Config holds the tunable limits and paths for the scan service.
type Config struct {
	ListenAddr string `toml:"listen_addr"`

	// FetchTimeoutSeconds bounds a single artifact download, including retries.
	FetchTimeoutSeconds int `toml:"fetch_timeout_seconds"`

	// MaxArtifactBytes is the hard cap on a downloaded distribution.
	MaxArtifactBytes int64 `toml:"max_artifact_bytes"`

	// MaxExtractedBytes is the absolute ceiling on cumulative extracted size.
	// The effective ceiling for a scan is max(10x declared archive size, this value).
	MaxExtractedBytes int64 `toml:"max_extracted_bytes"`

	// MaxFileBytes is the per-file cap; larger entries are skipped, not scanned.
	MaxFileBytes int64 `toml:"max_file_bytes"`

	// FetchAttempts is the total number of download attempts for transient failures.
	FetchAttempts int `toml:"fetch_attempts"`

	// RulePath points at a rule file or a directory of rule files.
	// Empty means the embedded default rule set.
	RulePath string `toml:"rule_path"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		ListenAddr:          ":8080",
		FetchTimeoutSeconds: 60,
		MaxArtifactBytes:    128 << 20, // 128 MiB
		MaxExtractedBytes:   512 << 20, // 512 MiB
		MaxFileBytes:        8 << 20,   // 8 MiB
		FetchAttempts:       3,
	}
}

// Load reads a TOML config file, layering it over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects values that would disable the safety limits.
func (c *Config) Validate() error {
	if c.FetchTimeoutSeconds <= 0 {
		return fmt.Errorf("fetch_timeout_seconds must be positive, got %d", c.FetchTimeoutSeconds)
	}
	if c.MaxArtifactBytes <= 0 {
		return fmt.Errorf("max_artifact_bytes must be positive, got %d", c.MaxArtifactBytes)
	}
	if c.MaxExtractedBytes <= 0 {
		return fmt.Errorf("max_extracted_bytes must be positive, got %d", c.MaxExtractedBytes)
	}
	if c.MaxFileBytes <= 0 {
		return fmt.Errorf("max_file_bytes must be positive, got %d", c.MaxFileBytes)
	}
	if c.FetchAttempts <= 0 {
		return fmt.Errorf("fetch_attempts must be positive, got %d", c.FetchAttempts)
	}
	return nil
}

// FetchTimeout returns the fetch timeout as a duration.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}
