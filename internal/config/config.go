// Package config loads and validates pipeline configuration from a YAML
// file, explicit defaults, and BLOCKINDEX_* environment overrides.
package config

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration surface of the pipeline. Every option
// has a default; nothing is read from implicit global state at run time.
type Config struct {
	// RootDir is the directory tree to scan for source drawings.
	RootDir string `yaml:"root_dir"`

	// Extensions lists the recognized source file extensions.
	Extensions []string `yaml:"extensions"`

	// ConverterPath is the external converter binary. Empty means probe
	// well-known install locations and $PATH.
	ConverterPath string `yaml:"converter_path"`

	// ConvertTimeout bounds a single converter invocation.
	ConvertTimeout time.Duration `yaml:"convert_timeout"`

	// Workers is the bounded worker pool size for per-file processing.
	Workers int `yaml:"workers"`

	// StagingDir holds staged batches awaiting publication.
	StagingDir string `yaml:"staging_dir"`

	// DeadLetterDir receives batches that exhausted publish retries.
	DeadLetterDir string `yaml:"dead_letter_dir"`

	// IndexPath is the SQLite search index database file.
	IndexPath string `yaml:"index_path"`

	// MaxBlockDepth bounds recursion through nested block references.
	MaxBlockDepth int `yaml:"max_block_depth"`

	// PublishBatchSize is the number of documents per index upsert batch.
	PublishBatchSize int `yaml:"publish_batch_size"`

	// PublishRetries bounds publish attempts before dead-lettering.
	PublishRetries int `yaml:"publish_retries"`

	// StagingRetries bounds retries of a failed staging write.
	StagingRetries int `yaml:"staging_retries"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // "json" or "console"
}

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		RootDir:          ".",
		Extensions:       []string{".dwg"},
		ConvertTimeout:   2 * time.Minute,
		Workers:          runtime.NumCPU(),
		StagingDir:       "staging",
		DeadLetterDir:    filepath.Join("staging", "deadletter"),
		IndexPath:        "blockindex.db",
		MaxBlockDepth:    8,
		PublishBatchSize: 100,
		PublishRetries:   5,
		StagingRetries:   3,
		LogLevel:         "info",
		LogFormat:        "json",
	}
}

// Load reads configuration from the given YAML file (if path is non-empty),
// applies environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays BLOCKINDEX_* environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("BLOCKINDEX_ROOT_DIR"); v != "" {
		c.RootDir = v
	}
	if v := os.Getenv("BLOCKINDEX_CONVERTER_PATH"); v != "" {
		c.ConverterPath = v
	}
	if v := os.Getenv("BLOCKINDEX_STAGING_DIR"); v != "" {
		c.StagingDir = v
	}
	if v := os.Getenv("BLOCKINDEX_INDEX_PATH"); v != "" {
		c.IndexPath = v
	}
	if v := os.Getenv("BLOCKINDEX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Workers = n
		}
	}
	if v := os.Getenv("BLOCKINDEX_CONVERT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.ConvertTimeout = d
		}
	}
	if v := os.Getenv("BLOCKINDEX_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// Validate checks option ranges. Converter resolution happens separately at
// startup because a missing binary is a fatal configuration error (surfaced
// once, never per file).
func (c *Config) Validate() error {
	if c.RootDir == "" {
		return fmt.Errorf("root_dir cannot be empty")
	}
	if len(c.Extensions) == 0 {
		return fmt.Errorf("extensions cannot be empty")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.ConvertTimeout <= 0 {
		return fmt.Errorf("convert_timeout must be positive")
	}
	if c.MaxBlockDepth <= 0 {
		return fmt.Errorf("max_block_depth must be positive, got %d", c.MaxBlockDepth)
	}
	if c.PublishBatchSize <= 0 {
		return fmt.Errorf("publish_batch_size must be positive, got %d", c.PublishBatchSize)
	}
	return nil
}

// ResolveConverter locates the converter binary: the configured path first,
// then well-known install locations, then $PATH. Returns the resolved
// absolute path or an error describing what was probed.
func (c *Config) ResolveConverter() (string, error) {
	if c.ConverterPath != "" {
		if _, err := os.Stat(c.ConverterPath); err != nil {
			return "", fmt.Errorf("configured converter %q not usable: %w", c.ConverterPath, err)
		}
		return c.ConverterPath, nil
	}

	candidates := []string{
		"/usr/bin/ODAFileConverter",
		"/usr/local/bin/ODAFileConverter",
		"/opt/oda/ODAFileConverter",
		"/opt/ODA/ODAFileConverter",
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".local", "bin", "ODAFileConverter"))
	}
	for _, p := range candidates {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
	}

	if p, err := exec.LookPath("ODAFileConverter"); err == nil {
		return p, nil
	}

	return "", fmt.Errorf("converter binary not found: set converter_path or install ODAFileConverter on $PATH")
}
