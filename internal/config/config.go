// Topicmirror - Chat Video Ingestion and Topic Mirroring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/topicmirror

// Package config loads the agent configuration using Koanf v2 with
// layered sources: struct defaults, then an optional YAML file, then
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, in order.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/topicmirror/config.yaml",
	"/etc/topicmirror/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "TOPICMIRROR_CONFIG"

// EnvPrefix is stripped from environment variables before mapping them
// to config paths.
const EnvPrefix = "TOPICMIRROR_"

// Config is the agent's full configuration.
type Config struct {
	// SortedGroupName is the destination forum group's display name.
	SortedGroupName string `koanf:"sorted_group_name"`

	// VideoMatches is the non-empty keyword list; one destination topic
	// per keyword.
	VideoMatches []string `koanf:"video_matches"`

	// VideoExclusions are substrings that veto a match.
	VideoExclusions []string `koanf:"video_exclusions"`

	// SourceGroups names or IDs of source chats. Empty means every
	// accessible group and channel.
	SourceGroups []string `koanf:"source_groups"`

	MinVideoDurationInSeconds int `koanf:"min_video_duration_in_seconds"`
	MaxVideoDurationInSeconds int `koanf:"max_video_duration_in_seconds"`

	MinFileSizeMB float64 `koanf:"min_file_size_mb"`
	MaxFileSizeMB float64 `koanf:"max_file_size_mb"`

	// MaxForwards caps forwarded source messages per run, across all
	// sources. Zero means unlimited.
	MaxForwards int `koanf:"max_forwards"`

	DryRun      bool `koanf:"dry_run"`
	SkipCleanup bool `koanf:"skip_cleanup"`

	DuplicateDetection DuplicateDetectionConfig `koanf:"duplicate_detection"`
	Database           DatabaseConfig           `koanf:"database"`
	Ingest             IngestConfig             `koanf:"ingest"`
	Transport          TransportConfig          `koanf:"transport"`
	Server             ServerConfig             `koanf:"server"`
	Logging            LoggingConfig            `koanf:"logging"`
}

// DuplicateDetectionConfig is the oracle policy.
type DuplicateDetectionConfig struct {
	CheckDuration            bool    `koanf:"check_duration"`
	DurationToleranceSeconds int     `koanf:"duration_tolerance_seconds"`
	CheckFileSize            bool    `koanf:"check_file_size"`
	FileSizeTolerancePercent float64 `koanf:"file_size_tolerance_percent"`
	CheckResolution          bool    `koanf:"check_resolution"`
	ResolutionTolerancePct   float64 `koanf:"resolution_tolerance_percent"`
	CheckMimeType            bool    `koanf:"check_mime_type"`
	NormalizeFilenames       bool    `koanf:"normalize_filenames"`
}

// DatabaseConfig locates the persisted state.
type DatabaseConfig struct {
	// DataDir holds the store, caches, logs, and checkpoints.
	DataDir string `koanf:"data_dir"`
}

// IngestConfig controls the run loop.
type IngestConfig struct {
	// Interval between scan cycles. Zero runs one cycle and exits.
	Interval time.Duration `koanf:"interval"`

	// Checkpoints enables resumable per-source scan positions.
	Checkpoints bool `koanf:"checkpoints"`
}

// TransportConfig selects the upstream chat transport.
type TransportConfig struct {
	// Mode is "simulation" (in-memory fake network) or empty for a
	// real transport supplied at build time.
	Mode string `koanf:"mode"`
}

// ServerConfig controls the ops HTTP listener.
type ServerConfig struct {
	// Addr for /healthz and /metrics. Empty disables the listener.
	Addr string `koanf:"addr"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns the built-in defaults, overridden by file and
// environment layers.
func defaultConfig() *Config {
	return &Config{
		SortedGroupName:           "Sorted Videos",
		MinVideoDurationInSeconds: 0,
		MaxForwards:               0,
		DuplicateDetection: DuplicateDetectionConfig{
			DurationToleranceSeconds: 30,
			FileSizeTolerancePercent: 5,
			ResolutionTolerancePct:   10,
			NormalizeFilenames:       true,
		},
		Database: DatabaseConfig{
			DataDir: "data",
		},
		Ingest: IngestConfig{
			Interval:    0,
			Checkpoints: false,
		},
		Server: ServerConfig{
			Addr: "",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file,
// and TOPICMIRROR_* environment variables, then validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate rejects configurations the agent must not start with.
func (c *Config) Validate() error {
	if len(c.VideoMatches) == 0 {
		return errors.New("video_matches must not be empty")
	}
	for _, keyword := range c.VideoMatches {
		if strings.TrimSpace(keyword) == "" {
			return errors.New("video_matches must not contain blank keywords")
		}
	}
	if c.SortedGroupName == "" {
		return errors.New("sorted_group_name must not be empty")
	}
	if c.MinVideoDurationInSeconds < 0 {
		return errors.New("min_video_duration_in_seconds must not be negative")
	}
	if c.MaxVideoDurationInSeconds < 0 {
		return errors.New("max_video_duration_in_seconds must not be negative")
	}
	if c.MaxVideoDurationInSeconds > 0 && c.MaxVideoDurationInSeconds < c.MinVideoDurationInSeconds {
		return errors.New("max_video_duration_in_seconds must not be below the minimum")
	}
	if c.MinFileSizeMB < 0 || c.MaxFileSizeMB < 0 {
		return errors.New("file size bounds must not be negative")
	}
	if c.MaxFileSizeMB > 0 && c.MaxFileSizeMB < c.MinFileSizeMB {
		return errors.New("max_file_size_mb must not be below the minimum")
	}
	if c.MaxForwards < 0 {
		return errors.New("max_forwards must not be negative")
	}
	if d := c.DuplicateDetection; d.DurationToleranceSeconds < 0 || d.FileSizeTolerancePercent < 0 || d.ResolutionTolerancePct < 0 {
		return errors.New("duplicate_detection tolerances must not be negative")
	}
	if c.Database.DataDir == "" {
		return errors.New("database.data_dir must not be empty")
	}
	switch c.Transport.Mode {
	case "", "simulation":
	default:
		return fmt.Errorf("unknown transport.mode %q", c.Transport.Mode)
	}
	return nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// nestedSections are the config subtrees; an environment key starting
// with one maps into that subtree. Everything else is a top-level key.
var nestedSections = []string{
	"duplicate_detection",
	"database",
	"ingest",
	"transport",
	"server",
	"logging",
}

// envTransformFunc maps TOPICMIRROR_* variables to config paths:
// TOPICMIRROR_MAX_FORWARDS -> max_forwards,
// TOPICMIRROR_LOGGING_LEVEL -> logging.level.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	for _, section := range nestedSections {
		if strings.HasPrefix(key, section+"_") {
			return section + "." + strings.TrimPrefix(key, section+"_")
		}
	}
	return key
}

// sliceConfigPaths are parsed from comma-separated strings when set via
// environment variables.
var sliceConfigPaths = []string{
	"video_matches",
	"video_exclusions",
	"source_groups",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}
		str, ok := val.(string)
		if !ok {
			continue // already a slice from the YAML layer
		}
		parts := strings.Split(str, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if err := k.Set(path, out); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}
