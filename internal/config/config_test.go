// Topicmirror - Chat Video Ingestion and Topic Mirroring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/topicmirror

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv(ConfigPathEnvVar, path)
}

func TestLoadDefaultsWithFile(t *testing.T) {
	writeConfigFile(t, `
video_matches:
  - keyword
`)

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "Sorted Videos", cfg.SortedGroupName)
	require.Equal(t, []string{"keyword"}, cfg.VideoMatches)
	require.Equal(t, "data", cfg.Database.DataDir)
	require.Equal(t, 30, cfg.DuplicateDetection.DurationToleranceSeconds)
	require.InDelta(t, 5.0, cfg.DuplicateDetection.FileSizeTolerancePercent, 1e-9)
	require.InDelta(t, 10.0, cfg.DuplicateDetection.ResolutionTolerancePct, 1e-9)
	require.True(t, cfg.DuplicateDetection.NormalizeFilenames)
	require.False(t, cfg.DuplicateDetection.CheckDuration)
	require.Equal(t, "info", cfg.Logging.Level)
	require.Zero(t, cfg.Ingest.Interval)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	writeConfigFile(t, `
sorted_group_name: My Archive
video_matches: [alpha, beta]
video_exclusions: [preview]
min_video_duration_in_seconds: 300
max_forwards: 25
dry_run: true
duplicate_detection:
  check_duration: true
  duration_tolerance_seconds: 45
ingest:
  interval: 15m
logging:
  level: debug
`)

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "My Archive", cfg.SortedGroupName)
	require.Equal(t, []string{"alpha", "beta"}, cfg.VideoMatches)
	require.Equal(t, []string{"preview"}, cfg.VideoExclusions)
	require.Equal(t, 300, cfg.MinVideoDurationInSeconds)
	require.Equal(t, 25, cfg.MaxForwards)
	require.True(t, cfg.DryRun)
	require.True(t, cfg.DuplicateDetection.CheckDuration)
	require.Equal(t, 45, cfg.DuplicateDetection.DurationToleranceSeconds)
	require.Equal(t, 15*time.Minute, cfg.Ingest.Interval)
	require.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	writeConfigFile(t, `
video_matches: [keyword]
max_forwards: 5
`)
	t.Setenv("TOPICMIRROR_MAX_FORWARDS", "50")
	t.Setenv("TOPICMIRROR_LOGGING_LEVEL", "warn")
	t.Setenv("TOPICMIRROR_DATABASE_DATA_DIR", "/var/lib/topicmirror")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 50, cfg.MaxForwards)
	require.Equal(t, "warn", cfg.Logging.Level)
	require.Equal(t, "/var/lib/topicmirror", cfg.Database.DataDir)
}

func TestLoadEnvSliceParsing(t *testing.T) {
	writeConfigFile(t, `
video_matches: [replaced]
`)
	t.Setenv("TOPICMIRROR_VIDEO_MATCHES", "alpha, beta ,gamma")
	t.Setenv("TOPICMIRROR_SOURCE_GROUPS", "123,My Group")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, []string{"alpha", "beta", "gamma"}, cfg.VideoMatches)
	require.Equal(t, []string{"123", "My Group"}, cfg.SourceGroups)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := defaultConfig()
		cfg.VideoMatches = []string{"keyword"}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(*Config) {},
		},
		{
			name:    "empty matches",
			mutate:  func(c *Config) { c.VideoMatches = nil },
			wantErr: "video_matches",
		},
		{
			name:    "blank keyword",
			mutate:  func(c *Config) { c.VideoMatches = []string{"keyword", "  "} },
			wantErr: "blank",
		},
		{
			name:    "empty group name",
			mutate:  func(c *Config) { c.SortedGroupName = "" },
			wantErr: "sorted_group_name",
		},
		{
			name: "max duration below min",
			mutate: func(c *Config) {
				c.MinVideoDurationInSeconds = 600
				c.MaxVideoDurationInSeconds = 300
			},
			wantErr: "max_video_duration_in_seconds",
		},
		{
			name: "max size below min",
			mutate: func(c *Config) {
				c.MinFileSizeMB = 100
				c.MaxFileSizeMB = 50
			},
			wantErr: "max_file_size_mb",
		},
		{
			name:    "negative forwards",
			mutate:  func(c *Config) { c.MaxForwards = -1 },
			wantErr: "max_forwards",
		},
		{
			name:    "negative tolerance",
			mutate:  func(c *Config) { c.DuplicateDetection.DurationToleranceSeconds = -1 },
			wantErr: "tolerances",
		},
		{
			name:    "empty data dir",
			mutate:  func(c *Config) { c.Database.DataDir = "" },
			wantErr: "data_dir",
		},
		{
			name:    "unknown transport",
			mutate:  func(c *Config) { c.Transport.Mode = "carrier-pigeon" },
			wantErr: "transport.mode",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				require.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestEnvTransform(t *testing.T) {
	require.Equal(t, "max_forwards", envTransformFunc("TOPICMIRROR_MAX_FORWARDS"))
	require.Equal(t, "logging.level", envTransformFunc("TOPICMIRROR_LOGGING_LEVEL"))
	require.Equal(t, "duplicate_detection.check_file_size",
		envTransformFunc("TOPICMIRROR_DUPLICATE_DETECTION_CHECK_FILE_SIZE"))
	require.Equal(t, "ingest.interval", envTransformFunc("TOPICMIRROR_INGEST_INTERVAL"))
}
