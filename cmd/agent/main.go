// Topicmirror - Chat Video Ingestion and Topic Mirroring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/topicmirror

// Package main is the entry point for the Topicmirror agent.
//
// Topicmirror watches source chats for videos matching configured
// keywords and mirrors them into a topic-per-keyword forum group,
// deduplicating against everything mirrored before.
//
// # Application Architecture
//
// The agent initializes components in the following order:
//
//  1. Configuration: keyword lists, bounds, and policy (Koanf v2)
//  2. Store: DuckDB progress and video catalog, with legacy file migration
//  3. Transport: the upstream chat client (simulation mode ships in-tree)
//  4. Checkpoints (optional): BadgerDB resumable scan positions
//  5. Supervisor: suture tree running the ingest loop and ops listener
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - TOPICMIRROR_* environment variables
//   - Config file (config.yaml, or TOPICMIRROR_CONFIG)
//   - Built-in defaults
//
// # Run Modes
//
// With ingest.interval unset the agent performs one full cycle and
// exits; with an interval it runs supervised, cycling forever. A
// production build supplies a real chat transport; transport.mode
// "simulation" runs against the in-memory fake network for rehearsing
// configuration changes.
//
// # Signal Handling
//
// SIGINT and SIGTERM stop the current cycle at the next page boundary,
// flush checkpoints, and shut the tree down within 10s.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/topicmirror/internal/agent"
	"github.com/tomtom215/topicmirror/internal/chat"
	"github.com/tomtom215/topicmirror/internal/checkpoint"
	"github.com/tomtom215/topicmirror/internal/config"
	"github.com/tomtom215/topicmirror/internal/forward"
	"github.com/tomtom215/topicmirror/internal/logging"
	"github.com/tomtom215/topicmirror/internal/ops"
	"github.com/tomtom215/topicmirror/internal/provision"
	"github.com/tomtom215/topicmirror/internal/ratelimit"
	"github.com/tomtom215/topicmirror/internal/store"
	"github.com/tomtom215/topicmirror/internal/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Config errors use the default logger; config is not available yet.
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("group", cfg.SortedGroupName).
		Int("keywords", len(cfg.VideoMatches)).
		Bool("dry_run", cfg.DryRun).
		Dur("interval", cfg.Ingest.Interval).
		Msg("Starting Topicmirror agent")

	dataDir := cfg.Database.DataDir
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		logging.Fatal().Err(err).Str("dir", dataDir).Msg("Failed to create data directory")
	}

	db, err := store.Open(filepath.Join(dataDir, "processed-messages.db"))
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open store")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing store")
		}
	}()

	client, err := buildTransport(cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to build chat transport")
	}

	var checkpoints *checkpoint.Tracker
	if cfg.Ingest.Checkpoints {
		checkpoints, err = checkpoint.Open(filepath.Join(dataDir, "checkpoints"))
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to open checkpoint database")
		}
		defer func() {
			if err := checkpoints.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing checkpoint database")
			}
		}()
	}

	driver := ratelimit.NewDriver()
	a := agent.New(cfg, agent.Deps{
		Client:      client,
		DB:          db,
		Audit:       forward.NewAuditLog(filepath.Join(dataDir, "forwarding-log.json")),
		Provisioner: provision.New(client, driver, filepath.Join(dataDir, "forum-group-cache.json"), cfg.DryRun),
		Checkpoints: checkpoints,
		Driver:      driver,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// One-shot runs with no ops listener skip the supervisor entirely.
	if cfg.Ingest.Interval == 0 && cfg.Server.Addr == "" {
		if _, err := a.RunOnce(ctx); err != nil {
			logging.Fatal().Err(err).Msg("Ingestion cycle failed")
		}
		return
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddIngestService(a)
	if cfg.Server.Addr != "" {
		tree.AddOpsService(ops.NewServer(cfg.Server.Addr))
	}

	err = tree.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, suture.ErrTerminateSupervisorTree) {
		logging.Fatal().Err(err).Msg("Supervisor terminated unexpectedly")
	}
	logging.Info().Msg("Shutdown complete")
}

// buildTransport selects the upstream client. Production transports are
// linked in by downstream builds; the in-tree simulation mode exists so
// configuration and filtering can be rehearsed without credentials.
func buildTransport(cfg *config.Config) (chat.Client, error) {
	switch cfg.Transport.Mode {
	case "simulation":
		logging.Warn().Msg("Running with the simulation transport; no real chats are touched")
		return seedSimulation(cfg), nil
	default:
		return nil, errors.New("no chat transport configured; set transport.mode to \"simulation\" or link a real transport")
	}
}

// seedSimulation populates the fake network with a couple of source
// groups so a simulation run has something to scan.
func seedSimulation(cfg *config.Config) *chat.Fake {
	fake := chat.NewFake()
	for i, title := range []string{"Simulated Releases", "Simulated Uploads"} {
		id := fake.AddChat(title, chat.KindGroup)
		for _, keyword := range cfg.VideoMatches {
			fake.AddMessage(id, "", 0, chat.Video{
				FileName:    keyword + ".sample.1080p.mp4",
				MimeType:    "video/mp4",
				SizeBytes:   int64(100+10*i) * 1024 * 1024,
				DurationSec: 600,
				HasDuration: true,
				Width:       1920,
				Height:      1080,
			})
		}
	}
	return fake
}
