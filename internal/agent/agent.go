// Topicmirror - Chat Video Ingestion and Topic Mirroring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/topicmirror

// Package agent orchestrates one ingestion cycle: provision the
// destination, sweep it, then scan every source chat in order.
package agent

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/topicmirror/internal/chat"
	"github.com/tomtom215/topicmirror/internal/checkpoint"
	"github.com/tomtom215/topicmirror/internal/config"
	"github.com/tomtom215/topicmirror/internal/dedup"
	"github.com/tomtom215/topicmirror/internal/forward"
	"github.com/tomtom215/topicmirror/internal/logging"
	"github.com/tomtom215/topicmirror/internal/provision"
	"github.com/tomtom215/topicmirror/internal/ratelimit"
	"github.com/tomtom215/topicmirror/internal/scanner"
	"github.com/tomtom215/topicmirror/internal/store"
	"github.com/tomtom215/topicmirror/internal/sweeper"
	"github.com/tomtom215/topicmirror/internal/topiccache"
)

// listChatsMax bounds the dialog list fetched when resolving sources.
const listChatsMax = 500

// Deps are the externally constructed components of the agent. Driver
// and Checkpoints are optional; a nil Driver gets the default breaker
// and real sleeps, a nil Checkpoints disables resumable scans.
type Deps struct {
	Client      chat.Client
	DB          *store.DB
	Audit       *forward.AuditLog
	Provisioner *provision.Provisioner
	Checkpoints *checkpoint.Tracker
	Driver      *ratelimit.Driver
}

// Summary describes one completed ingestion cycle.
type Summary struct {
	SourcesScanned    int
	MessagesProcessed int
	MessagesForwarded int
	MessagesSwept     int
	ForwardedByTopic  map[string]int
	CatalogPerTopic   map[string]int64
	Duration          time.Duration
}

// Agent runs ingestion cycles. It implements suture.Service.
type Agent struct {
	cfg         *config.Config
	client      chat.Client
	db          *store.DB
	oracle      *dedup.Oracle
	driver      *ratelimit.Driver
	forwarder   *forward.Forwarder
	cache       *topiccache.Cache
	provisioner *provision.Provisioner
	checkpoints *checkpoint.Tracker
	sweeper     *sweeper.Sweeper
}

// New wires an Agent from the configuration and its dependencies.
func New(cfg *config.Config, deps Deps) *Agent {
	driver := deps.Driver
	if driver == nil {
		driver = ratelimit.NewDriver()
	}
	return &Agent{
		cfg:         cfg,
		client:      deps.Client,
		db:          deps.DB,
		oracle:      dedup.NewOracle(deps.DB, PolicyFromConfig(cfg.DuplicateDetection)),
		driver:      driver,
		forwarder:   forward.New(deps.Client, driver, deps.Audit, cfg.DryRun),
		cache:       topiccache.New(deps.Client, driver),
		provisioner: deps.Provisioner,
		checkpoints: deps.Checkpoints,
		sweeper:     sweeper.New(deps.Client, driver),
	}
}

// PolicyFromConfig maps the duplicate_detection section onto the
// oracle's policy.
func PolicyFromConfig(c config.DuplicateDetectionConfig) dedup.Policy {
	return dedup.Policy{
		CheckDuration:          c.CheckDuration,
		DurationToleranceSec:   c.DurationToleranceSeconds,
		CheckFileSize:          c.CheckFileSize,
		FileSizeTolerancePct:   c.FileSizeTolerancePercent,
		CheckResolution:        c.CheckResolution,
		ResolutionTolerancePct: c.ResolutionTolerancePct,
		CheckMimeType:          c.CheckMimeType,
		NormalizeFilenames:     c.NormalizeFilenames,
	}
}

// RunOnce executes a full cycle: ensure the destination group and its
// topics exist, sweep the destination, then scan all sources.
func (a *Agent) RunOnce(ctx context.Context) (*Summary, error) {
	start := time.Now()

	destChatID, err := a.provisioner.EnsureGroup(ctx, a.cfg.SortedGroupName)
	if err != nil {
		return nil, fmt.Errorf("ensuring destination group: %w", err)
	}

	topics := make(map[string]int64, len(a.cfg.VideoMatches))
	for _, keyword := range a.cfg.VideoMatches {
		topicID, err := a.provisioner.EnsureTopic(ctx, destChatID, keyword)
		if err != nil {
			return nil, fmt.Errorf("ensuring topic %s: %w", keyword, err)
		}
		topics[keyword] = topicID
	}

	swept := 0
	if a.cfg.SkipCleanup {
		logging.Info().Msg("Cleanup sweep skipped by configuration")
	} else {
		// A failed sweep leaves stale destination messages behind; the
		// scan still runs and the next cycle retries the sweep.
		swept, err = a.sweeper.Sweep(ctx, destChatID, a.cfg.VideoExclusions, a.cfg.DryRun)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logging.Error().Err(err).Msg("Cleanup sweep failed, continuing with scan")
		}
	}

	sources, err := a.resolveSources(ctx, destChatID)
	if err != nil {
		return nil, fmt.Errorf("resolving source chats: %w", err)
	}

	sc := scanner.New(a.client, a.db, a.oracle, a.driver, a.forwarder, a.cache, a.checkpoints, scanner.Config{
		Matches:        a.cfg.VideoMatches,
		Exclusions:     a.cfg.VideoExclusions,
		MinDurationSec: a.cfg.MinVideoDurationInSeconds,
		MaxDurationSec: a.cfg.MaxVideoDurationInSeconds,
		MinSizeMB:      a.cfg.MinFileSizeMB,
		MaxSizeMB:      a.cfg.MaxFileSizeMB,
		MaxForwards:    a.cfg.MaxForwards,
		DryRun:         a.cfg.DryRun,
		DestChatID:     destChatID,
		Topics:         topics,
	})

	summary := &Summary{MessagesSwept: swept}
	for _, source := range sources {
		if !sc.HasMore() {
			break
		}
		processed, err := sc.ScanSource(ctx, source)
		summary.MessagesProcessed += processed
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// One unreachable source must not starve the rest.
			logging.Error().Err(err).Str("source", source.Title).Msg("Source scan failed")
			continue
		}
		summary.SourcesScanned++
	}

	summary.MessagesForwarded = sc.Forwarded()
	summary.ForwardedByTopic = sc.ForwardedByTopic()
	if counts, countErr := a.db.VideosPerTopic(ctx); countErr != nil {
		logging.Warn().Err(countErr).Msg("Failed to read per-topic catalog counts")
	} else {
		summary.CatalogPerTopic = counts
	}
	summary.Duration = time.Since(start)

	logging.Info().
		Int("sources", summary.SourcesScanned).
		Int("processed", summary.MessagesProcessed).
		Int("forwarded", summary.MessagesForwarded).
		Int("swept", summary.MessagesSwept).
		Dur("duration", summary.Duration).
		Msg("Ingestion cycle complete")
	return summary, nil
}

// resolveSources turns the configured source list into chat infos. An
// empty list means every accessible group and channel except the
// destination. Entries are chat IDs when numeric, titles otherwise;
// entries that match nothing are logged and skipped.
func (a *Agent) resolveSources(ctx context.Context, destChatID int64) ([]chat.Info, error) {
	var accessible []chat.Info
	err := a.driver.Do(ctx, "chats", func(ctx context.Context) error {
		var listErr error
		accessible, listErr = a.client.ListAccessibleChats(ctx, listChatsMax)
		return listErr
	})
	if err != nil {
		return nil, err
	}

	if len(a.cfg.SourceGroups) == 0 {
		var sources []chat.Info
		for _, info := range accessible {
			if info.ID == destChatID {
				continue
			}
			if info.Kind != chat.KindGroup && info.Kind != chat.KindChannel {
				continue
			}
			sources = append(sources, info)
		}
		return sources, nil
	}

	byID := make(map[int64]chat.Info, len(accessible))
	byTitle := make(map[string]chat.Info, len(accessible))
	for _, info := range accessible {
		byID[info.ID] = info
		byTitle[info.Title] = info
	}

	var sources []chat.Info
	for _, entry := range a.cfg.SourceGroups {
		var info chat.Info
		var ok bool
		if id, parseErr := strconv.ParseInt(entry, 10, 64); parseErr == nil {
			info, ok = byID[id]
		} else {
			info, ok = byTitle[entry]
		}
		if !ok {
			logging.Warn().Str("source", entry).Msg("Configured source chat not accessible, skipping")
			continue
		}
		if info.ID == destChatID {
			logging.Warn().Str("source", entry).Msg("Configured source is the destination group, skipping")
			continue
		}
		sources = append(sources, info)
	}
	return sources, nil
}

// Serve runs ingestion cycles until ctx is cancelled. With a zero
// interval it runs one cycle and tells the supervisor not to restart.
func (a *Agent) Serve(ctx context.Context) error {
	for {
		if _, err := a.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if a.cfg.Ingest.Interval == 0 {
				logging.Error().Err(err).Msg("One-shot ingestion cycle failed")
				return suture.ErrDoNotRestart
			}
			return err
		}

		if a.cfg.Ingest.Interval == 0 {
			return suture.ErrDoNotRestart
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(a.cfg.Ingest.Interval):
		}
	}
}
