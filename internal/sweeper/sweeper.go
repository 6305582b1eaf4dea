// Topicmirror - Chat Video Ingestion and Topic Mirroring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/topicmirror

// Package sweeper cleans the destination chat before a scan: media
// matching an exclusion is removed, and per-topic filename duplicates
// are reduced to a single copy.
package sweeper

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tomtom215/topicmirror/internal/chat"
	"github.com/tomtom215/topicmirror/internal/logging"
	"github.com/tomtom215/topicmirror/internal/metrics"
	"github.com/tomtom215/topicmirror/internal/predicate"
	"github.com/tomtom215/topicmirror/internal/ratelimit"
)

const (
	// pageInterval paces the destination history walk.
	pageInterval = 500 * time.Millisecond

	// deleteInterval paces the duplicate deletion batches.
	deleteInterval = 200 * time.Millisecond
)

// nameKey identifies a file within a topic. Topic 0 is the general
// topic for messages outside any forum topic.
type nameKey struct {
	topicID int64
	name    string
}

// Sweeper removes excluded and duplicated media from the destination.
type Sweeper struct {
	client      chat.Client
	driver      *ratelimit.Driver
	pagePacer   *ratelimit.Pacer
	deletePacer *ratelimit.Pacer
}

// New creates a Sweeper over the given transport.
func New(client chat.Client, driver *ratelimit.Driver) *Sweeper {
	return &Sweeper{
		client:      client,
		driver:      driver,
		pagePacer:   ratelimit.NewPacer(pageInterval),
		deletePacer: ratelimit.NewPacer(deleteInterval),
	}
}

// Sweep walks the destination history once and deletes excluded media
// immediately and duplicate filenames per topic, keeping the newest
// copy of each. Returns the number of messages deleted. In dry-run
// mode decisions are logged and nothing is deleted.
func (s *Sweeper) Sweep(ctx context.Context, destChatID int64, exclusions []string, dryRun bool) (int, error) {
	deleted := 0
	offsetID := int64(0)
	seen := make(map[nameKey]int64)
	var duplicates []int64

	for {
		if err := s.pagePacer.Wait(ctx); err != nil {
			return deleted, err
		}

		var page []chat.Message
		err := s.driver.Do(ctx, "history", func(ctx context.Context) error {
			var fetchErr error
			page, fetchErr = s.client.GetHistoryPage(ctx, destChatID, offsetID, chat.PageLimit)
			return fetchErr
		})
		if err != nil {
			return deleted, fmt.Errorf("fetching destination history: %w", err)
		}
		if len(page) == 0 {
			break
		}

		for _, msg := range page {
			video, ok := msg.Media.(chat.Video)
			if !ok || video.FileName == "" {
				continue
			}

			if predicate.ShouldExclude(msg.Caption, video.FileName, exclusions) {
				n, delErr := s.deleteBatch(ctx, destChatID, []int64{msg.ID}, "exclusion", dryRun)
				if delErr != nil {
					return deleted, delErr
				}
				deleted += n
				logging.Info().
					Str("file", video.FileName).
					Int64("message_id", msg.ID).
					Bool("dry_run", dryRun).
					Msg("Swept excluded media from destination")
				continue
			}

			key := nameKey{topicID: msg.TopicID, name: strings.ToLower(video.FileName)}
			if _, dup := seen[key]; dup {
				// The walk is newest-first, so the first sighting is
				// the copy we keep.
				duplicates = append(duplicates, msg.ID)
			} else {
				seen[key] = msg.ID
			}
		}

		offsetID = page[len(page)-1].ID
	}

	for start := 0; start < len(duplicates); start += chat.PageLimit {
		end := start + chat.PageLimit
		if end > len(duplicates) {
			end = len(duplicates)
		}
		if err := s.deletePacer.Wait(ctx); err != nil {
			return deleted, err
		}
		n, err := s.deleteBatch(ctx, destChatID, duplicates[start:end], "duplicate", dryRun)
		if err != nil {
			return deleted, err
		}
		deleted += n
	}

	logging.Info().
		Int("deleted", deleted).
		Int("duplicates", len(duplicates)).
		Bool("dry_run", dryRun).
		Msg("Destination sweep complete")
	return deleted, nil
}

// deleteBatch issues one batched delete, dry-run gated. Returns how
// many messages were (or would be) removed.
func (s *Sweeper) deleteBatch(ctx context.Context, destChatID int64, msgIDs []int64, reason string, dryRun bool) (int, error) {
	if len(msgIDs) == 0 {
		return 0, nil
	}
	if dryRun {
		logging.Info().
			Ints64("message_ids", msgIDs).
			Str("reason", reason).
			Msg("[DRY RUN] Would delete destination messages")
		return len(msgIDs), nil
	}

	err := s.driver.Do(ctx, "delete", func(ctx context.Context) error {
		return s.client.DeleteMessages(ctx, destChatID, msgIDs)
	})
	if err != nil {
		return 0, fmt.Errorf("deleting %s messages: %w", reason, err)
	}
	metrics.DeletionsTotal.WithLabelValues(reason).Add(float64(len(msgIDs)))
	return len(msgIDs), nil
}
