// Topicmirror - Chat Video Ingestion and Topic Mirroring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/topicmirror

// Package scanner walks source chat histories, filters candidate
// videos, and drives dedup, replacement, and forwarding for each one.
package scanner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tomtom215/topicmirror/internal/chat"
	"github.com/tomtom215/topicmirror/internal/checkpoint"
	"github.com/tomtom215/topicmirror/internal/dedup"
	"github.com/tomtom215/topicmirror/internal/forward"
	"github.com/tomtom215/topicmirror/internal/logging"
	"github.com/tomtom215/topicmirror/internal/metrics"
	"github.com/tomtom215/topicmirror/internal/normalize"
	"github.com/tomtom215/topicmirror/internal/predicate"
	"github.com/tomtom215/topicmirror/internal/ratelimit"
	"github.com/tomtom215/topicmirror/internal/store"
	"github.com/tomtom215/topicmirror/internal/topiccache"
)

// pageInterval paces the backward history walk.
const pageInterval = 500 * time.Millisecond

// Config carries the scan-relevant slice of the agent configuration.
type Config struct {
	Matches    []string
	Exclusions []string

	MinDurationSec int
	MaxDurationSec int // 0 = unbounded

	MinSizeMB float64 // 0 = unbounded
	MaxSizeMB float64 // 0 = unbounded

	// MaxForwards caps source messages forwarded across the whole run,
	// all sources combined.
	MaxForwards int

	DryRun bool

	DestChatID int64
	// Topics maps each match keyword to its destination topic root ID.
	Topics map[string]int64
}

// Scanner processes source chats sequentially. One Scanner spans a run,
// so the forward cap holds across sources.
type Scanner struct {
	client      chat.Client
	db          *store.DB
	oracle      *dedup.Oracle
	driver      *ratelimit.Driver
	forwarder   *forward.Forwarder
	cache       *topiccache.Cache
	checkpoints *checkpoint.Tracker // nil disables resumable scans
	pacer       *ratelimit.Pacer
	cfg         Config

	forwarded        int
	forwardedByTopic map[string]int
	hasMore          bool
}

// New creates a Scanner for one run.
func New(client chat.Client, db *store.DB, oracle *dedup.Oracle, driver *ratelimit.Driver,
	forwarder *forward.Forwarder, cache *topiccache.Cache, checkpoints *checkpoint.Tracker, cfg Config) *Scanner {
	return &Scanner{
		client:      client,
		db:          db,
		oracle:      oracle,
		driver:      driver,
		forwarder:   forwarder,
		cache:       cache,
		checkpoints: checkpoints,
		pacer:       ratelimit.NewPacer(pageInterval),
		cfg:         cfg,

		forwardedByTopic: make(map[string]int),
		hasMore:          true,
	}
}

// Forwarded returns the number of source messages forwarded so far in
// this run.
func (s *Scanner) Forwarded() int {
	return s.forwarded
}

// ForwardedByTopic returns per-topic forward counts for this run.
func (s *Scanner) ForwardedByTopic() map[string]int {
	out := make(map[string]int, len(s.forwardedByTopic))
	for topic, n := range s.forwardedByTopic {
		out[topic] = n
	}
	return out
}

// HasMore reports whether the run may continue scanning further
// sources. False once the forward cap is reached.
func (s *Scanner) HasMore() bool {
	return s.hasMore
}

// ScanSource walks one source chat newest-first and processes every
// unseen candidate. Returns the number of newly touched messages.
func (s *Scanner) ScanSource(ctx context.Context, source chat.Info) (int, error) {
	processed := 0
	offsetID := int64(0)

	if s.checkpoints != nil {
		cp, err := s.checkpoints.Load(ctx, source.ID)
		if err != nil {
			logging.Warn().Err(err).Str("source", source.Title).Msg("Failed to load scan checkpoint, starting from the top")
		} else if cp != nil {
			offsetID = cp.OffsetID
			logging.Info().Str("source", source.Title).Int64("offset_id", offsetID).Msg("Resuming scan from checkpoint")
		}
	}

	for s.hasMore {
		if err := s.pacer.Wait(ctx); err != nil {
			return processed, err
		}

		var page []chat.Message
		err := s.driver.Do(ctx, "history", func(ctx context.Context) error {
			var fetchErr error
			page, fetchErr = s.client.GetHistoryPage(ctx, source.ID, offsetID, chat.PageLimit)
			return fetchErr
		})
		if err != nil {
			return processed, fmt.Errorf("fetching history for %s: %w", source.Title, err)
		}
		if len(page) == 0 {
			break
		}

		for _, msg := range page {
			touched, err := s.processMessage(ctx, source, msg)
			if err != nil {
				// Candidate-level failures never abort the source scan;
				// pre-commit already guarantees no revisit.
				logging.Error().Err(err).
					Str("source", source.Title).
					Int64("message_id", msg.ID).
					Msg("Failed to process message")
			}
			if touched {
				processed++
			}
			if !s.hasMore {
				break
			}
		}

		offsetID = page[len(page)-1].ID
		if s.checkpoints != nil {
			cp := &checkpoint.Checkpoint{ChatID: source.ID, OffsetID: offsetID, ScannedAt: time.Now().UTC()}
			if err := s.checkpoints.Save(ctx, cp); err != nil {
				logging.Warn().Err(err).Str("source", source.Title).Msg("Failed to save scan checkpoint")
			}
		}
	}

	if s.checkpoints != nil && s.hasMore {
		if err := s.checkpoints.Clear(ctx, source.ID); err != nil {
			logging.Warn().Err(err).Str("source", source.Title).Msg("Failed to clear scan checkpoint")
		}
	}

	logging.Info().
		Str("source", source.Title).
		Int("processed", processed).
		Int("forwarded_total", s.forwarded).
		Msg("Source scan complete")
	return processed, nil
}

// processMessage runs one message through the candidate pipeline.
// Returns whether the message was newly touched.
func (s *Scanner) processMessage(ctx context.Context, source chat.Info, msg chat.Message) (bool, error) {
	// Messages without media never enter the pipeline. Media that is
	// not a video still gets touched below so it is never re-examined.
	if msg.Media == nil {
		return false, nil
	}
	metrics.MessagesScanned.WithLabelValues(source.Title).Inc()

	key := messageKey(source.ID, msg.ID)
	seen, err := s.db.HasMessage(ctx, key)
	if err != nil {
		return false, fmt.Errorf("checking message progress: %w", err)
	}
	if seen {
		metrics.MessagesSkipped.WithLabelValues("processed").Inc()
		return false, nil
	}

	// Pre-commit: once touched, never reconsidered, regardless of what
	// fails below. This is what makes re-scans after network errors
	// unable to double-forward.
	if err := s.db.PutMessage(ctx, key); err != nil {
		return false, fmt.Errorf("committing message progress: %w", err)
	}

	matched := predicate.Match(msg, s.cfg.Matches, s.cfg.Exclusions, s.cfg.MinDurationSec)
	if len(matched) == 0 {
		metrics.MessagesSkipped.WithLabelValues("no_match").Inc()
		return true, nil
	}

	if s.cfg.MaxForwards > 0 && s.forwarded >= s.cfg.MaxForwards {
		s.hasMore = false
		logging.Info().Int("max_forwards", s.cfg.MaxForwards).Msg("Forward cap reached, stopping scan")
		return true, nil
	}

	video := msg.Media.(chat.Video)
	if !s.withinBounds(video) {
		metrics.MessagesSkipped.WithLabelValues("bounds").Inc()
		logging.Debug().
			Str("file", video.FileName).
			Float64("size_mb", video.SizeMB()).
			Msg("Candidate outside size/duration bounds, skipping")
		return true, nil
	}

	cand := s.candidateOf(video)

	var existingTopics, newTopics []string
	duplicates := make(map[string]*store.VideoRecord, len(matched))
	for _, keyword := range matched {
		dup, err := s.oracle.FindSimilar(ctx, cand, keyword)
		if err != nil {
			return true, fmt.Errorf("consulting duplicate oracle for topic %s: %w", keyword, err)
		}
		if dup != nil {
			existingTopics = append(existingTopics, keyword)
			duplicates[keyword] = dup
		} else {
			newTopics = append(newTopics, keyword)
		}
	}

	// A duplicate in every target topic ends the candidate when no
	// metadata check is enabled: without metadata there is nothing to
	// distinguish versions, so the stored copy stands. With checks
	// enabled a within-tolerance duplicate is a superseded version and
	// goes through replacement below.
	if len(newTopics) == 0 && !s.oracle.Policy().AnyCheckEnabled() {
		metrics.MessagesSkipped.WithLabelValues("duplicate").Inc()
		logging.Debug().
			Str("file", video.FileName).
			Str("normalized", cand.NormalizedName).
			Msg("Duplicate in every matched topic, skipping")
		return true, nil
	}

	// Pre-register new topics before any forward RPC so an identical
	// candidate later in this batch is caught by the oracle.
	for _, keyword := range newTopics {
		if err := s.registerVideo(ctx, cand, keyword); err != nil {
			return true, err
		}
	}

	// Replacement: delete superseded copies, then re-register the new
	// version so its forward is also preceded by a store row.
	for _, keyword := range existingTopics {
		if err := s.replace(ctx, cand, keyword); err != nil {
			// The stale destination message survives until the next
			// sweeper pass; the new copy is still forwarded.
			logging.Error().Err(err).
				Str("file", video.FileName).
				Str("topic", keyword).
				Msg("Duplicate replacement failed")
		}
		if err := s.registerVideo(ctx, cand, keyword); err != nil {
			return true, err
		}
	}

	s.fanOutForwards(ctx, source, msg, video, matched)
	return true, nil
}

// fanOutForwards forwards the message to every matched topic in
// parallel and bumps the run counter when at least one succeeded.
func (s *Scanner) fanOutForwards(ctx context.Context, source chat.Info, msg chat.Message, video chat.Video, matched []string) {
	results := make([]bool, len(matched))
	var wg sync.WaitGroup
	for i, keyword := range matched {
		req := forward.Request{
			SourceChatID:   source.ID,
			SourceTitle:    source.Title,
			MessageID:      msg.ID,
			DestChatID:     s.cfg.DestChatID,
			TopicID:        s.cfg.Topics[keyword],
			TopicName:      keyword,
			FileName:       video.FileName,
			MatchedKeyword: keyword,
			DurationSec:    durationPtr(video),
			SizeMB:         sizePtr(video),
		}
		wg.Add(1)
		go func(i int, req forward.Request) {
			defer wg.Done()
			results[i] = s.forwarder.Forward(ctx, req)
		}(i, req)
	}
	wg.Wait()

	counted := false
	for i, ok := range results {
		if !ok {
			continue
		}
		// The copy just forwarded must be visible to replacement lookups
		// later in this run; its ID is unknown, so drop the cached fill.
		s.cache.Invalidate(s.cfg.DestChatID, s.cfg.Topics[matched[i]])
		s.forwardedByTopic[matched[i]]++
		if !counted {
			s.forwarded++
			counted = true
		}
	}
}

// replace removes the superseded copies of cand in one topic: matching
// destination messages are deleted upstream, purged from the topic
// cache, and their store rows removed.
func (s *Scanner) replace(ctx context.Context, cand *dedup.Candidate, topicName string) error {
	rows, err := s.oracle.FindAllSimilar(ctx, cand, topicName)
	if err != nil {
		return fmt.Errorf("enumerating duplicates: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}

	names := make([]string, 0, len(rows))
	byName := make(map[string]*store.VideoRecord, len(rows))
	for _, row := range rows {
		names = append(names, row.NormalizedName)
		byName[row.NormalizedName] = row
	}

	topicID := s.cfg.Topics[topicName]
	cached, err := s.cache.Messages(ctx, s.cfg.DestChatID, topicID)
	if err != nil {
		return fmt.Errorf("loading topic cache: %w", err)
	}

	var doomed []int64
	for _, dest := range cached {
		destVideo, ok := dest.Media.(chat.Video)
		if !ok {
			continue
		}
		destName := normalize.Key(destVideo.FileName, s.oracle.Policy().NormalizeFilenames)
		row, ok := byName[destName]
		if !ok {
			continue
		}
		destCand := s.candidateOf(destVideo)
		if !s.oracle.MetadataMatches(destCand, row) {
			continue
		}
		doomed = append(doomed, dest.ID)
	}

	if len(doomed) > 0 {
		if s.cfg.DryRun {
			logging.Info().
				Ints64("message_ids", doomed).
				Str("topic", topicName).
				Msg("[DRY RUN] Would delete superseded destination messages")
		} else {
			err := s.driver.Do(ctx, "delete", func(ctx context.Context) error {
				return s.client.DeleteMessages(ctx, s.cfg.DestChatID, doomed)
			})
			if err != nil {
				return fmt.Errorf("deleting superseded messages: %w", err)
			}
			s.cache.Remove(s.cfg.DestChatID, topicID, doomed)
			metrics.DeletionsTotal.WithLabelValues("replacement").Add(float64(len(doomed)))
		}
	}

	if !s.cfg.DryRun {
		deleted, err := s.db.DeleteVideos(ctx, names, topicName)
		if err != nil {
			return fmt.Errorf("deleting superseded store rows: %w", err)
		}
		metrics.ReplacementsTotal.Inc()
		logging.Info().
			Str("topic", topicName).
			Int64("rows", deleted).
			Int("messages", len(doomed)).
			Msg("Replaced superseded video")
	}
	return nil
}

// registerVideo inserts the candidate's store row for one topic.
// Dry-run mode records no video rows.
func (s *Scanner) registerVideo(ctx context.Context, cand *dedup.Candidate, topicName string) error {
	if s.cfg.DryRun {
		return nil
	}
	rec := &store.VideoRecord{
		FileName:       cand.FileName,
		NormalizedName: cand.NormalizedName,
		TopicName:      topicName,
		DurationSec:    cand.DurationSec,
		SizeMB:         cand.SizeMB,
		Width:          cand.Width,
		Height:         cand.Height,
		MimeType:       cand.MimeType,
	}
	if err := s.db.PutVideo(ctx, rec); err != nil {
		return fmt.Errorf("registering video for topic %s: %w", topicName, err)
	}
	return nil
}

// withinBounds enforces the size and max-duration policy. Bounds only
// apply when the metadata is present; a video without a size is not
// rejected by a size bound.
func (s *Scanner) withinBounds(video chat.Video) bool {
	if video.SizeBytes > 0 {
		sizeMB := video.SizeMB()
		if s.cfg.MinSizeMB > 0 && sizeMB < s.cfg.MinSizeMB {
			return false
		}
		if s.cfg.MaxSizeMB > 0 && sizeMB > s.cfg.MaxSizeMB {
			return false
		}
	}
	if s.cfg.MaxDurationSec > 0 && video.HasDuration && video.DurationSec > s.cfg.MaxDurationSec {
		return false
	}
	return true
}

// candidateOf builds the oracle's comparable view of a video.
func (s *Scanner) candidateOf(video chat.Video) *dedup.Candidate {
	cand := &dedup.Candidate{
		FileName:       video.FileName,
		NormalizedName: normalize.Key(video.FileName, s.oracle.Policy().NormalizeFilenames),
	}
	cand.DurationSec = durationPtr(video)
	cand.SizeMB = sizePtr(video)
	if video.Width > 0 && video.Height > 0 {
		w, h := video.Width, video.Height
		cand.Width, cand.Height = &w, &h
	}
	if video.MimeType != "" {
		mime := video.MimeType
		cand.MimeType = &mime
	}
	return cand
}

func durationPtr(video chat.Video) *int {
	if !video.HasDuration {
		return nil
	}
	d := video.DurationSec
	return &d
}

func sizePtr(video chat.Video) *float64 {
	if video.SizeBytes <= 0 {
		return nil
	}
	mb := video.SizeMB()
	return &mb
}

func messageKey(chatID, msgID int64) string {
	return fmt.Sprintf("%d:%d", chatID, msgID)
}
