// Topicmirror - Chat Video Ingestion and Topic Mirroring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/topicmirror

// Package forward copies matched videos into destination topics and
// keeps the human-readable forwarding log.
package forward

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/topicmirror/internal/chat"
	"github.com/tomtom215/topicmirror/internal/logging"
	"github.com/tomtom215/topicmirror/internal/metrics"
	"github.com/tomtom215/topicmirror/internal/ratelimit"
)

// Request describes one message to forward into one destination topic.
type Request struct {
	SourceChatID int64
	SourceTitle  string
	MessageID    int64

	DestChatID int64
	TopicID    int64
	TopicName  string

	FileName       string
	MatchedKeyword string
	DurationSec    *int
	SizeMB         *float64
}

// Forwarder executes forward requests through the rate-limit driver.
type Forwarder struct {
	client chat.Client
	driver *ratelimit.Driver
	audit  *AuditLog
	dryRun bool
}

// New creates a Forwarder. In dry-run mode no upstream call is made and
// no audit entry is written; requests are logged and reported as
// successful so the rest of the pipeline behaves as it would live.
func New(client chat.Client, driver *ratelimit.Driver, audit *AuditLog, dryRun bool) *Forwarder {
	return &Forwarder{client: client, driver: driver, audit: audit, dryRun: dryRun}
}

// Forward copies the request's message into its destination topic and
// records the audit entry. Returns false when the upstream call failed
// or its retry budget ran out.
func (f *Forwarder) Forward(ctx context.Context, req Request) bool {
	if f.dryRun {
		logging.Info().
			Str("file", req.FileName).
			Str("topic", req.TopicName).
			Str("source", req.SourceTitle).
			Msg("[DRY RUN] Would forward video")
		metrics.ForwardsTotal.WithLabelValues(req.TopicName, "dry_run").Inc()
		return true
	}

	// Each attempt of one logical forward reuses the nonce, so a retry
	// after an ambiguous failure cannot produce a second copy.
	nonce := uuid.NewString()

	err := f.driver.Do(ctx, "forward", func(ctx context.Context) error {
		return f.client.ForwardMessages(ctx, req.SourceChatID, []int64{req.MessageID}, req.DestChatID, req.TopicID, nonce)
	})
	if err != nil {
		logging.Error().
			Err(err).
			Str("file", req.FileName).
			Str("topic", req.TopicName).
			Int64("message_id", req.MessageID).
			Msg("Forward failed")
		metrics.ForwardsTotal.WithLabelValues(req.TopicName, "failed").Inc()
		return false
	}

	metrics.ForwardsTotal.WithLabelValues(req.TopicName, "ok").Inc()
	logging.Info().
		Str("file", req.FileName).
		Str("topic", req.TopicName).
		Str("keyword", req.MatchedKeyword).
		Str("source", req.SourceTitle).
		Msg("Forwarded video")

	if f.audit != nil {
		entry := AuditEntry{
			Timestamp:      time.Now().UTC(),
			FileName:       req.FileName,
			MatchedKeyword: req.MatchedKeyword,
			TopicName:      req.TopicName,
			SourceGroup:    req.SourceTitle,
			DurationSec:    req.DurationSec,
			SizeMB:         req.SizeMB,
		}
		if err := f.audit.Append(entry); err != nil {
			// The forward already happened; a log failure is not a
			// reason to report it as failed.
			logging.Warn().Err(err).Msg("Failed to append forwarding log entry")
		}
	}
	return true
}
