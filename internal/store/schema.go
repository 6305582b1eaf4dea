// Topicmirror - Chat Video Ingestion and Topic Mirroring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/topicmirror

package store

import (
	"context"
	"fmt"
	"time"
)

// schemaContext returns a context with timeout for schema operations.
func schemaContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 60*time.Second)
}

// createSchema creates both processed-state tables and their indexes.
//
// processed_videos carries a sequence-assigned id so dedup scans can
// run in insertion order, which keeps findSimilar deterministic.
func (db *DB) createSchema() error {
	ctx, cancel := schemaContext()
	defer cancel()

	queries := []string{
		`CREATE TABLE IF NOT EXISTS processed_messages (
			message_key TEXT PRIMARY KEY,
			processed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE SEQUENCE IF NOT EXISTS processed_videos_id_seq`,

		`CREATE TABLE IF NOT EXISTS processed_videos (
			id BIGINT PRIMARY KEY DEFAULT nextval('processed_videos_id_seq'),
			file_name TEXT NOT NULL,
			normalized_name TEXT NOT NULL,
			topic_name TEXT NOT NULL,
			duration_sec INTEGER,
			size_mb DOUBLE,
			width INTEGER,
			height INTEGER,
			mime_type TEXT,
			processed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (normalized_name, topic_name)
		)`,

		// Single-column indexes for the oracle's scans plus the
		// composite key lookup. Metadata columns are indexed for the
		// range scans the metadata-only fallback performs.
		`CREATE INDEX IF NOT EXISTS idx_videos_normalized_name ON processed_videos(normalized_name)`,
		`CREATE INDEX IF NOT EXISTS idx_videos_topic_name ON processed_videos(topic_name)`,
		`CREATE INDEX IF NOT EXISTS idx_videos_name_topic ON processed_videos(normalized_name, topic_name)`,
		`CREATE INDEX IF NOT EXISTS idx_videos_duration ON processed_videos(duration_sec)`,
		`CREATE INDEX IF NOT EXISTS idx_videos_size ON processed_videos(size_mb)`,
	}

	for _, query := range queries {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute schema statement: %s: %w", query, err)
		}
	}
	return nil
}
