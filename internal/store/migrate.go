// Topicmirror - Chat Video Ingestion and Topic Mirroring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/topicmirror

package store

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"

	"github.com/tomtom215/topicmirror/internal/logging"
	"github.com/tomtom215/topicmirror/internal/normalize"
)

// Legacy plaintext state files from the pre-database versions of the
// tool. Found next to the database path, ingested once, then renamed
// with a .backup suffix so the migration never repeats.
const (
	legacyMessagesFile = "processed-messages.txt"
	legacyVideosFile   = "processed-messages-videos.txt"
	legacyMetadataFile = "processed-messages-metadata.json"

	backupSuffix = ".backup"
)

// legacyVideoMeta is the shape of one entry in the legacy metadata JSON
// file, keyed by original filename.
type legacyVideoMeta struct {
	DurationSec *int     `json:"durationSec,omitempty"`
	SizeMB      *float64 `json:"sizeMB,omitempty"`
	Width       *int     `json:"width,omitempty"`
	Height      *int     `json:"height,omitempty"`
	MimeType    *string  `json:"mimeType,omitempty"`
	TopicName   string   `json:"topicName,omitempty"`
}

// migrateLegacyFiles ingests any legacy state files found in dir.
// Each file migrates atomically: its rows are inserted in one
// transaction and the source file is renamed only after commit.
// Videos with no recorded topic become wildcard rows.
func (db *DB) migrateLegacyFiles(dir string) error {
	if dir == "" {
		dir = "."
	}

	if err := db.migrateMessagesFile(filepath.Join(dir, legacyMessagesFile)); err != nil {
		return err
	}
	if err := db.migrateVideosFile(filepath.Join(dir, legacyVideosFile)); err != nil {
		return err
	}
	return db.migrateMetadataFile(filepath.Join(dir, legacyMetadataFile))
}

func (db *DB) migrateMessagesFile(path string) error {
	lines, ok, err := readLegacyLines(path)
	if err != nil || !ok {
		return err
	}

	ctx, cancel := schemaContext()
	defer cancel()

	err = db.withTx(ctx, func(tx *sql.Tx) error {
		for _, key := range lines {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO processed_messages (message_key) VALUES (?) ON CONFLICT (message_key) DO NOTHING`,
				key); err != nil {
				return fmt.Errorf("failed to migrate message key %q: %w", key, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	logging.Info().Int("count", len(lines)).Str("file", path).Msg("Migrated legacy message keys")
	return backupLegacyFile(path)
}

func (db *DB) migrateVideosFile(path string) error {
	lines, ok, err := readLegacyLines(path)
	if err != nil || !ok {
		return err
	}

	ctx, cancel := schemaContext()
	defer cancel()

	err = db.withTx(ctx, func(tx *sql.Tx) error {
		for _, fileName := range lines {
			if err := insertLegacyVideo(ctx, tx, fileName, legacyVideoMeta{}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	logging.Info().Int("count", len(lines)).Str("file", path).Msg("Migrated legacy video names")
	return backupLegacyFile(path)
}

func (db *DB) migrateMetadataFile(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // path derives from the configured data dir
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read legacy metadata file: %w", err)
	}

	entries := make(map[string]legacyVideoMeta)
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("failed to parse legacy metadata file: %w", err)
	}

	ctx, cancel := schemaContext()
	defer cancel()

	err = db.withTx(ctx, func(tx *sql.Tx) error {
		for fileName, meta := range entries {
			if err := insertLegacyVideo(ctx, tx, fileName, meta); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	logging.Info().Int("count", len(entries)).Str("file", path).Msg("Migrated legacy video metadata")
	return backupLegacyFile(path)
}

func insertLegacyVideo(ctx context.Context, tx *sql.Tx, fileName string, meta legacyVideoMeta) error {
	topic := meta.TopicName
	if topic == "" {
		topic = WildcardTopic
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO processed_videos
		(file_name, normalized_name, topic_name, duration_sec, size_mb, width, height, mime_type)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (normalized_name, topic_name) DO NOTHING`,
		fileName, normalize.Name(fileName), topic,
		meta.DurationSec, meta.SizeMB, meta.Width, meta.Height, meta.MimeType)
	if err != nil {
		return fmt.Errorf("failed to migrate video %q: %w", fileName, err)
	}
	return nil
}

// withTx runs fn in a transaction, committing on success.
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logging.Warn().Err(rbErr).Msg("Error rolling back migration transaction")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration transaction: %w", err)
	}
	return nil
}

// readLegacyLines returns the non-empty trimmed lines of path. The
// second return is false when the file does not exist.
func readLegacyLines(path string) ([]string, bool, error) {
	f, err := os.Open(path) //nolint:gosec // path derives from the configured data dir
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to open legacy file %s: %w", path, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			logging.Warn().Err(closeErr).Msg("Error closing legacy file")
		}
	}()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, false, fmt.Errorf("failed to read legacy file %s: %w", path, err)
	}
	return lines, true, nil
}

func backupLegacyFile(path string) error {
	if err := os.Rename(path, path+backupSuffix); err != nil {
		return fmt.Errorf("failed to rename migrated legacy file: %w", err)
	}
	return nil
}
