// Topicmirror - Chat Video Ingestion and Topic Mirroring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/topicmirror

// Package store is the durable processed-state store: which messages the
// scanner has committed to never re-handle, and which videos are already
// published per destination topic.
//
// Backing storage is an embedded DuckDB database owned exclusively by
// this process. Writes serialize behind the single connection; reads are
// safe concurrently. Any write error is fatal to the candidate being
// processed, never silently swallowed.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/tomtom215/topicmirror/internal/logging"
	"github.com/tomtom215/topicmirror/internal/metrics"
)

// WildcardTopic marks a video as processed under any topic. It is only
// ever written by the legacy-file migration; new ingestion always
// records the real topic name.
const WildcardTopic = "*"

// VideoRecord is one processed-video row. Optional metadata uses
// pointers so "absent" and "zero" stay distinguishable for the dedup
// policy.
type VideoRecord struct {
	ID             int64
	FileName       string
	NormalizedName string
	TopicName      string
	DurationSec    *int
	SizeMB         *float64
	Width          *int
	Height         *int
	MimeType       *string
	ProcessedAt    time.Time
}

// HasResolution reports whether both dimensions are recorded.
func (r *VideoRecord) HasResolution() bool {
	return r.Width != nil && r.Height != nil
}

// DB wraps the DuckDB connection holding both processed-state tables.
type DB struct {
	conn *sql.DB
	path string

	// Prepared statement cache with double-checked locking.
	stmtCache   map[string]*sql.Stmt
	stmtCacheMu sync.RWMutex
}

// Open opens (creating if necessary) the store at path, initializes the
// schema, and runs the one-shot legacy-file migration if legacy
// plaintext state files exist next to the database.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create store directory %s: %w", dir, err)
		}
	}

	conn, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	// DuckDB is single-writer; one connection keeps writes serialized
	// and makes prepared statements reusable.
	conn.SetMaxOpenConns(1)

	db := &DB{
		conn:      conn,
		path:      path,
		stmtCache: make(map[string]*sql.Stmt),
	}

	if err := db.createSchema(); err != nil {
		closeQuietly(conn)
		return nil, fmt.Errorf("failed to initialize store schema: %w", err)
	}

	if err := db.migrateLegacyFiles(dir); err != nil {
		closeQuietly(conn)
		return nil, fmt.Errorf("legacy migration failed: %w", err)
	}

	return db, nil
}

// Close releases cached statements and the underlying connection.
func (db *DB) Close() error {
	db.stmtCacheMu.Lock()
	for _, stmt := range db.stmtCache {
		closeStmtQuietly(stmt)
	}
	db.stmtCache = make(map[string]*sql.Stmt)
	db.stmtCacheMu.Unlock()

	return db.conn.Close()
}

// ensureContext creates a context with a 30-second timeout if none provided.
func (db *DB) ensureContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return context.WithTimeout(context.Background(), 30*time.Second)
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		return context.WithTimeout(ctx, 30*time.Second)
	}
	return ctx, func() {}
}

// prepared returns a cached prepared statement for query, compiling it
// on first use. Double-checked locking keeps the hot path read-locked.
func (db *DB) prepared(ctx context.Context, query string) (*sql.Stmt, error) {
	db.stmtCacheMu.RLock()
	stmt, ok := db.stmtCache[query]
	db.stmtCacheMu.RUnlock()
	if ok {
		return stmt, nil
	}

	db.stmtCacheMu.Lock()
	defer db.stmtCacheMu.Unlock()
	if stmt, ok := db.stmtCache[query]; ok {
		return stmt, nil
	}
	stmt, err := db.conn.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}
	db.stmtCache[query] = stmt
	return stmt, nil
}

// HasMessage reports whether the message key has been committed.
func (db *DB) HasMessage(ctx context.Context, key string) (bool, error) {
	defer metrics.ObserveStoreQuery("has_message", time.Now())
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	stmt, err := db.prepared(ctx, `SELECT COUNT(*) FROM processed_messages WHERE message_key = ?`)
	if err != nil {
		return false, err
	}
	var n int64
	if err := stmt.QueryRowContext(ctx, key).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to query processed message: %w", err)
	}
	return n > 0, nil
}

// PutMessage commits a message key. Idempotent: re-inserting an existing
// key is not an error.
func (db *DB) PutMessage(ctx context.Context, key string) error {
	defer metrics.ObserveStoreQuery("put_message", time.Now())
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	stmt, err := db.prepared(ctx,
		`INSERT INTO processed_messages (message_key) VALUES (?) ON CONFLICT (message_key) DO NOTHING`)
	if err != nil {
		return err
	}
	if _, err := stmt.ExecContext(ctx, key); err != nil {
		return fmt.Errorf("failed to insert processed message: %w", err)
	}
	return nil
}

// PutVideo records a processed video for a topic. Idempotent on
// (normalized_name, topic_name): the first record wins and later
// inserts for the same key are no-ops.
func (db *DB) PutVideo(ctx context.Context, rec *VideoRecord) error {
	defer metrics.ObserveStoreQuery("put_video", time.Now())
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	stmt, err := db.prepared(ctx, `INSERT INTO processed_videos
		(file_name, normalized_name, topic_name, duration_sec, size_mb, width, height, mime_type)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (normalized_name, topic_name) DO NOTHING`)
	if err != nil {
		return err
	}
	if _, err := stmt.ExecContext(ctx,
		rec.FileName, rec.NormalizedName, rec.TopicName,
		rec.DurationSec, rec.SizeMB, rec.Width, rec.Height, rec.MimeType,
	); err != nil {
		return fmt.Errorf("failed to insert processed video: %w", err)
	}
	return nil
}

// DeleteVideos removes rows whose normalized name is in names and whose
// topic is topicName or the legacy wildcard. Returns the number of rows
// deleted.
func (db *DB) DeleteVideos(ctx context.Context, names []string, topicName string) (int64, error) {
	if len(names) == 0 {
		return 0, nil
	}
	defer metrics.ObserveStoreQuery("delete_videos", time.Now())
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	placeholders := strings.Repeat("?, ", len(names)-1) + "?"
	query := fmt.Sprintf(
		`DELETE FROM processed_videos WHERE normalized_name IN (%s) AND topic_name IN (?, ?)`,
		placeholders)

	args := make([]interface{}, 0, len(names)+2)
	for _, n := range names {
		args = append(args, n)
	}
	args = append(args, topicName, WildcardTopic)

	res, err := db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete processed videos: %w", err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted videos: %w", err)
	}
	return count, nil
}

// VideosInTopic returns the rows visible to dedup decisions for a
// topic: rows recorded under the topic itself plus legacy wildcard
// rows, in insertion order.
func (db *DB) VideosInTopic(ctx context.Context, topicName string) ([]*VideoRecord, error) {
	defer metrics.ObserveStoreQuery("videos_in_topic", time.Now())
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	stmt, err := db.prepared(ctx, `SELECT
			id, file_name, normalized_name, topic_name,
			duration_sec, size_mb, width, height, mime_type, processed_at
		FROM processed_videos
		WHERE topic_name IN (?, ?)
		ORDER BY id`)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.QueryContext(ctx, topicName, WildcardTopic)
	if err != nil {
		return nil, fmt.Errorf("failed to query topic videos: %w", err)
	}
	defer closeRowsQuietly(rows)

	var records []*VideoRecord
	for rows.Next() {
		rec := &VideoRecord{}
		if err := rows.Scan(
			&rec.ID, &rec.FileName, &rec.NormalizedName, &rec.TopicName,
			&rec.DurationSec, &rec.SizeMB, &rec.Width, &rec.Height, &rec.MimeType, &rec.ProcessedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan video record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate topic videos: %w", err)
	}
	return records, nil
}

// CountMessages returns the number of committed message keys.
func (db *DB) CountMessages(ctx context.Context) (int64, error) {
	return db.countTable(ctx, "processed_messages")
}

// CountVideos returns the number of processed-video rows.
func (db *DB) CountVideos(ctx context.Context) (int64, error) {
	return db.countTable(ctx, "processed_videos")
}

func (db *DB) countTable(ctx context.Context, table string) (int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var n int64
	//nolint:gosec // table name is one of two compile-time constants
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return n, nil
}

// VideosPerTopic returns processed-video counts keyed by topic, for the
// end-of-run summary.
func (db *DB) VideosPerTopic(ctx context.Context) (map[string]int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx,
		`SELECT topic_name, COUNT(*) FROM processed_videos GROUP BY topic_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query per-topic counts: %w", err)
	}
	defer closeRowsQuietly(rows)

	counts := make(map[string]int64)
	for rows.Next() {
		var topic string
		var n int64
		if err := rows.Scan(&topic, &n); err != nil {
			return nil, fmt.Errorf("failed to scan per-topic count: %w", err)
		}
		counts[topic] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate per-topic counts: %w", err)
	}
	return counts, nil
}

func closeQuietly(conn *sql.DB) {
	if err := conn.Close(); err != nil {
		logging.Warn().Err(err).Msg("Error closing store connection")
	}
}

func closeStmtQuietly(stmt *sql.Stmt) {
	if err := stmt.Close(); err != nil {
		logging.Warn().Err(err).Msg("Error closing prepared statement")
	}
}

func closeRowsQuietly(rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		logging.Warn().Err(err).Msg("Error closing result rows")
	}
}
