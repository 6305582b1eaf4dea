// Topicmirror - Chat Video Ingestion and Topic Mirroring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/topicmirror

// Package checkpoint persists per-source scan positions so an
// interrupted scan of a large chat resumes where it stopped instead of
// re-walking the full history.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

// Checkpoint is one source chat's saved scan position.
type Checkpoint struct {
	ChatID    int64     `json:"chatId"`
	OffsetID  int64     `json:"offsetId"`
	ScannedAt time.Time `json:"scannedAt"`
}

// Tracker stores checkpoints in BadgerDB, keyed per source chat.
type Tracker struct {
	db *badger.DB
}

// Open creates a tracker backed by a Badger database at dir.
func Open(dir string) (*Tracker, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint database: %w", err)
	}
	return &Tracker{db: db}, nil
}

// NewTracker wraps an existing Badger instance. Used by tests with an
// in-memory database.
func NewTracker(db *badger.DB) *Tracker {
	return &Tracker{db: db}
}

// Close releases the underlying database.
func (t *Tracker) Close() error {
	return t.db.Close()
}

func key(chatID int64) []byte {
	return []byte(fmt.Sprintf("scan:checkpoint:%d", chatID))
}

// Save persists the scan position for a source chat.
func (t *Tracker) Save(_ context.Context, cp *Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	return t.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(cp.ChatID), data)
	})
}

// Load retrieves the saved position for a source chat. Returns nil, nil
// when no checkpoint exists.
func (t *Tracker) Load(_ context.Context, chatID int64) (*Checkpoint, error) {
	var cp Checkpoint
	found := false

	err := t.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(chatID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &cp)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &cp, nil
}

// Clear removes the saved position for a source chat after a scan
// completes cleanly.
func (t *Tracker) Clear(_ context.Context, chatID int64) error {
	return t.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(key(chatID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}
