// Topicmirror - Chat Video Ingestion and Topic Mirroring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/topicmirror

package forward

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// AuditEntry records one successful forward for the human-readable
// forwarding log.
type AuditEntry struct {
	ID             string    `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	FileName       string    `json:"fileName"`
	MatchedKeyword string    `json:"matchedKeyword"`
	TopicName      string    `json:"topicName"`
	SourceGroup    string    `json:"sourceGroup"`
	DurationSec    *int      `json:"durationSec,omitempty"`
	SizeMB         *float64  `json:"sizeMB,omitempty"`
}

// AuditLog is a JSON-array file appended to with read-modify-write.
// Writes go through a temp file and rename so a crash mid-write never
// corrupts the log.
type AuditLog struct {
	mu   sync.Mutex
	path string
}

// NewAuditLog creates an audit log at path. The file is created on
// first append.
func NewAuditLog(path string) *AuditLog {
	return &AuditLog{path: path}
}

// Append adds an entry to the log, assigning it an ID if it has none.
func (l *AuditLog) Append(entry AuditEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	entries, err := l.read()
	if err != nil {
		return err
	}
	entries = append(entries, entry)

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode forwarding log: %w", err)
	}

	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write forwarding log: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("failed to replace forwarding log: %w", err)
	}
	return nil
}

// Entries returns every recorded entry, oldest first.
func (l *AuditLog) Entries() ([]AuditEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.read()
}

// read must be called with mu held.
func (l *AuditLog) read() ([]AuditEntry, error) {
	data, err := os.ReadFile(l.path) //nolint:gosec // path derives from the configured data dir
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read forwarding log: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var entries []AuditEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		// A corrupt log must not block forwarding. Preserve the bad
		// file for inspection and start fresh.
		backup := l.path + ".corrupt"
		if renameErr := os.Rename(l.path, backup); renameErr != nil {
			return nil, fmt.Errorf("failed to quarantine corrupt forwarding log: %w", renameErr)
		}
		return nil, nil
	}
	return entries, nil
}

// Path returns the log's file path.
func (l *AuditLog) Path() string {
	return filepath.Clean(l.path)
}
