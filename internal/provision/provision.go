// Topicmirror - Chat Video Ingestion and Topic Mirroring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/topicmirror

// Package provision resolves the destination forum group and its
// per-keyword topics, creating them upstream when missing and caching
// the resolved IDs on disk between runs.
package provision

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/goccy/go-json"

	"github.com/tomtom215/topicmirror/internal/chat"
	"github.com/tomtom215/topicmirror/internal/logging"
	"github.com/tomtom215/topicmirror/internal/ratelimit"
)

// cacheFile is the on-disk shape of the forum-group cache.
type cacheFile struct {
	GroupName string           `json:"groupName"`
	GroupID   int64            `json:"groupId"`
	Topics    map[string]int64 `json:"topics"`
}

// Provisioner creates and caches the destination group and topics.
// Dry-run mode makes no upstream calls: missing entries resolve to
// synthetic negative IDs that are never persisted.
type Provisioner struct {
	client chat.Client
	driver *ratelimit.Driver
	path   string
	dryRun bool

	mu        sync.Mutex
	cache     cacheFile
	nextDryID int64
}

// New creates a Provisioner backed by the cache file at path. A missing
// or unreadable cache file starts empty; a stale one self-heals on the
// next provision.
func New(client chat.Client, driver *ratelimit.Driver, path string, dryRun bool) *Provisioner {
	p := &Provisioner{
		client:    client,
		driver:    driver,
		path:      path,
		dryRun:    dryRun,
		nextDryID: -1,
	}
	p.load()
	return p
}

// EnsureGroup returns the destination forum group's chat ID, creating
// the group upstream when the cache has no entry for name. A cached
// entry under a different name is discarded along with its topics.
func (p *Provisioner) EnsureGroup(ctx context.Context, name string) (int64, error) {
	p.mu.Lock()
	if p.cache.GroupName == name && p.cache.GroupID != 0 {
		id := p.cache.GroupID
		p.mu.Unlock()
		return id, nil
	}
	p.mu.Unlock()

	if p.dryRun {
		logging.Info().Str("group", name).Msg("[DRY RUN] Would provision forum group")
		return p.syntheticID(), nil
	}

	var id int64
	err := p.driver.Do(ctx, "provision_group", func(ctx context.Context) error {
		var provErr error
		id, provErr = p.client.ProvisionForumGroup(ctx, name)
		return provErr
	})
	if err != nil {
		return 0, fmt.Errorf("provisioning forum group %q: %w", name, err)
	}

	p.mu.Lock()
	p.cache = cacheFile{GroupName: name, GroupID: id, Topics: make(map[string]int64)}
	saveErr := p.save()
	p.mu.Unlock()
	if saveErr != nil {
		logging.Warn().Err(saveErr).Msg("Failed to persist forum group cache")
	}

	logging.Info().Str("group", name).Int64("chat_id", id).Msg("Provisioned destination forum group")
	return id, nil
}

// EnsureTopic returns the topic's root message ID inside the group,
// creating the topic upstream when the cache has no entry for name.
func (p *Provisioner) EnsureTopic(ctx context.Context, groupID int64, name string) (int64, error) {
	p.mu.Lock()
	if id, ok := p.cache.Topics[name]; ok {
		p.mu.Unlock()
		return id, nil
	}
	p.mu.Unlock()

	if p.dryRun {
		logging.Info().Str("topic", name).Msg("[DRY RUN] Would provision topic")
		return p.syntheticID(), nil
	}

	var id int64
	err := p.driver.Do(ctx, "provision_topic", func(ctx context.Context) error {
		var provErr error
		id, provErr = p.client.ProvisionTopic(ctx, groupID, name)
		return provErr
	})
	if err != nil {
		return 0, fmt.Errorf("provisioning topic %q: %w", name, err)
	}

	p.mu.Lock()
	if p.cache.Topics == nil {
		p.cache.Topics = make(map[string]int64)
	}
	p.cache.Topics[name] = id
	saveErr := p.save()
	p.mu.Unlock()
	if saveErr != nil {
		logging.Warn().Err(saveErr).Msg("Failed to persist forum group cache")
	}

	logging.Info().Str("topic", name).Int64("topic_id", id).Msg("Provisioned destination topic")
	return id, nil
}

// Topics returns a copy of the cached topic name to ID map.
func (p *Provisioner) Topics() map[string]int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]int64, len(p.cache.Topics))
	for name, id := range p.cache.Topics {
		out[name] = id
	}
	return out
}

func (p *Provisioner) syntheticID() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextDryID
	p.nextDryID--
	return id
}

func (p *Provisioner) load() {
	data, err := os.ReadFile(p.path) //nolint:gosec // path derives from the configured data dir
	if os.IsNotExist(err) {
		return
	}
	if err != nil {
		logging.Warn().Err(err).Msg("Failed to read forum group cache, starting empty")
		return
	}
	if err := json.Unmarshal(data, &p.cache); err != nil {
		logging.Warn().Err(err).Msg("Corrupt forum group cache, starting empty")
		p.cache = cacheFile{}
	}
}

// save must be called with mu held.
func (p *Provisioner) save() error {
	data, err := json.MarshalIndent(p.cache, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode forum group cache: %w", err)
	}
	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write forum group cache: %w", err)
	}
	if err := os.Rename(tmp, p.path); err != nil {
		return fmt.Errorf("failed to replace forum group cache: %w", err)
	}
	return nil
}
