// Topicmirror - Chat Video Ingestion and Topic Mirroring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/topicmirror

package provision

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tomtom215/topicmirror/internal/chat"
	"github.com/tomtom215/topicmirror/internal/ratelimit"
)

func newTestDriver() *ratelimit.Driver {
	d := ratelimit.NewDriver()
	d.SetSleep(func(context.Context, time.Duration) error { return nil })
	return d
}

func TestEnsureGroupProvisionsOnceAndCaches(t *testing.T) {
	fake := chat.NewFake()
	path := filepath.Join(t.TempDir(), "forum-group-cache.json")
	ctx := context.Background()

	p := New(fake, newTestDriver(), path, false)

	id, err := p.EnsureGroup(ctx, "Sorted Videos")
	require.NoError(t, err)
	require.NotZero(t, id)
	require.Equal(t, 1, fake.Calls["provision_group"])

	// Cached in memory.
	again, err := p.EnsureGroup(ctx, "Sorted Videos")
	require.NoError(t, err)
	require.Equal(t, id, again)
	require.Equal(t, 1, fake.Calls["provision_group"])

	// Cached on disk: a fresh Provisioner needs no upstream call.
	p2 := New(fake, newTestDriver(), path, false)
	again, err = p2.EnsureGroup(ctx, "Sorted Videos")
	require.NoError(t, err)
	require.Equal(t, id, again)
	require.Equal(t, 1, fake.Calls["provision_group"])
}

func TestEnsureGroupRenameDiscardsStaleCache(t *testing.T) {
	fake := chat.NewFake()
	path := filepath.Join(t.TempDir(), "forum-group-cache.json")
	ctx := context.Background()

	p := New(fake, newTestDriver(), path, false)
	oldID, err := p.EnsureGroup(ctx, "Old Name")
	require.NoError(t, err)
	_, err = p.EnsureTopic(ctx, oldID, "keyword")
	require.NoError(t, err)

	newID, err := p.EnsureGroup(ctx, "New Name")
	require.NoError(t, err)
	require.NotEqual(t, oldID, newID)

	// Topic cache entries belonged to the old group.
	require.Empty(t, p.Topics())
}

func TestEnsureTopicIdempotent(t *testing.T) {
	fake := chat.NewFake()
	path := filepath.Join(t.TempDir(), "forum-group-cache.json")
	ctx := context.Background()

	p := New(fake, newTestDriver(), path, false)
	groupID, err := p.EnsureGroup(ctx, "Sorted Videos")
	require.NoError(t, err)

	id1, err := p.EnsureTopic(ctx, groupID, "keyword")
	require.NoError(t, err)
	id2, err := p.EnsureTopic(ctx, groupID, "keyword")
	require.NoError(t, err)
	require.Equal(t, id1, id2)
	require.Equal(t, 1, fake.Calls["provision_topic"])

	other, err := p.EnsureTopic(ctx, groupID, "other")
	require.NoError(t, err)
	require.NotEqual(t, id1, other)

	require.Equal(t, map[string]int64{"keyword": id1, "other": other}, p.Topics())
}

func TestDryRunMakesNoUpstreamCalls(t *testing.T) {
	fake := chat.NewFake()
	path := filepath.Join(t.TempDir(), "forum-group-cache.json")
	ctx := context.Background()

	p := New(fake, newTestDriver(), path, true)

	groupID, err := p.EnsureGroup(ctx, "Sorted Videos")
	require.NoError(t, err)
	require.Negative(t, groupID)

	topicID, err := p.EnsureTopic(ctx, groupID, "keyword")
	require.NoError(t, err)
	require.Negative(t, topicID)

	require.Zero(t, fake.Calls["provision_group"])
	require.Zero(t, fake.Calls["provision_topic"])

	// Synthetic IDs are never persisted.
	p2 := New(fake, newTestDriver(), path, false)
	require.Empty(t, p2.Topics())
}

func TestCorruptCacheFileStartsEmpty(t *testing.T) {
	fake := chat.NewFake()
	dir := t.TempDir()
	path := filepath.Join(dir, "forum-group-cache.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	p := New(fake, newTestDriver(), path, false)
	id, err := p.EnsureGroup(context.Background(), "Sorted Videos")
	require.NoError(t, err)
	require.NotZero(t, id)
	require.Equal(t, 1, fake.Calls["provision_group"])
}
