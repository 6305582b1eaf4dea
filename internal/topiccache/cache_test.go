// Topicmirror - Chat Video Ingestion and Topic Mirroring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/topicmirror

package topiccache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tomtom215/topicmirror/internal/chat"
	"github.com/tomtom215/topicmirror/internal/ratelimit"
)

func newTestCache(fake *chat.Fake) *Cache {
	driver := ratelimit.NewDriver()
	driver.SetSleep(func(context.Context, time.Duration) error { return nil })
	return New(fake, driver)
}

func TestMessagesFillsLazilyAndOnce(t *testing.T) {
	fake := chat.NewFake()
	dest := fake.AddChat("Videos", chat.KindGroup)
	topicA := fake.AddMessage(dest, "topic a root", 0, nil)
	topicB := fake.AddMessage(dest, "topic b root", 0, nil)
	fake.AddMessage(dest, "in a", topicA, chat.Video{FileName: "a.mp4"})
	fake.AddMessage(dest, "in b", topicB, chat.Video{FileName: "b.mp4"})
	fake.AddMessage(dest, "also in a", topicA, chat.Video{FileName: "a2.mp4"})

	cache := newTestCache(fake)
	ctx := context.Background()

	msgs, err := cache.Messages(ctx, dest, topicA)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	for _, m := range msgs {
		require.Equal(t, topicA, m.TopicID)
	}
	firstCalls := fake.Calls["replies"]
	require.Positive(t, firstCalls)

	// Second access is served from the cache.
	msgs, err = cache.Messages(ctx, dest, topicA)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, firstCalls, fake.Calls["replies"])

	// A different topic triggers its own fill.
	msgs, err = cache.Messages(ctx, dest, topicB)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Greater(t, fake.Calls["replies"], firstCalls)
}

func TestMessagesPaginates(t *testing.T) {
	fake := chat.NewFake()
	dest := fake.AddChat("Videos", chat.KindGroup)
	topicID := fake.AddMessage(dest, "topic root", 0, nil)
	for i := 0; i < chat.PageLimit+30; i++ {
		fake.AddMessage(dest, fmt.Sprintf("clip %d", i), topicID, chat.Video{
			FileName: fmt.Sprintf("clip-%d.mp4", i),
		})
	}

	cache := newTestCache(fake)

	msgs, err := cache.Messages(context.Background(), dest, topicID)
	require.NoError(t, err)
	require.Len(t, msgs, chat.PageLimit+30)
	require.Equal(t, 2, fake.Calls["replies"])
}

func TestRemovePurgesDeletedMessages(t *testing.T) {
	fake := chat.NewFake()
	dest := fake.AddChat("Videos", chat.KindGroup)
	topicID := fake.AddMessage(dest, "topic root", 0, nil)
	oldID := fake.AddMessage(dest, "old", topicID, chat.Video{FileName: "old.mp4"})
	keepID := fake.AddMessage(dest, "keep", topicID, chat.Video{FileName: "keep.mp4"})

	cache := newTestCache(fake)
	ctx := context.Background()

	msgs, err := cache.Messages(ctx, dest, topicID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	cache.Remove(dest, topicID, []int64{oldID})

	msgs, err = cache.Messages(ctx, dest, topicID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, keepID, msgs[0].ID)
}

func TestRemoveOnUnfilledTopicIsNoop(t *testing.T) {
	fake := chat.NewFake()
	dest := fake.AddChat("Videos", chat.KindGroup)

	cache := newTestCache(fake)
	cache.Remove(dest, 99, []int64{1, 2, 3})
	require.Zero(t, fake.Calls["replies"])
}

func TestInvalidateForcesRefetch(t *testing.T) {
	fake := chat.NewFake()
	dest := fake.AddChat("Videos", chat.KindGroup)
	topicID := fake.AddMessage(dest, "topic root", 0, nil)
	fake.AddMessage(dest, "old", topicID, chat.Video{FileName: "old.mp4"})

	cache := newTestCache(fake)
	ctx := context.Background()

	msgs, err := cache.Messages(ctx, dest, topicID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	// A message lands in the topic behind the cache's back.
	newID := fake.AddMessage(dest, "new", topicID, chat.Video{FileName: "new.mp4"})

	// The stale snapshot is served until the topic is invalidated.
	msgs, err = cache.Messages(ctx, dest, topicID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	cache.Invalidate(dest, topicID)

	msgs, err = cache.Messages(ctx, dest, topicID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	ids := []int64{msgs[0].ID, msgs[1].ID}
	require.Contains(t, ids, newID)
}

func TestInvalidateOnUnfilledTopicIsNoop(t *testing.T) {
	fake := chat.NewFake()
	dest := fake.AddChat("Videos", chat.KindGroup)

	cache := newTestCache(fake)
	cache.Invalidate(dest, 99)
	require.Zero(t, fake.Calls["replies"])
}

func TestFillRetriesTransientErrors(t *testing.T) {
	fake := chat.NewFake()
	dest := fake.AddChat("Videos", chat.KindGroup)
	topicID := fake.AddMessage(dest, "topic root", 0, nil)
	fake.AddMessage(dest, "clip", topicID, chat.Video{FileName: "clip.mp4"})
	fake.FailNext("replies", chat.ErrNetwork)

	cache := newTestCache(fake)

	msgs, err := cache.Messages(context.Background(), dest, topicID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, 2, fake.Calls["replies"])
}
