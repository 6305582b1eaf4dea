// Topicmirror - Chat Video Ingestion and Topic Mirroring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/topicmirror

// Package topiccache lazily materializes the messages of destination
// forum topics so replacement deletes can locate superseded copies
// without re-fetching the topic on every lookup.
package topiccache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tomtom215/topicmirror/internal/chat"
	"github.com/tomtom215/topicmirror/internal/logging"
	"github.com/tomtom215/topicmirror/internal/metrics"
	"github.com/tomtom215/topicmirror/internal/ratelimit"
)

// pageCeiling bounds a single fill. A topic larger than this is cached
// partially; replacement lookups then only see the newest messages,
// which is where superseded copies live.
const pageCeiling = 50

// fillInterval paces the page fetches of a fill.
const fillInterval = 500 * time.Millisecond

type topicKey struct {
	chatID  int64
	topicID int64
}

// Cache holds per-topic message maps, filled on first access.
type Cache struct {
	client chat.Client
	driver *ratelimit.Driver
	pacer  *ratelimit.Pacer

	mu     sync.Mutex
	topics map[topicKey]map[int64]chat.Message
}

// New creates an empty cache over the given transport.
func New(client chat.Client, driver *ratelimit.Driver) *Cache {
	return &Cache{
		client: client,
		driver: driver,
		pacer:  ratelimit.NewPacer(fillInterval),
		topics: make(map[topicKey]map[int64]chat.Message),
	}
}

// Messages returns a snapshot of the cached messages for the topic,
// filling the cache on first access. The snapshot is safe to iterate
// while the cache mutates.
func (c *Cache) Messages(ctx context.Context, chatID, topicID int64) ([]chat.Message, error) {
	key := topicKey{chatID: chatID, topicID: topicID}

	c.mu.Lock()
	cached, ok := c.topics[key]
	c.mu.Unlock()

	if !ok {
		filled, err := c.fill(ctx, chatID, topicID)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		// A concurrent fill may have won; keep whichever landed first.
		if existing, raced := c.topics[key]; raced {
			cached = existing
		} else {
			c.topics[key] = filled
			cached = filled
		}
		c.mu.Unlock()
	}

	c.mu.Lock()
	snapshot := make([]chat.Message, 0, len(cached))
	for _, msg := range cached {
		snapshot = append(snapshot, msg)
	}
	c.mu.Unlock()
	return snapshot, nil
}

// Remove drops message IDs from a cached topic after they are deleted
// in the destination. Unknown IDs and unfilled topics are no-ops.
func (c *Cache) Remove(chatID, topicID int64, msgIDs []int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cached, ok := c.topics[topicKey{chatID: chatID, topicID: topicID}]
	if !ok {
		return
	}
	for _, id := range msgIDs {
		delete(cached, id)
	}
}

// Invalidate drops a topic's cached fill. Called after a forward lands
// in the topic; the forward RPC does not return the new message ID, so
// the next lookup refetches instead of serving a snapshot that is
// missing the copy just forwarded. Unfilled topics are no-ops.
func (c *Cache) Invalidate(chatID, topicID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.topics, topicKey{chatID: chatID, topicID: topicID})
}

// fill pages through the topic newest-first until an empty page, a
// short page, or the page ceiling.
func (c *Cache) fill(ctx context.Context, chatID, topicID int64) (map[int64]chat.Message, error) {
	messages := make(map[int64]chat.Message)
	offsetID := int64(0)
	pages := 0

	for pages < pageCeiling {
		if err := c.pacer.Wait(ctx); err != nil {
			return nil, err
		}

		var page []chat.Message
		err := c.driver.Do(ctx, "replies", func(ctx context.Context) error {
			var fetchErr error
			page, fetchErr = c.client.GetRepliesPage(ctx, chatID, topicID, offsetID, chat.PageLimit)
			return fetchErr
		})
		if err != nil {
			return nil, fmt.Errorf("filling topic cache for topic %d: %w", topicID, err)
		}
		pages++

		if len(page) == 0 {
			break
		}
		for _, msg := range page {
			messages[msg.ID] = msg
			if offsetID == 0 || msg.ID < offsetID {
				offsetID = msg.ID
			}
		}
		if len(page) < chat.PageLimit {
			break
		}
	}

	if pages >= pageCeiling {
		logging.Warn().
			Int64("chat_id", chatID).
			Int64("topic_id", topicID).
			Int("pages", pages).
			Msg("Topic cache fill hit page ceiling, topic cached partially")
	}

	metrics.TopicCacheFills.Inc()
	metrics.TopicCachePages.Observe(float64(pages))
	logging.Debug().
		Int64("chat_id", chatID).
		Int64("topic_id", topicID).
		Int("messages", len(messages)).
		Int("pages", pages).
		Msg("Topic cache filled")
	return messages, nil
}
