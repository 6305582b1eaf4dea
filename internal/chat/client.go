// Topicmirror - Chat Video Ingestion and Topic Mirroring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/topicmirror

// Package chat defines the narrow upstream chat-protocol surface the
// ingestion core depends on, together with the message and media types
// exchanged across it.
//
// The concrete transport (MTProto session, credentials, login flow) is
// deliberately outside this module. Production deployments supply a
// Client implementation; tests and simulation runs use Fake.
package chat

import "context"

// Kind classifies an accessible chat.
type Kind string

const (
	KindGroup   Kind = "group"
	KindChannel Kind = "channel"
	KindOther   Kind = "other"
)

// Info describes one accessible chat.
type Info struct {
	ID    int64
	Title string
	Kind  Kind
}

// Message is one chat message as seen by the core. Media is nil when the
// message carries no media; otherwise it has been lifted into the Media
// sum type exactly once at ingress.
type Message struct {
	ID      int64
	ChatID  int64
	Caption string

	// TopicID is the forum topic the message belongs to, derived from the
	// reply-to-top field. 0 means the general topic.
	TopicID int64

	Media Media
}

// PageLimit is the protocol's per-call ceiling for history and replies
// pages, and for batched deletions.
const PageLimit = 100

// Client is the upstream RPC surface. Every call may be retried by the
// rate-limit driver; implementations must be safe for sequential reuse
// across calls but are never invoked concurrently for the same chat.
type Client interface {
	// ListAccessibleChats returns up to max accessible chats.
	ListAccessibleChats(ctx context.Context, max int) ([]Info, error)

	// GetHistoryPage returns up to limit messages of chatID's history,
	// newest first, strictly older than offsetID (0 = from the top).
	GetHistoryPage(ctx context.Context, chatID, offsetID int64, limit int) ([]Message, error)

	// GetRepliesPage returns up to limit messages under a forum topic,
	// newest first, strictly older than offsetID.
	GetRepliesPage(ctx context.Context, chatID, topicID, offsetID int64, limit int) ([]Message, error)

	// ForwardMessages republishes msgIDs from fromChat into toChat under
	// topMsgID. Nonce must be fresh and unique per call.
	ForwardMessages(ctx context.Context, fromChat int64, msgIDs []int64, toChat, topMsgID int64, nonce string) error

	// DeleteMessages removes msgIDs from chatID for all participants.
	// The batch must not exceed PageLimit.
	DeleteMessages(ctx context.Context, chatID int64, msgIDs []int64) error

	// ProvisionForumGroup creates (or finds) the forum-style destination
	// chat with the given display name and returns its ID.
	ProvisionForumGroup(ctx context.Context, name string) (int64, error)

	// ProvisionTopic creates (or finds) a topic in chatID and returns its ID.
	ProvisionTopic(ctx context.Context, chatID int64, name string) (int64, error)
}
