// Topicmirror - Chat Video Ingestion and Topic Mirroring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/topicmirror

package chat

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Fake is an in-memory Client used by tests and by the agent's
// simulation transport. It reproduces the protocol semantics the core
// relies on: newest-first pagination, topic-scoped replies, batch
// deletion, and forum/topic provisioning. Errors can be scripted per
// method to exercise the driver's retry paths.
type Fake struct {
	mu sync.Mutex

	chats  map[int64]*fakeChat
	nextID int64

	// scripted errors, consumed FIFO per method name
	scripted map[string][]error

	// Calls counts underlying RPC invocations per method, including
	// those that returned scripted errors.
	Calls map[string]int

	// Nonces records every nonce passed to ForwardMessages, including
	// attempts that returned a scripted error.
	Nonces []string
}

type fakeChat struct {
	info     Info
	forum    bool
	messages []Message        // ascending ID order
	topics   map[string]int64 // topic name -> topic message ID
}

// NewFake creates an empty fake chat network.
func NewFake() *Fake {
	return &Fake{
		chats:    make(map[int64]*fakeChat),
		nextID:   1,
		scripted: make(map[string][]error),
		Calls:    make(map[string]int),
	}
}

// AddChat registers a chat and returns its ID.
func (f *Fake) AddChat(title string, kind Kind) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.allocID()
	f.chats[id] = &fakeChat{
		info:   Info{ID: id, Title: title, Kind: kind},
		topics: make(map[string]int64),
	}
	return id
}

// AddMessage appends a message to a chat and returns its ID.
// Messages gain strictly increasing IDs in insertion order.
func (f *Fake) AddMessage(chatID int64, caption string, topicID int64, media Media) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.chats[chatID]
	if c == nil {
		panic(fmt.Sprintf("fake: unknown chat %d", chatID))
	}
	id := f.allocID()
	c.messages = append(c.messages, Message{
		ID:      id,
		ChatID:  chatID,
		Caption: caption,
		TopicID: topicID,
		Media:   media,
	})
	return id
}

// Messages returns a copy of a chat's messages in ascending ID order.
func (f *Fake) Messages(chatID int64) []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.chats[chatID]
	if c == nil {
		return nil
	}
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// FailNext schedules errs to be returned by the next calls to method
// (one of "list", "history", "replies", "forward", "delete",
// "provision_group", "provision_topic"), in order, before normal
// behavior resumes.
func (f *Fake) FailNext(method string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripted[method] = append(f.scripted[method], errs...)
}

// allocID must be called with mu held.
func (f *Fake) allocID() int64 {
	id := f.nextID
	f.nextID++
	return id
}

// takeScripted must be called with mu held.
func (f *Fake) takeScripted(method string) error {
	f.Calls[method]++
	q := f.scripted[method]
	if len(q) == 0 {
		return nil
	}
	err := q[0]
	f.scripted[method] = q[1:]
	return err
}

// ListAccessibleChats implements Client.
func (f *Fake) ListAccessibleChats(_ context.Context, max int) ([]Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeScripted("list"); err != nil {
		return nil, err
	}
	infos := make([]Info, 0, len(f.chats))
	for _, c := range f.chats {
		infos = append(infos, c.info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	if max > 0 && len(infos) > max {
		infos = infos[:max]
	}
	return infos, nil
}

// GetHistoryPage implements Client.
func (f *Fake) GetHistoryPage(_ context.Context, chatID, offsetID int64, limit int) ([]Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeScripted("history"); err != nil {
		return nil, err
	}
	return f.page(chatID, offsetID, limit, nil), nil
}

// GetRepliesPage implements Client.
func (f *Fake) GetRepliesPage(_ context.Context, chatID, topicID, offsetID int64, limit int) ([]Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeScripted("replies"); err != nil {
		return nil, err
	}
	topic := topicID
	return f.page(chatID, offsetID, limit, &topic), nil
}

// page must be called with mu held. topicID nil means all topics.
func (f *Fake) page(chatID, offsetID int64, limit int, topicID *int64) []Message {
	c := f.chats[chatID]
	if c == nil {
		return nil
	}
	if limit <= 0 || limit > PageLimit {
		limit = PageLimit
	}
	var out []Message
	for i := len(c.messages) - 1; i >= 0 && len(out) < limit; i-- {
		m := c.messages[i]
		if offsetID > 0 && m.ID >= offsetID {
			continue
		}
		if topicID != nil && m.TopicID != *topicID {
			continue
		}
		out = append(out, m)
	}
	return out
}

// ForwardMessages implements Client. Forwarded copies gain fresh IDs in
// the destination chat under the given topic.
func (f *Fake) ForwardMessages(_ context.Context, fromChat int64, msgIDs []int64, toChat, topMsgID int64, nonce string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Nonces = append(f.Nonces, nonce)
	if err := f.takeScripted("forward"); err != nil {
		return err
	}
	src := f.chats[fromChat]
	dst := f.chats[toChat]
	if src == nil || dst == nil {
		return &RPCError{Code: 400, Message: "CHAT_ID_INVALID"}
	}
	for _, id := range msgIDs {
		for _, m := range src.messages {
			if m.ID == id {
				copied := m
				copied.ID = f.allocID()
				copied.ChatID = toChat
				copied.TopicID = topMsgID
				dst.messages = append(dst.messages, copied)
				break
			}
		}
	}
	return nil
}

// DeleteMessages implements Client.
func (f *Fake) DeleteMessages(_ context.Context, chatID int64, msgIDs []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeScripted("delete"); err != nil {
		return err
	}
	if len(msgIDs) > PageLimit {
		return &RPCError{Code: 400, Message: "MESSAGE_IDS_TOO_MANY"}
	}
	c := f.chats[chatID]
	if c == nil {
		return &RPCError{Code: 400, Message: "CHAT_ID_INVALID"}
	}
	doomed := make(map[int64]bool, len(msgIDs))
	for _, id := range msgIDs {
		doomed[id] = true
	}
	kept := c.messages[:0]
	for _, m := range c.messages {
		if !doomed[m.ID] {
			kept = append(kept, m)
		}
	}
	c.messages = kept
	return nil
}

// ProvisionForumGroup implements Client. Provisioning the same name
// twice returns the existing chat.
func (f *Fake) ProvisionForumGroup(_ context.Context, name string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeScripted("provision_group"); err != nil {
		return 0, err
	}
	for id, c := range f.chats {
		if c.forum && c.info.Title == name {
			return id, nil
		}
	}
	id := f.allocID()
	f.chats[id] = &fakeChat{
		info:   Info{ID: id, Title: name, Kind: KindGroup},
		forum:  true,
		topics: make(map[string]int64),
	}
	return id, nil
}

// ProvisionTopic implements Client. Idempotent per (chat, name).
func (f *Fake) ProvisionTopic(_ context.Context, chatID int64, name string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeScripted("provision_topic"); err != nil {
		return 0, err
	}
	c := f.chats[chatID]
	if c == nil {
		return 0, &RPCError{Code: 400, Message: "CHAT_ID_INVALID"}
	}
	if id, ok := c.topics[name]; ok {
		return id, nil
	}
	id := f.allocID()
	c.topics[name] = id
	return id, nil
}

var _ Client = (*Fake)(nil)
