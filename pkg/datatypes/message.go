// Copyright (C) 2025 PR Writing Hub (engineering@prwritinghub.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes defines the shared data model for the PR Writing Hub
// chat client: messages, conversations, and conversation summaries.
//
// These types are the contract between the streaming core, the persistence
// adapter, and the local cache. They carry JSON tags matching the backend's
// wire format so they can round-trip through the conversations REST API
// unchanged.
package datatypes

import (
	"fmt"
	"strings"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single entry in a conversation transcript.
//
// Content grows monotonically while IsStreaming is true and becomes
// immutable once the message finalizes. At most one message in a
// conversation has IsStreaming set at any time; the transition
// true -> false happens exactly once and never reverses.
type Message struct {
	// ID is an opaque unique identifier. Client-generated for new
	// messages, round-tripped from the server for persisted ones.
	ID string `json:"id"`

	// Role is "user" or "assistant".
	Role Role `json:"role"`

	// Content is the UTF-8 message text.
	Content string `json:"content"`

	// Timestamp is when the message was created (client clock for new
	// messages, stored clock for loaded ones).
	Timestamp time.Time `json:"timestamp"`

	// IsStreaming is true only for the single assistant message that is
	// currently being assembled from chunks.
	IsStreaming bool `json:"isStreaming,omitempty"`

	// IsError flags a message whose turn ended in a stream timeout or a
	// server-reported error. The content is a synthesized error string.
	IsError bool `json:"isError,omitempty"`

	// IdempotencyKey is attached to outgoing user messages so the server
	// can collapse duplicate sends of the same logical turn.
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

// Conversation is an ordered transcript plus its routing metadata.
type Conversation struct {
	ConversationID string    `json:"conversationId"`
	UserID         string    `json:"userId"`
	EngineType     string    `json:"engineType"`
	Title          string    `json:"title"`
	Messages       []Message `json:"messages"`
	CreatedAt      time.Time `json:"createdAt,omitempty"`
	UpdatedAt      time.Time `json:"updatedAt,omitempty"`
}

// ConversationSummary is the sidebar-listing view of a conversation.
type ConversationSummary struct {
	ConversationID string    `json:"conversationId"`
	UserID         string    `json:"userId"`
	EngineType     string    `json:"engineType"`
	Title          string    `json:"title"`
	MessageCount   int       `json:"messageCount,omitempty"`
	UpdatedAt      time.Time `json:"updatedAt,omitempty"`
}

// maxTitleRunes bounds titles derived from the first message.
const maxTitleRunes = 50

// NewConversationID builds a client-side conversation identifier in the
// backend's expected "{engine}_{unixMillis}" form. No server round trip
// is needed to start a conversation.
func NewConversationID(engineType string, now time.Time) string {
	return fmt.Sprintf("%s_%d", engineType, now.UnixMilli())
}

// DeriveTitle produces a conversation title from the leading text of the
// first message. Whitespace is collapsed and the result is truncated to a
// display-friendly length.
func DeriveTitle(content string) string {
	title := strings.Join(strings.Fields(content), " ")
	runes := []rune(title)
	if len(runes) > maxTitleRunes {
		title = string(runes[:maxTitleRunes]) + "..."
	}
	if title == "" {
		title = "New conversation"
	}
	return title
}

// DeduplicateAssistant collapses consecutive assistant messages with
// byte-identical content into one. The backend's own storage occasionally
// persists the same assistant turn twice in a row; two such entries are
// one logical message.
func DeduplicateAssistant(messages []Message) []Message {
	out := make([]Message, 0, len(messages))
	var last *Message
	for i := range messages {
		msg := messages[i]
		if last != nil &&
			last.Role == RoleAssistant &&
			msg.Role == RoleAssistant &&
			last.Content == msg.Content {
			continue
		}
		out = append(out, msg)
		last = &out[len(out)-1]
	}
	return out
}
