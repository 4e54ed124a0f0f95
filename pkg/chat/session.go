// Copyright (C) 2025 PR Writing Hub (engineering@prwritinghub.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/prwritinghub/prhub-cli/pkg/conversations"
	"github.com/prwritinghub/prhub-cli/pkg/datatypes"
	"github.com/prwritinghub/prhub-cli/pkg/localstore"
	"github.com/prwritinghub/prhub-cli/pkg/protocol"
	"github.com/prwritinghub/prhub-cli/pkg/stream"
)

// saveTimeout bounds the background persistence call after a turn.
const saveTimeout = 15 * time.Second

// Events are the session's presentation hooks. All callbacks run on
// the connection's read loop goroutine (or the stream timeout timer)
// and must not block.
type Events struct {
	// OnAssistantStart fires when the assistant begins a response.
	OnAssistantStart func(messageID string)

	// OnAssistantDelta fires with each newly arrived in-order piece of
	// assistant text.
	OnAssistantDelta func(messageID, delta string)

	// OnAssistantDone fires with the finalized assistant message.
	OnAssistantDone func(msg datatypes.Message)

	// OnAssistantError fires when a turn fails; msg carries the
	// synthesized error text.
	OnAssistantError func(msg datatypes.Message)

	// OnTranscript fires after any transcript change with the full
	// message list (loads, merges, appends).
	OnTranscript func(msgs []datatypes.Message)
}

// Config configures a Session.
type Config struct {
	// Client is the chat socket. Required.
	Client protocol.Client

	// Adapter persists conversations server-side. Nil disables
	// persistence (chat still works).
	Adapter conversations.Adapter

	// Cache is the local store for offline reads. Nil disables
	// caching.
	Cache localstore.Store

	// Engine selects the model backend ("11" or "22"). Required.
	Engine string

	// UserID identifies the account. Required.
	UserID string

	// UserRole is forwarded to the backend for entitlement checks.
	UserRole string

	// ConversationID resumes an existing conversation. Empty starts a
	// new one with a generated id.
	ConversationID string

	// StreamTimeout overrides the chunk liveness window.
	StreamTimeout time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	Events Events
}

// Session runs one conversation end to end.
//
// # Description
//
//	Owns the transcript Store and a stream.Session, holds exactly one
//	handler registration on the protocol client, persists the
//	conversation after each completed assistant turn, and reconciles
//	cache/server/live state on load.
//
// # Limitations
//
//	One in-flight turn at a time; Send while the assistant is
//	responding returns an error.
type Session struct {
	cfg   Config
	store *Store
	strm  *stream.Session

	removeHandler func()

	// mu guards convID and log: the server may re-key the conversation
	// via chat_end on the read loop goroutine while the caller's
	// goroutine is reading the id.
	mu     sync.Mutex
	log    *slog.Logger
	convID string
}

// NewSession creates a session and registers its frame handler on the
// client. Call Close to release the registration.
func NewSession(cfg Config) (*Session, error) {
	if cfg.Client == nil {
		return nil, errors.New("client is required")
	}
	if cfg.Engine == "" {
		return nil, errors.New("engine is required")
	}
	if cfg.UserID == "" {
		return nil, errors.New("userID is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	convID := cfg.ConversationID
	if convID == "" {
		convID = datatypes.NewConversationID(cfg.Engine, time.Now())
	}

	s := &Session{
		cfg:    cfg,
		log:    cfg.Logger.With("conversation_id", convID),
		store:  NewStore(),
		convID: convID,
	}
	s.strm = stream.NewSession(stream.Config{
		Timeout: cfg.StreamTimeout,
		Logger:  cfg.Logger,
		Callbacks: stream.Callbacks{
			OnStart:   s.onStreamStart,
			OnPartial: s.onStreamPartial,
			OnFinal:   s.onStreamFinal,
			OnError:   s.onStreamError,
		},
	})
	s.removeHandler = cfg.Client.AddHandler(s.strm.HandleFrame)
	return s, nil
}

// ConversationID returns the current conversation id, which may have
// been re-keyed by the server.
func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.convID
}

// logger returns the current conversation-scoped logger. Re-keying
// swaps the logger along with the id.
func (s *Session) logger() *slog.Logger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log
}

// Messages returns a copy of the transcript.
func (s *Session) Messages() []datatypes.Message {
	return s.store.Messages()
}

// Streaming reports whether an assistant turn is in flight.
func (s *Session) Streaming() bool {
	return s.strm.State() == stream.StateStreaming
}

// Close deregisters the frame handler and stops the stream session.
// The protocol client is owned by the caller and stays open.
func (s *Session) Close() {
	if s.removeHandler != nil {
		s.removeHandler()
		s.removeHandler = nil
	}
	s.strm.Close()
}

// Load populates the transcript: the cached copy is installed first
// for instant display, then the server copy is fetched and merged in.
// A server failure degrades to cache-only and is not an error.
func (s *Session) Load(ctx context.Context) error {
	convID := s.ConversationID()
	log := s.logger()

	if s.cfg.Cache != nil {
		msgs, ok, err := s.cfg.Cache.Messages(convID)
		if err != nil {
			log.Warn("cache read failed", "error", err)
		} else if ok {
			s.store.Replace(msgs)
			log.Debug("transcript loaded from cache", "messages", len(msgs))
			s.notifyTranscript()
		}
	}

	if s.cfg.Adapter == nil {
		return nil
	}
	conv, err := s.cfg.Adapter.Get(ctx, convID)
	if err != nil {
		if errors.Is(err, conversations.ErrNotFound) {
			return nil
		}
		// Cache-only mode. The transcript the user sees may be stale
		// but chat keeps working.
		log.Warn("server load failed, staying on cached copy", "error", err)
		return nil
	}

	merged := s.store.Merge(conv.Messages)
	s.writeCache(merged)
	log.Info("transcript reconciled",
		"server_messages", len(conv.Messages),
		"merged_messages", len(merged),
	)
	s.notifyTranscript()
	return nil
}

// Send submits a user turn. The message is appended locally, the
// request goes out with full finalized history, and the response then
// arrives through the frame handler. One transparent reconnect-and-
// retry covers a dropped connection; further failures surface to the
// caller with the message still in the transcript.
func (s *Session) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("message must not be empty")
	}
	if s.Streaming() {
		return errors.New("assistant response in progress")
	}

	history := s.historyEntries()
	userMsg := datatypes.Message{
		ID:             uuid.NewString(),
		Role:           datatypes.RoleUser,
		Content:        text,
		Timestamp:      time.Now().UTC(),
		IdempotencyKey: uuid.NewString(),
	}
	s.store.Append(userMsg)
	s.notifyTranscript()

	req := protocol.ChatRequest{
		Message:             text,
		EngineType:          s.cfg.Engine,
		ConversationID:      s.ConversationID(),
		UserID:              s.cfg.UserID,
		UserRole:            s.cfg.UserRole,
		IdempotencyKey:      userMsg.IdempotencyKey,
		ConversationHistory: history,
	}

	if !s.cfg.Client.IsConnected() {
		if err := s.cfg.Client.Connect(ctx); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
	}
	err := s.cfg.Client.Send(ctx, req)
	if err != nil {
		// The idempotency key makes the retry safe: the backend
		// collapses both deliveries into one model call.
		s.logger().Warn("send failed, reconnecting once", "error", err)
		if cerr := s.cfg.Client.Connect(ctx); cerr != nil {
			return fmt.Errorf("send: %w", err)
		}
		if err = s.cfg.Client.Send(ctx, req); err != nil {
			return fmt.Errorf("send after reconnect: %w", err)
		}
	}

	s.writeCache(s.store.Messages())
	return nil
}

// =============================================================================
// Stream callbacks
// =============================================================================

func (s *Session) onStreamStart(messageID string) {
	ok := s.store.StartStreaming(datatypes.Message{
		ID:        messageID,
		Role:      datatypes.RoleAssistant,
		Timestamp: time.Now().UTC(),
	})
	if !ok {
		s.logger().Warn("streaming message already present, turn dropped",
			"message_id", messageID)
		return
	}
	if s.cfg.Events.OnAssistantStart != nil {
		s.cfg.Events.OnAssistantStart(messageID)
	}
	s.notifyTranscript()
}

func (s *Session) onStreamPartial(messageID, content string) {
	delta, ok := s.store.UpdateStreaming(messageID, content)
	if !ok {
		return
	}
	if delta != "" && s.cfg.Events.OnAssistantDelta != nil {
		s.cfg.Events.OnAssistantDelta(messageID, delta)
	}
	if s.cfg.Events.OnTranscript != nil {
		s.cfg.Events.OnTranscript(s.store.Messages())
	}
}

func (s *Session) onStreamFinal(messageID, content, serverConvID string) {
	msg, ok := s.store.Finalize(messageID, content)
	if !ok {
		return
	}
	s.mu.Lock()
	if serverConvID != "" && serverConvID != s.convID {
		// Server re-keyed the conversation; its id is authoritative.
		s.log.Info("conversation re-keyed by server",
			"old_id", s.convID, "new_id", serverConvID)
		s.convID = serverConvID
		s.log = s.cfg.Logger.With("conversation_id", serverConvID)
	}
	s.mu.Unlock()

	if s.cfg.Events.OnAssistantDone != nil {
		s.cfg.Events.OnAssistantDone(msg)
	}
	s.notifyTranscript()

	go s.persistTurn()
}

func (s *Session) onStreamError(messageID, errText string) {
	msg, ok := s.store.MarkErrored(messageID, errText)
	if !ok {
		return
	}
	if s.cfg.Events.OnAssistantError != nil {
		s.cfg.Events.OnAssistantError(msg)
	}
	s.notifyTranscript()
	s.writeCache(s.store.Messages())
}

// =============================================================================
// Persistence
// =============================================================================

// persistTurn saves the whole transcript after a completed assistant
// turn. The save is an idempotent upsert keyed on the conversation id,
// so every turn re-saves the full conversation.
func (s *Session) persistTurn() {
	msgs := s.store.Messages()
	s.writeCache(msgs)

	if s.cfg.Adapter == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	now := time.Now().UTC()
	conv := datatypes.Conversation{
		ConversationID: s.ConversationID(),
		UserID:         s.cfg.UserID,
		EngineType:     s.cfg.Engine,
		Title:          s.title(msgs),
		Messages:       msgs,
		UpdatedAt:      now,
	}
	if err := s.cfg.Adapter.Save(ctx, conv); err != nil {
		// Local cache already has the transcript; server persistence
		// catches up on the next completed turn.
		s.logger().Warn("conversation save failed", "error", err)
		return
	}
	s.logger().Debug("conversation saved", "messages", len(msgs))
}

func (s *Session) writeCache(msgs []datatypes.Message) {
	if s.cfg.Cache == nil {
		return
	}
	convID := s.ConversationID()
	if err := s.cfg.Cache.SaveMessages(convID, msgs); err != nil {
		s.logger().Warn("cache write failed", "error", err)
		return
	}
	summary := datatypes.ConversationSummary{
		ConversationID: convID,
		UserID:         s.cfg.UserID,
		EngineType:     s.cfg.Engine,
		Title:          s.title(msgs),
		MessageCount:   len(msgs),
		UpdatedAt:      time.Now().UTC(),
	}
	if err := s.cfg.Cache.SaveSummary(summary); err != nil {
		s.logger().Warn("summary cache write failed", "error", err)
	}
}

// title derives the conversation title from the first user message.
func (s *Session) title(msgs []datatypes.Message) string {
	for _, m := range msgs {
		if m.Role == datatypes.RoleUser {
			return datatypes.DeriveTitle(m.Content)
		}
	}
	return datatypes.DeriveTitle("")
}

// historyEntries converts settled turns into wire history. The live
// streaming message and errored turns are excluded; the model should
// not see half answers or synthesized error strings.
func (s *Session) historyEntries() []protocol.HistoryEntry {
	msgs := s.store.Messages()
	out := make([]protocol.HistoryEntry, 0, len(msgs))
	for _, m := range msgs {
		if m.IsStreaming || m.IsError {
			continue
		}
		out = append(out, protocol.HistoryEntry{
			Role:      string(m.Role),
			Content:   m.Content,
			Timestamp: m.Timestamp.UTC().Format(time.RFC3339),
		})
	}
	return out
}

func (s *Session) notifyTranscript() {
	if s.cfg.Events.OnTranscript != nil {
		s.cfg.Events.OnTranscript(s.store.Messages())
	}
}
