// Copyright (C) 2025 PR Writing Hub (engineering@prwritinghub.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stream

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/prwritinghub/prhub-cli/pkg/protocol"
)

// State is the streaming session's lifecycle position.
type State int

const (
	// StateIdle means no assistant turn is in flight.
	StateIdle State = iota

	// StateStreaming means an ai_start has opened a turn and chunks
	// are being assembled.
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	default:
		return "unknown"
	}
}

// DefaultTimeout is how long a turn may go without a chunk before it
// is declared dead. Long-form generations pause between chunks, so
// this is generous; the timer re-arms on every chunk.
const DefaultTimeout = 10 * time.Minute

// Timeout and protocol-error turns replace any partial text with these
// synthesized messages. Partial output from a failed turn is never
// kept; a half answer reads as a whole one.
const (
	timeoutText = "Response timed out. Please try again."
	errorText   = "Sorry, there was an error processing your message."
)

// Callbacks connect the session to its consumer. All callbacks run on
// the goroutine that delivered the triggering frame (or the timeout
// timer), after state has been updated and the session lock released,
// so callbacks may call State and ActiveMessageID freely.
type Callbacks struct {
	// OnStart fires when a turn opens. The id identifies the assistant
	// message being assembled and is stable for the whole turn.
	OnStart func(messageID string)

	// OnPartial fires once per chunk appended in order. content is the
	// full accumulated text, not a delta; a gap fill that releases
	// several held chunks fires once per chunk so the display grows
	// through the same states it would have on in-order delivery.
	OnPartial func(messageID, content string)

	// OnFinal fires exactly once per successful turn with the complete
	// text. conversationID echoes the server's chat_end value, which
	// is authoritative when the server re-keyed the conversation.
	OnFinal func(messageID, content, conversationID string)

	// OnError fires when the turn dies (timeout or server error).
	// content is the synthesized error text.
	OnError func(messageID, content string)
}

// Config configures a Session.
type Config struct {
	// Timeout is the chunk liveness window. Default: DefaultTimeout.
	Timeout time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	Callbacks Callbacks
}

// Session turns the inbound frame stream into assistant-turn
// lifecycle events.
//
// # Description
//
//	Owns the Idle -> Streaming -> Idle state machine for one logical
//	conversation: opens a turn on ai_start, feeds ai_chunk frames
//	through a ReorderBuffer, finalizes on chat_end, and fails the turn
//	on chat_error or chunk-liveness timeout.
//
// # Inputs
//
//	HandleFrame with every frame from the protocol client. Frames that
//	do not belong to the turn lifecycle (chat_start, data_loaded,
//	unknown types) are ignored.
//
// # Limitations
//
//	One turn at a time. A duplicate ai_start while streaming is
//	dropped rather than opening a second turn.
type Session struct {
	cfg Config
	log *slog.Logger

	mu        sync.Mutex
	state     State
	messageID string
	buf       *ReorderBuffer
	content   string
	timer     *time.Timer
	gen       uint64
}

// NewSession creates an idle session.
func NewSession(cfg Config) *Session {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Session{
		cfg: cfg,
		log: cfg.Logger,
		buf: NewReorderBuffer(),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ActiveMessageID returns the id of the in-flight assistant message,
// or "" when idle.
func (s *Session) ActiveMessageID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateStreaming {
		return ""
	}
	return s.messageID
}

// HandleFrame feeds one inbound frame through the state machine.
// Suitable for direct registration as a protocol.Handler.
func (s *Session) HandleFrame(f protocol.Frame) {
	s.mu.Lock()
	var fire func()
	switch f.Type {
	case protocol.FrameAIStart:
		fire = s.handleStart()
	case protocol.FrameAIChunk:
		fire = s.handleChunk(f)
	case protocol.FrameChatEnd:
		fire = s.handleEnd(f)
	case protocol.FrameChatError, protocol.FrameError:
		fire = s.handleError(f)
	}
	s.mu.Unlock()

	if fire != nil {
		fire()
	}
}

// Close stops the liveness timer. An in-flight turn is abandoned
// silently; no callback fires.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTimerLocked()
	s.state = StateIdle
	s.messageID = ""
}

// =============================================================================
// Frame handling (mu held)
// =============================================================================

// Each handler mutates state under mu and returns the callback
// invocation to run once the lock is released, or nil.

func (s *Session) handleStart() func() {
	if s.state == StateStreaming {
		// Gateway redelivery of ai_start. The open turn wins.
		s.log.Debug("duplicate ai_start ignored", "message_id", s.messageID)
		return nil
	}
	s.state = StateStreaming
	s.messageID = uuid.NewString()
	s.content = ""
	s.buf.Reset()
	s.armTimerLocked()

	s.log.Info("assistant turn opened", "message_id", s.messageID)
	if s.cfg.Callbacks.OnStart == nil {
		return nil
	}
	messageID := s.messageID
	return func() { s.cfg.Callbacks.OnStart(messageID) }
}

func (s *Session) handleChunk(f protocol.Frame) func() {
	if s.state != StateStreaming {
		s.log.Debug("chunk outside turn dropped", "chunk_index", f.ChunkIndex)
		return nil
	}
	s.armTimerLocked()

	pieces, ok := s.buf.Offer(f.ChunkIndex, f.Chunk)
	if !ok {
		if f.ChunkIndex < s.buf.Next() {
			s.log.Debug("duplicate chunk dropped", "chunk_index", f.ChunkIndex)
		} else {
			s.log.Debug("chunk held for reorder",
				"chunk_index", f.ChunkIndex,
				"expected", s.buf.Next(),
				"held", s.buf.PendingCount(),
			)
		}
		return nil
	}

	// One accumulated snapshot per piece, so a gap fill replays the
	// same display progression as in-order delivery.
	snapshots := make([]string, 0, len(pieces))
	for _, piece := range pieces {
		s.content += piece
		snapshots = append(snapshots, s.content)
	}
	if s.cfg.Callbacks.OnPartial == nil {
		return nil
	}
	messageID := s.messageID
	return func() {
		for _, content := range snapshots {
			s.cfg.Callbacks.OnPartial(messageID, content)
		}
	}
}

func (s *Session) handleEnd(f protocol.Frame) func() {
	if s.state != StateStreaming {
		return nil
	}
	s.stopTimerLocked()

	if held := s.buf.PendingCount(); held > 0 {
		// Chunks beyond a gap never became contiguous; the turn ends
		// with what arrived in order.
		s.log.Warn("turn ended with chunks missing",
			"held", held,
			"next_expected", s.buf.Next(),
			"total_chunks", f.TotalChunks,
		)
	}

	messageID := s.messageID
	content := s.content
	s.log.Info("assistant turn finalized",
		"message_id", messageID,
		"chunks", s.buf.Next(),
		"response_length", len(content),
	)

	s.state = StateIdle
	s.messageID = ""
	s.content = ""
	s.buf.Reset()

	if s.cfg.Callbacks.OnFinal == nil {
		return nil
	}
	return func() { s.cfg.Callbacks.OnFinal(messageID, content, f.ConversationID) }
}

func (s *Session) handleError(f protocol.Frame) func() {
	if s.state != StateStreaming {
		s.log.Warn("server error outside turn", "message", f.Message)
		return nil
	}
	s.stopTimerLocked()

	messageID := s.messageID
	s.log.Error("assistant turn failed",
		"message_id", messageID,
		"server_message", f.Message,
	)

	s.state = StateIdle
	s.messageID = ""
	s.content = ""
	s.buf.Reset()

	if s.cfg.Callbacks.OnError == nil {
		return nil
	}
	return func() { s.cfg.Callbacks.OnError(messageID, errorText) }
}

// =============================================================================
// Liveness timer (mu held)
// =============================================================================

// armTimerLocked (re)starts the liveness window. The generation
// counter makes a late-firing stale timer a no-op.
func (s *Session) armTimerLocked() {
	s.stopTimerLocked()
	s.gen++
	gen := s.gen
	s.timer = time.AfterFunc(s.cfg.Timeout, func() {
		s.onTimeout(gen)
	})
}

func (s *Session) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
}

func (s *Session) onTimeout(gen uint64) {
	s.mu.Lock()
	if s.gen != gen || s.state != StateStreaming {
		s.mu.Unlock()
		return
	}

	messageID := s.messageID
	s.log.Error("assistant turn timed out",
		"message_id", messageID,
		"timeout", s.cfg.Timeout,
		"received_chunks", s.buf.Next(),
	)

	s.state = StateIdle
	s.messageID = ""
	s.content = ""
	s.buf.Reset()
	s.timer = nil
	s.mu.Unlock()

	if s.cfg.Callbacks.OnError != nil {
		s.cfg.Callbacks.OnError(messageID, timeoutText)
	}
}
