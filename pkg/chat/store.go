// Copyright (C) 2025 PR Writing Hub (engineering@prwritinghub.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package chat orchestrates a conversation: the ordered message store,
// reconciliation between cache/server/live state, and the turn
// lifecycle gluing the protocol client to the stream session.
package chat

import (
	"sync"

	"github.com/prwritinghub/prhub-cli/pkg/datatypes"
)

// Store holds the ordered transcript of one conversation. Safe for
// concurrent use: the read loop finalizes messages while the UI reads
// them.
type Store struct {
	mu       sync.Mutex
	messages []datatypes.Message
}

// NewStore returns an empty transcript.
func NewStore() *Store {
	return &Store{}
}

// Append adds a message to the end of the transcript.
func (s *Store) Append(m datatypes.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m)
}

// Messages returns a copy of the transcript.
func (s *Store) Messages() []datatypes.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]datatypes.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Len returns the message count.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// Replace swaps in a loaded transcript, clearing any stale streaming
// flags a cached copy may carry from an interrupted session.
func (s *Store) Replace(msgs []datatypes.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = make([]datatypes.Message, len(msgs))
	copy(s.messages, msgs)
	for i := range s.messages {
		s.messages[i].IsStreaming = false
	}
}

// StartStreaming appends a new streaming assistant message. Returns
// false without appending when a streaming message already exists;
// there is never more than one.
func (s *Store) StartStreaming(m datatypes.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].IsStreaming {
			return false
		}
	}
	m.IsStreaming = true
	s.messages = append(s.messages, m)
	return true
}

// UpdateStreaming replaces the content of the streaming message with
// the given id, returning the newly appended suffix. Content only
// grows while streaming, so the delta is well defined.
func (s *Store) UpdateStreaming(id, content string) (delta string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].ID == id && s.messages[i].IsStreaming {
			prev := s.messages[i].Content
			s.messages[i].Content = content
			if len(content) >= len(prev) {
				delta = content[len(prev):]
			}
			return delta, true
		}
	}
	return "", false
}

// Finalize sets the final content and clears the streaming flag. The
// operation is idempotent: finalizing an already-final message with
// the same content changes nothing.
func (s *Store) Finalize(id, content string) (datatypes.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].ID == id {
			s.messages[i].Content = content
			s.messages[i].IsStreaming = false
			return s.messages[i], true
		}
	}
	return datatypes.Message{}, false
}

// MarkErrored fails the message: content is replaced with the error
// text and the streaming flag cleared.
func (s *Store) MarkErrored(id, errText string) (datatypes.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].ID == id {
			s.messages[i].Content = errText
			s.messages[i].IsStreaming = false
			s.messages[i].IsError = true
			return s.messages[i], true
		}
	}
	return datatypes.Message{}, false
}

// StreamingMessage returns the live message, if any.
func (s *Store) StreamingMessage() (datatypes.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].IsStreaming {
			return s.messages[i], true
		}
	}
	return datatypes.Message{}, false
}

// Merge reconciles the server's copy of the transcript with local
// state and returns the result, which becomes the new transcript.
//
// The server list wins for settled history, with consecutive
// byte-identical assistant duplicates collapsed. A live streaming
// message survives the merge unconditionally: it is appended after
// the server list, never dropped, because the server cannot yet know
// about the turn in flight.
func (s *Store) Merge(server []datatypes.Message) []datatypes.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := datatypes.DeduplicateAssistant(server)
	for i := range merged {
		merged[i].IsStreaming = false
	}
	for i := range s.messages {
		if s.messages[i].IsStreaming {
			merged = append(merged, s.messages[i])
			break
		}
	}

	s.messages = make([]datatypes.Message, len(merged))
	copy(s.messages, merged)

	out := make([]datatypes.Message, len(merged))
	copy(out, merged)
	return out
}
