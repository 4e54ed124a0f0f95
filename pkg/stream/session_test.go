// Copyright (C) 2025 PR Writing Hub (engineering@prwritinghub.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stream

import (
	"sync"
	"testing"
	"time"

	"github.com/prwritinghub/prhub-cli/pkg/protocol"
)

// recorder collects session callbacks for assertions.
type recorder struct {
	mu       sync.Mutex
	started  []string
	partials []string
	finals   []string
	errors   []string
	convIDs  []string
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnStart: func(id string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.started = append(r.started, id)
		},
		OnPartial: func(_, content string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.partials = append(r.partials, content)
		},
		OnFinal: func(_, content, convID string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.finals = append(r.finals, content)
			r.convIDs = append(r.convIDs, convID)
		},
		OnError: func(_, content string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errors = append(r.errors, content)
		},
	}
}

func (r *recorder) snapshot() recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	return recorder{
		started:  append([]string(nil), r.started...),
		partials: append([]string(nil), r.partials...),
		finals:   append([]string(nil), r.finals...),
		errors:   append([]string(nil), r.errors...),
		convIDs:  append([]string(nil), r.convIDs...),
	}
}

func chunkFrame(index int, text string) protocol.Frame {
	return protocol.Frame{Type: protocol.FrameAIChunk, ChunkIndex: index, Chunk: text}
}

// TestSession_OutOfOrderTurn plays the canonical scenario: chunks
// "hello ", "world", "!" delivered in order [1, 0, 2].
func TestSession_OutOfOrderTurn(t *testing.T) {
	rec := &recorder{}
	s := NewSession(Config{Callbacks: rec.callbacks()})
	defer s.Close()

	s.HandleFrame(protocol.Frame{Type: protocol.FrameAIStart})
	s.HandleFrame(chunkFrame(1, "world"))
	s.HandleFrame(chunkFrame(0, "hello "))
	s.HandleFrame(chunkFrame(2, "!"))
	s.HandleFrame(protocol.Frame{
		Type:           protocol.FrameChatEnd,
		ConversationID: "11_1700000000000",
		TotalChunks:    3,
	})

	got := rec.snapshot()
	if len(got.started) != 1 {
		t.Fatalf("started %d turns, want 1", len(got.started))
	}
	// Filling the index-0 gap releases chunks 0 and 1 as separate
	// display updates, the same progression in-order delivery gives.
	wantPartials := []string{"hello ", "hello world", "hello world!"}
	if len(got.partials) != len(wantPartials) {
		t.Fatalf("partials = %v, want %v", got.partials, wantPartials)
	}
	for i, want := range wantPartials {
		if got.partials[i] != want {
			t.Errorf("partial[%d] = %q, want %q", i, got.partials[i], want)
		}
	}
	if len(got.finals) != 1 || got.finals[0] != "hello world!" {
		t.Fatalf("finals = %v, want [\"hello world!\"]", got.finals)
	}
	if got.convIDs[0] != "11_1700000000000" {
		t.Errorf("conversation id = %q", got.convIDs[0])
	}
	if s.State() != StateIdle {
		t.Errorf("state after end = %v, want idle", s.State())
	}
}

// TestSession_DuplicateStartIgnored verifies at most one turn opens
// per ai_start burst.
func TestSession_DuplicateStartIgnored(t *testing.T) {
	rec := &recorder{}
	s := NewSession(Config{Callbacks: rec.callbacks()})
	defer s.Close()

	s.HandleFrame(protocol.Frame{Type: protocol.FrameAIStart})
	firstID := s.ActiveMessageID()
	s.HandleFrame(protocol.Frame{Type: protocol.FrameAIStart})

	if got := s.ActiveMessageID(); got != firstID {
		t.Errorf("duplicate ai_start replaced the turn: %q -> %q", firstID, got)
	}
	if len(rec.snapshot().started) != 1 {
		t.Errorf("started %d turns, want 1", len(rec.snapshot().started))
	}
}

// TestSession_FinalizeIsTerminal verifies frames after chat_end do not
// resurrect the finished turn.
func TestSession_FinalizeIsTerminal(t *testing.T) {
	rec := &recorder{}
	s := NewSession(Config{Callbacks: rec.callbacks()})
	defer s.Close()

	s.HandleFrame(protocol.Frame{Type: protocol.FrameAIStart})
	s.HandleFrame(chunkFrame(0, "done"))
	s.HandleFrame(protocol.Frame{Type: protocol.FrameChatEnd})

	// Late frames from the finished turn.
	s.HandleFrame(chunkFrame(1, "ghost"))
	s.HandleFrame(protocol.Frame{Type: protocol.FrameChatEnd})

	got := rec.snapshot()
	if len(got.finals) != 1 {
		t.Fatalf("finalized %d times, want 1", len(got.finals))
	}
	if got.finals[0] != "done" {
		t.Errorf("final content = %q, want \"done\"", got.finals[0])
	}
	if len(got.partials) != 1 {
		t.Errorf("late chunk produced partial update: %v", got.partials)
	}
}

// TestSession_ServerErrorReplacesContent verifies the flag-and-replace
// error policy: partial text is discarded for the synthesized message.
func TestSession_ServerErrorReplacesContent(t *testing.T) {
	rec := &recorder{}
	s := NewSession(Config{Callbacks: rec.callbacks()})
	defer s.Close()

	s.HandleFrame(protocol.Frame{Type: protocol.FrameAIStart})
	s.HandleFrame(chunkFrame(0, "partial answer"))
	s.HandleFrame(protocol.Frame{Type: protocol.FrameChatError, Message: "engine exploded"})

	got := rec.snapshot()
	if len(got.errors) != 1 {
		t.Fatalf("errors = %v, want one entry", got.errors)
	}
	if got.errors[0] != errorText {
		t.Errorf("error content = %q, want %q", got.errors[0], errorText)
	}
	if len(got.finals) != 0 {
		t.Errorf("errored turn also finalized: %v", got.finals)
	}
	if s.State() != StateIdle {
		t.Errorf("state after error = %v, want idle", s.State())
	}
}

// TestSession_Timeout verifies a stalled turn fails with the timeout
// message, and that chunks re-arm the liveness window.
func TestSession_Timeout(t *testing.T) {
	rec := &recorder{}
	s := NewSession(Config{
		Timeout:   50 * time.Millisecond,
		Callbacks: rec.callbacks(),
	})
	defer s.Close()

	s.HandleFrame(protocol.Frame{Type: protocol.FrameAIStart})

	// Keep the turn alive past the original deadline.
	time.Sleep(30 * time.Millisecond)
	s.HandleFrame(chunkFrame(0, "still "))
	time.Sleep(30 * time.Millisecond)
	s.HandleFrame(chunkFrame(1, "alive"))

	if len(rec.snapshot().errors) != 0 {
		t.Fatal("turn timed out despite live chunks")
	}

	// Now stall until the window expires.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(rec.snapshot().errors) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	got := rec.snapshot()
	if len(got.errors) != 1 {
		t.Fatalf("errors = %v, want one timeout", got.errors)
	}
	if got.errors[0] != timeoutText {
		t.Errorf("error content = %q, want %q", got.errors[0], timeoutText)
	}
	if s.State() != StateIdle {
		t.Errorf("state after timeout = %v, want idle", s.State())
	}
}

// TestSession_CallbacksMayReadState verifies callbacks can call back
// into the session without deadlocking, and that they observe the
// post-transition state.
func TestSession_CallbacksMayReadState(t *testing.T) {
	var s *Session
	type observed struct {
		state    State
		activeID string
	}
	var fromStart, fromFinal observed

	s = NewSession(Config{Callbacks: Callbacks{
		OnStart: func(id string) {
			fromStart = observed{state: s.State(), activeID: s.ActiveMessageID()}
			if fromStart.activeID != id {
				t.Errorf("ActiveMessageID inside OnStart = %q, want %q", fromStart.activeID, id)
			}
		},
		OnFinal: func(_, _, _ string) {
			fromFinal = observed{state: s.State(), activeID: s.ActiveMessageID()}
		},
	}})
	defer s.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.HandleFrame(protocol.Frame{Type: protocol.FrameAIStart})
		s.HandleFrame(chunkFrame(0, "ok"))
		s.HandleFrame(protocol.Frame{Type: protocol.FrameChatEnd})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("re-entrant callback deadlocked the session")
	}

	if fromStart.state != StateStreaming {
		t.Errorf("state inside OnStart = %v, want streaming", fromStart.state)
	}
	if fromFinal.state != StateIdle || fromFinal.activeID != "" {
		t.Errorf("state inside OnFinal = %v/%q, want idle with no active message",
			fromFinal.state, fromFinal.activeID)
	}
}

// TestSession_ChunksOutsideTurnDropped verifies stray chunks while
// idle are ignored.
func TestSession_ChunksOutsideTurnDropped(t *testing.T) {
	rec := &recorder{}
	s := NewSession(Config{Callbacks: rec.callbacks()})
	defer s.Close()

	s.HandleFrame(chunkFrame(0, "stray"))
	s.HandleFrame(protocol.Frame{Type: protocol.FrameChatEnd})

	got := rec.snapshot()
	if len(got.partials)+len(got.finals)+len(got.errors) != 0 {
		t.Errorf("idle session reacted to stray frames: partials=%v finals=%v errors=%v",
			got.partials, got.finals, got.errors)
	}
}
