// Copyright (C) 2025 PR Writing Hub (engineering@prwritinghub.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package devserver

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prwritinghub/prhub-cli/pkg/chat"
	"github.com/prwritinghub/prhub-cli/pkg/conversations"
	"github.com/prwritinghub/prhub-cli/pkg/datatypes"
	"github.com/prwritinghub/prhub-cli/pkg/protocol"
	"github.com/prwritinghub/prhub-cli/pkg/usage"
)

func startServer(t *testing.T, cfg Config) (*httptest.Server, string) {
	t.Helper()
	srv := httptest.NewServer(NewServer(cfg).Router())
	t.Cleanup(srv.Close)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	return srv, wsURL
}

// TestEndToEnd_AdversarialDelivery runs a complete chat turn against a
// server that shuffles and duplicates chunks, through the real client
// and session stack.
func TestEndToEnd_AdversarialDelivery(t *testing.T) {
	want := "FOR IMMEDIATE RELEASE\n\nLine one of the announcement.\nLine two of the announcement.\nLine three wraps it up."
	srv, wsURL := startServer(t, Config{
		Responder:       func(protocol.ChatRequest) string { return want },
		ChunkSize:       8,
		ShuffleChunks:   true,
		DuplicateChunks: true,
	})

	client := protocol.NewWSClient(protocol.DefaultConfig(wsURL))
	defer client.Close()
	require.NoError(t, client.Connect(context.Background()))

	adapter := conversations.NewRESTAdapter(conversations.Config{BaseURL: srv.URL})

	done := make(chan datatypes.Message, 1)
	session, err := chat.NewSession(chat.Config{
		Client:  client,
		Adapter: adapter,
		Engine:  protocol.EngineAnthropic,
		UserID:  "e2e-user",
		Events: chat.Events{
			OnAssistantDone: func(m datatypes.Message) { done <- m },
		},
	})
	require.NoError(t, err)
	defer session.Close()

	require.NoError(t, session.Send(context.Background(), "announce the thing"))

	select {
	case m := <-done:
		assert.Equal(t, want, m.Content)
		assert.False(t, m.IsStreaming)
		assert.False(t, m.IsError)
	case <-time.After(5 * time.Second):
		t.Fatal("turn never completed")
	}

	// The finished turn is persisted in the background; poll until the
	// server has it.
	deadline := time.Now().Add(5 * time.Second)
	for {
		conv, err := adapter.Get(context.Background(), session.ConversationID())
		if err == nil {
			require.Len(t, conv.Messages, 2)
			assert.Equal(t, "announce the thing", conv.Messages[0].Content)
			assert.Equal(t, want, conv.Messages[1].Content)
			assert.Equal(t, "announce the thing", conv.Title)
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("conversation never persisted: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// TestEndToEnd_LargeOutboundMessage verifies the server reassembles a
// client-side split request before responding.
func TestEndToEnd_LargeOutboundMessage(t *testing.T) {
	gotLen := make(chan int, 1)
	_, wsURL := startServer(t, Config{
		Responder: func(req protocol.ChatRequest) string {
			gotLen <- len(req.Message)
			return "ok"
		},
	})

	cfg := protocol.DefaultConfig(wsURL)
	cfg.MaxMessageBytes = 64
	client := protocol.NewWSClient(cfg)
	defer client.Close()
	require.NoError(t, client.Connect(context.Background()))

	message := strings.Repeat("a long line of draft copy\n", 20)
	require.NoError(t, client.Send(context.Background(), protocol.ChatRequest{
		Message:    message,
		EngineType: protocol.EngineOpenAI,
		UserID:     "e2e-user",
	}))

	select {
	case n := <-gotLen:
		assert.Equal(t, len(message), n)
	case <-time.After(5 * time.Second):
		t.Fatal("server never saw the reassembled message")
	}
}

func TestConversationsREST_RoundTrip(t *testing.T) {
	srv, _ := startServer(t, Config{})
	adapter := conversations.NewRESTAdapter(conversations.Config{BaseURL: srv.URL})
	ctx := context.Background()

	conv := datatypes.Conversation{
		ConversationID: "11_1700000000000",
		UserID:         "alice",
		EngineType:     "11",
		Title:          "launch plan",
		Messages: []datatypes.Message{
			{ID: "u1", Role: datatypes.RoleUser, Content: "hi"},
			{ID: "a1", Role: datatypes.RoleAssistant, Content: "hello"},
		},
	}
	require.NoError(t, adapter.Save(ctx, conv))

	got, err := adapter.Get(ctx, conv.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, "launch plan", got.Title)
	assert.Len(t, got.Messages, 2)

	summaries, err := adapter.List(ctx, "alice", "11")
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, 2, summaries[0].MessageCount)

	require.NoError(t, adapter.UpdateTitle(ctx, conv.ConversationID, "revised plan"))
	got, err = adapter.Get(ctx, conv.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, "revised plan", got.Title)

	require.NoError(t, adapter.Delete(ctx, conv.ConversationID, "alice"))
	_, err = adapter.Get(ctx, conv.ConversationID)
	assert.ErrorIs(t, err, conversations.ErrNotFound)
}

func TestUsageREST(t *testing.T) {
	srv, _ := startServer(t, Config{UsagePercentage: 63.25})
	client := usage.NewClient(
		usage.Config{BaseURL: srv.URL},
		conversations.NewDefaultHTTPClient(5*time.Second),
	)

	result, err := client.Percentage(context.Background(), "alice", "22")
	require.NoError(t, err)
	assert.InDelta(t, 63.25, result.Percentage, 0.001)
	assert.False(t, result.FromCache)
}
