// Copyright (C) 2025 PR Writing Hub (engineering@prwritinghub.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package protocol

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/prwritinghub/prhub-cli/pkg/auth"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// newWSTestServer runs handle for each websocket connection and
// returns the ws:// URL.
func newWSTestServer(t *testing.T, handle func(*websocket.Conn, *http.Request)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()
		handle(conn, r)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWSClient_ConnectIsIdempotent(t *testing.T) {
	url := newWSTestServer(t, func(conn *websocket.Conn, _ *http.Request) {
		// Hold the connection open until the client closes.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	c := NewWSClient(DefaultConfig(url))
	defer c.Close()

	ctx := context.Background()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("first connect: %v", err)
	}
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("second connect: %v", err)
	}
	if !c.IsConnected() {
		t.Fatal("IsConnected = false after connect")
	}
}

func TestWSClient_TokenInDialURL(t *testing.T) {
	gotToken := make(chan string, 1)
	url := newWSTestServer(t, func(conn *websocket.Conn, r *http.Request) {
		gotToken <- r.URL.Query().Get("token")
	})

	cfg := DefaultConfig(url)
	cfg.Tokens = auth.NewStaticTokenProvider("sekrit")
	c := NewWSClient(cfg)
	defer c.Close()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	select {
	case token := <-gotToken:
		if token != "sekrit" {
			t.Errorf("token query param = %q, want %q", token, "sekrit")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw the connection")
	}
}

func TestWSClient_SendRequiresConnection(t *testing.T) {
	c := NewWSClient(DefaultConfig("ws://127.0.0.1:1/ws"))
	defer c.Close()

	err := c.Send(context.Background(), ChatRequest{Message: "hi"})
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Send without connection = %v, want ErrNotConnected", err)
	}
}

func TestWSClient_SendFillsDefaults(t *testing.T) {
	received := make(chan ChatRequest, 1)
	url := newWSTestServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var req ChatRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		received <- req
	})

	c := NewWSClient(DefaultConfig(url))
	defer c.Close()
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	err := c.Send(context.Background(), ChatRequest{
		Message:        "draft a press release",
		EngineType:     EngineAnthropic,
		ConversationID: "11_1700000000000",
		UserID:         "user-1",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case req := <-received:
		if req.Action != ActionSendMessage {
			t.Errorf("action = %q, want %q", req.Action, ActionSendMessage)
		}
		if req.IdempotencyKey == "" {
			t.Error("idempotency key was not generated")
		}
		if req.Timestamp == "" {
			t.Error("timestamp was not filled")
		}
		if req.ChunkInfo != nil {
			t.Error("small message should not carry chunkInfo")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the request")
	}
}

func TestWSClient_SendSplitsLargeMessages(t *testing.T) {
	var mu sync.Mutex
	var parts []ChatRequest
	done := make(chan struct{})
	url := newWSTestServer(t, func(conn *websocket.Conn, _ *http.Request) {
		for {
			var req ChatRequest
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			mu.Lock()
			parts = append(parts, req)
			last := req.ChunkInfo != nil && req.ChunkInfo.IsLast
			mu.Unlock()
			if last {
				close(done)
			}
		}
	})

	cfg := DefaultConfig(url)
	cfg.MaxMessageBytes = 10
	c := NewWSClient(cfg)
	defer c.Close()
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	history := []HistoryEntry{{Role: "user", Content: "earlier"}}
	err := c.Send(context.Background(), ChatRequest{
		Message:             "one\ntwo\nthree\nfour\n",
		EngineType:          EngineAnthropic,
		UserID:              "user-1",
		ConversationHistory: history,
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("never received the last piece")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(parts) < 2 {
		t.Fatalf("got %d pieces, want at least 2", len(parts))
	}

	var reassembled string
	key := parts[0].IdempotencyKey
	for i, p := range parts {
		reassembled += p.Message
		if p.ChunkInfo == nil {
			t.Fatalf("piece %d missing chunkInfo", i)
		}
		if p.ChunkInfo.Total != len(parts) || p.ChunkInfo.Current != i+1 {
			t.Errorf("piece %d chunkInfo = %+v", i, p.ChunkInfo)
		}
		if p.IdempotencyKey != key {
			t.Errorf("piece %d changed idempotency key", i)
		}
		if i == 0 && len(p.ConversationHistory) != 1 {
			t.Error("first piece lost conversation history")
		}
		if i > 0 && len(p.ConversationHistory) != 0 {
			t.Errorf("piece %d carries history, only the first should", i)
		}
	}
	if reassembled != "one\ntwo\nthree\nfour\n" {
		t.Errorf("reassembled = %q", reassembled)
	}
}

func TestWSClient_HandlerFanOutInOrder(t *testing.T) {
	url := newWSTestServer(t, func(conn *websocket.Conn, _ *http.Request) {
		for i := 0; i < 3; i++ {
			frame := Frame{Type: FrameAIChunk, ChunkIndex: i, Chunk: "x"}
			if err := conn.WriteJSON(frame); err != nil {
				return
			}
		}
		// Keep open until client closes.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	c := NewWSClient(DefaultConfig(url))
	defer c.Close()

	var mu sync.Mutex
	var first, second []int
	done := make(chan struct{})
	c.AddHandler(func(f Frame) {
		mu.Lock()
		defer mu.Unlock()
		first = append(first, f.ChunkIndex)
	})
	removeSecond := c.AddHandler(func(f Frame) {
		mu.Lock()
		defer mu.Unlock()
		second = append(second, f.ChunkIndex)
		if len(second) == 3 {
			close(done)
		}
	})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handlers never saw all frames")
	}

	mu.Lock()
	defer mu.Unlock()
	for i := 0; i < 3; i++ {
		if first[i] != i || second[i] != i {
			t.Fatalf("frames out of order: first=%v second=%v", first, second)
		}
	}
	removeSecond()
}

func TestWSClient_ConnectionHandlerNotified(t *testing.T) {
	disconnect := make(chan struct{})
	url := newWSTestServer(t, func(conn *websocket.Conn, _ *http.Request) {
		<-disconnect
		// Normal close: the client must notify handlers without
		// starting a reconnect.
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
	})

	c := NewWSClient(DefaultConfig(url))
	defer c.Close()

	states := make(chan bool, 2)
	c.AddConnectionHandler(func(connected bool) {
		states <- connected
	})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	select {
	case connected := <-states:
		if !connected {
			t.Error("first notification should be connected=true")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("connection handler never fired")
	}

	// Server-side close must notify with connected=false.
	close(disconnect)
	select {
	case connected := <-states:
		if connected {
			t.Error("close notification should be connected=false")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("connection handler never saw the disconnect")
	}
}
