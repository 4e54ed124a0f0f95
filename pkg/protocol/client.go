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
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/prwritinghub/prhub-cli/pkg/auth"
)

// =============================================================================
// Errors
// =============================================================================

// ErrNotConnected is returned by Send when no connection is open.
// Callers decide whether to Connect and retry; the client never queues
// messages for a future connection.
var ErrNotConnected = errors.New("websocket not connected")

// ConnectionError wraps transport-level failures with the operation
// that produced them.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("websocket %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// =============================================================================
// Client Interface
// =============================================================================

// Handler receives every inbound frame in arrival order. Handlers run
// on the read loop goroutine and must not block; they filter frame
// types themselves rather than registering per-type.
type Handler func(Frame)

// ConnectionHandler is notified when the connection opens (true) or
// closes (false).
type ConnectionHandler func(connected bool)

// Client is the chat socket abstraction the higher layers program
// against.
//
// # Description
//
//	One logical WebSocket connection to the chat endpoint with frame
//	fan-out, automatic reconnection after abnormal closes, and
//	transparent splitting of oversized outbound messages.
//
// # Limitations
//
//	Send does not buffer across disconnects. A turn interrupted by a
//	mid-stream disconnect surfaces as a stream error, not a retry.
//
// # Assumptions
//
//	Handlers registered via AddHandler tolerate frames that belong to
//	other subscribers; fan-out is broadcast, not routed.
type Client interface {
	Connect(ctx context.Context) error
	Send(ctx context.Context, req ChatRequest) error
	IsConnected() bool
	AddHandler(h Handler) (remove func())
	AddConnectionHandler(h ConnectionHandler) (remove func())
	Close() error
}

// =============================================================================
// Configuration
// =============================================================================

const (
	defaultDialTimeout          = 30 * time.Second
	defaultMaxReconnectAttempts = 5
	defaultReconnectDelay       = 3 * time.Second
)

// Config configures a WSClient.
type Config struct {
	// URL is the ws:// or wss:// chat endpoint.
	URL string

	// Tokens supplies the bearer token appended as a `token` query
	// parameter on dial. Nil or an empty token dials unauthenticated.
	Tokens auth.TokenProvider

	// DialTimeout bounds connection establishment. Default: 30s.
	DialTimeout time.Duration

	// MaxReconnectAttempts bounds automatic reconnection after an
	// abnormal close. Default: 5.
	MaxReconnectAttempts int

	// ReconnectDelay is the pause between reconnect attempts.
	// Default: 3s.
	ReconnectDelay time.Duration

	// MaxMessageBytes is the outbound split threshold.
	// Default: DefaultMaxMessageBytes.
	MaxMessageBytes int

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns a Config for url with production defaults.
func DefaultConfig(url string) Config {
	return Config{
		URL:                  url,
		DialTimeout:          defaultDialTimeout,
		MaxReconnectAttempts: defaultMaxReconnectAttempts,
		ReconnectDelay:       defaultReconnectDelay,
		MaxMessageBytes:      DefaultMaxMessageBytes,
	}
}

// =============================================================================
// WSClient
// =============================================================================

// WSClient is the gorilla/websocket implementation of Client.
// Safe for concurrent use.
type WSClient struct {
	cfg Config
	log *slog.Logger

	mu            sync.Mutex
	conn          *websocket.Conn
	connected     bool
	closed        bool
	reconnecting  bool
	handlers      map[int]Handler
	connHandlers  map[int]ConnectionHandler
	nextHandlerID int

	// writeMu serializes writers; gorilla allows one concurrent writer.
	writeMu sync.Mutex
}

var _ Client = (*WSClient)(nil)

// NewWSClient creates a disconnected client. Call Connect before Send.
func NewWSClient(cfg Config) *WSClient {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = defaultMaxReconnectAttempts
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &WSClient{
		cfg:          cfg,
		log:          cfg.Logger,
		handlers:     make(map[int]Handler),
		connHandlers: make(map[int]ConnectionHandler),
	}
}

// Connect opens the socket. Idempotent: connecting while connected is
// a no-op. A successful connect starts the read loop and notifies
// connection handlers.
func (c *WSClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return &ConnectionError{Op: "connect", Err: errors.New("client closed")}
	}
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	target, err := c.dialURL(ctx)
	if err != nil {
		return &ConnectionError{Op: "connect", Err: err}
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.DialTimeout}
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	conn, _, err := dialer.DialContext(dialCtx, target, nil)
	if err != nil {
		c.log.Warn("websocket dial failed", "error", err)
		return &ConnectionError{Op: "connect", Err: err}
	}

	c.mu.Lock()
	if c.closed || c.connected {
		// Lost the race to another Connect, or Close ran mid-dial.
		c.mu.Unlock()
		_ = conn.Close()
		if c.closed {
			return &ConnectionError{Op: "connect", Err: errors.New("client closed")}
		}
		return nil
	}
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	c.log.Info("websocket connected", "url", c.cfg.URL)
	go c.readPump(conn)
	c.notifyConnection(true)
	return nil
}

// IsConnected reports whether the socket is currently open.
func (c *WSClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Send marshals and writes a sendMessage request. Messages larger than
// the configured threshold are split on line boundaries and sent as a
// ChunkInfo sequence, with conversation history only on the first
// piece. Missing Action, Timestamp, and IdempotencyKey fields are
// filled in.
func (c *WSClient) Send(ctx context.Context, req ChatRequest) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.connected
	c.mu.Unlock()
	if !connected || conn == nil {
		return ErrNotConnected
	}

	if req.Action == "" {
		req.Action = ActionSendMessage
	}
	if req.Timestamp == "" {
		req.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.NewString()
	}

	pieces := SplitMessage(req.Message, c.cfg.MaxMessageBytes)
	if len(pieces) == 1 {
		return c.writeJSON(ctx, conn, req)
	}

	c.log.Info("splitting outbound message",
		"pieces", len(pieces),
		"message_bytes", len(req.Message),
	)
	total := len(pieces)
	for i, piece := range pieces {
		part := req
		part.Message = piece
		part.ChunkInfo = &ChunkInfo{
			Total:   total,
			Current: i + 1,
			IsFirst: i == 0,
			IsLast:  i == total-1,
		}
		if i > 0 {
			part.ConversationHistory = nil
		}
		if err := c.writeJSON(ctx, conn, part); err != nil {
			return err
		}
	}
	return nil
}

// AddHandler registers a frame handler and returns its removal func.
// Handlers are invoked in registration order.
func (c *WSClient) AddHandler(h Handler) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextHandlerID
	c.nextHandlerID++
	c.handlers[id] = h
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.handlers, id)
	}
}

// AddConnectionHandler registers a connection-state handler and
// returns its removal func.
func (c *WSClient) AddConnectionHandler(h ConnectionHandler) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextHandlerID
	c.nextHandlerID++
	c.connHandlers[id] = h
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.connHandlers, id)
	}
}

// Close shuts the connection down with a normal close frame and
// disables reconnection. The client cannot be reused afterwards.
func (c *WSClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.handlers = make(map[int]Handler)
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	c.writeMu.Lock()
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.writeMu.Unlock()
	return conn.Close()
}

// =============================================================================
// Internals
// =============================================================================

// dialURL builds the dial target with the auth token attached as a
// query parameter, which is how the gateway authorizer expects it.
func (c *WSClient) dialURL(ctx context.Context) (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if c.cfg.Tokens != nil {
		token, err := c.cfg.Tokens.Token(ctx)
		if err != nil {
			return "", fmt.Errorf("fetch token: %w", err)
		}
		if token != "" {
			q := u.Query()
			q.Set("token", token)
			u.RawQuery = q.Encode()
		}
		c.log.Debug("dialing chat endpoint", "token_present", token != "")
	}
	return u.String(), nil
}

// readPump reads frames until the connection dies. One pump per
// connection; a stale pump detects replacement via pointer identity.
func (c *WSClient) readPump(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleReadError(conn, err)
			return
		}
		frame, perr := ParseFrame(data)
		if perr != nil {
			c.log.Warn("discarding malformed frame", "error", perr)
			continue
		}
		c.dispatch(frame)
	}
}

// dispatch fans a frame out to every handler in registration order.
// Runs on the read loop goroutine, so arrival order is preserved.
func (c *WSClient) dispatch(frame Frame) {
	c.mu.Lock()
	ids := make([]int, 0, len(c.handlers))
	for id := range c.handlers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	handlers := make([]Handler, len(ids))
	for i, id := range ids {
		handlers[i] = c.handlers[id]
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h(frame)
	}
}

// notifyConnection fans a connection-state change out to every
// connection handler in registration order.
func (c *WSClient) notifyConnection(connected bool) {
	c.mu.Lock()
	ids := make([]int, 0, len(c.connHandlers))
	for id := range c.connHandlers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	handlers := make([]ConnectionHandler, len(ids))
	for i, id := range ids {
		handlers[i] = c.connHandlers[id]
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h(connected)
	}
}

func (c *WSClient) handleReadError(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		// A newer connection replaced this one already.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.connected = false
	closed := c.closed
	c.mu.Unlock()

	c.notifyConnection(false)
	if closed {
		return
	}

	if isNormalClose(err) {
		c.log.Info("websocket closed", "reason", err)
		return
	}
	c.log.Warn("websocket dropped", "error", err)
	go c.reconnectLoop()
}

func isNormalClose(err error) bool {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway
	}
	return false
}

// reconnectLoop retries the connection after an abnormal close. Bounded
// attempts with a fixed delay; gives up loudly so the user can retry a
// send by hand.
func (c *WSClient) reconnectLoop() {
	c.mu.Lock()
	if c.reconnecting || c.closed {
		c.mu.Unlock()
		return
	}
	c.reconnecting = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()
	}()

	for attempt := 1; attempt <= c.cfg.MaxReconnectAttempts; attempt++ {
		time.Sleep(c.cfg.ReconnectDelay)

		c.mu.Lock()
		done := c.closed || c.connected
		c.mu.Unlock()
		if done {
			return
		}

		c.log.Info("reconnecting",
			"attempt", attempt,
			"max_attempts", c.cfg.MaxReconnectAttempts,
		)
		if err := c.Connect(context.Background()); err == nil {
			return
		}
	}
	c.log.Error("reconnect attempts exhausted",
		"attempts", c.cfg.MaxReconnectAttempts,
	)
}

func (c *WSClient) writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	if err := ctx.Err(); err != nil {
		return &ConnectionError{Op: "send", Err: err}
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
		defer conn.SetWriteDeadline(time.Time{})
	}
	if err := conn.WriteJSON(v); err != nil {
		return &ConnectionError{Op: "send", Err: err}
	}
	return nil
}
