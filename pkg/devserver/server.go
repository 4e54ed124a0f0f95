// Copyright (C) 2025 PR Writing Hub (engineering@prwritinghub.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package devserver is a protocol-faithful stand-in for the PR Writing
// Hub backend, used by `prhub devserver` and by end-to-end tests.
//
// It speaks the full chat frame sequence with a scripted responder and
// can shuffle or duplicate chunks to exercise the client's reorder
// buffer, plus in-memory versions of the conversations and usage REST
// endpoints.
package devserver

import (
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/prwritinghub/prhub-cli/pkg/datatypes"
	"github.com/prwritinghub/prhub-cli/pkg/protocol"
)

// Responder produces the assistant reply for a completed request.
type Responder func(req protocol.ChatRequest) string

// Config configures the development server.
type Config struct {
	// Responder defaults to a scripted press-release style reply.
	Responder Responder

	// ChunkSize is the response split size in bytes. Default: 24.
	ChunkSize int

	// ChunkDelay is the pause between chunks. Default: 0.
	ChunkDelay time.Duration

	// ShuffleChunks delivers chunks out of order, exercising the
	// client's reorder buffer.
	ShuffleChunks bool

	// DuplicateChunks redelivers the first chunk after the rest,
	// exercising duplicate suppression.
	DuplicateChunks bool

	// UsagePercentage is returned by the usage endpoint. Default: 42.5.
	UsagePercentage float64

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Server is the in-memory backend.
type Server struct {
	cfg      Config
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	convs map[string]datatypes.Conversation
}

// NewServer creates a Server from config.
func NewServer(cfg Config) *Server {
	if cfg.Responder == nil {
		cfg.Responder = defaultResponder
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 24
	}
	if cfg.UsagePercentage == 0 {
		cfg.UsagePercentage = 42.5
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{
		cfg: cfg,
		log: cfg.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		convs: make(map[string]datatypes.Conversation),
	}
}

// Router builds the gin engine with all routes. Exposed separately so
// tests can mount it on httptest.Server.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/ws", s.handleWS)
	r.POST("/conversations", s.handleSave)
	r.GET("/conversations", s.handleList)
	r.GET("/conversations/:id", s.handleGet)
	r.DELETE("/conversations/:id", s.handleDelete)
	r.PATCH("/conversations/:id", s.handleRename)
	r.GET("/usage", s.handleUsage)
	return r
}

// Run serves on addr until the process exits.
func (s *Server) Run(addr string) error {
	s.log.Info("devserver listening", "addr", addr)
	return s.Router().Run(addr)
}

// =============================================================================
// WebSocket chat
// =============================================================================

func (s *Server) handleWS(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	s.log.Info("chat client connected", "remote", conn.RemoteAddr().String())

	// Partial bodies of a client-side split message, keyed by
	// idempotency key.
	partials := make(map[string][]string)

	for {
		var req protocol.ChatRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Warn("chat client dropped", "error", err)
			}
			return
		}
		if req.Action != protocol.ActionSendMessage {
			s.sendJSON(conn, protocol.Frame{
				Type:    protocol.FrameError,
				Message: fmt.Sprintf("unknown action %q", req.Action),
			})
			continue
		}

		if req.ChunkInfo != nil {
			partials[req.IdempotencyKey] = append(partials[req.IdempotencyKey], req.Message)
			if !req.ChunkInfo.IsLast {
				continue
			}
			full := ""
			for _, piece := range partials[req.IdempotencyKey] {
				full += piece
			}
			delete(partials, req.IdempotencyKey)
			req.Message = full
		}

		s.respond(conn, req)
	}
}

// respond plays the full frame sequence for one turn.
func (s *Server) respond(conn *websocket.Conn, req protocol.ChatRequest) {
	convID := req.ConversationID
	if convID == "" {
		convID = datatypes.NewConversationID(req.EngineType, time.Now())
	}

	s.sendJSON(conn, protocol.Frame{Type: protocol.FrameChatStart})
	s.sendJSON(conn, protocol.Frame{Type: protocol.FrameDataLoaded, FileCount: 0})
	s.sendJSON(conn, protocol.Frame{
		Type:      protocol.FrameAIStart,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})

	response := s.cfg.Responder(req)
	chunks := protocol.SplitMessage(response, s.cfg.ChunkSize)

	order := make([]int, len(chunks))
	for i := range order {
		order[i] = i
	}
	if s.cfg.ShuffleChunks && len(order) > 1 {
		rand.Shuffle(len(order), func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})
	}

	for _, idx := range order {
		if s.cfg.ChunkDelay > 0 {
			time.Sleep(s.cfg.ChunkDelay)
		}
		s.sendJSON(conn, protocol.Frame{
			Type:       protocol.FrameAIChunk,
			Chunk:      chunks[idx],
			ChunkIndex: idx,
		})
	}
	if s.cfg.DuplicateChunks && len(chunks) > 0 {
		s.sendJSON(conn, protocol.Frame{
			Type:       protocol.FrameAIChunk,
			Chunk:      chunks[0],
			ChunkIndex: 0,
		})
	}

	s.sendJSON(conn, protocol.Frame{
		Type:           protocol.FrameChatEnd,
		Engine:         req.EngineType,
		ConversationID: convID,
		TotalChunks:    len(chunks),
		ResponseLength: len(response),
		Message:        "Conversation completed",
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
	})
	s.log.Info("turn served",
		"conversation_id", convID,
		"chunks", len(chunks),
		"response_length", len(response),
	)
}

func (s *Server) sendJSON(conn *websocket.Conn, v any) {
	if err := conn.WriteJSON(v); err != nil {
		s.log.Warn("websocket write failed", "error", err)
	}
}

func defaultResponder(req protocol.ChatRequest) string {
	return fmt.Sprintf(
		"FOR IMMEDIATE RELEASE\n\nThank you for your prompt (%d characters). "+
			"This is a scripted development response from engine %s. "+
			"Replace it with --shuffle to exercise out-of-order delivery.",
		len(req.Message), req.EngineType,
	)
}

// =============================================================================
// Conversations REST
// =============================================================================

func (s *Server) handleSave(c *gin.Context) {
	var conv datatypes.Conversation
	if err := c.ShouldBindJSON(&conv); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if conv.ConversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversationId is required"})
		return
	}

	s.mu.Lock()
	existing, ok := s.convs[conv.ConversationID]
	if ok {
		conv.CreatedAt = existing.CreatedAt
	} else if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now().UTC()
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = time.Now().UTC()
	}
	s.convs[conv.ConversationID] = conv
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"conversationId": conv.ConversationID})
}

func (s *Server) handleList(c *gin.Context) {
	userID := c.Query("userId")
	engineType := c.Query("engineType")

	s.mu.Lock()
	summaries := make([]datatypes.ConversationSummary, 0, len(s.convs))
	for _, conv := range s.convs {
		if userID != "" && conv.UserID != userID {
			continue
		}
		if engineType != "" && conv.EngineType != engineType {
			continue
		}
		summaries = append(summaries, datatypes.ConversationSummary{
			ConversationID: conv.ConversationID,
			UserID:         conv.UserID,
			EngineType:     conv.EngineType,
			Title:          conv.Title,
			MessageCount:   len(conv.Messages),
			UpdatedAt:      conv.UpdatedAt,
		})
	}
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"conversations": summaries})
}

func (s *Server) handleGet(c *gin.Context) {
	s.mu.Lock()
	conv, ok := s.convs[c.Param("id")]
	s.mu.Unlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (s *Server) handleDelete(c *gin.Context) {
	s.mu.Lock()
	_, ok := s.convs[c.Param("id")]
	delete(s.convs, c.Param("id"))
	s.mu.Unlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func (s *Server) handleRename(c *gin.Context) {
	var body struct {
		Title string `json:"title" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.mu.Lock()
	conv, ok := s.convs[c.Param("id")]
	if ok {
		conv.Title = body.Title
		conv.UpdatedAt = time.Now().UTC()
		s.convs[c.Param("id")] = conv
	}
	s.mu.Unlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversationId": c.Param("id"), "title": body.Title})
}

// =============================================================================
// Usage REST
// =============================================================================

func (s *Server) handleUsage(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"userId":     c.Query("userId"),
		"engineType": c.Query("engineType"),
		"percentage": s.cfg.UsagePercentage,
	})
}
