// Copyright (C) 2025 PR Writing Hub (engineering@prwritinghub.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package protocol implements the WebSocket wire protocol between this
// client and the PR Writing Hub chat backend.
//
// A chat turn is one outbound "sendMessage" request followed by a frame
// sequence from the server:
//
//	chat_start -> data_loaded -> ai_start -> ai_chunk* -> chat_end
//
// or a chat_error/error frame in place of a normal ending. Chunks carry
// an explicit chunk_index because the backend fans them out through a
// gateway that does not guarantee ordering; reassembly happens in the
// stream package, not here.
package protocol

import "encoding/json"

// Frame type discriminators sent by the server.
const (
	FrameChatStart  = "chat_start"
	FrameDataLoaded = "data_loaded"
	FrameAIStart    = "ai_start"
	FrameAIChunk    = "ai_chunk"
	FrameChatEnd    = "chat_end"
	FrameChatError  = "chat_error"
	FrameError      = "error"
)

// Engine identifiers accepted by the backend.
const (
	EngineAnthropic = "11"
	EngineOpenAI    = "22"
)

// ActionSendMessage is the only inbound action the chat endpoint routes.
const ActionSendMessage = "sendMessage"

// Frame is a single server-to-client message. The Type field selects
// which of the remaining fields are meaningful; unknown fields are
// preserved nowhere and unknown types are ignored by handlers.
type Frame struct {
	Type string `json:"type"`

	// data_loaded
	FileCount int `json:"file_count,omitempty"`

	// ai_chunk
	Chunk      string `json:"chunk,omitempty"`
	ChunkIndex int    `json:"chunk_index"`

	// chat_end
	Engine         string `json:"engine,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	TotalChunks    int    `json:"total_chunks,omitempty"`
	ResponseLength int    `json:"response_length,omitempty"`

	// chat_error / error (and informational text on chat_end)
	Message string `json:"message,omitempty"`

	// ai_start / chat_end
	Timestamp string `json:"timestamp,omitempty"`
}

// HistoryEntry is one prior turn included with a send so the backend
// can rebuild model context without a datastore read.
type HistoryEntry struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp,omitempty"`
}

// ChunkInfo annotates one piece of a client-side split message. The
// backend reassembles pieces in Current order and treats the IsLast
// piece as the trigger to start the model call.
type ChunkInfo struct {
	Total   int  `json:"total"`
	Current int  `json:"current"`
	IsFirst bool `json:"isFirst"`
	IsLast  bool `json:"isLast"`
}

// ChatRequest is the outbound sendMessage payload.
type ChatRequest struct {
	Action         string `json:"action"`
	Message        string `json:"message"`
	EngineType     string `json:"engineType"`
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	UserRole       string `json:"userRole,omitempty"`

	// IdempotencyKey lets the backend collapse retried sends of the
	// same logical turn into one model call.
	IdempotencyKey string `json:"idempotencyKey"`

	Timestamp string `json:"timestamp"`

	// ConversationHistory is only populated on the first piece of a
	// split message (and on unsplit messages).
	ConversationHistory []HistoryEntry `json:"conversationHistory,omitempty"`

	ChunkInfo *ChunkInfo `json:"chunkInfo,omitempty"`
}

// ParseFrame decodes a raw server message. Returns an error for
// malformed JSON; unknown frame types decode fine and are left to the
// handlers to skip.
func ParseFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, err
	}
	return f, nil
}
