// Copyright (C) 2025 PR Writing Hub (engineering@prwritinghub.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package conversations talks to the PR Writing Hub conversations REST
// API. Persistence is best-effort from the client's point of view:
// callers degrade to the local cache when the server is unreachable,
// so every failure here is typed and non-fatal.
package conversations

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prwritinghub/prhub-cli/pkg/auth"
	"github.com/prwritinghub/prhub-cli/pkg/datatypes"
)

// ErrNotFound indicates the conversation does not exist server-side.
var ErrNotFound = errors.New("conversation not found")

// PersistenceError wraps save/load failures with the failing operation
// and the HTTP status when one was received.
type PersistenceError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *PersistenceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("conversations %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("conversations %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Adapter is the conversation persistence contract.
//
// # Description
//
//	Save upserts a full conversation (idempotent: re-saving after each
//	turn is the expected pattern). Get loads a transcript, List lists
//	summaries for a user and engine, Delete removes a conversation,
//	and UpdateTitle renames one.
//
// # Outputs
//
//	All errors are *PersistenceError except Get's wrapped ErrNotFound,
//	which callers match with errors.Is.
type Adapter interface {
	Save(ctx context.Context, conv datatypes.Conversation) error
	Get(ctx context.Context, conversationID string) (*datatypes.Conversation, error)
	List(ctx context.Context, userID, engineType string) ([]datatypes.ConversationSummary, error)
	Delete(ctx context.Context, conversationID, userID string) error
	UpdateTitle(ctx context.Context, conversationID, title string) error
}

// Config configures a RESTAdapter.
type Config struct {
	// BaseURL is the REST API root, e.g. "https://api.prwritinghub.io".
	BaseURL string

	// Tokens supplies the bearer token for the Authorization header.
	// Nil sends unauthenticated requests (devserver mode).
	Tokens auth.TokenProvider

	// Timeout bounds each request. Default: 15s.
	Timeout time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

const defaultRequestTimeout = 15 * time.Second

// RESTAdapter implements Adapter over HTTP.
type RESTAdapter struct {
	baseURL string
	tokens  auth.TokenProvider
	client  HTTPClient
	log     *slog.Logger
}

var _ Adapter = (*RESTAdapter)(nil)

// NewRESTAdapter creates an adapter with a production HTTP client.
func NewRESTAdapter(cfg Config) *RESTAdapter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return NewRESTAdapterWithClient(cfg, NewDefaultHTTPClient(timeout))
}

// NewRESTAdapterWithClient creates an adapter with an injected
// HTTPClient. Tests use this with a mock.
func NewRESTAdapterWithClient(cfg Config, client HTTPClient) *RESTAdapter {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RESTAdapter{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		tokens:  cfg.Tokens,
		client:  client,
		log:     logger,
	}
}

// Save upserts the full conversation. The server keys on
// ConversationID, so re-saving after every completed turn is safe.
func (a *RESTAdapter) Save(ctx context.Context, conv datatypes.Conversation) error {
	if conv.ConversationID == "" {
		return &PersistenceError{Op: "save", Err: errors.New("conversationID must not be empty")}
	}
	body, err := json.Marshal(conv)
	if err != nil {
		return &PersistenceError{Op: "save", Err: fmt.Errorf("marshal conversation: %w", err)}
	}

	headers, err := a.authHeaders(ctx)
	if err != nil {
		return &PersistenceError{Op: "save", Err: err}
	}
	resp, err := a.client.Post(ctx, a.baseURL+"/conversations", "application/json", bytes.NewReader(body), headers)
	if err != nil {
		return &PersistenceError{Op: "save", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &PersistenceError{
			Op:         "save",
			StatusCode: resp.StatusCode,
			Err:        errors.New(readErrorBody(resp.Body)),
		}
	}
	a.log.Debug("conversation saved",
		"conversation_id", conv.ConversationID,
		"messages", len(conv.Messages),
	)
	return nil
}

// Get loads a conversation by id. Returns an error wrapping
// ErrNotFound on 404.
func (a *RESTAdapter) Get(ctx context.Context, conversationID string) (*datatypes.Conversation, error) {
	headers, err := a.authHeaders(ctx)
	if err != nil {
		return nil, &PersistenceError{Op: "get", Err: err}
	}
	resp, err := a.client.Get(ctx, a.baseURL+"/conversations/"+url.PathEscape(conversationID), headers)
	if err != nil {
		return nil, &PersistenceError{Op: "get", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, &PersistenceError{Op: "get", StatusCode: resp.StatusCode, Err: ErrNotFound}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &PersistenceError{
			Op:         "get",
			StatusCode: resp.StatusCode,
			Err:        errors.New(readErrorBody(resp.Body)),
		}
	}

	var conv datatypes.Conversation
	if err := json.NewDecoder(resp.Body).Decode(&conv); err != nil {
		return nil, &PersistenceError{Op: "get", Err: fmt.Errorf("decode conversation: %w", err)}
	}
	return &conv, nil
}

// List returns conversation summaries for a user, optionally filtered
// by engine.
func (a *RESTAdapter) List(ctx context.Context, userID, engineType string) ([]datatypes.ConversationSummary, error) {
	headers, err := a.authHeaders(ctx)
	if err != nil {
		return nil, &PersistenceError{Op: "list", Err: err}
	}

	q := url.Values{}
	q.Set("userId", userID)
	if engineType != "" {
		q.Set("engineType", engineType)
	}
	resp, err := a.client.Get(ctx, a.baseURL+"/conversations?"+q.Encode(), headers)
	if err != nil {
		return nil, &PersistenceError{Op: "list", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &PersistenceError{
			Op:         "list",
			StatusCode: resp.StatusCode,
			Err:        errors.New(readErrorBody(resp.Body)),
		}
	}

	var payload struct {
		Conversations []datatypes.ConversationSummary `json:"conversations"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &PersistenceError{Op: "list", Err: fmt.Errorf("decode summaries: %w", err)}
	}
	return payload.Conversations, nil
}

// Delete removes a conversation server-side.
func (a *RESTAdapter) Delete(ctx context.Context, conversationID, userID string) error {
	headers, err := a.authHeaders(ctx)
	if err != nil {
		return &PersistenceError{Op: "delete", Err: err}
	}

	q := url.Values{}
	q.Set("userId", userID)
	target := a.baseURL + "/conversations/" + url.PathEscape(conversationID) + "?" + q.Encode()
	resp, err := a.client.Delete(ctx, target, headers)
	if err != nil {
		return &PersistenceError{Op: "delete", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &PersistenceError{
			Op:         "delete",
			StatusCode: resp.StatusCode,
			Err:        errors.New(readErrorBody(resp.Body)),
		}
	}
	return nil
}

// UpdateTitle renames a conversation server-side.
func (a *RESTAdapter) UpdateTitle(ctx context.Context, conversationID, title string) error {
	body, err := json.Marshal(map[string]string{"title": title})
	if err != nil {
		return &PersistenceError{Op: "rename", Err: err}
	}

	headers, err := a.authHeaders(ctx)
	if err != nil {
		return &PersistenceError{Op: "rename", Err: err}
	}
	target := a.baseURL + "/conversations/" + url.PathEscape(conversationID)
	resp, err := a.client.Patch(ctx, target, "application/json", bytes.NewReader(body), headers)
	if err != nil {
		return &PersistenceError{Op: "rename", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &PersistenceError{
			Op:         "rename",
			StatusCode: resp.StatusCode,
			Err:        errors.New(readErrorBody(resp.Body)),
		}
	}
	return nil
}

func (a *RESTAdapter) authHeaders(ctx context.Context) (map[string]string, error) {
	if a.tokens == nil {
		return nil, nil
	}
	token, err := a.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch token: %w", err)
	}
	if token == "" {
		return nil, nil
	}
	return map[string]string{"Authorization": "Bearer " + token}, nil
}

// readErrorBody extracts a short error description from a failed
// response body.
func readErrorBody(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 512))
	if err != nil || len(bytes.TrimSpace(data)) == 0 {
		return "request failed"
	}
	return string(bytes.TrimSpace(data))
}
