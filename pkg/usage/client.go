// Copyright (C) 2025 PR Writing Hub (engineering@prwritinghub.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package usage fetches the per-engine monthly usage percentage shown
// next to the chat prompt. Usage display is informational; a backend
// failure falls back to the last cached value rather than erroring.
package usage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prwritinghub/prhub-cli/pkg/auth"
	"github.com/prwritinghub/prhub-cli/pkg/localstore"
)

// HTTPClient is the read-only HTTP surface this package needs.
// conversations.NewDefaultHTTPClient satisfies it.
type HTTPClient interface {
	Get(ctx context.Context, url string, headers map[string]string) (*http.Response, error)
}

// Config configures a Client.
type Config struct {
	// BaseURL is the REST API root shared with the conversations API.
	BaseURL string

	// Tokens supplies the bearer token. Nil sends unauthenticated.
	Tokens auth.TokenProvider

	// Cache stores the last good percentage per engine. Nil disables
	// the fallback.
	Cache localstore.Store

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Result is a usage reading plus its provenance.
type Result struct {
	Percentage float64
	// FromCache is true when the backend was unreachable and the value
	// came from the local store.
	FromCache bool
}

// Client reads usage percentages with cache-backed degradation.
type Client struct {
	baseURL string
	tokens  auth.TokenProvider
	cache   localstore.Store
	client  HTTPClient
	log     *slog.Logger
}

// NewClient creates a production usage client.
func NewClient(cfg Config, client HTTPClient) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		tokens:  cfg.Tokens,
		cache:   cfg.Cache,
		client:  client,
		log:     logger,
	}
}

// Percentage returns the current usage percentage for a user and
// engine. A successful fetch refreshes the cache; a failed fetch
// returns the cached value with FromCache set. With no cache entry
// either, the fetch error is returned.
func (c *Client) Percentage(ctx context.Context, userID, engineType string) (Result, error) {
	pct, err := c.fetch(ctx, userID, engineType)
	if err == nil {
		if c.cache != nil {
			if cerr := c.cache.SaveUsage(engineType, pct); cerr != nil {
				c.log.Warn("caching usage failed", "engine", engineType, "error", cerr)
			}
		}
		return Result{Percentage: pct}, nil
	}

	c.log.Warn("usage fetch failed, trying cache", "engine", engineType, "error", err)
	if c.cache != nil {
		cached, ok, cerr := c.cache.Usage(engineType)
		if cerr == nil && ok {
			return Result{Percentage: cached, FromCache: true}, nil
		}
	}
	return Result{}, fmt.Errorf("fetch usage for engine %s: %w", engineType, err)
}

func (c *Client) fetch(ctx context.Context, userID, engineType string) (float64, error) {
	var headers map[string]string
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return 0, fmt.Errorf("fetch token: %w", err)
		}
		if token != "" {
			headers = map[string]string{"Authorization": "Bearer " + token}
		}
	}

	q := url.Values{}
	q.Set("userId", userID)
	q.Set("engineType", engineType)
	fetchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	resp, err := c.client.Get(fetchCtx, c.baseURL+"/usage?"+q.Encode(), headers)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("usage request: status %d", resp.StatusCode)
	}

	var payload struct {
		Percentage *float64 `json:"percentage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("decode usage response: %w", err)
	}
	if payload.Percentage == nil {
		return 0, errors.New("usage response missing percentage")
	}
	return *payload.Percentage, nil
}
