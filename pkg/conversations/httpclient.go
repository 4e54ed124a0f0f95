// Copyright (C) 2025 PR Writing Hub (engineering@prwritinghub.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package conversations

import (
	"context"
	"io"
	"net/http"
	"time"
)

// HTTPClient abstracts HTTP operations for testability. Tests inject a
// mock; production uses NewDefaultHTTPClient.
type HTTPClient interface {
	Get(ctx context.Context, url string, headers map[string]string) (*http.Response, error)
	Post(ctx context.Context, url, contentType string, body io.Reader, headers map[string]string) (*http.Response, error)
	Patch(ctx context.Context, url, contentType string, body io.Reader, headers map[string]string) (*http.Response, error)
	Delete(ctx context.Context, url string, headers map[string]string) (*http.Response, error)
}

// defaultHTTPClient wraps http.Client to implement HTTPClient.
type defaultHTTPClient struct {
	client *http.Client
}

var _ HTTPClient = (*defaultHTTPClient)(nil)

// NewDefaultHTTPClient creates a production HTTP client with the given
// request timeout. A timeout of 0 means no timeout.
func NewDefaultHTTPClient(timeout time.Duration) HTTPClient {
	return &defaultHTTPClient{
		client: &http.Client{Timeout: timeout},
	}
}

func (c *defaultHTTPClient) Get(ctx context.Context, url string, headers map[string]string) (*http.Response, error) {
	return c.do(ctx, http.MethodGet, url, "", nil, headers)
}

func (c *defaultHTTPClient) Post(ctx context.Context, url, contentType string, body io.Reader, headers map[string]string) (*http.Response, error) {
	return c.do(ctx, http.MethodPost, url, contentType, body, headers)
}

func (c *defaultHTTPClient) Patch(ctx context.Context, url, contentType string, body io.Reader, headers map[string]string) (*http.Response, error) {
	return c.do(ctx, http.MethodPatch, url, contentType, body, headers)
}

func (c *defaultHTTPClient) Delete(ctx context.Context, url string, headers map[string]string) (*http.Response, error) {
	return c.do(ctx, http.MethodDelete, url, "", nil, headers)
}

func (c *defaultHTTPClient) do(ctx context.Context, method, url, contentType string, body io.Reader, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.client.Do(req)
}
