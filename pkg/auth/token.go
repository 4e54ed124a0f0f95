// Copyright (C) 2025 PR Writing Hub (engineering@prwritinghub.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package auth models the bearer-token contract between this client and
// the PR Writing Hub backend. The identity provider itself is external;
// callers inject a TokenProvider and the protocol/REST layers attach the
// token where the backend expects it (query parameter on the socket,
// Authorization header on REST calls).
package auth

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// TokenProvider supplies the current bearer token.
//
// # Description
//
//	Abstracts where the access token comes from so the transport layers
//	never hard-code a credential source. Implementations must be safe for
//	concurrent use.
//
// # Outputs
//
//	Token returns the raw token string, or an error if no token is
//	available. An empty token with a nil error means "unauthenticated";
//	transports then omit the credential entirely.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenProvider returns a fixed token, typically sourced from a
// flag. Useful for tests and for the devserver, which ignores auth.
type StaticTokenProvider struct {
	token string
}

var _ TokenProvider = (*StaticTokenProvider)(nil)

func NewStaticTokenProvider(token string) *StaticTokenProvider {
	return &StaticTokenProvider{token: token}
}

func (p *StaticTokenProvider) Token(_ context.Context) (string, error) {
	return p.token, nil
}

// EnvTokenProvider reads the token from an environment variable on every
// call, so externally refreshed credentials are picked up without a
// restart.
type EnvTokenProvider struct {
	envVar string
}

var _ TokenProvider = (*EnvTokenProvider)(nil)

func NewEnvTokenProvider(envVar string) *EnvTokenProvider {
	return &EnvTokenProvider{envVar: envVar}
}

func (p *EnvTokenProvider) Token(_ context.Context) (string, error) {
	return strings.TrimSpace(os.Getenv(p.envVar)), nil
}

// FileTokenProvider reads the token from a file on every call. This is
// the integration point for credential helpers that write a token file
// out of band.
type FileTokenProvider struct {
	path string
}

var _ TokenProvider = (*FileTokenProvider)(nil)

func NewFileTokenProvider(path string) *FileTokenProvider {
	return &FileTokenProvider{path: path}
}

func (p *FileTokenProvider) Token(_ context.Context) (string, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return "", fmt.Errorf("read token file %s: %w", p.path, err)
	}
	return strings.TrimSpace(string(data)), nil
}
