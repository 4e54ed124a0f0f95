// Copyright (C) 2025 PR Writing Hub (engineering@prwritinghub.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package auth

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestStaticTokenProvider(t *testing.T) {
	p := NewStaticTokenProvider("tok-123")
	token, err := p.Token(context.Background())
	if err != nil || token != "tok-123" {
		t.Fatalf("Token = %q, %v", token, err)
	}
}

func TestEnvTokenProvider_ReadsEachCall(t *testing.T) {
	t.Setenv("PRHUB_TEST_TOKEN", "first")
	p := NewEnvTokenProvider("PRHUB_TEST_TOKEN")

	token, err := p.Token(context.Background())
	if err != nil || token != "first" {
		t.Fatalf("Token = %q, %v", token, err)
	}

	// Refreshed credentials are picked up without a new provider.
	t.Setenv("PRHUB_TEST_TOKEN", "second")
	token, _ = p.Token(context.Background())
	if token != "second" {
		t.Errorf("Token after env change = %q, want second", token)
	}

	t.Setenv("PRHUB_TEST_TOKEN", "")
	token, err = p.Token(context.Background())
	if err != nil || token != "" {
		t.Errorf("unset env should mean unauthenticated, got %q, %v", token, err)
	}
}

func TestFileTokenProvider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte("  tok-456\n"), 0600); err != nil {
		t.Fatal(err)
	}

	p := NewFileTokenProvider(path)
	token, err := p.Token(context.Background())
	if err != nil || token != "tok-456" {
		t.Fatalf("Token = %q, %v", token, err)
	}

	if _, err := NewFileTokenProvider(filepath.Join(t.TempDir(), "missing")).Token(context.Background()); err == nil {
		t.Error("missing token file should error")
	}
}
