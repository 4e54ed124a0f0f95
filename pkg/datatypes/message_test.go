// Copyright (C) 2025 PR Writing Hub (engineering@prwritinghub.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"strings"
	"testing"
	"time"
)

func TestNewConversationID(t *testing.T) {
	ts := time.UnixMilli(1700000000000)
	got := NewConversationID("11", ts)
	if got != "11_1700000000000" {
		t.Errorf("NewConversationID = %q, want %q", got, "11_1700000000000")
	}
}

func TestDeriveTitle(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"simple", "Write a press release", "Write a press release"},
		{"collapses whitespace", "Write  a\n press   release", "Write a press release"},
		{"empty", "   ", "New conversation"},
		{"truncates long", strings.Repeat("x", 80), strings.Repeat("x", 50) + "..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveTitle(tt.content); got != tt.want {
				t.Errorf("DeriveTitle(%q) = %q, want %q", tt.content, got, tt.want)
			}
		})
	}
}

func TestDeduplicateAssistant(t *testing.T) {
	u1 := Message{ID: "u1", Role: RoleUser, Content: "hi"}
	a1 := Message{ID: "a1", Role: RoleAssistant, Content: "hello"}
	a1dup := Message{ID: "a1-dup", Role: RoleAssistant, Content: "hello"}
	a2 := Message{ID: "a2", Role: RoleAssistant, Content: "different"}

	tests := []struct {
		name  string
		in    []Message
		want  []string // expected message IDs
	}{
		{"consecutive identical collapsed", []Message{u1, a1, a1dup}, []string{"u1", "a1"}},
		{"different content kept", []Message{u1, a1, a2}, []string{"u1", "a1", "a2"}},
		{"identical but non-adjacent kept", []Message{a1, u1, a1dup}, []string{"a1", "u1", "a1-dup"}},
		{"user duplicates kept", []Message{u1, u1}, []string{"u1", "u1"}},
		{"empty", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeduplicateAssistant(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d messages, want %d", len(got), len(tt.want))
			}
			for i, id := range tt.want {
				if got[i].ID != id {
					t.Errorf("message[%d].ID = %q, want %q", i, got[i].ID, id)
				}
			}
		})
	}
}
