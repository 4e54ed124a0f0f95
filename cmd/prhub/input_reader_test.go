// Copyright (C) 2025 PR Writing Hub (engineering@prwritinghub.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"errors"
	"io"
	"testing"
)

func TestMockInputReader(t *testing.T) {
	r := NewMockInputReader([]string{"first", "second"})

	line, err := r.ReadLine()
	if err != nil || line != "first" {
		t.Fatalf("ReadLine = %q, %v", line, err)
	}
	line, err = r.ReadLine()
	if err != nil || line != "second" {
		t.Fatalf("ReadLine = %q, %v", line, err)
	}
	if _, err := r.ReadLine(); !errors.Is(err, io.EOF) {
		t.Fatalf("exhausted reader returned %v, want io.EOF", err)
	}
}

func TestInteractiveInputReader_History(t *testing.T) {
	r := &InteractiveInputReader{
		history:      make([]string, 0, 3),
		historyIndex: -1,
		maxHistory:   3,
	}

	r.addToHistory("one")
	r.addToHistory("one") // consecutive duplicate dropped
	r.addToHistory("two")
	r.addToHistory("three")
	r.addToHistory("four") // evicts "one"

	if len(r.history) != 3 {
		t.Fatalf("history len = %d, want 3: %v", len(r.history), r.history)
	}
	if r.history[0] != "two" || r.history[2] != "four" {
		t.Errorf("history = %v", r.history)
	}
}

func TestIsExitCommand(t *testing.T) {
	for _, input := range []string{"exit", "quit"} {
		if !isExitCommand(input) {
			t.Errorf("isExitCommand(%q) = false", input)
		}
	}
	for _, input := range []string{"", "Exit", "quit now", "help"} {
		if isExitCommand(input) {
			t.Errorf("isExitCommand(%q) = true", input)
		}
	}
}
