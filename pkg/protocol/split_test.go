// Copyright (C) 2025 PR Writing Hub (engineering@prwritinghub.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package protocol

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitMessage_ShortTextUnsplit(t *testing.T) {
	pieces := SplitMessage("hello", 100)
	if len(pieces) != 1 || pieces[0] != "hello" {
		t.Fatalf("pieces = %v, want [hello]", pieces)
	}
}

func TestSplitMessage_PrefersLineBoundaries(t *testing.T) {
	text := "line one\nline two\nline three\n"
	pieces := SplitMessage(text, 12)

	if strings.Join(pieces, "") != text {
		t.Fatalf("reassembly mismatch: %q", strings.Join(pieces, ""))
	}
	for i, p := range pieces {
		if len(p) > 12 {
			t.Errorf("piece %d is %d bytes, over limit", i, len(p))
		}
		// Every non-final piece should end at a line boundary here.
		if i < len(pieces)-1 && !strings.HasSuffix(p, "\n") {
			t.Errorf("piece %d = %q does not end on a line boundary", i, p)
		}
	}
}

func TestSplitMessage_LongLineHardSplit(t *testing.T) {
	text := strings.Repeat("a", 25)
	pieces := SplitMessage(text, 10)

	if strings.Join(pieces, "") != text {
		t.Fatalf("reassembly mismatch")
	}
	if len(pieces) != 3 {
		t.Fatalf("got %d pieces, want 3", len(pieces))
	}
}

func TestSplitMessage_NeverSplitsRunes(t *testing.T) {
	text := strings.Repeat("héllo wörld ", 10)
	pieces := SplitMessage(text, 16)

	if strings.Join(pieces, "") != text {
		t.Fatalf("reassembly mismatch")
	}
	for i, p := range pieces {
		if !utf8.ValidString(p) {
			t.Errorf("piece %d is not valid UTF-8: %q", i, p)
		}
	}
}
