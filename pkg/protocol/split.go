// Copyright (C) 2025 PR Writing Hub (engineering@prwritinghub.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package protocol

import (
	"strings"
	"unicode/utf8"
)

// DefaultMaxMessageBytes is the largest single payload the API gateway
// accepts before the connection is dropped. Larger messages are split
// client-side and reassembled by the backend via ChunkInfo.
const DefaultMaxMessageBytes = 100_000

// SplitMessage cuts text into pieces of at most maxBytes bytes,
// preferring newline boundaries so pasted documents split between
// lines rather than mid-sentence. Cuts never land inside a UTF-8
// sequence. A maxBytes <= 0 or a short text yields one piece.
func SplitMessage(text string, maxBytes int) []string {
	if maxBytes <= 0 || len(text) <= maxBytes {
		return []string{text}
	}

	var pieces []string
	for len(text) > maxBytes {
		cut := strings.LastIndexByte(text[:maxBytes], '\n')
		if cut > 0 {
			cut++ // keep the newline with the leading piece
		} else {
			cut = maxBytes
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
			if cut == 0 {
				cut = maxBytes
			}
		}
		pieces = append(pieces, text[:cut])
		text = text[cut:]
	}
	if len(text) > 0 {
		pieces = append(pieces, text)
	}
	return pieces
}
