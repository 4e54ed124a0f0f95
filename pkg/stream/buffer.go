// Copyright (C) 2025 PR Writing Hub (engineering@prwritinghub.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package stream assembles out-of-order response chunks into the text
// of a single assistant turn and drives the per-turn state machine.
//
// The backend numbers every chunk with a zero-based chunk_index, but
// the gateway between us and the model worker reorders and sometimes
// redelivers frames. ReorderBuffer restores order the same way a TCP
// receive window does: emit the next expected index immediately, hold
// anything ahead of it, drop anything behind it.
package stream

// ReorderBuffer reassembles indexed text chunks in order.
//
// Not safe for concurrent use; Session serializes access.
type ReorderBuffer struct {
	next    int
	pending map[int]string
}

// NewReorderBuffer returns an empty buffer expecting index 0.
func NewReorderBuffer() *ReorderBuffer {
	return &ReorderBuffer{pending: make(map[int]string)}
}

// Offer submits one chunk. When the chunk is the next expected index,
// it returns that chunk followed by every contiguously buffered
// successor, one element per chunk in index order, and ok=true. The
// per-chunk slice lets callers render each piece as its own display
// update when a gap fill releases several at once. Out-of-order chunks
// are held, duplicates of already-emitted indexes are dropped, and
// both return ok=false.
//
// A second delivery of a still-pending index overwrites the held copy;
// redeliveries carry identical text so this is a no-op in practice.
func (b *ReorderBuffer) Offer(index int, text string) ([]string, bool) {
	if index < b.next {
		return nil, false
	}
	if index > b.next {
		b.pending[index] = text
		return nil, false
	}

	emitted := []string{text}
	b.next++
	for {
		held, ok := b.pending[b.next]
		if !ok {
			break
		}
		delete(b.pending, b.next)
		emitted = append(emitted, held)
		b.next++
	}
	return emitted, true
}

// Next returns the next expected index.
func (b *ReorderBuffer) Next() int {
	return b.next
}

// PendingCount reports how many chunks are held waiting for a gap to
// fill.
func (b *ReorderBuffer) PendingCount() int {
	return len(b.pending)
}

// Reset discards all state and starts a fresh turn at index 0.
func (b *ReorderBuffer) Reset() {
	b.next = 0
	b.pending = make(map[int]string)
}
