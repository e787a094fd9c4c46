// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package events

import "sync"

// Buffer keeps the most recent events in a fixed-size ring so HTTP
// clients can poll history without a live connection.
//
// # Thread Safety
//
// Safe for concurrent use.
type Buffer struct {
	mu     sync.RWMutex
	ring   []Event
	next   int
	filled bool
}

// NewBuffer creates a ring holding up to capacity events. A capacity
// below 1 is raised to 1.
func NewBuffer(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{ring: make([]Event, capacity)}
}

// Publish records the event, evicting the oldest when full.
func (b *Buffer) Publish(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ring[b.next] = event
	b.next++
	if b.next == len(b.ring) {
		b.next = 0
		b.filled = true
	}
}

// Recent returns buffered events oldest first.
func (b *Buffer) Recent() []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.filled {
		out := make([]Event, b.next)
		copy(out, b.ring[:b.next])
		return out
	}
	out := make([]Event, 0, len(b.ring))
	out = append(out, b.ring[b.next:]...)
	out = append(out, b.ring[:b.next]...)
	return out
}

// RecentForWorkflow returns buffered events for one workflow, oldest
// first.
func (b *Buffer) RecentForWorkflow(workflowID string) []Event {
	all := b.Recent()
	out := make([]Event, 0, len(all))
	for _, event := range all {
		if event.WorkflowID == workflowID {
			out = append(out, event)
		}
	}
	return out
}
