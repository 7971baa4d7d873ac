// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package registry

import (
	"sync"

	"github.com/AleutianAI/Kodiak/services/coordinator/datatypes"
)

// EventHub fans task lifecycle events out to subscribers. Publish never
// blocks: a subscriber whose buffer is full loses that event. The websocket
// stream is a best-effort observer, not a durable log.
type EventHub struct {
	mu   sync.RWMutex
	subs map[int]chan datatypes.TaskEvent
	next int
}

// NewEventHub creates an empty hub.
func NewEventHub() *EventHub {
	return &EventHub{subs: make(map[int]chan datatypes.TaskEvent)}
}

// Subscribe registers a consumer with the given channel buffer and returns
// the event channel plus an unsubscribe function. Unsubscribing closes the
// channel.
func (h *EventHub) Subscribe(buffer int) (<-chan datatypes.TaskEvent, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan datatypes.TaskEvent, buffer)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsubscribe
}

// Publish delivers the event to every subscriber that has buffer room.
func (h *EventHub) Publish(event datatypes.TaskEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribers reports the current subscriber count.
func (h *EventHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
