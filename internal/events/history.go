// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"sync"
	"time"
)

// History retains recent events so reconnecting clients can replay what
// they missed. Retention is bounded by count and age.
type History struct {
	mu        sync.RWMutex
	events    []Event
	maxEvents int
	maxAge    time.Duration
}

// NewHistory creates an event history.
func NewHistory(maxEvents int, maxAge time.Duration) *History {
	if maxEvents <= 0 {
		maxEvents = 1000
	}
	if maxAge <= 0 {
		maxAge = time.Hour
	}

	return &History{
		events:    make([]Event, 0),
		maxEvents: maxEvents,
		maxAge:    maxAge,
	}
}

// Add stores an event.
func (h *History) Add(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.events = append(h.events, ev)

	if len(h.events) > h.maxEvents {
		h.events = h.events[len(h.events)-h.maxEvents:]
	}
}

// Query returns events for a session ("" for all), optionally narrowed to
// the given kinds, oldest first.
func (h *History) Query(sessionID string, kinds ...Kind) []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var kindSet map[Kind]bool
	if len(kinds) > 0 {
		kindSet = make(map[Kind]bool, len(kinds))
		for _, k := range kinds {
			kindSet[k] = true
		}
	}

	result := make([]Event, 0)
	for _, ev := range h.events {
		if sessionID != "" && ev.SessionID != sessionID {
			continue
		}
		if kindSet != nil && !kindSet[ev.Type] {
			continue
		}
		result = append(result, ev)
	}
	return result
}

// Prune removes events older than max age.
func (h *History) Prune() {
	h.mu.Lock()
	defer h.mu.Unlock()

	cutoff := time.Now().Add(-h.maxAge)
	filtered := make([]Event, 0, len(h.events))
	for _, ev := range h.events {
		if ev.Timestamp.After(cutoff) {
			filtered = append(filtered, ev)
		}
	}
	h.events = filtered
}

// Close releases resources.
func (h *History) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = nil
}
