// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultSubscriberBuffer = 64

// Emitter fans events out to subscriber channels and records them in a
// bounded history so late subscribers can catch up. Sends never block:
// a subscriber that falls behind loses events rather than stalling the
// session pipeline.
type Emitter struct {
	mu      sync.RWMutex
	subs    map[chan Event]subscription
	history *History
	closed  bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

type subscription struct {
	sessionID string
	kinds     map[Kind]bool // empty means all kinds
}

func (s subscription) matches(ev Event) bool {
	if s.sessionID != "" && ev.SessionID != s.sessionID {
		return false
	}
	if len(s.kinds) > 0 && !s.kinds[ev.Type] {
		return false
	}
	return true
}

// EmitterConfig configures history retention.
type EmitterConfig struct {
	MaxEvents int
	MaxAge    time.Duration
}

// NewEmitter creates an emitter with an attached history ring.
func NewEmitter(cfg EmitterConfig) *Emitter {
	e := &Emitter{
		subs:    make(map[chan Event]subscription),
		history: NewHistory(cfg.MaxEvents, cfg.MaxAge),
		stopCh:  make(chan struct{}),
	}

	e.wg.Add(1)
	go e.prune()

	return e
}

// Emit assigns the event an id, records it, and fans it out.
func (e *Emitter) Emit(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return
	}

	e.history.Add(ev)

	for ch, sub := range e.subs {
		if !sub.matches(ev) {
			continue
		}
		select {
		case ch <- ev:
		default:
			// Subscriber is not keeping up; drop rather than block
		}
	}
}

// Subscribe registers a subscriber channel. sessionID narrows delivery to
// one session ("" for all); kinds narrows to the given kinds (none for all).
func (e *Emitter) Subscribe(sessionID string, kinds ...Kind) chan Event {
	ch := make(chan Event, defaultSubscriberBuffer)

	sub := subscription{sessionID: sessionID}
	if len(kinds) > 0 {
		sub.kinds = make(map[Kind]bool, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = true
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		close(ch)
		return ch
	}
	e.subs[ch] = sub
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (e *Emitter) Unsubscribe(ch chan Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.subs[ch]; ok {
		delete(e.subs, ch)
		close(ch)
	}
}

// History returns recorded events for a session (all sessions when "").
func (e *Emitter) History(sessionID string, kinds ...Kind) []Event {
	return e.history.Query(sessionID, kinds...)
}

// Close shuts down the emitter and closes all subscriber channels.
func (e *Emitter) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	for ch := range e.subs {
		delete(e.subs, ch)
		close(ch)
	}
	close(e.stopCh)
	e.mu.Unlock()

	e.wg.Wait()
	e.history.Close()
}

func (e *Emitter) prune() {
	defer e.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.history.Prune()
		}
	}
}
