// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dock108/aicli-companion-sub014/internal/events"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	wsWriteTimeout = 10 * time.Second
	wsPongTimeout  = 60 * time.Second
	wsPingInterval = 54 * time.Second
)

// EventHandler handles event history and the live event stream.
type EventHandler struct {
	svc Service
}

// NewEventHandler creates a new event handler.
func NewEventHandler(svc Service) *EventHandler {
	return &EventHandler{svc: svc}
}

// parseKinds resolves a comma-separated list of event kind names.
func parseKinds(raw string) ([]events.Kind, error) {
	if raw == "" {
		return nil, nil
	}
	var kinds []events.Kind
	for _, name := range strings.Split(raw, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		k, ok := events.ParseKind(name)
		if !ok {
			return nil, fmt.Errorf("unknown event kind %q", name)
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

// History returns retained events, optionally filtered by session and kind.
func (h *EventHandler) History(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	kinds, err := parseKinds(query.Get("kinds"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, err.Error())
		return
	}

	eventList := h.svc.History(query.Get("session"), kinds...)

	if limitStr := query.Get("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil && n > 0 && n < len(eventList) {
			eventList = eventList[len(eventList)-n:]
		}
	}

	WriteJSON(w, http.StatusOK, eventList)
}

// WebSocket streams events to the client as they happen. Query parameters
// `session` and `kinds` narrow the stream; retained history is replayed on
// connect unless replay=false.
func (h *EventHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	kinds, err := parseKinds(query.Get("kinds"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, err.Error())
		return
	}
	sessionID := query.Get("session")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// Subscribe before the replay so nothing falls in the gap. Events that
	// land in both are distinguishable by id on the client side.
	eventCh := h.svc.Subscribe(sessionID, kinds...)
	defer h.svc.Unsubscribe(eventCh)

	if query.Get("replay") != "false" {
		for _, ev := range h.svc.History(sessionID, kinds...) {
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}

	// Set up ping/pong
	conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
		return nil
	})

	pingTicker := time.NewTicker(wsPingInterval)
	defer pingTicker.Stop()

	// Read goroutine (for close detection)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Write loop
	for {
		select {
		case ev, ok := <-eventCh:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
