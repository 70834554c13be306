// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
)

// SessionHandler handles session listing and termination.
type SessionHandler struct {
	svc Service
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(svc Service) *SessionHandler {
	return &SessionHandler{svc: svc}
}

// List returns all active sessions.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.svc.Sessions())
}

// Get returns a single session by any of its ids.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	info, ok := h.svc.Session(id)
	if !ok {
		WriteError(w, http.StatusNotFound, ErrNotFound, "session not found: "+id)
		return
	}

	WriteJSON(w, http.StatusOK, info)
}

// KillRequest is the optional body for the kill endpoint.
type KillRequest struct {
	Reason string `json:"reason"`
}

// Kill terminates a session, cancelling any in-flight turn.
func (h *SessionHandler) Kill(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	reason := "user requested"
	var req KillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil && req.Reason != "" {
		reason = req.Reason
	}

	if err := h.svc.KillSession(id, reason); err != nil {
		writeServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]bool{"killed": true})
}

// Background marks a session as backgrounded by the client. The session
// keeps running server side.
func (h *SessionHandler) Background(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.svc.MarkBackgrounded(id); err != nil {
		writeServiceError(w, err)
		return
	}

	info, _ := h.svc.Session(id)
	WriteJSON(w, http.StatusOK, info)
}

// Foreground clears the backgrounded flag and refreshes activity.
func (h *SessionHandler) Foreground(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.svc.MarkForegrounded(id); err != nil {
		writeServiceError(w, err)
		return
	}

	info, _ := h.svc.Session(id)
	WriteJSON(w, http.StatusOK, info)
}
