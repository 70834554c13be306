// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dock108/aicli-companion-sub014/internal/aicli"
	"github.com/dock108/aicli-companion-sub014/internal/claude"
	"github.com/dock108/aicli-companion-sub014/internal/session"
	"github.com/dock108/aicli-companion-sub014/internal/validate"
)

// CommandHandler handles prompt submission and permission responses.
type CommandHandler struct {
	svc Service
}

// NewCommandHandler creates a new command handler.
func NewCommandHandler(svc Service) *CommandHandler {
	return &CommandHandler{svc: svc}
}

// Process submits a prompt to a new or existing session and blocks until
// the turn reaches a terminal state or a permission gate.
func (h *CommandHandler) Process(w http.ResponseWriter, r *http.Request) {
	var cmd aicli.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid JSON")
		return
	}

	result, err := h.svc.ProcessCommand(r.Context(), cmd)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, result)
}

// Permission delivers a permission decision to a session. Text that is not
// a recognized decision is resubmitted as a prompt for the same session, so
// a user can answer a permission request by just typing what they want next.
func (h *CommandHandler) Permission(w http.ResponseWriter, r *http.Request) {
	var resp aicli.PermissionResponse
	if err := json.NewDecoder(r.Body).Decode(&resp); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid JSON")
		return
	}

	err := h.svc.HandlePermissionResponse(resp)
	if errors.Is(err, aicli.ErrNotPermissionResponse) {
		result, cmdErr := h.svc.ProcessCommand(r.Context(), aicli.Command{
			SessionID: resp.SessionID,
			Prompt:    resp.Response,
		})
		if cmdErr != nil {
			writeServiceError(w, cmdErr)
			return
		}
		WriteJSON(w, http.StatusOK, result)
		return
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]bool{"delivered": true})
}

// writeServiceError maps core errors onto HTTP statuses and envelope codes.
func writeServiceError(w http.ResponseWriter, err error) {
	var verr *validate.Error
	switch {
	case errors.As(err, &verr):
		WriteErrorWithDetails(w, http.StatusBadRequest, ErrValidation, verr.Error(), map[string]interface{}{
			"field":     verr.Field,
			"violation": verr.Violation,
		})
	case errors.Is(err, aicli.ErrSessionNotFound):
		WriteError(w, http.StatusNotFound, ErrNotFound, err.Error())
	case errors.Is(err, aicli.ErrTurnInProgress):
		WriteError(w, http.StatusConflict, ErrSessionBusy, err.Error())
	case errors.Is(err, aicli.ErrPermissionPending):
		WriteError(w, http.StatusConflict, ErrPermissionPending, err.Error())
	case errors.Is(err, session.ErrCancelled):
		WriteError(w, http.StatusConflict, ErrCancelled, err.Error())
	case claude.IsRateLimited(err):
		WriteError(w, http.StatusTooManyRequests, ErrRateLimited, err.Error())
	default:
		var execErr *claude.ExecError
		if errors.As(err, &execErr) {
			WriteError(w, http.StatusBadGateway, ErrExecution, err.Error())
			return
		}
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
	}
}
