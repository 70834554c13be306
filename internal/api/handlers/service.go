// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package handlers implements the HTTP handlers for the companion API.
package handlers

import (
	"context"

	"github.com/dock108/aicli-companion-sub014/internal/aicli"
	"github.com/dock108/aicli-companion-sub014/internal/events"
	"github.com/dock108/aicli-companion-sub014/internal/health"
	"github.com/dock108/aicli-companion-sub014/internal/session"
)

// Service is the surface handlers need from the companion core.
// *aicli.Service satisfies it.
type Service interface {
	ProcessCommand(ctx context.Context, cmd aicli.Command) (*aicli.CommandResult, error)
	HandlePermissionResponse(resp aicli.PermissionResponse) error
	KillSession(sessionID, reason string) error
	MarkBackgrounded(sessionID string) error
	MarkForegrounded(sessionID string) error
	Sessions() []session.Info
	Session(id string) (session.Info, bool)
	Subscribe(sessionID string, kinds ...events.Kind) chan events.Event
	Unsubscribe(ch chan events.Event)
	History(sessionID string, kinds ...events.Kind) []events.Event
	HealthCheck(ctx context.Context) health.Status
}
