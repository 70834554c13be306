// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"encoding/json"
	"time"
)

// CommandRequest is one prompt submitted to a session.
//
// Leave SessionID empty to start a fresh conversation; the server assigns
// an identifier and returns it in [CommandResult.SessionID]. Fresh
// conversations must set WorkingDirectory to the absolute path the CLI
// should run in.
type CommandRequest struct {
	// SessionID targets an existing conversation. Empty starts a new one.
	SessionID string `json:"sessionId,omitempty"`

	// Prompt is the user's message. Required.
	Prompt string `json:"prompt"`

	// WorkingDirectory is where the CLI runs. Required for new
	// conversations, ignored for continuations.
	WorkingDirectory string `json:"workingDirectory,omitempty"`

	// Attachments are files staged alongside the prompt.
	Attachments []Attachment `json:"attachments,omitempty"`

	// SkipPermissions requests --dangerously-skip-permissions for this
	// session. The server's configuration may override it.
	SkipPermissions bool `json:"skipPermissions,omitempty"`
}

// Attachment is a file sent with a prompt.
type Attachment struct {
	// Name is the client-side filename. It is sanitized before staging.
	Name string `json:"name"`

	// Data is the base64-encoded content. A data: URI prefix is allowed.
	Data string `json:"data"`
}

// CommandResult is the command-level reply to a processed prompt.
//
// The full record stream (assistant messages, tool use, permission
// prompts) is delivered as events; this carries only the turn outcome.
type CommandResult struct {
	// Success reports whether the turn completed without error.
	Success bool `json:"success"`

	// SessionID identifies the conversation, including ones the server
	// just created for this request.
	SessionID string `json:"sessionId"`

	// Result is the final response text, when the turn produced one.
	Result string `json:"result,omitempty"`

	// PermissionPending is true when the turn is gated behind a
	// permission prompt. Respond via [CommandClient.Permission].
	PermissionPending bool `json:"permissionPending,omitempty"`
}

// PermissionOutcome is the reply to a permission response.
//
// When the submitted text was a recognized decision (approve/deny),
// Delivered is true. When the session had no pending permission, the
// server reinterprets the text as an ordinary prompt and Turn carries
// that turn's result.
type PermissionOutcome struct {
	// Delivered is true when the decision reached a pending permission.
	Delivered bool

	// Turn is set when the text was processed as a regular prompt
	// instead.
	Turn *CommandResult
}

// Session is a point-in-time snapshot of one conversation.
type Session struct {
	// ID is the server-assigned session identifier.
	ID string `json:"id"`

	// ClaudeID is the CLI's conversation identifier. Empty until the
	// first turn completes.
	ClaudeID string `json:"claudeId,omitempty"`

	// WorkingDir is the directory the CLI runs in for this session.
	WorkingDir string `json:"workingDirectory"`

	// CreatedAt is when the session was created.
	CreatedAt time.Time `json:"createdAt"`

	// LastActivity is the last time the session processed anything.
	LastActivity time.Time `json:"lastActivity"`

	// Backgrounded is true when the client has marked the session as
	// backgrounded.
	Backgrounded bool `json:"backgrounded"`

	// Executing is true while a turn is in flight.
	Executing bool `json:"executing"`

	// PID is the CLI process id while a turn is in flight.
	PID int `json:"pid,omitempty"`
}

// Event is one entry from the server's typed event stream.
//
// The shape of Data depends on Type; see the Kind* constants for the
// known types. Unknown types should be skipped, not treated as errors.
type Event struct {
	// ID is a unique event identifier.
	ID string `json:"id"`

	// Type is the event kind (e.g., "assistantMessage").
	Type string `json:"type"`

	// SessionID is the session this event belongs to.
	SessionID string `json:"sessionId"`

	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"timestamp"`

	// Data is the kind-specific payload.
	Data json.RawMessage `json:"data"`
}

// Event kind names as they appear in [Event.Type].
const (
	KindSystemInit         = "systemInit"
	KindAssistantMessage   = "assistantMessage"
	KindToolUse            = "toolUse"
	KindToolResult         = "toolResult"
	KindPermissionRequired = "permissionRequired"
	KindPermissionDenied   = "permissionDenied"
	KindConversationResult = "conversationResult"
	KindSessionCancelled   = "sessionCancelled"
	KindSessionUnhealthy   = "sessionUnhealthy"
	KindProcessStart       = "processStart"
	KindProcessExit        = "processExit"
	KindProcessStderr      = "processStderr"
	KindSecurityViolation  = "securityViolation"
)

// Health is the server's aggregated health snapshot.
type Health struct {
	// Healthy reports whether the CLI responded to the availability probe.
	Healthy bool `json:"healthy"`

	// Timestamp is when the snapshot was taken.
	Timestamp time.Time `json:"timestamp"`

	// ClaudeVersion is the CLI's reported version string.
	ClaudeVersion string `json:"claudeVersion,omitempty"`

	// ClaudeError describes the probe failure when Healthy is false.
	ClaudeError string `json:"claudeError,omitempty"`

	// ActiveSessions is the number of registered sessions.
	ActiveSessions int `json:"activeSessions"`

	// SessionIDs lists the registered session identifiers.
	SessionIDs []string `json:"sessionIds,omitempty"`

	// HostRSSBytes is the server process's resident memory.
	HostRSSBytes uint64 `json:"hostRssBytes,omitempty"`

	// OrphanPIDs lists CLI child processes not tied to any session.
	OrphanPIDs []int `json:"orphanPids,omitempty"`
}
