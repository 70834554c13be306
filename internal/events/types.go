// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package events defines the typed event stream the companion server emits
// while driving CLI sessions. Every event carries a session id, a typed
// payload, and a timestamp; consumers subscribe through the Emitter.
package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind identifies an event type. The set is closed: consumers can switch
// exhaustively and the compiler keeps payload types honest.
type Kind int

const (
	KindUnknown Kind = iota
	KindSystemInit
	KindAssistantMessage
	KindToolUse
	KindToolResult
	KindPermissionRequired
	KindPermissionDenied
	KindConversationResult
	KindSessionCancelled
	KindSessionUnhealthy
	KindProcessStart
	KindProcessExit
	KindProcessStderr
	KindSecurityViolation
)

var kindNames = map[Kind]string{
	KindSystemInit:         "systemInit",
	KindAssistantMessage:   "assistantMessage",
	KindToolUse:            "toolUse",
	KindToolResult:         "toolResult",
	KindPermissionRequired: "permissionRequired",
	KindPermissionDenied:   "permissionDenied",
	KindConversationResult: "conversationResult",
	KindSessionCancelled:   "sessionCancelled",
	KindSessionUnhealthy:   "sessionUnhealthy",
	KindProcessStart:       "processStart",
	KindProcessExit:        "processExit",
	KindProcessStderr:      "processStderr",
	KindSecurityViolation:  "securityViolation",
}

var kindValues = func() map[string]Kind {
	m := make(map[string]Kind, len(kindNames))
	for k, n := range kindNames {
		m[n] = k
	}
	return m
}()

// String returns the wire name of the kind.
func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "unknown"
}

// MarshalJSON encodes the kind as its wire name.
func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON decodes a wire name into a kind.
func (k *Kind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, ok := kindValues[s]
	if !ok {
		return fmt.Errorf("unknown event kind %q", s)
	}
	*k = v
	return nil
}

// ParseKind resolves a wire name to its kind.
func ParseKind(name string) (Kind, bool) {
	k, ok := kindValues[name]
	return k, ok
}

// Event is a single occurrence in a session's lifetime.
type Event struct {
	ID        string    `json:"id"`
	Type      Kind      `json:"type"`
	SessionID string    `json:"sessionId"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// SystemInitData reports that the CLI started a conversation turn.
type SystemInitData struct {
	ClaudeSessionID string   `json:"claudeSessionId"`
	WorkingDir      string   `json:"workingDir,omitempty"`
	Model           string   `json:"model,omitempty"`
	Tools           []string `json:"tools,omitempty"`
}

// AssistantMessageData carries assistant output visible to the user.
type AssistantMessageData struct {
	Content  string `json:"content"`
	ToolName string `json:"toolName,omitempty"`
}

// ToolUseData reports the assistant invoking a tool.
type ToolUseData struct {
	ToolID   string          `json:"toolId"`
	ToolName string          `json:"toolName"`
	Input    json.RawMessage `json:"input,omitempty"`
}

// ToolResultData reports a tool's outcome.
type ToolResultData struct {
	ToolID  string `json:"toolId"`
	Content string `json:"content,omitempty"`
	IsError bool   `json:"isError,omitempty"`
}

// PermissionRequiredData asks the user to approve or deny a tool action.
type PermissionRequiredData struct {
	Prompt    string   `json:"prompt"`
	ToolName  string   `json:"toolName,omitempty"`
	RequestID string   `json:"requestId,omitempty"`
	Options   []string `json:"options,omitempty"`
}

// PermissionDeniedData reports a denied permission and a discarded response.
type PermissionDeniedData struct {
	Reason string `json:"reason,omitempty"`
}

// ConversationResultData is the single final payload of a turn.
type ConversationResultData struct {
	Success         bool    `json:"success"`
	Result          string  `json:"result,omitempty"`
	Error           string  `json:"error,omitempty"`
	ClaudeSessionID string  `json:"claudeSessionId,omitempty"`
	DurationMS      int64   `json:"durationMs,omitempty"`
	CostUSD         float64 `json:"costUsd,omitempty"`
	NumTurns        int     `json:"numTurns,omitempty"`
}

// SessionCancelledData reports a user- or operator-initiated kill.
type SessionCancelledData struct {
	Reason string `json:"reason,omitempty"`
}

// SessionUnhealthyData reports a session evicted by the health monitor.
type SessionUnhealthyData struct {
	Reason     string  `json:"reason"`
	RSSBytes   uint64  `json:"rssBytes,omitempty"`
	CPUPercent float64 `json:"cpuPercent,omitempty"`
}

// ProcessStartData reports a spawned CLI subprocess.
type ProcessStartData struct {
	PID  int      `json:"pid"`
	Args []string `json:"args,omitempty"`
}

// ProcessExitData reports a subprocess exit.
type ProcessExitData struct {
	Code   int    `json:"code"`
	Stderr string `json:"stderr,omitempty"`
	Benign bool   `json:"benign,omitempty"`
}

// ProcessStderrData carries one line of subprocess stderr.
type ProcessStderrData struct {
	Line string `json:"line"`
}

// SecurityViolationData reports rejected input (path traversal and the like).
type SecurityViolationData struct {
	Field  string `json:"field"`
	Value  string `json:"value,omitempty"`
	Reason string `json:"reason"`
}

// NewSystemInit builds a systemInit event.
func NewSystemInit(sessionID string, data SystemInitData) Event {
	return newEvent(KindSystemInit, sessionID, data)
}

// NewAssistantMessage builds an assistantMessage event.
func NewAssistantMessage(sessionID string, data AssistantMessageData) Event {
	return newEvent(KindAssistantMessage, sessionID, data)
}

// NewToolUse builds a toolUse event.
func NewToolUse(sessionID string, data ToolUseData) Event {
	return newEvent(KindToolUse, sessionID, data)
}

// NewToolResult builds a toolResult event.
func NewToolResult(sessionID string, data ToolResultData) Event {
	return newEvent(KindToolResult, sessionID, data)
}

// NewPermissionRequired builds a permissionRequired event.
func NewPermissionRequired(sessionID string, data PermissionRequiredData) Event {
	return newEvent(KindPermissionRequired, sessionID, data)
}

// NewPermissionDenied builds a permissionDenied event.
func NewPermissionDenied(sessionID string, data PermissionDeniedData) Event {
	return newEvent(KindPermissionDenied, sessionID, data)
}

// NewConversationResult builds a conversationResult event.
func NewConversationResult(sessionID string, data ConversationResultData) Event {
	return newEvent(KindConversationResult, sessionID, data)
}

// NewSessionCancelled builds a sessionCancelled event.
func NewSessionCancelled(sessionID string, data SessionCancelledData) Event {
	return newEvent(KindSessionCancelled, sessionID, data)
}

// NewSessionUnhealthy builds a sessionUnhealthy event.
func NewSessionUnhealthy(sessionID string, data SessionUnhealthyData) Event {
	return newEvent(KindSessionUnhealthy, sessionID, data)
}

// NewProcessStart builds a processStart event.
func NewProcessStart(sessionID string, data ProcessStartData) Event {
	return newEvent(KindProcessStart, sessionID, data)
}

// NewProcessExit builds a processExit event.
func NewProcessExit(sessionID string, data ProcessExitData) Event {
	return newEvent(KindProcessExit, sessionID, data)
}

// NewProcessStderr builds a processStderr event.
func NewProcessStderr(sessionID string, data ProcessStderrData) Event {
	return newEvent(KindProcessStderr, sessionID, data)
}

// NewSecurityViolation builds a securityViolation event.
func NewSecurityViolation(sessionID string, data SecurityViolationData) Event {
	return newEvent(KindSecurityViolation, sessionID, data)
}

func newEvent(kind Kind, sessionID string, data any) Event {
	return Event{
		Type:      kind,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}
