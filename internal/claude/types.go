// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package claude drives the CLI subprocess for one conversation turn at a
// time: it builds argument lists, spawns the process, parses the
// stream-json output, and classifies each record for the session layer.
package claude

import (
	"encoding/json"
	"strings"
)

// ContentBlock mirrors the CLI's content block types.
type ContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// StreamRecord is a parsed NDJSON line from --output-format stream-json.
type StreamRecord struct {
	Type       string          `json:"type"`
	Subtype    string          `json:"subtype,omitempty"`
	SessionID  string          `json:"session_id,omitempty"`
	Message    json.RawMessage `json:"message,omitempty"`
	Result     string          `json:"result,omitempty"`
	IsError    bool            `json:"is_error,omitempty"`
	Errors     []string        `json:"errors,omitempty"`
	Cost       float64         `json:"total_cost_usd,omitempty"`
	DurationMS int64           `json:"duration_ms,omitempty"`
	NumTurns   int             `json:"num_turns,omitempty"`
	Usage      json.RawMessage `json:"usage,omitempty"`
	// system init fields
	CWD   string   `json:"cwd,omitempty"`
	Model string   `json:"model,omitempty"`
	Tools []string `json:"tools,omitempty"`
	// control_request fields (permission prompts)
	RequestID string          `json:"request_id,omitempty"`
	Request   json.RawMessage `json:"request,omitempty"`
}

// parsedMessage is the message field of assistant and user records.
type parsedMessage struct {
	Content []ContentBlock  `json:"content"`
	Model   string          `json:"model,omitempty"`
	Usage   json.RawMessage `json:"usage,omitempty"`
}

// TextContent concatenates the text blocks of a content list.
func TextContent(blocks []ContentBlock) string {
	var parts []string
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// ToolUseBlocks extracts embedded tool_use blocks from assistant content.
func ToolUseBlocks(blocks []ContentBlock) []ContentBlock {
	var uses []ContentBlock
	for _, b := range blocks {
		if b.Type == "tool_use" {
			uses = append(uses, b)
		}
	}
	return uses
}

// MentionsPermission reports whether assistant content textually mentions
// permissions. Coarse substring check; the structured control_request
// record is the authoritative signal when present.
func MentionsPermission(blocks []ContentBlock) bool {
	return containsFold(blocks, "permission")
}

// MentionsTool reports whether assistant content textually mentions tools.
func MentionsTool(blocks []ContentBlock) bool {
	return containsFold(blocks, "tool")
}

func containsFold(blocks []ContentBlock, needle string) bool {
	for _, b := range blocks {
		if b.Type == "text" && strings.Contains(strings.ToLower(b.Text), needle) {
			return true
		}
	}
	return false
}
