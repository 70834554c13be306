// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package claude

import (
	"encoding/json"
)

// Message is a classified stream record. Exactly one concrete type is
// returned per record; callers switch on the variant.
type Message interface {
	message()
}

// SystemInit is the first record of a turn: the CLI announces the session
// id it assigned along with model and tool inventory.
type SystemInit struct {
	SessionID string
	Model     string
	CWD       string
	Tools     []string
}

// AssistantResponse is a (possibly partial) assistant message. EmbeddedTools
// holds tool_use blocks nested inside the message content.
type AssistantResponse struct {
	SessionID     string
	Content       []ContentBlock
	Text          string
	EmbeddedTools []ContentBlock
}

// ToolUse is a top-level tool invocation record.
type ToolUse struct {
	SessionID string
	ID        string
	Name      string
	Input     json.RawMessage
}

// ToolResult is the outcome of a tool invocation, either top-level or
// carried inside a user record.
type ToolResult struct {
	SessionID string
	ToolUseID string
	Content   json.RawMessage
	IsError   bool
}

// FinalResult is the terminal record of a turn.
type FinalResult struct {
	SessionID  string
	Success    bool
	Result     string
	Errors     []string
	Cost       float64
	DurationMS int64
	NumTurns   int
}

// PermissionRequest is a control_request record asking the caller to
// approve or deny a tool invocation.
type PermissionRequest struct {
	SessionID string
	RequestID string
	ToolName  string
	Input     json.RawMessage
	Prompt    string
}

// Unknown wraps records with no recognized shape. They are preserved, not
// dropped, so callers can log or forward them.
type Unknown struct {
	SessionID string
	Type      string
	Raw       json.RawMessage
}

func (SystemInit) message()        {}
func (AssistantResponse) message() {}
func (ToolUse) message()          {}
func (ToolResult) message()       {}
func (FinalResult) message()      {}
func (PermissionRequest) message() {}
func (Unknown) message()          {}

// permissionPayload is the request field of a can_use_tool control_request.
type permissionPayload struct {
	Subtype  string          `json:"subtype,omitempty"`
	ToolName string          `json:"tool_name,omitempty"`
	Input    json.RawMessage `json:"input,omitempty"`
	Message  string          `json:"message,omitempty"`
}

// Classify parses one NDJSON line and maps it to a Message variant. A line
// that fails to parse, or parses to an unrecognized type, becomes Unknown.
func Classify(line []byte) Message {
	var rec StreamRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return Unknown{Raw: append(json.RawMessage(nil), line...)}
	}
	return classifyRecord(&rec, line)
}

func classifyRecord(rec *StreamRecord, line []byte) Message {
	switch rec.Type {
	case "system":
		if rec.Subtype == "init" {
			return SystemInit{
				SessionID: rec.SessionID,
				Model:     rec.Model,
				CWD:       rec.CWD,
				Tools:     rec.Tools,
			}
		}
	case "assistant":
		var msg parsedMessage
		if rec.Message != nil {
			// Malformed message payloads degrade to an empty
			// response rather than an Unknown; the record type
			// itself was recognized.
			_ = json.Unmarshal(rec.Message, &msg)
		}
		return AssistantResponse{
			SessionID:     rec.SessionID,
			Content:       msg.Content,
			Text:          TextContent(msg.Content),
			EmbeddedTools: ToolUseBlocks(msg.Content),
		}
	case "user":
		// User records echo tool results back into the transcript.
		var msg parsedMessage
		if rec.Message != nil {
			_ = json.Unmarshal(rec.Message, &msg)
		}
		for _, b := range msg.Content {
			if b.Type == "tool_result" {
				return ToolResult{
					SessionID: rec.SessionID,
					ToolUseID: b.ToolUseID,
					Content:   b.Content,
					IsError:   b.IsError,
				}
			}
		}
	case "tool_use":
		var block ContentBlock
		if err := json.Unmarshal(line, &block); err == nil {
			return ToolUse{
				SessionID: rec.SessionID,
				ID:        block.ID,
				Name:      block.Name,
				Input:     block.Input,
			}
		}
	case "tool_result":
		var block ContentBlock
		if err := json.Unmarshal(line, &block); err == nil {
			return ToolResult{
				SessionID: rec.SessionID,
				ToolUseID: block.ToolUseID,
				Content:   block.Content,
				IsError:   block.IsError,
			}
		}
	case "result":
		return FinalResult{
			SessionID:  rec.SessionID,
			Success:    !rec.IsError,
			Result:     rec.Result,
			Errors:     rec.Errors,
			Cost:       rec.Cost,
			DurationMS: rec.DurationMS,
			NumTurns:   rec.NumTurns,
		}
	case "control_request":
		var payload permissionPayload
		if rec.Request != nil {
			_ = json.Unmarshal(rec.Request, &payload)
		}
		return PermissionRequest{
			SessionID: rec.SessionID,
			RequestID: rec.RequestID,
			ToolName:  payload.ToolName,
			Input:     payload.Input,
			Prompt:    payload.Message,
		}
	}
	return Unknown{
		SessionID: rec.SessionID,
		Type:      rec.Type,
		Raw:       append(json.RawMessage(nil), line...),
	}
}
