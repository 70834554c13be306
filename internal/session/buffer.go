// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/dock108/aicli-companion-sub014/internal/claude"
	"github.com/dock108/aicli-companion-sub014/internal/events"
)

// ErrNotPermissionResponse signals that an inbound permission response
// either does not match the accepted vocabulary or arrived for a session
// with nothing pending. Callers treat the text as an ordinary new prompt.
var ErrNotPermissionResponse = errors.New("not a permission response")

// buffer holds one session's turn state: whether a permission prompt is
// outstanding and whether a final result is stashed behind it.
type buffer struct {
	sessionID string

	pendingPermission    bool
	pendingFinalResponse bool
	permissionRequestID  string
	permissionTool       string

	// stashed is the final result held back while a permission prompt is
	// outstanding. Released verbatim on approval.
	stashed *claude.FinalResult

	// toolUseLive is set once a tool invocation is seen this turn. The
	// textual permission heuristic only applies while a tool is in play.
	toolUseLive bool

	// terminalEmitted guards the one-terminal-emission-per-turn rule.
	terminalEmitted bool
}

func (b *buffer) clear() {
	b.pendingPermission = false
	b.pendingFinalResponse = false
	b.permissionRequestID = ""
	b.permissionTool = ""
	b.stashed = nil
	b.toolUseLive = false
}

// Resolution is the outcome of a permission response.
type Resolution struct {
	Approved bool
	// RequestID is the structured control request being answered, empty
	// when the prompt was derived from message text.
	RequestID string
	// Released is the stashed final result emitted on approval, nil when
	// the process is still running and will deliver its own final.
	Released *claude.FinalResult
	// NeedsProcessWrite is set when the CLI is blocked waiting for the
	// answer on stdin.
	NeedsProcessWrite bool
}

// Buffers is the per-session response buffer set: the state machine
// between classified stream records and emitted events.
type Buffers struct {
	mu      sync.Mutex
	emitter *events.Emitter
	bufs    map[string]*buffer
}

// NewBuffers creates the buffer set, emitting through emitter.
func NewBuffers(emitter *events.Emitter) *Buffers {
	return &Buffers{
		emitter: emitter,
		bufs:    make(map[string]*buffer),
	}
}

// get returns the buffer for sessionID, creating it on demand. Creation on
// demand covers ids the CLI self-assigned before registration.
func (b *Buffers) get(sessionID string) *buffer {
	buf, ok := b.bufs[sessionID]
	if !ok {
		buf = &buffer{sessionID: sessionID}
		b.bufs[sessionID] = buf
	}
	return buf
}

// StartTurn resets per-turn emission state. Pending permission state is
// deliberately left alone; the operations layer refuses to start a turn
// while a permission decision is outstanding.
func (b *Buffers) StartTurn(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	buf := b.get(sessionID)
	buf.terminalEmitted = false
	buf.toolUseLive = false
}

// PendingPermission reports whether a permission prompt is outstanding.
func (b *Buffers) PendingPermission(sessionID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	buf, ok := b.bufs[sessionID]
	return ok && buf.pendingPermission
}

// PendingFinalResponse reports whether a final result is stashed behind an
// unresolved permission prompt.
func (b *Buffers) PendingFinalResponse(sessionID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	buf, ok := b.bufs[sessionID]
	return ok && buf.pendingFinalResponse
}

// PendingTool names the tool behind the outstanding permission prompt,
// empty when nothing is pending or the prompt was textual.
func (b *Buffers) PendingTool(sessionID string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	buf, ok := b.bufs[sessionID]
	if !ok || !buf.pendingPermission {
		return ""
	}
	return buf.permissionTool
}

// Drop discards a session's buffer state.
func (b *Buffers) Drop(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.bufs, sessionID)
}

// Rekey moves buffer state from one session id to another. Used when the
// CLI assigns the external id mid-turn.
func (b *Buffers) Rekey(oldID, newID string) {
	if oldID == newID {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	buf, ok := b.bufs[oldID]
	if !ok {
		return
	}
	delete(b.bufs, oldID)
	buf.sessionID = newID
	b.bufs[newID] = buf
}

// HandleOptions carries per-turn flags into the state machine.
type HandleOptions struct {
	// SkipPermissions disables the textual permission heuristic; with
	// gating bypassed on the command line, "permission" in prose is just
	// prose.
	SkipPermissions bool
}

// Handled reports what the state machine did with one record.
type Handled struct {
	// Emitted is the final result released to the stream, if any.
	Emitted *claude.FinalResult
	// Stashed is set when a final result was held behind a permission
	// prompt instead of being emitted.
	Stashed bool
}

// Handle feeds one classified record through the session's state machine,
// emitting events as the record dictates. Records for one session must be
// fed in stream order.
func (b *Buffers) Handle(sessionID string, msg claude.Message, opts HandleOptions) Handled {
	b.mu.Lock()
	defer b.mu.Unlock()
	buf := b.get(sessionID)

	switch m := msg.(type) {
	case claude.SystemInit:
		b.emitter.Emit(events.NewSystemInit(sessionID, events.SystemInitData{
			ClaudeSessionID: m.SessionID,
			WorkingDir:      m.CWD,
			Model:           m.Model,
			Tools:           m.Tools,
		}))

	case claude.AssistantResponse:
		if m.Text != "" {
			b.emitter.Emit(events.NewAssistantMessage(sessionID, events.AssistantMessageData{
				Content: m.Text,
			}))
		}
		for _, use := range m.EmbeddedTools {
			buf.toolUseLive = true
			b.emitter.Emit(events.NewToolUse(sessionID, events.ToolUseData{
				ToolID:   use.ID,
				ToolName: use.Name,
				Input:    use.Input,
			}))
		}
		// Heuristic permission gate: only while a tool is in play, only
		// when gating is actually on, and never on top of a structured
		// prompt already outstanding.
		if !opts.SkipPermissions && !buf.pendingPermission && buf.toolUseLive &&
			claude.MentionsPermission(m.Content) {
			buf.pendingPermission = true
			buf.permissionRequestID = ""
			buf.permissionTool = ""
			b.emitter.Emit(events.NewPermissionRequired(sessionID, events.PermissionRequiredData{
				Prompt:  m.Text,
				Options: []string{"approve", "deny"},
			}))
		}

	case claude.PermissionRequest:
		buf.pendingPermission = true
		buf.permissionRequestID = m.RequestID
		buf.permissionTool = m.ToolName
		prompt := m.Prompt
		if prompt == "" {
			prompt = fmt.Sprintf("Claude requests permission to use %s", m.ToolName)
		}
		b.emitter.Emit(events.NewPermissionRequired(sessionID, events.PermissionRequiredData{
			Prompt:    prompt,
			ToolName:  m.ToolName,
			RequestID: m.RequestID,
			Options:   []string{"approve", "deny"},
		}))
		b.emitter.Emit(events.NewAssistantMessage(sessionID, events.AssistantMessageData{
			Content:  prompt,
			ToolName: m.ToolName,
		}))

	case claude.ToolUse:
		buf.toolUseLive = true
		b.emitter.Emit(events.NewToolUse(sessionID, events.ToolUseData{
			ToolID:   m.ID,
			ToolName: m.Name,
			Input:    m.Input,
		}))
		b.emitter.Emit(events.NewAssistantMessage(sessionID, events.AssistantMessageData{
			Content:  fmt.Sprintf("Using tool: %s", m.Name),
			ToolName: m.Name,
		}))

	case claude.ToolResult:
		b.emitter.Emit(events.NewToolResult(sessionID, events.ToolResultData{
			ToolID:  m.ToolUseID,
			Content: flattenContent(m.Content),
			IsError: m.IsError,
		}))

	case claude.FinalResult:
		if buf.pendingPermission {
			f := m
			buf.stashed = &f
			buf.pendingFinalResponse = true
			return Handled{Stashed: true}
		}
		f := m
		b.emitFinalLocked(buf, &f)
		return Handled{Emitted: &f}

	case claude.Unknown:
		if m.Type != "" {
			log.Printf("buffer: %s: passing through unhandled record type %q", sessionID, m.Type)
		}
	}
	return Handled{}
}

// emitFinalLocked emits the turn's conversationResult and clears the
// buffer. At most one terminal event goes out per turn.
func (b *Buffers) emitFinalLocked(buf *buffer, final *claude.FinalResult) {
	if buf.terminalEmitted {
		log.Printf("buffer: %s: suppressing duplicate terminal emission", buf.sessionID)
		buf.clear()
		return
	}
	buf.terminalEmitted = true
	data := events.ConversationResultData{
		Success:         final.Success,
		Result:          final.Result,
		ClaudeSessionID: final.SessionID,
		DurationMS:      final.DurationMS,
		CostUSD:         final.Cost,
		NumTurns:        final.NumTurns,
	}
	if !final.Success {
		data.Error = strings.Join(final.Errors, "; ")
	}
	b.emitter.Emit(events.NewConversationResult(buf.sessionID, data))
	buf.clear()
}

// approvals is the accepted permission-response vocabulary. Anything else
// is not a permission response.
var approvals = map[string]bool{
	"approve": true,
	"y":       true,
	"yes":     true,
	"deny":    false,
}

// ResolvePermission applies an inbound permission response to the
// session's pending prompt. The response must be one of approve, deny, y
// or yes (case-insensitive, trimmed); anything else, or a response with no
// prompt pending, returns ErrNotPermissionResponse.
func (b *Buffers) ResolvePermission(sessionID, response string) (Resolution, error) {
	norm := strings.ToLower(strings.TrimSpace(response))
	approved, known := approvals[norm]
	if !known {
		return Resolution{}, ErrNotPermissionResponse
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	buf, ok := b.bufs[sessionID]
	if !ok || !buf.pendingPermission {
		return Resolution{}, ErrNotPermissionResponse
	}

	res := Resolution{
		Approved:          approved,
		RequestID:         buf.permissionRequestID,
		NeedsProcessWrite: !buf.pendingFinalResponse,
	}

	if approved {
		if buf.pendingFinalResponse {
			// Process already finished; release the stashed result
			// exactly as it arrived.
			released := buf.stashed
			b.emitFinalLocked(buf, released)
			res.Released = released
			return res, nil
		}
		// Process is blocked on stdin; clear the gate and let its own
		// final result flow through normally.
		buf.pendingPermission = false
		buf.permissionRequestID = ""
		buf.permissionTool = ""
		return res, nil
	}

	// Denial discards any stashed result.
	buf.terminalEmitted = true
	b.emitter.Emit(events.NewPermissionDenied(sessionID, events.PermissionDeniedData{
		Reason: "denied by user",
	}))
	buf.clear()
	return res, nil
}

// flattenContent renders tool result content for the event stream: plain
// strings are unquoted, anything structured passes through as JSON.
func flattenContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
