// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dock108/aicli-companion-sub014/internal/aicli"
	"github.com/dock108/aicli-companion-sub014/internal/api"
	"github.com/dock108/aicli-companion-sub014/internal/config"
)

// stubTimeout bounds every blocking wait in this package.
const stubTimeout = 10 * time.Second

// happyStub speaks one complete turn of the stream protocol and exits.
// The --version branch serves availability probes.
const happyStub = `#!/bin/sh
if [ "$1" = "--version" ]; then
  echo "1.0.24 (stub)"
  exit 0
fi
echo '{"type":"system","subtype":"init","session_id":"stub-session-1","model":"stub-model","cwd":"/tmp","tools":["Bash","Read"]}'
echo '{"type":"assistant","session_id":"stub-session-1","message":{"content":[{"type":"text","text":"hello from the stub"}]}}'
echo '{"type":"result","session_id":"stub-session-1","result":"hello from the stub","is_error":false,"duration_ms":5,"num_turns":1}'
`

// permStub raises a tool permission request and blocks on stdin until a
// control response arrives, succeeding on allow and failing otherwise.
const permStub = `#!/bin/sh
if [ "$1" = "--version" ]; then
  echo "1.0.24 (stub)"
  exit 0
fi
echo '{"type":"system","subtype":"init","session_id":"perm-session-1","model":"stub-model","cwd":"/tmp","tools":["Bash"]}'
echo '{"type":"control_request","session_id":"perm-session-1","request_id":"req-1","request":{"subtype":"can_use_tool","tool_name":"Bash","message":"Bash wants to run ls"}}'
read line
case "$line" in
*allow*)
  echo '{"type":"assistant","session_id":"perm-session-1","message":{"content":[{"type":"text","text":"command ran"}]}}'
  echo '{"type":"result","session_id":"perm-session-1","result":"command ran","is_error":false,"num_turns":1}'
  ;;
*)
  echo '{"type":"result","session_id":"perm-session-1","result":"denied by user","is_error":true}'
  ;;
esac
`

// TestServerStartup verifies that the API server starts correctly.
func TestServerStartup(t *testing.T) {
	deps, _ := createTestDependencies(t, happyStub)
	server := api.NewServer(api.ServerConfig{Host: "127.0.0.1", Port: 0}, deps)
	require.NotNil(t, server)
	require.NotNil(t, server.Router())
}

// TestCommandRoundTrip submits a prompt and follows the full path: spawn,
// stream parsing, session registration, and the command-level reply.
func TestCommandRoundTrip(t *testing.T) {
	deps, dir := createTestDependencies(t, happyStub)
	server := httptest.NewServer(api.NewRouter(api.ServerConfig{}, deps))
	defer server.Close()

	resp := postJSON(t, server.URL+"/api/v1/command", map[string]string{
		"prompt":           "say hello",
		"workingDirectory": dir,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	env := decodeEnvelope(t, resp)
	require.Nil(t, env.Error)

	var result commandResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.True(t, result.Success)
	// The CLI self-assigns an id; it becomes the client-visible one.
	assert.Equal(t, "stub-session-1", result.SessionID)
	assert.Equal(t, "hello from the stub", result.Result)
	assert.False(t, result.PermissionPending)

	// The session survives the turn for later resumes.
	resp2, err := http.Get(server.URL + "/api/v1/sessions")
	require.NoError(t, err)
	env2 := decodeEnvelope(t, resp2)
	var sessions []sessionInfo
	require.NoError(t, json.Unmarshal(env2.Data, &sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, "stub-session-1", sessions[0].ID)
	assert.Equal(t, "stub-session-1", sessions[0].ClaudeID)
	assert.Equal(t, dir, sessions[0].WorkingDirectory)
	assert.False(t, sessions[0].Executing)
}

// TestCommandValidation covers input rejection before any process spawns.
func TestCommandValidation(t *testing.T) {
	deps, dir := createTestDependencies(t, happyStub)
	server := httptest.NewServer(api.NewRouter(api.ServerConfig{}, deps))
	defer server.Close()

	t.Run("missing prompt", func(t *testing.T) {
		resp := postJSON(t, server.URL+"/api/v1/command", map[string]string{
			"workingDirectory": dir,
		})
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		env := decodeEnvelope(t, resp)
		require.NotNil(t, env.Error)
		assert.Equal(t, "VALIDATION_FAILED", env.Error.Code)
		assert.Contains(t, env.Error.Message, "prompt")
	})

	t.Run("missing working directory", func(t *testing.T) {
		resp := postJSON(t, server.URL+"/api/v1/command", map[string]string{
			"prompt": "hi",
		})
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		env := decodeEnvelope(t, resp)
		require.NotNil(t, env.Error)
		assert.Equal(t, "VALIDATION_FAILED", env.Error.Code)
		assert.Contains(t, env.Error.Message, "workingDirectory")
	})

	t.Run("relative working directory", func(t *testing.T) {
		resp := postJSON(t, server.URL+"/api/v1/command", map[string]string{
			"prompt":           "hi",
			"workingDirectory": "relative/path",
		})
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		env := decodeEnvelope(t, resp)
		require.NotNil(t, env.Error)
		assert.Equal(t, "VALIDATION_FAILED", env.Error.Code)
	})

	t.Run("path traversal flagged", func(t *testing.T) {
		resp := postJSON(t, server.URL+"/api/v1/command", map[string]string{
			"prompt":           "hi",
			"workingDirectory": "/tmp/../etc",
		})
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		env := decodeEnvelope(t, resp)
		require.NotNil(t, env.Error)
		assert.Equal(t, "VALIDATION_FAILED", env.Error.Code)

		// Escape attempts leave an audit trail.
		violations := eventHistory(t, server.URL, "?kinds=securityViolation")
		require.NotEmpty(t, violations)
		var data struct {
			Field string `json:"field"`
			Value string `json:"value"`
		}
		require.NoError(t, json.Unmarshal(violations[0].Data, &data))
		assert.Equal(t, "workingDirectory", data.Field)
		assert.Equal(t, "/tmp/../etc", data.Value)
	})

	t.Run("invalid JSON body", func(t *testing.T) {
		resp, err := http.Post(server.URL+"/api/v1/command", "application/json",
			bytes.NewBufferString("{nope"))
		require.NoError(t, err)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		env := decodeEnvelope(t, resp)
		require.NotNil(t, env.Error)
		assert.Equal(t, "BAD_REQUEST", env.Error.Code)
	})
}

// TestSessionLifecycle walks a session from creation through kill.
func TestSessionLifecycle(t *testing.T) {
	deps, dir := createTestDependencies(t, happyStub)
	server := httptest.NewServer(api.NewRouter(api.ServerConfig{}, deps))
	defer server.Close()

	id := runTurn(t, server.URL, dir)

	// Detail view
	resp, err := http.Get(server.URL + "/api/v1/sessions/" + id)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	env := decodeEnvelope(t, resp)
	var info sessionInfo
	require.NoError(t, json.Unmarshal(env.Data, &info))
	assert.Equal(t, id, info.ID)
	assert.Equal(t, dir, info.WorkingDirectory)

	// Kill with a reason
	req, err := http.NewRequest(http.MethodDelete, server.URL+"/api/v1/sessions/"+id,
		bytes.NewBufferString(`{"reason":"cleanup"}`))
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	env = decodeEnvelope(t, resp)
	var killed struct {
		Killed bool `json:"killed"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &killed))
	assert.True(t, killed.Killed)

	// The kill is visible both in the registry and the event record.
	resp, err = http.Get(server.URL + "/api/v1/sessions/" + id)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	cancelled := eventHistory(t, server.URL, "?kinds=sessionCancelled")
	require.NotEmpty(t, cancelled)
	var data struct {
		Reason string `json:"reason"`
	}
	require.NoError(t, json.Unmarshal(cancelled[0].Data, &data))
	assert.Equal(t, "cleanup", data.Reason)

	resp, err = http.Get(server.URL + "/api/v1/sessions")
	require.NoError(t, err)
	env = decodeEnvelope(t, resp)
	var sessions []sessionInfo
	require.NoError(t, json.Unmarshal(env.Data, &sessions))
	assert.Empty(t, sessions)
}

// TestSessionBackgrounding covers the client lifecycle hints. The flags
// round-trip through the registry and are visible on every session view.
func TestSessionBackgrounding(t *testing.T) {
	deps, dir := createTestDependencies(t, happyStub)
	server := httptest.NewServer(api.NewRouter(api.ServerConfig{}, deps))
	defer server.Close()

	id := runTurn(t, server.URL, dir)

	resp, err := http.Post(server.URL+"/api/v1/sessions/"+id+"/background", "application/json", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	env := decodeEnvelope(t, resp)
	var info sessionInfo
	require.NoError(t, json.Unmarshal(env.Data, &info))
	assert.True(t, info.Backgrounded)

	// The flag shows on the detail view too.
	resp, err = http.Get(server.URL + "/api/v1/sessions/" + id)
	require.NoError(t, err)
	env = decodeEnvelope(t, resp)
	require.NoError(t, json.Unmarshal(env.Data, &info))
	assert.True(t, info.Backgrounded)

	resp, err = http.Post(server.URL+"/api/v1/sessions/"+id+"/foreground", "application/json", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	env = decodeEnvelope(t, resp)
	require.NoError(t, json.Unmarshal(env.Data, &info))
	assert.False(t, info.Backgrounded)

	resp, err = http.Post(server.URL+"/api/v1/sessions/ghost/background", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

// TestEventHistory exercises retention, filtering, and limits.
func TestEventHistory(t *testing.T) {
	deps, dir := createTestDependencies(t, happyStub)
	server := httptest.NewServer(api.NewRouter(api.ServerConfig{}, deps))
	defer server.Close()

	id := runTurn(t, server.URL, dir)

	all := eventHistory(t, server.URL, "")
	require.GreaterOrEqual(t, len(all), 5)

	// A completed turn always ends with the process exit.
	last := eventHistory(t, server.URL, "?limit=1")
	require.Len(t, last, 1)
	assert.Equal(t, "processExit", last[0].Type)

	filtered := eventHistory(t, server.URL, "?kinds=systemInit,assistantMessage")
	require.Len(t, filtered, 2)
	assert.Equal(t, "systemInit", filtered[0].Type)
	assert.Equal(t, "assistantMessage", filtered[1].Type)

	finals := eventHistory(t, server.URL, "?session="+id+"&kinds=conversationResult")
	require.Len(t, finals, 1)
	var data struct {
		Success bool   `json:"success"`
		Result  string `json:"result"`
	}
	require.NoError(t, json.Unmarshal(finals[0].Data, &data))
	assert.True(t, data.Success)
	assert.Equal(t, "hello from the stub", data.Result)

	finals = eventHistory(t, server.URL, "?session=no-such-session&kinds=conversationResult")
	assert.Empty(t, finals)
}

// TestEventStream verifies WebSocket replay plus live delivery.
func TestEventStream(t *testing.T) {
	deps, dir := createTestDependencies(t, happyStub)
	server := httptest.NewServer(api.NewRouter(api.ServerConfig{}, deps))
	defer server.Close()

	id := runTurn(t, server.URL, dir)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") +
		"/api/v1/events/ws?session=" + id + "&kinds=conversationResult"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// A second turn on the same session produces a second terminal event;
	// between replay and the live feed we must see both ids exactly once
	// each, whatever the interleaving.
	resp2 := postJSON(t, server.URL+"/api/v1/command", map[string]string{
		"sessionId": id,
		"prompt":    "again",
	})
	require.Equal(t, http.StatusOK, resp2.StatusCode)
	resp2.Body.Close()

	seen := make(map[string]bool)
	for len(seen) < 2 {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(stubTimeout)))
		var ev eventRecord
		require.NoError(t, conn.ReadJSON(&ev))
		require.Equal(t, "conversationResult", ev.Type)
		require.Equal(t, id, ev.SessionID)
		seen[ev.ID] = true
	}
}

// TestPermissionApproval drives the interactive flow: the process blocks
// on a tool request, a busy session rejects concurrent prompts, and the
// approval unblocks the original command.
func TestPermissionApproval(t *testing.T) {
	deps, dir := createTestDependencies(t, permStub)
	server := httptest.NewServer(api.NewRouter(api.ServerConfig{}, deps))
	defer server.Close()

	done := make(chan turnReply, 1)
	go func() {
		done <- submitTurn(server.URL, map[string]string{
			"sessionId":        "perm-e2e",
			"prompt":           "run the command",
			"workingDirectory": dir,
		})
	}()

	require.Eventually(t, func() bool {
		return countEvents(server.URL, "?kinds=permissionRequired") > 0
	}, stubTimeout, 50*time.Millisecond)

	pending := eventHistory(t, server.URL, "?kinds=permissionRequired")
	require.Len(t, pending, 1)
	assert.Equal(t, "perm-session-1", pending[0].SessionID)
	var permData struct {
		ToolName  string `json:"toolName"`
		RequestID string `json:"requestId"`
	}
	require.NoError(t, json.Unmarshal(pending[0].Data, &permData))
	assert.Equal(t, "Bash", permData.ToolName)
	assert.Equal(t, "req-1", permData.RequestID)

	// The session is executing; a second prompt must be turned away.
	busy := postJSON(t, server.URL+"/api/v1/command", map[string]string{
		"sessionId": "perm-e2e",
		"prompt":    "are you there",
	})
	require.Equal(t, http.StatusConflict, busy.StatusCode)
	busyEnv := decodeEnvelope(t, busy)
	require.NotNil(t, busyEnv.Error)
	assert.Equal(t, "SESSION_BUSY", busyEnv.Error.Code)

	// Approve under the original client id; aliasing routes it.
	perm := postJSON(t, server.URL+"/api/v1/permission", map[string]string{
		"sessionId": "perm-e2e",
		"response":  "approve",
	})
	require.Equal(t, http.StatusOK, perm.StatusCode)
	permEnv := decodeEnvelope(t, perm)
	var delivered struct {
		Delivered bool `json:"delivered"`
	}
	require.NoError(t, json.Unmarshal(permEnv.Data, &delivered))
	assert.True(t, delivered.Delivered)

	select {
	case reply := <-done:
		require.NoError(t, reply.err)
		require.Equal(t, http.StatusOK, reply.status)
		var result commandResult
		require.NoError(t, json.Unmarshal(reply.env.Data, &result))
		assert.True(t, result.Success)
		assert.Equal(t, "perm-session-1", result.SessionID)
		assert.Equal(t, "command ran", result.Result)
	case <-time.After(stubTimeout):
		t.Fatal("command did not return after approval")
	}

	finals := eventHistory(t, server.URL, "?kinds=conversationResult")
	require.Len(t, finals, 1)
}

// TestPermissionDenial verifies that a denial reaches the process and the
// blocked command reports the failure.
func TestPermissionDenial(t *testing.T) {
	deps, dir := createTestDependencies(t, permStub)
	server := httptest.NewServer(api.NewRouter(api.ServerConfig{}, deps))
	defer server.Close()

	done := make(chan turnReply, 1)
	go func() {
		done <- submitTurn(server.URL, map[string]string{
			"prompt":           "run the command",
			"workingDirectory": dir,
		})
	}()

	require.Eventually(t, func() bool {
		return countEvents(server.URL, "?kinds=permissionRequired") > 0
	}, stubTimeout, 50*time.Millisecond)

	perm := postJSON(t, server.URL+"/api/v1/permission", map[string]string{
		"sessionId": "perm-session-1",
		"response":  "deny",
	})
	require.Equal(t, http.StatusOK, perm.StatusCode)
	perm.Body.Close()

	select {
	case reply := <-done:
		require.NoError(t, reply.err)
		require.Equal(t, http.StatusBadGateway, reply.status)
		require.NotNil(t, reply.env.Error)
		assert.Equal(t, "EXECUTION_FAILED", reply.env.Error.Code)
		assert.Contains(t, reply.env.Error.Message, "denied by user")
	case <-time.After(stubTimeout):
		t.Fatal("command did not return after denial")
	}

	denials := eventHistory(t, server.URL, "?kinds=permissionDenied")
	require.Len(t, denials, 1)
}

// TestPermissionReroute verifies that free text sent as a permission
// response runs as the session's next prompt instead.
func TestPermissionReroute(t *testing.T) {
	deps, dir := createTestDependencies(t, happyStub)
	server := httptest.NewServer(api.NewRouter(api.ServerConfig{}, deps))
	defer server.Close()

	id := runTurn(t, server.URL, dir)

	resp := postJSON(t, server.URL+"/api/v1/permission", map[string]string{
		"sessionId": id,
		"response":  "tell me more about that",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	env := decodeEnvelope(t, resp)
	require.Nil(t, env.Error)

	var result commandResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.True(t, result.Success)
	assert.Equal(t, id, result.SessionID)
	assert.Equal(t, "hello from the stub", result.Result)
}

// TestHealthEndpoint checks the unauthenticated health probe.
func TestHealthEndpoint(t *testing.T) {
	deps, _ := createTestDependencies(t, happyStub)
	server := httptest.NewServer(api.NewRouter(api.ServerConfig{}, deps))
	defer server.Close()

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	env := decodeEnvelope(t, resp)
	var status struct {
		Healthy        bool   `json:"healthy"`
		ClaudeVersion  string `json:"claudeVersion"`
		ActiveSessions int    `json:"activeSessions"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &status))
	assert.True(t, status.Healthy)
	assert.Contains(t, status.ClaudeVersion, "1.0.24")
	assert.Zero(t, status.ActiveSessions)
}

// TestAuth verifies bearer-token gating on the API surface.
func TestAuth(t *testing.T) {
	deps, _ := createTestDependencies(t, happyStub)
	server := httptest.NewServer(api.NewRouter(api.ServerConfig{AuthToken: "s3cret"}, deps))
	defer server.Close()

	t.Run("missing token", func(t *testing.T) {
		resp, err := http.Get(server.URL + "/api/v1/sessions")
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("wrong token", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, server.URL+"/api/v1/sessions", nil)
		req.Header.Set("Authorization", "Bearer wrong")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("valid token", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, server.URL+"/api/v1/sessions", nil)
		req.Header.Set("Authorization", "Bearer s3cret")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("health stays open", func(t *testing.T) {
		resp, err := http.Get(server.URL + "/health")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	})
}

// TestCORS tests that CORS headers are set correctly.
func TestCORS(t *testing.T) {
	deps, _ := createTestDependencies(t, happyStub)
	server := httptest.NewServer(api.NewRouter(api.ServerConfig{}, deps))
	defer server.Close()

	req, _ := http.NewRequest(http.MethodGet, server.URL+"/api/v1/sessions", nil)
	req.Header.Set("Origin", "http://localhost:3000")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Access-Control-Allow-Origin"))
	resp.Body.Close()
}

// TestAPIErrorResponses tests that API errors are properly formatted.
func TestAPIErrorResponses(t *testing.T) {
	deps, _ := createTestDependencies(t, happyStub)
	server := httptest.NewServer(api.NewRouter(api.ServerConfig{}, deps))
	defer server.Close()

	// Unknown session, both verbs
	resp, err := http.Get(server.URL + "/api/v1/sessions/nonexistent")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	env := decodeEnvelope(t, resp)
	require.NotNil(t, env.Error)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
	assert.NotEmpty(t, env.Error.Message)

	req, _ := http.NewRequest(http.MethodDelete, server.URL+"/api/v1/sessions/nonexistent", nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	// Unknown event kind
	resp, err = http.Get(server.URL + "/api/v1/events?kinds=bogus")
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	env = decodeEnvelope(t, resp)
	require.NotNil(t, env.Error)
	assert.Equal(t, "BAD_REQUEST", env.Error.Code)
}

// Helper functions

func createTestDependencies(t *testing.T, script string) (api.Dependencies, string) {
	t.Helper()

	tempDir := t.TempDir()

	bin := filepath.Join(tempDir, "claude-stub.sh")
	require.NoError(t, os.WriteFile(bin, []byte(script), 0755))

	attachDir := filepath.Join(tempDir, "attach")
	require.NoError(t, os.MkdirAll(attachDir, 0755))

	cfg := config.Default()
	cfg.Claude.Binary = bin
	cfg.Attachments.TempDir = attachDir
	cfg.Health.Interval = "0" // no background sweep during tests

	svc := aicli.NewService(cfg, nil)
	svc.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		svc.Shutdown(ctx)
	})

	return api.Dependencies{Service: svc}, tempDir
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type commandResult struct {
	Success           bool   `json:"success"`
	SessionID         string `json:"sessionId"`
	Result            string `json:"result"`
	PermissionPending bool   `json:"permissionPending"`
}

type sessionInfo struct {
	ID               string `json:"id"`
	ClaudeID         string `json:"claudeId"`
	WorkingDirectory string `json:"workingDirectory"`
	Backgrounded     bool   `json:"backgrounded"`
	Executing        bool   `json:"executing"`
}

type eventRecord struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
}

type turnReply struct {
	status int
	env    envelope
	err    error
}

// submitTurn posts a command and decodes the envelope. Safe to call from a
// goroutine; failures travel back in the reply.
func submitTurn(serverURL string, body map[string]string) turnReply {
	buf, _ := json.Marshal(body)
	resp, err := http.Post(serverURL+"/api/v1/command", "application/json", bytes.NewReader(buf))
	if err != nil {
		return turnReply{err: err}
	}
	defer resp.Body.Close()
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return turnReply{status: resp.StatusCode, err: err}
	}
	return turnReply{status: resp.StatusCode, env: env}
}

// runTurn completes one prompt turn and returns the session id.
func runTurn(t *testing.T, serverURL, dir string) string {
	t.Helper()
	resp := postJSON(t, serverURL+"/api/v1/command", map[string]string{
		"prompt":           "say hello",
		"workingDirectory": dir,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	env := decodeEnvelope(t, resp)
	var result commandResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	require.True(t, result.Success)
	require.NotEmpty(t, result.SessionID)
	return result.SessionID
}

func decodeEnvelope(t *testing.T, resp *http.Response) envelope {
	t.Helper()
	defer resp.Body.Close()
	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return env
}

// eventHistory fetches and decodes /api/v1/events with the given query.
func eventHistory(t *testing.T, serverURL, query string) []eventRecord {
	t.Helper()
	resp, err := http.Get(serverURL + "/api/v1/events" + query)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	env := decodeEnvelope(t, resp)
	var list []eventRecord
	require.NoError(t, json.Unmarshal(env.Data, &list))
	return list
}

// countEvents is the non-failing variant for polling loops.
func countEvents(serverURL, query string) int {
	resp, err := http.Get(serverURL + "/api/v1/events" + query)
	if err != nil {
		return 0
	}
	defer resp.Body.Close()
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return 0
	}
	var list []eventRecord
	if err := json.Unmarshal(env.Data, &list); err != nil {
		return 0
	}
	return len(list)
}

// Utility for creating POST request with JSON body
func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	json.NewEncoder(&buf).Encode(body)
	resp, err := http.Post(url, "application/json", &buf)
	require.NoError(t, err)
	return resp
}

// Benchmark tests

func BenchmarkSessionList(b *testing.B) {
	deps, dir := createBenchDependencies(b)
	server := httptest.NewServer(api.NewRouter(api.ServerConfig{}, deps))
	defer server.Close()

	warmTurn(b, server.URL, dir)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		resp, _ := http.Get(server.URL + "/api/v1/sessions")
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
}

func BenchmarkEventHistory(b *testing.B) {
	deps, dir := createBenchDependencies(b)
	server := httptest.NewServer(api.NewRouter(api.ServerConfig{}, deps))
	defer server.Close()

	warmTurn(b, server.URL, dir)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		resp, _ := http.Get(server.URL + "/api/v1/events")
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
}

func createBenchDependencies(b *testing.B) (api.Dependencies, string) {
	b.Helper()

	tempDir := b.TempDir()

	bin := filepath.Join(tempDir, "claude-stub.sh")
	if err := os.WriteFile(bin, []byte(happyStub), 0755); err != nil {
		b.Fatal(err)
	}

	cfg := config.Default()
	cfg.Claude.Binary = bin
	cfg.Attachments.TempDir = tempDir
	cfg.Health.Interval = "0"

	svc := aicli.NewService(cfg, nil)
	svc.Start()
	b.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		svc.Shutdown(ctx)
	})

	return api.Dependencies{Service: svc}, tempDir
}

// warmTurn runs one turn so the registry and history are non-empty.
func warmTurn(b *testing.B, serverURL, dir string) {
	b.Helper()
	body, _ := json.Marshal(map[string]string{
		"prompt":           "warm the history",
		"workingDirectory": dir,
	})
	resp, err := http.Post(serverURL+"/api/v1/command", "application/json", bytes.NewReader(body))
	if err != nil {
		b.Fatal(err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
