// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package claude

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

const (
	// scanBufferSize bounds a single stream-json line. Assistant messages
	// with large tool results can run long.
	scanBufferSize = 1024 * 1024

	// maxStderrLines bounds the captured stderr tail.
	maxStderrLines = 64

	// killGrace is how long a terminated process gets to exit before
	// SIGKILL.
	killGrace = 1 * time.Second

	defaultVersionTimeout = 5 * time.Second
)

// sessionExpiredMarker is the CLI's error text when --resume names a
// conversation it no longer has.
const sessionExpiredMarker = "No conversation found with session ID"

var rateLimitMarkers = []string{
	"rate limit",
	"rate_limit",
	"429",
	"usage limit reached",
	"overloaded",
}

// Outcome classifies a turn that did not fail.
type Outcome int

const (
	// OutcomeCompleted is a normal turn with a final result record.
	OutcomeCompleted Outcome = iota
	// OutcomeAutoSessionCreated means a resume attempt failed but the CLI
	// auto-created a fresh conversation: an init record with a new id
	// appeared inside the error path. Treated as success with the new id.
	OutcomeAutoSessionCreated
	// OutcomeBenignTimeout means the process was terminated with a
	// configured benign exit code after producing at least one record.
	OutcomeBenignTimeout
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeAutoSessionCreated:
		return "auto_session_created"
	case OutcomeBenignTimeout:
		return "benign_timeout"
	}
	return "unknown"
}

// ErrKind classifies execution failures for the retry layer.
type ErrKind int

const (
	// ErrSpawn means the process never started.
	ErrSpawn ErrKind = iota
	// ErrRateLimited is transient; callers retry with backoff.
	ErrRateLimited
	// ErrSessionExpired means the resumed conversation no longer exists;
	// callers clean up and start fresh.
	ErrSessionExpired
	// ErrExit is any other process failure.
	ErrExit
)

// ExecError is a failed execution with enough context to decide whether
// and how to retry.
type ExecError struct {
	Kind     ErrKind
	ExitCode int
	Stderr   string
	Message  string
	Err      error
}

func (e *ExecError) Error() string {
	switch e.Kind {
	case ErrSpawn:
		return fmt.Sprintf("spawn claude: %v", e.Err)
	case ErrRateLimited:
		return fmt.Sprintf("claude rate limited: %s", e.detail())
	case ErrSessionExpired:
		return fmt.Sprintf("claude session expired: %s", e.detail())
	default:
		return fmt.Sprintf("claude exited with code %d: %s", e.ExitCode, e.detail())
	}
}

func (e *ExecError) Unwrap() error { return e.Err }

func (e *ExecError) detail() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Stderr != "" {
		return e.Stderr
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "no detail"
}

// KindOf returns the ExecError kind, or ErrExit if err is not an ExecError.
func KindOf(err error) ErrKind {
	var ee *ExecError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return ErrExit
}

// IsRateLimited reports whether err is a rate-limit execution error.
func IsRateLimited(err error) bool {
	var ee *ExecError
	return errors.As(err, &ee) && ee.Kind == ErrRateLimited
}

// IsSessionExpired reports whether err is a session-expired execution error.
func IsSessionExpired(err error) bool {
	var ee *ExecError
	return errors.As(err, &ee) && ee.Kind == ErrSessionExpired
}

// ExecRequest is one turn of work for the runner. The callbacks are invoked
// from the runner's goroutines; they must not block for long.
type ExecRequest struct {
	Spec CommandSpec
	// OnRecord receives each classified stream record in order.
	OnRecord func(Message)
	// OnProcess receives the live process handle once, after spawn, so
	// the caller can write permission responses or kill the process.
	OnProcess func(*ProcessHandle)
	// OnStderr receives each stderr line.
	OnStderr func(string)
}

// ExecResult is a turn that did not fail.
type ExecResult struct {
	Outcome Outcome
	// Final is the terminal result record, nil for benign timeouts and
	// auto-created sessions that produced none.
	Final *FinalResult
	// ClaudeSessionID is the session id from the first init record,
	// empty if the process never announced one.
	ClaudeSessionID string
	RecordCount     int
	ExitCode        int
	Stderr          string
}

// Runner executes CLI turns.
type Runner struct {
	binary          string
	benignExitCodes map[int]bool
	versionTimeout  time.Duration
}

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	Binary          string
	BenignExitCodes []int
	VersionTimeout  time.Duration
}

func NewRunner(cfg RunnerConfig) *Runner {
	benign := make(map[int]bool, len(cfg.BenignExitCodes))
	for _, code := range cfg.BenignExitCodes {
		benign[code] = true
	}
	vt := cfg.VersionTimeout
	if vt <= 0 {
		vt = defaultVersionTimeout
	}
	return &Runner{
		binary:          cfg.Binary,
		benignExitCodes: benign,
		versionTimeout:  vt,
	}
}

// Execute runs one turn to completion. On success the returned ExecResult
// carries the outcome classification; on failure the error is an *ExecError
// whose kind tells the caller whether to retry, restart fresh, or give up.
func (r *Runner) Execute(ctx context.Context, req ExecRequest) (*ExecResult, error) {
	args := BuildArgs(req.Spec)

	cmd := exec.Command(r.binary, args...)
	cmd.Dir = req.Spec.WorkingDir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &ExecError{Kind: ErrSpawn, Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &ExecError{Kind: ErrSpawn, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &ExecError{Kind: ErrSpawn, Err: err}
	}

	if err := cmd.Start(); err != nil {
		return nil, &ExecError{Kind: ErrSpawn, Err: err}
	}

	handle := &ProcessHandle{cmd: cmd, stdin: stdin}
	if req.OnProcess != nil {
		req.OnProcess(handle)
	}

	// Escalating stop when the context is canceled mid-turn.
	watchDone := make(chan struct{})
	var watchWG sync.WaitGroup
	watchWG.Add(1)
	go func() {
		defer watchWG.Done()
		select {
		case <-ctx.Done():
			handle.Terminate()
			select {
			case <-time.After(killGrace):
				handle.Kill()
			case <-watchDone:
			}
		case <-watchDone:
		}
	}()

	tail := newStderrTail(maxStderrLines)
	var stderrWG sync.WaitGroup
	stderrWG.Add(1)
	go func() {
		defer stderrWG.Done()
		sc := bufio.NewScanner(stderr)
		sc.Buffer(make([]byte, 0, 64*1024), scanBufferSize)
		for sc.Scan() {
			line := sc.Text()
			tail.Add(line)
			if req.OnStderr != nil {
				req.OnStderr(line)
			}
		}
	}()

	var (
		claudeSessionID string
		final           *FinalResult
		records         int
	)
	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 0, 64*1024), scanBufferSize)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		msg := Classify(line)
		switch m := msg.(type) {
		case SystemInit:
			if claudeSessionID == "" {
				claudeSessionID = m.SessionID
			}
			records++
		case FinalResult:
			f := m
			final = &f
			records++
		case Unknown:
			if m.Type != "" {
				records++
			} else {
				log.Printf("claude: unparseable stream line (%d bytes)", len(m.Raw))
			}
		default:
			records++
		}
		if req.OnRecord != nil {
			req.OnRecord(msg)
		}
	}
	if err := sc.Err(); err != nil {
		log.Printf("claude: stdout read: %v", err)
	}

	stderrWG.Wait()
	waitErr := cmd.Wait()
	close(watchDone)
	watchWG.Wait()
	handle.markExited()

	exitCode := 0
	if waitErr != nil {
		if ee, ok := waitErr.(*exec.ExitError); ok {
			exitCode = ee.ExitCode()
		}
	}

	return r.evaluate(req.Spec, waitErr, exitCode, tail.String(), claudeSessionID, final, records)
}

// evaluate maps raw process outcome to the runner's result classification.
func (r *Runner) evaluate(spec CommandSpec, waitErr error, exitCode int, stderrTail, claudeSessionID string, final *FinalResult, records int) (*ExecResult, error) {
	haystack := strings.ToLower(stderrTail)
	if final != nil {
		haystack += "\n" + strings.ToLower(final.Result)
		haystack += "\n" + strings.ToLower(strings.Join(final.Errors, "\n"))
	}

	if strings.Contains(haystack, strings.ToLower(sessionExpiredMarker)) {
		return nil, &ExecError{
			Kind:     ErrSessionExpired,
			ExitCode: exitCode,
			Stderr:   stderrTail,
			Message:  fmt.Sprintf("%s %s", sessionExpiredMarker, spec.ResumeID),
			Err:      waitErr,
		}
	}

	// A failed resume where the CLI created a fresh conversation anyway:
	// the init record carries an id different from the one we asked for.
	autoCreated := spec.ResumeID != "" && claudeSessionID != "" && claudeSessionID != spec.ResumeID
	errorPath := waitErr != nil || (final != nil && !final.Success)
	if errorPath && autoCreated {
		return &ExecResult{
			Outcome:         OutcomeAutoSessionCreated,
			Final:           final,
			ClaudeSessionID: claudeSessionID,
			RecordCount:     records,
			ExitCode:        exitCode,
			Stderr:          stderrTail,
		}, nil
	}

	if errorPath && containsAny(haystack, rateLimitMarkers) {
		return nil, &ExecError{
			Kind:     ErrRateLimited,
			ExitCode: exitCode,
			Stderr:   stderrTail,
			Message:  firstNonEmpty(resultText(final), stderrTail),
			Err:      waitErr,
		}
	}

	if waitErr == nil {
		if final == nil {
			return nil, &ExecError{
				Kind:    ErrExit,
				Stderr:  stderrTail,
				Message: "process exited without a result record",
			}
		}
		if !final.Success {
			return nil, &ExecError{
				Kind:     ErrExit,
				ExitCode: exitCode,
				Stderr:   stderrTail,
				Message:  firstNonEmpty(resultText(final), "result record reported an error"),
			}
		}
		return &ExecResult{
			Outcome:         OutcomeCompleted,
			Final:           final,
			ClaudeSessionID: claudeSessionID,
			RecordCount:     records,
			ExitCode:        exitCode,
			Stderr:          stderrTail,
		}, nil
	}

	// Non-zero exit. A benign code (SIGTERM from a timeout kill) after
	// real output is a truncated-but-usable turn, not a failure.
	if r.benignExitCodes[exitCode] {
		if final != nil && final.Success {
			return &ExecResult{
				Outcome:         OutcomeCompleted,
				Final:           final,
				ClaudeSessionID: claudeSessionID,
				RecordCount:     records,
				ExitCode:        exitCode,
				Stderr:          stderrTail,
			}, nil
		}
		if records > 0 {
			return &ExecResult{
				Outcome:         OutcomeBenignTimeout,
				Final:           final,
				ClaudeSessionID: claudeSessionID,
				RecordCount:     records,
				ExitCode:        exitCode,
				Stderr:          stderrTail,
			}, nil
		}
	}

	return nil, &ExecError{
		Kind:     ErrExit,
		ExitCode: exitCode,
		Stderr:   stderrTail,
		Message:  resultText(final),
		Err:      waitErr,
	}
}

// Version runs the binary with --version as an availability probe.
func (r *Runner) Version(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.versionTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, r.binary, "--version").Output()
	if err != nil {
		return "", fmt.Errorf("probe %s: %w", r.binary, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Binary returns the configured binary path.
func (r *Runner) Binary() string { return r.binary }

// ProcessHandle lets the session layer talk to a live turn: write
// permission responses to stdin and stop the process group.
type ProcessHandle struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser

	mu     sync.Mutex
	exited bool
}

// PID returns the process id, or 0 before spawn.
func (h *ProcessHandle) PID() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

func (h *ProcessHandle) markExited() {
	h.mu.Lock()
	h.exited = true
	h.mu.Unlock()
}

// WriteLine writes one line to the process's stdin. Used for plain-text
// permission acknowledgements.
func (h *ProcessHandle) WriteLine(line string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.exited {
		return fmt.Errorf("process already exited")
	}
	_, err := io.WriteString(h.stdin, line+"\n")
	return err
}

// controlResponse is the structured stdin reply to a control_request.
type controlResponse struct {
	Type     string               `json:"type"`
	Response controlResponseInner `json:"response"`
}

type controlResponseInner struct {
	Subtype   string             `json:"subtype"`
	RequestID string             `json:"request_id"`
	Response  permissionBehavior `json:"response"`
}

type permissionBehavior struct {
	Behavior string `json:"behavior"`
	Message  string `json:"message,omitempty"`
}

// Approve answers a control_request affirmatively.
func (h *ProcessHandle) Approve(requestID string) error {
	return h.writeControlResponse(requestID, "allow", "")
}

// Deny answers a control_request negatively.
func (h *ProcessHandle) Deny(requestID, reason string) error {
	return h.writeControlResponse(requestID, "deny", reason)
}

func (h *ProcessHandle) writeControlResponse(requestID, behavior, msg string) error {
	resp := controlResponse{
		Type: "control_response",
		Response: controlResponseInner{
			Subtype:   "success",
			RequestID: requestID,
			Response:  permissionBehavior{Behavior: behavior, Message: msg},
		},
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return h.WriteLine(string(data))
}

// Terminate sends SIGTERM to the whole process group.
func (h *ProcessHandle) Terminate() { h.signalGroup(syscall.SIGTERM) }

// Kill sends SIGKILL to the whole process group.
func (h *ProcessHandle) Kill() { h.signalGroup(syscall.SIGKILL) }

func (h *ProcessHandle) signalGroup(sig syscall.Signal) {
	h.mu.Lock()
	exited := h.exited
	h.mu.Unlock()
	if exited || h.cmd.Process == nil {
		return
	}
	pid := h.cmd.Process.Pid
	// Negative pid targets the group so CLI children go down too.
	if err := syscall.Kill(-pid, sig); err != nil {
		if err := syscall.Kill(pid, sig); err != nil {
			log.Printf("claude: signal pid %d with %v: %v", pid, sig, err)
		}
	}
}

// stderrTail keeps the last lines of stderr for error reporting.
type stderrTail struct {
	mu    sync.Mutex
	lines []string
	max   int
}

func newStderrTail(max int) *stderrTail {
	return &stderrTail{max: max}
}

func (t *stderrTail) Add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > t.max {
		t.lines = t.lines[len(t.lines)-t.max:]
	}
}

func (t *stderrTail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, "\n")
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func resultText(final *FinalResult) string {
	if final == nil {
		return ""
	}
	if final.Result != "" {
		return final.Result
	}
	return strings.Join(final.Errors, "; ")
}
