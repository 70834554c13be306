// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/dock108/aicli-companion-sub014/internal/attach"
	"github.com/dock108/aicli-companion-sub014/internal/claude"
	"github.com/dock108/aicli-companion-sub014/internal/events"
)

var (
	// ErrPermissionPending rejects a new turn while a prior turn's final
	// result is still gated behind an unresolved permission prompt.
	ErrPermissionPending = errors.New("a permission decision is pending for this session")
	// ErrCancelled reports a turn stopped by an explicit kill.
	ErrCancelled = errors.New("session cancelled")
)

// timeoutHint is returned for turns cut off by the CLI's own duration
// limit. The conversation remains resumable.
const timeoutHint = "Response interrupted by a timeout. Send another message to continue the conversation."

// Executor runs one CLI turn. *claude.Runner satisfies it.
type Executor interface {
	Execute(ctx context.Context, req claude.ExecRequest) (*claude.ExecResult, error)
}

// RetryPolicy bounds the in-turn retry loop.
type RetryPolicy struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BackoffBase <= 0 {
		p.BackoffBase = time.Second
	}
	if p.BackoffCap <= 0 {
		p.BackoffCap = 5 * time.Second
	}
	return p
}

// Backoff returns the delay after the attempt'th failed attempt: the base
// doubling each time, capped.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.BackoffCap {
			return p.BackoffCap
		}
	}
	if d > p.BackoffCap {
		return p.BackoffCap
	}
	return d
}

// TurnRequest is one inbound prompt.
type TurnRequest struct {
	// SessionID is empty for a new conversation, or any id the client
	// has seen for an existing one.
	SessionID       string
	Prompt          string
	WorkingDir      string
	Attachments     []attach.Attachment
	SkipPermissions bool
}

// TurnResult is the command-level outcome of a turn. The richer record
// stream goes out as events.
type TurnResult struct {
	Success   bool
	SessionID string
	Result    string
	// PermissionPending is set when the final result is being held back
	// behind an unanswered permission prompt; it will be released as a
	// conversationResult event once resolved.
	PermissionPending bool
	Outcome           claude.Outcome
}

// Operations drives turns end to end: session resolution, attachment
// staging, retries with backoff, expiry recovery, and id reconciliation.
type Operations struct {
	mgr       *Manager
	buffers   *Buffers
	emitter   *events.Emitter
	exec      Executor
	stager    *attach.Stager
	policyMu  sync.RWMutex
	policy    claude.PermissionPolicy
	extraArgs []string
	retry     RetryPolicy
}

// OperationsConfig wires an Operations.
type OperationsConfig struct {
	Manager  *Manager
	Buffers  *Buffers
	Emitter  *events.Emitter
	Executor Executor
	Stager   *attach.Stager
	Policy   claude.PermissionPolicy
	// ExtraArgs are appended to every CLI invocation.
	ExtraArgs []string
	Retry     RetryPolicy
}

func NewOperations(cfg OperationsConfig) *Operations {
	return &Operations{
		mgr:       cfg.Manager,
		buffers:   cfg.Buffers,
		emitter:   cfg.Emitter,
		exec:      cfg.Executor,
		stager:    cfg.Stager,
		policy:    cfg.Policy,
		extraArgs: cfg.ExtraArgs,
		retry:     cfg.Retry.normalized(),
	}
}

// SetPolicy replaces the permission policy for subsequent turns. Turns
// already in flight keep the policy they started with.
func (o *Operations) SetPolicy(p claude.PermissionPolicy) {
	o.policyMu.Lock()
	o.policy = p
	o.policyMu.Unlock()
}

// ExecuteTurn runs one prompt against the CLI and returns when the process
// has exited (or permission gating has stashed its final result).
func (o *Operations) ExecuteTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	var info Info
	if req.SessionID != "" && o.mgr.Has(req.SessionID) {
		info, _ = o.mgr.Get(req.SessionID)
	} else {
		info = o.mgr.Create(req.SessionID, req.WorkingDir)
	}
	canonical := info.ID

	if o.buffers.PendingFinalResponse(canonical) {
		return nil, ErrPermissionPending
	}

	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := o.mgr.BeginTurn(canonical, cancel); err != nil {
		return nil, err
	}
	defer o.mgr.EndTurn(canonical)

	staged, err := o.stager.Stage(req.Attachments)
	if err != nil {
		return nil, fmt.Errorf("stage attachments: %w", err)
	}
	defer staged.Cleanup()
	prompt := staged.BuildPrompt(req.Prompt)

	o.buffers.StartTurn(canonical)
	res, execErr := o.executeWithRetry(turnCtx, canonical, prompt, info.WorkingDir, info.ClaudeID, req.SkipPermissions)

	if execErr != nil && claude.IsSessionExpired(execErr) && info.ClaudeID != "" {
		return o.recoverExpired(ctx, req, info)
	}
	return o.finishTurn(canonical, res, execErr)
}

// recoverExpired restarts an expired conversation from scratch: the dead
// session is cleaned up, the turn reruns as fresh with a new attempt
// budget, and both the stale and new ids route to the new session.
func (o *Operations) recoverExpired(ctx context.Context, req TurnRequest, stale Info) (*TurnResult, error) {
	staleIDs := []string{stale.ID}
	if stale.ClaudeID != "" && stale.ClaudeID != stale.ID {
		staleIDs = append(staleIDs, stale.ClaudeID)
	}
	if req.SessionID != "" && req.SessionID != stale.ID {
		staleIDs = append(staleIDs, req.SessionID)
	}
	log.Printf("session: %s expired on the CLI side, restarting fresh", stale.ID)
	o.CleanupDeadSession(stale.ID)

	fresh := o.mgr.Create("", stale.WorkingDir)
	canonical := fresh.ID

	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := o.mgr.BeginTurn(canonical, cancel); err != nil {
		return nil, err
	}
	defer o.mgr.EndTurn(canonical)

	staged, err := o.stager.Stage(req.Attachments)
	if err != nil {
		return nil, fmt.Errorf("stage attachments: %w", err)
	}
	defer staged.Cleanup()
	prompt := staged.BuildPrompt(req.Prompt)

	o.buffers.StartTurn(canonical)
	res, execErr := o.executeWithRetry(turnCtx, canonical, prompt, stale.WorkingDir, "", req.SkipPermissions)
	result, err := o.finishTurn(canonical, res, execErr)
	if err != nil {
		return nil, err
	}

	// The client may keep sending the ids it knew. All of them land on
	// the new session.
	for _, id := range staleIDs {
		if err := o.mgr.Alias(result.SessionID, id); err != nil {
			log.Printf("session: alias %s -> %s: %v", id, result.SessionID, err)
		}
	}
	return result, nil
}

// finishTurn converts the runner outcome into the command-level result and
// performs the per-outcome bookkeeping.
func (o *Operations) finishTurn(canonical string, res *claude.ExecResult, execErr error) (*TurnResult, error) {
	current := canonical
	if id, ok := o.mgr.CanonicalID(canonical); ok {
		current = id
	}

	if execErr != nil {
		if reason, killed := o.mgr.KillReason(current); killed {
			o.emitter.Emit(events.NewSessionCancelled(current, events.SessionCancelledData{Reason: reason}))
			o.CleanupDeadSession(current)
			return nil, fmt.Errorf("%w: %s", ErrCancelled, reason)
		}
		if claude.KindOf(execErr) != claude.ErrRateLimited {
			// Spawn and exit failures leave a dead process behind;
			// rate-limit exhaustion leaves the conversation intact.
			o.CleanupDeadSession(current)
		}
		return nil, execErr
	}

	result := &TurnResult{
		Success:   true,
		SessionID: current,
		Outcome:   res.Outcome,
	}

	switch res.Outcome {
	case claude.OutcomeCompleted:
		if res.Final != nil {
			result.Result = res.Final.Result
		}
	case claude.OutcomeAutoSessionCreated:
		if res.Final != nil && res.Final.Success {
			result.Result = res.Final.Result
		} else {
			result.Result = "A new session was created."
		}
	case claude.OutcomeBenignTimeout:
		// The stream ended without a final record; synthesize one so the
		// turn still terminates with exactly one conversationResult.
		synthesized := claude.FinalResult{
			SessionID: res.ClaudeSessionID,
			Success:   true,
			Result:    timeoutHint,
		}
		o.buffers.Handle(current, synthesized, HandleOptions{})
		result.Result = timeoutHint
	}

	if o.buffers.PendingFinalResponse(current) {
		result.PermissionPending = true
		result.Result = ""
	}
	return result, nil
}

// executeWithRetry runs the runner with the bounded retry loop: transient
// rate limiting backs off and retries, everything else propagates.
func (o *Operations) executeWithRetry(ctx context.Context, canonical, prompt, workDir, resumeID string, skipPermissions bool) (*claude.ExecResult, error) {
	o.policyMu.RLock()
	policy := o.policy
	o.policyMu.RUnlock()
	if skipPermissions {
		policy.SkipPermissions = true
	}
	if tools := o.mgr.RememberedTools(canonical); len(tools) > 0 {
		policy.AllowedTools = append(append([]string(nil), policy.AllowedTools...), tools...)
	}
	spec := claude.CommandSpec{
		Prompt:     prompt,
		WorkingDir: workDir,
		ResumeID:   resumeID,
		Policy:     policy,
		ExtraArgs:  o.extraArgs,
	}

	var lastErr error
	for attempt := 1; attempt <= o.retry.MaxAttempts; attempt++ {
		res, err := o.runOnce(ctx, canonical, spec)
		if err == nil {
			return res, nil
		}
		lastErr = err

		if claude.IsRateLimited(err) && attempt < o.retry.MaxAttempts {
			delay := o.retry.Backoff(attempt)
			log.Printf("session: %s rate limited (attempt %d/%d), backing off %s",
				canonical, attempt, o.retry.MaxAttempts, delay)
			if serr := sleepCtx(ctx, delay); serr != nil {
				return nil, serr
			}
			continue
		}
		return nil, err
	}
	return nil, lastErr
}

// runOnce performs a single process execution, routing stream records into
// the buffer state machine and reconciling the CLI-assigned session id.
func (o *Operations) runOnce(ctx context.Context, canonical string, spec claude.CommandSpec) (*claude.ExecResult, error) {
	var mu sync.Mutex
	current := canonical
	getID := func() string {
		mu.Lock()
		defer mu.Unlock()
		return current
	}

	req := claude.ExecRequest{
		Spec: spec,
		OnProcess: func(h *claude.ProcessHandle) {
			o.mgr.SetProcess(getID(), h)
			o.emitter.Emit(events.NewProcessStart(getID(), events.ProcessStartData{PID: h.PID()}))
		},
		OnStderr: func(line string) {
			o.emitter.Emit(events.NewProcessStderr(getID(), events.ProcessStderrData{Line: line}))
		},
		OnRecord: func(msg claude.Message) {
			id := getID()
			if init, ok := msg.(claude.SystemInit); ok && init.SessionID != "" && init.SessionID != id {
				// The CLI self-assigned an external id: route the rest of
				// the turn (and everything after) under it.
				if err := o.mgr.MapClaudeSession(id, init.SessionID); err != nil {
					log.Printf("session: map %s -> %s: %v", id, init.SessionID, err)
				} else {
					o.buffers.Rekey(id, init.SessionID)
					mu.Lock()
					current = init.SessionID
					mu.Unlock()
					id = init.SessionID
				}
			}
			o.mgr.Touch(id)
			o.buffers.Handle(id, msg, HandleOptions{SkipPermissions: spec.Policy.SkipPermissions})
		},
	}

	res, err := o.exec.Execute(ctx, req)

	exit := events.ProcessExitData{}
	if err != nil {
		var ee *claude.ExecError
		if errors.As(err, &ee) {
			exit.Code = ee.ExitCode
			exit.Stderr = ee.Stderr
		}
	} else {
		exit.Code = res.ExitCode
		exit.Stderr = res.Stderr
		exit.Benign = res.Outcome == claude.OutcomeBenignTimeout
	}
	o.emitter.Emit(events.NewProcessExit(getID(), exit))
	return res, err
}

// HandlePermissionResponse applies an inbound permission decision. When
// the CLI is blocked waiting on stdin, the decision is forwarded to the
// process; when the final result was stashed, approval releases it.
// ErrNotPermissionResponse means the text should be treated as a new
// prompt instead.
func (o *Operations) HandlePermissionResponse(sessionID, response string, remember bool) error {
	canonical := sessionID
	if id, ok := o.mgr.CanonicalID(sessionID); ok {
		canonical = id
	}

	tool := o.buffers.PendingTool(canonical)
	res, err := o.buffers.ResolvePermission(canonical, response)
	if err != nil {
		return err
	}
	o.mgr.Touch(canonical)

	if remember && res.Approved && tool != "" {
		o.mgr.RememberTool(canonical, tool)
	}

	if res.NeedsProcessWrite {
		proc, ok := o.mgr.Process(canonical)
		if !ok {
			log.Printf("session: %s: no live process for permission response", canonical)
			return nil
		}
		var werr error
		switch {
		case res.RequestID != "" && res.Approved:
			werr = proc.Approve(res.RequestID)
		case res.RequestID != "":
			werr = proc.Deny(res.RequestID, "denied by user")
		case res.Approved:
			werr = proc.WriteLine("y")
		default:
			werr = proc.WriteLine("n")
		}
		if werr != nil {
			// The process can exit between the state check and the
			// write; the stashed-final path covers the result.
			log.Printf("session: %s: write permission response: %v", canonical, werr)
		}
	}
	return nil
}

// KillSession stops a session immediately: a running turn is cancelled and
// reported as such by its own error path; an idle session is torn down here.
func (o *Operations) KillSession(sessionID, reason string) error {
	canonical, ok := o.mgr.CanonicalID(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	if reason == "" {
		reason = "killed by request"
	}
	info, _ := o.mgr.Get(canonical)
	if info.Executing {
		return o.mgr.Kill(canonical, reason)
	}
	o.emitter.Emit(events.NewSessionCancelled(canonical, events.SessionCancelledData{Reason: reason}))
	o.CleanupDeadSession(canonical)
	return nil
}

// CleanupDeadSession removes the registry entry and buffer state for a
// session whose process is gone.
func (o *Operations) CleanupDeadSession(sessionID string) {
	canonical := sessionID
	if id, ok := o.mgr.CanonicalID(sessionID); ok {
		canonical = id
	}
	o.mgr.Remove(canonical)
	o.buffers.Drop(canonical)
}

// PerformStartupCleanup clears any state left over from a previous run:
// the registry starts empty and stale staged attachments are swept.
func (o *Operations) PerformStartupCleanup() {
	if n := o.mgr.Clear(); n > 0 {
		log.Printf("session: cleared %d stale sessions at startup", n)
	}
	if o.stager != nil {
		if n := o.stager.SweepStale(0); n > 0 {
			log.Printf("session: swept %d stale attachment files", n)
		}
	}
}

// Shutdown waits for running turns to drain, then tears everything down.
// The context bounds the drain; on expiry remaining turns are cancelled.
func (o *Operations) Shutdown(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for o.mgr.ExecutingCount() > 0 {
		select {
		case <-ctx.Done():
			n := o.mgr.Clear()
			log.Printf("session: shutdown drain expired, cancelled %d sessions", n)
			return ctx.Err()
		case <-ticker.C:
		}
	}
	o.mgr.Clear()
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
