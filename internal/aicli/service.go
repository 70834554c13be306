// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package aicli composes the core layers (session registry and
// operations, CLI runner, response buffering, health monitoring, event
// fan-out) behind one service the transport layer consumes.
package aicli

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/dock108/aicli-companion-sub014/internal/attach"
	"github.com/dock108/aicli-companion-sub014/internal/claude"
	"github.com/dock108/aicli-companion-sub014/internal/config"
	"github.com/dock108/aicli-companion-sub014/internal/events"
	"github.com/dock108/aicli-companion-sub014/internal/health"
	"github.com/dock108/aicli-companion-sub014/internal/session"
	"github.com/dock108/aicli-companion-sub014/internal/validate"
)

// Errors callers branch on. These alias the session package's sentinels so
// transports only import aicli.
var (
	ErrSessionNotFound       = session.ErrSessionNotFound
	ErrTurnInProgress        = session.ErrTurnInProgress
	ErrPermissionPending     = session.ErrPermissionPending
	ErrNotPermissionResponse = session.ErrNotPermissionResponse
)

// Command is one inbound prompt from a client.
type Command struct {
	SessionID        string              `json:"sessionId,omitempty"`
	Prompt           string              `json:"prompt"`
	WorkingDirectory string              `json:"workingDirectory,omitempty"`
	Attachments      []attach.Attachment `json:"attachments,omitempty"`
	SkipPermissions  bool                `json:"skipPermissions,omitempty"`
}

// CommandResult is the command-level reply. The richer record stream goes
// out as events.
type CommandResult struct {
	Success           bool   `json:"success"`
	SessionID         string `json:"sessionId"`
	Result            string `json:"result,omitempty"`
	PermissionPending bool   `json:"permissionPending,omitempty"`
}

// PermissionResponse is an inbound permission decision.
type PermissionResponse struct {
	SessionID string `json:"sessionId"`
	Response  string `json:"response"`
	Remember  bool   `json:"remember,omitempty"`
}

// Notifier receives events that should reach the user even when no client
// is connected; implementations dispatch push notifications. A nil
// notifier disables dispatch.
type Notifier interface {
	Notify(ev events.Event)
}

// Service is the façade over the companion core.
type Service struct {
	cfg      *config.Config
	emitter  *events.Emitter
	mgr      *session.Manager
	runner   *claude.Runner
	ops      *session.Operations
	monitor  *health.Monitor
	safeRoot string

	notifier Notifier
	notifyCh chan events.Event
	notifyWG sync.WaitGroup
}

// NewService wires the core from configuration. notifier may be nil.
func NewService(cfg *config.Config, notifier Notifier) *Service {
	emitter := events.NewEmitter(events.EmitterConfig{
		MaxEvents: cfg.Events.History.MaxEvents,
		MaxAge:    config.ParseDuration(cfg.Events.History.MaxAge, 0),
	})

	mgr := session.NewManager(cfg.SessionTimeout())
	buffers := session.NewBuffers(emitter)

	runner := claude.NewRunner(claude.RunnerConfig{
		Binary:          cfg.Claude.Binary,
		BenignExitCodes: cfg.Claude.BenignExitCodes,
		VersionTimeout:  config.ParseDuration(cfg.Claude.VersionTimeout, 0),
	})

	stager := attach.NewStager(cfg.Attachments.TempDir, cfg.Attachments.MaxSizeBytes, cfg.Attachments.MaxCount)

	ops := session.NewOperations(session.OperationsConfig{
		Manager:  mgr,
		Buffers:  buffers,
		Emitter:  emitter,
		Executor: runner,
		Stager:   stager,
		Policy: claude.PermissionPolicy{
			SkipPermissions: cfg.Permissions.SkipPermissions,
			Mode:            cfg.Permissions.Mode,
			AllowedTools:    cfg.Permissions.AllowedTools,
			DisallowedTools: cfg.Permissions.DisallowedTools,
		},
		ExtraArgs: cfg.Claude.ExtraArgs,
		Retry: session.RetryPolicy{
			MaxAttempts: cfg.Sessions.Retry.MaxAttempts,
			BackoffBase: config.ParseDuration(cfg.Sessions.Retry.BackoffBase, 0),
			BackoffCap:  config.ParseDuration(cfg.Sessions.Retry.BackoffCap, 0),
		},
	})

	monitor := health.NewMonitor(health.MonitorConfig{
		Registry: mgr,
		Cleaner:  ops,
		Emitter:  emitter,
		Prober:   runner,
		Interval: cfg.HealthInterval(),
		Thresholds: health.Thresholds{
			MemoryWarn: cfg.Health.MemoryWarnMB << 20,
			MemoryCrit: cfg.Health.MemoryCriticalMB << 20,
			CPUWarn:    cfg.Health.CPUWarnPercent,
			CPUCrit:    cfg.Health.CPUCriticalPercent,
		},
		Binary: cfg.Claude.Binary,
	})

	s := &Service{
		cfg:      cfg,
		emitter:  emitter,
		mgr:      mgr,
		runner:   runner,
		ops:      ops,
		monitor:  monitor,
		safeRoot: cfg.Claude.SafeRoot,
		notifier: notifier,
	}

	if notifier != nil {
		s.notifyCh = emitter.Subscribe("", events.KindPermissionRequired, events.KindConversationResult)
		s.notifyWG.Add(1)
		go s.dispatchNotifications()
	}
	return s
}

// Start clears state left over from a previous run and launches the
// health sweep.
func (s *Service) Start() {
	s.ops.PerformStartupCleanup()
	s.monitor.Start()
}

// ProcessCommand validates and runs one prompt turn, returning when the
// turn has terminated (or its final result is gated behind a permission
// prompt).
func (s *Service) ProcessCommand(ctx context.Context, cmd Command) (*CommandResult, error) {
	if err := validate.Prompt(cmd.Prompt); err != nil {
		return nil, s.rejected(cmd.SessionID, truncate(cmd.Prompt, 256), err)
	}
	if cmd.SessionID != "" {
		if err := validate.SessionID(cmd.SessionID); err != nil {
			return nil, s.rejected(cmd.SessionID, cmd.SessionID, err)
		}
	}

	// A continuation inherits the session's directory; a fresh
	// conversation must name one.
	workDir := ""
	if cmd.WorkingDirectory != "" {
		cleaned, err := validate.WorkingDirectory(cmd.WorkingDirectory, s.safeRoot)
		if err != nil {
			return nil, s.rejected(cmd.SessionID, cmd.WorkingDirectory, err)
		}
		workDir = cleaned
	} else if cmd.SessionID == "" || !s.mgr.Has(cmd.SessionID) {
		return nil, &validate.Error{Field: "workingDirectory", Reason: "required for a new conversation"}
	}

	res, err := s.ops.ExecuteTurn(ctx, session.TurnRequest{
		SessionID:       cmd.SessionID,
		Prompt:          cmd.Prompt,
		WorkingDir:      workDir,
		Attachments:     cmd.Attachments,
		SkipPermissions: cmd.SkipPermissions,
	})
	if err != nil {
		return nil, err
	}
	return &CommandResult{
		Success:           res.Success,
		SessionID:         res.SessionID,
		Result:            res.Result,
		PermissionPending: res.PermissionPending,
	}, nil
}

// HandlePermissionResponse applies an inbound permission decision.
// ErrNotPermissionResponse tells the caller to resubmit the text as an
// ordinary prompt for the session instead.
func (s *Service) HandlePermissionResponse(resp PermissionResponse) error {
	if err := validate.SessionID(resp.SessionID); err != nil {
		return err
	}
	return s.ops.HandlePermissionResponse(resp.SessionID, resp.Response, resp.Remember)
}

// KillSession stops a session immediately.
func (s *Service) KillSession(sessionID, reason string) error {
	return s.ops.KillSession(sessionID, reason)
}

// MarkBackgrounded records that the client moved the session to the
// background. The session keeps running; the flag only informs routing
// and expiry decisions.
func (s *Service) MarkBackgrounded(sessionID string) error {
	return s.mgr.MarkBackgrounded(sessionID)
}

// MarkForegrounded clears the backgrounded flag and refreshes the
// session's activity clock.
func (s *Service) MarkForegrounded(sessionID string) error {
	return s.mgr.MarkForegrounded(sessionID)
}

// Sessions lists active sessions.
func (s *Service) Sessions() []session.Info {
	return s.mgr.List()
}

// Session returns one session's snapshot.
func (s *Service) Session(id string) (session.Info, bool) {
	return s.mgr.Get(id)
}

// Subscribe registers an event channel. sessionID narrows delivery to one
// session ("" for all); kinds narrows to the given kinds (none for all).
func (s *Service) Subscribe(sessionID string, kinds ...events.Kind) chan events.Event {
	return s.emitter.Subscribe(sessionID, kinds...)
}

// Unsubscribe removes a subscriber and closes its channel.
func (s *Service) Unsubscribe(ch chan events.Event) {
	s.emitter.Unsubscribe(ch)
}

// History returns recorded events for a session (all sessions when "").
func (s *Service) History(sessionID string, kinds ...events.Kind) []events.Event {
	return s.emitter.History(sessionID, kinds...)
}

// HealthCheck returns the on-demand health aggregate.
func (s *Service) HealthCheck(ctx context.Context) health.Status {
	return s.monitor.HealthCheck(ctx)
}

// PerformStartupCleanup clears all sessions and sweeps stale staged files.
func (s *Service) PerformStartupCleanup() {
	s.ops.PerformStartupCleanup()
}

// ApplyConfig applies the live-reloadable subset of a new config:
// permission policy and the session inactivity timeout. Server address,
// binary, and attachment settings require a restart.
func (s *Service) ApplyConfig(cfg *config.Config) {
	s.ops.SetPolicy(claude.PermissionPolicy{
		SkipPermissions: cfg.Permissions.SkipPermissions,
		Mode:            cfg.Permissions.Mode,
		AllowedTools:    cfg.Permissions.AllowedTools,
		DisallowedTools: cfg.Permissions.DisallowedTools,
	})
	s.mgr.SetTimeout(cfg.SessionTimeout())
	log.Printf("aicli: applied config update (mode %s, %d allowed tools)",
		cfg.Permissions.Mode, len(cfg.Permissions.AllowedTools))
}

// Shutdown drains active turns within the context's deadline, then tears
// down the monitor, notification dispatch, and event stream.
func (s *Service) Shutdown(ctx context.Context) error {
	s.monitor.Close()
	err := s.ops.Shutdown(ctx)
	if s.notifyCh != nil {
		s.emitter.Unsubscribe(s.notifyCh)
		s.notifyWG.Wait()
	}
	s.emitter.Close()
	return err
}

func (s *Service) dispatchNotifications() {
	defer s.notifyWG.Done()
	for ev := range s.notifyCh {
		s.notifier.Notify(ev)
	}
}

// rejected reports a validation failure, emitting a securityViolation
// event for inputs that look like escape attempts.
func (s *Service) rejected(sessionID, value string, err error) error {
	var verr *validate.Error
	if validate.IsViolation(err) && errors.As(err, &verr) {
		s.emitter.Emit(events.NewSecurityViolation(sessionID, events.SecurityViolationData{
			Field:  verr.Field,
			Value:  value,
			Reason: verr.Reason,
		}))
		log.Printf("aicli: security violation in %s: %s", verr.Field, verr.Reason)
	}
	return err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
