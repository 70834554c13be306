// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Validator validates configuration against schema rules.
type Validator struct{}

// NewValidator creates a new config validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidationError contains multiple validation failures.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single field validation error.
type FieldError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	var msgs []string
	for _, fe := range e.Errors {
		msgs = append(msgs, fmt.Sprintf("%s: %s", fe.Field, fe.Message))
	}
	return strings.Join(msgs, "; ")
}

// IsEmpty returns true if there are no validation errors.
func (e *ValidationError) IsEmpty() bool {
	return len(e.Errors) == 0
}

// Add adds a field error.
func (e *ValidationError) Add(field, message string) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: message})
}

// Validate checks configuration validity.
func (v *Validator) Validate(cfg *Config) error {
	errs := &ValidationError{}

	v.validateServer(cfg, errs)
	v.validateClaude(cfg, errs)
	v.validatePermissions(cfg, errs)
	v.validateAttachments(cfg, errs)
	v.validateHealth(cfg, errs)
	v.validateDurations(cfg, errs)

	if errs.IsEmpty() {
		return nil
	}
	return errs
}

func (v *Validator) validateServer(cfg *Config, errs *ValidationError) {
	if cfg.Server.Port != 0 {
		if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
			errs.Add("server.port", "must be between 0 and 65535")
		}
	}
}

func (v *Validator) validateClaude(cfg *Config, errs *ValidationError) {
	if cfg.Claude.Binary == "" {
		errs.Add("claude.binary", "is required")
	}
	if cfg.Claude.SafeRoot != "" && !filepath.IsAbs(cfg.Claude.SafeRoot) {
		errs.Add("claude.safe_root", "must be an absolute path")
	}
	for i, code := range cfg.Claude.BenignExitCodes {
		if code <= 0 || code > 255 {
			errs.Add(fmt.Sprintf("claude.benign_exit_codes[%d]", i), "must be between 1 and 255")
		}
	}
}

func (v *Validator) validatePermissions(cfg *Config, errs *ValidationError) {
	if cfg.Permissions.Mode != "" {
		validModes := map[string]bool{
			"default":           true,
			"acceptEdits":       true,
			"bypassPermissions": true,
			"plan":              true,
		}
		if !validModes[cfg.Permissions.Mode] {
			errs.Add("permissions.mode", fmt.Sprintf("invalid mode '%s', must be one of: default, acceptEdits, bypassPermissions, plan", cfg.Permissions.Mode))
		}
	}
	for i, tool := range cfg.Permissions.AllowedTools {
		if strings.TrimSpace(tool) == "" {
			errs.Add(fmt.Sprintf("permissions.allowed_tools[%d]", i), "must not be empty")
		}
	}
	for i, tool := range cfg.Permissions.DisallowedTools {
		if strings.TrimSpace(tool) == "" {
			errs.Add(fmt.Sprintf("permissions.disallowed_tools[%d]", i), "must not be empty")
		}
	}
}

func (v *Validator) validateAttachments(cfg *Config, errs *ValidationError) {
	if cfg.Attachments.MaxSizeBytes < 0 {
		errs.Add("attachments.max_size_bytes", "must not be negative")
	}
	if cfg.Attachments.MaxCount < 0 {
		errs.Add("attachments.max_count", "must not be negative")
	}
}

func (v *Validator) validateHealth(cfg *Config, errs *ValidationError) {
	if cfg.Health.MemoryWarnMB > cfg.Health.MemoryCriticalMB && cfg.Health.MemoryCriticalMB != 0 {
		errs.Add("health.memory_warn_mb", "must not exceed memory_critical_mb")
	}
	if cfg.Health.CPUWarnPercent > cfg.Health.CPUCriticalPercent && cfg.Health.CPUCriticalPercent != 0 {
		errs.Add("health.cpu_warn_percent", "must not exceed cpu_critical_percent")
	}
	if cfg.Health.CPUCriticalPercent > 100 {
		errs.Add("health.cpu_critical_percent", "must not exceed 100")
	}
}

func (v *Validator) validateDurations(cfg *Config, errs *ValidationError) {
	durations := []struct {
		field string
		value string
	}{
		{"sessions.timeout", cfg.Sessions.Timeout},
		{"sessions.drain_timeout", cfg.Sessions.DrainTimeout},
		{"sessions.retry.backoff_base", cfg.Sessions.Retry.BackoffBase},
		{"sessions.retry.backoff_cap", cfg.Sessions.Retry.BackoffCap},
		{"claude.version_timeout", cfg.Claude.VersionTimeout},
		{"events.history.max_age", cfg.Events.History.MaxAge},
		{"watch.debounce", cfg.Watch.Debounce},
	}

	for _, d := range durations {
		if d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			errs.Add(d.field, fmt.Sprintf("invalid duration format: %s", err))
		} else if parsed < 0 {
			errs.Add(d.field, "must be positive")
		}
	}

	// Health interval allows "0" to disable the sweep
	if cfg.Health.Interval != "" && cfg.Health.Interval != "0" {
		parsed, err := time.ParseDuration(cfg.Health.Interval)
		if err != nil {
			errs.Add("health.interval", fmt.Sprintf("invalid duration format: %s", err))
		} else if parsed < 0 {
			errs.Add("health.interval", "must be positive")
		}
	}

	if cfg.Sessions.Retry.MaxAttempts < 1 {
		errs.Add("sessions.retry.max_attempts", "must be at least 1")
	}
}
