// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config handles HJSON configuration loading for the companion server.
package config

import (
	"time"
)

// Config is the root configuration structure for the companion server.
type Config struct {
	Version     string           `json:"version"`
	Server      ServerConfig     `json:"server"`
	Claude      ClaudeConfig     `json:"claude"`
	Permissions PermissionConfig `json:"permissions"`
	Sessions    SessionConfig    `json:"sessions"`
	Attachments AttachmentConfig `json:"attachments"`
	Health      HealthConfig     `json:"health"`
	Events      EventsConfig     `json:"events"`
	Watch       WatchConfig      `json:"watch"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port      int    `json:"port"`
	Host      string `json:"host"`
	AuthToken string `json:"auth_token"` // Optional bearer token; empty disables auth
}

// ClaudeConfig configures the CLI subprocess.
type ClaudeConfig struct {
	Binary          string   `json:"binary"`            // CLI executable name or path
	SafeRoot        string   `json:"safe_root"`         // Working directories must live under this root ("" = any absolute dir)
	BenignExitCodes []int    `json:"benign_exit_codes"` // Exit codes treated as continue-later rather than failure
	ExtraArgs       []string `json:"extra_args"`        // Appended to every invocation
	VersionTimeout  string   `json:"version_timeout"`   // Timeout for availability probes
}

// PermissionConfig configures how tool permissions are passed to the CLI.
type PermissionConfig struct {
	Mode            string   `json:"mode"` // "default", "acceptEdits", "bypassPermissions", "plan"
	AllowedTools    []string `json:"allowed_tools"`
	DisallowedTools []string `json:"disallowed_tools"`
	SkipPermissions bool     `json:"skip_permissions"` // Maps to --dangerously-skip-permissions
}

// SessionConfig configures session lifecycle behavior.
type SessionConfig struct {
	Timeout      string      `json:"timeout"`       // Inactivity timeout before a session is considered expired
	DrainTimeout string      `json:"drain_timeout"` // How long shutdown waits for active turns
	Retry        RetryConfig `json:"retry"`
}

// RetryConfig configures the per-turn retry loop.
type RetryConfig struct {
	MaxAttempts int    `json:"max_attempts"`
	BackoffBase string `json:"backoff_base"` // First retry delay; doubles each attempt
	BackoffCap  string `json:"backoff_cap"`  // Upper bound on any single delay
}

// AttachmentConfig configures attachment staging.
type AttachmentConfig struct {
	TempDir      string `json:"temp_dir"`       // Directory for staged files (defaults to os temp dir)
	MaxSizeBytes int64  `json:"max_size_bytes"` // Per-attachment decoded size cap
	MaxCount     int    `json:"max_count"`      // Max attachments per message
}

// HealthConfig configures the session health monitor.
type HealthConfig struct {
	Interval           string  `json:"interval"` // Sweep interval; "0" disables the sweep
	MemoryWarnMB       uint64  `json:"memory_warn_mb"`
	MemoryCriticalMB   uint64  `json:"memory_critical_mb"`
	CPUWarnPercent     float64 `json:"cpu_warn_percent"`
	CPUCriticalPercent float64 `json:"cpu_critical_percent"`
}

// EventsConfig configures the event system.
type EventsConfig struct {
	History HistoryConfig `json:"history"`
}

// HistoryConfig configures event history retention.
type HistoryConfig struct {
	MaxEvents int    `json:"max_events"`
	MaxAge    string `json:"max_age"`
}

// WatchConfig configures config file hot reload.
type WatchConfig struct {
	Enabled  *bool  `json:"enabled"`
	Debounce string `json:"debounce"`
}

// IsEnabled returns whether config watching is enabled.
func (w *WatchConfig) IsEnabled() bool {
	if w.Enabled == nil {
		return true // Default to true
	}
	return *w.Enabled
}

// ParseDuration parses a duration string, returning a default if empty.
func ParseDuration(s string, defaultVal time.Duration) time.Duration {
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// SessionTimeout returns the parsed session inactivity timeout.
func (c *Config) SessionTimeout() time.Duration {
	return ParseDuration(c.Sessions.Timeout, 24*time.Hour)
}

// DrainTimeout returns the parsed shutdown drain timeout.
func (c *Config) DrainTimeout() time.Duration {
	return ParseDuration(c.Sessions.DrainTimeout, 10*time.Second)
}

// HealthInterval returns the parsed health sweep interval. Zero disables.
func (c *Config) HealthInterval() time.Duration {
	if c.Health.Interval == "0" {
		return 0
	}
	return ParseDuration(c.Health.Interval, 30*time.Second)
}
