// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hjson/hjson-go/v4"
)

// Loader handles configuration file loading.
type Loader struct{}

// NewLoader creates a new config loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load reads and parses the configuration from the given path.
func (l *Loader) Load(ctx context.Context, path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Parse HJSON to intermediate map
	var raw map[string]interface{}
	if err := hjson.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse hjson: %w", err)
	}

	// Convert to JSON and unmarshal to struct (for type safety)
	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("convert to json: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(jsonData, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// LoadWithDefaults loads config with default values applied.
func (l *Loader) LoadWithDefaults(ctx context.Context, path string) (*Config, error) {
	cfg, err := l.Load(ctx, path)
	if err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	return cfg, nil
}

// FindConfig searches for a config file in the current directory.
// It looks for companion.hjson first, then companion.json.
func (l *Loader) FindConfig() (string, error) {
	candidates := []string{
		"companion.hjson",
		"companion.json",
	}

	for _, name := range candidates {
		path := filepath.Join(".", name)
		if _, err := os.Stat(path); err == nil {
			abs, err := filepath.Abs(path)
			if err != nil {
				return path, nil
			}
			return abs, nil
		}
	}

	return "", fmt.Errorf("config file not found (looked for companion.hjson, companion.json)")
}

// Default returns a configuration with all defaults applied and no file read.
// Used when the server starts without a config file.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets default values for missing config fields.
func applyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 3001
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}

	// Claude defaults
	if cfg.Claude.Binary == "" {
		cfg.Claude.Binary = "claude"
	}
	if cfg.Claude.BenignExitCodes == nil {
		// 143 = SIGTERM; the CLI ends long turns this way and the
		// conversation continues on the next --resume
		cfg.Claude.BenignExitCodes = []int{143}
	}
	if cfg.Claude.VersionTimeout == "" {
		cfg.Claude.VersionTimeout = "5s"
	}

	// Permission defaults
	if cfg.Permissions.Mode == "" {
		cfg.Permissions.Mode = "default"
	}

	// Session defaults
	if cfg.Sessions.Timeout == "" {
		cfg.Sessions.Timeout = "24h"
	}
	if cfg.Sessions.DrainTimeout == "" {
		cfg.Sessions.DrainTimeout = "10s"
	}
	if cfg.Sessions.Retry.MaxAttempts == 0 {
		cfg.Sessions.Retry.MaxAttempts = 3
	}
	if cfg.Sessions.Retry.BackoffBase == "" {
		cfg.Sessions.Retry.BackoffBase = "1s"
	}
	if cfg.Sessions.Retry.BackoffCap == "" {
		cfg.Sessions.Retry.BackoffCap = "5s"
	}

	// Attachment defaults
	if cfg.Attachments.TempDir == "" {
		cfg.Attachments.TempDir = os.TempDir()
	}
	if cfg.Attachments.MaxSizeBytes == 0 {
		cfg.Attachments.MaxSizeBytes = 10 << 20
	}
	if cfg.Attachments.MaxCount == 0 {
		cfg.Attachments.MaxCount = 10
	}

	// Health defaults
	if cfg.Health.Interval == "" {
		cfg.Health.Interval = "30s"
	}
	if cfg.Health.MemoryWarnMB == 0 {
		cfg.Health.MemoryWarnMB = 500
	}
	if cfg.Health.MemoryCriticalMB == 0 {
		cfg.Health.MemoryCriticalMB = 1024
	}
	if cfg.Health.CPUWarnPercent == 0 {
		cfg.Health.CPUWarnPercent = 80
	}
	if cfg.Health.CPUCriticalPercent == 0 {
		cfg.Health.CPUCriticalPercent = 95
	}

	// Events defaults
	if cfg.Events.History.MaxEvents == 0 {
		cfg.Events.History.MaxEvents = 1000
	}
	if cfg.Events.History.MaxAge == "" {
		cfg.Events.History.MaxAge = "1h"
	}

	// Watch defaults
	if cfg.Watch.Debounce == "" {
		cfg.Watch.Debounce = "100ms"
	}
}
