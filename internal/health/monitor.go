// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package health watches the sessions' CLI subprocesses: a periodic sweep
// evicts sessions whose process vanished, blew past resource limits, or
// went inactive, and an on-demand aggregate feeds the status endpoint.
package health

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dock108/aicli-companion-sub014/internal/events"
	"github.com/dock108/aicli-companion-sub014/internal/session"
)

// Thresholds is the two-tier resource classification. Warning logs;
// critical evicts.
type Thresholds struct {
	MemoryWarn uint64
	MemoryCrit uint64
	CPUWarn    float64
	CPUCrit    float64
}

// DefaultThresholds returns the stock limits: 500MB/1GB memory, 80%/95% CPU.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MemoryWarn: 500 << 20,
		MemoryCrit: 1 << 30,
		CPUWarn:    80,
		CPUCrit:    95,
	}
}

// Registry is the session registry view the sweep reads. *session.Manager
// satisfies it.
type Registry interface {
	List() []session.Info
	TimedOut() []session.Info
}

// Cleaner tears down sessions the sweep flags. *session.Operations
// satisfies it.
type Cleaner interface {
	KillSession(sessionID, reason string) error
	CleanupDeadSession(sessionID string)
}

// VersionProber checks the CLI is invocable. *claude.Runner satisfies it.
type VersionProber interface {
	Version(ctx context.Context) (string, error)
}

// Status is the on-demand health aggregate.
type Status struct {
	Healthy        bool      `json:"healthy"`
	Timestamp      time.Time `json:"timestamp"`
	ClaudeVersion  string    `json:"claudeVersion,omitempty"`
	ClaudeError    string    `json:"claudeError,omitempty"`
	ActiveSessions int       `json:"activeSessions"`
	SessionIDs     []string  `json:"sessionIds,omitempty"`
	HostRSSBytes   uint64    `json:"hostRssBytes,omitempty"`
	OrphanPIDs     []int     `json:"orphanPids,omitempty"`
}

// MonitorConfig wires a Monitor.
type MonitorConfig struct {
	Registry Registry
	Cleaner  Cleaner
	Emitter  *events.Emitter
	Prober   VersionProber
	// Stats defaults to the go-ps/gopsutil-backed provider when nil.
	Stats StatsProvider
	// Interval between sweeps. Non-positive disables the background loop;
	// Sweep can still be driven directly.
	Interval   time.Duration
	Thresholds Thresholds
	// Binary is the CLI binary whose orphaned children the aggregate
	// reports. Empty disables the orphan scan.
	Binary string
}

// Monitor runs the sweep loop and answers health checks.
type Monitor struct {
	registry Registry
	cleaner  Cleaner
	emitter  *events.Emitter
	prober   VersionProber
	stats    StatsProvider
	interval time.Duration
	limits   Thresholds
	binary   string

	stopCh    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewMonitor creates a monitor. Zero thresholds fall back to defaults.
func NewMonitor(cfg MonitorConfig) *Monitor {
	if cfg.Stats == nil {
		cfg.Stats = osStats{}
	}
	def := DefaultThresholds()
	if cfg.Thresholds.MemoryWarn == 0 {
		cfg.Thresholds.MemoryWarn = def.MemoryWarn
	}
	if cfg.Thresholds.MemoryCrit == 0 {
		cfg.Thresholds.MemoryCrit = def.MemoryCrit
	}
	if cfg.Thresholds.CPUWarn == 0 {
		cfg.Thresholds.CPUWarn = def.CPUWarn
	}
	if cfg.Thresholds.CPUCrit == 0 {
		cfg.Thresholds.CPUCrit = def.CPUCrit
	}
	return &Monitor{
		registry: cfg.Registry,
		cleaner:  cfg.Cleaner,
		emitter:  cfg.Emitter,
		prober:   cfg.Prober,
		stats:    cfg.Stats,
		interval: cfg.Interval,
		limits:   cfg.Thresholds,
		binary:   cfg.Binary,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the background sweep loop.
func (m *Monitor) Start() {
	if m.interval <= 0 {
		log.Printf("health: periodic sweep disabled")
		return
	}
	m.wg.Add(1)
	go m.loop()
}

// Close stops the sweep loop and waits for it to finish.
func (m *Monitor) Close() {
	m.closeOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

func (m *Monitor) loop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Sweep runs one health pass: resource checks against every session with a
// live process, then inactivity eviction. Flagged sessions are torn down
// after the pass, each with a sessionUnhealthy event.
func (m *Monitor) Sweep() {
	type flagged struct {
		info   session.Info
		reason string
		stats  ProcStats
	}
	var evict []flagged
	seen := make(map[string]bool)
	flag := func(info session.Info, reason string, st ProcStats) {
		if seen[info.ID] {
			return
		}
		seen[info.ID] = true
		evict = append(evict, flagged{info, reason, st})
	}

	for _, info := range m.registry.List() {
		if info.PID <= 0 {
			continue
		}
		if !m.stats.Exists(info.PID) {
			flag(info, fmt.Sprintf("process %d no longer exists", info.PID), ProcStats{})
			continue
		}
		st, err := m.stats.Stats(info.PID)
		if err != nil {
			log.Printf("health: stats for %s (pid %d): %v", info.ID, info.PID, err)
			continue
		}
		switch {
		case st.RSS >= m.limits.MemoryCrit || st.CPUPercent >= m.limits.CPUCrit:
			flag(info, fmt.Sprintf("critical resource usage (rss %dMB, cpu %.0f%%)", st.RSS>>20, st.CPUPercent), st)
		case st.RSS >= m.limits.MemoryWarn || st.CPUPercent >= m.limits.CPUWarn:
			log.Printf("health: %s (pid %d) above warning thresholds (rss %dMB, cpu %.0f%%)",
				info.ID, info.PID, st.RSS>>20, st.CPUPercent)
		}
	}

	for _, info := range m.registry.TimedOut() {
		// A session mid-turn is refreshing its activity clock through the
		// record stream; never evict it for inactivity.
		if info.Executing {
			continue
		}
		flag(info, "inactive past session timeout", ProcStats{})
	}

	for _, f := range evict {
		log.Printf("health: evicting %s: %s", f.info.ID, f.reason)
		m.emitter.Emit(events.NewSessionUnhealthy(f.info.ID, events.SessionUnhealthyData{
			Reason:     f.reason,
			RSSBytes:   f.stats.RSS,
			CPUPercent: f.stats.CPUPercent,
		}))
		if f.info.Executing {
			// Killing through the turn cancels the process group; the
			// turn's own error path finishes the teardown.
			if err := m.cleaner.KillSession(f.info.ID, f.reason); err != nil {
				m.cleaner.CleanupDeadSession(f.info.ID)
			}
		} else {
			m.cleaner.CleanupDeadSession(f.info.ID)
		}
	}
}

// HealthCheck builds the on-demand aggregate: CLI availability, active
// sessions, host memory, and any orphaned CLI children of this process.
func (m *Monitor) HealthCheck(ctx context.Context) Status {
	st := Status{Healthy: true, Timestamp: time.Now().UTC()}

	if m.prober != nil {
		version, err := m.prober.Version(ctx)
		if err != nil {
			st.Healthy = false
			st.ClaudeError = err.Error()
		} else {
			st.ClaudeVersion = version
		}
	}

	sessions := m.registry.List()
	st.ActiveSessions = len(sessions)
	for _, s := range sessions {
		st.SessionIDs = append(st.SessionIDs, s.ID)
	}
	sort.Strings(st.SessionIDs)

	if stats, err := m.stats.Stats(os.Getpid()); err == nil {
		st.HostRSSBytes = stats.RSS
	}

	st.OrphanPIDs = m.findOrphans(sessions)
	return st
}

// findOrphans lists CLI children of this process no session tracks.
func (m *Monitor) findOrphans(sessions []session.Info) []int {
	if m.binary == "" {
		return nil
	}
	procs, err := m.stats.Processes()
	if err != nil {
		return nil
	}

	tracked := make(map[int]bool, len(sessions))
	for _, s := range sessions {
		if s.PID > 0 {
			tracked[s.PID] = true
		}
	}

	self := os.Getpid()
	base := filepath.Base(m.binary)
	var orphans []int
	for _, p := range procs {
		if p.PPID != self || tracked[p.PID] {
			continue
		}
		if p.Executable == base || strings.HasPrefix(p.Executable, base) {
			orphans = append(orphans, p.PID)
		}
	}
	sort.Ints(orphans)
	return orphans
}
