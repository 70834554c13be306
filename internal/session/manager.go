// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package session tracks conversational sessions across CLI invocations:
// the registry mapping client and CLI session ids to one record, the
// per-session response buffer with its permission gate, and the per-turn
// retry orchestration.
package session

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dock108/aicli-companion-sub014/internal/claude"
)

var (
	// ErrSessionNotFound is returned for operations on unknown ids.
	ErrSessionNotFound = errors.New("session not found")
	// ErrTurnInProgress is returned when a second prompt arrives while a
	// turn is still executing.
	ErrTurnInProgress = errors.New("a turn is already in progress for this session")
)

// session is the registry record. All fields are guarded by Manager.mu.
type session struct {
	id        string
	claudeID  string
	workDir   string
	createdAt time.Time

	lastActivity   time.Time
	backgrounded   bool
	backgroundedAt time.Time

	// aliases are the registry keys routing to this record: the internal
	// id, the CLI-assigned id, and any stale ids remapped after expiry
	// recovery.
	aliases []string

	executing  bool
	cancelTurn context.CancelFunc
	proc       *claude.ProcessHandle
	killReason string

	// rememberedTools are tools the user approved with remember set;
	// later turns pre-allow them.
	rememberedTools []string
}

// canonicalID is the client-visible id: the CLI's id once assigned, the
// internal id before that.
func (s *session) canonicalID() string {
	if s.claudeID != "" {
		return s.claudeID
	}
	return s.id
}

// Info is a point-in-time snapshot of one session.
type Info struct {
	ID           string    `json:"id"`
	ClaudeID     string    `json:"claudeId,omitempty"`
	WorkingDir   string    `json:"workingDirectory"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
	Backgrounded bool      `json:"backgrounded"`
	Executing    bool      `json:"executing"`
	PID          int       `json:"pid,omitempty"`
}

// Manager is the session registry. Every id a session has ever been known
// by resolves to the same record.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*session
	timeout  time.Duration
}

// NewManager creates a registry. timeout is the inactivity window after
// which a session becomes eligible for eviction.
func NewManager(timeout time.Duration) *Manager {
	return &Manager{
		sessions: make(map[string]*session),
		timeout:  timeout,
	}
}

// SetTimeout replaces the inactivity window for future TimedOut checks.
func (m *Manager) SetTimeout(timeout time.Duration) {
	m.mu.Lock()
	m.timeout = timeout
	m.mu.Unlock()
}

func (m *Manager) snapshotLocked(s *session) Info {
	info := Info{
		ID:           s.canonicalID(),
		ClaudeID:     s.claudeID,
		WorkingDir:   s.workDir,
		CreatedAt:    s.createdAt,
		LastActivity: s.lastActivity,
		Backgrounded: s.backgrounded,
		Executing:    s.executing,
	}
	if s.proc != nil {
		info.PID = s.proc.PID()
	}
	return info
}

// Create registers a session. requestedID may be empty for a brand-new
// conversation; a non-empty id a client carried over from an earlier
// server life is honored as the routing key. Creating an id that already
// exists returns the existing record.
func (m *Manager) Create(requestedID, workDir string) Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	if requestedID != "" {
		if s, ok := m.sessions[requestedID]; ok {
			return m.snapshotLocked(s)
		}
	}

	id := requestedID
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now()
	s := &session{
		id:           id,
		workDir:      workDir,
		createdAt:    now,
		lastActivity: now,
		aliases:      []string{id},
	}
	m.sessions[id] = s
	log.Printf("session: created %s (dir %s)", id, workDir)
	return m.snapshotLocked(s)
}

// Ensure returns the session for id, creating a minimal routing record if
// none exists. Used when the CLI self-assigns an id before the registry
// has seen it.
func (m *Manager) Ensure(id string) Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[id]; ok {
		return m.snapshotLocked(s)
	}
	now := time.Now()
	s := &session{
		id:           id,
		claudeID:     id,
		createdAt:    now,
		lastActivity: now,
		aliases:      []string{id},
	}
	m.sessions[id] = s
	log.Printf("session: auto-registered %s", id)
	return m.snapshotLocked(s)
}

// Has reports whether id routes to a session.
func (m *Manager) Has(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sessions[id]
	return ok
}

// Get returns a snapshot of the session id routes to.
func (m *Manager) Get(id string) (Info, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return Info{}, false
	}
	return m.snapshotLocked(s), true
}

// CanonicalID resolves any known alias to the client-visible id.
func (m *Manager) CanonicalID(id string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return "", false
	}
	return s.canonicalID(), true
}

// Remove deletes the session id routes to, under every alias it holds.
func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeLocked(id)
}

func (m *Manager) removeLocked(id string) bool {
	s, ok := m.sessions[id]
	if !ok {
		return false
	}
	for _, alias := range s.aliases {
		delete(m.sessions, alias)
	}
	return true
}

// MapClaudeSession records that ourID's session is now known to the CLI as
// externalID. Both ids route to the record afterwards; externalID becomes
// the canonical one.
func (m *Manager) MapClaudeSession(ourID, externalID string) error {
	if externalID == "" || ourID == externalID {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[ourID]
	if !ok {
		return ErrSessionNotFound
	}
	if prev, ok := m.sessions[externalID]; ok && prev != s {
		// A minimal auto-registered record can exist for the external id
		// before the mapping lands. Ours wins; the stale record's other
		// aliases die with it.
		for _, alias := range prev.aliases {
			delete(m.sessions, alias)
		}
		log.Printf("session: %s absorbed auto-registered record %s", ourID, externalID)
	}
	if s.claudeID != "" && s.claudeID != externalID {
		log.Printf("session: %s remapped from %s to %s", ourID, s.claudeID, externalID)
	}
	s.claudeID = externalID
	m.sessions[externalID] = s
	s.aliases = append(s.aliases, externalID)
	return nil
}

// Alias registers an additional id routing to the session id resolves to.
// An alias already routing to a different record absorbs that record.
func (m *Manager) Alias(id, alias string) error {
	if alias == "" || alias == id {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if prev, ok := m.sessions[alias]; ok {
		if prev == s {
			return nil
		}
		for _, a := range prev.aliases {
			delete(m.sessions, a)
		}
	}
	m.sessions[alias] = s
	s.aliases = append(s.aliases, alias)
	return nil
}

// RememberTool adds a tool to the session's pre-approved list.
func (m *Manager) RememberTool(id, tool string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return
	}
	for _, t := range s.rememberedTools {
		if t == tool {
			return
		}
	}
	s.rememberedTools = append(s.rememberedTools, tool)
}

// RememberedTools returns the tools approved with remember set.
func (m *Manager) RememberedTools(id string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok || len(s.rememberedTools) == 0 {
		return nil
	}
	return append([]string(nil), s.rememberedTools...)
}

// ExecutingCount counts sessions with a turn in flight.
func (m *Manager) ExecutingCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[*session]bool)
	n := 0
	for _, s := range m.sessions {
		if seen[s] {
			continue
		}
		seen[s] = true
		if s.executing {
			n++
		}
	}
	return n
}

// Touch refreshes the session's activity clock.
func (m *Manager) Touch(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.lastActivity = time.Now()
	}
}

// MarkBackgrounded records a client backgrounding hint. The session keeps
// running; nothing is killed for being backgrounded.
func (m *Manager) MarkBackgrounded(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	s.backgrounded = true
	s.backgroundedAt = time.Now()
	return nil
}

// MarkForegrounded clears the backgrounding hint and refreshes activity.
func (m *Manager) MarkForegrounded(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	s.backgrounded = false
	s.backgroundedAt = time.Time{}
	s.lastActivity = time.Now()
	return nil
}

// CheckTimeout reports whether the session has been inactive longer than
// the configured window. Advisory only; eviction happens in the health
// sweep.
func (m *Manager) CheckTimeout(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok || m.timeout <= 0 {
		return false
	}
	return time.Since(s.lastActivity) > m.timeout
}

// TimedOut lists sessions past the inactivity window.
func (m *Manager) TimedOut() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.timeout <= 0 {
		return nil
	}
	var out []Info
	seen := make(map[*session]bool)
	for _, s := range m.sessions {
		if seen[s] {
			continue
		}
		seen[s] = true
		if time.Since(s.lastActivity) > m.timeout {
			out = append(out, m.snapshotLocked(s))
		}
	}
	return out
}

// List snapshots every session once, regardless of alias count.
func (m *Manager) List() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Info
	seen := make(map[*session]bool)
	for _, s := range m.sessions {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, m.snapshotLocked(s))
	}
	return out
}

// Count returns the number of distinct sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[*session]bool)
	for _, s := range m.sessions {
		seen[s] = true
	}
	return len(seen)
}

// BeginTurn claims the session for one turn. A session runs at most one
// turn at a time; cancel is invoked by Kill to stop the turn mid-flight.
func (m *Manager) BeginTurn(id string, cancel context.CancelFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if s.executing {
		return ErrTurnInProgress
	}
	s.executing = true
	s.cancelTurn = cancel
	s.killReason = ""
	s.lastActivity = time.Now()
	return nil
}

// EndTurn releases the session after a turn finishes.
func (m *Manager) EndTurn(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return
	}
	s.executing = false
	s.cancelTurn = nil
	s.proc = nil
	s.lastActivity = time.Now()
}

// SetProcess attaches the live process handle for the current turn.
func (m *Manager) SetProcess(id string, proc *claude.ProcessHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.proc = proc
	}
}

// Process returns the live process handle, if a turn is running.
func (m *Manager) Process(id string) (*claude.ProcessHandle, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok || s.proc == nil {
		return nil, false
	}
	return s.proc, true
}

// Kill cancels the session's running turn, if any. The reason is kept so
// the turn's error can be reported as a cancellation rather than a crash.
func (m *Manager) Kill(id, reason string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	s.killReason = reason
	cancel := s.cancelTurn
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}

// KillReason returns the reason passed to Kill for the current turn, if
// the turn was killed.
func (m *Manager) KillReason(id string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok || s.killReason == "" {
		return "", false
	}
	return s.killReason, true
}

// Clear cancels all running turns and empties the registry. Returns the
// number of distinct sessions removed.
func (m *Manager) Clear() int {
	m.mu.Lock()
	var cancels []context.CancelFunc
	seen := make(map[*session]bool)
	for _, s := range m.sessions {
		if seen[s] {
			continue
		}
		seen[s] = true
		if s.cancelTurn != nil {
			cancels = append(cancels, s.cancelTurn)
		}
	}
	m.sessions = make(map[string]*session)
	m.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	return len(seen)
}
