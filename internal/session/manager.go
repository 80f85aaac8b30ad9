package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/pavelanni/assessor/internal/model"
)

// StateStore persists session snapshots.
type StateStore interface {
	SaveState(ctx context.Context, snap model.Snapshot) error
	// LoadState returns the raw snapshot for id, or found=false.
	LoadState(ctx context.Context, id string) (data []byte, found bool, err error)
}

// Manager owns the live sessions of the process.
type Manager struct {
	cfg    Config
	deps   Deps
	states StateStore

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a manager. states may be nil for in-memory operation.
func NewManager(cfg Config, deps Deps, states StateStore) *Manager {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Manager{cfg: cfg, deps: deps, states: states, sessions: make(map[string]*Session)}
}

// Create starts a new session and persists its initial snapshot.
func (m *Manager) Create(ctx context.Context) (*Session, error) {
	id := NewID(m.cfg.IDPrefix, m.deps.Now())
	s, err := New(id, m.cfg, m.deps)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()
	if err := m.Save(ctx, s); err != nil {
		slog.Warn("initial snapshot failed", "session_id", id, "error", err)
	}
	slog.Debug("session created", "session_id", id)
	return s, nil
}

// Get returns a live session, restoring it from the state store on a miss.
// A stored snapshot that cannot be decoded or fails consistency checks is
// treated as absent state and yields a fresh session under the same id.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if ok {
		return s, nil
	}
	if m.states == nil {
		return nil, ErrNotFound
	}
	data, found, err := m.states.LoadState(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load state %s: %w", id, err)
	}
	if !found {
		return nil, ErrNotFound
	}

	s, err = New(id, m.cfg, m.deps)
	if err != nil {
		return nil, err
	}
	var snap model.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		slog.Warn("discarding unreadable snapshot", "session_id", id, "error", err)
	} else if err := s.Restore(snap); err != nil {
		slog.Warn("discarding inconsistent snapshot", "session_id", id, "error", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sessions[id]; ok {
		return existing, nil
	}
	m.sessions[id] = s
	return s, nil
}

// Save writes one snapshot, waiting for any save of the same session that
// is already running.
func (m *Manager) Save(ctx context.Context, s *Session) error {
	if m.states == nil {
		return nil
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	return m.states.SaveState(ctx, s.Snapshot())
}

// trySave is Save for the autosaver: a session whose previous save is still
// running is skipped rather than queued.
func (m *Manager) trySave(ctx context.Context, s *Session) (bool, error) {
	if m.states == nil {
		return false, nil
	}
	if !s.saveMu.TryLock() {
		return false, nil
	}
	defer s.saveMu.Unlock()
	return true, m.states.SaveState(ctx, s.Snapshot())
}

// SaveAll snapshots every live session and returns how many were written.
// Submitted and idle sessions are dropped from memory once saved; Get
// restores them from the state store.
func (m *Manager) SaveAll(ctx context.Context) int {
	var cutoff time.Time
	if m.cfg.IdleTimeout > 0 {
		cutoff = m.deps.Now().Add(-m.cfg.IdleTimeout)
	}
	saved := 0
	for _, s := range m.Sessions() {
		ok, err := m.trySave(ctx, s)
		if err != nil {
			slog.Warn("autosave failed", "session_id", s.ID(), "error", err)
			continue
		}
		if !ok {
			continue
		}
		saved++
		if s.settled(cutoff) {
			m.evict(s)
		}
	}
	return saved
}

func (m *Manager) evict(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[s.id] == s {
		delete(m.sessions, s.id)
		slog.Debug("session evicted", "session_id", s.id)
	}
}

// Sessions returns the live sessions ordered by id.
func (m *Manager) Sessions() []*Session {
	m.mu.Lock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}
