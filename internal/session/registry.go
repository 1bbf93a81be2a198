// Package session tracks logical inference sessions multiplexed over
// client connections and enforces per-client session quotas.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jotalabs/infergate/internal/logx"
)

var (
	// ErrQuotaExceeded is returned when a client is at its session limit.
	ErrQuotaExceeded = errors.New("session: quota exceeded")
	// ErrNotFound is returned for session ids the registry does not track.
	ErrNotFound = errors.New("session: not found")
	// ErrForbidden is returned when a session is referenced by a connection
	// other than its creator.
	ErrForbidden = errors.New("session: forbidden")
	// ErrBusy is returned when a second request is issued on a running session.
	ErrBusy = errors.New("session: busy")
	// ErrClosed is returned when operating on a closed session.
	ErrClosed = errors.New("session: closed")
)

// State is a session lifecycle state.
type State int

const (
	StateCreated State = iota
	StateRunning
	StateIdle
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateIdle:
		return "idle"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is one logical generation context owned by a single connection.
type Session struct {
	ID       string
	ClientID string
	ConnID   string
	Created  time.Time

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Begin transitions the session to running. Only one request may be in
// flight: a second begin while running reports ErrBusy.
func (s *Session) Begin(cancel context.CancelFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateRunning:
		return ErrBusy
	case StateClosed:
		return ErrClosed
	}
	s.state = StateRunning
	s.cancel = cancel
	return nil
}

// Finish transitions a running session back to idle. The session may accept
// another request afterwards.
func (s *Session) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateRunning {
		s.state = StateIdle
	}
	s.cancel = nil
}

// Abort cancels the in-flight request, if any, without closing the session.
func (s *Session) Abort() bool {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		return true
	}
	return false
}

func (s *Session) close() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.state = StateClosed
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Registry is the server-wide session table. Quotas are enforced per client
// id across all of that client's connections, so the count is checked and
// updated under one lock.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	byClient map[string]int
	byConn   map[string]map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		byClient: make(map[string]int),
		byConn:   make(map[string]map[string]*Session),
	}
}

// Create registers a new session for clientID on connID. Session ids are
// generated from a v4 UUID and never reused for the life of the process.
func (r *Registry) Create(clientID, connID string, maxSessions int) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byClient[clientID] >= maxSessions {
		return nil, ErrQuotaExceeded
	}
	s := &Session{
		ID:       "sess_" + uuid.NewString(),
		ClientID: clientID,
		ConnID:   connID,
		Created:  time.Now(),
		state:    StateCreated,
	}
	r.sessions[s.ID] = s
	r.byClient[clientID]++
	if r.byConn[connID] == nil {
		r.byConn[connID] = make(map[string]*Session)
	}
	r.byConn[connID][s.ID] = s
	logx.Log.Info().Str("session_id", s.ID).Str("client_id", clientID).
		Int("client_sessions", r.byClient[clientID]).Int("max_sessions", maxSessions).
		Msg("session created")
	return s, nil
}

// Resolve returns the session for id if it is owned by connID. Referencing
// another connection's session is an authorization error, distinct from an
// unknown id so existence does not leak to the wrong principal either way.
func (r *Registry) Resolve(id, connID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if s.ConnID != connID {
		return nil, ErrForbidden
	}
	return s, nil
}

// Close removes the session for id if owned by connID, cancelling any
// in-flight request and releasing the quota slot.
func (r *Registry) Close(id, connID string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	if s.ConnID != connID {
		r.mu.Unlock()
		return ErrForbidden
	}
	r.removeLocked(s)
	r.mu.Unlock()
	s.close()
	logx.Log.Info().Str("session_id", id).Str("client_id", s.ClientID).Msg("session closed")
	return nil
}

// CloseConn cascade-closes every session owned by connID and returns them.
func (r *Registry) CloseConn(connID string) []*Session {
	r.mu.Lock()
	owned := r.byConn[connID]
	closed := make([]*Session, 0, len(owned))
	for _, s := range owned {
		r.removeLocked(s)
		closed = append(closed, s)
	}
	delete(r.byConn, connID)
	r.mu.Unlock()
	for _, s := range closed {
		s.close()
	}
	if len(closed) > 0 {
		logx.Log.Info().Str("conn_id", connID).Int("count", len(closed)).Msg("sessions cascade-closed")
	}
	return closed
}

func (r *Registry) removeLocked(s *Session) {
	delete(r.sessions, s.ID)
	if conns, ok := r.byConn[s.ConnID]; ok {
		delete(conns, s.ID)
		if len(conns) == 0 {
			delete(r.byConn, s.ConnID)
		}
	}
	if n := r.byClient[s.ClientID]; n <= 1 {
		delete(r.byClient, s.ClientID)
	} else {
		r.byClient[s.ClientID] = n - 1
	}
}

// CountForClient reports live sessions across all of a client's connections.
func (r *Registry) CountForClient(clientID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byClient[clientID]
}

// Total reports the number of live sessions server-wide.
func (r *Registry) Total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
