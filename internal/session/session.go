// Package session implements the AgentSession type and its registry: the
// record of one connected agent (HTTP/WS/SSE) with a bounded outbound
// notification queue, plus a concurrent registry with the teacher's
// validate→limit→double-checked-create shape (session_registry.go).
package session

import (
	"sync"
	"time"

	"github.com/jk-nd/noumena-mcp-gateway-poc-sub004/pkg/logging"
)

// Session ID and capacity limits, named after the teacher's own
// constants in internal/aggregator/session_registry.go.
const (
	MaxSessionIDLength   = 256
	DefaultMaxSessions   = 10000
	DefaultQueueCapacity = 256
)

// OutboundQueueFull is logged and the session is dropped when its
// outbound queue stays saturated, per spec.md §5's back-pressure rule.
type OutboundQueueFull struct{ SessionID string }

func (e *OutboundQueueFull) Error() string {
	return "outbound queue full for session " + logging.TruncateSessionID(e.SessionID)
}

// InvalidSessionIDError mirrors the teacher's typed validation error.
type InvalidSessionIDError struct{ Reason string }

func (e *InvalidSessionIDError) Error() string { return "invalid session ID: " + e.Reason }

// SessionLimitExceededError mirrors the teacher's typed capacity error.
type SessionLimitExceededError struct{ Limit, Current int }

func (e *SessionLimitExceededError) Error() string {
	return "session limit exceeded"
}

// AgentSession represents one connected agent: its identity (UserContext),
// and a single-producer-multi-consumer bounded outbound queue that only
// its owning transport task drains (spec.md §5).
type AgentSession struct {
	ID        string
	UserID    string
	TenantID  string
	CreatedAt time.Time

	mu           sync.Mutex
	lastActivity time.Time
	outbound     chan []byte
	closed       bool
}

func newAgentSession(id, userID, tenantID string, queueCapacity int) *AgentSession {
	now := time.Now()
	return &AgentSession{
		ID:           id,
		UserID:       userID,
		TenantID:     tenantID,
		CreatedAt:    now,
		lastActivity: now,
		outbound:     make(chan []byte, queueCapacity),
	}
}

// Outbound returns the channel the owning transport task should drain.
func (s *AgentSession) Outbound() <-chan []byte {
	return s.outbound
}

// Send enqueues a notification payload. Returns OutboundQueueFull if the
// queue is saturated — the caller should then evict the session, per
// spec.md §5's drop-on-back-pressure rule.
func (s *AgentSession) Send(payload []byte) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return &OutboundQueueFull{SessionID: s.ID}
	}

	select {
	case s.outbound <- payload:
		return nil
	default:
		return &OutboundQueueFull{SessionID: s.ID}
	}
}

// Touch records activity for idle-timeout purposes.
func (s *AgentSession) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// IdleSince reports how long this session has been inactive.
func (s *AgentSession) IdleSince() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActivity)
}

// Close marks the session closed and drains further sends. Safe to call
// more than once.
func (s *AgentSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.outbound)
}

// Registry is a concurrent map of AgentSession keyed by session id, with
// the teacher's validate-before-lock, limit-before-create,
// double-checked-create shape.
type Registry struct {
	mu            sync.RWMutex
	sessions      map[string]*AgentSession
	maxSessions   int
	idleTimeout   time.Duration
	queueCapacity int
	stopCleanup   chan struct{}
}

// NewRegistry builds a Registry. idleTimeout <= 0 disables the cleanup
// sweep. maxSessions <= 0 uses DefaultMaxSessions.
func NewRegistry(idleTimeout time.Duration, maxSessions int) *Registry {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	r := &Registry{
		sessions:      make(map[string]*AgentSession),
		maxSessions:   maxSessions,
		idleTimeout:   idleTimeout,
		queueCapacity: DefaultQueueCapacity,
		stopCleanup:   make(chan struct{}),
	}
	if idleTimeout > 0 {
		go r.cleanupLoop()
	}
	return r
}

func validateSessionID(id string) error {
	if id == "" {
		return &InvalidSessionIDError{Reason: "session ID cannot be empty"}
	}
	if len(id) > MaxSessionIDLength {
		return &InvalidSessionIDError{Reason: "session ID exceeds maximum length"}
	}
	return nil
}

// GetOrCreate returns the session for id, creating it if absent. Returns
// an error if the id is invalid or the registry is at capacity.
func (r *Registry) GetOrCreate(id, userID, tenantID string) (*AgentSession, error) {
	if err := validateSessionID(id); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.sessions[id]; ok {
		existing.Touch()
		return existing, nil
	}

	if len(r.sessions) >= r.maxSessions {
		return nil, &SessionLimitExceededError{Limit: r.maxSessions, Current: len(r.sessions)}
	}

	s := newAgentSession(id, userID, tenantID, r.queueCapacity)
	r.sessions[id] = s
	logging.Debug("Session", "Created agent session %s (total: %d)", logging.TruncateSessionID(id), len(r.sessions))
	return s, nil
}

// Get returns the session for id, if present.
func (r *Registry) Get(id string) (*AgentSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove deletes and closes the session for id.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if ok {
		s.Close()
		logging.Debug("Session", "Removed agent session %s", logging.TruncateSessionID(id))
	}
}

// All returns a snapshot of all active sessions, for broadcast delivery.
func (r *Registry) All() []*AgentSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*AgentSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

func (r *Registry) cleanupLoop() {
	ticker := time.NewTicker(r.idleTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.sweepIdle()
		case <-r.stopCleanup:
			return
		}
	}
}

func (r *Registry) sweepIdle() {
	r.mu.Lock()
	var stale []*AgentSession
	for id, s := range r.sessions {
		if s.IdleSince() > r.idleTimeout {
			stale = append(stale, s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, s := range stale {
		s.Close()
	}
	if len(stale) > 0 {
		logging.Debug("Session", "Swept %d idle agent sessions", len(stale))
	}
}

// Stop halts the idle-sweep goroutine.
func (r *Registry) Stop() {
	if r.idleTimeout > 0 {
		close(r.stopCleanup)
	}
}
