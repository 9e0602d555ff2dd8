package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxbridge-ai/voxbridge/pkg/orchestrator"
)

// DefaultSessionTimeout is T_session (spec §4.F Timeouts: "Session idle
// TTL: 10 min").
const DefaultSessionTimeout = 10 * time.Minute

// DefaultSweepInterval governs how often the background sweeper scans for
// expired sessions. Grounded on the kylesean asr_server session manager's
// cleanup ticker.
const DefaultSweepInterval = 30 * time.Second

// Prototype carries what a new Session needs at creation time: the caller
// (cmd/server's connection handler) builds a fresh orchestrator and
// optional playbook per session, since providers are stateless process-wide
// singletons but a TurnRunner's cancellation state is not.
type Prototype struct {
	SystemPrompt string
	Runner       *orchestrator.TurnRunner
	Playbook     orchestrator.PlaybookDriver
}

// Manager maps sessionId -> *Session (spec §4.E). All map access is guarded
// by mu, held only for lookups and inserts, never across I/O (spec §5
// "Shared resources").
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	timeout  time.Duration

	stopSweep chan struct{}
}

// NewManager starts the background sweeper immediately, mirroring the
// kylesean asr_server pattern of starting cleanup in the constructor rather
// than a separate Start call.
func NewManager(timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}
	m := &Manager{
		sessions:  make(map[string]*Session),
		timeout:   timeout,
		stopSweep: make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

// Create returns a new Session, generating an id if one wasn't supplied
// (spec §4.E "create(id?, prototype)").
func (m *Manager) Create(id string, proto Prototype) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	s := New(id, proto.SystemPrompt, proto.Runner, proto.Playbook)

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()
	return s
}

// Lookup returns an existing session, or nil if absent or expired.
func (m *Manager) Lookup(id string) (*Session, bool) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Since(s.LastActivity()) > m.timeout {
		return nil, false
	}
	return s, true
}

// Touch refreshes a session's last-activity without returning it, used on
// bare transport-level traffic (heartbeats) that isn't itself a turn.
func (m *Manager) Touch(id string) bool {
	s, ok := m.Lookup(id)
	if !ok {
		return false
	}
	s.Touch()
	return true
}

// Remove explicitly destroys a session, cancelling any in-flight turn
// first (spec §3: "explicitly destroyed on close only if reconnection is
// disabled").
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		s.CancelActiveTurn()
	}
}

// Count reports the number of sessions in the map, for telemetry. Expired
// sessions count until the sweeper removes them.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) sweepLoop() {
	ticker := time.NewTicker(DefaultSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sweepExpired()
		case <-m.stopSweep:
			return
		}
	}
}

func (m *Manager) sweepExpired() {
	now := time.Now()

	m.mu.RLock()
	var expired []*Session
	for _, s := range m.sessions {
		if now.Sub(s.LastActivity()) > m.timeout {
			expired = append(expired, s)
		}
	}
	m.mu.RUnlock()

	if len(expired) == 0 {
		return
	}

	m.mu.Lock()
	for _, s := range expired {
		delete(m.sessions, s.ID)
	}
	m.mu.Unlock()

	for _, s := range expired {
		s.CancelActiveTurn()
	}
}

// Shutdown stops the sweeper and cancels every live session's active turn.
func (m *Manager) Shutdown() {
	close(m.stopSweep)

	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.CancelActiveTurn()
	}
}
