// Package session implements the Session and Session Manager (spec §3,
// §4.D, §4.E): the persistent conversational identity that survives
// transport reconnects, and the map that creates, recovers, and evicts it.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/voxbridge-ai/voxbridge/pkg/orchestrator"
)

// DefaultHistoryCap is N in spec §3: history stores at most this many
// user/assistant/tool messages, not counting the system prompt.
const DefaultHistoryCap = 8

// AttachmentSlot names one of the two latest-wins attachment slots a
// session keeps.
type AttachmentSlot string

const (
	SlotCamera AttachmentSlot = "camera"
	SlotScreen AttachmentSlot = "screen"
)

// Session owns one conversation's history, pending attachments, and the
// cancellation handle for whatever turn is currently in flight. Exactly
// one turn runs at a time (spec §3 invariant); ActiveTurnToken is non-nil
// iff a turn is in progress.
type Session struct {
	ID           string
	SystemPrompt string
	HistoryCap   int

	Runner   *orchestrator.TurnRunner
	Playbook orchestrator.PlaybookDriver // nil if this session has no playbook

	mu              sync.Mutex
	history         []orchestrator.Message
	attachments     map[AttachmentSlot]orchestrator.Attachment
	lastActivity    time.Time
	activeTurnToken context.CancelFunc
}

// New creates a Session. runner and playbook are owned exclusively by this
// session (spec §4.D: "a Connection borrows a Session by id").
func New(id string, systemPrompt string, runner *orchestrator.TurnRunner, playbook orchestrator.PlaybookDriver) *Session {
	return &Session{
		ID:           id,
		SystemPrompt: systemPrompt,
		HistoryCap:   DefaultHistoryCap,
		Runner:       runner,
		Playbook:     playbook,
		attachments:  make(map[AttachmentSlot]orchestrator.Attachment),
		lastActivity: time.Now(),
	}
}

// Touch refreshes last-activity, used both on turns and on bare
// heartbeat/keepalive traffic (spec §4.D: "mutated on each turn and on
// touch").
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now()
}

func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// History returns a copy of the capped history, safe to read without
// holding the session lock across an LLM call.
func (s *Session) History() []orchestrator.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]orchestrator.Message, len(s.history))
	copy(out, s.history)
	return out
}

// SetHistory replaces the capped history, applying the N-most-recent rule
// (spec §3: "History stores at most N most-recent user/assistant/tool
// messages"). System messages are never stored here; turn.go strips them
// before returning updated history.
func (s *Session) SetHistory(history []orchestrator.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	limit := s.HistoryCap
	if limit <= 0 {
		limit = DefaultHistoryCap
	}
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	s.history = append([]orchestrator.Message{}, history...)
	s.lastActivity = time.Now()
}

// SetAttachment stores the latest frame for a slot, overwriting any
// previous frame in the same slot (spec §3: "each slot holds the most
// recent frame").
func (s *Session) SetAttachment(slot AttachmentSlot, a orchestrator.Attachment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attachments[slot] = a
}

// TakeAttachments returns the pending attachments and clears them, per
// spec §3: "Attachments are consumed by the next speech-end and then
// cleared; unused frames remain cached until superseded."
func (s *Session) TakeAttachments() []orchestrator.Attachment {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.attachments) == 0 {
		return nil
	}
	out := make([]orchestrator.Attachment, 0, len(s.attachments))
	for _, a := range s.attachments {
		out = append(out, a)
	}
	s.attachments = make(map[AttachmentSlot]orchestrator.Attachment)
	return out
}

// BeginTurn cancels any turn already in progress on this session (spec §3:
// "starting a new turn cancels the prior") and registers the new turn's
// cancel func as the active token.
func (s *Session) BeginTurn(parent context.Context) context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeTurnToken != nil {
		s.activeTurnToken()
	}
	turnCtx, cancel := context.WithCancel(parent)
	s.activeTurnToken = cancel
	s.lastActivity = time.Now()
	return turnCtx
}

// CancelActiveTurn implements barge-in: cancelling a token twice, or when
// none is active, is a no-op (spec §4.D invariant: "cancellation of the
// token is idempotent").
func (s *Session) CancelActiveTurn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeTurnToken != nil {
		s.activeTurnToken()
	}
}

// EndTurn clears the active turn token once a turn's terminal event has
// been emitted.
func (s *Session) EndTurn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeTurnToken = nil
}
