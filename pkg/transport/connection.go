package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/voxbridge-ai/voxbridge/pkg/orchestrator"
	"github.com/voxbridge-ai/voxbridge/pkg/session"
)

// HeartbeatInterval and HeartbeatTimeout implement spec §4.F: "Maintain a
// 15-s heartbeat (ping/pong) with a timeout of 45 s (3 missed)".
const (
	HeartbeatInterval = 15 * time.Second
	HeartbeatTimeout  = 45 * time.Second
	MaxMissedBeats    = 3
)

// ControlSink is the one-method seam the Connection Loop writes every
// outbound control message through; a real *websocket.Conn satisfies it via
// WebSocketSink, tests inject a recording fake.
type ControlSink interface {
	Send(ctx context.Context, msgType string, payload interface{}) error
}

// SessionHost is what the Connection Loop needs from the Session Manager:
// just enough to satisfy spec §4.F without transport depending on how
// sessions are constructed.
type SessionHost interface {
	Lookup(id string) (*session.Session, bool)
	Create(id string, proto session.Prototype) *session.Session
	Touch(id string) bool
}

// Connection is the per-transport Connection Loop (spec §4.F): one
// instance per client, owning the handshake, heartbeat, reconnect
// handling, and event routing between the VAD segmenter and the turn
// pipeline.
type Connection struct {
	sink    ControlSink
	peer    PeerConnection
	manager SessionHost
	logger  orchestrator.Logger

	mu        sync.Mutex
	session   *session.Session
	segmenter *orchestrator.Segmenter
	lastPong  time.Time
	missed    int
}

func NewConnection(sink ControlSink, peer PeerConnection, manager SessionHost, logger orchestrator.Logger) *Connection {
	if logger == nil {
		logger = &orchestrator.NoOpLogger{}
	}
	return &Connection{sink: sink, peer: peer, manager: manager, logger: logger, lastPong: time.Now()}
}

// BindSession attaches the session this connection serves, plus the VAD
// segmenter that turns its raw audio into utterances.
func (c *Connection) BindSession(s *session.Session, segmenter *orchestrator.Segmenter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = s
	c.segmenter = segmenter
}

// SendReady performs the first half of the signalling handshake (spec
// §4.F): "on accept, send ready{id, protocolVersion, iceServers?}".
func (c *Connection) SendReady(ctx context.Context, sessionID string, iceServers []ICEServer) error {
	return c.sink.Send(ctx, TypeReady, ServerReady{ID: sessionID, ProtocolVersion: ProtocolVersion, ICEServers: iceServers})
}

// Dispatch decodes one inbound control message and routes it. Unknown
// types are ignored per spec §6.
func (c *Connection) Dispatch(ctx context.Context, raw []byte) error {
	msgType, err := decodeType(raw)
	if err != nil {
		return c.sendError(ctx, orchestrator.ErrCodeInvalidMessage, err.Error())
	}

	switch msgType {
	case TypePing:
		var p ClientPing
		if err := json.Unmarshal(raw, &p); err != nil {
			return c.sendError(ctx, orchestrator.ErrCodeInvalidMessage, err.Error())
		}
		return c.sink.Send(ctx, TypePong, ServerPong{Timestamp: p.Timestamp})

	case TypeOffer:
		var o ClientOffer
		if err := json.Unmarshal(raw, &o); err != nil {
			return c.sendError(ctx, orchestrator.ErrCodeInvalidMessage, err.Error())
		}
		answer, err := c.peer.CreateAnswer(ctx, o.Signal)
		if err != nil {
			// No negotiated media track: audio flows over the legacy
			// control-channel fallback instead. Not an error to the client.
			c.logger.Debug("no media track negotiated, falling back to control-channel audio", "error", err)
			return nil
		}
		return c.sink.Send(ctx, TypeSignal, ServerSignal{Signal: answer})

	case TypeReconnect:
		var r ClientReconnect
		if err := json.Unmarshal(raw, &r); err != nil {
			return c.sendError(ctx, orchestrator.ErrCodeInvalidMessage, err.Error())
		}
		return c.handleReconnect(ctx, r.SessionID)

	case TypeAudio:
		var a ClientAudio
		if err := json.Unmarshal(raw, &a); err != nil {
			return c.sendError(ctx, orchestrator.ErrCodeInvalidMessage, err.Error())
		}
		return c.handleAudio(ctx, a)

	case TypeAttachments:
		var a ClientAttachments
		if err := json.Unmarshal(raw, &a); err != nil {
			return c.sendError(ctx, orchestrator.ErrCodeInvalidMessage, err.Error())
		}
		c.storeAttachments(a.Attachments)
		return nil

	default:
		return nil
	}
}

func (c *Connection) handleReconnect(ctx context.Context, sessionID string) error {
	s, ok := c.manager.Lookup(sessionID)
	if !ok {
		return c.sink.Send(ctx, TypeReconnectAck, ServerReconnectAck{Success: false, SessionID: sessionID, HistoryRecovered: false})
	}
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()
	historyRecovered := len(s.History()) > 0
	return c.sink.Send(ctx, TypeReconnectAck, ServerReconnectAck{Success: true, SessionID: sessionID, HistoryRecovered: historyRecovered})
}

func (c *Connection) storeAttachments(atts []Attachment) {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s == nil {
		return
	}
	for _, wa := range atts {
		s.SetAttachment(slotForSource(wa.Source), orchestrator.Attachment{Data: wa.Data, MimeType: wa.MimeType, Alt: wa.Alt})
	}
}

// slotForSource maps the wire AttachmentSource to the session's slot,
// defaulting to the camera slot when unspecified.
func slotForSource(src AttachmentSource) session.AttachmentSlot {
	if src == AttachmentSourceScreen {
		return session.SlotScreen
	}
	return session.SlotCamera
}

// handleAudio decodes the base64 PCM payload and feeds it through the
// bound segmenter, then reacts to whatever VAD events fall out: barge-in on
// speech-start, a new turn on speech-end (spec §4.F).
func (c *Connection) handleAudio(ctx context.Context, a ClientAudio) error {
	c.mu.Lock()
	s, seg := c.session, c.segmenter
	c.mu.Unlock()
	if s == nil || seg == nil {
		return c.sendError(ctx, orchestrator.ErrCodeSessionNotFound, "no session bound to this connection")
	}

	pcm, err := base64.StdEncoding.DecodeString(a.Data)
	if err != nil {
		return c.sendError(ctx, orchestrator.ErrCodeInvalidAudioFormat, err.Error())
	}
	for _, wa := range a.Attachments {
		s.SetAttachment(slotForSource(wa.Source), orchestrator.Attachment{Data: wa.Data, MimeType: wa.MimeType, Alt: wa.Alt})
	}

	events, err := seg.Push(pcm)
	if err != nil {
		return c.sendError(ctx, orchestrator.ErrCodeVADError, err.Error())
	}

	for _, ev := range events {
		switch ev.Type {
		case orchestrator.SegmentSpeechStart:
			s.CancelActiveTurn()
			if err := c.sink.Send(ctx, TypeTTSCancelled, struct{}{}); err != nil {
				return err
			}
			if err := c.sink.Send(ctx, TypeSpeechStart, struct{}{}); err != nil {
				return err
			}
		case orchestrator.SegmentSpeechEnd:
			if err := c.sink.Send(ctx, TypeSpeechEnd, struct{}{}); err != nil {
				return err
			}
			c.runTurn(ctx, s, ev.WAV)
		}
	}
	return nil
}

// runTurn starts session.runTurn(pcm) (spec §4.F) on its own goroutine so
// Dispatch keeps draining inbound control traffic while the turn streams
// its events out.
func (c *Connection) runTurn(ctx context.Context, s *session.Session, wav []byte) {
	go func() {
		turnCtx := s.BeginTurn(ctx)
		defer s.EndTurn()

		in := orchestrator.TurnInput{
			PCM:          wav,
			Attachments:  s.TakeAttachments(),
			History:      s.History(),
			SystemPrompt: s.SystemPrompt,
			Playbook:     s.Playbook,
		}

		history := s.Runner.RunTurnStream(turnCtx, in, func(ev orchestrator.TurnEvent) {
			if err := c.emitTurnEvent(ctx, ev); err != nil {
				c.logger.Warn("failed to emit turn event", "error", err)
			}
		})
		s.SetHistory(history)
	}()
}

// emitTurnEvent serializes one TurnEvent per §6's wire shapes. Binary TTS
// PCM is meant for the reverse media track, not the control channel (spec
// §4.F); AudioFallbackPeer has none, so tts-chunk carries PCM inline as the
// documented legacy fallback.
func (c *Connection) emitTurnEvent(ctx context.Context, ev orchestrator.TurnEvent) error {
	switch ev.Type {
	case orchestrator.EvtTranscript:
		return c.sink.Send(ctx, TypeTranscript, ServerTranscript{Text: ev.Text, IsFinal: ev.IsFinal})
	case orchestrator.EvtLLMChunk:
		return c.sink.Send(ctx, TypeLLMChunk, ServerLLMChunk{Content: ev.Content, Done: ev.Done})
	case orchestrator.EvtLLMFull:
		return c.sink.Send(ctx, TypeLLMFull, ServerLLMFull{Text: ev.Content})
	case orchestrator.EvtTTSStart:
		return c.sink.Send(ctx, TypeTTSStart, struct{}{})
	case orchestrator.EvtTTSChunk:
		if err := c.peer.SendAudio(ev.PCM); err == ErrNoMediaTrack {
			return c.sink.Send(ctx, TypeTTSChunk, ServerTTSChunk{
				Format: "pcm_s16le", SampleRate: orchestrator.SegmenterOutputRate,
				Data: base64.StdEncoding.EncodeToString(ev.PCM),
			})
		}
		return nil
	case orchestrator.EvtTTSComplete:
		return c.sink.Send(ctx, TypeTTSComplete, struct{}{})
	case orchestrator.EvtTTSCancelled:
		return c.sink.Send(ctx, TypeTTSCancelled, struct{}{})
	case orchestrator.EvtToolCallStart:
		return c.sink.Send(ctx, TypeToolCallStart, ServerToolCallStart{Name: ev.ToolName, CallID: ev.ToolCallID, Arguments: ev.ToolArgs})
	case orchestrator.EvtToolCallEnd:
		return c.sink.Send(ctx, TypeToolCallEnd, ServerToolCallEnd{CallID: ev.ToolCallID, Result: ev.ToolResult, Error: ev.ToolErr, DurationMs: ev.DurationMs})
	case orchestrator.EvtStageChange:
		return c.sink.Send(ctx, TypeStageChange, ServerStageChange{From: ev.FromStage, To: ev.ToStage, Reason: ev.Reason})
	case orchestrator.EvtError:
		return c.sendError(ctx, ev.ErrCode, errString(ev.Err))
	default:
		return nil
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (c *Connection) sendError(ctx context.Context, code orchestrator.ErrorCode, message string) error {
	return c.sink.Send(ctx, TypeError, ServerError{Code: code, Message: message})
}

// RecordPong resets the missed-heartbeat counter; called when a client
// pong-equivalent (or any inbound traffic) is observed.
func (c *Connection) RecordPong() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastPong = time.Now()
	c.missed = 0
}

// CheckHeartbeat is invoked once per HeartbeatInterval by the caller's
// ticker loop. It reports whether the connection has exceeded
// HeartbeatTimeout (3 missed beats) and should be closed.
func (c *Connection) CheckHeartbeat() (expired bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if time.Since(c.lastPong) <= HeartbeatInterval {
		return false
	}
	c.missed++
	return c.missed >= MaxMissedBeats
}

// RunHeartbeat blocks, ticking every HeartbeatInterval, until ctx is
// cancelled or the heartbeat times out, in which case it returns a
// fatal-to-connection error (spec §4.F, §7).
func (c *Connection) RunHeartbeat(ctx context.Context) error {
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if c.CheckHeartbeat() {
				return fmt.Errorf("transport: heartbeat timeout after %d missed beats", MaxMissedBeats)
			}
		}
	}
}
