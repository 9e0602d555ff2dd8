package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/coder/websocket"

	"github.com/voxbridge-ai/voxbridge/pkg/transport"
)

// WebSocketDialer implements Dialer against a real voxbridge server,
// grounded on the same coder/websocket client the teacher's TTS provider
// uses (pkg/providers/tts/lokutor.go) and the wire shapes pkg/transport
// already defines — reused here instead of re-declared, since client and
// server speak the identical protocol (spec §6).
type WebSocketDialer struct {
	URL string

	mu      sync.Mutex
	conn    *websocket.Conn
	events  chan ServerEvent
	closeCh chan struct{}
}

// ServerEvent is one decoded server->client control message, re-exposed to
// cmd/client for rendering (transcript, llm-chunk, tts-*, etc.) without
// leaking the raw wire encoding.
type ServerEvent struct {
	Type string
	Raw  json.RawMessage
}

func NewWebSocketDialer(url string) *WebSocketDialer {
	return &WebSocketDialer{URL: url}
}

// Events returns the channel of decoded events from the most recent
// successful Dial. Call after Dial returns; the channel is replaced (and
// the old one closed) on every redial.
func (d *WebSocketDialer) Events() <-chan ServerEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.events
}

// Conn exposes the live connection for sending audio/control frames
// (cmd/client writes `audio` messages directly).
func (d *WebSocketDialer) Conn() *websocket.Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conn
}

// Dial performs the signalling handshake (spec §4.F): connect, read
// `ready`, and if sessionID is non-empty send `reconnect{sessionId}` and
// wait for `reconnect-ack`.
func (d *WebSocketDialer) Dial(ctx context.Context, sessionID string) (DialResult, error) {
	conn, _, err := websocket.Dial(ctx, d.URL, nil)
	if err != nil {
		return DialResult{}, fmt.Errorf("client: dial failed: %w", err)
	}

	_, raw, err := conn.Read(ctx)
	if err != nil {
		conn.Close(websocket.StatusAbnormalClosure, "handshake failed")
		return DialResult{}, fmt.Errorf("client: reading ready: %w", err)
	}
	var ready struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	}
	if err := json.Unmarshal(raw, &ready); err != nil || ready.Type != transport.TypeReady {
		conn.Close(websocket.StatusAbnormalClosure, "malformed ready")
		return DialResult{}, fmt.Errorf("client: expected ready, got %q", ready.Type)
	}

	result := DialResult{SessionID: ready.ID}

	if sessionID != "" {
		body, _ := json.Marshal(map[string]interface{}{"type": transport.TypeReconnect, "sessionId": sessionID})
		if err := conn.Write(ctx, websocket.MessageText, body); err != nil {
			conn.Close(websocket.StatusAbnormalClosure, "reconnect send failed")
			return DialResult{}, fmt.Errorf("client: sending reconnect: %w", err)
		}
		_, raw, err := conn.Read(ctx)
		if err != nil {
			conn.Close(websocket.StatusAbnormalClosure, "reconnect-ack failed")
			return DialResult{}, fmt.Errorf("client: reading reconnect-ack: %w", err)
		}
		var ack struct {
			Type             string `json:"type"`
			Success          bool   `json:"success"`
			SessionID        string `json:"sessionId"`
			HistoryRecovered bool   `json:"historyRecovered"`
		}
		if err := json.Unmarshal(raw, &ack); err != nil || ack.Type != transport.TypeReconnectAck || !ack.Success {
			conn.Close(websocket.StatusNormalClosure, "reconnect rejected")
			return DialResult{}, fmt.Errorf("client: reconnect rejected for session %q", sessionID)
		}
		result = DialResult{SessionID: ack.SessionID, HistoryRecovered: ack.HistoryRecovered}
	}

	d.mu.Lock()
	if d.conn != nil {
		d.conn.Close(websocket.StatusNormalClosure, "superseded by redial")
	}
	d.conn = conn
	events := make(chan ServerEvent, 64)
	d.events = events
	d.mu.Unlock()

	go d.pump(conn, events)

	return result, nil
}

// pump decodes inbound frames into ServerEvents until the connection dies,
// then closes the channel so cmd/client's range loop exits and HandleLoss
// can be invoked.
func (d *WebSocketDialer) pump(conn *websocket.Conn, events chan<- ServerEvent) {
	defer close(events)
	for {
		_, raw, err := conn.Read(context.Background())
		if err != nil {
			return
		}
		var env struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &env); err != nil {
			continue
		}
		events <- ServerEvent{Type: env.Type, Raw: raw}
	}
}

// Close tears down the live connection, if any.
func (d *WebSocketDialer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		return nil
	}
	err := d.conn.Close(websocket.StatusNormalClosure, "client closing")
	d.conn = nil
	return err
}
