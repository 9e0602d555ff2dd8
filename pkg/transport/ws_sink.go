package transport

import (
	"context"
	"sync"

	"github.com/coder/websocket"
)

// WebSocketSink adapts a *websocket.Conn to ControlSink, serializing one
// flat JSON object per send (spec §6 shapes). Grounded on the same
// coder/websocket client the TTS provider already uses
// (pkg/providers/tts/lokutor.go), here on the server side of the
// connection instead.
type WebSocketSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func NewWebSocketSink(conn *websocket.Conn) *WebSocketSink {
	return &WebSocketSink{conn: conn}
}

func (s *WebSocketSink) Send(ctx context.Context, msgType string, payload interface{}) error {
	body, err := encode(msgType, payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Write(ctx, websocket.MessageText, body)
}

// ReadMessage blocks for the next inbound frame, used by the accept loop
// to feed Connection.Dispatch.
func (s *WebSocketSink) ReadMessage(ctx context.Context) (websocket.MessageType, []byte, error) {
	return s.conn.Read(ctx)
}

func (s *WebSocketSink) Close(code websocket.StatusCode, reason string) error {
	return s.conn.Close(code, reason)
}
