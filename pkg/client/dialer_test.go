package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/voxbridge-ai/voxbridge/pkg/transport"
)

// fakeServer accepts one websocket connection, sends `ready`, and replies to
// a `reconnect` message with a scripted `reconnect-ack`, mirroring the real
// Connection Loop's handshake (spec §4.F) just enough to exercise
// WebSocketDialer end to end.
func fakeServer(t *testing.T, ackSuccess bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		ctx := context.Background()

		readyBody, _ := json.Marshal(map[string]interface{}{"type": transport.TypeReady, "id": "sess-1", "protocolVersion": 1})
		if err := conn.Write(ctx, websocket.MessageText, readyBody); err != nil {
			return
		}

		_, raw, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var msg struct {
			Type      string `json:"type"`
			SessionID string `json:"sessionId"`
		}
		_ = json.Unmarshal(raw, &msg)
		if msg.Type == transport.TypeReconnect {
			ack, _ := json.Marshal(map[string]interface{}{
				"type": transport.TypeReconnectAck, "success": ackSuccess,
				"sessionId": msg.SessionID, "historyRecovered": ackSuccess,
			})
			conn.Write(ctx, websocket.MessageText, ack)
		}

		// Keep the connection open briefly so pump() has something to read
		// before the handler returns and closes it.
		time.Sleep(50 * time.Millisecond)
	}))
}

func wsURL(httpURL string) string {
	return "ws" + httpURL[len("http"):]
}

func TestWebSocketDialerFreshConnectReadsReady(t *testing.T) {
	srv := fakeServer(t, true)
	defer srv.Close()

	d := NewWebSocketDialer(wsURL(srv.URL))
	result, err := d.Dial(context.Background(), "")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if result.SessionID != "sess-1" {
		t.Errorf("SessionID = %q, want sess-1", result.SessionID)
	}
	d.Close()
}

func TestWebSocketDialerReconnectSendsSessionID(t *testing.T) {
	srv := fakeServer(t, true)
	defer srv.Close()

	d := NewWebSocketDialer(wsURL(srv.URL))
	result, err := d.Dial(context.Background(), "existing-session")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if result.SessionID != "existing-session" || !result.HistoryRecovered {
		t.Errorf("unexpected reconnect result: %+v", result)
	}
	d.Close()
}

func TestWebSocketDialerReconnectRejected(t *testing.T) {
	srv := fakeServer(t, false)
	defer srv.Close()

	d := NewWebSocketDialer(wsURL(srv.URL))
	if _, err := d.Dial(context.Background(), "stale-session"); err == nil {
		t.Fatal("expected error for rejected reconnect")
	}
	d.Close()
}
