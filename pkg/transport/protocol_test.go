package transport

import (
	"encoding/json"
	"testing"
)

func TestEncodeFlattensTypeAndPayload(t *testing.T) {
	raw, err := encode(TypeReady, ServerReady{ID: "sess1", ProtocolVersion: ProtocolVersion})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if fields["type"] != TypeReady {
		t.Errorf("type = %v, want %q", fields["type"], TypeReady)
	}
	if fields["id"] != "sess1" {
		t.Errorf("id = %v, want sess1", fields["id"])
	}
}

func TestDecodeTypeReadsDiscriminant(t *testing.T) {
	msgType, err := decodeType([]byte(`{"type":"ping","timestamp":123}`))
	if err != nil {
		t.Fatalf("decodeType: %v", err)
	}
	if msgType != TypePing {
		t.Errorf("got %q, want %q", msgType, TypePing)
	}
}

func TestDecodeTypeMalformedReturnsError(t *testing.T) {
	if _, err := decodeType([]byte(`not json`)); err == nil {
		t.Fatal("expected error for malformed message")
	}
}

func TestUnknownTypeIsIgnoredNotErrored(t *testing.T) {
	msgType, err := decodeType([]byte(`{"type":"something-future"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != "something-future" {
		t.Errorf("got %q", msgType)
	}
}
