// Package transport implements the wire protocol and per-client Connection
// Loop (spec §4.F, §6): the signalling handshake, heartbeat, reconnect
// handling, and routing of orchestrator events onto the control channel.
package transport

import (
	"encoding/json"
	"fmt"

	"github.com/voxbridge-ai/voxbridge/pkg/orchestrator"
)

// ProtocolVersion is declared in every ready message.
const ProtocolVersion = 1

// Message type discriminants (spec §6).
const (
	TypePing          = "ping"
	TypeOffer         = "offer"
	TypeReconnect     = "reconnect"
	TypeAudio         = "audio"
	TypeAttachments   = "attachments"
	TypeReady         = "ready"
	TypePong          = "pong"
	TypeSignal        = "signal"
	TypeReconnectAck  = "reconnect-ack"
	TypeTranscript    = "transcript"
	TypeLLMChunk      = "llm-chunk"
	TypeLLMFull       = "llm"
	TypeTTSStart      = "tts-start"
	TypeTTSChunk      = "tts-chunk"
	TypeTTSComplete   = "tts-complete"
	TypeTTSCancelled  = "tts-cancelled"
	TypeSpeechStart   = "speech-start"
	TypeSpeechEnd     = "speech-end"
	TypeToolCallStart = "tool-call-start"
	TypeToolCallEnd   = "tool-call-end"
	TypeStageChange   = "stage-change"
	TypeError         = "error"
)

// ICEServer mirrors the shape a browser RTCPeerConnection expects.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// AttachmentSource names which of the session's two latest-wins slots
// (spec §3) an attachment belongs to. It is carried on the wire
// explicitly rather than inferred from MimeType, which names the image
// encoding (e.g. "image/jpeg") and says nothing about the capture source.
type AttachmentSource string

const (
	AttachmentSourceCamera AttachmentSource = "camera"
	AttachmentSourceScreen AttachmentSource = "screen"
)

// Attachment is the wire shape of orchestrator.Attachment.
type Attachment struct {
	Data     string           `json:"data"`
	MimeType string           `json:"mimeType"`
	Alt      string           `json:"alt,omitempty"`
	Source   AttachmentSource `json:"source,omitempty"`
}

func toWireAttachments(in []orchestrator.Attachment) []Attachment {
	if len(in) == 0 {
		return nil
	}
	out := make([]Attachment, len(in))
	for i, a := range in {
		out[i] = Attachment{Data: a.Data, MimeType: a.MimeType, Alt: a.Alt}
	}
	return out
}

func fromWireAttachments(in []Attachment) []orchestrator.Attachment {
	if len(in) == 0 {
		return nil
	}
	out := make([]orchestrator.Attachment, len(in))
	for i, a := range in {
		out[i] = orchestrator.Attachment{Data: a.Data, MimeType: a.MimeType, Alt: a.Alt}
	}
	return out
}

// envelopeType is used to sniff the "type" discriminant before decoding the
// rest of a control message into its concrete payload.
type envelopeType struct {
	Type string `json:"type"`
}

// decodeType returns the message's "type" field without touching the rest
// of the payload.
func decodeType(raw []byte) (string, error) {
	var e envelopeType
	if err := json.Unmarshal(raw, &e); err != nil {
		return "", fmt.Errorf("transport: malformed control message: %w", err)
	}
	return e.Type, nil
}

// encode marshals a flat object combining the type discriminant with the
// payload's own fields, matching the wire shapes in spec §6 (e.g.
// `ready {id, protocolVersion, iceServers}`, not a nested envelope).
func encode(msgType string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["type"] = msgType
	return json.Marshal(fields)
}

// --- client -> server payloads ---

type ClientPing struct {
	Timestamp int64 `json:"timestamp"`
}

type ClientOffer struct {
	Signal string `json:"signal"`
}

type ClientReconnect struct {
	SessionID string `json:"sessionId"`
}

// ClientAudio is the legacy fallback used when no media track is
// negotiated: raw PCM travels base64-encoded inside a control message.
type ClientAudio struct {
	Data        string       `json:"data"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

type ClientAttachments struct {
	Attachments []Attachment `json:"attachments"`
}

// --- server -> client payloads ---

type ServerReady struct {
	ID              string      `json:"id"`
	ProtocolVersion int         `json:"protocolVersion"`
	ICEServers      []ICEServer `json:"iceServers,omitempty"`
}

type ServerPong struct {
	Timestamp int64 `json:"timestamp"`
}

type ServerSignal struct {
	Signal string `json:"signal"`
}

type ServerReconnectAck struct {
	Success          bool   `json:"success"`
	SessionID        string `json:"sessionId"`
	HistoryRecovered bool   `json:"historyRecovered"`
}

type ServerTranscript struct {
	Text    string `json:"text"`
	IsFinal bool   `json:"isFinal"`
}

type ServerLLMChunk struct {
	Content string `json:"content"`
	Done    bool   `json:"done"`
}

type ServerLLMFull struct {
	Text string `json:"text"`
}

// ServerTTSChunk is only emitted when no media track carries audio (the
// legacy control-channel fallback, spec §6).
type ServerTTSChunk struct {
	Format     string `json:"format"`
	SampleRate int    `json:"sampleRate"`
	Data       string `json:"data"`
}

type ServerToolCallStart struct {
	Name      string                 `json:"name"`
	CallID    string                 `json:"callId"`
	Arguments map[string]interface{} `json:"arguments"`
}

type ServerToolCallEnd struct {
	CallID     string      `json:"callId"`
	Result     interface{} `json:"result,omitempty"`
	Error      string      `json:"error,omitempty"`
	DurationMs int64       `json:"durationMs"`
}

type ServerStageChange struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason"`
}

type ServerError struct {
	Code    orchestrator.ErrorCode `json:"code"`
	Message string                 `json:"message"`
}
