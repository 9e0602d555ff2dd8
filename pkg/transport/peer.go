package transport

import (
	"context"
	"errors"
)

// PeerConnection abstracts the WebRTC media plane behind a narrow
// interface, grounded on MrWong99-glyphoxa's pkg/audio/webrtc.PeerTransport:
// decouples the Connection Loop from the pion/webrtc dependency so it can
// be driven and tested without a real peer. A concrete pion-backed
// implementation is a later integration (same deferral the glyphoxa
// example itself documents); until then AudioFallbackPeer below serves
// the legacy control-channel audio path spec §6 already specifies.
type PeerConnection interface {
	// CreateAnswer processes a client SDP offer and returns the server's
	// SDP answer.
	CreateAnswer(ctx context.Context, offerSDP string) (answerSDP string, err error)
	// AddICECandidate adds a remote ICE candidate line.
	AddICECandidate(candidate string) error
	// AudioInput delivers PCM frames decoded from the inbound media track.
	AudioInput() <-chan []byte
	// SendAudio writes a PCM frame to the outbound reverse media track.
	SendAudio(frame []byte) error
	Close() error
}

var ErrNoMediaTrack = errors.New("transport: no negotiated media track")

// AudioFallbackPeer is the PeerConnection used when no WebRTC track is
// negotiated: audio moves over the control channel's `audio{data}` /
// `tts-chunk{data}` messages instead (spec §6 "legacy fallback when no
// media track"). SendAudio always returns ErrNoMediaTrack, which makes the
// Connection Loop send TTS audio as `tts-chunk` messages; AudioInput is
// never fed, since inbound audio is routed from decoded control messages.
type AudioFallbackPeer struct {
	in chan []byte
}

func NewAudioFallbackPeer() *AudioFallbackPeer {
	return &AudioFallbackPeer{in: make(chan []byte, 32)}
}

func (p *AudioFallbackPeer) CreateAnswer(ctx context.Context, offerSDP string) (string, error) {
	return "", ErrNoMediaTrack
}

func (p *AudioFallbackPeer) AddICECandidate(candidate string) error { return ErrNoMediaTrack }

func (p *AudioFallbackPeer) AudioInput() <-chan []byte { return p.in }

func (p *AudioFallbackPeer) SendAudio(frame []byte) error { return ErrNoMediaTrack }

func (p *AudioFallbackPeer) Close() error {
	close(p.in)
	return nil
}
