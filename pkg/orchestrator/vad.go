package orchestrator

import (
	"time"
)

// Spec-recommended hysteresis bounds (§4.A): enter SPEAKING after at least
// this much continuous signal above threshold, leave SPEAKING after at
// least this much continuous silence.
const (
	DefaultVADEnterDuration = 90 * time.Millisecond
	DefaultVADExitDuration  = 500 * time.Millisecond
	// DefaultVADFrameDuration matches the 512-sample/32ms window spec §4.A
	// describes for a 16kHz neural scorer.
	DefaultVADFrameDuration = 32 * time.Millisecond
)

// RMSVAD is a simple Root Mean Square based Voice Activity Detector. It's
// useful as a lightweight, no-dependency default implementation of
// VADProvider, standing in for a neural scorer: RMS energy plays the role
// of the probability p∈[0,1] spec §4.A describes, and minConfirmed/
// silenceLimit implement the same hysteresis (T_enter/T_exit) shape.
//
// Chunks are taken as 16kHz mono 16-bit PCM (what the Segmenter feeds it),
// and silence is measured in audio time from their length, not wall-clock
// time, so audio pushed faster than real time ends speech just the same.
type RMSVAD struct {
	threshold    float64
	silenceLimit time.Duration
	isSpeaking   bool
	silenceDur   time.Duration

	// Hysteresis and confirmed speech detection
	consecutiveFrames int
	minConfirmed      int
	lastRMS           float64
}

// NewRMSVAD creates a new RMS-based VAD
func NewRMSVAD(threshold float64, silenceLimit time.Duration) *RMSVAD {
	return &RMSVAD{
		threshold:    threshold,
		silenceLimit: silenceLimit,
		minConfirmed: 7, // Require ~70-100ms of continuous sound to trigger snappier barge-in
	}
}

// SetMinConfirmed sets the number of consecutive frames needed to confirm speech start
func (v *RMSVAD) SetMinConfirmed(count int) {
	v.minConfirmed = count
}

// SetThreshold updates the RMS threshold
func (v *RMSVAD) SetThreshold(threshold float64) {
	v.threshold = threshold
}

// Threshold returns the current RMS threshold
func (v *RMSVAD) Threshold() float64 {
	return v.threshold
}

// LastRMS returns the RMS of the last processed chunk
func (v *RMSVAD) LastRMS() float64 {
	return v.lastRMS
}

// IsSpeaking returns true if speech is currently detected
func (v *RMSVAD) IsSpeaking() bool {
	return v.isSpeaking
}

func (v *RMSVAD) Process(chunk []byte) (*VADEvent, error) {
	rms := v.calculateRMS(chunk)
	v.lastRMS = rms
	now := time.Now()

	if rms > v.threshold {
		v.consecutiveFrames++
		if !v.isSpeaking {
			// Require a sequence of frames above threshold to filter out spikes and echo-onset pops
			if v.consecutiveFrames >= v.minConfirmed {
				v.isSpeaking = true
				return &VADEvent{Type: VADSpeechStart, Timestamp: now.UnixMilli()}, nil
			}
			return nil, nil // Still confirming
		}
		v.silenceDur = 0 // Reset silence timer
		return nil, nil
	}

	// Below threshold
	v.consecutiveFrames = 0

	if v.isSpeaking {
		v.silenceDur += time.Duration(len(chunk)/2) * time.Second / SegmenterOutputRate

		if v.silenceDur >= v.silenceLimit {
			v.isSpeaking = false
			v.silenceDur = 0
			return &VADEvent{Type: VADSpeechEnd, Timestamp: now.UnixMilli()}, nil
		}
	}

	return &VADEvent{Type: VADSilence, Timestamp: now.UnixMilli()}, nil
}

func (v *RMSVAD) Name() string {
	return "rms_vad"
}

func (v *RMSVAD) Reset() {
	v.isSpeaking = false
	v.silenceDur = 0
	v.consecutiveFrames = 0
}

func (v *RMSVAD) Clone() VADProvider {
	return &RMSVAD{
		threshold:    v.threshold,
		silenceLimit: v.silenceLimit,
		minConfirmed: v.minConfirmed,
	}
}

func (v *RMSVAD) calculateRMS(chunk []byte) float64 {
	return rms(chunk)
}

// NewHysteresisRMSVAD builds an RMSVAD whose minConfirmed/silenceLimit are
// derived from the spec §4.A hysteresis durations (T_enter/T_exit) and a
// caller-supplied frame duration, instead of being hand-picked.
func NewHysteresisRMSVAD(threshold float64, frameDuration, enterDuration, exitDuration time.Duration) *RMSVAD {
	v := NewRMSVAD(threshold, exitDuration)
	if frameDuration > 0 {
		frames := int(enterDuration / frameDuration)
		if frames < 1 {
			frames = 1
		}
		v.minConfirmed = frames
	}
	return v
}
