package orchestrator

import (
	"errors"
	"time"

	"github.com/voxbridge-ai/voxbridge/pkg/audio"
)

const (
	// SegmenterOutputRate is the fixed output sample rate spec §4.A requires
	// for both VAD scoring and the emitted utterance WAV.
	SegmenterOutputRate = 16000

	// PreRollDuration is how much audio before a confirmed speech-start is
	// prepended to the accumulator, so speech that began before the VAD
	// fired isn't lost.
	PreRollDuration = 300 * time.Millisecond

	// MaxUtteranceDuration forces a synthetic speech-end once exceeded.
	MaxUtteranceDuration = 30 * time.Second

	// MinUtteranceDuration is the shortest accumulator (after pre-roll) a
	// speech-end is allowed to carry; anything shorter is dropped silently
	// (spec §4.A edge case: no turn is started).
	MinUtteranceDuration = 100 * time.Millisecond
)

// ErrVADInitFailed is returned by NewSegmenter when no VADProvider is
// supplied (vad is nil), matching spec §4.A's
// "initialization error, fatal for that connection only".
var ErrVADInitFailed = errors.New("vad initialization failed")

// SegmentEvent is the Segmenter's output: either a bare speech-start or a
// speech-end carrying the framed WAV payload.
type SegmentEvent struct {
	Type SegmentEventType
	// WAV is populated only for SegmentSpeechEnd: the RIFF-framed, 16kHz
	// mono, 16-bit PCM utterance including pre-roll.
	WAV []byte
}

type SegmentEventType string

const (
	SegmentSpeechStart SegmentEventType = "speech-start"
	SegmentSpeechEnd   SegmentEventType = "speech-end"
)

// Segmenter consumes a stream of PCM frames at an arbitrary input rate,
// resamples to 16kHz, runs them through a VADProvider, and emits speech-start
// / speech-end events per spec §4.A. It owns a circular pre-roll buffer so
// audio preceding a confirmed speech-start is not lost.
type Segmenter struct {
	vad       VADProvider
	inputRate int

	preRoll       []byte
	preRollBudget int // bytes; PreRollDuration worth of 16kHz mono 16-bit PCM

	accumulator  []byte
	speaking     bool
	speechFrames int
	startedAt    time.Time

	maxAccumBytes int
	minAccumBytes int
}

// NewSegmenter builds a Segmenter around vad, resampling incoming audio from
// inputRate to SegmenterOutputRate before scoring. Returns ErrVADInitFailed
// if vad is nil; otherwise it resets vad, which cannot fail.
func NewSegmenter(vad VADProvider, inputRate int) (*Segmenter, error) {
	if vad == nil {
		return nil, ErrVADInitFailed
	}
	vad.Reset()

	bytesPerSec := SegmenterOutputRate * 2 // mono, 16-bit
	return &Segmenter{
		vad:           vad,
		inputRate:     inputRate,
		preRollBudget: int(float64(bytesPerSec) * PreRollDuration.Seconds()),
		maxAccumBytes: int(float64(bytesPerSec) * MaxUtteranceDuration.Seconds()),
		minAccumBytes: int(float64(bytesPerSec) * MinUtteranceDuration.Seconds()),
	}, nil
}

// Push feeds one chunk of input-rate PCM through the segmenter, returning
// zero or more SegmentEvents. The caller should process frames in order;
// Push is not safe for concurrent use.
func (s *Segmenter) Push(chunk []byte) ([]SegmentEvent, error) {
	resampled := resamplePCM(chunk, s.inputRate, SegmenterOutputRate)
	if len(resampled) == 0 {
		return nil, nil
	}

	var events []SegmentEvent

	vadEvent, err := s.vad.Process(resampled)
	if err != nil {
		return events, newClassifiedError(ErrCodeVADError, err)
	}

	if !s.speaking {
		s.appendPreRoll(resampled)
	}

	if vadEvent != nil {
		switch vadEvent.Type {
		case VADSpeechStart:
			s.speaking = true
			s.startedAt = time.Now()
			// resampled is already the newest sample in preRoll; don't
			// append it twice.
			s.accumulator = append(s.accumulator, s.preRoll...)
			events = append(events, SegmentEvent{Type: SegmentSpeechStart})
			return events, nil
		case VADSpeechEnd:
			ev, ok := s.finishUtterance()
			if ok {
				events = append(events, ev)
			}
			return events, nil
		}
	}

	if s.speaking {
		s.accumulator = append(s.accumulator, resampled...)
		if len(s.accumulator) >= s.maxAccumBytes {
			ev, ok := s.finishUtterance()
			if ok {
				events = append(events, ev)
			}
		}
	}

	return events, nil
}

// Reset clears all in-progress state, used when a connection resets or a
// barge-in discards the current utterance.
func (s *Segmenter) Reset() {
	s.vad.Reset()
	s.preRoll = nil
	s.accumulator = nil
	s.speaking = false
	s.speechFrames = 0
}

func (s *Segmenter) appendPreRoll(resampled []byte) {
	s.preRoll = append(s.preRoll, resampled...)
	if len(s.preRoll) > s.preRollBudget {
		s.preRoll = s.preRoll[len(s.preRoll)-s.preRollBudget:]
	}
}

func (s *Segmenter) finishUtterance() (SegmentEvent, bool) {
	defer func() {
		s.speaking = false
		s.accumulator = nil
		s.preRoll = nil
	}()

	if len(s.accumulator) < s.minAccumBytes {
		return SegmentEvent{}, false
	}

	wav := audio.NewWavBuffer(s.accumulator, SegmenterOutputRate)
	return SegmentEvent{Type: SegmentSpeechEnd, WAV: wav}, true
}
