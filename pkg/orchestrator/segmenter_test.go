package orchestrator

import (
	"testing"
	"time"
)

func silentFrame(n int) []byte { return make([]byte, n) }

func loudFrame(n int) []byte {
	samples := make([]float64, n/2)
	for i := range samples {
		samples[i] = 0.9
	}
	return samplesToBytes(samples)
}

func TestNewSegmenterNilVAD(t *testing.T) {
	_, err := NewSegmenter(nil, 16000)
	if err != ErrVADInitFailed {
		t.Fatalf("expected ErrVADInitFailed, got %v", err)
	}
}

func TestSegmenterEmitsSpeechStartAndEnd(t *testing.T) {
	vad := NewHysteresisRMSVAD(0.3, DefaultVADFrameDuration, 30*time.Millisecond, 60*time.Millisecond)
	seg, err := NewSegmenter(vad, 16000)
	if err != nil {
		t.Fatalf("NewSegmenter: %v", err)
	}

	frameBytes := 320 // 10ms @16kHz mono 16-bit
	sawStart := false
	var wav []byte

	for i := 0; i < 10; i++ {
		events, err := seg.Push(loudFrame(frameBytes))
		if err != nil {
			t.Fatalf("Push: %v", err)
		}
		for _, ev := range events {
			if ev.Type == SegmentSpeechStart {
				sawStart = true
			}
		}
	}
	if !sawStart {
		t.Fatal("expected speech-start event during sustained loud audio")
	}

	for i := 0; i < 10; i++ {
		events, err := seg.Push(silentFrame(frameBytes))
		if err != nil {
			t.Fatalf("Push: %v", err)
		}
		for _, ev := range events {
			if ev.Type == SegmentSpeechEnd {
				wav = ev.WAV
			}
		}
	}
	if wav == nil {
		t.Fatal("expected speech-end event after sustained silence")
	}
	if string(wav[:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Errorf("speech-end payload is not a RIFF WAVE: %x", wav[:12])
	}
}

func TestSegmenterDropsShortUtterance(t *testing.T) {
	vad := NewHysteresisRMSVAD(0.3, DefaultVADFrameDuration, 1*time.Millisecond, 5*time.Millisecond)
	seg, err := NewSegmenter(vad, 16000)
	if err != nil {
		t.Fatalf("NewSegmenter: %v", err)
	}

	events, _ := seg.Push(loudFrame(64))
	for _, ev := range events {
		if ev.Type == SegmentSpeechEnd {
			t.Fatal("did not expect a speech-end on the very first short frame")
		}
	}

	events, _ = seg.Push(silentFrame(3200))
	for _, ev := range events {
		if ev.Type == SegmentSpeechEnd {
			t.Fatal("very short utterance below MinUtteranceDuration should be dropped, not emitted")
		}
	}
}

func TestSegmenterResetClearsState(t *testing.T) {
	vad := NewHysteresisRMSVAD(0.3, DefaultVADFrameDuration, 1*time.Millisecond, 500*time.Millisecond)
	seg, err := NewSegmenter(vad, 16000)
	if err != nil {
		t.Fatalf("NewSegmenter: %v", err)
	}
	seg.Push(loudFrame(3200))
	seg.Reset()
	if seg.speaking {
		t.Error("Reset should clear speaking state")
	}
	if seg.accumulator != nil {
		t.Error("Reset should clear the accumulator")
	}
}
