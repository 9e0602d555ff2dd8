package orchestrator

import (
	"math"
	"testing"
)

func TestBytesToSamplesRoundTrip(t *testing.T) {
	original := []float64{0.5, -0.5, 0.25, -1.0, 1.0, 0.0}
	pcm := samplesToBytes(original)
	back := bytesToSamples(pcm)

	if len(back) != len(original) {
		t.Fatalf("length mismatch: got %d want %d", len(back), len(original))
	}
	for i := range original {
		if math.Abs(back[i]-original[i]) > 0.001 {
			t.Errorf("sample %d: got %f want %f", i, back[i], original[i])
		}
	}
}

func TestCalculateEnergySilence(t *testing.T) {
	silence := make([]byte, 320)
	if got := rms(silence); got != 0 {
		t.Errorf("rms of silence = %f, want 0", got)
	}
}

func TestCalculateEnergyLoud(t *testing.T) {
	samples := make([]float64, 160)
	for i := range samples {
		samples[i] = 1.0
	}
	pcm := samplesToBytes(samples)
	got := rms(pcm)
	if got < 0.9 || got > 1.01 {
		t.Errorf("rms of full-scale tone = %f, want ~1.0", got)
	}
}

func TestResamplePCMSameRateIsNoop(t *testing.T) {
	samples := []float64{0.1, 0.2, 0.3, 0.4}
	pcm := samplesToBytes(samples)
	out := resamplePCM(pcm, 16000, 16000)
	if len(out) != len(pcm) {
		t.Fatalf("same-rate resample changed length: got %d want %d", len(out), len(pcm))
	}
}

func TestResamplePCMDownsampleHalvesLength(t *testing.T) {
	samples := make([]float64, 100)
	for i := range samples {
		samples[i] = float64(i) / 100
	}
	pcm := samplesToBytes(samples)
	out := resamplePCM(pcm, 16000, 8000)
	outSamples := len(out) / 2
	if outSamples < 45 || outSamples > 55 {
		t.Errorf("downsample 16k->8k of 100 samples produced %d samples, want ~50", outSamples)
	}
}

func TestResamplePCMEmptyInput(t *testing.T) {
	out := resamplePCM(nil, 16000, 8000)
	if out != nil {
		t.Errorf("resamplePCM(nil) = %v, want nil", out)
	}
}
