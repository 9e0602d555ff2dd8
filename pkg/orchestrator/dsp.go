package orchestrator

import "math"

// bytesToSamples converts a 16-bit little-endian PCM byte slice to float64
// samples in [-1, 1]. Lifted from the teacher's echo-suppression math (see
// DESIGN.md) and reused here for RMS scoring and resampling — the AEC
// feature it used to back is out of scope (spec.md §1 Non-goals).
func bytesToSamples(data []byte) []float64 {
	samples := make([]float64, 0, len(data)/2)
	for i := 0; i < len(data)-1; i += 2 {
		sample := int16(data[i]) | (int16(data[i+1]) << 8)
		samples = append(samples, float64(sample)/32768.0)
	}
	return samples
}

// samplesToBytes is the inverse of bytesToSamples.
func samplesToBytes(samples []float64) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(s * 32767)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// calculateEnergy is the sum of squared samples, used by RMSVAD.
func calculateEnergy(samples []float64) float64 {
	energy := 0.0
	for _, s := range samples {
		energy += s * s
	}
	return energy
}

// resamplePCM converts 16-bit PCM from fromRate to toRate using linear
// interpolation. This is the "simpler" resampling path spec §4.A allows
// ("or, simpler, stores only the 16kHz stream") — good enough for VAD
// scoring and STT input without needing a polyphase filter bank.
func resamplePCM(pcm []byte, fromRate, toRate int) []byte {
	if len(pcm) == 0 {
		return nil
	}
	if fromRate == toRate || len(pcm) < 2 {
		out := make([]byte, len(pcm))
		copy(out, pcm)
		return out
	}

	in := bytesToSamples(pcm)
	if len(in) == 0 {
		return nil
	}

	ratio := float64(fromRate) / float64(toRate)
	outLen := int(float64(len(in)) / ratio)
	if outLen < 1 {
		outLen = 1
	}
	out := make([]float64, outLen)
	for i := range out {
		srcPos := float64(i) * ratio
		idx := int(srcPos)
		frac := srcPos - float64(idx)
		if idx >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		out[i] = in[idx]*(1-frac) + in[idx+1]*frac
	}
	return samplesToBytes(out)
}

// rms computes the root-mean-square of 16-bit LE PCM samples, normalized to
// [0, 1]. Used by RMSVAD to score each chunk.
func rms(chunk []byte) float64 {
	if len(chunk) == 0 {
		return 0
	}
	samples := bytesToSamples(chunk)
	return math.Sqrt(calculateEnergy(samples) / float64(len(samples)))
}
