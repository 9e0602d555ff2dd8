package audio

import (
	"bytes"
	"encoding/binary"
)

// HeaderSize is the fixed size of the header NewWavBuffer prepends to the
// PCM payload (spec §4.A: "wrapped with a 44-byte RIFF WAVE header").
const HeaderSize = 44

const (
	channels      = 1
	bitsPerSample = 16
)

// NewWavBuffer wraps raw little-endian PCM samples in a RIFF WAVE header
// declaring mono, bitsPerSample-bit audio at sampleRate (spec §4.A output
// framing: "declaring mono, 16 kHz, 16 bits").
func NewWavBuffer(pcm []byte, sampleRate int) []byte {
	buf := new(bytes.Buffer)

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(HeaderSize-8+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))                                  // fmt chunk size
	binary.Write(buf, binary.LittleEndian, uint16(1))                                   // PCM
	binary.Write(buf, binary.LittleEndian, uint16(channels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate*channels*bitsPerSample/8)) // byte rate
	binary.Write(buf, binary.LittleEndian, uint16(channels*bitsPerSample/8))            // block align
	binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}
