// Package audiotest builds small in-memory WAV fixtures for tests.
package audiotest

import (
	"bytes"
	"encoding/binary"
	"math"
)

// SineWAV returns a mono 16-bit PCM WAV containing a sine tone.
// amplitude is in [0, 1] relative to full scale.
func SineWAV(freq float64, seconds float64, sampleRate int, amplitude float64) []byte {
	total := int(seconds * float64(sampleRate))
	pcm := make([]int16, total)
	for i := range pcm {
		t := float64(i) / float64(sampleRate)
		v := amplitude * math.Sin(2.0*math.Pi*freq*t) * 32767.0
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		pcm[i] = int16(v)
	}
	return PCMWAV(pcm, sampleRate, 1)
}

// SilenceWAV returns a mono 16-bit PCM WAV of all-zero samples.
func SilenceWAV(seconds float64, sampleRate int) []byte {
	total := int(seconds * float64(sampleRate))
	return PCMWAV(make([]int16, total), sampleRate, 1)
}

// ConstantWAV returns a mono 16-bit PCM WAV where every sample has the given
// raw value. Useful for clipping and volume-floor fixtures.
func ConstantWAV(value int16, seconds float64, sampleRate int) []byte {
	total := int(seconds * float64(sampleRate))
	pcm := make([]int16, total)
	for i := range pcm {
		pcm[i] = value
	}
	return PCMWAV(pcm, sampleRate, 1)
}

// PCMWAV wraps interleaved 16-bit samples in a minimal RIFF/WAVE container.
func PCMWAV(pcm []int16, sampleRate, channels int) []byte {
	dataLen := len(pcm) * 2
	var buf bytes.Buffer

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*channels*2)) // byte rate
	binary.Write(&buf, binary.LittleEndian, uint16(channels*2))            // block align
	binary.Write(&buf, binary.LittleEndian, uint16(16))                    // bits per sample

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(dataLen))
	for _, s := range pcm {
		binary.Write(&buf, binary.LittleEndian, s)
	}
	return buf.Bytes()
}

// PCM24WAV wraps samples in a WAV container that declares 24-bit depth.
// The payload is not valid 24-bit audio; fixtures only need the header to
// advertise an unsupported sample width.
func PCM24WAV(samples int, sampleRate int) []byte {
	dataLen := samples * 3
	var buf bytes.Buffer

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*3))
	binary.Write(&buf, binary.LittleEndian, uint16(3))
	binary.Write(&buf, binary.LittleEndian, uint16(24))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(dataLen))
	buf.Write(make([]byte, dataLen))
	return buf.Bytes()
}
