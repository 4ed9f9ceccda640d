// Package audio decodes captured WAV clips into the mono 16-bit PCM form the
// rest of the engine works on. Only 16-bit PCM WAV is supported; multi-channel
// input is down-mixed to mono by channel averaging.
package audio

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/go-audio/wav"
)

var (
	// ErrUnsupportedFormat is returned for WAV input that is not 16-bit PCM
	// or is not a parseable WAV container.
	ErrUnsupportedFormat = errors.New("audio: only 16-bit PCM wav is supported")

	// ErrEmptyAudio is returned when the container decodes to zero samples.
	ErrEmptyAudio = errors.New("audio: empty audio")
)

// Clip is a decoded audio clip, down-mixed to mono.
type Clip struct {
	// SampleRate is the sample rate of the source container in Hz.
	SampleRate int

	// SourceChannels is the channel count of the source container before
	// mixdown. The PCM data is always mono.
	SourceChannels int

	// PCM holds the mono 16-bit samples. Multi-channel sources are averaged
	// per frame with truncation toward zero.
	PCM []int16
}

// DecodeWAV parses a WAV container and returns a mono [Clip].
// It returns [ErrUnsupportedFormat] for anything other than 16-bit PCM and
// [ErrEmptyAudio] when the container holds no samples.
func DecodeWAV(data []byte) (*Clip, error) {
	d := wav.NewDecoder(bytes.NewReader(data))
	d.ReadInfo()
	if !d.IsValidFile() {
		return nil, ErrUnsupportedFormat
	}
	if d.BitDepth != 16 {
		return nil, ErrUnsupportedFormat
	}
	if d.SampleRate == 0 || d.NumChans == 0 {
		return nil, ErrUnsupportedFormat
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("audio: decode wav: %w", err)
	}
	if len(buf.Data) == 0 {
		return nil, ErrEmptyAudio
	}

	channels := int(d.NumChans)
	pcm := mixdown(buf.Data, channels)
	if len(pcm) == 0 {
		return nil, ErrEmptyAudio
	}

	return &Clip{
		SampleRate:     int(d.SampleRate),
		SourceChannels: channels,
		PCM:            pcm,
	}, nil
}

// DurationMS returns the clip duration in milliseconds, rounded to nearest.
func (c *Clip) DurationMS() int {
	if c.SampleRate <= 0 {
		return 0
	}
	ms := float64(len(c.PCM)) / float64(c.SampleRate) * 1000.0
	return int(ms + 0.5)
}

// Float32 returns the mono samples normalised to [-1.0, 1.0).
func (c *Clip) Float32() []float32 {
	out := make([]float32, len(c.PCM))
	for i, s := range c.PCM {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// mixdown averages interleaved multi-channel samples into mono int16.
// Averaging uses integer arithmetic, truncating toward zero, and any
// trailing partial frame is dropped.
func mixdown(samples []int, channels int) []int16 {
	if channels <= 1 {
		out := make([]int16, len(samples))
		for i, s := range samples {
			out[i] = int16(s)
		}
		return out
	}
	frames := len(samples) / channels
	out := make([]int16, frames)
	for i := range frames {
		var sum int
		for ch := range channels {
			sum += samples[i*channels+ch]
		}
		out[i] = int16(sum / channels)
	}
	return out
}
