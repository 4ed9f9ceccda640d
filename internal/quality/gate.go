// Package quality validates captured pronunciation samples before they may
// be enrolled. A rejected sample must never be persisted; the reject reason
// strings are part of the client contract and are kept stable.
package quality

import (
	"math"

	"github.com/echolex/echolex/pkg/audio"
)

// Policy constants for the gate. They are named here, at the component
// boundary, so tests and callers can reason about them in one place.
const (
	// MinDurationMS is the exclusive lower duration bound: a sample must be
	// strictly longer than this.
	MinDurationMS = 300

	// MaxDurationMS is the inclusive upper duration bound.
	MaxDurationMS = 15000

	// MinRMS and MinPeak form the volume floor. A sample passes when either
	// its RMS reaches MinRMS or its peak reaches MinPeak.
	MinRMS  = 0.003
	MinPeak = 0.01

	// Silence detection: the threshold adapts to the sample's own RMS,
	// clamped to [MinSilenceThreshold, MaxSilenceThreshold].
	MinSilenceThreshold = 0.003
	MaxSilenceThreshold = 0.015
	SilenceRMSScale     = 1.2

	// MaxSilenceRatio rejects only together with the scaled energy checks
	// below, so a loud clip padded with silence still passes.
	MaxSilenceRatio        = 0.97
	silenceRejectRMSScale  = 1.5
	silenceRejectPeakScale = 1.3

	// Clipping: fraction of raw samples at or beyond clipMagnitude.
	clipMagnitude   = 32760
	MaxClippingRatio = 0.03
)

// RejectReason is the machine-readable reason a sample was refused.
// The strings match what enrollment clients display verbatim.
type RejectReason string

const (
	ReasonTooShort        RejectReason = "sample duration must be > 0.3s"
	ReasonTooLong         RejectReason = "sample duration must be <= 15s"
	ReasonVolumeTooLow    RejectReason = "sample volume too low"
	ReasonTooMuchSilence  RejectReason = "too much silence in sample"
	ReasonClippingTooHigh RejectReason = "sample clipping is too high"
)

// RejectError reports a quality rejection. It is an expected user-facing
// outcome, not a system error: the caller should discard the audio and
// prompt for a re-recording.
type RejectError struct {
	Reason RejectReason
}

func (e *RejectError) Error() string { return "quality: " + string(e.Reason) }

// Report describes an accepted sample.
type Report struct {
	DurationMS    int     `json:"duration_ms"`
	QualityScore  float64 `json:"quality_score"`
	SilenceRatio  float64 `json:"silence_ratio"`
	Peak          float64 `json:"peak"`
	RMS           float64 `json:"rms"`
	ClippingRatio float64 `json:"clipping_ratio"`
}

// EvaluateWAV decodes a captured WAV and runs [Evaluate] on it. Format
// errors from the decoder ([audio.ErrUnsupportedFormat],
// [audio.ErrEmptyAudio]) pass through unchanged.
func EvaluateWAV(data []byte) (*Report, error) {
	clip, err := audio.DecodeWAV(data)
	if err != nil {
		return nil, err
	}
	return Evaluate(clip)
}

// Evaluate runs the ordered quality checks against a decoded clip and
// returns the quality report, or a [*RejectError] naming the first failed
// check.
func Evaluate(clip *audio.Clip) (*Report, error) {
	durationMS := clip.DurationMS()
	if durationMS <= MinDurationMS {
		return nil, &RejectError{Reason: ReasonTooShort}
	}
	if durationMS > MaxDurationMS {
		return nil, &RejectError{Reason: ReasonTooLong}
	}

	n := len(clip.PCM)
	var sumSquares, peak float64
	for _, s := range clip.PCM {
		v := float64(s) / 32768.0
		sumSquares += v * v
		if a := math.Abs(v); a > peak {
			peak = a
		}
	}
	rms := math.Sqrt(sumSquares / float64(n))

	if rms < MinRMS && peak < MinPeak {
		return nil, &RejectError{Reason: ReasonVolumeTooLow}
	}

	silenceThreshold := rms * SilenceRMSScale
	if silenceThreshold < MinSilenceThreshold {
		silenceThreshold = MinSilenceThreshold
	} else if silenceThreshold > MaxSilenceThreshold {
		silenceThreshold = MaxSilenceThreshold
	}

	var silent, clipped int
	for _, s := range clip.PCM {
		v := float64(s) / 32768.0
		if math.Abs(v) < silenceThreshold {
			silent++
		}
		raw := int(s)
		if raw < 0 {
			raw = -raw
		}
		if raw >= clipMagnitude {
			clipped++
		}
	}
	silenceRatio := float64(silent) / float64(n)
	clippingRatio := float64(clipped) / float64(n)

	if silenceRatio >= MaxSilenceRatio &&
		rms < MinRMS*silenceRejectRMSScale &&
		peak < MinPeak*silenceRejectPeakScale {
		return nil, &RejectError{Reason: ReasonTooMuchSilence}
	}

	if clippingRatio > MaxClippingRatio {
		return nil, &RejectError{Reason: ReasonClippingTooHigh}
	}

	score := 1.0 - silenceRatio*0.45 - math.Max(0, MinRMS-rms)*4.0 - clippingRatio*1.2
	if score < 0 {
		score = 0
	} else if score > 1 {
		score = 1
	}

	return &Report{
		DurationMS:    durationMS,
		QualityScore:  score,
		SilenceRatio:  silenceRatio,
		Peak:          peak,
		RMS:           rms,
		ClippingRatio: clippingRatio,
	}, nil
}
