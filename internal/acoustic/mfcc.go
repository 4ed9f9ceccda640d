// Package acoustic implements the numerical core of the personalization
// engine: cepstral feature extraction, lossless fingerprint serialization,
// and banded dynamic-time-warping distance between fingerprints.
//
// The extraction constants are load-bearing: fingerprints stored at
// enrollment time must stay comparable with fingerprints computed from live
// utterances, so every constant here is part of the on-disk compatibility
// contract and must not change without a format version bump.
package acoustic

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	// NumCoefficients is the number of cepstral coefficients kept per frame.
	NumCoefficients = 13

	// MaxFrames caps the time axis of a fingerprint. Longer sequences are
	// uniformly subsampled down to exactly this many frames.
	MaxFrames = 220

	numFilters     = 26
	fftSize        = 512
	preEmphasis    = 0.97
	frameSeconds   = 0.025
	hopSeconds     = 0.010
	energyFloor    = 1e-10
	stdFloor       = 1e-6
	lowestStdValue = 1.0
)

// ErrInvalidSignal is returned by [Extract] for empty input or a
// non-positive sample rate.
var ErrInvalidSignal = errors.New("acoustic: empty signal or invalid sample rate")

// Extract computes the normalized cepstral fingerprint of a mono signal.
// samples are normalized PCM values in [-1, 1); sampleRate is in Hz.
//
// The resulting matrix has [NumCoefficients] columns and at most [MaxFrames]
// rows; each column is independently normalized to zero mean and unit
// variance along the time axis.
func Extract(samples []float32, sampleRate int) (*Fingerprint, error) {
	if len(samples) == 0 || sampleRate <= 0 {
		return nil, ErrInvalidSignal
	}

	signal := make([]float64, len(samples))
	signal[0] = float64(samples[0])
	for i := 1; i < len(samples); i++ {
		signal[i] = float64(samples[i]) - preEmphasis*float64(samples[i-1])
	}

	frameLen := int(math.Round(frameSeconds * float64(sampleRate)))
	frameStep := int(math.Round(hopSeconds * float64(sampleRate)))
	if frameLen < 1 {
		frameLen = 1
	}
	if frameStep < 1 {
		frameStep = 1
	}

	frames := frameSignal(signal, frameLen, frameStep)
	window := hamming(frameLen)

	fft := fourier.NewFFT(fftSize)
	fbank := melFilterbank(sampleRate, fftSize, numFilters)

	// Per frame: window, 512-point power spectrum, mel energies, log, DCT-II.
	mfcc := make([][]float64, len(frames))
	buf := make([]float64, fftSize)
	power := make([]float64, fftSize/2+1)
	for fi, frame := range frames {
		for k := range buf {
			buf[k] = 0
		}
		n := len(frame)
		if n > fftSize {
			n = fftSize
		}
		for k := range n {
			buf[k] = frame[k] * window[k]
		}

		coeffs := fft.Coefficients(nil, buf)
		for k, c := range coeffs {
			re, im := real(c), imag(c)
			power[k] = (re*re + im*im) / float64(fftSize)
		}

		logMel := make([]float64, numFilters)
		for f := range numFilters {
			var e float64
			for j, w := range fbank[f] {
				if w != 0 {
					e += w * power[j]
				}
			}
			if e < energyFloor {
				e = energyFloor
			}
			logMel[f] = math.Log(e)
		}

		mfcc[fi] = dctII(logMel, NumCoefficients)
	}

	normalize(mfcc)
	mfcc = subsample(mfcc, MaxFrames)

	fp := NewFingerprint(len(mfcc), NumCoefficients)
	for i, row := range mfcc {
		for j, v := range row {
			fp.Set(i, j, float32(v))
		}
	}
	return fp, nil
}

// frameSignal splits the signal into overlapping frames. Signals shorter
// than one frame are zero-padded to exactly one frame; otherwise the tail is
// zero-padded so the last hop yields a full frame.
func frameSignal(signal []float64, frameLen, frameStep int) [][]float64 {
	if len(signal) <= frameLen {
		frame := make([]float64, frameLen)
		copy(frame, signal)
		return [][]float64{frame}
	}

	n := 1 + int(math.Ceil(float64(len(signal)-frameLen)/float64(frameStep)))
	totalLen := (n-1)*frameStep + frameLen
	padded := signal
	if totalLen > len(signal) {
		padded = make([]float64, totalLen)
		copy(padded, signal)
	}

	frames := make([][]float64, n)
	for i := range n {
		start := i * frameStep
		frames[i] = padded[start : start+frameLen]
	}
	return frames
}

// hamming returns an n-point Hamming window.
func hamming(n int) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1.0
		return w
	}
	for i := range w {
		w[i] = 0.54 - 0.46*math.Cos(2.0*math.Pi*float64(i)/float64(n-1))
	}
	return w
}

func hzToMel(hz float64) float64 {
	return 2595.0 * math.Log10(1.0+hz/700.0)
}

func melToHz(mel float64) float64 {
	return 700.0 * (math.Pow(10.0, mel/2595.0) - 1.0)
}

// melFilterbank builds nFilters triangular filters over the nFFT/2+1 power
// spectrum bins, spanning 0 Hz to Nyquist on the mel scale. Adjacent filter
// edges are bumped to keep every ramp at least one bin wide.
func melFilterbank(sampleRate, nFFT, nFilters int) [][]float64 {
	highMel := hzToMel(float64(sampleRate) / 2.0)
	nBins := nFFT/2 + 1

	bins := make([]int, nFilters+2)
	for i := range bins {
		mel := highMel * float64(i) / float64(nFilters+1)
		hz := melToHz(mel)
		bins[i] = int(math.Floor(float64(nFFT+1) * hz / float64(sampleRate)))
	}

	fbank := make([][]float64, nFilters)
	for f := range nFilters {
		fbank[f] = make([]float64, nBins)
		left := bins[f]
		center := bins[f+1]
		right := bins[f+2]
		if center <= left {
			center = left + 1
		}
		if right <= center {
			right = center + 1
		}
		for j := left; j < center && j < nBins; j++ {
			fbank[f][j] = float64(j-left) / float64(center-left)
		}
		for j := center; j < right && j < nBins; j++ {
			fbank[f][j] = float64(right-j) / float64(right-center)
		}
	}
	return fbank
}

// dctII computes the type-II DCT of x and keeps the first numCeps terms.
func dctII(x []float64, numCeps int) []float64 {
	n := len(x)
	out := make([]float64, numCeps)
	for k := range numCeps {
		var sum float64
		for i, v := range x {
			sum += v * math.Cos(math.Pi/float64(n)*(float64(i)+0.5)*float64(k))
		}
		out[k] = sum
	}
	return out
}

// normalize zero-means and unit-scales each coefficient column across time.
// Columns with near-zero variance keep their centered values unscaled.
func normalize(m [][]float64) {
	if len(m) == 0 {
		return
	}
	rows := float64(len(m))
	for j := range m[0] {
		var mean float64
		for i := range m {
			mean += m[i][j]
		}
		mean /= rows

		var variance float64
		for i := range m {
			d := m[i][j] - mean
			variance += d * d
		}
		std := math.Sqrt(variance / rows)
		if std < stdFloor {
			std = lowestStdValue
		}
		for i := range m {
			m[i][j] = (m[i][j] - mean) / std
		}
	}
}

// subsample uniformly picks maxRows rows (linspace indices, truncated) when
// the matrix is longer than maxRows. Shorter input is returned unchanged.
func subsample(m [][]float64, maxRows int) [][]float64 {
	n := len(m)
	if n <= maxRows {
		return m
	}
	out := make([][]float64, maxRows)
	for i := range maxRows {
		idx := int(float64(i) * float64(n-1) / float64(maxRows-1))
		out[i] = m[idx]
	}
	return out
}
