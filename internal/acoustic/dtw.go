package acoustic

import (
	"errors"
	"math"
)

// ErrDimensionMismatch is returned when DTW inputs have different feature
// widths. The extractor always produces [NumCoefficients]-wide matrices, so
// seeing this error indicates a defect, not bad user input.
var ErrDimensionMismatch = errors.New("acoustic: dtw feature dimensions mismatch")

// DTWDistance computes the banded dynamic-time-warping distance between two
// fingerprints, normalized by the sum of their lengths so scores stay
// comparable across clip durations.
//
// window bounds the Sakoe-Chiba band; pass 0 or a negative value for the
// default of max(|rows(a)-rows(b)|, 25). Local cost is the Euclidean
// distance between feature rows. Either input having zero rows yields +Inf.
func DTWDistance(a, b *Fingerprint, window int) (float64, error) {
	if a.Cols() != b.Cols() {
		return 0, ErrDimensionMismatch
	}

	n, m := a.Rows(), b.Rows()
	if n == 0 || m == 0 {
		return math.Inf(1), nil
	}

	if window <= 0 {
		window = n - m
		if window < 0 {
			window = -window
		}
		if window < 25 {
			window = 25
		}
	}

	dp := make([][]float64, n+1)
	for i := range dp {
		dp[i] = make([]float64, m+1)
		for j := range dp[i] {
			dp[i][j] = math.Inf(1)
		}
	}
	dp[0][0] = 0

	for i := 1; i <= n; i++ {
		jStart := i - window
		if jStart < 1 {
			jStart = 1
		}
		jEnd := i + window
		if jEnd > m+1 {
			jEnd = m + 1
		}
		row := a.Row(i - 1)
		for j := jStart; j < jEnd; j++ {
			cost := euclidean(row, b.Row(j-1))
			best := dp[i-1][j]
			if dp[i][j-1] < best {
				best = dp[i][j-1]
			}
			if dp[i-1][j-1] < best {
				best = dp[i-1][j-1]
			}
			dp[i][j] = cost + best
		}
	}

	return dp[n][m] / float64(n+m), nil
}

func euclidean(a, b []float32) float64 {
	var sum float64
	for k := range a {
		d := float64(a[k]) - float64(b[k])
		sum += d * d
	}
	return math.Sqrt(sum)
}
