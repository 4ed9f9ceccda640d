// Package termstore persists enrolled terms, their pronunciation samples,
// and the backing audio artifacts. It owns the enrollment lifecycle: the
// per-term sample cap, the derived pending/active status, and cascade
// deletion including best-effort artifact cleanup.
package termstore

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// MaxSamplesPerTerm caps how many pronunciation samples one term may
	// own. The sixth enrollment attempt fails with [ErrCapacityExceeded].
	MaxSamplesPerTerm = 5

	// MaxTermLength is the maximum canonical term length in characters.
	MaxTermLength = 20

	// DefaultProfileID is the single profile this design uses. The schema
	// carries the column so multiple profiles can be added later.
	DefaultProfileID = "default"
)

// Status is the derived lifecycle state of a term. It is never stored:
// a term is pending iff it owns zero samples.
type Status string

const (
	StatusPending Status = "pending"
	StatusActive  Status = "active"
)

// statusFor derives the term status from its sample count.
func statusFor(sampleCount int) Status {
	if sampleCount > 0 {
		return StatusActive
	}
	return StatusPending
}

var (
	// ErrCapacityExceeded is returned when a term already owns
	// [MaxSamplesPerTerm] samples. The caller should surface
	// "delete a sample first".
	ErrCapacityExceeded = errors.New("termstore: term sample capacity exceeded")

	// ErrInvalidTerm is returned for empty or over-long term text.
	ErrInvalidTerm = errors.New("termstore: invalid term")
)

// TermInfo describes a term and its derived state.
type TermInfo struct {
	Term        string `json:"term"`
	SampleCount int    `json:"sample_count"`
	Status      Status `json:"status"`
}

// EnrollResult is the outcome of an idempotent term enrollment.
type EnrollResult struct {
	Existed     bool   `json:"existed"`
	SampleCount int    `json:"sample_count"`
	Status      Status `json:"status"`
}

// SampleResult is the outcome of a successful sample enrollment.
type SampleResult struct {
	SampleID    int64  `json:"sample_id"`
	SampleCount int    `json:"sample_count"`
	Status      Status `json:"status"`
}

// SampleInfo describes one stored pronunciation sample. CreatedAt is
// the storage timestamp in "YYYY-MM-DD HH:MM:SS" UTC form.
type SampleInfo struct {
	SampleID     int64   `json:"sample_id"`
	DurationMS   int     `json:"duration_ms"`
	QualityScore float64 `json:"quality_score"`
	CreatedAt    string  `json:"created_at"`
}

// ValidateTerm trims raw and checks the term constraints. It returns the
// cleaned term or an error wrapping [ErrInvalidTerm].
func ValidateTerm(raw string) (string, error) {
	term := strings.TrimSpace(raw)
	if term == "" {
		return "", fmt.Errorf("%w: term is empty", ErrInvalidTerm)
	}
	if utf8.RuneCountInString(term) > MaxTermLength {
		return "", fmt.Errorf("%w: term exceeds max length %d", ErrInvalidTerm, MaxTermLength)
	}
	return term, nil
}
