// Package correct rewrites dictated transcripts using the speaker's own
// enrolled pronunciation samples. A correction is applied only when a
// candidate term is close to some transcript span lexically and the
// utterance is close to a stored sample acoustically, so the engine
// stays conservative: when in doubt, or on any internal failure, the
// transcript comes back unchanged.
package correct

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/echolex/echolex/internal/acoustic"
	"github.com/echolex/echolex/internal/lexical"
	"github.com/echolex/echolex/pkg/audio"
)

// Config tunes the correction engine. The zero value is not usable;
// call [DefaultConfig] and override fields as needed.
type Config struct {
	// AcousticThreshold is the minimum DTW-derived confidence for a
	// replacement, in (0, 1].
	AcousticThreshold float64
	// TextThreshold is the minimum lexical similarity between the term
	// and its best transcript span.
	TextThreshold float64
	// MaxCandidates caps how many terms the lexical stage hands to the
	// acoustic stage.
	MaxCandidates int
	// DTWWindow is the Sakoe-Chiba band width for alignment.
	DTWWindow int
	// DistanceScale maps DTW distance to confidence via exp(-d/scale).
	DistanceScale float64
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		AcousticThreshold: 0.86,
		TextThreshold:     0.68,
		MaxCandidates:     20,
		DTWWindow:         30,
		DistanceScale:     8,
	}
}

// Engine scores candidate terms against an utterance and substitutes
// the winning spans. Engines are stateless and safe for concurrent use.
type Engine struct {
	cfg Config
	log *slog.Logger
}

// New builds an engine with the given thresholds.
func New(cfg Config, log *slog.Logger) *Engine {
	return &Engine{cfg: cfg, log: log}
}

// replacement is one approved substitution, ranked by priority.
type replacement struct {
	priority  float64
	term      string
	bestMatch string
}

// Correct returns the transcript with personalized term corrections
// applied. It never fails: any decode, extraction or alignment error is
// logged and the original transcript is returned. A budget of zero or
// less disables correction for this call.
func (e *Engine) Correct(ctx context.Context, transcript string, wavData []byte, activeTerms []string, fingerprints map[string][][]byte, budget time.Duration) string {
	out, err := e.correct(ctx, transcript, wavData, activeTerms, fingerprints, budget)
	if err != nil {
		e.log.Warn("transcript correction skipped", "error", err)
		return transcript
	}
	return out
}

func (e *Engine) correct(ctx context.Context, transcript string, wavData []byte, activeTerms []string, fingerprints map[string][][]byte, budget time.Duration) (string, error) {
	if strings.TrimSpace(transcript) == "" || len(activeTerms) == 0 {
		return transcript, nil
	}
	if budget <= 0 {
		return transcript, nil
	}

	deadline := time.Now().Add(budget)

	candidates := lexical.SelectCandidates(transcript, activeTerms, e.cfg.MaxCandidates)
	if len(candidates) == 0 {
		return transcript, nil
	}

	clip, err := audio.DecodeWAV(wavData)
	if err != nil {
		return "", fmt.Errorf("correct: decode utterance: %w", err)
	}
	query, err := acoustic.Extract(clip.Float32(), clip.SampleRate)
	if err != nil {
		return "", fmt.Errorf("correct: fingerprint utterance: %w", err)
	}

	transcriptLower := strings.ToLower(transcript)
	var replacements []replacement
	for _, cand := range candidates {
		if err := ctx.Err(); err != nil {
			return transcript, nil
		}
		if time.Now().After(deadline) {
			return transcript, nil
		}

		termLower := strings.ToLower(cand.Term)
		if strings.Contains(transcriptLower, termLower) {
			continue
		}
		samples := fingerprints[cand.Term]
		if len(samples) == 0 {
			continue
		}

		best := math.Inf(1)
		for _, blob := range samples {
			if time.Now().After(deadline) {
				return transcript, nil
			}
			sample, err := acoustic.DecodeFingerprint(blob)
			if err != nil {
				return "", fmt.Errorf("correct: decode sample fingerprint for %q: %w", cand.Term, err)
			}
			d, err := acoustic.DTWDistance(query, sample, e.cfg.DTWWindow)
			if err != nil {
				return "", fmt.Errorf("correct: align %q: %w", cand.Term, err)
			}
			if d < best {
				best = d
			}
		}
		if math.IsInf(best, 1) {
			continue
		}

		conf := math.Exp(-best / e.cfg.DistanceScale)
		if cand.BestMatch == "" {
			continue
		}
		if conf >= e.cfg.AcousticThreshold &&
			cand.TextScore >= e.cfg.TextThreshold &&
			!strings.EqualFold(cand.BestMatch, cand.Term) {
			replacements = append(replacements, replacement{
				priority:  conf * cand.TextScore,
				term:      cand.Term,
				bestMatch: cand.BestMatch,
			})
		}
	}

	if len(replacements) == 0 {
		return transcript, nil
	}

	// Stable sort keeps candidate order for equal priorities.
	sort.SliceStable(replacements, func(i, j int) bool {
		return replacements[i].priority > replacements[j].priority
	})

	result := transcript
	for _, r := range replacements {
		result = substituteOnce(result, r.bestMatch, r.term)
	}
	return result, nil
}

// substituteOnce replaces the first case-insensitive occurrence of old
// in text with repl. Later substitutions see earlier ones, so a span
// consumed by a higher-priority replacement is gone for the rest.
// Matching runs on the original string, not a lowercased copy, because
// lowercasing can change byte offsets for some runes.
func substituteOnce(text, old, repl string) string {
	re := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(old))
	loc := re.FindStringIndex(text)
	if loc == nil {
		return text
	}
	return text[:loc[0]] + repl + text[loc[1]:]
}
