// Package lexical generates transcript spans and ranks enrolled terms by
// textual similarity against them. It is pure text work: the acoustic side
// of candidate scoring lives in the correction engine.
package lexical

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

const (
	// DefaultMaxCandidates bounds how many ranked terms a selection returns.
	DefaultMaxCandidates = 20

	// Tier A takes the strongest lexical matches; tier B fills the
	// remaining slots with the next-best terms regardless of score.
	tierAThreshold = 0.55
	tierALimit     = 12

	maxLatinNGram = 4
	minCJKNGram   = 2
	maxCJKNGram   = 8
)

var (
	latinWordRE = regexp.MustCompile(`[A-Za-z][A-Za-z0-9'-]*`)
	cjkRunRE    = regexp.MustCompile(`[\x{4E00}-\x{9FFF}]{2,20}`)
)

// Candidate pairs an enrolled term with its best-matching transcript span.
type Candidate struct {
	// Term is the canonical enrolled spelling.
	Term string `json:"term"`

	// BestMatch is the transcript span the term scored highest against.
	BestMatch string `json:"best_match"`

	// TextScore is the normalized similarity in [0, 1]; 1.0 is an exact
	// case-insensitive match.
	TextScore float64 `json:"text_score"`
}

// SelectCandidates ranks activeTerms against the spans of transcript and
// returns at most maxCandidates entries, strongest first. Pass
// maxCandidates <= 0 to get none.
//
// Ranking is text score descending with case-insensitive term text as the
// tie-break. Up to 12 terms scoring at least 0.55 form tier A; the
// remaining slots are filled with the next-best terms in the same order.
func SelectCandidates(transcript string, activeTerms []string, maxCandidates int) []Candidate {
	if len(activeTerms) == 0 || maxCandidates <= 0 {
		return nil
	}

	spans := collectSpans(transcript)

	scored := make([]Candidate, 0, len(activeTerms))
	for _, term := range activeTerms {
		match, score := bestLexicalMatch(term, spans)
		scored = append(scored, Candidate{Term: term, BestMatch: match, TextScore: score})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].TextScore != scored[j].TextScore {
			return scored[i].TextScore > scored[j].TextScore
		}
		return strings.ToLower(scored[i].Term) < strings.ToLower(scored[j].Term)
	})

	tierA := make([]Candidate, 0, tierALimit)
	picked := make(map[string]struct{}, tierALimit)
	for _, c := range scored {
		if len(tierA) == tierALimit {
			break
		}
		if c.TextScore >= tierAThreshold {
			tierA = append(tierA, c)
			picked[c.Term] = struct{}{}
		}
	}

	out := tierA
	for _, c := range scored {
		if len(out) >= maxCandidates {
			break
		}
		if _, ok := picked[c.Term]; ok {
			continue
		}
		out = append(out, c)
	}
	if len(out) > maxCandidates {
		out = out[:maxCandidates]
	}
	return out
}

// collectSpans produces the comparison spans for a transcript: the whole
// trimmed text, Latin word n-grams up to length 4, and CJK character
// n-grams of length 2-8 within runs of 2-20 CJK characters. Spans are
// deduplicated case-insensitively, first occurrence wins.
func collectSpans(transcript string) []string {
	normalized := strings.TrimSpace(transcript)
	if normalized == "" {
		return nil
	}

	spans := []string{normalized}

	words := latinWordRE.FindAllString(normalized, -1)
	maxN := maxLatinNGram
	if len(words) < maxN {
		maxN = len(words)
	}
	for n := 1; n <= maxN; n++ {
		for i := 0; i+n <= len(words); i++ {
			spans = append(spans, strings.Join(words[i:i+n], " "))
		}
	}

	for _, run := range cjkRunRE.FindAllString(normalized, -1) {
		chars := []rune(run)
		if len(chars) <= maxCJKNGram {
			spans = append(spans, run)
		}
		top := maxCJKNGram
		if len(chars) < top {
			top = len(chars)
		}
		for n := minCJKNGram; n <= top; n++ {
			for i := 0; i+n <= len(chars); i++ {
				spans = append(spans, string(chars[i:i+n]))
			}
		}
	}

	seen := make(map[string]struct{}, len(spans))
	deduped := spans[:0]
	for _, span := range spans {
		key := strings.ToLower(span)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		deduped = append(deduped, span)
	}
	return deduped
}

// bestLexicalMatch returns the span most similar to term and its score.
func bestLexicalMatch(term string, spans []string) (string, float64) {
	termLower := strings.ToLower(term)
	var bestMatch string
	var bestScore float64

	for _, span := range spans {
		spanLower := strings.ToLower(span)
		if termLower == spanLower {
			return span, 1.0
		}
		if score := similarity(termLower, spanLower); score > bestScore {
			bestScore = score
			bestMatch = span
		}
	}
	return bestMatch, bestScore
}

// similarity is a normalized edit-distance ratio in [0, 1]:
// 1 - levenshtein/maxLen over runes.
func similarity(a, b string) float64 {
	la := utf8.RuneCountInString(a)
	lb := utf8.RuneCountInString(b)
	if la == 0 && lb == 0 {
		return 1.0
	}
	longest := la
	if lb > longest {
		longest = lb
	}
	dist := matchr.Levenshtein(a, b)
	score := 1.0 - float64(dist)/float64(longest)
	if score < 0 {
		return 0
	}
	return score
}
