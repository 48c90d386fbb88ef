// Package phonetic ranks correction candidates for misrecognized dictation
// words using Double Metaphone phonetic encoding combined with Jaro-Winkler
// string similarity.
//
// The algorithm proceeds in two stages:
//
//  1. Phonetic candidate filtering: Double Metaphone codes are computed for
//     the input and for each candidate pattern. A pattern whose code set
//     overlaps the input's becomes a phonetic candidate.
//
//  2. Jaro-Winkler ranking: among phonetic candidates, the pattern with the
//     highest Jaro-Winkler similarity (case-insensitive, on the original
//     strings) wins, provided its score clears the phonetic threshold.
//
//     When no phonetic candidate exists, a secondary pass tests pure
//     Jaro-Winkler similarity against all patterns using a stricter fuzzy
//     threshold (default 0.85).
//
// Multi-word patterns (e.g. a misheard "pull request") are supported: codes
// are computed per word and the best pairwise score across word pairs
// contributes to ranking.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched pattern to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic match is found and the matcher falls back to pure string
// similarity. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Matcher scores dictation text against correction patterns. It is
// read-only after construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a new [Matcher] configured with the supplied options.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Match finds the pattern most phonetically similar to word.
//
// word may be a single word or a space-separated phrase. When matched is
// false, pattern equals word unchanged and confidence is 0.
func (m *Matcher) Match(word string, patterns []string) (pattern string, confidence float64, matched bool) {
	if len(patterns) == 0 || strings.TrimSpace(word) == "" {
		return word, 0, false
	}

	wordLower := strings.ToLower(strings.TrimSpace(word))
	wordTokens := strings.Fields(wordLower)
	inputCodes := codesForTokens(wordTokens)

	type candidate struct {
		pattern  string
		score    float64
		phonetic bool
	}
	var best candidate

	for _, p := range patterns {
		pLower := strings.ToLower(strings.TrimSpace(p))
		if pLower == "" {
			continue
		}
		pTokens := strings.Fields(pLower)

		phoneticMatch := codesOverlap(inputCodes, codesForTokens(pTokens))
		jwScore := bestJWScore(wordTokens, pTokens, wordLower, pLower)

		if phoneticMatch {
			if jwScore >= m.phoneticThreshold {
				if !best.phonetic || jwScore > best.score {
					best = candidate{pattern: p, score: jwScore, phonetic: true}
				}
			}
		} else if !best.phonetic {
			if jwScore >= m.fuzzyThreshold && jwScore > best.score {
				best = candidate{pattern: p, score: jwScore, phonetic: false}
			}
		}
	}

	if best.pattern != "" {
		return best.pattern, best.score, true
	}
	return word, 0, false
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore computes the highest Jaro-Winkler similarity between input
// and pattern across three strategies: full strings, space-stripped
// strings, and the best pairwise token score.
func bestJWScore(inputTokens, patternTokens []string, inputFull, patternFull string) float64 {
	score := matchr.JaroWinkler(inputFull, patternFull, false)

	if len(inputTokens) > 1 || len(patternTokens) > 1 {
		concat1 := strings.Join(inputTokens, "")
		concat2 := strings.Join(patternTokens, "")
		if s := matchr.JaroWinkler(concat1, concat2, false); s > score {
			score = s
		}
	}

	for _, it := range inputTokens {
		for _, pt := range patternTokens {
			if s := matchr.JaroWinkler(it, pt, false); s > score {
				score = s
			}
		}
	}
	return score
}
