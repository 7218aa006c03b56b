// Package phonetic matches misheard spans against a known vocabulary using
// Double Metaphone codes and Jaro-Winkler similarity.
//
// VHF transcripts mix scripts: Japanese vessel and berth names arrive in
// kana or kanji while international vessel names and callsigns arrive in
// Latin letters. Latin candidates are gated on Double Metaphone code
// overlap and accepted at a lower similarity threshold; kana and kanji
// carry no usable phonetic codes, so they are accepted on plain similarity
// at a stricter one. Hiragana is folded to katakana before comparison, so a
// reading transcribed in the wrong syllabary still matches.
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
// term whose Double Metaphone codes overlap the input. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required for a
// term without phonetic code overlap. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Matcher ranks vocabulary terms by similarity to an input span. It is
// read-only after construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a [Matcher] with the supplied options applied.
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

// Normalize folds s for comparison: ASCII letters are lowercased and
// hiragana is promoted to katakana. Kanji and everything else pass through
// unchanged.
func Normalize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		case r >= 'ぁ' && r <= 'ゖ':
			return r + 0x60
		}
		return r
	}, s)
}

// Match reports the term most similar to phrase.
//
// Return values follow one contract: when matched is false, corrected
// equals phrase unchanged and confidence is 0. An exact match after
// normalization returns the term with confidence 1, which lets callers
// recognise spans that are already canonical.
func (m *Matcher) Match(phrase string, terms []string) (corrected string, confidence float64, matched bool) {
	trimmed := strings.TrimSpace(phrase)
	if trimmed == "" || len(terms) == 0 {
		return phrase, 0, false
	}

	normPhrase := Normalize(trimmed)
	phraseCodes := metaphoneCodes(normPhrase)

	var (
		bestTerm     string
		bestScore    float64
		bestPhonetic bool
	)

	for _, term := range terms {
		normTerm := Normalize(strings.TrimSpace(term))
		if normTerm == "" {
			continue
		}
		if normPhrase == normTerm {
			return term, 1, true
		}

		score := similarity(normPhrase, normTerm)

		if codesOverlap(phraseCodes, metaphoneCodes(normTerm)) {
			if score >= m.phoneticThreshold && (!bestPhonetic || score > bestScore) {
				bestTerm, bestScore, bestPhonetic = term, score, true
			}
		} else if !bestPhonetic && score >= m.fuzzyThreshold && score > bestScore {
			bestTerm, bestScore = term, score
		}
	}

	if bestTerm != "" {
		return bestTerm, bestScore, true
	}
	return phrase, 0, false
}

// similarity is the best Jaro-Winkler score across three views of the two
// strings:
//
//  1. The full strings.
//  2. The strings with spaces stripped, for multi-word names the recognizer
//     ran together or split apart.
//  3. The best pairwise token score, for one spoken word landing on one
//     word of a multi-word name. Applied only when one side is a single
//     token: between two multi-word strings a shared word would score a
//     perfect match regardless of the rest.
func similarity(a, b string) float64 {
	score := matchr.JaroWinkler(a, b, false)

	aTokens := strings.Fields(a)
	bTokens := strings.Fields(b)

	if len(aTokens) > 1 || len(bTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(aTokens, ""), strings.Join(bTokens, ""), false); s > score {
			score = s
		}
	}

	if len(aTokens) == 1 || len(bTokens) == 1 {
		for _, at := range aTokens {
			for _, bt := range bTokens {
				if s := matchr.JaroWinkler(at, bt, false); s > score {
					score = s
				}
			}
		}
	}

	return score
}

// metaphoneCodes returns the union of Double Metaphone codes over the
// whitespace tokens of s. Kana and kanji produce no codes, so a purely
// Japanese span yields an empty set.
func metaphoneCodes(s string) map[string]struct{} {
	codes := make(map[string]struct{}, 4)
	for _, token := range strings.Fields(s) {
		p, alt := matchr.DoubleMetaphone(token)
		if p != "" {
			codes[p] = struct{}{}
		}
		if alt != "" {
			codes[alt] = struct{}{}
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
