package transcript

import (
	"context"
	"log/slog"
	"slices"
	"sort"
	"strings"

	"github.com/umigoe/umigoe/internal/transcript/llmcorrect"
	"github.com/umigoe/umigoe/internal/transcript/phonetic"
)

const (
	// defaultLLMThreshold is the recognizer confidence below which the
	// language-model stage is consulted. Transcripts the recognizer was
	// already sure about skip it.
	defaultLLMThreshold = 0.5

	// minTermRunes is the shortest vocabulary term the corrector will scan
	// for. Single-rune terms produce far too many candidate windows.
	minTermRunes = 2
)

// Option is a functional option for configuring a [Corrector].
type Option func(*Corrector)

// WithMatcher replaces the default phonetic matcher.
func WithMatcher(m *phonetic.Matcher) Option {
	return func(c *Corrector) {
		c.matcher = m
	}
}

// WithLLMCorrector attaches a language-model stage that runs when the
// recognizer confidence falls below the threshold. When nil (the default),
// correction is phonetic-only.
func WithLLMCorrector(lc *llmcorrect.Corrector) Option {
	return func(c *Corrector) {
		c.llm = lc
	}
}

// WithLLMThreshold sets the recognizer confidence below which the
// language-model stage runs. Default: 0.5.
func WithLLMThreshold(threshold float64) Option {
	return func(c *Corrector) {
		c.llmThreshold = threshold
	}
}

// Corrector repairs misrecognized vocabulary terms in final transcripts.
//
// Stage one scans the text for spans phonetically close to a known term
// and substitutes the canonical spelling. Stage two, when configured,
// hands low-confidence transcripts to a language model for a conservative
// proofread. Correction never fails: when a stage errors the text from
// the previous stage is returned.
//
// A Corrector is read-only after construction and safe for concurrent use.
type Corrector struct {
	matcher      *phonetic.Matcher
	llm          *llmcorrect.Corrector
	llmThreshold float64
	terms        []string
}

// New returns a [Corrector] over the given vocabulary. Terms are trimmed,
// deduplicated, and ordered longest first so that a longer name wins over
// a shorter one covering the same span.
func New(terms []string, opts ...Option) *Corrector {
	c := &Corrector{
		matcher:      phonetic.New(),
		llmThreshold: defaultLLMThreshold,
		terms:        cleanTerms(terms),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Terms returns the cleaned vocabulary the corrector scans for.
func (c *Corrector) Terms() []string {
	return c.terms
}

// Correct applies both stages to text and returns the result. confidence
// is the recognizer's confidence in the transcript and gates the
// language-model stage.
func (c *Corrector) Correct(ctx context.Context, text string, confidence float64) Result {
	if strings.TrimSpace(text) == "" || len(c.terms) == 0 {
		return Result{Text: text}
	}

	res := c.applyPhonetic(text)

	if c.llm != nil && confidence < c.llmThreshold {
		corrected, applied, err := c.llm.Correct(ctx, res.Text, c.terms)
		if err != nil {
			slog.Warn("llm transcript correction failed",
				"error", err)
			return res
		}
		res.Text = corrected
		for _, a := range applied {
			res.Corrections = append(res.Corrections, Correction{
				Original:   a.Original,
				Corrected:  a.Corrected,
				Confidence: a.Confidence,
				Method:     MethodLLM,
			})
		}
	}

	return res
}

// span is a candidate substitution: text[start:end) in runes resembles
// term. A span whose window already equals the term blocks overlapping
// candidates but records no correction.
type span struct {
	start, end int
	term       string
	window     string
	score      float64
}

// applyPhonetic scans text with a sliding rune window per vocabulary term.
// Japanese transcripts carry no word boundaries, so candidate spans are
// taken at every offset with widths of the term's rune length plus or
// minus one. Candidates are ranked score first, longer span first, then
// left to right, and accepted greedily without overlap.
func (c *Corrector) applyPhonetic(text string) Result {
	runes := []rune(text)

	var candidates []span
	for _, term := range c.terms {
		termLen := len([]rune(term))
		for _, width := range []int{termLen - 1, termLen, termLen + 1} {
			if width < minTermRunes || width > len(runes) {
				continue
			}
			for start := 0; start+width <= len(runes); start++ {
				window := string(runes[start : start+width])
				corrected, score, matched := c.matcher.Match(window, []string{term})
				if !matched || corrected != term {
					continue
				}
				candidates = append(candidates, span{
					start:  start,
					end:    start + width,
					term:   term,
					window: window,
					score:  score,
				})
			}
		}
	}
	if len(candidates) == 0 {
		return Result{Text: text}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		li, lj := candidates[i].end-candidates[i].start, candidates[j].end-candidates[j].start
		if li != lj {
			return li > lj
		}
		return candidates[i].start < candidates[j].start
	})

	var accepted []span
	for _, cand := range candidates {
		if overlapsAny(cand, accepted) {
			continue
		}
		accepted = append(accepted, cand)
	}

	// Apply right to left so earlier offsets stay valid.
	sort.Slice(accepted, func(i, j int) bool {
		return accepted[i].start > accepted[j].start
	})

	var corrections []Correction
	for _, s := range accepted {
		if s.window == s.term {
			continue
		}
		runes = append(runes[:s.start], append([]rune(s.term), runes[s.end:]...)...)
		corrections = append(corrections, Correction{
			Original:   s.window,
			Corrected:  s.term,
			Confidence: s.score,
			Method:     MethodPhonetic,
		})
	}
	slices.Reverse(corrections)

	return Result{Text: string(runes), Corrections: corrections}
}

func overlapsAny(c span, accepted []span) bool {
	for _, a := range accepted {
		if c.start < a.end && a.start < c.end {
			return true
		}
	}
	return false
}

func cleanTerms(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	var cleaned []string
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if len([]rune(t)) < minTermRunes {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		cleaned = append(cleaned, t)
	}
	sort.SliceStable(cleaned, func(i, j int) bool {
		return len([]rune(cleaned[i])) > len([]rune(cleaned[j]))
	})
	return cleaned
}
