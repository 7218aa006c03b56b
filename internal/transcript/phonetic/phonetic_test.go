package phonetic_test

import (
	"testing"

	"github.com/umigoe/umigoe/internal/transcript/phonetic"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in, want string
	}{
		{"MOL Triumph", "mol triumph"},
		{"はかたまる", "ハカタマル"},
		{"ハカタマル", "ハカタマル"},
		{"中央航路", "中央航路"},
		{"JG5302 こうようまる", "jg5302 コウヨウマル"},
	}
	for _, c := range cases {
		if got := phonetic.Normalize(c.in); got != c.want {
			t.Errorf("Normalize(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestMatcher_ExactAfterFold(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	terms := []string{"ハカタマル", "コウヨウマル"}

	// A hiragana transcription of a katakana vessel name is the same reading.
	corrected, conf, matched := m.Match("はかたまる", terms)
	if !matched {
		t.Fatalf("Match(%q): matched=false, want true", "はかたまる")
	}
	if corrected != "ハカタマル" {
		t.Errorf("Match(%q): corrected=%q, want %q", "はかたまる", corrected, "ハカタマル")
	}
	if conf != 1 {
		t.Errorf("Match(%q): confidence=%f, want 1", "はかたまる", conf)
	}
}

func TestMatcher_KatakanaNearMiss(t *testing.T) {
	t.Parallel()

	m := phonetic.New()

	// One kana off: the recognizer voiced タ into ダ.
	terms := []string{"ハカタマル", "コウヨウマル", "中央航路"}

	corrected, conf, matched := m.Match("ハカダマル", terms)
	if !matched {
		t.Fatalf("Match(%q, terms): matched=false, want true", "ハカダマル")
	}
	if corrected != "ハカタマル" {
		t.Errorf("Match(%q): corrected=%q, want %q", "ハカダマル", corrected, "ハカタマル")
	}
	if conf < 0.85 {
		t.Errorf("Match(%q): confidence=%f, want >= 0.85", "ハカダマル", conf)
	}
}

func TestMatcher_LatinPhoneticMatch(t *testing.T) {
	t.Parallel()

	m := phonetic.New()

	// "pacific glorie" shares a token with "Pacific Glory", so the Double
	// Metaphone codes overlap and the lower phonetic threshold applies.
	terms := []string{"Pacific Glory", "Ocean Breeze", "ハカタマル"}

	corrected, conf, matched := m.Match("pacific glorie", terms)
	if !matched {
		t.Fatalf("Match(%q, terms): matched=false, want true", "pacific glorie")
	}
	if corrected != "Pacific Glory" {
		t.Errorf("Match(%q): corrected=%q, want %q", "pacific glorie", corrected, "Pacific Glory")
	}
	if conf < 0.7 {
		t.Errorf("Match(%q): confidence=%f, want >= 0.7", "pacific glorie", conf)
	}
}

func TestMatcher_NoMatchPassesThrough(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	terms := []string{"ハカタマル", "Pacific Glory"}

	corrected, conf, matched := m.Match("了解しました", terms)
	if matched {
		t.Fatalf("Match(%q): matched=true, want false", "了解しました")
	}
	if corrected != "了解しました" {
		t.Errorf("Match(%q): corrected=%q, want input unchanged", "了解しました", corrected)
	}
	if conf != 0 {
		t.Errorf("Match(%q): confidence=%f, want 0", "了解しました", conf)
	}
}

func TestMatcher_EmptyTerms(t *testing.T) {
	t.Parallel()

	m := phonetic.New()

	corrected, _, matched := m.Match("ハカタマル", nil)
	if matched {
		t.Fatal("Match with no terms: matched=true, want false")
	}
	if corrected != "ハカタマル" {
		t.Errorf("Match with no terms: corrected=%q, want input unchanged", corrected)
	}
}

func TestMatcher_ThresholdOptions(t *testing.T) {
	t.Parallel()

	strict := phonetic.New(
		phonetic.WithPhoneticThreshold(0.99),
		phonetic.WithFuzzyThreshold(0.99),
	)

	// Near misses that the defaults accept stay unmatched under strict
	// thresholds; exact matches still score 1.
	if _, _, matched := strict.Match("ハカダマル", []string{"ハカタマル"}); matched {
		t.Error("strict Match(ハカダマル): matched=true, want false")
	}
	if _, _, matched := strict.Match("pacific glorie", []string{"Pacific Glory"}); matched {
		t.Error("strict Match(pacific glorie): matched=true, want false")
	}
	if _, conf, matched := strict.Match("ハカタマル", []string{"ハカタマル"}); !matched || conf != 1 {
		t.Errorf("strict exact Match: matched=%v confidence=%f, want true and 1", matched, conf)
	}
}
