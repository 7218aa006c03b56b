package llmcorrect

import "testing"

func TestApplyVerified_ReplacesOccurringSpans(t *testing.T) {
	t.Parallel()

	text := "ハカダマル、中央抗路を南下中"
	got, applied := applyVerified(text, []Correction{
		{Original: "ハカダマル", Corrected: "ハカタマル", Confidence: 0.9},
		{Original: "中央抗路", Corrected: "中央航路", Confidence: 0.8},
	})
	if want := "ハカタマル、中央航路を南下中"; got != want {
		t.Errorf("applyVerified = %q, want %q", got, want)
	}
	if len(applied) != 2 {
		t.Errorf("applied %d corrections, want 2", len(applied))
	}
}

func TestApplyVerified_ReplacesAllOccurrences(t *testing.T) {
	t.Parallel()

	got, applied := applyVerified("ハカダマル、ハカダマル、こちらポートラジオ", []Correction{
		{Original: "ハカダマル", Corrected: "ハカタマル", Confidence: 0.9},
	})
	if want := "ハカタマル、ハカタマル、こちらポートラジオ"; got != want {
		t.Errorf("applyVerified = %q, want every occurrence replaced", got)
	}
	if len(applied) != 1 {
		t.Errorf("applied %d corrections, want 1", len(applied))
	}
}

func TestApplyVerified_DropsUnverifiableSpans(t *testing.T) {
	t.Parallel()

	text := "中央航路を南下中"
	cases := []struct {
		name string
		c    Correction
	}{
		{"absent original", Correction{Original: "ハカダマル", Corrected: "ハカタマル"}},
		{"empty original", Correction{Original: "", Corrected: "ハカタマル"}},
		{"empty corrected", Correction{Original: "中央航路", Corrected: ""}},
		{"no-op", Correction{Original: "中央航路", Corrected: "中央航路"}},
	}
	for _, tc := range cases {
		got, applied := applyVerified(text, []Correction{tc.c})
		if got != text {
			t.Errorf("%s: text = %q, want unchanged", tc.name, got)
		}
		if applied != nil {
			t.Errorf("%s: applied = %+v, want nil", tc.name, applied)
		}
	}
}
