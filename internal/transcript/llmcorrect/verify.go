package llmcorrect

import "strings"

// applyVerified replays the model's declared substitutions onto text and
// returns the result with the list of substitutions that actually took.
//
// Each correction is applied only when its original span literally occurs
// in the current text. Empty spans, no-op spans, and spans the model made
// up are dropped, which keeps a hallucinating model from rewriting parts
// of the transcript it never flagged.
func applyVerified(text string, corrections []Correction) (string, []Correction) {
	var applied []Correction
	for _, c := range corrections {
		if c.Original == "" || c.Corrected == "" || c.Original == c.Corrected {
			continue
		}
		if !strings.Contains(text, c.Original) {
			continue
		}
		text = strings.ReplaceAll(text, c.Original, c.Corrected)
		applied = append(applied, c)
	}
	return text, applied
}
