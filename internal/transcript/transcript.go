// Package transcript fixes misheard domain vocabulary in finalized
// transcripts.
//
// VHF traffic is dense with proper nouns — vessel names, berths, fairways,
// anchorages — that streaming recognizers routinely garble. The [Corrector]
// runs up to two stages over each finalized utterance:
//
//  1. Phonetic matching: every vocabulary term is scanned for near-miss
//     spans in the text, and the closest span is replaced with the term's
//     canonical spelling. In-process, no network calls.
//  2. LLM assist (optional): utterances whose overall confidence falls
//     below a threshold additionally go through a language-model pass that
//     can resolve garbled spans the scanner cannot align.
//
// Correction never fails a transcript: the LLM stage degrades to the
// phonetic result on any error, and a Corrector with an empty vocabulary
// passes text through untouched.
package transcript

// Values for [Correction.Method].
const (
	MethodPhonetic = "phonetic"
	MethodLLM      = "llm"
)

// Correction records one substitution applied to a transcript.
type Correction struct {
	// Original is the span as the recognizer produced it.
	Original string

	// Corrected is the canonical spelling that replaced it.
	Corrected string

	// Confidence is the similarity or model confidence for this
	// substitution, in [0.0, 1.0].
	Confidence float64

	// Method names the stage that produced the substitution,
	// [MethodPhonetic] or [MethodLLM].
	Method string
}

// Result is the outcome of one [Corrector.Correct] call. When nothing
// needed fixing, Text equals the input and Corrections is empty.
type Result struct {
	Text        string
	Corrections []Correction
}
