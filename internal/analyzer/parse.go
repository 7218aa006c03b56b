package analyzer

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/umigoe/umigoe/pkg/types"
)

// processingResponse substitutes for a missing or non-string
// suggestedResponse in an otherwise parseable model reply.
const processingResponse = "ただいま処理中です。"

// defaultConfidence is used when the model omits confidence or returns a
// non-numeric value.
const defaultConfidence = 0.5

// responseScrubber removes JSON punctuation that would read as garbage on
// the operator console and swaps ASCII commas for the full-width form.
var responseScrubber = strings.NewReplacer(
	"{", "", "}", "",
	"[", "", "]", "",
	`"`, "",
	",", "、",
)

// parseReply validates and coerces a raw model reply into a
// [types.AnalysisResult]. Each field is coerced independently so one
// malformed field never discards an otherwise usable reply.
func parseReply(content string) (types.AnalysisResult, error) {
	jsonStr, ok := extractJSON(stripMarkdown(content))
	if !ok {
		return types.AnalysisResult{}, errors.New("no JSON object in model reply")
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		return types.AnalysisResult{}, fmt.Errorf("decode model reply: %w", err)
	}

	return types.AnalysisResult{
		Classification:     coerceClassification(raw["classification"]),
		SuggestedResponse:  scrubResponse(coerceResponse(raw["suggestedResponse"])),
		Confidence:         coerceConfidence(raw["confidence"]),
		RiskFactors:        coerceStringList(raw["riskFactors"]),
		RecommendedActions: coerceStringList(raw["recommendedActions"]),
		Timestamp:          types.FormatTimestamp(time.Now()),
	}, nil
}

// stripMarkdown removes optional markdown code fences (```json ... ```)
// that some models wrap around JSON output.
func stripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(strings.TrimSpace(s), "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}

// extractJSON returns the first balanced top-level JSON object in s.
// Braces inside JSON strings do not count toward the balance.
func extractJSON(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// coerceClassification maps the model's tag onto the allowed set. Anything
// absent, non-string, or invented becomes AMBER.
func coerceClassification(v any) types.Classification {
	s, ok := v.(string)
	if !ok {
		return types.ClassAmber
	}
	if c := types.Classification(strings.ToUpper(strings.TrimSpace(s))); c.IsValid() {
		return c
	}
	return types.ClassAmber
}

// coerceResponse accepts only a non-empty string; anything else becomes the
// neutral processing notice.
func coerceResponse(v any) string {
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return processingResponse
	}
	return s
}

// scrubResponse strips JSON punctuation from operator-facing text. A reply
// that scrubs down to nothing becomes the neutral processing notice.
func scrubResponse(s string) string {
	s = strings.TrimSpace(responseScrubber.Replace(s))
	if s == "" {
		return processingResponse
	}
	return s
}

// coerceConfidence clamps a numeric confidence into [0,1]. Absent or
// non-numeric values get the neutral default.
func coerceConfidence(v any) float64 {
	f, ok := v.(float64)
	if !ok {
		return defaultConfidence
	}
	return min(max(f, 0), 1)
}

// coerceStringList accepts only a JSON array, keeping its non-empty string
// elements. Anything else yields an empty, non-nil slice.
func coerceStringList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}
