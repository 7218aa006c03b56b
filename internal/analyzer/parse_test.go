package analyzer

import (
	"testing"
	"time"

	"github.com/umigoe/umigoe/pkg/types"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		want   string
		wantOK bool
	}{
		{
			name:   "bare object",
			in:     `{"a":1}`,
			want:   `{"a":1}`,
			wantOK: true,
		},
		{
			name:   "prose wrapped",
			in:     `以下が分析結果です: {"a":1} ご確認ください。`,
			want:   `{"a":1}`,
			wantOK: true,
		},
		{
			name:   "nested objects",
			in:     `{"a":{"b":{"c":1}},"d":2}`,
			want:   `{"a":{"b":{"c":1}},"d":2}`,
			wantOK: true,
		},
		{
			name:   "braces inside strings",
			in:     `x {"a":"値}ここ","b":{"c":"{"}} y`,
			want:   `{"a":"値}ここ","b":{"c":"{"}}`,
			wantOK: true,
		},
		{
			name:   "escaped quote inside string",
			in:     `{"a":"say \"hi\" {now}"}`,
			want:   `{"a":"say \"hi\" {now}"}`,
			wantOK: true,
		},
		{
			name:   "no object",
			in:     "JSONはありません",
			wantOK: false,
		},
		{
			name:   "unbalanced",
			in:     `{"a": {"b": 1}`,
			wantOK: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := extractJSON(tt.in)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("extractJSON = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStripMarkdown(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"no fence", `{"a":1}`, `{"a":1}`},
		{"surrounding whitespace", "  \n```json\n{\"a\":1}\n```\n  ", `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stripMarkdown(tt.in); got != tt.want {
				t.Errorf("stripMarkdown = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseReplyValidReply(t *testing.T) {
	res, err := parseReply(`{
		"classification": "AMBER",
		"suggestedResponse": "強風に注意して航行してください。",
		"confidence": 0.8,
		"riskFactors": ["強風", "うねり"],
		"recommendedActions": ["減速してください"]
	}`)
	if err != nil {
		t.Fatalf("parseReply: %v", err)
	}
	if res.Classification != types.ClassAmber {
		t.Errorf("Classification = %q", res.Classification)
	}
	if res.SuggestedResponse != "強風に注意して航行してください。" {
		t.Errorf("SuggestedResponse = %q", res.SuggestedResponse)
	}
	if res.Confidence != 0.8 {
		t.Errorf("Confidence = %v", res.Confidence)
	}
	if len(res.RiskFactors) != 2 || len(res.RecommendedActions) != 1 {
		t.Errorf("lists = %v / %v", res.RiskFactors, res.RecommendedActions)
	}
	if ts, err := time.Parse(types.TimestampLayout, res.Timestamp); err != nil {
		t.Errorf("Timestamp %q not in wire layout: %v", res.Timestamp, err)
	} else if time.Since(ts) > 5*time.Second {
		t.Errorf("Timestamp = %v, want recent", ts)
	}
}

func TestParseReplyErrors(t *testing.T) {
	for name, in := range map[string]string{
		"no json":        "結果をお伝えします。",
		"malformed json": `{"classification": GREEN}`,
		"empty":          "",
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := parseReply(in); err == nil {
				t.Error("parseReply succeeded, want error")
			}
		})
	}
}

func TestCoerceClassification(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want types.Classification
	}{
		{"canonical", "RED", types.ClassRed},
		{"lowercase", "green", types.ClassGreen},
		{"padded", " amber ", types.ClassAmber},
		{"invented tag", "YELLOW", types.ClassAmber},
		{"missing", nil, types.ClassAmber},
		{"wrong type", 3.0, types.ClassAmber},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := coerceClassification(tt.in); got != tt.want {
				t.Errorf("coerceClassification(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCoerceResponse(t *testing.T) {
	if got := coerceResponse("了解しました。"); got != "了解しました。" {
		t.Errorf("got %q", got)
	}
	for name, in := range map[string]any{
		"missing":    nil,
		"blank":      "  ",
		"wrong type": 42.0,
	} {
		t.Run(name, func(t *testing.T) {
			if got := coerceResponse(in); got != processingResponse {
				t.Errorf("coerceResponse(%v) = %q, want processing notice", in, got)
			}
		})
	}
}

func TestScrubResponse(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"clean text untouched", "了解しました。", "了解しました。"},
		{"json artifacts stripped", `{"了解",[安全確認]}`, "了解、安全確認"},
		{"ascii comma to fullwidth", "減速, 見張り強化", "減速、 見張り強化"},
		{"scrubs to empty", `{}[]""`, processingResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := scrubResponse(tt.in); got != tt.want {
				t.Errorf("scrubResponse(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCoerceConfidence(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want float64
	}{
		{"in range", 0.8, 0.8},
		{"above range", 1.7, 1.0},
		{"below range", -0.3, 0.0},
		{"missing", nil, defaultConfidence},
		{"wrong type", "high", defaultConfidence},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := coerceConfidence(tt.in); got != tt.want {
				t.Errorf("coerceConfidence(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestCoerceStringList(t *testing.T) {
	got := coerceStringList([]any{"見張り強化", 1.0, true, "", "減速"})
	if len(got) != 2 || got[0] != "見張り強化" || got[1] != "減速" {
		t.Errorf("coerceStringList = %v", got)
	}

	for name, in := range map[string]any{
		"missing":    nil,
		"wrong type": "none",
		"object":     map[string]any{"a": 1.0},
	} {
		t.Run(name, func(t *testing.T) {
			got := coerceStringList(in)
			if got == nil {
				t.Fatal("coerceStringList returned nil, want empty slice")
			}
			if len(got) != 0 {
				t.Errorf("coerceStringList(%v) = %v, want empty", in, got)
			}
		})
	}
}

func TestParseReplyCoercesWholeReply(t *testing.T) {
	res, err := parseReply(`{"classification":"urgent","suggestedResponse":["not","a","string"],"confidence":"?","riskFactors":"none"}`)
	if err != nil {
		t.Fatalf("parseReply: %v", err)
	}
	if res.Classification != types.ClassAmber {
		t.Errorf("Classification = %q, want AMBER", res.Classification)
	}
	if res.SuggestedResponse != processingResponse {
		t.Errorf("SuggestedResponse = %q, want processing notice", res.SuggestedResponse)
	}
	if res.Confidence != defaultConfidence {
		t.Errorf("Confidence = %v, want %v", res.Confidence, defaultConfidence)
	}
	if res.RiskFactors == nil || len(res.RiskFactors) != 0 {
		t.Errorf("RiskFactors = %v, want empty", res.RiskFactors)
	}
	if res.RecommendedActions == nil || len(res.RecommendedActions) != 0 {
		t.Errorf("RecommendedActions = %v, want empty", res.RecommendedActions)
	}
}
