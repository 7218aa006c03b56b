package analyzer

import (
	"strings"
	"time"

	"github.com/umigoe/umigoe/pkg/types"
)

// Canned operator responses for the non-model paths, in VHF read-back
// style: short, directive, no pleasantries.
const (
	emergencyResponse = "緊急通信を受信しました。ただちに管制官が対応します。現在の位置と状況を送信してください。"
	cautionResponse   = "注意情報を受信しました。周囲の状況に注意し、引き続き報告してください。"
	routineResponse   = "通信を受信しました。AI支援が一時的に利用できないため、通常の管制手順で対応してください。"
	retryResponse     = "音声を認識できませんでした。もう一度送信してください。"
)

// distressTokens are the GMDSS radiotelephony procedure words and their
// katakana transliterations. Matching is case-insensitive.
var distressTokens = []string{
	"MAYDAY", "メーデー",
	"PAN-PAN", "パンパン",
	"SECURITE", "セキュリテ",
}

// Keyword tiers for the heuristic used when the model is unreachable or its
// reply is unusable.
var (
	redKeywords   = []string{"MAYDAY", "メーデー", "火災", "衝突", "浸水", "緊急", "SOS"}
	amberKeywords = []string{"強風", "視界", "操船困難", "注意"}
)

// detectDistress reports the first distress procedure word found in text.
func detectDistress(text string) (string, bool) {
	upper := strings.ToUpper(text)
	for _, tok := range distressTokens {
		if strings.Contains(upper, tok) {
			return tok, true
		}
	}
	return "", false
}

// classifyByKeywords tiers a transcript by distress and caution vocabulary,
// returning the tag, its fixed confidence, and the canned response.
func classifyByKeywords(transcript string) (types.Classification, float64, string) {
	upper := strings.ToUpper(transcript)
	for _, kw := range redKeywords {
		if strings.Contains(upper, kw) {
			return types.ClassRed, 0.7, emergencyResponse
		}
	}
	for _, kw := range amberKeywords {
		if strings.Contains(upper, kw) {
			return types.ClassAmber, 0.6, cautionResponse
		}
	}
	return types.ClassGreen, 0.5, routineResponse
}

// emergencyResult is the fast-path answer for distress traffic. It skips
// the model, so worst-case latency for safety-of-life calls stays flat.
func emergencyResult() types.AnalysisResult {
	return types.AnalysisResult{
		Classification:     types.ClassRed,
		SuggestedResponse:  emergencyResponse,
		Confidence:         1.0,
		RiskFactors:        []string{"遭難または緊急信号を検出"},
		RecommendedActions: []string{"直ちに応答し位置と乗員数を確認する", "関係機関への通報を準備する"},
		Timestamp:          types.FormatTimestamp(time.Now()),
		IsEmergency:        true,
	}
}

// fallbackResult classifies by keywords over the original transcript when
// the model path failed. reason lands in Error for diagnostics; the
// operator only sees the canned text.
func fallbackResult(transcript string, reason error) types.AnalysisResult {
	cls, conf, resp := classifyByKeywords(transcript)
	return types.AnalysisResult{
		Classification:     cls,
		SuggestedResponse:  resp,
		Confidence:         conf,
		RiskFactors:        []string{},
		RecommendedActions: []string{},
		Timestamp:          types.FormatTimestamp(time.Now()),
		Error:              reason.Error(),
	}
}

// validationResult answers for input that sanitized down to nothing.
func validationResult() types.AnalysisResult {
	return types.AnalysisResult{
		Classification:     types.ClassGreen,
		SuggestedResponse:  retryResponse,
		Confidence:         0,
		RiskFactors:        []string{},
		RecommendedActions: []string{},
		Timestamp:          types.FormatTimestamp(time.Now()),
		Error:              "transcript empty after sanitization",
	}
}
