package analyzer

import (
	"fmt"
	"strings"

	"github.com/umigoe/umigoe/pkg/types"
)

// systemPrompt fixes the model's role, the classification criteria, and the
// output contract. The reply must be a single JSON object; parse.go
// tolerates fenced or prose-wrapped output anyway.
const systemPrompt = `あなたは博多港の海上交通管制(VTS)を支援するAIアシスタントです。
管制官と船舶のVHF交信内容を分析し、状況を3段階で分類してください。

分類基準:
- GREEN: 通常の交信。定常的な入出港連絡、位置報告、確認応答。
- AMBER: 注意を要する状況。強風や視界不良などの気象影響、操船困難、軽微な機器故障、航路の混雑。
- RED: 緊急事態。遭難信号、火災、衝突、浸水、人命に関わる状況。

対象海域は博多港とその周辺(博多湾、玄界灘)です。航路、泊地、防波堤など港湾施設への言及を考慮してください。

応答は次の形式のJSONオブジェクトのみとし、マークダウンや説明文を含めないでください:
{
  "classification": "GREEN" | "AMBER" | "RED",
  "suggestedResponse": "管制官が船舶へ無線で返答するための日本語文案",
  "confidence": 0.0から1.0の数値,
  "riskFactors": ["認識したリスク要因"],
  "recommendedActions": ["推奨する対応手順"]
}`

// buildUserPrompt assembles the user message from the cleaned transcript and
// whatever context fields are present.
func buildUserPrompt(cleaned string, actx types.AnalysisContext) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "交信内容: %s", cleaned)
	if actx.Location != "" {
		fmt.Fprintf(&sb, "\n位置情報: %s", actx.Location)
	}
	if actx.VesselInfo != "" {
		fmt.Fprintf(&sb, "\n船舶情報: %s", actx.VesselInfo)
	}
	return sb.String()
}
