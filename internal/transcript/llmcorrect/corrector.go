// Package llmcorrect implements a language-model correction stage that
// resolves vocabulary misrecognitions the phonetic matcher cannot catch.
//
// The [Corrector] sends the transcript text to an [llm.Provider] together
// with the list of known port vocabulary terms. A conservative system
// prompt instructs the model to fix only spans that look like misheard
// terms and to answer with structured JSON listing each substitution.
//
// The model's answer is advisory. Only substitutions whose original span
// actually occurs in the transcript are replayed onto it; the model's own
// rendering of the corrected text is never trusted verbatim, so a
// hallucinated rewrite cannot reach the operator console. When the reply
// cannot be parsed at all the original text comes back unchanged with a
// nil error.
package llmcorrect

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	llm "github.com/umigoe/umigoe/pkg/provider/llm"
)

const systemPromptTemplate = `あなたは博多港の船舶通航管制(VTS)の交信記録を校正するアシスタントです。
音声認識された交信テキストに含まれる、既知の船名・岸壁名・航路名の聞き間違いだけを訂正してください。

既知の語彙:
%s

規則:
- 既知の語彙の聞き間違いと思われる箇所のみを訂正すること
- 確信が持てない場合は訂正しないこと
- 訂正する場合は語彙に記載された正式な表記を使うこと
- それ以外の文言は一切変更しないこと

必ず次のJSON形式のみで回答してください:
{
  "correctedText": "訂正後の全文",
  "corrections": [
    {"original": "元の表記", "corrected": "訂正後の表記", "confidence": 0.0}
  ]
}

訂正が不要な場合は corrections を空配列にしてください。`

const (
	defaultTemperature = 0.1
	defaultTimeout     = 2 * time.Second
	defaultMaxTokens   = 500
)

// Correction is a single substitution declared by the model.
type Correction struct {
	Original   string  `json:"original"`
	Corrected  string  `json:"corrected"`
	Confidence float64 `json:"confidence"`
}

// llmReply mirrors the JSON the system prompt asks for. CorrectedText is
// decoded for completeness but never applied; see applyVerified.
type llmReply struct {
	CorrectedText string       `json:"correctedText"`
	Corrections   []Correction `json:"corrections"`
}

// Option is a functional option for configuring a [Corrector].
type Option func(*Corrector)

// WithTemperature sets the sampling temperature. Default: 0.1, keeping the
// model close to deterministic for a proofreading task.
func WithTemperature(temp float64) Option {
	return func(c *Corrector) {
		c.temperature = temp
	}
}

// WithTimeout bounds a single correction round trip. Default: 2s.
func WithTimeout(d time.Duration) Option {
	return func(c *Corrector) {
		c.timeout = d
	}
}

// WithMaxTokens caps the model's reply length. Default: 500.
func WithMaxTokens(n int) Option {
	return func(c *Corrector) {
		c.maxTokens = n
	}
}

// Corrector proofreads transcripts against a known vocabulary using a
// language model.
type Corrector struct {
	llm         llm.Provider
	temperature float64
	timeout     time.Duration
	maxTokens   int
}

// New returns a [Corrector] backed by the given provider.
func New(provider llm.Provider, opts ...Option) *Corrector {
	c := &Corrector{
		llm:         provider,
		temperature: defaultTemperature,
		timeout:     defaultTimeout,
		maxTokens:   defaultMaxTokens,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Correct asks the model to proofread text against terms and returns the
// text with the verified substitutions applied.
//
// A completion failure returns the original text and a non-nil error so
// the caller can log it. An unparseable reply is not an error: the model
// ignored its instructions, the text comes back unchanged.
func (c *Corrector) Correct(ctx context.Context, text string, terms []string) (string, []Correction, error) {
	if strings.TrimSpace(text) == "" || len(terms) == 0 {
		return text, nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: buildSystemPrompt(terms),
		Prompt:       text,
		Temperature:  c.temperature,
		MaxTokens:    c.maxTokens,
	})
	if err != nil {
		return text, nil, fmt.Errorf("proofread completion: %w", err)
	}
	if resp == nil {
		return text, nil, nil
	}

	var reply llmReply
	if err := json.Unmarshal([]byte(stripMarkdown(resp.Content)), &reply); err != nil {
		return text, nil, nil
	}

	corrected, applied := applyVerified(text, reply.Corrections)
	return corrected, applied, nil
}

func buildSystemPrompt(terms []string) string {
	var b strings.Builder
	for _, term := range terms {
		b.WriteString("- ")
		b.WriteString(term)
		b.WriteString("\n")
	}
	return fmt.Sprintf(systemPromptTemplate, strings.TrimRight(b.String(), "\n"))
}

// stripMarkdown removes a ```json fence if the model wrapped its reply in
// one despite being told not to.
func stripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	if after, ok := strings.CutPrefix(s, "```json"); ok {
		s = after
	} else if after, ok := strings.CutPrefix(s, "```"); ok {
		s = after
	}
	if before, ok := strings.CutSuffix(strings.TrimSpace(s), "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}
