// Package analyzer classifies finalized VTS transcripts with a language
// model and drafts a suggested operator response.
//
// [Analyzer.Analyze] never fails from the caller's point of view: distress
// phrases such as MAYDAY short-circuit to an immediate RED result before
// any model call, and upstream failures degrade to a keyword heuristic over
// the original transcript. Every path returns a valid
// [types.AnalysisResult] the router can ship to the operator console
// unchanged.
//
// Model output is treated as untrusted. The reply is reduced to its first
// balanced JSON object, each field is coerced independently, and the
// suggested response is scrubbed of JSON punctuation so no raw model
// artifact ever reaches a radio operator.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/semaphore"

	"github.com/umigoe/umigoe/internal/observe"
	llm "github.com/umigoe/umigoe/pkg/provider/llm"
	"github.com/umigoe/umigoe/pkg/types"
)

const (
	defaultTemperature   = 0.3
	defaultMaxTokens     = 300
	defaultTimeout       = 5 * time.Second
	defaultMaxConcurrent = 10

	// maxTranscriptRunes bounds the transcript length forwarded to the
	// model. VHF transmissions are short; anything longer is noise.
	maxTranscriptRunes = 1000
)

// Option is a functional option for configuring an [Analyzer].
type Option func(*Analyzer)

// WithTemperature sets the model sampling temperature. Default: 0.3.
func WithTemperature(temp float64) Option {
	return func(a *Analyzer) {
		a.temperature = temp
	}
}

// WithMaxTokens caps the completion length. Default: 300.
func WithMaxTokens(n int) Option {
	return func(a *Analyzer) {
		a.maxTokens = n
	}
}

// WithTimeout bounds a single model call. On expiry the analysis takes the
// keyword fallback path. Default: 5s.
func WithTimeout(d time.Duration) Option {
	return func(a *Analyzer) {
		a.timeout = d
	}
}

// WithMaxConcurrent bounds in-flight model calls across all connections.
// Excess calls queue until a slot frees or their context is cancelled.
// Default: 10.
func WithMaxConcurrent(n int64) Option {
	return func(a *Analyzer) {
		a.maxConcurrent = n
	}
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Analyzer) {
		a.metrics = m
	}
}

// WithProviderName sets the provider label recorded on model latency
// metrics. Default: "default".
func WithProviderName(name string) Option {
	return func(a *Analyzer) {
		a.providerName = name
	}
}

// Analyzer classifies transcripts with an [llm.Provider]. It is stateless
// across calls and safe for concurrent use.
type Analyzer struct {
	llm          llm.Provider
	metrics      *observe.Metrics
	sem          *semaphore.Weighted
	temperature  float64
	maxTokens    int
	timeout      time.Duration
	providerName string

	maxConcurrent int64
}

// New returns an [Analyzer] backed by the given [llm.Provider].
func New(provider llm.Provider, opts ...Option) *Analyzer {
	a := &Analyzer{
		llm:           provider,
		temperature:   defaultTemperature,
		maxTokens:     defaultMaxTokens,
		timeout:       defaultTimeout,
		maxConcurrent: defaultMaxConcurrent,
		providerName:  "default",
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.maxConcurrent <= 0 {
		a.maxConcurrent = defaultMaxConcurrent
	}
	a.sem = semaphore.NewWeighted(a.maxConcurrent)
	return a
}

// Analyze classifies one finalized transcript. It never returns an error:
// every failure mode degrades to a valid result with Error set and a
// Japanese SuggestedResponse safe to show the operator.
//
// Distress phrases (MAYDAY, PAN-PAN, SECURITE and their katakana forms)
// short-circuit before the model call so safety-of-life traffic is never
// delayed by an upstream.
func (a *Analyzer) Analyze(ctx context.Context, transcript string, actx types.AnalysisContext) types.AnalysisResult {
	start := time.Now()
	outcome := observe.OutcomeOK
	defer func() {
		a.metrics.RecordAnalyzerCall(ctx, outcome)
		a.metrics.AnalyzerDuration.Record(ctx, time.Since(start).Seconds())
	}()

	cleaned := sanitizeTranscript(transcript)
	if cleaned == "" {
		outcome = observe.OutcomeFallback
		slog.Warn("transcript empty after sanitization",
			"connection_id", actx.ConnectionID)
		return validationResult()
	}

	if token, ok := detectDistress(cleaned); ok {
		outcome = observe.OutcomeFastPath
		slog.Warn("distress phrase detected, bypassing model",
			"connection_id", actx.ConnectionID,
			"token", token)
		return emergencyResult()
	}

	res, err := a.complete(ctx, cleaned, actx)
	if err != nil {
		outcome = observe.OutcomeFallback
		slog.Warn("analysis degraded to keyword heuristic",
			"connection_id", actx.ConnectionID,
			"error", err)
		return fallbackResult(transcript, err)
	}
	return res
}

// complete performs the bounded, time-limited model call and parses the
// reply. All errors funnel into the keyword fallback in Analyze.
func (a *Analyzer) complete(ctx context.Context, cleaned string, actx types.AnalysisContext) (types.AnalysisResult, error) {
	if err := a.sem.Acquire(ctx, 1); err != nil {
		return types.AnalysisResult{}, fmt.Errorf("acquire analysis slot: %w", err)
	}
	defer a.sem.Release(1)

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	req := llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Prompt:       buildUserPrompt(cleaned, actx),
		Temperature:  a.temperature,
		MaxTokens:    a.maxTokens,
	}

	callStart := time.Now()
	resp, err := a.llm.Complete(callCtx, req)
	a.metrics.LLMDuration.Record(ctx, time.Since(callStart).Seconds(),
		metric.WithAttributes(observe.Attr("provider", a.providerName)))
	if err != nil {
		return types.AnalysisResult{}, fmt.Errorf("model call: %w", err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return types.AnalysisResult{}, errors.New("empty model reply")
	}

	return parseReply(resp.Content)
}

// sanitizeTranscript bounds and cleans raw ASR text before it reaches the
// prompt: at most maxTranscriptRunes runes, no ASCII control characters
// except tab and newline, and no angle brackets.
func sanitizeTranscript(s string) string {
	if utf8.RuneCountInString(s) > maxTranscriptRunes {
		s = string([]rune(s)[:maxTranscriptRunes])
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '\t' || r == '\n' {
			b.WriteRune(r)
			continue
		}
		if r < 0x20 || r == 0x7f || r == '<' || r == '>' {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}
