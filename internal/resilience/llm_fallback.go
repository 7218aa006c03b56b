package resilience

import (
	"context"

	"github.com/umigoe/umigoe/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] with automatic failover across multiple
// model backends. Each backend has its own circuit breaker; when the primary
// fails or its breaker is open, the next healthy fallback is tried. The
// analyzer sees a single provider and stays unaware of the chain.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

// Compile-time interface assertion.
var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional model backend as a fallback.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Backends returns the backend names in try order, primary first.
func (f *LLMFallback) Backends() []string {
	return f.group.Names()
}

// Complete sends the request to the first healthy backend and returns its
// response. If the primary fails, subsequent fallbacks are tried until the
// context runs out.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(ctx, f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}
