package resilience

import (
	"context"

	"github.com/reveriehq/reverie/pkg/narrative"
	"github.com/reveriehq/reverie/pkg/provider/generate"
)

// GenerateFallback implements [generate.Service] with automatic failover across
// multiple generation backends. Each backend has its own circuit breaker; when
// the primary fails or its breaker is open, the next healthy fallback is tried.
type GenerateFallback struct {
	group *FallbackGroup[generate.Service]
}

// Compile-time interface assertion.
var _ generate.Service = (*GenerateFallback)(nil)

// NewGenerateFallback creates a [GenerateFallback] with primary as the
// preferred backend.
func NewGenerateFallback(primary generate.Service, primaryName string, cfg FallbackConfig) *GenerateFallback {
	return &GenerateFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional generation service as a fallback.
func (f *GenerateFallback) AddFallback(name string, svc generate.Service) {
	f.group.AddFallback(name, svc)
}

// Generate sends the turn request to the first healthy backend and returns its
// structured result. If the primary fails, subsequent fallbacks are tried.
func (f *GenerateFallback) Generate(ctx context.Context, req generate.Request) (*generate.Result, error) {
	return ExecuteWithResult(f.group, func(s generate.Service) (*generate.Result, error) {
		return s.Generate(ctx, req)
	})
}

// Summarise sends the summary request to the first healthy backend.
func (f *GenerateFallback) Summarise(ctx context.Context, priorSummary string, log []narrative.LogEntry) (string, error) {
	return ExecuteWithResult(f.group, func(s generate.Service) (string, error) {
		return s.Summarise(ctx, priorSummary, log)
	})
}
