// Package mock provides a test double for the generate.Service interface.
//
// Use Service to return pre-canned turn results without a live model and to
// verify what context the orchestrator assembled.
//
// Example:
//
//	svc := &mock.Service{
//	    GenerateResult: &generate.Result{
//	        Replies: []generate.Reply{{CharacterID: "mira", Content: "Hello."}},
//	    },
//	}
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/reveriehq/reverie/pkg/narrative"
	"github.com/reveriehq/reverie/pkg/provider/generate"
)

// Ensure Service implements the generate.Service interface.
var _ generate.Service = (*Service)(nil)

// Service is a mock implementation of generate.Service.
type Service struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// GenerateResult is returned by Generate. When nil, Generate returns an
	// empty result with one echo reply per requested character.
	GenerateResult *generate.Result

	// GenerateErr, if non-nil, is returned as the error from Generate.
	GenerateErr error

	// GenerateDelay, when positive, makes Generate sleep before answering
	// unless the context expires first. Used to exercise generation timeouts.
	GenerateDelay time.Duration

	// GenerateFunc, when non-nil, overrides all other Generate configuration.
	GenerateFunc func(ctx context.Context, req generate.Request) (*generate.Result, error)

	// SummariseResult is returned by Summarise.
	SummariseResult string

	// SummariseErr, if non-nil, is returned as the error from Summarise.
	SummariseErr error

	// --- Call records ---

	// GenerateCalls records every Generate request in order.
	GenerateCalls []generate.Request

	// SummariseCalls counts Summarise invocations.
	SummariseCalls int
}

// Generate implements generate.Service.
func (s *Service) Generate(ctx context.Context, req generate.Request) (*generate.Result, error) {
	s.mu.Lock()
	s.GenerateCalls = append(s.GenerateCalls, req)
	fn := s.GenerateFunc
	delay := s.GenerateDelay
	result := s.GenerateResult
	err := s.GenerateErr
	s.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if result != nil {
		cp := *result
		return &cp, nil
	}

	out := &generate.Result{Replies: []generate.Reply{}}
	for _, c := range req.Characters {
		out.Replies = append(out.Replies, generate.Reply{
			CharacterID:   c.ID,
			CharacterName: c.Name,
			Content:       "(" + c.Name + " replies to: " + req.UserInput + ")",
			Emotion:       "neutral",
		})
	}
	return out, nil
}

// Summarise implements generate.Service.
func (s *Service) Summarise(_ context.Context, priorSummary string, log []narrative.LogEntry) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SummariseCalls++
	_ = priorSummary
	_ = log
	return s.SummariseResult, s.SummariseErr
}

// LastGenerate returns the most recent Generate request, or a zero request
// when Generate was never called.
func (s *Service) LastGenerate() generate.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.GenerateCalls) == 0 {
		return generate.Request{}
	}
	return s.GenerateCalls[len(s.GenerateCalls)-1]
}
