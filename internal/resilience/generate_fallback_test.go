package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/reveriehq/reverie/pkg/provider/generate"
	generatemock "github.com/reveriehq/reverie/pkg/provider/generate/mock"
)

func fastBreaker() FallbackConfig {
	return FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{
			MaxFailures:  2,
			ResetTimeout: 50 * time.Millisecond,
			HalfOpenMax:  1,
		},
	}
}

func TestGenerate_PrimarySucceeds(t *testing.T) {
	primary := &generatemock.Service{
		GenerateResult: &generate.Result{
			Replies: []generate.Reply{{CharacterID: "mira", Content: "Hello."}},
		},
	}
	secondary := &generatemock.Service{}

	f := NewGenerateFallback(primary, "primary", fastBreaker())
	f.AddFallback("secondary", secondary)

	res, err := f.Generate(context.Background(), generate.Request{UserInput: "hi"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(res.Replies) != 1 || res.Replies[0].CharacterID != "mira" {
		t.Errorf("unexpected result: %+v", res)
	}
	if len(secondary.GenerateCalls) != 0 {
		t.Error("fallback must not be called when the primary succeeds")
	}
}

func TestGenerate_FailsOverToSecondary(t *testing.T) {
	primary := &generatemock.Service{GenerateErr: errors.New("model overloaded")}
	secondary := &generatemock.Service{
		GenerateResult: &generate.Result{
			Replies: []generate.Reply{{CharacterID: "jun", Content: "Backup here."}},
		},
	}

	f := NewGenerateFallback(primary, "primary", fastBreaker())
	f.AddFallback("secondary", secondary)

	res, err := f.Generate(context.Background(), generate.Request{UserInput: "hi"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(res.Replies) != 1 || res.Replies[0].CharacterID != "jun" {
		t.Errorf("expected secondary's reply, got %+v", res)
	}
	if len(primary.GenerateCalls) != 1 {
		t.Errorf("primary calls = %d, want 1", len(primary.GenerateCalls))
	}
}

func TestGenerate_AllFail(t *testing.T) {
	primary := &generatemock.Service{GenerateErr: errors.New("down")}
	secondary := &generatemock.Service{GenerateErr: errors.New("also down")}

	f := NewGenerateFallback(primary, "primary", fastBreaker())
	f.AddFallback("secondary", secondary)

	_, err := f.Generate(context.Background(), generate.Request{})
	if !errors.Is(err, ErrAllFailed) {
		t.Errorf("error = %v, want ErrAllFailed", err)
	}
}

func TestGenerate_OpenBreakerSkipsPrimary(t *testing.T) {
	primary := &generatemock.Service{GenerateErr: errors.New("down")}
	secondary := &generatemock.Service{
		GenerateResult: &generate.Result{Replies: []generate.Reply{}},
	}

	f := NewGenerateFallback(primary, "primary", fastBreaker())
	f.AddFallback("secondary", secondary)

	// Trip the primary's breaker (MaxFailures = 2).
	for range 2 {
		if _, err := f.Generate(context.Background(), generate.Request{}); err != nil {
			t.Fatalf("Generate: %v", err)
		}
	}
	primaryCalls := len(primary.GenerateCalls)

	if _, err := f.Generate(context.Background(), generate.Request{}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(primary.GenerateCalls) != primaryCalls {
		t.Error("open breaker must skip the primary without calling it")
	}
}

func TestSummarise_FailsOver(t *testing.T) {
	primary := &generatemock.Service{SummariseErr: errors.New("down")}
	secondary := &generatemock.Service{SummariseResult: "A quiet evening at the lighthouse."}

	f := NewGenerateFallback(primary, "primary", fastBreaker())
	f.AddFallback("secondary", secondary)

	got, err := f.Summarise(context.Background(), "", nil)
	if err != nil {
		t.Fatalf("Summarise: %v", err)
	}
	if got != "A quiet evening at the lighthouse." {
		t.Errorf("summary = %q", got)
	}
}
