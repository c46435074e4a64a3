package resilience

import (
	"errors"
	"testing"
	"time"
)

// stubBackend is a minimal generation backend stand-in: it fails while err is
// set and counts how often it was reached.
type stubBackend struct {
	name  string
	err   error
	calls int
}

func (b *stubBackend) generate() (string, error) {
	b.calls++
	if b.err != nil {
		return "", b.err
	}
	return "reply from " + b.name, nil
}

func newGroup(primary, secondary *stubBackend) *FallbackGroup[*stubBackend] {
	fg := NewFallbackGroup(primary, primary.name, FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	if secondary != nil {
		fg.AddFallback(secondary.name, secondary)
	}
	return fg
}

func TestFallbackGroup_UsesPrimaryWhileHealthy(t *testing.T) {
	primary := &stubBackend{name: "openai"}
	secondary := &stubBackend{name: "anthropic"}
	fg := newGroup(primary, secondary)

	err := fg.Execute(func(b *stubBackend) error {
		_, err := b.generate()
		return err
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if primary.calls != 1 {
		t.Errorf("primary calls = %d, want 1", primary.calls)
	}
	if secondary.calls != 0 {
		t.Errorf("secondary calls = %d, want 0", secondary.calls)
	}
}

func TestFallbackGroup_FailsOverToSecondary(t *testing.T) {
	primary := &stubBackend{name: "openai", err: errBackendDown}
	secondary := &stubBackend{name: "anthropic"}
	fg := newGroup(primary, secondary)

	err := fg.Execute(func(b *stubBackend) error {
		_, err := b.generate()
		return err
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if primary.calls != 1 || secondary.calls != 1 {
		t.Errorf("calls = %d/%d, want 1/1", primary.calls, secondary.calls)
	}
}

func TestFallbackGroup_AllBackendsDown(t *testing.T) {
	primary := &stubBackend{name: "openai", err: errBackendDown}
	secondary := &stubBackend{name: "anthropic", err: errBackendDown}
	fg := newGroup(primary, secondary)

	err := fg.Execute(func(b *stubBackend) error {
		_, err := b.generate()
		return err
	})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestFallbackGroup_SkipsTrippedPrimary(t *testing.T) {
	primary := &stubBackend{name: "openai", err: errBackendDown}
	secondary := &stubBackend{name: "anthropic"}

	fg := NewFallbackGroup(primary, primary.name, FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{
			MaxFailures:  2,
			ResetTimeout: time.Hour,
		},
	})
	fg.AddFallback(secondary.name, secondary)

	run := func() error {
		return fg.Execute(func(b *stubBackend) error {
			_, err := b.generate()
			return err
		})
	}

	// Two failures trip the primary's breaker.
	for i := 0; i < 2; i++ {
		if err := run(); err != nil {
			t.Fatalf("turn %d: unexpected error: %v", i, err)
		}
	}
	if primary.calls != 2 {
		t.Fatalf("primary calls = %d, want 2", primary.calls)
	}

	// The next call must go straight to the secondary.
	if err := run(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if primary.calls != 2 {
		t.Errorf("primary calls = %d after trip, want 2 (circuit should skip it)", primary.calls)
	}
	if secondary.calls != 3 {
		t.Errorf("secondary calls = %d, want 3", secondary.calls)
	}
}

func TestExecuteWithResult_ReturnsPrimaryResult(t *testing.T) {
	primary := &stubBackend{name: "openai"}
	secondary := &stubBackend{name: "anthropic"}
	fg := newGroup(primary, secondary)

	result, err := ExecuteWithResult(fg, func(b *stubBackend) (string, error) {
		return b.generate()
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "reply from openai" {
		t.Fatalf("result = %q, want reply from openai", result)
	}
}

func TestExecuteWithResult_Failover(t *testing.T) {
	primary := &stubBackend{name: "openai", err: errBackendDown}
	secondary := &stubBackend{name: "anthropic"}
	fg := newGroup(primary, secondary)

	result, err := ExecuteWithResult(fg, func(b *stubBackend) (string, error) {
		return b.generate()
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "reply from anthropic" {
		t.Fatalf("result = %q, want reply from anthropic", result)
	}
}

func TestExecuteWithResult_AllFail(t *testing.T) {
	primary := &stubBackend{name: "openai", err: errBackendDown}
	fg := newGroup(primary, nil)

	_, err := ExecuteWithResult(fg, func(b *stubBackend) (string, error) {
		return b.generate()
	})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}
