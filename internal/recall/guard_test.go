package recall_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/reveriehq/reverie/internal/recall"
	"github.com/reveriehq/reverie/pkg/narrative"
	narrativemock "github.com/reveriehq/reverie/pkg/narrative/mock"
)

func TestGuard_SearchFailureReturnsEmpty(t *testing.T) {
	idx := &narrativemock.MemoryIndex{SearchErr: errors.New("db down")}
	g := recall.NewGuard(idx)

	results, err := g.Search(context.Background(), nil, narrative.MemoryQuery{UserID: "u1", CharacterID: "mira"})
	if err != nil {
		t.Fatalf("Search through guard must not error, got %v", err)
	}
	if results == nil || len(results) != 0 {
		t.Errorf("Search = %v, want empty non-nil slice", results)
	}
	if !g.IsDegraded() {
		t.Error("guard should report degraded after a failure")
	}
}

func TestGuard_WriteFailuresSwallowed(t *testing.T) {
	idx := &narrativemock.MemoryIndex{
		UpsertErr:  errors.New("db down"),
		AddFactErr: errors.New("db down"),
	}
	g := recall.NewGuard(idx)
	ctx := context.Background()

	if err := g.Upsert(ctx, &narrative.MemoryRecord{ID: "m1"}); err != nil {
		t.Errorf("Upsert: %v", err)
	}
	if err := g.AddFact(ctx, &narrative.KnownFact{ID: "f1"}); err != nil {
		t.Errorf("AddFact: %v", err)
	}
	if err := g.Reinforce(ctx, "m1", time.Now()); err != nil {
		t.Errorf("Reinforce: %v", err)
	}
	if !g.IsDegraded() {
		t.Error("guard should report degraded")
	}
}

func TestGuard_RecoversAfterSuccess(t *testing.T) {
	idx := &narrativemock.MemoryIndex{SearchErr: errors.New("db down")}
	g := recall.NewGuard(idx)
	ctx := context.Background()

	_, _ = g.Search(ctx, nil, narrative.MemoryQuery{})
	if !g.IsDegraded() {
		t.Fatal("expected degraded after failure")
	}

	idx.SearchErr = nil
	_, _ = g.Search(ctx, nil, narrative.MemoryQuery{})
	if g.IsDegraded() {
		t.Error("guard should clear degraded after a success")
	}
}

func TestGuard_MaintenanceFailuresReturnZero(t *testing.T) {
	idx := &narrativemock.MemoryIndex{
		DecayErr:     errors.New("db down"),
		PruneWeakErr: errors.New("db down"),
		TrimErr:      errors.New("db down"),
	}
	g := recall.NewGuard(idx)
	ctx := context.Background()

	if n, err := g.Decay(ctx, "u1", []string{"mira"}, 0.98); err != nil || n != 0 {
		t.Errorf("Decay = (%d, %v), want (0, nil)", n, err)
	}
	if n, err := g.PruneWeak(ctx, "u1", []string{"mira"}, 0.15); err != nil || n != 0 {
		t.Errorf("PruneWeak = (%d, %v), want (0, nil)", n, err)
	}
	if n, err := g.TrimToStrongest(ctx, "u1", "mira", 50); err != nil || n != 0 {
		t.Errorf("TrimToStrongest = (%d, %v), want (0, nil)", n, err)
	}
}
