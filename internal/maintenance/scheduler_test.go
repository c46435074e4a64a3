package maintenance_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/reveriehq/reverie/internal/maintenance"
	"github.com/reveriehq/reverie/internal/task"
	"github.com/reveriehq/reverie/pkg/narrative"
	narrativemock "github.com/reveriehq/reverie/pkg/narrative/mock"
	generatemock "github.com/reveriehq/reverie/pkg/provider/generate/mock"
)

type fixture struct {
	index     *narrativemock.MemoryIndex
	artifacts *narrativemock.ArtifactStore
	sessions  *narrativemock.SessionStore
	generator *generatemock.Service
	runner    *task.Runner
	scheduler *maintenance.Scheduler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		index:     &narrativemock.MemoryIndex{},
		artifacts: &narrativemock.ArtifactStore{},
		sessions:  &narrativemock.SessionStore{},
		generator: &generatemock.Service{},
		runner:    task.NewRunner(task.RunnerConfig{JobTimeout: 2 * time.Second}),
	}
	f.scheduler = maintenance.NewScheduler(maintenance.SchedulerConfig{
		Index:     f.index,
		Artifacts: f.artifacts,
		Sessions:  f.sessions,
		Generator: f.generator,
		Runner:    f.runner,
	})
	return f
}

// run schedules maintenance for the given turn and waits for every job to
// finish before returning. responded names the characters treated as having
// spoken this turn.
func (f *fixture) run(t *testing.T, sess narrative.Session, responded ...string) {
	t.Helper()
	f.scheduler.AfterTurn(sess, responded)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := f.runner.Wait(ctx); err != nil {
		t.Fatalf("runner.Wait: %v", err)
	}
}

func session(turn int) narrative.Session {
	return narrative.Session{
		ID:                "s1",
		UserID:            "u1",
		TurnCount:         turn,
		PresentCharacters: []string{"mira", "jun"},
	}
}

func TestAfterTurn_Cadences(t *testing.T) {
	tests := []struct {
		turn                                int
		decays, summarises, prunes, trims bool
	}{
		{turn: 1},
		{turn: 4},
		{turn: 5, decays: true},
		{turn: 10, decays: true},
		{turn: 20, decays: true, summarises: true},
		{turn: 25, decays: true, prunes: true},
		{turn: 40, decays: true, summarises: true},
		{turn: 50, decays: true, trims: true},
		{turn: 100, decays: true, summarises: true, prunes: true, trims: true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("turn_%d", tt.turn), func(t *testing.T) {
			f := newFixture(t)
			// Summary regeneration needs log lines to work with.
			if err := f.sessions.CreateSession(context.Background(), &narrative.Session{ID: "s1"}); err != nil {
				t.Fatalf("CreateSession: %v", err)
			}
			if err := f.sessions.AppendLog(context.Background(), &narrative.LogEntry{SessionID: "s1", Content: "something happened"}); err != nil {
				t.Fatalf("AppendLog: %v", err)
			}

			f.run(t, session(tt.turn), "mira", "jun")

			checks := []struct {
				name  string
				count int
				want  bool
			}{
				{"Decay", f.index.CallCount("Decay"), tt.decays},
				{"Summarise", f.generator.SummariseCalls, tt.summarises},
				{"PruneWeak", f.index.CallCount("PruneWeak"), tt.prunes},
				{"SweepExpired", f.artifacts.CallCount("SweepExpired"), tt.prunes},
				{"TrimToStrongest", f.index.CallCount("TrimToStrongest"), tt.trims},
			}
			for _, c := range checks {
				ran := c.count > 0
				if ran != c.want {
					t.Errorf("%s ran = %v (count %d), want %v", c.name, ran, c.count, c.want)
				}
			}
		})
	}
}

func TestAfterTurn_TurnZeroSchedulesNothing(t *testing.T) {
	f := newFixture(t)
	f.run(t, session(0))
	if got := len(f.index.Calls()); got != 0 {
		t.Errorf("index received %d calls, want 0", got)
	}
}

func TestDecay_WeakensStoredMemories(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := narrative.MemoryRecord{ID: "m1", UserID: "u1", CharacterID: "mira", Content: "storm night", Strength: 1.0}
	if err := f.index.Upsert(ctx, &rec); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	f.run(t, session(5))

	records := f.index.Records()
	if len(records) != 1 {
		t.Fatalf("index holds %d records, want 1", len(records))
	}
	if got := records[0].Strength; got != 0.98 {
		t.Errorf("strength after decay = %v, want 0.98", got)
	}
}

func TestPrune_RemovesWeakAndSweepsArtifacts(t *testing.T) {
	f := newFixture(t)
	f.artifacts.SweepExpiredResult = 3
	ctx := context.Background()
	weak := narrative.MemoryRecord{ID: "weak", UserID: "u1", CharacterID: "mira", Content: "faded", Strength: 0.05}
	strong := narrative.MemoryRecord{ID: "strong", UserID: "u1", CharacterID: "mira", Content: "vivid", Strength: 0.9}
	for _, rec := range []narrative.MemoryRecord{weak, strong} {
		rec := rec
		if err := f.index.Upsert(ctx, &rec); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	f.run(t, session(25))

	records := f.index.Records()
	if len(records) != 1 || records[0].ID != "strong" {
		t.Errorf("surviving records = %v, want only %q", records, "strong")
	}
	if got := f.artifacts.CallCount("SweepExpired"); got != 1 {
		t.Errorf("SweepExpired called %d times, want 1", got)
	}
}

func TestTrim_CapsEachPresentCharacter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 60; i++ {
		rec := narrative.MemoryRecord{
			ID:          fmt.Sprintf("m%02d", i),
			UserID:      "u1",
			CharacterID: "mira",
			Content:     fmt.Sprintf("memory %d", i),
			Strength:    float64(i) / 60,
		}
		if err := f.index.Upsert(ctx, &rec); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	f.run(t, session(50), "mira", "jun")

	if got := len(f.index.Records()); got != maintenance.DefaultMaxRecords {
		t.Errorf("index holds %d records, want %d", got, maintenance.DefaultMaxRecords)
	}
	// Both responders were trimmed, even though one owns no records.
	if got := f.index.CallCount("TrimToStrongest"); got != 2 {
		t.Errorf("TrimToStrongest called %d times, want 2", got)
	}
}

func TestTrim_ScopedToResponders(t *testing.T) {
	f := newFixture(t)

	// Both characters are present, but only mira spoke this turn.
	f.run(t, session(50), "mira")

	var trimmed []string
	for _, c := range f.index.Calls() {
		if c.Method == "TrimToStrongest" {
			trimmed = append(trimmed, c.Args[1].(string))
		}
	}
	if len(trimmed) != 1 || trimmed[0] != "mira" {
		t.Errorf("trimmed characters = %v, want [mira]", trimmed)
	}
}

func TestTrim_SkippedWithoutResponders(t *testing.T) {
	f := newFixture(t)

	f.run(t, session(50))

	if got := f.index.CallCount("TrimToStrongest"); got != 0 {
		t.Errorf("TrimToStrongest called %d times, want 0", got)
	}
}

func TestSummaryRebuild_PersistsOnFreshSessionRead(t *testing.T) {
	f := newFixture(t)
	f.generator.SummariseResult = "Rowan and Mira grew closer over shared secrets."
	ctx := context.Background()
	if err := f.sessions.CreateSession(ctx, &narrative.Session{ID: "s1", UserID: "u1", Summary: "They had just met."}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := f.sessions.AppendLog(ctx, &narrative.LogEntry{SessionID: "s1", Content: "Mira confided in Rowan."}); err != nil {
		t.Fatalf("AppendLog: %v", err)
	}

	f.run(t, session(20))

	stored, err := f.sessions.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if stored == nil || stored.Summary != f.generator.SummariseResult {
		t.Errorf("persisted summary = %+v, want %q", stored, f.generator.SummariseResult)
	}
}

func TestSummaryRebuild_SkippedWithoutLog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.sessions.CreateSession(ctx, &narrative.Session{ID: "s1"}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	f.run(t, session(20))

	if got := f.generator.SummariseCalls; got != 0 {
		t.Errorf("Summarise called %d times, want 0", got)
	}
}

func TestAfterTurn_JobFailuresAreSwallowed(t *testing.T) {
	f := newFixture(t)
	f.index.DecayErr = errors.New("db down")
	f.index.PruneWeakErr = errors.New("db down")
	f.artifacts.SweepExpiredErr = errors.New("db down")

	// Must not panic and Wait must still drain.
	f.run(t, session(25))
}
