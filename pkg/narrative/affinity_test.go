package narrative_test

import (
	"math"
	"strings"
	"testing"

	"github.com/reveriehq/reverie/pkg/narrative"
)

func TestDefaultAffinitySchema_Valid(t *testing.T) {
	if err := narrative.DefaultAffinitySchema().Validate(); err != nil {
		t.Fatalf("default schema invalid: %v", err)
	}
}

func TestDeriveLevel_FreshDefaultsAreStranger(t *testing.T) {
	s := narrative.DefaultAffinitySchema()
	lvl := s.DeriveLevel(s.DefaultAxes())
	if lvl.Name != "stranger" {
		t.Errorf("DeriveLevel(defaults) = %q, want %q", lvl.Name, "stranger")
	}
}

// TestDeriveLevel_FriendButNotCloseFriend walks the documented example: from
// defaults, +40 affection and +25 familiarity yields a weighted score of
// 49.75 — enough for "friend" (min 40, familiarity gate 15) but short of
// "close_friend" (min 60), even though all close_friend gates pass.
func TestDeriveLevel_FriendButNotCloseFriend(t *testing.T) {
	s := narrative.DefaultAffinitySchema()
	axes := narrative.ApplyDeltas(s.DefaultAxes(), map[string]float64{
		"affection":   40,
		"familiarity": 25,
	})

	if got := s.Score(axes); math.Abs(got-49.75) > 1e-9 {
		t.Fatalf("Score = %v, want 49.75", got)
	}
	if lvl := s.DeriveLevel(axes); lvl.Name != "friend" {
		t.Errorf("DeriveLevel = %q, want %q", lvl.Name, "friend")
	}
}

// TestDeriveLevel_GateBlocksDespiteScore verifies that a satisfied MinScore
// alone is not enough: every per-axis gate must hold individually.
func TestDeriveLevel_GateBlocksDespiteScore(t *testing.T) {
	s := narrative.DefaultAffinitySchema()
	// High everything except familiarity, which stays at 10 — below the
	// "friend" gate of 15 even though the weighted score is far beyond 40.
	axes := map[string]float64{
		"trust":       100,
		"affection":   100,
		"respect":     100,
		"rivalry":     0,
		"familiarity": 10,
	}
	if lvl := s.DeriveLevel(axes); lvl.Name != "acquaintance" {
		t.Errorf("DeriveLevel = %q, want %q (familiarity gate must block friend)", lvl.Name, "acquaintance")
	}
}

// TestDeriveLevel_Monotonic verifies that raising every axis never lowers the
// derived level.
func TestDeriveLevel_Monotonic(t *testing.T) {
	s := narrative.DefaultAffinitySchema()

	rank := make(map[string]int, len(s.Levels))
	for i, lvl := range s.Levels {
		rank[lvl.Name] = i
	}

	axes := s.DefaultAxes()
	prev := rank[s.DeriveLevel(axes).Name]
	for step := 0; step < 12; step++ {
		for axis := range axes {
			axes[axis] = math.Min(narrative.AxisMax, axes[axis]+10)
		}
		cur := rank[s.DeriveLevel(axes).Name]
		if cur < prev {
			t.Fatalf("level rank decreased from %d to %d after raising all axes", prev, cur)
		}
		prev = cur
	}
}

func TestApplyDeltas_Clamping(t *testing.T) {
	tests := []struct {
		name   string
		start  float64
		delta  float64
		want   float64
	}{
		{"clamp high", 90, 50, 100},
		{"clamp low", 5, -30, 0},
		{"within bounds", 40, 15, 55},
		{"absent axis", 0, -10, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			axes := map[string]float64{}
			if tt.start != 0 {
				axes["trust"] = tt.start
			}
			got := narrative.ApplyDeltas(axes, map[string]float64{"trust": tt.delta})
			if got["trust"] != tt.want {
				t.Errorf("ApplyDeltas: trust = %v, want %v", got["trust"], tt.want)
			}
		})
	}
}

// TestApplyDeltas_BoundsUnderAnySequence hammers an axis with alternating
// large deltas and verifies it never escapes [0, 100].
func TestApplyDeltas_BoundsUnderAnySequence(t *testing.T) {
	axes := map[string]float64{"trust": 50}
	deltas := []float64{80, -200, 33, 999, -1, -45.5, 12.25, -1000, 100}
	for _, d := range deltas {
		axes = narrative.ApplyDeltas(axes, map[string]float64{"trust": d})
		if axes["trust"] < narrative.AxisMin || axes["trust"] > narrative.AxisMax {
			t.Fatalf("trust = %v escaped bounds after delta %v", axes["trust"], d)
		}
	}
}

func TestAffinitySchema_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*narrative.AffinitySchema)
		wantErr string
	}{
		{
			name:    "weight for unknown axis",
			mutate:  func(s *narrative.AffinitySchema) { s.Weights["charisma"] = 0.5 },
			wantErr: "unknown axis",
		},
		{
			name: "gate for unknown axis",
			mutate: func(s *narrative.AffinitySchema) {
				s.Levels[1].Gates = append(s.Levels[1].Gates, narrative.AxisGate{Axis: "charisma", Min: 10})
			},
			wantErr: "unknown axis",
		},
		{
			name: "non-ascending min_score",
			mutate: func(s *narrative.AffinitySchema) {
				s.Levels[2].MinScore = s.Levels[1].MinScore
			},
			wantErr: "must exceed",
		},
		{
			name: "duplicate level name",
			mutate: func(s *narrative.AffinitySchema) {
				s.Levels[2].Name = s.Levels[1].Name
			},
			wantErr: "duplicate level",
		},
		{
			name: "axis default out of range",
			mutate: func(s *narrative.AffinitySchema) {
				s.Axes["trust"] = 150
			},
			wantErr: "out of range",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := narrative.DefaultAffinitySchema()
			tt.mutate(s)
			err := s.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestGuidance_FallsBackToInitialLevel(t *testing.T) {
	s := narrative.DefaultAffinitySchema()
	if got := s.Guidance("no-such-level"); got != s.Levels[0].Guidance {
		t.Errorf("Guidance(unknown) = %q, want initial level guidance", got)
	}
	if got := s.Guidance("friend"); !strings.Contains(got, "friend") {
		t.Errorf("Guidance(friend) = %q, want friend guidance", got)
	}
}
