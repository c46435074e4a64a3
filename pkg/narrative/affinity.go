package narrative

import (
	"errors"
	"fmt"
	"sort"
)

// Axis value bounds. Deltas applied through [ApplyDeltas] are clamped so that
// every axis stays inside [AxisMin, AxisMax] for any delta sequence.
const (
	AxisMin = 0.0
	AxisMax = 100.0
)

// AxisGate is a per-axis minimum that must be met for a level to qualify,
// independently of the weighted score.
type AxisGate struct {
	// Axis names the gated axis.
	Axis string `yaml:"axis"`

	// Min is the minimum axis value required.
	Min float64 `yaml:"min"`
}

// LevelSpec is one named intimacy level of an affinity schema.
type LevelSpec struct {
	// Name is the level identifier (e.g., "friend").
	Name string `yaml:"name"`

	// MinScore is the minimum weighted axis score required. Levels are ordered
	// ascending by MinScore; the first level is the initial one.
	MinScore float64 `yaml:"min_score"`

	// Gates are per-axis minimums that must all be satisfied in addition to
	// MinScore.
	Gates []AxisGate `yaml:"gates"`

	// Guidance is free-text behaviour guidance injected into the generation
	// context while this level is active.
	Guidance string `yaml:"guidance"`
}

// AffinitySchema defines the relationship model of a work: the axis set with
// default values, per-axis weights, and the ordered level ladder. A work
// without a custom schema uses [DefaultAffinitySchema]. Schemas are validated
// at work load time; the derivation in [AffinitySchema.DeriveLevel] is
// schema-agnostic and works identically for default and custom schemas.
type AffinitySchema struct {
	// Axes maps axis name to its initial value for new relationships.
	Axes map[string]float64 `yaml:"axes"`

	// Weights maps axis name to its contribution to the weighted score.
	// Negative weights are allowed (e.g., rivalry).
	Weights map[string]float64 `yaml:"weights"`

	// Levels is the level ladder, ordered ascending by MinScore.
	Levels []LevelSpec `yaml:"levels"`
}

// DefaultAffinitySchema returns the schema used when a work supplies none:
// five axes (trust, affection, respect, rivalry, familiarity) with romance
// weights and a five-step level ladder from stranger to intimate.
func DefaultAffinitySchema() *AffinitySchema {
	return &AffinitySchema{
		Axes: map[string]float64{
			"trust":       50,
			"affection":   30,
			"respect":     50,
			"rivalry":     10,
			"familiarity": 0,
		},
		Weights: map[string]float64{
			"trust":       0.25,
			"affection":   0.35,
			"respect":     0.15,
			"rivalry":     -0.10,
			"familiarity": 0.25,
		},
		Levels: []LevelSpec{
			{
				Name:     "stranger",
				MinScore: 0,
				Guidance: "You barely know this person. Be polite but guarded; do not volunteer personal details.",
			},
			{
				Name:     "acquaintance",
				MinScore: 20,
				Gates:    []AxisGate{{Axis: "familiarity", Min: 5}},
				Guidance: "You have met a few times. Be friendly but keep some distance.",
			},
			{
				Name:     "friend",
				MinScore: 40,
				Gates:    []AxisGate{{Axis: "familiarity", Min: 15}},
				Guidance: "You consider this person a friend. Be warm, joke around, share opinions freely.",
			},
			{
				Name:     "close_friend",
				MinScore: 60,
				Gates: []AxisGate{
					{Axis: "trust", Min: 25},
					{Axis: "affection", Min: 40},
					{Axis: "familiarity", Min: 25},
				},
				Guidance: "You trust this person deeply. Confide in them and show genuine concern for their wellbeing.",
			},
			{
				Name:     "intimate",
				MinScore: 80,
				Gates: []AxisGate{
					{Axis: "affection", Min: 60},
					{Axis: "familiarity", Min: 50},
				},
				Guidance: "This person is among the closest in your life. Be openly affectionate and completely unguarded.",
			},
		},
	}
}

// Validate checks schema coherence: at least one axis and one level, every
// weight and gate referencing a declared axis, default axis values within
// bounds, and levels strictly ascending by MinScore.
//
// Returns a joined error listing every problem found.
func (s *AffinitySchema) Validate() error {
	var errs []error

	if len(s.Axes) == 0 {
		errs = append(errs, errors.New("affinity schema: at least one axis is required"))
	}
	if len(s.Levels) == 0 {
		errs = append(errs, errors.New("affinity schema: at least one level is required"))
	}

	for axis, def := range s.Axes {
		if def < AxisMin || def > AxisMax {
			errs = append(errs, fmt.Errorf("affinity schema: axis %q default %.1f is out of range [%.0f, %.0f]", axis, def, AxisMin, AxisMax))
		}
	}
	for axis := range s.Weights {
		if _, ok := s.Axes[axis]; !ok {
			errs = append(errs, fmt.Errorf("affinity schema: weight references unknown axis %q", axis))
		}
	}

	prev := -1.0
	seen := make(map[string]bool, len(s.Levels))
	for i, lvl := range s.Levels {
		if lvl.Name == "" {
			errs = append(errs, fmt.Errorf("affinity schema: levels[%d].name is required", i))
		}
		if seen[lvl.Name] {
			errs = append(errs, fmt.Errorf("affinity schema: duplicate level name %q", lvl.Name))
		}
		seen[lvl.Name] = true
		if lvl.MinScore <= prev && i > 0 {
			errs = append(errs, fmt.Errorf("affinity schema: levels[%d] %q min_score %.1f must exceed the previous level's", i, lvl.Name, lvl.MinScore))
		}
		prev = lvl.MinScore
		for _, g := range lvl.Gates {
			if _, ok := s.Axes[g.Axis]; !ok {
				errs = append(errs, fmt.Errorf("affinity schema: level %q gate references unknown axis %q", lvl.Name, g.Axis))
			}
		}
	}

	return errors.Join(errs...)
}

// DefaultAxes returns a fresh copy of the schema's initial axis values,
// suitable for seeding a new [Relationship].
func (s *AffinitySchema) DefaultAxes() map[string]float64 {
	out := make(map[string]float64, len(s.Axes))
	for k, v := range s.Axes {
		out[k] = v
	}
	return out
}

// Score computes the weighted axis score of axes under the schema's weights.
// Axes without a weight contribute nothing.
func (s *AffinitySchema) Score(axes map[string]float64) float64 {
	var score float64
	for axis, w := range s.Weights {
		score += axes[axis] * w
	}
	return score
}

// DeriveLevel returns the highest level whose MinScore is met by the weighted
// score AND whose per-axis gates are all individually satisfied. If no
// non-initial level qualifies, the first (initial) level is returned.
//
// The derivation is pure and must be invoked on every relationship read that
// feeds character generation — never cache its result across writes.
func (s *AffinitySchema) DeriveLevel(axes map[string]float64) LevelSpec {
	if len(s.Levels) == 0 {
		return LevelSpec{}
	}

	score := s.Score(axes)
	best := s.Levels[0]
	for _, lvl := range s.Levels[1:] {
		if score < lvl.MinScore {
			continue
		}
		if !gatesSatisfied(lvl.Gates, axes) {
			continue
		}
		best = lvl
	}
	return best
}

// Guidance returns the behaviour guidance text for the named level, or the
// initial level's guidance when the name is unknown.
func (s *AffinitySchema) Guidance(level string) string {
	for _, lvl := range s.Levels {
		if lvl.Name == level {
			return lvl.Guidance
		}
	}
	if len(s.Levels) > 0 {
		return s.Levels[0].Guidance
	}
	return ""
}

// AxisNames returns the schema's axis names in sorted order, for deterministic
// rendering.
func (s *AffinitySchema) AxisNames() []string {
	names := make([]string, 0, len(s.Axes))
	for axis := range s.Axes {
		names = append(names, axis)
	}
	sort.Strings(names)
	return names
}

func gatesSatisfied(gates []AxisGate, axes map[string]float64) bool {
	for _, g := range gates {
		if axes[g.Axis] < g.Min {
			return false
		}
	}
	return true
}

// ApplyDeltas returns a copy of axes with each delta added and the result
// clamped to [AxisMin, AxisMax]. Deltas for axes absent from the input create
// the axis (clamped from zero).
func ApplyDeltas(axes map[string]float64, deltas map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(axes))
	for k, v := range axes {
		out[k] = v
	}
	for axis, d := range deltas {
		out[axis] = clampAxis(out[axis] + d)
	}
	return out
}

func clampAxis(v float64) float64 {
	if v < AxisMin {
		return AxisMin
	}
	if v > AxisMax {
		return AxisMax
	}
	return v
}
