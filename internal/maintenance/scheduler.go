// Package maintenance runs the turn-count-driven upkeep of long-term state:
// memory decay, weak-record pruning, index trimming, expired artifact sweeps,
// and rolling summary regeneration.
//
// All work is scheduled fire-and-forget through a [task.Runner] after the
// turn's results are persisted; a failed or slow maintenance pass never
// delays or fails a turn, and a missed cadence is self-healing — the next
// matching turn repeats the same idempotent operation.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/reveriehq/reverie/internal/task"
	"github.com/reveriehq/reverie/pkg/narrative"
	"github.com/reveriehq/reverie/pkg/provider/generate"
)

// Cadences, in completed turns. Pruning and trimming are deliberately
// infrequent: both are destructive and the decay curve needs time to separate
// reinforced memories from abandoned ones between passes.
const (
	// DecayInterval applies multiplicative strength decay.
	DecayInterval = 5

	// SummaryInterval regenerates the session's rolling summary.
	SummaryInterval = 20

	// PruneInterval deletes weak memories and sweeps expired artifacts.
	PruneInterval = 25

	// TrimInterval caps each character's memory count.
	TrimInterval = 50
)

// Default tuning values.
const (
	// DefaultDecayFactor multiplies every memory strength per decay pass.
	DefaultDecayFactor = 0.98

	// DefaultMinStrength is the pruning threshold.
	DefaultMinStrength = 0.15

	// DefaultMaxRecords is the per-character record cap enforced by trimming.
	DefaultMaxRecords = 50

	// summaryLogWindow is how many raw log lines feed a summary rebuild.
	summaryLogWindow = 60
)

// Scheduler owns the after-turn maintenance cadences.
type Scheduler struct {
	index     narrative.MemoryIndex
	artifacts narrative.ArtifactStore
	sessions  narrative.SessionStore
	generator generate.Service
	runner    *task.Runner
	log       *slog.Logger

	decayFactor float64
	minStrength float64
	maxRecords  int
}

// SchedulerConfig configures a [Scheduler].
type SchedulerConfig struct {
	// Index is the long-term memory index maintained.
	Index narrative.MemoryIndex

	// Artifacts is swept for expired entries on the pruning cadence. May be
	// nil when no artifact store is configured.
	Artifacts narrative.ArtifactStore

	// Sessions persists regenerated summaries.
	Sessions narrative.SessionStore

	// Generator produces rolling summaries. May be nil; summary regeneration
	// is then skipped.
	Generator generate.Service

	// Runner executes the maintenance jobs.
	Runner *task.Runner

	// Logger receives maintenance reports. Defaults to [slog.Default].
	Logger *slog.Logger

	// DecayFactor overrides [DefaultDecayFactor] when in (0, 1).
	DecayFactor float64

	// MinStrength overrides [DefaultMinStrength] when positive.
	MinStrength float64

	// MaxRecords overrides [DefaultMaxRecords] when positive.
	MaxRecords int
}

// NewScheduler creates a [Scheduler] with the given configuration.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	decay := cfg.DecayFactor
	if decay <= 0 || decay >= 1 {
		decay = DefaultDecayFactor
	}
	minStrength := cfg.MinStrength
	if minStrength <= 0 {
		minStrength = DefaultMinStrength
	}
	maxRecords := cfg.MaxRecords
	if maxRecords <= 0 {
		maxRecords = DefaultMaxRecords
	}
	return &Scheduler{
		index:       cfg.Index,
		artifacts:   cfg.Artifacts,
		sessions:    cfg.Sessions,
		generator:   cfg.Generator,
		runner:      cfg.Runner,
		log:         log,
		decayFactor: decay,
		minStrength: minStrength,
		maxRecords:  maxRecords,
	}
}

// AfterTurn schedules every maintenance job whose cadence matches the just
// completed turn and returns immediately. sess is snapshotted by value; the
// background jobs never touch live turn state.
//
// responded lists the characters that produced a response this turn; the
// trim cadence is scoped to them, while decay and pruning cover everyone
// present.
func (s *Scheduler) AfterTurn(sess narrative.Session, responded []string) {
	turn := sess.TurnCount
	if turn <= 0 {
		return
	}

	if turn%DecayInterval == 0 {
		s.runner.Go("memory-decay", func(ctx context.Context) error {
			return s.decay(ctx, sess)
		})
	}
	if turn%SummaryInterval == 0 && s.generator != nil {
		s.runner.Go("summary-rebuild", func(ctx context.Context) error {
			return s.rebuildSummary(ctx, sess)
		})
	}
	if turn%PruneInterval == 0 {
		s.runner.Go("memory-prune", func(ctx context.Context) error {
			return s.prune(ctx, sess)
		})
	}
	if turn%TrimInterval == 0 && len(responded) > 0 {
		trimmed := append([]string{}, responded...)
		s.runner.Go("memory-trim", func(ctx context.Context) error {
			return s.trim(ctx, sess, trimmed)
		})
	}
}

func (s *Scheduler) decay(ctx context.Context, sess narrative.Session) error {
	n, err := s.index.Decay(ctx, sess.UserID, sess.PresentCharacters, s.decayFactor)
	if err != nil {
		return fmt.Errorf("maintenance: decay: %w", err)
	}
	s.log.Debug("memory decay applied",
		"session_id", sess.ID,
		"turn", sess.TurnCount,
		"records", n,
		"factor", s.decayFactor,
	)
	return nil
}

func (s *Scheduler) prune(ctx context.Context, sess narrative.Session) error {
	pruned, err := s.index.PruneWeak(ctx, sess.UserID, sess.PresentCharacters, s.minStrength)
	if err != nil {
		return fmt.Errorf("maintenance: prune weak: %w", err)
	}

	var swept int64
	if s.artifacts != nil {
		swept, err = s.artifacts.SweepExpired(ctx, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("maintenance: sweep artifacts: %w", err)
		}
	}

	s.log.Info("weak memories pruned",
		"session_id", sess.ID,
		"turn", sess.TurnCount,
		"pruned", pruned,
		"artifacts_swept", swept,
	)
	return nil
}

func (s *Scheduler) trim(ctx context.Context, sess narrative.Session, responded []string) error {
	var total int64
	for _, characterID := range responded {
		n, err := s.index.TrimToStrongest(ctx, sess.UserID, characterID, s.maxRecords)
		if err != nil {
			return fmt.Errorf("maintenance: trim %s: %w", characterID, err)
		}
		total += n
	}
	s.log.Info("memory index trimmed",
		"session_id", sess.ID,
		"turn", sess.TurnCount,
		"deleted", total,
		"cap", s.maxRecords,
	)
	return nil
}

// rebuildSummary regenerates the rolling summary from the prior summary plus
// the recent raw log, then persists it on a freshly read session row so a
// concurrent turn's fields are not clobbered.
func (s *Scheduler) rebuildSummary(ctx context.Context, sess narrative.Session) error {
	log, err := s.sessions.RecentLog(ctx, sess.ID, summaryLogWindow)
	if err != nil {
		return fmt.Errorf("maintenance: read log for summary: %w", err)
	}
	if len(log) == 0 {
		return nil
	}

	summary, err := s.generator.Summarise(ctx, sess.Summary, log)
	if err != nil {
		return fmt.Errorf("maintenance: summarise: %w", err)
	}
	if summary == "" {
		return nil
	}

	current, err := s.sessions.GetSession(ctx, sess.ID)
	if err != nil {
		return fmt.Errorf("maintenance: reread session: %w", err)
	}
	if current == nil {
		return nil
	}
	current.Summary = summary
	if err := s.sessions.UpdateSession(ctx, current); err != nil {
		return fmt.Errorf("maintenance: persist summary: %w", err)
	}

	s.log.Info("rolling summary regenerated", "session_id", sess.ID, "turn", sess.TurnCount)
	return nil
}
