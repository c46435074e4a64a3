// Package task runs supervised fire-and-forget background work.
//
// Turn-side code hands maintenance jobs (decay, pruning, summary rebuilds,
// memory consolidation) to a [Runner] and returns immediately; the runner
// executes them detached from the request context, recovers panics, and logs
// failures instead of propagating them. A failed or crashed job never affects
// the turn that scheduled it.
package task

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// defaultJobTimeout bounds a single background job.
const defaultJobTimeout = 30 * time.Second

// Runner executes named background jobs, each in its own goroutine with a
// bounded context detached from the caller's.
//
// All methods are safe for concurrent use.
type Runner struct {
	log     *slog.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// RunnerConfig configures a [Runner].
type RunnerConfig struct {
	// Logger receives job failure and panic reports. Defaults to
	// [slog.Default] when nil.
	Logger *slog.Logger

	// JobTimeout bounds each job's context. Defaults to 30 seconds if zero.
	JobTimeout time.Duration
}

// NewRunner creates a new [Runner] with the given configuration.
func NewRunner(cfg RunnerConfig) *Runner {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	timeout := cfg.JobTimeout
	if timeout <= 0 {
		timeout = defaultJobTimeout
	}
	return &Runner{log: log, timeout: timeout}
}

// Go schedules fn as a named background job and returns immediately. The job
// receives a fresh context bounded by the runner's job timeout, so caller
// cancellation (e.g., a finished HTTP request) never aborts it. Errors and
// panics are logged and swallowed.
func (r *Runner) Go(name string, fn func(ctx context.Context) error) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				r.log.Error("background job panicked",
					"job", name,
					"panic", rec,
					"stack", string(debug.Stack()),
				)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			r.log.Warn("background job failed", "job", name, "error", err)
		}
	}()
}

// Wait blocks until all scheduled jobs have finished or ctx expires. Used
// during shutdown to drain in-flight maintenance.
func (r *Runner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
