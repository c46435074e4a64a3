package task_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/reveriehq/reverie/internal/task"
)

func TestRunner_RunsJobAndWaits(t *testing.T) {
	r := task.NewRunner(task.RunnerConfig{})

	var ran atomic.Bool
	r.Go("test-job", func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !ran.Load() {
		t.Error("job did not run")
	}
}

func TestRunner_SwallowsErrors(t *testing.T) {
	r := task.NewRunner(task.RunnerConfig{})

	r.Go("failing-job", func(ctx context.Context) error {
		return errors.New("boom")
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.Wait(ctx); err != nil {
		t.Fatalf("Wait after failing job: %v", err)
	}
}

func TestRunner_RecoversPanics(t *testing.T) {
	r := task.NewRunner(task.RunnerConfig{})

	r.Go("panicking-job", func(ctx context.Context) error {
		panic("unexpected")
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.Wait(ctx); err != nil {
		t.Fatalf("Wait after panicking job: %v", err)
	}
}

// TestRunner_DetachedFromCaller verifies that cancelling the scheduling
// goroutine's context does not cancel the job's context.
func TestRunner_DetachedFromCaller(t *testing.T) {
	r := task.NewRunner(task.RunnerConfig{JobTimeout: time.Second})

	callerCtx, cancelCaller := context.WithCancel(context.Background())
	cancelCaller()

	jobErr := make(chan error, 1)
	r.Go("detached-job", func(ctx context.Context) error {
		_ = callerCtx // the job never sees the caller's context
		jobErr <- ctx.Err()
		return nil
	})

	select {
	case err := <-jobErr:
		if err != nil {
			t.Errorf("job context already done: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("job never ran")
	}
}

func TestRunner_JobTimeout(t *testing.T) {
	r := task.NewRunner(task.RunnerConfig{JobTimeout: 10 * time.Millisecond})

	expired := make(chan bool, 1)
	r.Go("slow-job", func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			expired <- true
		case <-time.After(time.Second):
			expired <- false
		}
		return nil
	})

	select {
	case ok := <-expired:
		if !ok {
			t.Error("job context did not expire at the job timeout")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("job never finished")
	}
}

// TestRunner_WaitDeadline verifies the shutdown drain path: Wait gives up
// with the context's error when a job outlives the deadline.
func TestRunner_WaitDeadline(t *testing.T) {
	r := task.NewRunner(task.RunnerConfig{JobTimeout: time.Minute})

	release := make(chan struct{})
	r.Go("stuck-job", func(ctx context.Context) error {
		<-release
		return nil
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := r.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait = %v, want context.DeadlineExceeded", err)
	}
}
