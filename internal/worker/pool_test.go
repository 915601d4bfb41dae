package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewPool(t *testing.T) {
	p1 := NewPool(5, nil)
	defer func() { _ = p1.Close(context.Background()) }()
	if p1.workers != 5 {
		t.Errorf("expected 5 workers, got %d", p1.workers)
	}

	p2 := NewPool(0, nil)
	defer func() { _ = p2.Close(context.Background()) }()
	if p2.workers != 1 {
		t.Errorf("expected default 1 worker for 0 input, got %d", p2.workers)
	}
}

func TestPool_RunsAllJobsBeforeClose(t *testing.T) {
	pool := NewPool(3, nil)

	var executed int32
	for i := 0; i < 20; i++ {
		pool.Go("count", func(ctx context.Context) error {
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&executed, 1)
			return nil
		})
	}

	if err := pool.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := atomic.LoadInt32(&executed); got != 20 {
		t.Errorf("expected 20 executed jobs, got %d", got)
	}
}

func TestPool_FailuresAndPanicsAreContained(t *testing.T) {
	pool := NewPool(1, nil)

	var after int32
	pool.Go("fails", func(ctx context.Context) error { return errors.New("db down") })
	pool.Go("panics", func(ctx context.Context) error { panic("boom") })
	pool.Go("after", func(ctx context.Context) error {
		atomic.AddInt32(&after, 1)
		return nil
	})

	if err := pool.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if atomic.LoadInt32(&after) != 1 {
		t.Error("job after a failure and a panic should still run")
	}
}

func TestPool_SubmitAfterCloseIsDropped(t *testing.T) {
	pool := NewPool(1, nil)
	_ = pool.Close(context.Background())

	var ran int32
	pool.Go("late", func(ctx context.Context) error {
		atomic.AddInt32(&ran, 1)
		return nil
	})
	time.Sleep(10 * time.Millisecond)
	if atomic.LoadInt32(&ran) != 0 {
		t.Error("job submitted after close should not run")
	}
}

func TestPool_CloseDeadlineCancelsJobs(t *testing.T) {
	pool := NewPool(1, nil)

	pool.Go("slow", func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
			return nil
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := pool.Close(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline error, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("close should cancel running jobs when its deadline passes")
	}
}

func TestPool_CloseWaitsForJobsSubmittedByJobs(t *testing.T) {
	pool := NewPool(1, nil)

	var followUps int32
	pool.Go("parent", func(ctx context.Context) error {
		time.Sleep(50 * time.Millisecond)
		for i := 0; i < 3; i++ {
			pool.Go("child", func(ctx context.Context) error {
				atomic.AddInt32(&followUps, 1)
				return nil
			})
		}
		return nil
	})

	if err := pool.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := atomic.LoadInt32(&followUps); got != 3 {
		t.Errorf("expected 3 follow-up jobs to run, got %d", got)
	}
}

func TestPool_FullBacklogDropsInsteadOfBlocking(t *testing.T) {
	pool := NewPool(1, nil)
	pool.maxQueued = 2

	release := make(chan struct{})
	pool.Go("busy", func(ctx context.Context) error {
		<-release
		return nil
	})
	// Let the worker take the busy job off the queue.
	time.Sleep(20 * time.Millisecond)

	accepted := 0
	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			if pool.Go("filler", func(ctx context.Context) error { return nil }) {
				accepted++
			}
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Submit blocked on a full backlog")
	}
	close(release)
	_ = pool.Close(context.Background())

	if accepted != 2 {
		t.Errorf("expected 2 accepted jobs, got %d", accepted)
	}
}

func TestPool_SubmitReportsAcceptance(t *testing.T) {
	pool := NewPool(1, nil)
	if !pool.Go("ok", func(ctx context.Context) error { return nil }) {
		t.Error("expected job to be accepted")
	}
	_ = pool.Close(context.Background())
	if pool.Go("late", func(ctx context.Context) error { return nil }) {
		t.Error("expected job after close to be rejected")
	}
}
