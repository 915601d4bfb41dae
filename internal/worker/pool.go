package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ppiankov/groundwork/internal/logging"
	"github.com/ppiankov/groundwork/internal/metrics"
)

// Job is a unit of background work: persistence writes, deferred evaluations
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Func adapts a function to the Job interface
type Func struct {
	Label string
	Fn    func(ctx context.Context) error
}

// Name returns the job label
func (f Func) Name() string { return f.Label }

// Run invokes the function
func (f Func) Run(ctx context.Context) error { return f.Fn(ctx) }

// Pool runs jobs on a fixed set of workers, detached from the request that
// submitted them. Failures are logged and never reach the submitter.
//
// Submit never blocks, so a running job may submit follow-up work to its
// own pool. Close keeps accepting work until nothing is queued or running.
type Pool struct {
	workers    int
	maxQueued  int
	ctx        context.Context
	cancelFunc context.CancelFunc
	log        logging.Logger
	jobTimeout time.Duration

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []Job
	pending int // queued plus running
	closed  bool

	wg        sync.WaitGroup
	closeOnce sync.Once
	drained   chan struct{}
}

// NewPool creates and starts a pool with the specified number of workers
func NewPool(workers int, log logging.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = logging.Nop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	p := &Pool{
		workers:    workers,
		maxQueued:  workers * 1024,
		ctx:        ctx,
		cancelFunc: cancel,
		log:        log,
		jobTimeout: 2 * time.Minute,
		drained:    make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		job, ok := p.next()
		if !ok {
			return
		}
		p.run(job)

		p.mu.Lock()
		p.pending--
		if p.pending == 0 {
			p.cond.Broadcast()
		}
		p.mu.Unlock()
	}
}

// next waits for a queued job. It reports false once the pool is closed
// and the queue is empty.
func (p *Pool) next() (Job, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.queue) == 0 && !p.closed {
		p.cond.Wait()
	}
	if len(p.queue) == 0 {
		return nil, false
	}
	job := p.queue[0]
	p.queue[0] = nil
	p.queue = p.queue[1:]
	return job, true
}

func (p *Pool) run(job Job) {
	ctx, cancel := context.WithTimeout(p.ctx, p.jobTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			p.log.Error("worker", "background job panicked", map[string]interface{}{
				"job":   job.Name(),
				"error": fmt.Sprint(r),
			})
		}
	}()

	if err := job.Run(ctx); err != nil {
		p.log.Warn("worker", "background job failed", map[string]interface{}{
			"job":   job.Name(),
			"error": err.Error(),
		})
	}
}

// Submit queues a job without blocking. The job is dropped (with a log line
// and a fallback count) when the backlog is full or the pool has shut down.
// It reports whether the job was accepted.
func (p *Pool) Submit(job Job) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		p.log.Warn("worker", "job dropped after shutdown", map[string]interface{}{"job": job.Name()})
		metrics.Fallback("worker", "closed")
		return false
	}
	if len(p.queue) >= p.maxQueued {
		p.log.Warn("worker", "job dropped, backlog full", map[string]interface{}{
			"job":     job.Name(),
			"backlog": len(p.queue),
		})
		metrics.Fallback("worker", "backlog_full")
		return false
	}

	p.queue = append(p.queue, job)
	p.pending++
	p.cond.Broadcast()
	return true
}

// Go is shorthand for submitting a function
func (p *Pool) Go(name string, fn func(ctx context.Context) error) bool {
	return p.Submit(Func{Label: name, Fn: fn})
}

// Close waits until no job is queued or running, including jobs submitted
// by other jobs while closing, then stops the workers. If ctx expires first
// the queued jobs are discarded and running ones are cancelled.
func (p *Pool) Close(ctx context.Context) error {
	p.closeOnce.Do(func() {
		go func() {
			p.mu.Lock()
			for p.pending > 0 {
				p.cond.Wait()
			}
			p.closed = true
			p.cond.Broadcast()
			p.mu.Unlock()

			p.wg.Wait()
			close(p.drained)
		}()
	})

	select {
	case <-p.drained:
		p.cancelFunc()
		return nil
	case <-ctx.Done():
		p.cancelFunc()
		p.mu.Lock()
		if dropped := len(p.queue); dropped > 0 {
			p.log.Warn("worker", "queued jobs discarded at shutdown", map[string]interface{}{"count": dropped})
			p.pending -= dropped
			p.queue = nil
		}
		p.closed = true
		p.cond.Broadcast()
		p.mu.Unlock()
		<-p.drained
		return ctx.Err()
	}
}
