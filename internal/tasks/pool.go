// Package tasks runs best-effort background jobs on a bounded worker
// pool. Publish and claim responses never wait on these jobs; failures
// are logged and never surfaced to clients.
package tasks

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mpak-dev/mpak-registry/internal/log"
)

// DefaultMaxWorkers is the default number of concurrent workers.
const DefaultMaxWorkers = 4

// DefaultQueueCapacity is the default number of queued jobs.
const DefaultQueueCapacity = 64

// DefaultJobTimeout bounds how long a single job may run.
const DefaultJobTimeout = 2 * time.Minute

// ErrPoolClosed is returned when submitting to a closed pool.
var ErrPoolClosed = fmt.Errorf("task pool is closed")

// ErrQueueFull is returned when the job queue is at capacity.
var ErrQueueFull = fmt.Errorf("task queue is full")

// Config holds configuration for the task pool.
type Config struct {
	MaxWorkers    int           // Concurrent workers (default: 4)
	QueueCapacity int           // Queued jobs before Submit refuses (default: 64)
	JobTimeout    time.Duration // Per-job deadline (default: 2m)
}

type job struct {
	name string
	fn   func(ctx context.Context) error
}

// Pool is a fixed-size worker pool draining a bounded job queue.
type Pool struct {
	jobs       chan job
	jobTimeout time.Duration
	ctx        context.Context
	cancel     context.CancelFunc
	closed     atomic.Bool
	mu         sync.RWMutex // serializes Submit sends against close(jobs)
	wg         sync.WaitGroup
}

// NewPool creates and starts a task pool.
func NewPool(cfg Config) *Pool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = DefaultMaxWorkers
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = DefaultQueueCapacity
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultJobTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		jobs:       make(chan job, cfg.QueueCapacity),
		jobTimeout: cfg.JobTimeout,
		ctx:        ctx,
		cancel:     cancel,
	}

	for i := 0; i < cfg.MaxWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return p
}

// Submit enqueues a job. The name is used only for logging. Returns
// ErrQueueFull rather than blocking when the queue is saturated.
func (p *Pool) Submit(name string, fn func(ctx context.Context) error) error {
	// Holding the read lock keeps Close from closing the channel between
	// the closed check and the send.
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed.Load() {
		return ErrPoolClosed
	}
	select {
	case p.jobs <- job{name: name, fn: fn}:
		return nil
	default:
		log.Warn(log.CatTasks, "Dropping job, queue full", "job", name)
		return ErrQueueFull
	}
}

// Close stops accepting jobs, drains the queue, and waits for running
// jobs to finish. Jobs that Submit during the drain get ErrPoolClosed.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed.Swap(true) {
		p.mu.Unlock()
		return // Already closed
	}
	close(p.jobs)
	p.mu.Unlock()
	p.wg.Wait()
	p.cancel()
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for j := range p.jobs {
		p.run(id, j)
	}
}

func (p *Pool) run(id int, j job) {
	defer func() {
		if r := recover(); r != nil {
			log.Error(log.CatTasks, "Job panic recovered",
				"worker", id,
				"job", j.name,
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()

	ctx, cancel := context.WithTimeout(p.ctx, p.jobTimeout)
	defer cancel()

	if err := j.fn(ctx); err != nil {
		log.ErrorErr(log.CatTasks, "Job failed", err, "worker", id, "job", j.name)
	}
}
