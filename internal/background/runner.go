// Package background runs detached tasks whose failure must never reach the
// request path, such as persisting usage records.
package background

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	logx "github.com/procura-agent/server/pkg/logger"
)

// Task is a unit of detached work.
type Task func(ctx context.Context) error

type job struct {
	name string
	fn   Task
}

// Config sizes a [Runner].
type Config struct {
	Workers     int
	QueueSize   int
	TaskTimeout time.Duration
}

// Runner executes submitted tasks on a fixed worker pool. Submit never
// blocks: when the queue is full the task is dropped with a warning.
type Runner struct {
	cfg   Config
	queue chan job
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	dropped atomic.Int64
	failed  atomic.Int64
}

// New starts a Runner.
func New(cfg Config) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 10 * time.Second
	}
	r := &Runner{cfg: cfg, queue: make(chan job, cfg.QueueSize)}
	for i := 0; i < cfg.Workers; i++ {
		r.wg.Add(1)
		go r.work()
	}
	return r
}

// Submit enqueues fn. It reports false if the runner is closed or full.
func (r *Runner) Submit(name string, fn Task) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		logx.Warn().Str("task", name).Msg("background runner closed, task dropped")
		r.dropped.Add(1)
		return false
	}
	select {
	case r.queue <- job{name: name, fn: fn}:
		return true
	default:
		logx.Warn().Str("task", name).Int("queue_size", r.cfg.QueueSize).Msg("background queue full, task dropped")
		r.dropped.Add(1)
		return false
	}
}

func (r *Runner) work() {
	defer r.wg.Done()
	for j := range r.queue {
		r.run(j)
	}
}

func (r *Runner) run(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.TaskTimeout)
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			r.failed.Add(1)
			logx.Error().Str("task", j.name).Interface("panic", rec).Msg("background task panicked")
		}
	}()
	if err := j.fn(ctx); err != nil {
		r.failed.Add(1)
		logx.Error().Err(err).Str("task", j.name).Msg("background task failed")
	}
}

// Shutdown stops accepting tasks and waits for queued ones to finish or for
// ctx to end.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

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

// Dropped returns how many tasks were rejected.
func (r *Runner) Dropped() int64 { return r.dropped.Load() }

// Failed returns how many tasks returned an error or panicked.
func (r *Runner) Failed() int64 { return r.failed.Load() }
