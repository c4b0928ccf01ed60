// Package worker runs slow collaborator calls (record storage, registration, report
// generation, broadcast) off the message-handling path.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

// Default pool settings.
const (
	DefaultWorkers   = 4
	DefaultQueueSize = 64
)

// Task is a unit of off-path work. The context is cancelled when the pool stops.
type Task func(ctx context.Context)

// Executor accepts tasks for asynchronous execution. Submit never blocks the caller;
// it reports false when the task was dropped.
type Executor interface {
	Submit(name string, task Task) bool
}

// Opts holds configuration for a Pool.
type Opts struct {
	Workers   int
	QueueSize int
}

// Option defines a configuration option for a Pool.
type Option func(*Opts)

// WithWorkers sets the number of worker goroutines.
func WithWorkers(n int) Option {
	return func(o *Opts) { o.Workers = n }
}

// WithQueueSize sets how many submitted tasks may wait before Submit starts dropping.
func WithQueueSize(n int) Option {
	return func(o *Opts) { o.QueueSize = n }
}

type job struct {
	name string
	task Task
}

// Pool is a fixed-size goroutine pool fed by a buffered queue.
type Pool struct {
	opts    Opts
	jobs    chan job
	wg      sync.WaitGroup
	mu      sync.RWMutex
	started bool
	stopped bool
	cancel  context.CancelFunc
}

// NewPool creates a Pool. Call Start before submitting work.
func NewPool(opts ...Option) *Pool {
	cfg := Opts{Workers: DefaultWorkers, QueueSize: DefaultQueueSize}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	return &Pool{opts: cfg, jobs: make(chan job, cfg.QueueSize)}
}

// Start launches the worker goroutines. Tasks receive a context derived from ctx.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	for i := 0; i < p.opts.Workers; i++ {
		p.wg.Add(1)
		go p.loop(runCtx, i)
	}
	slog.Info("Pool.Start: worker pool started", "workers", p.opts.Workers, "queueSize", p.opts.QueueSize)
}

// Submit queues task without blocking. Callers may hold locks that running tasks need,
// so a full queue drops the task instead of waiting. Tasks submitted after Stop are
// dropped too. It reports whether the task was queued.
func (p *Pool) Submit(name string, task Task) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		slog.Warn("Pool.Submit: pool stopped, dropping task", "task", name)
		return false
	}
	select {
	case p.jobs <- job{name: name, task: task}:
		slog.Debug("Pool.Submit: task queued", "task", name)
		return true
	default:
		slog.Error("Pool.Submit: queue full, dropping task", "task", name, "queueSize", p.opts.QueueSize)
		return false
	}
}

// Stop stops accepting work, lets queued tasks finish, and waits for the workers to exit.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.jobs)
	started := p.started
	p.mu.Unlock()

	if !started {
		return
	}
	p.wg.Wait()
	p.cancel()
	slog.Info("Pool.Stop: worker pool stopped")
}

func (p *Pool) loop(ctx context.Context, id int) {
	defer p.wg.Done()
	for j := range p.jobs {
		run(ctx, j, id)
	}
}

func run(ctx context.Context, j job, workerID int) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Pool: task panicked", "task", j.name, "worker", workerID, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
		}
	}()
	slog.Debug("Pool: running task", "task", j.name, "worker", workerID)
	j.task(ctx)
}

// Inline runs every task synchronously on the caller's goroutine. Used in tests and
// wherever ordering must be deterministic.
type Inline struct {
	Ctx context.Context
}

// Submit runs task immediately.
func (i Inline) Submit(name string, task Task) bool {
	ctx := i.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	run(ctx, job{name: name, task: task}, -1)
	return true
}
