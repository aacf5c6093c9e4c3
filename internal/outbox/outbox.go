// Package outbox is a bounded asynchronous job queue for side effects that
// must never block or fail a scoring request: alert delivery, result
// persistence and metric persistence. Jobs are retried with backoff and
// dropped, with a log line, once the queue is full or retries are exhausted.
package outbox

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/retry"
)

// Hooks observe job outcomes. Either may be nil.
type Hooks struct {
	Failed  func(job string, err error)
	Dropped func(job string)
}

type job struct {
	name string
	run  func(ctx context.Context) error
}

// Outbox runs submitted jobs on a fixed pool of workers.
type Outbox struct {
	name           string
	policy         retry.Policy
	attemptTimeout time.Duration
	hooks          Hooks

	mu     sync.RWMutex
	closed bool
	queue  chan job

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New starts an outbox with cfg.Workers workers.
func New(name string, cfg domain.DeliveryConfig, hooks Hooks) *Outbox {
	size := cfg.QueueSize
	if size < 1 {
		size = 1
	}
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Outbox{
		name: name,
		policy: retry.Policy{
			MaxAttempts:     cfg.MaxAttempts,
			InitialInterval: cfg.InitialInterval,
			MaxInterval:     cfg.MaxInterval,
		},
		attemptTimeout: cfg.AttemptTimeout,
		hooks:          hooks,
		queue:          make(chan job, size),
		ctx:            ctx,
		cancel:         cancel,
	}

	for i := 0; i < workers; i++ {
		o.wg.Add(1)
		go o.worker()
	}
	return o
}

// Submit enqueues a job without blocking. It returns false when the job was dropped.
func (o *Outbox) Submit(name string, run func(ctx context.Context) error) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if o.closed {
		o.drop(name)
		return false
	}

	select {
	case o.queue <- job{name: name, run: run}:
		return true
	default:
		o.drop(name)
		return false
	}
}

// Pending returns the number of queued jobs.
func (o *Outbox) Pending() int {
	return len(o.queue)
}

// Close stops accepting jobs and waits for queued ones to finish.
// If ctx expires first, in-flight retries are abandoned.
func (o *Outbox) Close(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	close(o.queue)
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.cancel()
		return nil
	case <-ctx.Done():
		o.cancel()
		<-done
		return ctx.Err()
	}
}

func (o *Outbox) worker() {
	defer o.wg.Done()
	for j := range o.queue {
		o.process(j)
	}
}

func (o *Outbox) process(j job) {
	err := retry.Do(o.ctx, o.policy, func(ctx context.Context) error {
		if o.attemptTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, o.attemptTimeout)
			defer cancel()
		}
		return j.run(ctx)
	}, func(err error, next time.Duration) {
		slog.Debug("outbox job retrying", "outbox", o.name, "job", j.name, "next", next, "error", err)
	})
	if err == nil {
		return
	}

	slog.Warn("outbox job failed", "outbox", o.name, "job", j.name, "error", err)
	if o.hooks.Failed != nil {
		o.hooks.Failed(j.name, err)
	}
}

func (o *Outbox) drop(name string) {
	slog.Warn("outbox job dropped", "outbox", o.name, "job", name)
	if o.hooks.Dropped != nil {
		o.hooks.Dropped(name)
	}
}
