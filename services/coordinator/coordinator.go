// Package coordinator serializes work per user. A fixed-size worker pool
// drains independent per-user FIFO queues: two events for the same user never
// overlap, events for different users run in parallel. WhatsApp can deliver a
// button tap while the previous text is still mid-handler; without this,
// concurrent handlers would race on conversation state, wallet balances and
// PIN attempt counters.
package coordinator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/emeka-okafor/kudipal/utils"
)

// ErrQueueFull is returned when a user's queue is at capacity. The event is
// dropped; WhatsApp redelivers and dedup handles the replay.
var ErrQueueFull = errors.New("user queue is full")

// ErrShuttingDown is returned once Shutdown has begun.
var ErrShuttingDown = errors.New("coordinator is shutting down")

// Task is one unit of per-user work. The context carries the handler
// timeout and is cancelled on shutdown.
type Task func(ctx context.Context)

// Options tune the coordinator. Zero values fall back to defaults.
type Options struct {
	// Workers caps concurrently running handlers across all users.
	Workers int
	// QueueDepth caps queued events per user.
	QueueDepth int
	// HandlerTimeout bounds a single task's run time.
	HandlerTimeout time.Duration
	// IdleTTL is how long an empty queue survives before disposal.
	IdleTTL time.Duration
	// ShutdownGrace bounds queue draining during Shutdown.
	ShutdownGrace time.Duration
}

func (o *Options) fill() {
	if o.Workers <= 0 {
		o.Workers = 16
	}
	if o.QueueDepth <= 0 {
		o.QueueDepth = 32
	}
	if o.HandlerTimeout <= 0 {
		o.HandlerTimeout = 120 * time.Second
	}
	if o.IdleTTL <= 0 {
		o.IdleTTL = 30 * time.Second
	}
	if o.ShutdownGrace <= 0 {
		o.ShutdownGrace = 10 * time.Second
	}
}

type userQueue struct {
	ch     chan Task
	closed bool
}

// Coordinator owns the per-user queues and the shared worker pool.
type Coordinator struct {
	opts Options

	mu     sync.Mutex
	queues map[string]*userQueue

	slots chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Coordinator ready to accept work.
func New(opts Options) *Coordinator {
	opts.fill()
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		opts:   opts,
		queues: make(map[string]*userQueue),
		slots:  make(chan struct{}, opts.Workers),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Submit enqueues a task on the queue for key, creating the queue and its
// drainer if needed. FIFO per key; no ordering across keys. Returns
// ErrQueueFull when the per-user queue is at capacity.
func (c *Coordinator) Submit(key string, task Task) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ctx.Err() != nil {
		return ErrShuttingDown
	}

	q := c.queues[key]
	if q == nil || q.closed {
		q = &userQueue{ch: make(chan Task, c.opts.QueueDepth)}
		c.queues[key] = q
		c.wg.Add(1)
		go c.drain(key, q)
	}

	select {
	case q.ch <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// drain runs tasks for a single key strictly in order. The queue disposes
// itself after IdleTTL without work.
func (c *Coordinator) drain(key string, q *userQueue) {
	defer c.wg.Done()
	idle := time.NewTimer(c.opts.IdleTTL)
	defer idle.Stop()

	for {
		select {
		case task := <-q.ch:
			c.run(c.ctx, task)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(c.opts.IdleTTL)

		case <-idle.C:
			// Close under the lock so a concurrent Submit either wins the
			// race and hands us one more task, or sees the closed flag and
			// spins up a fresh queue.
			c.mu.Lock()
			select {
			case task := <-q.ch:
				c.mu.Unlock()
				c.run(c.ctx, task)
				idle.Reset(c.opts.IdleTTL)
				continue
			default:
			}
			q.closed = true
			if c.queues[key] == q {
				delete(c.queues, key)
			}
			c.mu.Unlock()
			return

		case <-c.ctx.Done():
			c.drainRemaining(q)
			return
		}
	}
}

// drainRemaining gives queued tasks a bounded grace period on shutdown, then
// discards the rest.
func (c *Coordinator) drainRemaining(q *userQueue) {
	grace, cancel := context.WithTimeout(context.Background(), c.opts.ShutdownGrace)
	defer cancel()
	for {
		select {
		case task := <-q.ch:
			if grace.Err() != nil {
				utils.LogWarn("Discarding %d queued events on shutdown", len(q.ch)+1)
				return
			}
			c.run(grace, task)
		default:
			return
		}
	}
}

// run executes one task inside a worker slot with the handler timeout.
func (c *Coordinator) run(parent context.Context, task Task) {
	c.slots <- struct{}{}
	defer func() { <-c.slots }()

	ctx, cancel := context.WithTimeout(parent, c.opts.HandlerTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			utils.LogError("Handler panic recovered: %v", r)
		}
	}()
	task(ctx)
}

// Shutdown cancels in-flight handler contexts and waits for drainers to
// finish their grace period, bounded by ctx.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.cancel()
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
