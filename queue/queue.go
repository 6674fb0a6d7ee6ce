package queue

import (
	"context"
	"log/slog"
	"sync"
)

const globalPartition = "global"

// Job is one unit of work submitted to a partition: the envelope's
// operation closure plus the bookkeeping the partition needs to collapse
// consecutive duplicates and route DOM-touching work through the frame
// coalescer.
type Job struct {
	WindowID       string
	IdempotencyKey string
	DOMTouching    bool
	Run            func(ctx context.Context) error
}

// partition is a single FIFO lane. Distinct partitions run concurrently;
// within one, jobs execute strictly in submission order. Modeled on a
// per-channel worker goroutine fed by a buffered channel and torn down via
// a cancelable context, the shape used throughout this codebase for
// fan-out work that must stay ordered per key.
type partition struct {
	jobs   chan Job
	done   chan struct{}
	cancel context.CancelFunc
}

// Dispatcher partitions jobs by windowId (or "global") and runs each
// partition's jobs sequentially on its own goroutine, so window A's queue
// never blocks on window B's.
type Dispatcher struct {
	mu         sync.Mutex
	partitions map[string]*partition
	coalescer  *FrameCoalescer
	logger     *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// NewDispatcher creates a Dispatcher with its frame coalescer started.
func NewDispatcher(ctx context.Context, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		partitions: make(map[string]*partition),
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(d)
	}
	d.coalescer = newFrameCoalescer(ctx, d.logger)
	return d
}

// Submit routes job to its windowId partition, starting the partition's
// worker goroutine on first use. DOM-touching jobs enter the partition's
// FIFO like any other job and, when their turn comes, wait for the next
// frame-coalescer tick before running.
func (d *Dispatcher) Submit(ctx context.Context, job Job) {
	key := job.WindowID
	if key == "" {
		key = globalPartition
	}

	d.mu.Lock()
	p, ok := d.partitions[key]
	if !ok {
		p = d.startPartition(ctx, key)
		d.partitions[key] = p
	}
	d.mu.Unlock()

	if job.DOMTouching {
		run := job.Run
		job.Run = func(ctx context.Context) error {
			tick := make(chan struct{})
			d.coalescer.Schedule(func() { close(tick) })
			select {
			case <-tick:
			case <-ctx.Done():
			}
			return run(ctx)
		}
	}

	select {
	case p.jobs <- job:
	case <-p.done:
		d.logger.WarnContext(ctx, "queue: job dropped, partition closed", "window_id", key)
	}
}

func (d *Dispatcher) startPartition(ctx context.Context, key string) *partition {
	pctx, cancel := context.WithCancel(ctx)
	p := &partition{
		jobs:   make(chan Job, 64),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	go p.run(pctx, d.logger, key)
	return p
}

// ClosePartition tears down the FIFO for a window, e.g. on window.close.
// In-flight jobs already in the channel are dropped.
func (d *Dispatcher) ClosePartition(windowID string) {
	key := windowID
	if key == "" {
		key = globalPartition
	}
	d.mu.Lock()
	p, ok := d.partitions[key]
	if ok {
		delete(d.partitions, key)
	}
	d.mu.Unlock()
	if ok {
		p.cancel()
	}
}

// Stop tears down every partition and the frame coalescer.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	partitions := d.partitions
	d.partitions = make(map[string]*partition)
	d.mu.Unlock()
	for _, p := range partitions {
		p.cancel()
	}
	d.coalescer.Stop()
}

func (p *partition) run(ctx context.Context, logger *slog.Logger, key string) {
	defer close(p.done)
	var lastIdemKey string
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-p.jobs:
			if job.IdempotencyKey != "" && job.IdempotencyKey == lastIdemKey {
				logger.DebugContext(ctx, "queue: collapsed consecutive duplicate",
					"window_id", key, "idempotency_key", job.IdempotencyKey)
				continue
			}
			lastIdemKey = job.IdempotencyKey
			if err := job.Run(ctx); err != nil {
				logger.WarnContext(ctx, "queue: job failed", "window_id", key, "error", err)
			}
		}
	}
}
