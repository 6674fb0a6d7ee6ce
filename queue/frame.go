package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// frameInterval approximates a browser animation frame (60fps) for
// DOM-touching work scheduled off the UI thread.
const frameInterval = 16 * time.Millisecond

// FrameCoalescer batches DOM-touching jobs so they run together on a single
// tick instead of each triggering its own layout pass. Jobs scheduled
// within one interval run in the order they were scheduled.
type FrameCoalescer struct {
	mu      sync.Mutex
	pending []func()
	tick    *time.Ticker
	stop    chan struct{}
	logger  *slog.Logger
}

func newFrameCoalescer(ctx context.Context, logger *slog.Logger) *FrameCoalescer {
	fc := &FrameCoalescer{
		tick:   time.NewTicker(frameInterval),
		stop:   make(chan struct{}),
		logger: logger,
	}
	go fc.loop(ctx)
	return fc
}

// Schedule queues fn to run on the next frame tick.
func (fc *FrameCoalescer) Schedule(fn func()) {
	fc.mu.Lock()
	fc.pending = append(fc.pending, fn)
	fc.mu.Unlock()
}

func (fc *FrameCoalescer) loop(ctx context.Context) {
	defer fc.tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-fc.stop:
			return
		case <-fc.tick.C:
			fc.flush()
		}
	}
}

func (fc *FrameCoalescer) flush() {
	fc.mu.Lock()
	batch := fc.pending
	fc.pending = nil
	fc.mu.Unlock()

	for _, fn := range batch {
		fn()
	}
}

// Stop halts the coalescer's tick loop. Already-scheduled jobs that never
// got a final flush are dropped.
func (fc *FrameCoalescer) Stop() {
	close(fc.stop)
}
