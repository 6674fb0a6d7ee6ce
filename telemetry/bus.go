// Package telemetry implements the structured event bus: every orchestrator
// dispatch, policy decision, and replay tick is emitted here as a named
// event with string-keyed attributes, both as an OpenTelemetry span event
// on the caller's active span and fanned out to in-process subscribers.
//
// Emission is non-blocking by design (§5: "drop rather than block the UI
// loop"): Bus.Emit never waits on a full subscriber queue. The buffer-and-
// drain shape is grounded on observability.AuditLogger.LogAsync, adapted
// from "full buffer falls back to a synchronous DB write" (AuditLogger
// persists to SQLite, so it can afford to block as a last resort) to "full
// buffer drops the event and logs a warning" (this bus has no durable
// sink of its own to fall back to — CommandLog is the durable store, and
// it is written directly by cmdlog, not through telemetry).
package telemetry

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Event is one structured telemetry record.
type Event struct {
	Name  string
	Attrs map[string]any
}

// Subscriber receives every emitted Event. Subscribers run on the bus's
// single drain goroutine — they must not block.
type Subscriber func(ctx context.Context, ev Event)

// Bus is the adapter's telemetry sink: an OpenTelemetry tracer for span
// events plus a bounded fan-out queue for in-process subscribers (a log
// viewer panel, a metrics aggregator, test assertions).
type Bus struct {
	tracer trace.Tracer
	logger *slog.Logger

	mu   sync.RWMutex
	subs map[int]Subscriber
	next int

	queue chan Event
	done  chan struct{}
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger overrides the default logger used when the queue overflows.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// WithTracerName sets the OpenTelemetry tracer name (default
// "github.com/uicp/coreadapter/telemetry").
func WithTracerName(name string) Option {
	return func(b *Bus) { b.tracer = otel.Tracer(name) }
}

// WithQueueSize overrides the default subscriber fan-out buffer (256).
func WithQueueSize(n int) Option {
	return func(b *Bus) { b.queue = make(chan Event, n) }
}

// New constructs a running Bus. Call Stop to drain and release its
// goroutine.
func New(opts ...Option) *Bus {
	b := &Bus{
		tracer: otel.Tracer("github.com/uicp/coreadapter/telemetry"),
		logger: slog.Default(),
		subs:   make(map[int]Subscriber),
		queue:  make(chan Event, 256),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	go b.drain()
	return b
}

// Subscribe registers fn for every future Emit call. The returned func
// removes it.
func (b *Bus) Subscribe(fn Subscriber) (unsubscribe func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Emit records name as an event on ctx's active span (if any) and enqueues
// it for subscriber fan-out. It never blocks: a full queue drops the event
// and logs a warning rather than stalling the caller's dispatch path.
func (b *Bus) Emit(ctx context.Context, name string, attrs map[string]any) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.AddEvent(name, trace.WithAttributes(toOtelAttrs(attrs)...))
	}

	ev := Event{Name: name, Attrs: attrs}
	select {
	case b.queue <- ev:
	default:
		b.logger.Warn("telemetry: event dropped, subscriber queue full", "event", name)
	}
}

// StartSpan begins a child span named name, returning the derived context
// and an end function. Used by the orchestrator to wrap each applyBatch
// call.
func (b *Bus) StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func()) {
	ctx, span := b.tracer.Start(ctx, name, trace.WithAttributes(toOtelAttrs(attrs)...))
	return ctx, func() { span.End() }
}

// Stop closes the drain goroutine. Queued events not yet delivered are
// discarded.
func (b *Bus) Stop() {
	close(b.done)
}

func (b *Bus) drain() {
	for {
		select {
		case <-b.done:
			return
		case ev := <-b.queue:
			b.mu.RLock()
			subs := make([]Subscriber, 0, len(b.subs))
			for _, fn := range b.subs {
				subs = append(subs, fn)
			}
			b.mu.RUnlock()
			for _, fn := range subs {
				fn(context.Background(), ev)
			}
		}
	}
}

func toOtelAttrs(m map[string]any) []attribute.KeyValue {
	if len(m) == 0 {
		return nil
	}
	out := make([]attribute.KeyValue, 0, len(m))
	for k, v := range m {
		out = append(out, toOtelAttr(k, v))
	}
	return out
}

func toOtelAttr(k string, v any) attribute.KeyValue {
	switch val := v.(type) {
	case string:
		return attribute.String(k, val)
	case bool:
		return attribute.Bool(k, val)
	case int:
		return attribute.Int(k, val)
	case int64:
		return attribute.Int64(k, val)
	case float64:
		return attribute.Float64(k, val)
	default:
		return attribute.String(k, stringify(val))
	}
}
