// Package component implements ComponentRenderer: a small library of
// template builders (button, form, table, modal, cell, grid) plus the
// script.panel lifecycle (§4.7). Every dynamic value a builder interpolates
// goes through sanitize.EscapeHTML; component authors never get to inject
// raw markup through props — only dom.* operations go through the full
// sanitize.Sanitize pipeline, because component props are structured data,
// not pre-formed HTML.
package component

import (
	"context"
	"log/slog"
	"sync"

	"github.com/uicp/coreadapter/domapply"
)

// Record is what ComponentRenderer owns for one rendered component.
type Record struct {
	ID       string
	WindowID string
	Target   string
	Type     string
}

// Props is the JSON-decoded `props` object of a component.render/update
// envelope.
type Props map[string]any

// DomSink is the subset of domapply.Applier ComponentRenderer needs to
// place rendered markup.
type DomSink interface {
	Apply(ctx context.Context, windowID, target, html string, mode domapply.Mode) (applied, skipped int, err error)
}

// StateStore is the subset of state.Store ComponentRenderer needs for
// script.panel's config/model/status bookkeeping and its state.watch
// binding. Declared locally, not imported, so component has no compile-time
// dependency on state's patch/slot-rendering internals.
type StateStore interface {
	Set(ctx context.Context, scope, key string, value any) error
	Watch(ctx context.Context, scope, key, windowID, selector, mode string) error
}

// ComputeBridge is the subset of the compute job runtime script.panel
// needs. Submit blocks until the job's final event and returns its payload.
type ComputeBridge interface {
	Submit(ctx context.Context, task string, input any, mode string) (result any, err error)
}

// EventEmitter is the subset of telemetry.Bus ComponentRenderer needs.
type EventEmitter interface {
	Emit(ctx context.Context, name string, attrs map[string]any)
}

// Builder renders one component type's markup from its props. Every value
// pulled out of props and placed in the returned string must already have
// gone through sanitize.EscapeHTML.
type Builder func(id string, props Props) string

// Renderer is the ComponentRenderer.
type Renderer struct {
	mu       sync.Mutex
	records  map[string]*Record
	builders map[string]Builder

	dom     DomSink
	state   StateStore
	compute ComputeBridge
	bus     EventEmitter
	logger  *slog.Logger
}

// Option configures a Renderer.
type Option func(*Renderer)

func WithStateStore(s StateStore) Option     { return func(r *Renderer) { r.state = s } }
func WithComputeBridge(c ComputeBridge) Option { return func(r *Renderer) { r.compute = c } }
func WithTelemetry(bus EventEmitter) Option  { return func(r *Renderer) { r.bus = bus } }
func WithLogger(l *slog.Logger) Option       { return func(r *Renderer) { r.logger = l } }

// RegisterBuilder installs or overrides a component type's template
// builder. Built-in types are registered by New; hosts may add their own.
func (r *Renderer) RegisterBuilder(typ string, b Builder) {
	r.mu.Lock()
	r.builders[typ] = b
	r.mu.Unlock()
}

// New constructs a Renderer with the built-in template library registered.
func New(dom DomSink, opts ...Option) *Renderer {
	r := &Renderer{
		records:  make(map[string]*Record),
		builders: make(map[string]Builder),
		dom:      dom,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	for typ, b := range defaultBuilders() {
		r.builders[typ] = b
	}
	return r
}

// Render renders a component and mounts it at target inside windowID. The
// script.panel type is dispatched to renderScriptPanel instead of the
// plain builder table, since its lifecycle spans multiple state writes and
// a compute submission (§4.7).
func (r *Renderer) Render(ctx context.Context, id, windowID, target, typ string, props Props) (bool, error) {
	if typ == "script.panel" {
		return r.renderScriptPanel(ctx, id, windowID, target, props)
	}

	r.mu.Lock()
	builder, ok := r.builders[typ]
	r.mu.Unlock()
	if !ok {
		r.emit(ctx, "component_unknown", map[string]any{"id": id, "type": typ})
		return false, ErrUnknownComponent(typ)
	}

	html := builder(id, props)
	applied, _, err := r.dom.Apply(ctx, windowID, target, html, domapply.ModeSet)
	if err != nil {
		return false, err
	}

	r.mu.Lock()
	r.records[id] = &Record{ID: id, WindowID: windowID, Target: target, Type: typ}
	r.mu.Unlock()

	r.emit(ctx, "component_render", map[string]any{"id": id, "type": typ, "applied": applied})
	return applied > 0, nil
}

// Update re-renders an existing component in place with new props.
func (r *Renderer) Update(ctx context.Context, id string, props Props) (bool, error) {
	r.mu.Lock()
	rec, ok := r.records[id]
	r.mu.Unlock()
	if !ok {
		return false, ErrComponentNotFound(id)
	}
	return r.Render(ctx, id, rec.WindowID, rec.Target, rec.Type, props)
}

// Destroy removes id's record and clears its mounted markup. A component
// whose host window was already closed (and so whose target no longer
// exists) is simply forgotten — DomApplier has nothing left to clear.
func (r *Renderer) Destroy(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	rec, ok := r.records[id]
	delete(r.records, id)
	r.mu.Unlock()
	if !ok {
		return false, nil
	}
	r.dom.Apply(ctx, rec.WindowID, rec.Target, "", domapply.ModeSet)
	return true, nil
}

// DestroyByWindow removes every component hosted by windowID, per §3
// ("Destroyed when its host window is destroyed").
func (r *Renderer) DestroyByWindow(windowID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, rec := range r.records {
		if rec.WindowID == windowID {
			delete(r.records, id)
		}
	}
}

func (r *Renderer) emit(ctx context.Context, name string, attrs map[string]any) {
	if r.bus == nil {
		return
	}
	r.bus.Emit(ctx, name, attrs)
}
