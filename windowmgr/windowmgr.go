// Package windowmgr owns WindowRecord: window creation, geometry mutation
// under drag/resize clamping, focus order, and the created/updated/
// destroyed lifecycle broadcast. It holds no HTML — rendering window
// chrome is the host UI's job (§1 Non-goal); this package is the single
// source of truth for "what windows exist and where they are."
package windowmgr

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Geometry is a window's position, size, and stacking order.
type Geometry struct {
	X, Y, Width, Height float64
	ZIndex              int
}

// WindowRecord is the state windowmgr owns for one live window.
type WindowRecord struct {
	ID           string
	Title        string
	Geometry     Geometry
	InitialWidth float64 // captured at create, used for resize's 0.6x minimum
	InitialHeight float64
	Pinned       bool
}

// clone returns a value copy safe to hand to callers outside the lock.
func (r *WindowRecord) clone() WindowRecord {
	return *r
}

// Event is a lifecycle notification broadcast to every registered Listener.
type Event struct {
	Type  string // "created" | "updated" | "destroyed"
	ID    string
	Title string
}

// Listener observes window lifecycle events. Per §4.5, a listener's error
// must propagate after every sibling has run — bugs in a listener must be
// loud, not swallowed.
type Listener func(ctx context.Context, ev Event) error

// Viewport is the frame Move/Resize clamp window geometry against.
type Viewport struct {
	Width, Height float64
}

// CommandPurger deletes a window's persisted commands on close, unless the
// window is pinned. No type in this module implements it;
// cmdlog.CommandLog offers the same operation as Clear(ctx, windowID).
type CommandPurger interface {
	DeleteWindowCommands(ctx context.Context, windowID string) error
}

// PinnedPredicate reports whether a window's history should survive close.
// Injected by the host, per §4.5 ("predicate injected by host").
type PinnedPredicate func(windowID string) bool

const (
	dragThreshold  = 2.0
	viewportMargin = 16.0
	minWidth       = 240.0
	minHeight      = 220.0
)

// Mgr is the WindowMgr.
type Mgr struct {
	mu        sync.Mutex
	windows   map[string]*WindowRecord
	teardowns map[string][]func()
	nextZ     int

	listeners []Listener
	viewport  Viewport
	pinned    PinnedPredicate
	purger    CommandPurger
	logger    *slog.Logger
}

// Option configures a Mgr.
type Option func(*Mgr)

func WithViewport(width, height float64) Option {
	return func(m *Mgr) { m.viewport = Viewport{Width: width, Height: height} }
}

func WithPinnedPredicate(fn PinnedPredicate) Option {
	return func(m *Mgr) { m.pinned = fn }
}

func WithCommandPurger(p CommandPurger) Option {
	return func(m *Mgr) { m.purger = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Mgr) { m.logger = l }
}

// New constructs a Mgr. Default viewport is 1280x800 until overridden;
// hosts update it per-resize by calling SetViewport.
func New(opts ...Option) *Mgr {
	m := &Mgr{
		windows:   make(map[string]*WindowRecord),
		teardowns: make(map[string][]func()),
		viewport:  Viewport{Width: 1280, Height: 800},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetViewport updates the bounds Move/Resize clamp against.
func (m *Mgr) SetViewport(v Viewport) {
	m.mu.Lock()
	m.viewport = v
	m.mu.Unlock()
}

// AddListener registers fn and returns a function that removes it.
func (m *Mgr) AddListener(fn Listener) func() {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	idx := len(m.listeners) - 1
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if idx < len(m.listeners) {
			m.listeners = append(m.listeners[:idx], m.listeners[idx+1:]...)
		}
	}
}

// SetTeardown registers a cleanup closure the host wants run when id
// closes (e.g. tearing down a drag/resize observer it attached).
func (m *Mgr) SetTeardown(id string, fn func()) {
	m.mu.Lock()
	m.teardowns[id] = append(m.teardowns[id], fn)
	m.mu.Unlock()
}

// Create is idempotent: if id already exists, it behaves as Update
// (reapplying title/geometry) and still returns applied=true, per §4.5 and
// the "applied = accepted and dispatched" convention recorded in DESIGN.md.
func (m *Mgr) Create(ctx context.Context, id, title string, geom Geometry) (bool, error) {
	m.mu.Lock()
	existing, ok := m.windows[id]
	if ok {
		existing.Title = title
		existing.Geometry = geom
		rec := existing.clone()
		m.mu.Unlock()
		return true, m.broadcast(ctx, Event{Type: "updated", ID: id, Title: rec.Title})
	}
	m.nextZ++
	geom.ZIndex = m.nextZ
	rec := &WindowRecord{
		ID: id, Title: title, Geometry: geom,
		InitialWidth: geom.Width, InitialHeight: geom.Height,
	}
	m.windows[id] = rec
	m.mu.Unlock()
	return true, m.broadcast(ctx, Event{Type: "created", ID: id, Title: title})
}

// Update reapplies title and/or geometry to an existing window.
func (m *Mgr) Update(ctx context.Context, id string, title *string, geom *Geometry) (bool, error) {
	m.mu.Lock()
	rec, ok := m.windows[id]
	if !ok {
		m.mu.Unlock()
		return false, ErrWindowNotFound(id)
	}
	if title != nil {
		rec.Title = *title
	}
	if geom != nil {
		rec.Geometry = *geom
	}
	t := rec.Title
	m.mu.Unlock()
	return true, m.broadcast(ctx, Event{Type: "updated", ID: id, Title: t})
}

// Focus raises id to the top of the stacking order.
func (m *Mgr) Focus(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	rec, ok := m.windows[id]
	if !ok {
		m.mu.Unlock()
		return false, ErrWindowNotFound(id)
	}
	m.nextZ++
	rec.Geometry.ZIndex = m.nextZ
	t := rec.Title
	m.mu.Unlock()
	return true, m.broadcast(ctx, Event{Type: "updated", ID: id, Title: t})
}

// Move clamps (x,y) into [0, viewport.Width-w-margin] x [0, viewport.Height-
// h-margin] and ignores the drag if the net movement is below the 2px
// threshold (§4.5).
func (m *Mgr) Move(ctx context.Context, id string, x, y float64) (bool, error) {
	m.mu.Lock()
	rec, ok := m.windows[id]
	if !ok {
		m.mu.Unlock()
		return false, ErrWindowNotFound(id)
	}
	dx := x - rec.Geometry.X
	dy := y - rec.Geometry.Y
	if absf(dx) < dragThreshold && absf(dy) < dragThreshold {
		m.mu.Unlock()
		return false, nil
	}
	maxX := m.viewport.Width - rec.Geometry.Width - viewportMargin
	maxY := m.viewport.Height - rec.Geometry.Height - viewportMargin
	rec.Geometry.X = clamp(x, 0, maxf(maxX, 0))
	rec.Geometry.Y = clamp(y, 0, maxf(maxY, 0))
	t := rec.Title
	m.mu.Unlock()
	return true, m.broadcast(ctx, Event{Type: "updated", ID: id, Title: t})
}

// ResizeHandle identifies which edges a resize drag affects.
type ResizeHandle string

const (
	HandleEast      ResizeHandle = "e"
	HandleSouth     ResizeHandle = "s"
	HandleSouthEast ResizeHandle = "se"
)

// Resize applies a proposed (width, height) for the given handle, clamping
// to the per-window minimum (max(240, 0.6*initialW) x max(220,
// 0.6*initialH)) and to the viewport edge minus the 16px margin (§4.5).
func (m *Mgr) Resize(ctx context.Context, id string, handle ResizeHandle, width, height float64) (bool, error) {
	m.mu.Lock()
	rec, ok := m.windows[id]
	if !ok {
		m.mu.Unlock()
		return false, ErrWindowNotFound(id)
	}

	minW := maxf(minWidth, 0.6*rec.InitialWidth)
	minH := maxf(minHeight, 0.6*rec.InitialHeight)
	maxW := m.viewport.Width - rec.Geometry.X - viewportMargin
	maxH := m.viewport.Height - rec.Geometry.Y - viewportMargin

	if handle == HandleEast || handle == HandleSouthEast {
		rec.Geometry.Width = clamp(width, minW, maxf(maxW, minW))
	}
	if handle == HandleSouth || handle == HandleSouthEast {
		rec.Geometry.Height = clamp(height, minH, maxf(maxH, minH))
	}
	t := rec.Title
	m.mu.Unlock()
	return true, m.broadcast(ctx, Event{Type: "updated", ID: id, Title: t})
}

// Close runs registered teardown closures, deletes the record, purges its
// persisted commands unless pinned, and broadcasts "destroyed".
func (m *Mgr) Close(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	rec, ok := m.windows[id]
	if !ok {
		m.mu.Unlock()
		return false, nil
	}
	teardowns := m.teardowns[id]
	delete(m.teardowns, id)
	delete(m.windows, id)
	pinned := rec.Pinned || (m.pinned != nil && m.pinned(id))
	m.mu.Unlock()

	for _, fn := range teardowns {
		fn()
	}

	if !pinned && m.purger != nil {
		if err := m.purger.DeleteWindowCommands(ctx, id); err != nil {
			m.logger.WarnContext(ctx, "windowmgr: failed to purge commands on close", "window_id", id, "error", err)
		}
	}

	return true, m.broadcast(ctx, Event{Type: "destroyed", ID: id, Title: rec.Title})
}

// Pin marks a window's history to survive close regardless of the host
// PinnedPredicate.
func (m *Mgr) Pin(id string, pinned bool) {
	m.mu.Lock()
	if rec, ok := m.windows[id]; ok {
		rec.Pinned = pinned
	}
	m.mu.Unlock()
}

// Exists reports whether id currently has a live record.
func (m *Mgr) Exists(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.windows[id]
	return ok
}

// GetRecord returns a snapshot of id's record.
func (m *Mgr) GetRecord(id string) (WindowRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.windows[id]
	if !ok {
		return WindowRecord{}, false
	}
	return rec.clone(), true
}

// List returns a snapshot of every live window.
func (m *Mgr) List() []WindowRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]WindowRecord, 0, len(m.windows))
	for _, rec := range m.windows {
		out = append(out, rec.clone())
	}
	return out
}

// broadcast notifies every listener, running all of them even if one
// errors, then joins and returns every error so bugs are loud (§4.5).
func (m *Mgr) broadcast(ctx context.Context, ev Event) error {
	m.mu.Lock()
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.Unlock()

	var errs []error
	for _, fn := range listeners {
		if err := fn(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func clamp(v, lo, hi float64) float64 {
	if hi < lo {
		hi = lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
