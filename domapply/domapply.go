// Package domapply implements DomApplier: sanitized DOM mutation scoped to
// (windowId, target), with per-target dedupe and synthetic window creation
// when a mutation targets a window that does not exist yet.
package domapply

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync"

	"github.com/uicp/coreadapter/sanitize"
	"github.com/uicp/coreadapter/windowmgr"
)

// Mode is how html is spliced into target.
type Mode string

const (
	ModeSet     Mode = "set"     // replace target's children
	ModeReplace Mode = "replace" // replace target itself
	ModeAppend  Mode = "append"  // append as target's last child
)

// Sink forwards an already-sanitized mutation to the live UI. Implemented
// by the host; DomApplier never touches a DOM itself.
type Sink interface {
	ApplyDOM(ctx context.Context, windowID, target string, mode Mode, html string) error
}

// WindowCreator is the subset of windowmgr.Mgr DomApplier needs to
// auto-create a missing target window.
type WindowCreator interface {
	Exists(id string) bool
	Create(ctx context.Context, id, title string, geom windowmgr.Geometry) (bool, error)
}

// SyntheticPersister records the synthetic window.create DomApplier
// generates so replay reproduces it. Best-effort: failures are logged, not
// surfaced, matching CommandLog.persist's own contract (§4.4).
type SyntheticPersister interface {
	PersistSyntheticCreate(ctx context.Context, windowID, title string) error
}

// EventEmitter is the subset of telemetry.Bus DomApplier needs.
type EventEmitter interface {
	Emit(ctx context.Context, name string, attrs map[string]any)
}

// DefaultSyntheticGeometry is the geometry assigned to a window DomApplier
// creates on the caller's behalf.
var DefaultSyntheticGeometry = windowmgr.Geometry{X: 40, Y: 40, Width: 480, Height: 360}

// Applier is the DomApplier.
type Applier struct {
	mu       sync.Mutex
	lastHash map[string]string

	windows WindowCreator
	sink    Sink
	persist SyntheticPersister
	bus     EventEmitter
	logger  *slog.Logger
}

// Option configures an Applier.
type Option func(*Applier)

func WithPersister(p SyntheticPersister) Option { return func(a *Applier) { a.persist = p } }
func WithTelemetry(bus EventEmitter) Option      { return func(a *Applier) { a.bus = bus } }
func WithLogger(l *slog.Logger) Option           { return func(a *Applier) { a.logger = l } }

// New constructs an Applier bound to windows (for existence checks and
// synthetic creation) and sink (for forwarding sanitized mutations).
func New(windows WindowCreator, sink Sink, opts ...Option) *Applier {
	a := &Applier{
		lastHash: make(map[string]string),
		windows:  windows,
		sink:     sink,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Apply sanitizes html and forwards it to sink under (windowId, target,
// mode). Returns applied=1 on a fresh mutation, or skipped=1 when the
// sanitized content is byte-identical to the last mutation applied at this
// target (§4.6 step 3). If windowID does not exist yet, a window is
// synthesized first (title = prettified id) and persisted before retrying.
func (a *Applier) Apply(ctx context.Context, windowID, target, html string, mode Mode) (applied, skipped int, err error) {
	if !a.windows.Exists(windowID) {
		title := prettifyID(windowID)
		if _, err := a.windows.Create(ctx, windowID, title, DefaultSyntheticGeometry); err != nil {
			return 0, 0, err
		}
		if a.persist != nil {
			if err := a.persist.PersistSyntheticCreate(ctx, windowID, title); err != nil {
				a.logger.WarnContext(ctx, "domapply: failed to persist synthetic window.create",
					"window_id", windowID, "error", err)
			}
		}
	}

	sanitized := sanitize.Sanitize(html)
	key := windowID + "\x00" + target + "\x00" + string(mode)
	hash := hashContent(sanitized)

	a.mu.Lock()
	if a.lastHash[key] == hash {
		a.mu.Unlock()
		a.emit(ctx, 0, 1)
		return 0, 1, nil
	}
	a.lastHash[key] = hash
	a.mu.Unlock()

	if err := a.sink.ApplyDOM(ctx, windowID, target, mode, sanitized); err != nil {
		return 0, 0, err
	}

	a.emit(ctx, 1, 0)
	return 1, 0, nil
}

func (a *Applier) emit(ctx context.Context, applied, skipped int) {
	if a.bus == nil {
		return
	}
	a.bus.Emit(ctx, "dom_apply", map[string]any{"applied": applied, "skipped": skipped})
}

func hashContent(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
