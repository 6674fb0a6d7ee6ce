// Package state implements StateStore & Watchers: three scoped key-value
// maps (window, workspace, global), a copy-on-write patch operation set,
// and slot-aware watcher rendering (§4.8).
package state

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/uicp/coreadapter/domapply"
)

// Scope is a state partition.
type Scope string

const (
	ScopeWindow    Scope = "window"
	ScopeWorkspace Scope = "workspace"
	ScopeGlobal    Scope = "global"
)

// DomSink is the subset of domapply.Applier a Store uses to render watcher
// output when a target has no slot-aware children.
type DomSink interface {
	Apply(ctx context.Context, windowID, target, html string, mode domapply.Mode) (applied, skipped int, err error)
}

// SlotProbe reports which `data-slot` values currently exist under a
// watcher's target, so the Store can toggle exactly one visible slot
// rather than replacing the whole subtree. Implemented by the host UI,
// which is the only thing that can actually inspect live DOM structure.
type SlotProbe interface {
	Slots(ctx context.Context, windowID, target string) ([]string, error)
}

// EventEmitter is the subset of telemetry.Bus Store needs.
type EventEmitter interface {
	Emit(ctx context.Context, name string, attrs map[string]any)
}

type entryKey struct {
	scope Scope
	key   string // already storeKey-folded: "{windowId}:{key}" for window scope
}

// Store is StateStore & Watchers.
type Store struct {
	mu       sync.RWMutex
	entries  map[entryKey]any
	watchers map[string]*watcherEntry

	dom    DomSink
	probe  SlotProbe
	bus    EventEmitter
	logger *slog.Logger
}

// watcherEntry is a WatcherEntry (§3).
type watcherEntry struct {
	Scope    Scope
	Key      string // raw key as passed to Watch, before storeKey folding
	WindowID string
	Selector string
	Mode     string // "replace" | "append", used when the target has no slots
}

// Option configures a Store.
type Option func(*Store)

func WithDomSink(d DomSink) Option     { return func(s *Store) { s.dom = d } }
func WithSlotProbe(p SlotProbe) Option { return func(s *Store) { s.probe = p } }
func WithTelemetry(bus EventEmitter) Option { return func(s *Store) { s.bus = bus } }
func WithLogger(l *slog.Logger) Option { return func(s *Store) { s.logger = l } }

// New constructs an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		entries:  make(map[entryKey]any),
		watchers: make(map[string]*watcherEntry),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// storeKey folds (scope, key, windowID) into the StateEntry key per §3:
// "{windowId}:{key}" for window scope, else key unchanged. Window scope
// without a windowId is a validation error, not a silent fallback to
// global state.
func storeKey(scope Scope, key, windowID string) (entryKey, error) {
	if scope == ScopeWindow {
		if windowID == "" {
			return entryKey{}, fmt.Errorf("state: window-scoped key %q requires windowId", key)
		}
		return entryKey{scope: scope, key: windowID + ":" + key}, nil
	}
	return entryKey{scope: scope, key: key}, nil
}

// Set replaces the value at (scope,key) for the workspace/global scopes,
// deep-cloning it, and notifies watchers only if the stored value actually
// changed — matching state.patch's "set" op semantics (§4.8) for the
// plain-set case too. Window scope has no windowId in this signature by
// design (it satisfies component.StateStore, which only ever writes
// workspace-scoped panel bookkeeping); use SetWindowScoped for window
// scope.
func (s *Store) Set(ctx context.Context, scope, key string, value any) error {
	if Scope(scope) == ScopeWindow {
		return fmt.Errorf("state: Set cannot target window scope without a windowId, use SetWindowScoped")
	}
	ek, err := storeKey(Scope(scope), key, "")
	if err != nil {
		return err
	}
	return s.setEntry(ctx, ek, value)
}

// SetWindowScoped is Set for window scope, taking windowID explicitly
// (used by the orchestrator, which always has windowID in hand from the
// envelope).
func (s *Store) SetWindowScoped(ctx context.Context, scope Scope, key, windowID string, value any) error {
	ek, err := storeKey(scope, key, windowID)
	if err != nil {
		return err
	}
	return s.setEntry(ctx, ek, value)
}

func (s *Store) setEntry(ctx context.Context, ek entryKey, value any) error {
	cloned := cloneValue(value)

	s.mu.Lock()
	old, existed := s.entries[ek]
	if existed && deepEqual(old, cloned) {
		s.mu.Unlock()
		return nil
	}
	s.entries[ek] = cloned
	s.mu.Unlock()

	s.notify(ctx, ek)
	return nil
}

// Snapshot returns a cloned copy of every entry, keyed by "{scope}:{key}".
// queue.Checkpointer hashes this to detect drift between what the adapter
// believes is persisted and what the database actually holds.
func (s *Store) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.entries))
	for k, v := range s.entries {
		out[string(k.scope)+":"+k.key] = cloneValue(v)
	}
	return out
}

// Get returns a cloned snapshot of (scope,key)'s current value.
func (s *Store) Get(scope, key, windowID string) (any, bool, error) {
	ek, err := storeKey(Scope(scope), key, windowID)
	if err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	v, ok := s.entries[ek]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	return cloneValue(v), true, nil
}
