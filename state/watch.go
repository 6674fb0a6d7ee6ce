package state

import (
	"context"

	"github.com/uicp/coreadapter/idgen"
)

// Watch binds selector (and its slot children, if any) under windowID/target
// to future changes of (scope,key), per §4.8. It fires once immediately
// against the value's current state — including "no value yet" — so a
// freshly mounted panel never has to wait for the first mutation to render.
// The scope/key strings here (not the typed Scope) mirror component.StateStore,
// the interface most callers satisfy this through.
func (s *Store) Watch(ctx context.Context, scope, key, windowID, selector, mode string) error {
	ek, err := storeKey(Scope(scope), key, windowID)
	if err != nil {
		return err
	}
	if mode != "replace" && mode != "append" {
		mode = "replace"
	}

	w := &watcherEntry{
		Scope:    Scope(scope),
		Key:      key,
		WindowID: windowID,
		Selector: selector,
		Mode:     mode,
	}

	s.mu.Lock()
	id := idgen.New()
	s.watchers[id] = w
	s.mu.Unlock()

	s.renderWatcher(ctx, ek, w)
	return nil
}

// Unwatch removes a single watcher binding by the id Watch implicitly
// created. Most callers instead rely on PurgeWindow at window.close.
func (s *Store) Unwatch(id string) {
	s.mu.Lock()
	delete(s.watchers, id)
	s.mu.Unlock()
}

// UnwatchTarget removes every watcher bound to (windowID, selector). A
// state.unwatch envelope arrives over the wire identifying the binding by
// the DOM target it renders into, not by Watch's internal id, so this is
// the entry point the orchestrator actually calls for that op.
func (s *Store) UnwatchTarget(windowID, selector string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, w := range s.watchers {
		if w.WindowID == windowID && w.Selector == selector {
			delete(s.watchers, id)
		}
	}
}

// PurgeWindow drops every watcher bound to windowID, called on window.close
// (§4.8) so a destroyed window's panels stop receiving renders.
func (s *Store) PurgeWindow(windowID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, w := range s.watchers {
		if w.WindowID == windowID {
			delete(s.watchers, id)
		}
	}
}

// notify runs after the entry at ek has already been committed (§5: "watcher
// notification happens strictly after the store write it observes"), so a
// watcher render always reflects the just-written value, never a stale one.
func (s *Store) notify(ctx context.Context, ek entryKey) {
	s.mu.RLock()
	matching := make([]*watcherEntry, 0, len(s.watchers))
	for _, w := range s.watchers {
		wek, err := storeKey(w.Scope, w.Key, w.WindowID)
		if err == nil && wek == ek {
			matching = append(matching, w)
		}
	}
	s.mu.RUnlock()

	for _, w := range matching {
		s.renderWatcher(ctx, ek, w)
	}
}

func (s *Store) renderWatcher(ctx context.Context, ek entryKey, w *watcherEntry) {
	s.mu.RLock()
	value := s.entries[ek]
	s.mu.RUnlock()

	if err := s.render(ctx, w, value); err != nil {
		s.logger.WarnContext(ctx, "state watcher render failed",
			"window_id", w.WindowID, "selector", w.Selector, "error", err)
	}

	if s.bus != nil {
		s.bus.Emit(ctx, "state_watch_render", map[string]any{
			"windowId": w.WindowID,
			"selector": w.Selector,
			"scope":    string(w.Scope),
			"key":      w.Key,
		})
	}
}
