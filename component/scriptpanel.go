package component

import (
	"context"
	"fmt"

	"github.com/uicp/coreadapter/domapply"
)

// scriptPanelConfig is written to workspace:panels.{id}.config (§4.7 step 2).
type scriptPanelConfig struct {
	Module    string `json:"module"`
	Source    string `json:"source"`
	SourceKey string `json:"sourceKey"`
	StateKey  string `json:"stateKey"`
	WindowID  string `json:"windowId"`
}

// renderScriptPanel implements the five-step script.panel lifecycle
// described in §4.7. Any step beyond the first is best-effort with respect
// to the caller's return value: the wrapper is mounted unconditionally,
// since a compute failure should leave a visible (if stalled) panel rather
// than no panel at all — the panel's own state.watch binding is what
// eventually shows an error slot.
func (r *Renderer) renderScriptPanel(ctx context.Context, id, windowID, target string, props Props) (bool, error) {
	// Step 1: stable wrapper.
	wrapperHTML := fmt.Sprintf(`<div class="uicp-script-panel" data-script-panel-id=%q></div>`, esc(id))
	applied, _, err := r.dom.Apply(ctx, windowID, target, wrapperHTML, domapply.ModeSet)
	if err != nil {
		return false, err
	}

	r.mu.Lock()
	r.records[id] = &Record{ID: id, WindowID: windowID, Target: target, Type: "script.panel"}
	r.mu.Unlock()

	module := propStr(props, "module")
	source := propStr(props, "source")
	sourceKey := propStr(props, "sourceKey")
	stateKey := propStr(props, "stateKey")
	if stateKey == "" {
		stateKey = "panels." + id + ".status"
	}

	if r.state == nil {
		r.emit(ctx, "component_render", map[string]any{"id": id, "type": "script.panel", "applied": applied})
		return applied > 0, nil
	}

	// Step 2: config.
	cfg := scriptPanelConfig{Module: module, Source: source, SourceKey: sourceKey, StateKey: stateKey, WindowID: windowID}
	configKey := "panels." + id + ".config"
	if err := r.state.Set(ctx, "workspace", configKey, cfg); err != nil {
		r.logger.WarnContext(ctx, "component: failed to write script.panel config", "id", id, "error", err)
	}

	// Step 3: seed loading status and bind a watcher to the wrapper.
	if err := r.state.Set(ctx, "workspace", stateKey, map[string]any{"status": "loading"}); err != nil {
		r.logger.WarnContext(ctx, "component: failed to seed script.panel status", "id", id, "error", err)
	}
	selector := fmt.Sprintf(`[data-script-panel-id=%q]`, id)
	if err := r.state.Watch(ctx, "workspace", stateKey, windowID, selector, "replace"); err != nil {
		r.logger.WarnContext(ctx, "component: failed to bind script.panel watcher", "id", id, "error", err)
	}

	if r.compute == nil {
		r.emit(ctx, "component_render", map[string]any{"id": id, "type": "script.panel", "applied": applied})
		return applied > 0, nil
	}

	// Step 4: obtain the initial model.
	modelKey := "panels." + id + ".model"
	initInput := map[string]any{"module": module, "source": source, "sourceKey": sourceKey}
	model, err := r.compute.Submit(ctx, module, initInput, "init")
	if err != nil {
		r.state.Set(ctx, "workspace", stateKey, map[string]any{"status": "error", "error": err.Error()})
		r.emit(ctx, "component_render", map[string]any{"id": id, "type": "script.panel", "applied": applied})
		return applied > 0, nil
	}
	if err := r.state.Set(ctx, "workspace", modelKey, fmt.Sprintf("%v", model)); err != nil {
		r.logger.WarnContext(ctx, "component: failed to store script.panel model", "id", id, "error", err)
	}

	// Step 5: render with current state; the sink fields drive slot-aware
	// rendering through the watcher bound in step 3.
	renderInput := map[string]any{"model": model}
	sink, err := r.compute.Submit(ctx, module, renderInput, "render")
	if err != nil {
		r.state.Set(ctx, "workspace", stateKey, map[string]any{"status": "error", "error": err.Error()})
	} else {
		r.state.Set(ctx, "workspace", stateKey, sink)
	}

	r.emit(ctx, "component_render", map[string]any{"id": id, "type": "script.panel", "applied": applied})
	return applied > 0, nil
}
