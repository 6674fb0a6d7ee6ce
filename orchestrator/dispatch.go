package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/uicp/coreadapter/apirouter"
	"github.com/uicp/coreadapter/schema"
	"github.com/uicp/coreadapter/state"
	"github.com/uicp/coreadapter/windowmgr"
)

// ApplyEnvelope validates, policy-checks, and dispatches a single envelope
// to the module owning its op (§4.11 step 3, the routing table). It
// satisfies queue.EnvelopeRunner, so queue.ApplyBatch calls it once per
// envelope inside each window's FIFO partition.
func (c *AdapterContext) ApplyEnvelope(ctx context.Context, env schema.Envelope) error {
	if err := schema.ValidateEnvelope(env); err != nil {
		return newAdapterError(ErrValidationFailed, string(env.Op), err.Error(), err)
	}

	if c.Policy != nil {
		sanitizeFalse := false
		if schema.DomOps[env.Op] {
			var p domParams
			_ = json.Unmarshal(env.Params, &p)
			sanitizeFalse = p.Sanitize != nil && !*p.Sanitize
		}
		if !c.Policy.RequireScope(ctx, env.Op, sanitizeFalse) {
			return newAdapterError(ErrPermissionDenied, string(env.Op), "scope denied", nil)
		}
	}

	err := c.dispatch(ctx, env)
	if err == nil && c.Commands != nil {
		c.Commands.Persist(ctx, env)
	}
	return err
}

// Apply adapts ApplyEnvelope to cmdlog.Applier's signature, used by
// CommandLog.ReplayAll. runID is accepted but not currently threaded into
// per-op telemetry beyond what ReplayAll itself already emits.
func (c *AdapterContext) Apply(ctx context.Context, env schema.Envelope, runID string) error {
	return c.ApplyEnvelope(ctx, env)
}

func (c *AdapterContext) dispatch(ctx context.Context, env schema.Envelope) error {
	switch env.Op {
	case schema.OpWindowCreate:
		return c.dispatchWindowCreate(ctx, env)
	case schema.OpWindowUpdate:
		return c.dispatchWindowUpdate(ctx, env)
	case schema.OpWindowMove:
		return c.dispatchWindowMove(ctx, env)
	case schema.OpWindowResize:
		return c.dispatchWindowResize(ctx, env)
	case schema.OpWindowFocus:
		return c.dispatchWindowFocus(ctx, env)
	case schema.OpWindowClose:
		return c.dispatchWindowClose(ctx, env)
	case schema.OpDomSet, schema.OpDomReplace, schema.OpDomAppend:
		return c.dispatchDom(ctx, env)
	case schema.OpComponentRender:
		return c.dispatchComponentRender(ctx, env)
	case schema.OpComponentUpdate:
		return c.dispatchComponentUpdate(ctx, env)
	case schema.OpComponentDestroy:
		return c.dispatchComponentDestroy(ctx, env)
	case schema.OpStateSet:
		return c.dispatchStateSet(ctx, env)
	case schema.OpStateGet:
		return c.dispatchStateGet(ctx, env)
	case schema.OpStatePatch:
		return c.dispatchStatePatch(ctx, env)
	case schema.OpStateWatch:
		return c.dispatchStateWatch(ctx, env)
	case schema.OpStateUnwatch:
		return c.dispatchStateUnwatch(ctx, env)
	case schema.OpApiCall:
		return c.dispatchApiCall(ctx, env)
	case schema.OpTxnCancel:
		return c.dispatchTxnCancel(ctx, env)
	default:
		return newAdapterError(ErrInternal, string(env.Op), "no module routes this op", nil)
	}
}

func unmarshalParams(op string, raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return newAdapterError(ErrValidationFailed, op, fmt.Sprintf("invalid params: %v", err), err)
	}
	return nil
}

func (c *AdapterContext) dispatchWindowCreate(ctx context.Context, env schema.Envelope) error {
	var p windowGeometryParams
	if err := unmarshalParams(string(env.Op), env.Params, &p); err != nil {
		return err
	}
	_, err := c.Windows.Create(ctx, p.ID, p.Title, p.geometry())
	return wrapWindowErr(string(env.Op), err)
}

func (c *AdapterContext) dispatchWindowUpdate(ctx context.Context, env schema.Envelope) error {
	var p windowUpdateParams
	if err := unmarshalParams(string(env.Op), env.Params, &p); err != nil {
		return err
	}

	var geom *windowmgr.Geometry
	if p.X != nil || p.Y != nil || p.Width != nil || p.Height != nil {
		g := windowmgr.Geometry{}
		if existing, ok := c.Windows.GetRecord(p.ID); ok {
			g = existing.Geometry
		}
		if p.X != nil {
			g.X = *p.X
		}
		if p.Y != nil {
			g.Y = *p.Y
		}
		if p.Width != nil {
			g.Width = *p.Width
		}
		if p.Height != nil {
			g.Height = *p.Height
		}
		geom = &g
	}

	_, err := c.Windows.Update(ctx, p.ID, p.Title, geom)
	return wrapWindowErr(string(env.Op), err)
}

func (c *AdapterContext) dispatchWindowMove(ctx context.Context, env schema.Envelope) error {
	var p windowMoveParams
	if err := unmarshalParams(string(env.Op), env.Params, &p); err != nil {
		return err
	}
	_, err := c.Windows.Move(ctx, p.ID, p.X, p.Y)
	return wrapWindowErr(string(env.Op), err)
}

func (c *AdapterContext) dispatchWindowResize(ctx context.Context, env schema.Envelope) error {
	var p windowResizeParams
	if err := unmarshalParams(string(env.Op), env.Params, &p); err != nil {
		return err
	}
	_, err := c.Windows.Resize(ctx, p.ID, p.resizeHandle(), p.Width, p.Height)
	return wrapWindowErr(string(env.Op), err)
}

func (c *AdapterContext) dispatchWindowFocus(ctx context.Context, env schema.Envelope) error {
	var p windowIDParams
	if err := unmarshalParams(string(env.Op), env.Params, &p); err != nil {
		return err
	}
	_, err := c.Windows.Focus(ctx, p.ID)
	return wrapWindowErr(string(env.Op), err)
}

func (c *AdapterContext) dispatchWindowClose(ctx context.Context, env schema.Envelope) error {
	var p windowIDParams
	if err := unmarshalParams(string(env.Op), env.Params, &p); err != nil {
		return err
	}
	if c.Components != nil {
		c.Components.DestroyByWindow(p.ID)
	}
	if c.State != nil {
		c.State.PurgeWindow(p.ID)
	}
	if c.Queue != nil {
		c.Queue.ClosePartition(p.ID)
	}
	_, err := c.Windows.Close(ctx, p.ID)
	return wrapWindowErr(string(env.Op), err)
}

func (c *AdapterContext) dispatchDom(ctx context.Context, env schema.Envelope) error {
	var p domParams
	if err := unmarshalParams(string(env.Op), env.Params, &p); err != nil {
		return err
	}
	_, _, err := c.Dom.Apply(ctx, env.WindowID, p.Target, p.HTML, p.domMode(string(env.Op)))
	if err != nil {
		return newAdapterError(ErrInternal, string(env.Op), err.Error(), err)
	}
	return nil
}

func (c *AdapterContext) dispatchComponentRender(ctx context.Context, env schema.Envelope) error {
	var p componentRenderParams
	if err := unmarshalParams(string(env.Op), env.Params, &p); err != nil {
		return err
	}
	windowID := p.WindowID
	if windowID == "" {
		windowID = env.WindowID
	}
	_, err := c.Components.Render(ctx, p.ID, windowID, p.Target, p.Type, p.props())
	return wrapComponentErr(string(env.Op), err)
}

func (c *AdapterContext) dispatchComponentUpdate(ctx context.Context, env schema.Envelope) error {
	var p componentUpdateParams
	if err := unmarshalParams(string(env.Op), env.Params, &p); err != nil {
		return err
	}
	props := map[string]any{}
	if len(p.Props) > 0 {
		_ = json.Unmarshal(p.Props, &props)
	}
	_, err := c.Components.Update(ctx, p.ID, props)
	return wrapComponentErr(string(env.Op), err)
}

func (c *AdapterContext) dispatchComponentDestroy(ctx context.Context, env schema.Envelope) error {
	var p componentIDParams
	if err := unmarshalParams(string(env.Op), env.Params, &p); err != nil {
		return err
	}
	_, err := c.Components.Destroy(ctx, p.ID)
	return wrapComponentErr(string(env.Op), err)
}

func (c *AdapterContext) dispatchStateSet(ctx context.Context, env schema.Envelope) error {
	var p stateSetParams
	if err := unmarshalParams(string(env.Op), env.Params, &p); err != nil {
		return err
	}
	val, err := decodeAny(p.Value)
	if err != nil {
		return newAdapterError(ErrValidationFailed, string(env.Op), err.Error(), err)
	}
	windowID := p.WindowID
	if windowID == "" {
		windowID = env.WindowID
	}
	if state.Scope(p.Scope) == state.ScopeWindow {
		err = c.State.SetWindowScoped(ctx, state.ScopeWindow, p.Key, windowID, val)
	} else {
		err = c.State.Set(ctx, p.Scope, p.Key, val)
	}
	if err != nil {
		return newAdapterError(ErrValidationFailed, string(env.Op), err.Error(), err)
	}
	return nil
}

func (c *AdapterContext) dispatchStateGet(ctx context.Context, env schema.Envelope) error {
	var p stateGetParams
	if err := unmarshalParams(string(env.Op), env.Params, &p); err != nil {
		return err
	}
	windowID := p.WindowID
	if windowID == "" {
		windowID = env.WindowID
	}
	_, _, err := c.State.Get(p.Scope, p.Key, windowID)
	if err != nil {
		return newAdapterError(ErrValidationFailed, string(env.Op), err.Error(), err)
	}
	return nil
}

func (c *AdapterContext) dispatchStatePatch(ctx context.Context, env schema.Envelope) error {
	var p statePatchParams
	if err := unmarshalParams(string(env.Op), env.Params, &p); err != nil {
		return err
	}
	val, err := decodeAny(p.Value)
	if err != nil {
		return newAdapterError(ErrValidationFailed, string(env.Op), err.Error(), err)
	}
	windowID := p.WindowID
	if windowID == "" {
		windowID = env.WindowID
	}
	_, err = c.State.Patch(ctx, state.Scope(p.Scope), p.Key, windowID, state.PatchOp{Op: p.Op, Path: p.Path, Value: val})
	if err != nil {
		return newAdapterError(ErrValidationFailed, string(env.Op), err.Error(), err)
	}
	return nil
}

func (c *AdapterContext) dispatchStateWatch(ctx context.Context, env schema.Envelope) error {
	var p stateWatchParams
	if err := unmarshalParams(string(env.Op), env.Params, &p); err != nil {
		return err
	}
	windowID := p.WindowID
	if windowID == "" {
		windowID = env.WindowID
	}
	if err := c.State.Watch(ctx, p.Scope, p.Key, windowID, p.Selector, p.Mode); err != nil {
		return newAdapterError(ErrValidationFailed, string(env.Op), err.Error(), err)
	}
	return nil
}

func (c *AdapterContext) dispatchStateUnwatch(ctx context.Context, env schema.Envelope) error {
	var p stateUnwatchParams
	if err := unmarshalParams(string(env.Op), env.Params, &p); err != nil {
		return err
	}
	windowID := p.WindowID
	if windowID == "" {
		windowID = env.WindowID
	}
	c.State.UnwatchTarget(windowID, p.Selector)
	return nil
}

func (c *AdapterContext) dispatchApiCall(ctx context.Context, env schema.Envelope) error {
	var p apiCallParams
	if err := unmarshalParams(string(env.Op), env.Params, &p); err != nil {
		return err
	}
	call := &apirouter.Call{
		URL:            p.URL,
		Method:         p.Method,
		Body:           p.Body,
		Headers:        p.Headers,
		Into:           p.Into,
		WindowID:       env.WindowID,
		DirectoryToken: p.Token,
		Path:           p.Path,
		Contents:       p.Contents,
	}
	result, err := c.Api.Dispatch(ctx, call)
	if err != nil {
		return newAdapterError(ErrApiFailed, string(env.Op), err.Error(), err)
	}
	if !result.OK {
		code := ErrApiFailed
		if result.ErrorCode == "Permission.Denied" {
			code = ErrPermissionDenied
		}
		return newAdapterError(code, string(env.Op), result.ErrorCode, nil)
	}
	if form, ok := result.Data.(apirouter.ClarifierForm); ok {
		return c.renderClarifier(ctx, form)
	}
	return nil
}

func (c *AdapterContext) dispatchTxnCancel(ctx context.Context, env schema.Envelope) error {
	for _, w := range c.Windows.List() {
		if c.Components != nil {
			c.Components.DestroyByWindow(w.ID)
		}
		if c.State != nil {
			c.State.PurgeWindow(w.ID)
		}
		if _, err := c.Windows.Close(ctx, w.ID); err != nil {
			c.logger.WarnContext(ctx, "txn.cancel: window close failed", "window_id", w.ID, "error", err)
		}
	}
	if c.Bus != nil {
		c.Bus.Emit(ctx, "apply_abort", map[string]any{"reason": "txn_cancel"})
	}
	return nil
}

func wrapWindowErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return newAdapterError(ErrWindowNotFound, op, err.Error(), err)
}

func wrapComponentErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return newAdapterError(ErrValidationFailed, op, err.Error(), err)
}
