package apirouter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/uicp/coreadapter/idgen"
)

// dispatchUICP handles the uicp:// scheme: compute.call and intent.
func (r *Router) dispatchUICP(ctx context.Context, call *Call) (*Result, error) {
	u, err := url.Parse(call.URL)
	if err != nil {
		return nil, fmt.Errorf("apirouter: invalid uicp url: %w", err)
	}
	switch u.Opaque + u.Host + u.Path {
	case "compute.call":
		return r.dispatchComputeCall(ctx, call)
	case "intent":
		return r.dispatchIntent(ctx, call)
	default:
		r.logger.DebugContext(ctx, "uicp:// unknown path, no-op", "url", call.URL)
		return &Result{OK: true}, nil
	}
}

// dispatchComputeCall parses the call body as a JobSpec and forwards it to
// the registered ComputeBridge. If call.Into is set, Dispatch has already
// seeded {status:"loading", correlationId} into that state key and will
// finalize it once this handler returns (§4.9); call.CorrelationID carries
// the id that seed used, so the Result reports the same one.
func (r *Router) dispatchComputeCall(ctx context.Context, call *Call) (*Result, error) {
	var spec JobSpec
	if err := json.Unmarshal(call.Body, &spec); err != nil {
		return nil, &ErrBadJobSpec{Cause: err}
	}
	if spec.Task == "" {
		return nil, &ErrBadJobSpec{Cause: fmt.Errorf("task is required")}
	}
	if spec.JobID == "" {
		spec.JobID = idgen.New()
	}

	r.mu.RLock()
	bridge := r.bridge
	r.mu.RUnlock()
	if bridge == nil {
		return &Result{OK: false, ErrorCode: "Adapter.Internal"}, nil
	}

	correlationID := call.CorrelationID
	if correlationID == "" {
		correlationID = idgen.New()
	}
	result := &Result{OK: true, CorrelationID: correlationID}

	err := bridge.Submit(ctx, spec, func(status string, data any) {
		r.emit(ctx, "api_call", map[string]any{
			"scheme": "uicp", "path": "compute.call", "job_id": spec.JobID, "status": status,
		})
		if status == "ready" {
			result.Data = data
		} else if status == "error" {
			result.OK = false
		}
	})
	if err != nil {
		return &Result{OK: false, CorrelationID: correlationID, ErrorCode: "Adapter.Internal"}, nil
	}
	return result, nil
}

// IntentPayload is the plain (non-clarifier) body shape for uicp://intent.
type IntentPayload struct {
	Text     string `json:"text"`
	WindowID string `json:"windowId,omitempty"`
}

// dispatchIntent emits a host-visible intent event, or — if the body matches
// the structured-clarifier schema — returns a clarifier form for the caller
// to render as a modal with wired submit/cancel batches.
func (r *Router) dispatchIntent(ctx context.Context, call *Call) (*Result, error) {
	if form, ok := IsClarifier(call.Body); ok {
		r.emit(ctx, "api_call", map[string]any{"scheme": "uicp", "path": "intent", "clarifier": true})
		return &Result{OK: true, Data: form}, nil
	}

	var payload IntentPayload
	if err := json.Unmarshal(call.Body, &payload); err != nil {
		return nil, fmt.Errorf("apirouter: invalid intent payload: %w", err)
	}
	r.emit(ctx, "api_call", map[string]any{"scheme": "uicp", "path": "intent", "clarifier": false})
	return &Result{OK: true, Data: payload}, nil
}
