package apirouter

import (
	"context"
	"encoding/json"
)

// Call is the normalized request an api.call envelope resolves to before
// scheme dispatch. Fields not relevant to a given scheme are left zero.
type Call struct {
	URL            string
	Method         string
	Body           json.RawMessage
	Headers        map[string]string
	Into           string // state key seeded with {status, correlationId} and later the result
	CorrelationID  string // set by Dispatch once Into is non-empty; handlers reuse it instead of minting their own
	WindowID       string
	DirectoryToken string // allow-listed base directory key for fs writes
	Path           string // path relative to the resolved base directory
	Contents       string
}

// Result is what a scheme Handler produces. Exactly one of Data or HTML is
// set on success; ErrorCode is set on a handled (non-exceptional) failure
// such as a sandbox violation.
type Result struct {
	OK             bool
	Data           any
	HTML           string
	CorrelationID  string
	ErrorCode      string
	StatusCode     int
	DurationMillis int64
}

// Handler dispatches a single Call for one URL scheme.
type Handler func(ctx context.Context, call *Call) (*Result, error)

// HandlerMiddleware wraps a Handler with cross-cutting behaviour.
type HandlerMiddleware func(next Handler) Handler

// PolicyChecker is the subset of policy.Gate that ApiRouter needs to decide
// whether a non-localhost http(s) call may proceed. Declared
// here rather than imported so apirouter has no compile-time dependency on
// the policy package's persistence concerns.
type PolicyChecker interface {
	Allow(ctx context.Context, scope, target string) (bool, error)
}

// EventEmitter is the subset of telemetry.Bus that ApiRouter needs to emit
// api_call spans.
type EventEmitter interface {
	Emit(ctx context.Context, name string, attrs map[string]any)
}

// StateStore is the subset of state.Store ApiRouter needs to seed and
// finalize a Call's `into` sink. Declared locally, not imported, so
// apirouter has no compile-time dependency on state's patch/watch
// internals — the same narrow-interface pattern as PolicyChecker and
// ComputeBridge above.
type StateStore interface {
	Set(ctx context.Context, scope, key string, value any) error
}

// JobSpec is the body shape required for uicp://compute.call.
type JobSpec struct {
	JobID     string          `json:"jobId,omitempty"`
	Task      string          `json:"task"`
	Input     json.RawMessage `json:"input,omitempty"`
	TimeoutMs int64           `json:"timeoutMs,omitempty"`
	Cache     bool            `json:"cache,omitempty"`
}

// ComputeBridge runs a JobSpec and streams status events back through
// onEvent: a "ready" event carries the result payload, an "error" event
// marks the job as failed.
type ComputeBridge interface {
	Submit(ctx context.Context, spec JobSpec, onEvent func(status string, data any)) error
}

// ClarifierForm is the structured-clarifier schema recognised by uicp://intent
// (§4.9/S6). A body matching this shape renders a modal instead of emitting
// a plain intent event; submitOp is an optional override for what op the
// modal's submit button re-issues (default: another uicp://intent call).
type ClarifierForm struct {
	Title      string            `json:"title"`
	TextPrompt string            `json:"textPrompt,omitempty"`
	Fields     []ClarifierField  `json:"fields"`
	Submit     string            `json:"submit,omitempty"`
	CancelText string            `json:"cancelText,omitempty"`
	SubmitOp   string            `json:"submitOp,omitempty"`
	Meta       map[string]string `json:"meta,omitempty"`
}

// ClarifierField is one input in a ClarifierForm.
type ClarifierField struct {
	Name     string `json:"name"`
	Label    string `json:"label"`
	Type     string `json:"type,omitempty"` // "text", "select", "checkbox"
	Required bool   `json:"required,omitempty"`
}

// IsClarifier reports whether raw body matches the ClarifierForm shape:
// present, non-empty title, and at least one field. submitOp is optional
// (S6's literal scenario body carries none) so its absence alone must not
// disqualify an otherwise well-formed clarifier body.
func IsClarifier(body json.RawMessage) (ClarifierForm, bool) {
	var form ClarifierForm
	if len(body) == 0 {
		return form, false
	}
	if err := json.Unmarshal(body, &form); err != nil {
		return form, false
	}
	if form.Title == "" || len(form.Fields) == 0 {
		return form, false
	}
	return form, true
}
