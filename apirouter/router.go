// Package apirouter implements api.call dispatch by URL scheme: compute
// jobs and intents over uicp://, sandboxed file writes over tauri://, and
// outbound http(s) requests gated by policy. An unknown scheme is a no-op
// success, reserved as a future extension point.
//
//	r := apirouter.New(apirouter.WithLogger(logger))
//	r.RegisterComputeBridge(bridge)
//	r.RegisterPolicy(gate)
//	r.RegisterTelemetry(bus)
//	result, err := r.Dispatch(ctx, call)
package apirouter

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/uicp/coreadapter/idgen"
)

// Router dispatches api.call requests to the handler registered for the
// request URL's scheme. Safe for concurrent use.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	policy   PolicyChecker
	bus      EventEmitter
	bridge   ComputeBridge
	state    StateStore
	logger   *slog.Logger
	sandbox  map[string]string // directory token -> absolute base path
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets a custom logger for the router.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// WithSandboxDirs registers the allow-listed base directories addressable
// by a directory token in tauri://fs/writeTextFile calls.
func WithSandboxDirs(dirs map[string]string) Option {
	return func(r *Router) {
		for k, v := range dirs {
			r.sandbox[k] = v
		}
	}
}

// New creates a Router with the built-in uicp://, tauri://, and http(s)://
// handlers wired in. Callers still need RegisterComputeBridge and, to allow
// non-localhost http(s) calls, RegisterPolicy.
func New(opts ...Option) *Router {
	r := &Router{
		handlers: make(map[string]Handler),
		sandbox:  make(map[string]string),
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	r.handlers["uicp"] = r.dispatchUICP
	r.handlers["tauri"] = r.dispatchTauri
	r.handlers["http"] = r.dispatchHTTP
	r.handlers["https"] = r.dispatchHTTP
	return r
}

// RegisterComputeBridge wires the backend that executes uicp://compute.call jobs.
func (r *Router) RegisterComputeBridge(b ComputeBridge) {
	r.mu.Lock()
	r.bridge = b
	r.mu.Unlock()
}

// RegisterPolicy wires the PolicyGate consulted for non-localhost http(s)
// dispatch. Without one, all outbound http(s) calls are denied.
func (r *Router) RegisterPolicy(p PolicyChecker) {
	r.mu.Lock()
	r.policy = p
	r.mu.Unlock()
}

// RegisterTelemetry wires the bus that receives api_call spans.
func (r *Router) RegisterTelemetry(b EventEmitter) {
	r.mu.Lock()
	r.bus = b
	r.mu.Unlock()
}

// RegisterStateStore wires the store Dispatch seeds and finalizes a Call's
// `into` sink against (§4.9). Without one, a Call with Into set dispatches
// normally but no sink is ever written.
func (r *Router) RegisterStateStore(s StateStore) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// Register overrides or adds a scheme handler. Exposed for tests and for
// hosts that want to extend the adapter with a private scheme.
func (r *Router) Register(scheme string, h Handler) {
	r.mu.Lock()
	r.handlers[strings.ToLower(scheme)] = h
	r.mu.Unlock()
}

// Dispatch resolves call.URL's scheme and runs the matching handler. An
// unrecognised scheme returns a successful no-op result rather than an
// error, per the adapter's forward-compatibility contract for api.call.
//
// If call.Into is set, Dispatch seeds that state key with
// {status:"loading", correlationId} before running the handler and
// finalizes it with {status:"ready", data|html, correlationId} on success
// or {status:"error", correlationId, error} otherwise (§4.9) — the `into`
// bookkeeping the routing table credits to ApiRouter, done once here rather
// than duplicated per scheme handler.
func (r *Router) Dispatch(ctx context.Context, call *Call) (*Result, error) {
	u, err := url.Parse(call.URL)
	if err != nil {
		return nil, fmt.Errorf("apirouter: invalid url %q: %w", call.URL, err)
	}
	scheme := strings.ToLower(u.Scheme)

	r.mu.RLock()
	h, ok := r.handlers[scheme]
	st := r.state
	r.mu.RUnlock()

	if !ok {
		r.logger.DebugContext(ctx, "api.call unknown scheme, no-op", "scheme", scheme, "url", call.URL)
		return &Result{OK: true}, nil
	}

	if call.Into != "" && st != nil {
		call.CorrelationID = idgen.New()
		if err := st.Set(ctx, "workspace", call.Into, map[string]any{
			"status": "loading", "correlationId": call.CorrelationID,
		}); err != nil {
			r.logger.WarnContext(ctx, "apirouter: failed to seed into sink", "key", call.Into, "error", err)
		}
	}

	result, err := h(ctx, call)

	if call.Into != "" && st != nil {
		r.finalizeInto(ctx, st, call, result, err)
	}
	return result, err
}

func (r *Router) finalizeInto(ctx context.Context, st StateStore, call *Call, result *Result, dispatchErr error) {
	sink := map[string]any{"correlationId": call.CorrelationID}
	switch {
	case dispatchErr != nil:
		sink["status"] = "error"
		sink["error"] = dispatchErr.Error()
	case result == nil || !result.OK:
		sink["status"] = "error"
		if result != nil {
			sink["error"] = result.ErrorCode
		}
	case result.HTML != "":
		sink["status"] = "ready"
		sink["html"] = result.HTML
	default:
		sink["status"] = "ready"
		if result != nil {
			sink["data"] = result.Data
		}
	}
	if err := st.Set(ctx, "workspace", call.Into, sink); err != nil {
		r.logger.WarnContext(ctx, "apirouter: failed to write into sink", "key", call.Into, "error", err)
	}
}

func (r *Router) emit(ctx context.Context, name string, attrs map[string]any) {
	r.mu.RLock()
	bus := r.bus
	r.mu.RUnlock()
	if bus != nil {
		bus.Emit(ctx, name, attrs)
	}
}
