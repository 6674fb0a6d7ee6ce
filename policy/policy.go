// Package policy implements PolicyGate: the capability evaluator the
// orchestrator consults before every window/dom/component mutation and
// that ApiRouter consults before a non-localhost http(s) call.
//
// Evaluation follows github.com/hazyhaar/pkg/mcprt's DBPolicy shape (rule
// lookup, deny wins, absence of a matching allow rule denies) but inverts
// the default: mcprt.DBPolicy defaults to allow when no rule exists,
// because an MCP tool registry is opt-out; this gate defaults to deny,
// because a freshly launched workspace has granted nothing yet.
package policy

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/uicp/coreadapter/schema"
)

// Decision is the outcome of a policy evaluation or a stored grant.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionDeny  Decision = "deny"
)

// Duration controls how long a Decision is retained.
type Duration string

const (
	// DurationSession keeps the decision in memory only, for the life of
	// the process.
	DurationSession Duration = "session"
	// DurationForever persists the decision to the policy file.
	DurationForever Duration = "forever"
	// DurationOnce is applied to the current call only and never recorded.
	DurationOnce Duration = "once"
)

// Scope categorizes an operation for the window/dom/components branch of
// Require. api.call targets are resolved separately by Allow, keyed by
// method+origin rather than by op.
type Scope string

const (
	ScopeWindow     Scope = "window"
	ScopeDOM        Scope = "dom"
	ScopeComponents Scope = "components"
)

// Record is one stored grant, matching the on-disk policy file shape in
// spec §6: {decision, duration?, pathPrefix?, createdAt, sessionOnly?}.
type Record struct {
	Decision    Decision `json:"decision"`
	Duration    Duration `json:"duration,omitempty"`
	PathPrefix  string   `json:"pathPrefix,omitempty"`
	CreatedAt   int64    `json:"createdAt,omitempty"`
	SessionOnly bool     `json:"sessionOnly,omitempty"`
}

// PromptFunc is the host-installed UI modal hook asked to resolve a policy
// key interactively. A nil PromptFunc means "no UI handler installed" —
// Require/Allow then fall through to the default-deny rule (§4.3).
type PromptFunc func(ctx context.Context, key string) (Decision, Duration)

// EventEmitter is the subset of telemetry.Bus PolicyGate needs to report
// permissions_{allow,deny,prompt} events.
type EventEmitter interface {
	Emit(ctx context.Context, name string, attrs map[string]any)
}

// nowFunc is overridable in tests that need deterministic CreatedAt values.
var nowFunc = func() int64 { return time.Now().UnixMilli() }

// Gate is the PolicyGate. It holds a session (in-memory only) map and a
// persistent (file-backed) map; a write to the persistent map updates the
// in-memory map first and is then saved to disk, per §5's
// "cache → disk" write ordering.
type Gate struct {
	mu         sync.RWMutex
	session    map[string]Record
	persistent map[string]Record

	store  *fileStore
	prompt PromptFunc
	bus    EventEmitter
	logger *slog.Logger
}

// Option configures a Gate.
type Option func(*Gate)

// WithPolicyFile points the Gate at a JSON policy file on disk, loaded
// immediately and written back to on every DurationForever decision.
func WithPolicyFile(path string) Option {
	return func(g *Gate) { g.store = newFileStore(path) }
}

// WithPrompt installs the host's interactive decision handler.
func WithPrompt(fn PromptFunc) Option {
	return func(g *Gate) { g.prompt = fn }
}

// WithTelemetry wires permissions_* event emission.
func WithTelemetry(bus EventEmitter) Option {
	return func(g *Gate) { g.bus = bus }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

// New constructs a Gate. If WithPolicyFile is given, the file is loaded
// (including legacy-format migration) before New returns.
func New(opts ...Option) *Gate {
	g := &Gate{
		session:    make(map[string]Record),
		persistent: make(map[string]Record),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.store != nil {
		if m, err := g.store.load(); err != nil {
			g.logger.Warn("policy: failed to load policy file", "error", err, "path", g.store.path)
		} else {
			g.persistent = m
		}
	}
	return g
}

// RequireScope evaluates an op's scope. Window and components scopes are
// always allowed. Every other op (dom.*, state.*, api.call, txn.cancel)
// falls into the DOM scope, which allows it unless it is dom.set/replace/
// append and params carries `"sanitize": false`.
func (g *Gate) RequireScope(ctx context.Context, op schema.Op, sanitizeFalse bool) bool {
	scope := scopeForOp(op)
	allowed := true
	if scope == ScopeDOM && schema.DomOps[op] && sanitizeFalse {
		allowed = false
	}
	g.emitDecision(ctx, allowed, string(scope), string(op), "rule")
	return allowed
}

func scopeForOp(op schema.Op) Scope {
	switch op {
	case schema.OpWindowCreate, schema.OpWindowUpdate, schema.OpWindowMove,
		schema.OpWindowResize, schema.OpWindowFocus, schema.OpWindowClose:
		return ScopeWindow
	case schema.OpComponentRender, schema.OpComponentUpdate, schema.OpComponentDestroy:
		return ScopeComponents
	case schema.OpDomSet, schema.OpDomReplace, schema.OpDomAppend:
		return ScopeDOM
	default:
		return ScopeDOM
	}
}

// Allow resolves a URL-keyed capability, implementing apirouter.PolicyChecker.
// scope is a dotted capability family ("api.call.http", "api.call.compute",
// "media.*"); target is family-specific — for api.call.http it is
// "METHOD URL". Lookup order: session → persistent → prompt → default deny.
func (g *Gate) Allow(ctx context.Context, scope, target string) (bool, error) {
	key, pathname := buildKey(scope, target)

	g.mu.RLock()
	if rec, ok := g.session[key]; ok {
		g.mu.RUnlock()
		allowed := g.matchesPrefix(rec, pathname) && rec.Decision == DecisionAllow
		g.emitDecision(ctx, allowed, scope, target, "session")
		return allowed, nil
	}
	if rec, ok := g.persistent[key]; ok {
		g.mu.RUnlock()
		allowed := g.matchesPrefix(rec, pathname) && rec.Decision == DecisionAllow
		g.emitDecision(ctx, allowed, scope, target, "persistent")
		return allowed, nil
	}
	g.mu.RUnlock()

	if g.prompt != nil {
		g.emit(ctx, "permissions_prompt", map[string]any{"scope": scope, "target": target, "key": key})
		decision, duration := g.prompt(ctx, key)
		g.record(key, Record{Decision: decision, Duration: duration, CreatedAt: nowFunc()})
		allowed := decision == DecisionAllow
		g.emitDecision(ctx, allowed, scope, target, "prompt")
		return allowed, nil
	}

	// No UI handler installed: default deny, per §4.3.
	g.emitDecision(ctx, false, scope, target, "default")
	return false, nil
}

// matchesPrefix enforces a stored PathPrefix restriction, if any.
func (g *Gate) matchesPrefix(rec Record, pathname string) bool {
	if rec.PathPrefix == "" {
		return true
	}
	return len(pathname) >= len(rec.PathPrefix) && pathname[:len(rec.PathPrefix)] == rec.PathPrefix
}

// record stores a decision per its Duration: session keeps it in memory
// only; forever persists to disk; once is never recorded.
func (g *Gate) record(key string, rec Record) {
	switch rec.Duration {
	case DurationForever:
		g.mu.Lock()
		g.persistent[key] = rec
		snapshot := cloneRecords(g.persistent)
		g.mu.Unlock()
		if g.store != nil {
			if err := g.store.save(snapshot); err != nil {
				g.logger.Warn("policy: failed to persist decision", "error", err, "key", key)
			}
		}
	case DurationSession:
		g.mu.Lock()
		g.session[key] = rec
		g.mu.Unlock()
	case DurationOnce:
		// never recorded
	default:
		// unspecified duration on an explicit record defaults to session,
		// matching the conservative reading of §4.3 ("duration = session
		// → record in memory only").
		g.mu.Lock()
		g.session[key] = rec
		g.mu.Unlock()
	}
}

// Grant records an explicit decision for key, as if it came from a prompt
// response. Used by hosts that resolve permissions out-of-band (e.g. a
// settings screen) rather than through PromptFunc.
func (g *Gate) Grant(scope, target string, decision Decision, duration Duration, pathPrefix string) {
	key, _ := buildKey(scope, target)
	g.record(key, Record{Decision: decision, Duration: duration, PathPrefix: pathPrefix, CreatedAt: nowFunc()})
}

func (g *Gate) emitDecision(ctx context.Context, allowed bool, scope, target, source string) {
	name := "permissions_deny"
	if allowed {
		name = "permissions_allow"
	}
	g.emit(ctx, name, map[string]any{"scope": scope, "target": target, "source": source})
}

func (g *Gate) emit(ctx context.Context, name string, attrs map[string]any) {
	if g.bus == nil {
		return
	}
	g.bus.Emit(ctx, name, attrs)
}

func cloneRecords(m map[string]Record) map[string]Record {
	out := make(map[string]Record, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
