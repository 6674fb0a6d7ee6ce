package orchestrator

import (
	"context"
	"log/slog"
	"sync"

	"github.com/uicp/coreadapter/apirouter"
	"github.com/uicp/coreadapter/cmdlog"
	"github.com/uicp/coreadapter/component"
	"github.com/uicp/coreadapter/domapply"
	"github.com/uicp/coreadapter/policy"
	"github.com/uicp/coreadapter/queue"
	"github.com/uicp/coreadapter/schema"
	"github.com/uicp/coreadapter/state"
	"github.com/uicp/coreadapter/telemetry"
	"github.com/uicp/coreadapter/windowmgr"
)

// pendingBatch is one applyBatch call that arrived before the workspace
// root registered (§4.11 step 1). done carries the eventual outcome back
// to the blocked caller once RegisterWorkspace drains the queue.
type pendingBatch struct {
	batch schema.Batch
	opts  Options
	done  chan batchResult
}

type batchResult struct {
	outcome *ApplyOutcome
	err     error
}

// AdapterContext is the single long-lived value encapsulating every module
// instance and the pending-batch queue, constructed explicitly per §9's
// design note rather than as package-level globals — tests build a fresh
// one per case the way the teacher's `connectivity.Router` is constructed
// per test rather than shared.
type AdapterContext struct {
	Windows    *windowmgr.Mgr
	Dom        *domapply.Applier
	Components *component.Renderer
	State      *state.Store
	Api        *apirouter.Router
	Policy     *policy.Gate
	Commands   *cmdlog.CommandLog
	Dedup      *cmdlog.DedupLedger
	Queue      *queue.Dispatcher
	Checkpoint *queue.Checkpointer
	Bus        *telemetry.Bus
	logger     *slog.Logger

	mu      sync.Mutex
	ready   bool
	pending []*pendingBatch
}

// Option configures an AdapterContext.
type Option func(*AdapterContext)

func WithLogger(l *slog.Logger) Option { return func(c *AdapterContext) { c.logger = l } }

// New wires together the modules a host has already constructed. The
// workspace starts unregistered (ready=false); call RegisterWorkspace once
// the host's persistent store is available.
func New(
	windows *windowmgr.Mgr,
	dom *domapply.Applier,
	components *component.Renderer,
	st *state.Store,
	api *apirouter.Router,
	pol *policy.Gate,
	commands *cmdlog.CommandLog,
	dedup *cmdlog.DedupLedger,
	dispatcher *queue.Dispatcher,
	checkpointer *queue.Checkpointer,
	bus *telemetry.Bus,
	opts ...Option,
) *AdapterContext {
	c := &AdapterContext{
		Windows:    windows,
		Dom:        dom,
		Components: components,
		State:      st,
		Api:        api,
		Policy:     pol,
		Commands:   commands,
		Dedup:      dedup,
		Queue:      dispatcher,
		Checkpoint: checkpointer,
		Bus:        bus,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}

	// ApiRouter's policy/telemetry hooks are mutable setters rather than
	// constructor options (apirouter.Router predates policy.Gate/
	// telemetry.Bus in the dependency graph, so it can't take them as
	// typed constructor args without an import cycle). Wiring them here
	// means a caller only has to pass pol/bus once, to orchestrator.New,
	// instead of separately to apirouter.New and here.
	if api != nil && pol != nil {
		api.RegisterPolicy(pol)
	}
	if api != nil && bus != nil {
		api.RegisterTelemetry(bus)
	}

	return c
}

// RegisterWorkspace marks the workspace root ready and drains every batch
// queued before now, in arrival order, exactly as spec.md §4.11 step 1
// requires. Draining runs synchronously on the calling goroutine; a caller
// that wants this off the hot path should run RegisterWorkspace itself in
// a goroutine.
func (c *AdapterContext) RegisterWorkspace(ctx context.Context) {
	c.mu.Lock()
	c.ready = true
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, p := range pending {
		outcome, err := c.applyBatchNow(ctx, p.batch, p.opts)
		p.done <- batchResult{outcome: outcome, err: err}
		close(p.done)
	}
}
