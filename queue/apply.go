package queue

import (
	"context"
	"sync"

	"github.com/uicp/coreadapter/idgen"
	"github.com/uicp/coreadapter/schema"
)

// EnvelopeRunner applies one envelope's effect against the adapter's
// modules. Implemented by the orchestrator; declared here narrowly so
// queue doesn't import it.
type EnvelopeRunner interface {
	ApplyEnvelope(ctx context.Context, env schema.Envelope) error
}

// DuplicateLedger is the subset of cmdlog.DedupLedger applyBatch needs.
type DuplicateLedger interface {
	Seen(ctx context.Context, batchID, opsHash string) (bool, error)
	Record(ctx context.Context, batchID, opsHash string, applied bool) error
}

// EventEmitter is the subset of telemetry.Bus applyBatch uses.
type EventEmitter interface {
	Emit(ctx context.Context, name string, attrs map[string]any)
}

// Result is applyBatch's outcome (§4.10).
type Result struct {
	BatchID           string
	OpsHash           string
	Applied           int
	Failed            int
	SkippedDuplicates int
	Errors            []error
}

// ApplyOptions configures one applyBatch call.
type ApplyOptions struct {
	AllowPartial bool
}

// ApplyBatch is the adapter's sole public batch entry point (§4.10): it
// computes batchId/opsHash, short-circuits a replayed duplicate against
// ledger, and otherwise dispatches each envelope through dispatcher —
// preserving per-window FIFO order — before triggering checkpointer, if
// non-nil, with the batch's Result.
//
// A duplicate batch returns SkippedDuplicates = len(batch.Envelopes) and
// keeps the batch's original batchId untouched (invariant 1): the caller
// sees the same id it sent, just with nothing re-applied.
func ApplyBatch(
	ctx context.Context,
	dispatcher *Dispatcher,
	checkpointer *Checkpointer,
	ledger DuplicateLedger,
	runner EnvelopeRunner,
	bus EventEmitter,
	batch schema.Batch,
	opts ApplyOptions,
) (*Result, error) {
	opsHash, err := schema.ComputeBatchHash(batch.Envelopes)
	if err != nil {
		return nil, err
	}

	batchID := batch.BatchID
	if batchID == "" {
		batchID = idgen.New()
	}

	if ledger != nil {
		dup, err := ledger.Seen(ctx, batchID, opsHash)
		if err != nil {
			return nil, err
		}
		if dup {
			emitDuplicateSkipped(ctx, bus, batch.Envelopes, batchID)
			return &Result{
				BatchID:           batchID,
				OpsHash:           opsHash,
				SkippedDuplicates: len(batch.Envelopes),
			}, nil
		}
	}

	res := &Result{BatchID: batchID, OpsHash: opsHash, Errors: make([]error, len(batch.Envelopes))}

	var mu sync.Mutex
	aborted := make(map[string]bool) // per-partition abort, only consulted when !AllowPartial
	var wg sync.WaitGroup

	for i, env := range batch.Envelopes {
		i, env := i, env
		wg.Add(1)
		dispatcher.Submit(ctx, Job{
			WindowID:       env.WindowID,
			IdempotencyKey: env.IdempotencyKey,
			DOMTouching:    schema.DomOps[env.Op],
			Run: func(ctx context.Context) error {
				defer wg.Done()

				mu.Lock()
				skip := !opts.AllowPartial && aborted[env.PartitionKey()]
				mu.Unlock()
				if skip {
					return nil
				}

				runErr := runner.ApplyEnvelope(ctx, env)

				mu.Lock()
				if runErr != nil {
					res.Errors[i] = runErr
					res.Failed++
					if !opts.AllowPartial {
						aborted[env.PartitionKey()] = true
					}
				} else {
					res.Applied++
				}
				mu.Unlock()
				return runErr
			},
		})
	}

	wg.Wait()

	// Per §4.10, a dedupe entry is only recorded "on success with at least
	// one op applied" — the same gate the checkpoint trigger uses below.
	// A batch that applies nothing (every op denied/invalid, or an empty
	// batch) must stay unrecorded so a corrected retry of the identical
	// (batchId, opsHash) pair isn't swallowed as a duplicate by Seen.
	if ledger != nil && res.Applied > 0 {
		if err := ledger.Record(ctx, batchID, opsHash, res.Failed == 0); err != nil {
			return res, err
		}
	}

	if checkpointer != nil && res.Applied > 0 {
		checkpointer.Trigger(ctx, res)
	}

	return res, nil
}

// emitDuplicateSkipped emits one batch_duplicate_skipped event per distinct
// traceId represented in the batch, not one per envelope, so a UI surfacing
// these events doesn't get spammed for a 50-op duplicate batch.
func emitDuplicateSkipped(ctx context.Context, bus EventEmitter, envelopes []schema.Envelope, batchID string) {
	if bus == nil {
		return
	}
	seen := make(map[string]bool)
	for _, e := range envelopes {
		trace := e.TraceID
		if seen[trace] {
			continue
		}
		seen[trace] = true
		bus.Emit(ctx, "batch_duplicate_skipped", map[string]any{
			"batchId": batchID,
			"traceId": trace,
		})
	}
}
