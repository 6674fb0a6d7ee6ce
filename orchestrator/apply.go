package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/uicp/coreadapter/queue"
	"github.com/uicp/coreadapter/schema"
)

// ApplyOutcome is applyBatch's return value (§3).
type ApplyOutcome struct {
	Success           bool     `json:"success"`
	Applied           int      `json:"applied"`
	SkippedDuplicates int      `json:"skippedDuplicates"`
	DeniedByPolicy    int      `json:"deniedByPolicy"`
	Errors            []string `json:"errors"`
	BatchID           string   `json:"batchId"`
	OpsHash           string   `json:"opsHash"`
}

// Options is applyBatch's opts (§4.10/§4.11).
type Options struct {
	RunID        string
	AllowPartial bool
}

// ApplyBatch is the sole public entry point (§4.11). If the workspace root
// has not yet registered, the call is queued and blocks until
// RegisterWorkspace drains it, preserving arrival order (step 1); once
// ready, batches run immediately.
func (c *AdapterContext) ApplyBatch(ctx context.Context, batch schema.Batch, opts Options) (*ApplyOutcome, error) {
	c.mu.Lock()
	ready := c.ready
	if !ready {
		p := &pendingBatch{batch: batch, opts: opts, done: make(chan batchResult, 1)}
		c.pending = append(c.pending, p)
		c.mu.Unlock()

		select {
		case res := <-p.done:
			return res.outcome, res.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	c.mu.Unlock()

	return c.applyBatchNow(ctx, batch, opts)
}

func (c *AdapterContext) applyBatchNow(ctx context.Context, batch schema.Batch, opts Options) (*ApplyOutcome, error) {
	if err := schema.ValidateBatch(batch); err != nil {
		return nil, newAdapterError(ErrValidationFailed, "applyBatch", err.Error(), err)
	}

	var span func()
	if c.Bus != nil {
		ctx, span = c.Bus.StartSpan(ctx, "apply_batch", map[string]any{
			"runId":   opts.RunID,
			"batchId": batch.BatchID,
		})
		defer span()
		c.Bus.Emit(ctx, "apply_start", map[string]any{
			"runId": opts.RunID, "batchId": batch.BatchID,
		})
	}

	res, err := queue.ApplyBatch(ctx, c.Queue, nil, c.dedupAdapter(), c, c.busAdapter(), batch, queue.ApplyOptions{AllowPartial: opts.AllowPartial})
	if err != nil {
		return nil, err
	}
	// The checkpoint digest covers the full state store contents.
	if c.Checkpoint != nil && c.State != nil && res.Applied > 0 {
		c.Checkpoint.Trigger(ctx, c.State.Snapshot())
	}

	outcome := &ApplyOutcome{
		BatchID:           res.BatchID,
		OpsHash:           res.OpsHash,
		Applied:           res.Applied,
		SkippedDuplicates: res.SkippedDuplicates,
	}

	for i, e := range res.Errors {
		if e == nil {
			continue
		}
		var ae *AdapterError
		if errors.As(e, &ae) && ae.Code == ErrPermissionDenied {
			outcome.DeniedByPolicy++
		}
		op := "?"
		if i < len(batch.Envelopes) {
			op = string(batch.Envelopes[i].Op)
		}
		outcome.Errors = append(outcome.Errors, fmt.Sprintf("%s: %s", op, e.Error()))
	}
	outcome.Success = len(outcome.Errors) == 0

	if c.Bus != nil {
		c.Bus.Emit(ctx, "apply_end", map[string]any{
			"runId": opts.RunID, "batchId": outcome.BatchID,
			"applied": outcome.Applied, "skipped": outcome.SkippedDuplicates,
			"errors": len(outcome.Errors),
		})
	}

	return outcome, nil
}

// dedupAdapter exposes Dedup as queue.DuplicateLedger, or nil when no
// ledger is wired (e.g. an in-memory-only test harness). A plain `return
// c.Dedup` against a nil *cmdlog.DedupLedger would wrap a non-nil interface
// around a nil pointer, so the nil check has to happen before the typed
// value is boxed into the interface.
func (c *AdapterContext) dedupAdapter() queue.DuplicateLedger {
	if c.Dedup == nil {
		return nil
	}
	return c.Dedup
}

// busAdapter is dedupAdapter's counterpart for Bus, guarding against the
// same nil-typed-pointer-in-interface trap.
func (c *AdapterContext) busAdapter() queue.EventEmitter {
	if c.Bus == nil {
		return nil
	}
	return c.Bus
}
