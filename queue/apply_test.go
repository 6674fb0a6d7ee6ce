package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/uicp/coreadapter/schema"
)

type fakeLedger struct {
	mu       sync.Mutex
	seenIDs  map[string]bool
	recorded []string
}

func newFakeLedger() *fakeLedger { return &fakeLedger{seenIDs: make(map[string]bool)} }

func (f *fakeLedger) Seen(ctx context.Context, batchID, opsHash string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seenIDs[batchID] || f.seenIDs[opsHash], nil
}

func (f *fakeLedger) Record(ctx context.Context, batchID, opsHash string, applied bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seenIDs[batchID] = true
	f.seenIDs[opsHash] = true
	f.recorded = append(f.recorded, batchID)
	return nil
}

type recordingRunner struct {
	mu      sync.Mutex
	applied []string
	failIDs map[string]bool
}

func (r *recordingRunner) ApplyEnvelope(ctx context.Context, env schema.Envelope) error {
	if r.failIDs[env.ID] {
		return errors.New("boom: " + env.ID)
	}
	r.mu.Lock()
	r.applied = append(r.applied, env.ID)
	r.mu.Unlock()
	return nil
}

type recordingBus struct {
	mu     sync.Mutex
	events []string
}

func (b *recordingBus) Emit(ctx context.Context, name string, attrs map[string]any) {
	b.mu.Lock()
	b.events = append(b.events, name)
	b.mu.Unlock()
}

func mkEnvelope(id, windowID string) schema.Envelope {
	p, _ := json.Marshal(map[string]any{"id": id})
	return schema.Envelope{ID: id, Op: schema.OpWindowCreate, WindowID: windowID, Params: p, TraceID: "t-" + id}
}

func TestApplyBatch_DispatchesAllEnvelopes(t *testing.T) {
	ctx := context.Background()
	d := NewDispatcher(ctx)
	defer d.Stop()
	runner := &recordingRunner{failIDs: map[string]bool{}}
	ledger := newFakeLedger()

	batch := schema.Batch{BatchID: "b1", Envelopes: []schema.Envelope{mkEnvelope("e1", "w1"), mkEnvelope("e2", "w2")}}
	res, err := ApplyBatch(ctx, d, nil, ledger, runner, nil, batch, ApplyOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Applied != 2 || res.Failed != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(ledger.recorded) != 1 || ledger.recorded[0] != "b1" {
		t.Fatalf("expected the batch recorded once, got %v", ledger.recorded)
	}
}

func TestApplyBatch_DuplicateSkipsDispatchEntirely(t *testing.T) {
	ctx := context.Background()
	d := NewDispatcher(ctx)
	defer d.Stop()
	runner := &recordingRunner{failIDs: map[string]bool{}}
	ledger := newFakeLedger()
	ledger.seenIDs["b1"] = true
	bus := &recordingBus{}

	batch := schema.Batch{BatchID: "b1", Envelopes: []schema.Envelope{mkEnvelope("e1", "w1")}}
	res, err := ApplyBatch(ctx, d, nil, ledger, runner, bus, batch, ApplyOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if res.SkippedDuplicates != 1 {
		t.Fatalf("expected 1 skipped duplicate, got %d", res.SkippedDuplicates)
	}
	if res.BatchID != "b1" {
		t.Fatalf("expected original batchId preserved, got %s", res.BatchID)
	}
	if len(runner.applied) != 0 {
		t.Fatal("expected a duplicate batch to never reach the runner")
	}
	if len(bus.events) != 1 || bus.events[0] != "batch_duplicate_skipped" {
		t.Fatalf("expected one batch_duplicate_skipped event, got %v", bus.events)
	}
}

func TestApplyBatch_WithoutAllowPartialAbortsRestOfFailingPartition(t *testing.T) {
	ctx := context.Background()
	d := NewDispatcher(ctx)
	defer d.Stop()
	runner := &recordingRunner{failIDs: map[string]bool{"e1": true}}
	ledger := newFakeLedger()

	batch := schema.Batch{
		BatchID: "b2",
		Envelopes: []schema.Envelope{
			mkEnvelope("e1", "w1"),
			mkEnvelope("e2", "w1"),
		},
		AllowPartial: false,
	}
	res, err := ApplyBatch(ctx, d, nil, ledger, runner, nil, batch, ApplyOptions{AllowPartial: false})
	if err != nil {
		t.Fatal(err)
	}
	if res.Failed != 1 {
		t.Fatalf("expected 1 failure, got %+v", res)
	}
	if len(runner.applied) != 0 {
		t.Fatalf("expected the second same-window envelope to be skipped after the abort, got %v", runner.applied)
	}
}

func TestApplyBatch_TotalFailureIsNotRecordedAndRetrySucceeds(t *testing.T) {
	ctx := context.Background()
	d := NewDispatcher(ctx)
	defer d.Stop()
	ledger := newFakeLedger()

	batch := schema.Batch{
		BatchID:      "b4",
		Envelopes:    []schema.Envelope{mkEnvelope("e1", "w1")},
		AllowPartial: true,
	}

	failingRunner := &recordingRunner{failIDs: map[string]bool{"e1": true}}
	res, err := ApplyBatch(ctx, d, nil, ledger, failingRunner, nil, batch, ApplyOptions{AllowPartial: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.Applied != 0 || res.Failed != 1 {
		t.Fatalf("unexpected first-attempt result: %+v", res)
	}
	if len(ledger.recorded) != 0 {
		t.Fatalf("expected a fully-failed batch to not be recorded, got %v", ledger.recorded)
	}

	// Retry the identical (batchId, opsHash) after whatever caused every op
	// to fail is fixed — it must actually re-dispatch, not be swallowed as
	// a duplicate.
	succeedingRunner := &recordingRunner{failIDs: map[string]bool{}}
	res2, err := ApplyBatch(ctx, d, nil, ledger, succeedingRunner, nil, batch, ApplyOptions{AllowPartial: true})
	if err != nil {
		t.Fatal(err)
	}
	if res2.SkippedDuplicates != 0 {
		t.Fatalf("expected the retry to actually run, got %d skipped", res2.SkippedDuplicates)
	}
	if res2.Applied != 1 || res2.Failed != 0 {
		t.Fatalf("unexpected retry result: %+v", res2)
	}
	if len(succeedingRunner.applied) != 1 {
		t.Fatalf("expected the retry to reach the runner, got %v", succeedingRunner.applied)
	}
	if len(ledger.recorded) != 1 {
		t.Fatalf("expected the successful retry to be recorded, got %v", ledger.recorded)
	}
}

func TestApplyBatch_EmptyBatchIsNotRecorded(t *testing.T) {
	ctx := context.Background()
	d := NewDispatcher(ctx)
	defer d.Stop()
	runner := &recordingRunner{failIDs: map[string]bool{}}
	ledger := newFakeLedger()

	batch := schema.Batch{BatchID: "b5", Envelopes: nil}
	res, err := ApplyBatch(ctx, d, nil, ledger, runner, nil, batch, ApplyOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Applied != 0 {
		t.Fatalf("expected no applied ops, got %+v", res)
	}
	if len(ledger.recorded) != 0 {
		t.Fatalf("expected an empty batch to not be recorded, got %v", ledger.recorded)
	}
}

func TestApplyBatch_AllowPartialRunsEveryEnvelopeRegardless(t *testing.T) {
	ctx := context.Background()
	d := NewDispatcher(ctx)
	defer d.Stop()
	runner := &recordingRunner{failIDs: map[string]bool{"e1": true}}
	ledger := newFakeLedger()

	batch := schema.Batch{
		BatchID:      "b3",
		Envelopes:    []schema.Envelope{mkEnvelope("e1", "w1"), mkEnvelope("e2", "w1")},
		AllowPartial: true,
	}
	res, err := ApplyBatch(ctx, d, nil, ledger, runner, nil, batch, ApplyOptions{AllowPartial: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.Applied != 1 || res.Failed != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(runner.applied) != 1 || runner.applied[0] != "e2" {
		t.Fatalf("expected the second envelope to still run, got %v", runner.applied)
	}
}
