package cmdlog

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/uicp/coreadapter/dbopen"
	"github.com/uicp/coreadapter/schema"
)

type fakeApplier struct {
	applied []schema.Envelope
	fail    map[string]bool
}

func (f *fakeApplier) Apply(ctx context.Context, env schema.Envelope, runID string) error {
	if f.fail[env.ID] {
		return errBoom
	}
	f.applied = append(f.applied, env)
	return nil
}

var errBoom = &testError{"boom"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

func newLog(t *testing.T) *CommandLog {
	t.Helper()
	db := dbopen.OpenMemory(t)
	c := New(db)
	if err := c.EnsureSchema(context.Background()); err != nil {
		t.Fatal(err)
	}
	return c
}

func env(id string, op schema.Op, windowID string, params map[string]any) schema.Envelope {
	b, _ := json.Marshal(params)
	return schema.Envelope{ID: id, Op: op, WindowID: windowID, Params: b}
}

func TestPersist_SkipsEphemeralOps(t *testing.T) {
	c := newLog(t)
	ctx := context.Background()
	c.Persist(ctx, env("e1", schema.OpStateGet, "w1", map[string]any{"key": "k"}))

	applier := &fakeApplier{}
	n, err := c.ReplayAll(ctx, applier)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("expected ephemeral op to not be persisted, replayed %d", n)
	}
}

func TestPersist_UpsertsByIdempotencyKey(t *testing.T) {
	c := newLog(t)
	ctx := context.Background()
	e := schema.Envelope{IdempotencyKey: "k1", Op: schema.OpWindowCreate, WindowID: "w1", Params: json.RawMessage(`{"id":"w1"}`)}
	c.Persist(ctx, e)
	e.Params = json.RawMessage(`{"id":"w1","title":"Updated"}`)
	c.Persist(ctx, e)

	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM command_log`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected a single row for the same idempotency key, got %d", n)
	}
}

func TestReplayAll_PreservesOrderAndDedupesIdenticalContent(t *testing.T) {
	c := newLog(t)
	ctx := context.Background()

	c.Persist(ctx, env("a", schema.OpWindowCreate, "w1", map[string]any{"id": "w1"}))
	c.Persist(ctx, env("b", schema.OpWindowCreate, "w2", map[string]any{"id": "w2"}))
	// Same (tool, canonical args) as "a" under a different id — should collapse.
	c.Persist(ctx, env("c", schema.OpWindowCreate, "w1", map[string]any{"id": "w1"}))

	applier := &fakeApplier{}
	n, err := c.ReplayAll(ctx, applier)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected 2 replayed commands after dedupe, got %d", n)
	}
	if len(applier.applied) != 2 || applier.applied[0].ID != "a" || applier.applied[1].ID != "b" {
		t.Fatalf("expected original insertion order preserved, got %+v", applier.applied)
	}
}

func TestReplayAll_ContinuesPastApplyFailures(t *testing.T) {
	c := newLog(t)
	ctx := context.Background()
	c.Persist(ctx, env("a", schema.OpWindowCreate, "w1", map[string]any{"id": "w1"}))
	c.Persist(ctx, env("b", schema.OpWindowCreate, "w2", map[string]any{"id": "w2"}))

	applier := &fakeApplier{fail: map[string]bool{"a": true}}
	n, err := c.ReplayAll(ctx, applier)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 || len(applier.applied) != 1 || applier.applied[0].ID != "b" {
		t.Fatalf("expected replay to skip the failing row and continue, got n=%d applied=%+v", n, applier.applied)
	}
}

func TestClear_ScopesToWindowWhenGiven(t *testing.T) {
	c := newLog(t)
	ctx := context.Background()
	c.Persist(ctx, env("a", schema.OpWindowCreate, "w1", map[string]any{"id": "w1"}))
	c.Persist(ctx, env("b", schema.OpWindowCreate, "w2", map[string]any{"id": "w2"}))

	if err := c.Clear(ctx, "w1"); err != nil {
		t.Fatal(err)
	}
	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM command_log`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected only w1's row removed, got %d remaining", n)
	}
}
