package state

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/uicp/coreadapter/domapply"
)

type fakeDomSink struct {
	calls []struct{ windowID, target, html string }
}

func (f *fakeDomSink) Apply(ctx context.Context, windowID, target, html string, mode domapply.Mode) (int, int, error) {
	f.calls = append(f.calls, struct{ windowID, target, html string }{windowID, target, html})
	return 1, 0, nil
}

type fakeProbe struct {
	slots []string
}

func (f *fakeProbe) Slots(ctx context.Context, windowID, target string) ([]string, error) {
	return f.slots, nil
}

func TestSet_WindowScopeRequiresWindowID(t *testing.T) {
	s := New()
	if err := s.Set(context.Background(), "window", "k", "v"); err == nil {
		t.Fatal("expected error for window scope without windowId")
	}
}

func TestSet_NoopWhenValueUnchanged(t *testing.T) {
	dom := &fakeDomSink{}
	s := New(WithDomSink(dom))
	ctx := context.Background()

	if err := s.Set(ctx, "workspace", "k", map[string]any{"a": 1}); err != nil {
		t.Fatal(err)
	}
	if err := s.Watch(ctx, "workspace", "k", "", "#root", "replace"); err != nil {
		t.Fatal(err)
	}
	calls := len(dom.calls)

	if err := s.Set(ctx, "workspace", "k", map[string]any{"a": 1}); err != nil {
		t.Fatal(err)
	}
	if len(dom.calls) != calls {
		t.Fatalf("expected no additional render for unchanged value, got %d new calls", len(dom.calls)-calls)
	}
}

// TestPatch_PreservesReferentialIdentityOfUntouchedBranches is the direct
// check for invariant 6 and scenario S5: patching one leaf must not
// reallocate sibling branches the mutation never walked through.
func TestPatch_PreservesReferentialIdentityOfUntouchedBranches(t *testing.T) {
	s := New()
	ctx := context.Background()

	sibling := map[string]any{"untouched": true}
	root := map[string]any{
		"a": map[string]any{"value": 1},
		"b": sibling,
	}
	if err := s.Set(ctx, "workspace", "root", root); err != nil {
		t.Fatal(err)
	}
	ek := entryKey{scope: ScopeWorkspace, key: "root"}
	beforeB := s.entries[ek].(map[string]any)["b"]

	applied, err := s.Patch(ctx, ScopeWorkspace, "root", "", PatchOp{Op: "set", Path: "a.value", Value: 2})
	if err != nil || !applied {
		t.Fatalf("unexpected patch: applied=%v err=%v", applied, err)
	}
	afterB := s.entries[ek].(map[string]any)["b"]
	if reflect.ValueOf(afterB).Pointer() != reflect.ValueOf(beforeB).Pointer() {
		t.Fatal("patch reallocated the untouched sibling branch")
	}

	got, ok, err := s.Get("workspace", "root", "")
	if err != nil || !ok {
		t.Fatalf("unexpected get: ok=%v err=%v", ok, err)
	}
	gotB := got.(map[string]any)["b"]
	gotBMap, ok := gotB.(map[string]any)
	if !ok {
		t.Fatalf("expected sibling branch to remain an object, got %T", gotB)
	}
	if gotBMap["untouched"] != true {
		t.Fatal("sibling branch lost its value across an unrelated patch")
	}
}

func TestPatch_NoopSetDoesNotNotify(t *testing.T) {
	dom := &fakeDomSink{}
	s := New(WithDomSink(dom))
	ctx := context.Background()

	if err := s.Set(ctx, "workspace", "root", map[string]any{"a": 1}); err != nil {
		t.Fatal(err)
	}
	if err := s.Watch(ctx, "workspace", "root", "", "#root", "replace"); err != nil {
		t.Fatal(err)
	}
	calls := len(dom.calls)

	applied, err := s.Patch(ctx, ScopeWorkspace, "root", "", PatchOp{Op: "set", Path: "a", Value: 1})
	if err != nil {
		t.Fatal(err)
	}
	if applied {
		t.Fatal("expected no-op patch to report applied=false")
	}
	if len(dom.calls) != calls {
		t.Fatalf("expected no render from a no-op patch, got %d new calls", len(dom.calls)-calls)
	}
}

func TestPatch_ToggleFlipsBoolean(t *testing.T) {
	s := New()
	ctx := context.Background()
	if err := s.Set(ctx, "workspace", "flag", map[string]any{"on": false}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Patch(ctx, ScopeWorkspace, "flag", "", PatchOp{Op: "toggle", Path: "on"}); err != nil {
		t.Fatal(err)
	}
	got, _, _ := s.Get("workspace", "flag", "")
	if got.(map[string]any)["on"] != true {
		t.Fatal("expected toggle to flip false to true")
	}
}

func TestPatch_SetIfNullSkipsExistingValue(t *testing.T) {
	s := New()
	ctx := context.Background()
	if err := s.Set(ctx, "workspace", "k", map[string]any{"v": "original"}); err != nil {
		t.Fatal(err)
	}
	applied, err := s.Patch(ctx, ScopeWorkspace, "k", "", PatchOp{Op: "setIfNull", Path: "v", Value: "new"})
	if err != nil {
		t.Fatal(err)
	}
	if applied {
		t.Fatal("expected setIfNull against a non-null leaf to be a no-op")
	}
	got, _, _ := s.Get("workspace", "k", "")
	if got.(map[string]any)["v"] != "original" {
		t.Fatal("setIfNull overwrote an existing value")
	}
}

func TestWatch_FiresImmediatelyOnSubscribe(t *testing.T) {
	dom := &fakeDomSink{}
	s := New(WithDomSink(dom))
	ctx := context.Background()
	if err := s.Set(ctx, "workspace", "k", "hello"); err != nil {
		t.Fatal(err)
	}
	if err := s.Watch(ctx, "workspace", "k", "", "#root", "replace"); err != nil {
		t.Fatal(err)
	}
	if len(dom.calls) != 1 {
		t.Fatalf("expected watch to render immediately, got %d calls", len(dom.calls))
	}
	if !strings.Contains(dom.calls[0].html, "hello") {
		t.Fatalf("expected rendered html to contain the current value, got %s", dom.calls[0].html)
	}
}

func TestWatch_SlottedRenderTogglesActiveSlot(t *testing.T) {
	dom := &fakeDomSink{}
	probe := &fakeProbe{slots: []string{"empty", "data", "error"}}
	s := New(WithDomSink(dom), WithSlotProbe(probe))
	ctx := context.Background()

	if err := s.Set(ctx, "workspace", "k", map[string]any{"data": []any{"row"}}); err != nil {
		t.Fatal(err)
	}
	if err := s.Watch(ctx, "workspace", "k", "", "#panel", "replace"); err != nil {
		t.Fatal(err)
	}
	if len(dom.calls) != 1 {
		t.Fatalf("expected exactly one slot to render, got %d", len(dom.calls))
	}
	if !strings.Contains(dom.calls[0].target, `data-slot="data"`) {
		t.Fatalf("expected the data slot to be targeted, got %s", dom.calls[0].target)
	}
}

func TestPurgeWindow_RemovesWindowScopedWatchers(t *testing.T) {
	dom := &fakeDomSink{}
	s := New(WithDomSink(dom))
	ctx := context.Background()

	if err := s.SetWindowScoped(ctx, ScopeWindow, "k", "w1", "v1"); err != nil {
		t.Fatal(err)
	}
	if err := s.Watch(ctx, "window", "k", "w1", "#root", "replace"); err != nil {
		t.Fatal(err)
	}
	s.PurgeWindow("w1")
	calls := len(dom.calls)

	if err := s.SetWindowScoped(ctx, ScopeWindow, "k", "w1", "v2"); err != nil {
		t.Fatal(err)
	}
	if len(dom.calls) != calls {
		t.Fatal("expected purged watcher to stop receiving renders")
	}
}

func TestUnwatchTarget_StopsRendersForThatSelectorOnly(t *testing.T) {
	dom := &fakeDomSink{}
	s := New(WithDomSink(dom))
	ctx := context.Background()

	if err := s.Set(ctx, "workspace", "k", "v1"); err != nil {
		t.Fatal(err)
	}
	if err := s.Watch(ctx, "workspace", "k", "", "#a", "replace"); err != nil {
		t.Fatal(err)
	}
	if err := s.Watch(ctx, "workspace", "k", "", "#b", "replace"); err != nil {
		t.Fatal(err)
	}
	s.UnwatchTarget("", "#a")
	calls := len(dom.calls)

	if err := s.Set(ctx, "workspace", "k", "v2"); err != nil {
		t.Fatal(err)
	}
	if len(dom.calls) != calls+1 {
		t.Fatalf("expected only the remaining #b watcher to render, got %d new calls", len(dom.calls)-calls)
	}
	if dom.calls[len(dom.calls)-1].target != "#b" {
		t.Fatalf("expected the surviving watcher to target #b, got %s", dom.calls[len(dom.calls)-1].target)
	}
}

func TestToHtml_ArrayOfObjectsRendersTable(t *testing.T) {
	html := toHtml([]any{
		map[string]any{"name": "a", "count": 1},
		map[string]any{"name": "b"},
	})
	if !strings.Contains(html, "<table") || !strings.Contains(html, "<th>count</th>") {
		t.Fatalf("expected a table with the union of columns, got %s", html)
	}
}

func TestToHtml_ScalarIsEscaped(t *testing.T) {
	html := toHtml("<b>x</b>")
	if strings.Contains(html, "<b>") {
		t.Fatalf("expected scalar value escaped, got %s", html)
	}
}
