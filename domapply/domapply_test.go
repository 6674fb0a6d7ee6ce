package domapply

import (
	"context"
	"testing"

	"github.com/uicp/coreadapter/windowmgr"
)

type fakeWindows struct {
	existing map[string]bool
	created  []string
}

func (f *fakeWindows) Exists(id string) bool { return f.existing[id] }
func (f *fakeWindows) Create(ctx context.Context, id, title string, geom windowmgr.Geometry) (bool, error) {
	if f.existing == nil {
		f.existing = make(map[string]bool)
	}
	f.existing[id] = true
	f.created = append(f.created, title)
	return true, nil
}

type fakeSink struct {
	calls []string
}

func (f *fakeSink) ApplyDOM(ctx context.Context, windowID, target string, mode Mode, html string) error {
	f.calls = append(f.calls, windowID+"|"+target+"|"+string(mode)+"|"+html)
	return nil
}

type fakePersister struct {
	persisted []string
}

func (f *fakePersister) PersistSyntheticCreate(ctx context.Context, windowID, title string) error {
	f.persisted = append(f.persisted, windowID+":"+title)
	return nil
}

func TestApply_SanitizesAndForwards(t *testing.T) {
	windows := &fakeWindows{existing: map[string]bool{"w1": true}}
	sink := &fakeSink{}
	a := New(windows, sink)

	applied, skipped, err := a.Apply(context.Background(), "w1", "#root", `<p onclick="x()">hi</p>`, ModeSet)
	if err != nil {
		t.Fatal(err)
	}
	if applied != 1 || skipped != 0 {
		t.Fatalf("expected applied=1 skipped=0, got applied=%d skipped=%d", applied, skipped)
	}
	if len(sink.calls) != 1 {
		t.Fatalf("expected one sink call, got %v", sink.calls)
	}
	if containsStr(sink.calls[0], "onclick") {
		t.Fatalf("expected sanitized html forwarded, got %s", sink.calls[0])
	}
}

func TestApply_SkipsByteIdenticalReapply(t *testing.T) {
	windows := &fakeWindows{existing: map[string]bool{"w1": true}}
	sink := &fakeSink{}
	a := New(windows, sink)
	ctx := context.Background()

	a.Apply(ctx, "w1", "#root", "<p>hi</p>", ModeSet)
	applied, skipped, err := a.Apply(ctx, "w1", "#root", "<p>hi</p>", ModeSet)
	if err != nil {
		t.Fatal(err)
	}
	if applied != 0 || skipped != 1 {
		t.Fatalf("expected dedupe to skip identical reapply, got applied=%d skipped=%d", applied, skipped)
	}
	if len(sink.calls) != 1 {
		t.Fatalf("expected sink called only once, got %d", len(sink.calls))
	}
}

func TestApply_DifferentModeIsNotADuplicate(t *testing.T) {
	windows := &fakeWindows{existing: map[string]bool{"w1": true}}
	sink := &fakeSink{}
	a := New(windows, sink)
	ctx := context.Background()

	a.Apply(ctx, "w1", "#root", "<p>hi</p>", ModeSet)
	applied, skipped, err := a.Apply(ctx, "w1", "#root", "<p>hi</p>", ModeAppend)
	if err != nil {
		t.Fatal(err)
	}
	if applied != 1 || skipped != 0 {
		t.Fatalf("expected distinct mode to count as a fresh apply, got applied=%d skipped=%d", applied, skipped)
	}
}

func TestApply_SynthesizesMissingWindow(t *testing.T) {
	windows := &fakeWindows{}
	sink := &fakeSink{}
	persister := &fakePersister{}
	a := New(windows, sink, WithPersister(persister))
	ctx := context.Background()

	applied, _, err := a.Apply(ctx, "notes-panel", "#root", "<p>hi</p>", ModeSet)
	if err != nil {
		t.Fatal(err)
	}
	if applied != 1 {
		t.Fatalf("expected the mutation to apply after synthesis, got applied=%d", applied)
	}
	if len(windows.created) != 1 || windows.created[0] != "Notes Panel" {
		t.Fatalf("expected prettified synthetic title, got %v", windows.created)
	}
	if len(persister.persisted) != 1 {
		t.Fatalf("expected synthetic create to be persisted, got %v", persister.persisted)
	}
}

func containsStr(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
