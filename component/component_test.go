package component

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/uicp/coreadapter/domapply"
)

type fakeDom struct {
	calls []string
}

func (f *fakeDom) Apply(ctx context.Context, windowID, target, html string, mode domapply.Mode) (int, int, error) {
	f.calls = append(f.calls, html)
	return 1, 0, nil
}

type fakeState struct {
	sets    map[string]any
	watches []string
}

func (f *fakeState) Set(ctx context.Context, scope, key string, value any) error {
	if f.sets == nil {
		f.sets = make(map[string]any)
	}
	f.sets[scope+":"+key] = value
	return nil
}

func (f *fakeState) Watch(ctx context.Context, scope, key, windowID, selector, mode string) error {
	f.watches = append(f.watches, scope+":"+key)
	return nil
}

type fakeCompute struct {
	submissions []string
}

func (f *fakeCompute) Submit(ctx context.Context, task string, input any, mode string) (any, error) {
	f.submissions = append(f.submissions, task+":"+mode)
	if mode == "init" {
		return "initial-model", nil
	}
	return map[string]any{"status": "ready", "html": "<p>done</p>"}, nil
}

func TestRender_ButtonEscapesLabel(t *testing.T) {
	dom := &fakeDom{}
	r := New(dom)

	applied, err := r.Render(context.Background(), "btn1", "w1", "#root", "button", Props{
		"label": `<script>alert(1)</script>`, "command": "do.thing",
	})
	if err != nil || !applied {
		t.Fatalf("unexpected render: applied=%v err=%v", applied, err)
	}
	if len(dom.calls) != 1 {
		t.Fatalf("expected one dom call, got %d", len(dom.calls))
	}
	if strings.Contains(dom.calls[0], "<script>") {
		t.Fatalf("expected label to be escaped, got %s", dom.calls[0])
	}
	if !strings.Contains(dom.calls[0], `data-command="do.thing"`) {
		t.Fatalf("expected command attached as data-command, got %s", dom.calls[0])
	}
}

func TestRender_UnknownTypeEmitsComponentUnknown(t *testing.T) {
	dom := &fakeDom{}
	r := New(dom)
	_, err := r.Render(context.Background(), "x1", "w1", "#root", "bogus", Props{})
	var unk *UnknownTypeError
	if !errors.As(err, &unk) {
		t.Fatalf("expected UnknownTypeError, got %v", err)
	}
}

func TestUpdate_ReusesStoredWindowAndTarget(t *testing.T) {
	dom := &fakeDom{}
	r := New(dom)
	ctx := context.Background()
	r.Render(ctx, "btn1", "w1", "#root", "button", Props{"label": "Go"})

	applied, err := r.Update(ctx, "btn1", Props{"label": "Go Again"})
	if err != nil || !applied {
		t.Fatalf("unexpected update: applied=%v err=%v", applied, err)
	}
	if len(dom.calls) != 2 {
		t.Fatalf("expected second dom call on update, got %d", len(dom.calls))
	}
}

func TestDestroy_RemovesRecord(t *testing.T) {
	dom := &fakeDom{}
	r := New(dom)
	ctx := context.Background()
	r.Render(ctx, "btn1", "w1", "#root", "button", Props{"label": "Go"})

	applied, err := r.Destroy(ctx, "btn1")
	if err != nil || !applied {
		t.Fatalf("unexpected destroy: applied=%v err=%v", applied, err)
	}
	if _, err := r.Update(ctx, "btn1", Props{}); err == nil {
		t.Fatal("expected update after destroy to fail")
	}
}

func TestScriptPanel_RunsFullLifecycle(t *testing.T) {
	dom := &fakeDom{}
	state := &fakeState{}
	compute := &fakeCompute{}
	r := New(dom, WithStateStore(state), WithComputeBridge(compute))

	applied, err := r.Render(context.Background(), "panel1", "w1", "#root", "script.panel", Props{
		"module": "analyze", "source": "x.py", "stateKey": "panels.panel1.status",
	})
	if err != nil || !applied {
		t.Fatalf("unexpected script.panel render: applied=%v err=%v", applied, err)
	}
	if len(dom.calls) != 1 || !strings.Contains(dom.calls[0], "uicp-script-panel") {
		t.Fatalf("expected stable wrapper mounted, got %v", dom.calls)
	}
	if _, ok := state.sets["workspace:panels.panel1.config"]; !ok {
		t.Fatal("expected config written to state")
	}
	if len(state.watches) != 1 {
		t.Fatalf("expected exactly one watcher binding, got %v", state.watches)
	}
	if _, ok := state.sets["workspace:panels.panel1.model"]; !ok {
		t.Fatal("expected model written to state after init submission")
	}
	if len(compute.submissions) != 2 || compute.submissions[0] != "analyze:init" || compute.submissions[1] != "analyze:render" {
		t.Fatalf("expected init then render submissions, got %v", compute.submissions)
	}
}

func TestBuildTable_EscapesCells(t *testing.T) {
	html := buildTable("t1", Props{
		"headers": []any{"Name"},
		"rows":    []any{[]any{`<b>bold</b>`}},
	})
	if strings.Contains(html, "<b>bold</b>") {
		t.Fatalf("expected cell value escaped, got %s", html)
	}
}
