package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/uicp/coreadapter/schema"
)

type recordingBus struct {
	events []string
}

func (b *recordingBus) Emit(ctx context.Context, name string, attrs map[string]any) {
	b.events = append(b.events, name)
}

func TestGate_RequireScope_WindowAlwaysAllowed(t *testing.T) {
	g := New()
	if !g.RequireScope(context.Background(), schema.OpWindowCreate, false) {
		t.Fatal("window scope should always be allowed")
	}
}

func TestGate_RequireScope_DomDeniesUnsanitized(t *testing.T) {
	g := New()
	if g.RequireScope(context.Background(), schema.OpDomSet, true) {
		t.Fatal("dom.set with sanitize=false should be denied")
	}
	if !g.RequireScope(context.Background(), schema.OpDomSet, false) {
		t.Fatal("dom.set with sanitize!=false should be allowed")
	}
}

func TestGate_Allow_DefaultDenyWithoutPromptOrStoredPolicy(t *testing.T) {
	bus := &recordingBus{}
	g := New(WithTelemetry(bus))
	allowed, err := g.Allow(context.Background(), "api.call.http", "GET https://example.com/data")
	if err != nil {
		t.Fatal(err)
	}
	if allowed {
		t.Fatal("expected default deny for unknown origin with no prompt handler")
	}
	if len(bus.events) != 1 || bus.events[0] != "permissions_deny" {
		t.Fatalf("expected a single permissions_deny event, got %v", bus.events)
	}
}

func TestGate_Allow_PromptGrantsSessionDecision(t *testing.T) {
	g := New(WithPrompt(func(ctx context.Context, key string) (Decision, Duration) {
		return DecisionAllow, DurationSession
	}))
	ctx := context.Background()
	allowed, err := g.Allow(ctx, "api.call.http", "GET https://example.com/data")
	if err != nil || !allowed {
		t.Fatalf("expected allow from prompt, got %v err=%v", allowed, err)
	}
	// second call must be served from the session cache, not re-prompted.
	g.prompt = nil
	allowed, err = g.Allow(ctx, "api.call.http", "GET https://example.com/data")
	if err != nil || !allowed {
		t.Fatalf("expected cached session allow, got %v err=%v", allowed, err)
	}
}

func TestGate_Allow_ForeverDecisionPersistsToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.json")
	g := New(WithPolicyFile(path), WithPrompt(func(ctx context.Context, key string) (Decision, Duration) {
		return DecisionAllow, DurationForever
	}))
	ctx := context.Background()
	if _, err := g.Allow(ctx, "api.call.http", "GET https://example.com/data"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected policy file to be written: %v", err)
	}

	g2 := New(WithPolicyFile(path))
	allowed, err := g2.Allow(ctx, "api.call.http", "GET https://example.com/data")
	if err != nil || !allowed {
		t.Fatalf("expected reloaded gate to honour persisted decision, got %v err=%v", allowed, err)
	}
}

func TestGate_Allow_PathPrefixRestriction(t *testing.T) {
	g := New()
	g.Grant("api.call.http", "GET https://example.com/public", DecisionAllow, DurationSession, "/public")
	ctx := context.Background()

	allowed, err := g.Allow(ctx, "api.call.http", "GET https://example.com/public/x")
	if err != nil || !allowed {
		t.Fatalf("expected allow within path prefix, got %v err=%v", allowed, err)
	}
	allowed, err = g.Allow(ctx, "api.call.http", "GET https://example.com/private")
	if err != nil {
		t.Fatal(err)
	}
	if allowed {
		t.Fatal("expected deny outside granted path prefix")
	}
}

func TestFileStore_LegacyBareStringMigrates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.json")
	if err := os.WriteFile(path, []byte(`{"api:GET:https://old.example.com":"allow"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	g := New(WithPolicyFile(path))
	rec, ok := g.persistent["api:GET:https://old.example.com"]
	if !ok {
		t.Fatal("expected legacy entry to be loaded")
	}
	if rec.Decision != DecisionAllow || rec.Duration != DurationForever {
		t.Fatalf("expected bare string to migrate to forever allow, got %+v", rec)
	}
}

func TestFileStore_SessionOnlyLegacyMigrates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.json")
	body := `{"api:POST:https://old.example.com":{"decision":"deny","sessionOnly":true}}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	g := New(WithPolicyFile(path))
	rec := g.persistent["api:POST:https://old.example.com"]
	if rec.Duration != DurationSession {
		t.Fatalf("expected sessionOnly:true to migrate to duration=session, got %+v", rec)
	}
}

func TestFileStore_LegacyYAMLMigrates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	body := "\"api:GET:https://old.example.com\": allow\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	g := New(WithPolicyFile(path))
	rec, ok := g.persistent["api:GET:https://old.example.com"]
	if !ok || rec.Decision != DecisionAllow {
		t.Fatalf("expected YAML export to migrate, got %+v ok=%v", rec, ok)
	}
}

func TestBuildKey_HTTPOrigin(t *testing.T) {
	key, path := buildKey("api.call.http", "get https://example.com:8080/a/b")
	if key != "api:GET:https://example.com:8080" {
		t.Fatalf("unexpected key %q", key)
	}
	if path != "/a/b" {
		t.Fatalf("unexpected pathname %q", path)
	}
}
