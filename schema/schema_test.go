package schema

import (
	"encoding/json"
	"strings"
	"testing"
)

func env(t *testing.T, op Op, params any) Envelope {
	t.Helper()
	b, err := json.Marshal(params)
	if err != nil {
		t.Fatal(err)
	}
	return Envelope{Op: op, Params: b}
}

func TestValidateEnvelope_UnknownOp(t *testing.T) {
	e := env(t, Op("bogus.op"), map[string]any{})
	if err := ValidateEnvelope(e); err == nil {
		t.Fatal("expected error for unknown op")
	}
}

func TestValidateEnvelope_DomMissingTarget(t *testing.T) {
	e := env(t, OpDomSet, map[string]any{"html": "<p>hi</p>"})
	if err := ValidateEnvelope(e); err == nil {
		t.Fatal("expected error for missing target")
	}
}

func TestValidateEnvelope_DomHTMLTooLarge(t *testing.T) {
	e := env(t, OpDomSet, map[string]any{"target": "#root", "html": strings.Repeat("x", MaxHTMLPerOp+1)})
	err := ValidateEnvelope(e)
	if err == nil {
		t.Fatal("expected error for oversized html")
	}
	ve, ok := err.(*ValidationError)
	if !ok || ve.Code != "Adapter.ValidationFailed" {
		t.Fatalf("got %v", err)
	}
}

func TestValidateBatch_CumulativeHTMLCap(t *testing.T) {
	// Each payload stays under MaxHTMLPerOp; only their sum exceeds the cap.
	third := strings.Repeat("x", MaxHTMLPerBatch/3+1)
	b := Batch{Envelopes: []Envelope{
		env(t, OpDomSet, map[string]any{"target": "#a", "html": third}),
		env(t, OpDomSet, map[string]any{"target": "#b", "html": third}),
		env(t, OpDomSet, map[string]any{"target": "#c", "html": third}),
	}}
	if err := ValidateBatch(b); err == nil {
		t.Fatal("expected cumulative html cap to trip")
	}
}

func TestValidateDataCommand_SizeLimit(t *testing.T) {
	big := strings.Repeat("a", MaxDataCommandBytes+1)
	err := ValidateDataCommand(big)
	if err == nil {
		t.Fatal("expected size violation")
	}
	if err.(*ValidationError).Code != "E-UICP-300" {
		t.Fatalf("got code %s", err.(*ValidationError).Code)
	}
}

func TestValidateDataCommand_TokenLimit(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < MaxDataCommandTokens+1; i++ {
		sb.WriteString("{{tok}}")
	}
	err := ValidateDataCommand(sb.String())
	if err == nil {
		t.Fatal("expected token-count violation")
	}
	if err.(*ValidationError).Code != "E-UICP-301" {
		t.Fatalf("got code %s", err.(*ValidationError).Code)
	}
}

func TestComputeBatchHash_KeyOrderIrrelevant(t *testing.T) {
	a := []Envelope{env(t, OpWindowCreate, map[string]any{"id": "w1", "title": "Hi"})}
	b := []Envelope{{Op: OpWindowCreate, Params: json.RawMessage(`{"title":"Hi","id":"w1"}`)}}
	ha, err := ComputeBatchHash(a)
	if err != nil {
		t.Fatal(err)
	}
	hb, err := ComputeBatchHash(b)
	if err != nil {
		t.Fatal(err)
	}
	if ha != hb {
		t.Fatalf("hashes differ: %s vs %s", ha, hb)
	}
}

func TestComputeBatchHash_ContentChangeChangesHash(t *testing.T) {
	a := []Envelope{env(t, OpWindowCreate, map[string]any{"id": "w1"})}
	b := []Envelope{env(t, OpWindowCreate, map[string]any{"id": "w2"})}
	ha, _ := ComputeBatchHash(a)
	hb, _ := ComputeBatchHash(b)
	if ha == hb {
		t.Fatal("expected different hashes for different content")
	}
}

func TestEnvelope_PartitionKey(t *testing.T) {
	if (Envelope{}).PartitionKey() != "global" {
		t.Fatal("expected global partition for empty windowId")
	}
	if (Envelope{WindowID: "w1"}).PartitionKey() != "w1" {
		t.Fatal("expected windowId as partition key")
	}
}

func TestEnvelope_IsEphemeral(t *testing.T) {
	if !(Envelope{Op: OpStateGet}).IsEphemeral() {
		t.Fatal("state.get should be ephemeral")
	}
	intentEnv := env(t, OpApiCall, map[string]any{"url": "uicp://intent"})
	if !intentEnv.IsEphemeral() {
		t.Fatal("api.call to uicp://intent should be ephemeral")
	}
	fetchEnv := env(t, OpApiCall, map[string]any{"url": "https://example.com"})
	if fetchEnv.IsEphemeral() {
		t.Fatal("api.call to http(s) should not be ephemeral")
	}
}
