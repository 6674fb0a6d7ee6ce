// Package schema validates envelopes and batches against the adapter's
// wire-stable op taxonomy and computes the canonical batch hash used for
// dedupe and for testing structural equivalence between two batches.
package schema

import "encoding/json"

// Op is one of the wire-stable operation names.
type Op string

const (
	OpWindowCreate      Op = "window.create"
	OpWindowUpdate      Op = "window.update"
	OpWindowMove        Op = "window.move"
	OpWindowResize      Op = "window.resize"
	OpWindowFocus       Op = "window.focus"
	OpWindowClose       Op = "window.close"
	OpDomSet            Op = "dom.set"
	OpDomReplace        Op = "dom.replace"
	OpDomAppend         Op = "dom.append"
	OpComponentRender   Op = "component.render"
	OpComponentUpdate   Op = "component.update"
	OpComponentDestroy  Op = "component.destroy"
	OpStateSet          Op = "state.set"
	OpStateGet          Op = "state.get"
	OpStatePatch        Op = "state.patch"
	OpStateWatch        Op = "state.watch"
	OpStateUnwatch      Op = "state.unwatch"
	OpApiCall           Op = "api.call"
	OpTxnCancel         Op = "txn.cancel"
)

var validOps = map[Op]bool{
	OpWindowCreate: true, OpWindowUpdate: true, OpWindowMove: true,
	OpWindowResize: true, OpWindowFocus: true, OpWindowClose: true,
	OpDomSet: true, OpDomReplace: true, OpDomAppend: true,
	OpComponentRender: true, OpComponentUpdate: true, OpComponentDestroy: true,
	OpStateSet: true, OpStateGet: true, OpStatePatch: true,
	OpStateWatch: true, OpStateUnwatch: true,
	OpApiCall: true, OpTxnCancel: true,
}

// IsValidOp reports whether op is a member of the wire-stable op taxonomy.
func IsValidOp(op Op) bool {
	return validOps[op]
}

// EphemeralOps are never persisted to CommandLog.
var EphemeralOps = map[Op]bool{
	OpStateGet:     true,
	OpStateWatch:   true,
	OpStateUnwatch: true,
	OpTxnCancel:    true,
}

// DomOps carry HTML payloads subject to the per-op and per-batch size caps.
var DomOps = map[Op]bool{
	OpDomSet: true, OpDomReplace: true, OpDomAppend: true,
}

// Envelope is one operation as it arrives off the wire.
type Envelope struct {
	Op             Op              `json:"op"`
	Params         json.RawMessage `json:"params"`
	ID             string          `json:"id,omitempty"`
	TraceID        string          `json:"traceId,omitempty"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty"`
	WindowID       string          `json:"windowId,omitempty"`
}

// PartitionKey returns the windowId the envelope belongs to for FIFO
// partitioning, or "global" when unset.
func (e Envelope) PartitionKey() string {
	if e.WindowID == "" {
		return "global"
	}
	return e.WindowID
}

// IsEphemeral reports whether e's op should be skipped by CommandLog.persist,
// special-casing api.call targeting uicp://intent which is ephemeral only
// for that particular scheme+path combination.
func (e Envelope) IsEphemeral() bool {
	if EphemeralOps[e.Op] {
		return true
	}
	if e.Op == OpApiCall {
		var p struct {
			URL string `json:"url"`
		}
		if json.Unmarshal(e.Params, &p) == nil && p.URL == "uicp://intent" {
			return true
		}
	}
	return false
}

// Batch is an ordered sequence of envelopes submitted as one unit.
type Batch struct {
	BatchID     string     `json:"batchId,omitempty"`
	Envelopes   []Envelope `json:"envelopes"`
	AllowPartial bool      `json:"allowPartial,omitempty"`
}
