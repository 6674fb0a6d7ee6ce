// Package orchestrator implements AdapterContext: the lifecycle dispatch
// table that routes each envelope in a batch to the module owning its op
// (§4.11), aggregates the result into an ApplyOutcome, and holds the batch
// queue that buffers calls made before the workspace root registers.
package orchestrator

import "fmt"

// ErrorCode is the adapter's error taxonomy (§7) — a kind, not a Go type,
// so every failure path can be told apart by callers without type
// switching on concrete struct types per module.
type ErrorCode string

const (
	ErrValidationFailed  ErrorCode = "Adapter.ValidationFailed"
	ErrPermissionDenied  ErrorCode = "Permission.Denied"
	ErrWindowNotFound    ErrorCode = "Adapter.WindowNotFound"
	ErrSanitizerRejected ErrorCode = "Adapter.SanitizerRejected"
	ErrPersistenceFailed ErrorCode = "Adapter.PersistenceFailed"
	ErrApiFailed         ErrorCode = "Adapter.ApiFailed"
	ErrComputeFailed     ErrorCode = "Compute.Failed"
	ErrComputeTimeout    ErrorCode = "Compute.Timeout"
	ErrComputeCancelled  ErrorCode = "Compute.Cancelled"
	ErrInternal          ErrorCode = "Adapter.Internal"
)

// AdapterError is a module-thrown error carrying a taxonomy code, mirroring
// the teacher's small sentinel struct types (connectivity.ErrServiceNotFound,
// channels.ErrChannelNotFound) rather than a bare errors.New string, so
// callers can errors.As it instead of string-matching.
type AdapterError struct {
	Code    ErrorCode
	Op      string
	Message string
	Err     error
}

func (e *AdapterError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Op, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Op)
}

func (e *AdapterError) Unwrap() error { return e.Err }

func newAdapterError(code ErrorCode, op, message string, err error) *AdapterError {
	return &AdapterError{Code: code, Op: op, Message: message, Err: err}
}
