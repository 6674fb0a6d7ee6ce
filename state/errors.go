package state

import "fmt"

// ValidationError reports a malformed state.set/state.patch/state.watch
// call: bad scope, missing windowId, or an op value of the wrong shape.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("state: %s", e.Reason)
}

func errUnknownPatchOp(op string) error {
	return &ValidationError{Reason: fmt.Sprintf("unknown patch op %q", op)}
}

func errPatchValueType(op string) error {
	return &ValidationError{Reason: fmt.Sprintf("patch op %q requires an object value", op)}
}
