package apirouter

import "fmt"

// ErrSandboxViolation is returned when a tauri://fs/writeTextFile call
// targets a path outside its allow-listed base directory.
type ErrSandboxViolation struct {
	Path string
}

func (e *ErrSandboxViolation) Error() string {
	return fmt.Sprintf("apirouter: path escapes sandbox: %s", e.Path)
}

// ErrCallTimeout is returned when an http(s) dispatch exceeds its deadline.
type ErrCallTimeout struct {
	URL string
}

func (e *ErrCallTimeout) Error() string {
	return fmt.Sprintf("apirouter: call timeout: %s", e.URL)
}

// ErrPolicyDenied is returned when PolicyGate rejects an outbound call.
type ErrPolicyDenied struct {
	URL string
}

func (e *ErrPolicyDenied) Error() string {
	return fmt.Sprintf("apirouter: denied by policy: %s", e.URL)
}

// ErrBadJobSpec is returned when a uicp://compute.call body fails to parse
// as a JobSpec.
type ErrBadJobSpec struct {
	Cause error
}

func (e *ErrBadJobSpec) Error() string {
	return fmt.Sprintf("apirouter: invalid job spec: %v", e.Cause)
}

func (e *ErrBadJobSpec) Unwrap() error { return e.Cause }
