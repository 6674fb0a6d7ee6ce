package component

import "fmt"

// UnknownTypeError reports a component.render/update call naming a type
// with no registered Builder.
type UnknownTypeError struct {
	Type string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("component: unknown component type %q", e.Type)
}

// ErrUnknownComponent constructs an UnknownTypeError.
func ErrUnknownComponent(typ string) error {
	return &UnknownTypeError{Type: typ}
}

// NotFoundError reports a component.update/destroy call against an id with
// no existing record.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("component: component %q not found", e.ID)
}

// ErrComponentNotFound constructs a NotFoundError.
func ErrComponentNotFound(id string) error {
	return &NotFoundError{ID: id}
}
