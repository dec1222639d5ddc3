package job

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRef is returned for references that are neither a function
	// name nor a (target, method) pair.
	ErrInvalidRef = errors.New("invalid callable reference")
	// ErrUnknownTarget is returned when no target is registered under the name.
	ErrUnknownTarget = errors.New("unknown target")
	// ErrUnknownMethod is returned when the target has no handler method with the name.
	ErrUnknownMethod = errors.New("unknown method")
	// ErrUnknownFunction is returned when no function is registered under the name.
	ErrUnknownFunction = errors.New("unknown function")
)

// ResolveError reports why a reference could not be turned into a handler.
type ResolveError struct {
	Ref Ref
	Err error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("resolving %s: %v", e.Ref, e.Err)
}

func (e *ResolveError) Unwrap() error {
	return e.Err
}
