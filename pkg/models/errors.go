package models

import (
	"errors"
	"fmt"
)

// ValidationError reports bad input: empty names, out-of-range scores,
// illegal state transitions. Never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// IsValidationError checks if an error is a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ErrNotFound is returned on a lookup miss for a required reference.
var ErrNotFound = errors.New("not found")

// InvariantError reports an assert tripped inside the engine. The affected
// command aborts; the process continues.
type InvariantError struct {
	Message string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant violated: %s", e.Message)
}
