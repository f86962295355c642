package notify

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by lifecycle operations that reference an
// unknown notification id.
var ErrNotFound = errors.New("notification not found")

// ValidationError describes a malformed creation request. It is rejected
// before anything is persisted and surfaced synchronously to the caller.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid notification request: %s %s", e.Field, e.Reason)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
