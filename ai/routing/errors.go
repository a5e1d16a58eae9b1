package routing

import (
	"errors"
	"fmt"
)

// ErrInvalidRequest is returned for requests rejected before any backend call.
var ErrInvalidRequest = errors.New("invalid completion request")

// TerminalError is returned when both the primary and the fallback attempt failed.
// It unwraps to the fallback failure.
type TerminalError struct {
	PrimaryModel  string
	FallbackModel string
	Primary       error
	Fallback      error
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("AI service failed: %v (primary %s: %v)", e.Fallback, e.PrimaryModel, e.Primary)
}

func (e *TerminalError) Unwrap() error {
	return e.Fallback
}

// IsTerminal reports whether err is a TerminalError.
func IsTerminal(err error) bool {
	var te *TerminalError
	return errors.As(err, &te)
}
