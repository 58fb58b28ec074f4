package registration

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned, wrapped in a TransitionError, when a
// method is called from a state that does not allow it.
var ErrInvalidTransition = errors.New("invalid registration transition")

// TransitionError records a refused transition.
type TransitionError struct {
	From State
	To   State
}

// Error returns the error message.
func (e *TransitionError) Error() string {
	return fmt.Sprintf("registration: cannot transition from %s to %s", e.From, e.To)
}

// Unwrap returns ErrInvalidTransition.
func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}
