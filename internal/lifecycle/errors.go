package lifecycle

import (
	"errors"
	"fmt"
)

// Sentinel errors for use with errors.Is.
var (
	// ErrNoEngine is returned by commands issued while no engine exists.
	ErrNoEngine = errors.New("no signaling engine")

	// ErrNotConnected is returned by registration commands while the
	// transport is down.
	ErrNotConnected = errors.New("not connected")

	// ErrSuperseded is returned by operations overtaken by a
	// reinitialization.
	ErrSuperseded = errors.New("superseded by reinitialization")

	// ErrAtCapacity reports an outbound session refused by the registry.
	ErrAtCapacity = errors.New("session limit reached")

	// ErrUnknownSession is returned for ids not in the live registry.
	ErrUnknownSession = errors.New("unknown session")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("orchestrator closed")
)

// CommandError wraps a failed command with its name.
type CommandError struct {
	Op  string
	Err error
}

// Error returns the error message.
func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *CommandError) Unwrap() error {
	return e.Err
}

// RegistrationError reports a registrar rejection to WaitReady callers.
type RegistrationError struct {
	Cause      string
	StatusCode int
}

// Error returns the error message.
func (e *RegistrationError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("registration failed (%d): %s", e.StatusCode, e.Cause)
	}
	return "registration failed: " + e.Cause
}
