package lifecycle

import "fmt"

// ConnectionState is the transport state as reported by the engine.
type ConnectionState int

const (
	// Disconnected is the initial state
	Disconnected ConnectionState = iota
	// Connecting means the engine is opening its transport
	Connecting
	// Connected means the registrar is reachable
	Connected
)

// String returns the string representation of the state
func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}
