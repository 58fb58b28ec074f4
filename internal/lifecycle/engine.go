package lifecycle

import (
	"context"

	"github.com/sebas/softphone/internal/config"
	"github.com/sebas/softphone/internal/events"
)

// Engine is the signaling engine as seen by the orchestrator. Every method
// may block until the engine has acted; the resulting state changes arrive
// as events on the publisher the engine was built with.
//
// A failed Register must publish a RegistrationFailed event before
// returning its error.
type Engine interface {
	// Start opens the transport and probes the registrar.
	Start(ctx context.Context) error
	// Stop closes the transport.
	Stop(ctx context.Context) error
	// Register sends a REGISTER for the configured AOR.
	Register(ctx context.Context) error
	// Unregister removes the binding (Expires: 0).
	Unregister(ctx context.Context) error
}

// SessionRejecter is implemented by engines that can decline an offered
// session (486 Busy Here).
type SessionRejecter interface {
	Reject(ctx context.Context, sessionID string) error
}

// EngineFactory builds an engine bound to cfg that publishes to pub.
type EngineFactory func(cfg config.Config, pub events.Publisher) (Engine, error)
