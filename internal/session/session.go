// Package session manages a single live connection to the remote gateway.
// A Session is created by a Dialer, carries its own read loop, and reports
// termination through Done with a reason available from Err.
package session

import (
	"context"
	"time"
)

// Position is the agent's last known location in the world.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Info describes an established session.
type Info struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	Address     string    `json:"address"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Handler receives a decoded inbound event payload.
type Handler func(data map[string]any)

// Session is a live connection. Implementations must be safe for
// concurrent use; Done is closed exactly once when the session ends.
type Session interface {
	// Info returns identity details for this session.
	Info() Info

	// Send writes an outbound message of the given kind.
	Send(ctx context.Context, kind string, data map[string]any) error

	// Ping measures round-trip latency to the gateway.
	Ping(ctx context.Context) (time.Duration, error)

	// Position returns the last position reported by the gateway.
	Position() Position

	// On registers a handler for inbound events of the given kind. The
	// owner tag groups registrations so DetachOwner can remove them all.
	On(owner, kind string, h Handler)

	// DetachOwner removes every handler registered under owner.
	DetachOwner(owner string)

	// Done is closed when the session terminates for any reason.
	Done() <-chan struct{}

	// Err returns the termination reason once Done is closed. A clean
	// local Close yields nil.
	Err() error

	// Close tears the session down. Safe to call more than once.
	Close() error
}

// Dialer establishes sessions. The supervisor holds one and calls Dial
// for every connection attempt.
type Dialer interface {
	Dial(ctx context.Context) (Session, error)
}
