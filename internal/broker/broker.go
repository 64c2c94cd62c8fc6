// Package broker provides broker integration interfaces and implementations.
package broker

import (
	"context"
	"time"

	"pairbot/internal/models"
)

// Connector defines the interface for broker operations the lifecycle
// needs. Each call returns an up-to-date snapshot; no streaming.
type Connector interface {
	// Connect establishes the broker session.
	Connect(ctx context.Context) error

	// Disconnect tears down the session.
	Disconnect() error

	// IsConnected reports whether a session is established.
	IsConnected() bool

	// ConnectedSince returns when the current session was established.
	// Zero time when not connected.
	ConnectedSince() time.Time

	// GetOpenPositions returns the live positions for the given symbols.
	GetOpenPositions(ctx context.Context, symbols []string) ([]models.Position, error)

	// ClosePosition issues a close request for one ticket.
	ClosePosition(ctx context.Context, ticket int64) error

	// SessionConfirmed reports whether this session has ever observed the
	// ticket live. Recovery uses it to tell a stale flag from an
	// unexplained disappearance.
	SessionConfirmed(ticket int64) bool
}

// sessionTracker remembers which tickets a session has reported live.
// Embedded by connectors so SessionConfirmed works uniformly.
type sessionTracker struct {
	seen map[int64]bool
}

func newSessionTracker() *sessionTracker {
	return &sessionTracker{seen: make(map[int64]bool)}
}

func (t *sessionTracker) observe(positions []models.Position) {
	for _, p := range positions {
		t.seen[p.Ticket] = true
	}
}

func (t *sessionTracker) confirmed(ticket int64) bool {
	return t.seen[ticket]
}

func (t *sessionTracker) reset() {
	t.seen = make(map[int64]bool)
}
