package ports

import (
	"context"
	"time"

	"github.com/lorrc/workspace-realtime/internal/core/domain"
)

// Transport is the outbound half of one client connection.
// Send must never block; a full or closed transport returns an error.
type Transport interface {
	Send(msg domain.ServerMessage) error
	Close() error
}

// Timer is a cancellable scheduled callback.
type Timer interface {
	// Stop prevents the callback from firing. It reports false if the
	// callback already ran or was already stopped.
	Stop() bool
}

// Clock abstracts time so debounce and backoff timers can be driven in tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

// TokenValidator verifies a session token and returns its identity claims.
type TokenValidator interface {
	Validate(token string) (*domain.UserIdentity, error)
}

// IdentityResolver turns a token presented on the wire into a full identity.
type IdentityResolver interface {
	Resolve(ctx context.Context, token string) (*domain.UserIdentity, error)
}

// EventPublisher accepts domain events from the CRUD layer for fan-out.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

// PresenceReader exposes the current online set of a workspace.
type PresenceReader interface {
	Online(ctx context.Context, workspaceID string) ([]domain.PresenceEntry, error)
}

// RealtimeStats is a point-in-time view of the hub, used by health checks.
type RealtimeStats struct {
	Connections int `json:"connections"`
	Rooms       int `json:"rooms"`
	Typing      int `json:"typing"`
}
