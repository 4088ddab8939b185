package services

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lorrc/workspace-realtime/internal/core/domain"
	apperrors "github.com/lorrc/workspace-realtime/internal/core/errors"
	"github.com/lorrc/workspace-realtime/internal/core/ports"
)

// Connection is one live client transport and the identity bound to it.
type Connection struct {
	ID        domain.ConnectionID
	Transport ports.Transport
	// Identity is nil until the connection identifies.
	Identity *domain.UserIdentity
	// ViewingTask is the task detail the client has open, if any.
	ViewingTask string

	ConnectedAt time.Time
	LastSeen    time.Time
}

// Identified reports whether the connection is bound to a user.
func (c *Connection) Identified() bool {
	return c.Identity != nil
}

// UserID returns the bound user id, or "" before identify.
func (c *Connection) UserID() string {
	if c.Identity == nil {
		return ""
	}
	return c.Identity.UserID
}

// UnregisterListener runs while the connection is still registered.
type UnregisterListener func(conn *Connection)

// ConnectionRegistry owns every live connection. It is not safe for
// concurrent use; the hub loop serialises all calls.
type ConnectionRegistry struct {
	clock        ports.Clock
	logger       *slog.Logger
	connections  map[domain.ConnectionID]*Connection
	onUnregister []UnregisterListener
}

func NewConnectionRegistry(clock ports.Clock, logger *slog.Logger) *ConnectionRegistry {
	return &ConnectionRegistry{
		clock:       clock,
		logger:      logger.With("component", "connection_registry"),
		connections: make(map[domain.ConnectionID]*Connection),
	}
}

// OnUnregister adds a cleanup hook. Hooks run in registration order.
func (r *ConnectionRegistry) OnUnregister(listener UnregisterListener) {
	r.onUnregister = append(r.onUnregister, listener)
}

// Register adds a connection for transport and returns it.
func (r *ConnectionRegistry) Register(transport ports.Transport) *Connection {
	now := r.clock.Now()
	conn := &Connection{
		ID:          domain.ConnectionID(uuid.NewString()),
		Transport:   transport,
		ConnectedAt: now,
		LastSeen:    now,
	}
	r.connections[conn.ID] = conn

	r.logger.Debug("connection registered",
		"connection_id", conn.ID,
		"total_connections", len(r.connections),
	)
	return conn
}

// Identify binds identity to a connection. Repeating it for the same user
// refreshes the display fields; a different user is rejected.
func (r *ConnectionRegistry) Identify(id domain.ConnectionID, identity domain.UserIdentity) (*Connection, error) {
	conn, ok := r.connections[id]
	if !ok {
		return nil, apperrors.ErrConnectionNotFound
	}
	if err := identity.Validate(); err != nil {
		return nil, err
	}
	if conn.Identity != nil && conn.Identity.UserID != identity.UserID {
		return nil, apperrors.ErrIdentityMismatch
	}

	conn.Identity = &identity
	conn.LastSeen = r.clock.Now()

	r.logger.Debug("connection identified",
		"connection_id", id,
		"user_id", identity.UserID,
	)
	return conn, nil
}

// Unregister runs cleanup hooks and drops the connection.
// It reports false if the connection was unknown.
func (r *ConnectionRegistry) Unregister(id domain.ConnectionID) bool {
	conn, ok := r.connections[id]
	if !ok {
		return false
	}

	for _, listener := range r.onUnregister {
		listener(conn)
	}
	delete(r.connections, id)

	r.logger.Debug("connection unregistered",
		"connection_id", id,
		"user_id", conn.UserID(),
		"total_connections", len(r.connections),
	)
	return true
}

func (r *ConnectionRegistry) Get(id domain.ConnectionID) (*Connection, bool) {
	conn, ok := r.connections[id]
	return conn, ok
}

// Touch records activity on a connection.
func (r *ConnectionRegistry) Touch(id domain.ConnectionID) {
	if conn, ok := r.connections[id]; ok {
		conn.LastSeen = r.clock.Now()
	}
}

// IDs returns every registered connection id.
func (r *ConnectionRegistry) IDs() []domain.ConnectionID {
	ids := make([]domain.ConnectionID, 0, len(r.connections))
	for id := range r.connections {
		ids = append(ids, id)
	}
	return ids
}

func (r *ConnectionRegistry) Count() int {
	return len(r.connections)
}
