package services

import (
	"log/slog"

	"github.com/google/uuid"
	"github.com/lorrc/workspace-realtime/internal/core/domain"
	"github.com/lorrc/workspace-realtime/internal/core/ports"
)

// Fanout delivers server messages to room members. Sends are
// fire-and-forget; a failing transport is logged and skipped.
type Fanout struct {
	registry *ConnectionRegistry
	rooms    *RoomManager
	clock    ports.Clock
	logger   *slog.Logger
}

func NewFanout(registry *ConnectionRegistry, rooms *RoomManager, clock ports.Clock, logger *slog.Logger) *Fanout {
	return &Fanout{
		registry: registry,
		rooms:    rooms,
		clock:    clock,
		logger:   logger.With("component", "fanout"),
	}
}

// Broadcast sends one message to every member of room and returns the
// number of transports that accepted it. All recipients see the same id.
func (f *Fanout) Broadcast(room domain.RoomID, msgType domain.ServerMessageType, payload any) int {
	members := f.rooms.MembersOf(room)
	if len(members) == 0 {
		return 0
	}

	msg, ok := f.message(room, msgType, payload)
	if !ok {
		return 0
	}

	delivered := 0
	for _, id := range members {
		if f.deliver(id, msg) {
			delivered++
		}
	}

	f.logger.Debug("broadcast",
		"room", room,
		"type", msgType,
		"members", len(members),
		"delivered", delivered,
	)
	return delivered
}

// Send delivers a message to a single connection.
func (f *Fanout) Send(id domain.ConnectionID, msgType domain.ServerMessageType, payload any) bool {
	msg, ok := f.message("", msgType, payload)
	if !ok {
		return false
	}
	return f.deliver(id, msg)
}

func (f *Fanout) message(room domain.RoomID, msgType domain.ServerMessageType, payload any) (domain.ServerMessage, bool) {
	msg := domain.ServerMessage{
		ID:     uuid.NewString(),
		Type:   msgType,
		Room:   room,
		SentAt: f.clock.Now(),
	}
	data, err := marshalPayload(msgType, payload)
	if err != nil {
		f.logger.Error("failed to marshal payload", "type", msgType, "error", err)
		return domain.ServerMessage{}, false
	}
	msg.Payload = data
	return msg, true
}

func (f *Fanout) deliver(id domain.ConnectionID, msg domain.ServerMessage) bool {
	conn, ok := f.registry.Get(id)
	if !ok {
		return false
	}
	if err := conn.Transport.Send(msg); err != nil {
		f.logger.Debug("dropping message",
			"connection_id", id,
			"type", msg.Type,
			"error", err,
		)
		return false
	}
	return true
}
