package services

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lorrc/workspace-realtime/internal/core/domain"
	apperrors "github.com/lorrc/workspace-realtime/internal/core/errors"
	"github.com/lorrc/workspace-realtime/internal/core/ports"
)

// RealtimeOptions tunes the realtime core.
type RealtimeOptions struct {
	TypingWindow time.Duration
	// Mirror receives presence transitions; nil disables mirroring.
	Mirror ports.PresenceMirror
}

// RealtimeService wires the registry, rooms, presence, typing and routing
// components together. It is single-threaded: the caller must serialise
// every method call, including timer callbacks fired by clock.
type RealtimeService struct {
	clock    ports.Clock
	registry *ConnectionRegistry
	rooms    *RoomManager
	fanout   *Fanout
	presence *PresenceTracker
	typing   *TypingCoordinator
	router   *EventRouter
	logger   *slog.Logger
}

func NewRealtimeService(clock ports.Clock, opts RealtimeOptions, logger *slog.Logger) *RealtimeService {
	registry := NewConnectionRegistry(clock, logger)
	rooms := NewRoomManager(registry, logger)
	fanout := NewFanout(registry, rooms, clock, logger)
	presence := NewPresenceTracker(fanout, opts.Mirror, logger)
	typing := NewTypingCoordinator(registry, rooms, fanout, clock, opts.TypingWindow, logger)
	router := NewEventRouter(rooms, presence, fanout, clock, logger)

	// Typing stops before presence leaves so peers never see a typing
	// indicator for a user already shown offline.
	rooms.Subscribe(typing)
	rooms.Subscribe(presence)

	return &RealtimeService{
		clock:    clock,
		registry: registry,
		rooms:    rooms,
		fanout:   fanout,
		presence: presence,
		typing:   typing,
		router:   router,
		logger:   logger.With("component", "realtime_service"),
	}
}

// Connect registers a transport. A non-nil identity identifies the
// connection immediately.
func (s *RealtimeService) Connect(transport ports.Transport, identity *domain.UserIdentity) (domain.ConnectionID, error) {
	conn := s.registry.Register(transport)
	if identity == nil {
		return conn.ID, nil
	}
	if err := s.Identify(conn.ID, *identity); err != nil {
		s.registry.Unregister(conn.ID)
		return "", err
	}
	return conn.ID, nil
}

// Identify binds identity and joins the user's private room.
func (s *RealtimeService) Identify(id domain.ConnectionID, identity domain.UserIdentity) error {
	conn, err := s.registry.Identify(id, identity)
	if err != nil {
		return err
	}
	if _, err := s.rooms.Join(id, domain.UserRoom(conn.UserID())); err != nil {
		return fmt.Errorf("join user room: %w", err)
	}
	return nil
}

// Disconnect removes the connection and all of its memberships.
func (s *RealtimeService) Disconnect(id domain.ConnectionID) bool {
	return s.registry.Unregister(id)
}

// DisconnectAll removes every connection and returns their transports so
// the caller can close them.
func (s *RealtimeService) DisconnectAll() []ports.Transport {
	var transports []ports.Transport
	for _, id := range s.registry.IDs() {
		if conn, ok := s.registry.Get(id); ok {
			transports = append(transports, conn.Transport)
		}
		s.registry.Unregister(id)
	}
	return transports
}

// HandleClientMessage applies one client message. Errors are sentinel
// values for the transport to log; the connection stays open.
func (s *RealtimeService) HandleClientMessage(id domain.ConnectionID, msg domain.ClientMessage) error {
	conn, ok := s.registry.Get(id)
	if !ok {
		return apperrors.ErrConnectionNotFound
	}
	s.registry.Touch(id)

	switch msg.Type {
	case domain.ClientPing:
		s.fanout.Send(id, domain.ServerPong, nil)
		return nil

	case domain.ClientJoinWorkspace:
		var p domain.WorkspacePayload
		if err := msg.Decode(&p); err != nil {
			return err
		}
		if err := required("workspaceId", p.WorkspaceID); err != nil {
			return err
		}
		_, err := s.rooms.Join(id, domain.WorkspaceRoom(p.WorkspaceID))
		return err

	case domain.ClientLeaveWorkspace:
		var p domain.WorkspacePayload
		if err := msg.Decode(&p); err != nil {
			return err
		}
		if err := required("workspaceId", p.WorkspaceID); err != nil {
			return err
		}
		s.rooms.Leave(id, domain.WorkspaceRoom(p.WorkspaceID))
		return nil

	case domain.ClientJoinTask:
		var p domain.TaskPayload
		if err := msg.Decode(&p); err != nil {
			return err
		}
		if err := required("taskId", p.TaskID); err != nil {
			return err
		}
		if conn.ViewingTask != "" && conn.ViewingTask != p.TaskID && conn.Identified() {
			if _, err := s.typing.StopTyping(id, conn.ViewingTask); err != nil {
				return err
			}
		}
		conn.ViewingTask = p.TaskID
		return nil

	case domain.ClientLeaveTask:
		var p domain.TaskPayload
		if err := msg.Decode(&p); err != nil {
			return err
		}
		if err := required("taskId", p.TaskID); err != nil {
			return err
		}
		if conn.ViewingTask == p.TaskID {
			conn.ViewingTask = ""
		}
		if conn.Identified() {
			_, err := s.typing.StopTyping(id, p.TaskID)
			return err
		}
		return nil

	case domain.ClientStartTyping:
		var p domain.TaskPayload
		if err := msg.Decode(&p); err != nil {
			return err
		}
		if err := required("taskId", p.TaskID); err != nil {
			return err
		}
		_, err := s.typing.StartTyping(id, p.TaskID)
		return err

	case domain.ClientStopTyping:
		var p domain.TaskPayload
		if err := msg.Decode(&p); err != nil {
			return err
		}
		if err := required("taskId", p.TaskID); err != nil {
			return err
		}
		_, err := s.typing.StopTyping(id, p.TaskID)
		return err

	case domain.ClientUpdateTask:
		if !conn.Identified() {
			return apperrors.ErrNotIdentified
		}
		var p domain.UpdateTaskPayload
		if err := msg.Decode(&p); err != nil {
			return err
		}
		if err := required("taskId", p.TaskID); err != nil {
			return err
		}
		return s.router.Publish(domain.TaskUpdated{
			TaskID:             p.TaskID,
			ActorID:            conn.UserID(),
			Changes:            p.Changes,
			AssigneeID:         p.AssigneeID,
			PreviousAssigneeID: p.PreviousAssigneeID,
			Version:            p.Version,
			UpdatedAt:          s.clock.Now(),
		}, id)

	case domain.ClientAddComment:
		if !conn.Identified() {
			return apperrors.ErrNotIdentified
		}
		var p domain.AddCommentPayload
		if err := msg.Decode(&p); err != nil {
			return err
		}
		if err := required("taskId", p.TaskID); err != nil {
			return err
		}
		commentID := p.CommentID
		if commentID == "" {
			commentID = uuid.NewString()
		}
		return s.router.Publish(domain.CommentAdded{
			CommentID:  commentID,
			TaskID:     p.TaskID,
			AuthorID:   conn.UserID(),
			AuthorName: conn.Identity.DisplayName,
			Content:    p.Content,
			Mentions:   p.Mentions,
			AssigneeID: p.AssigneeID,
			CreatedAt:  s.clock.Now(),
		}, id)

	default:
		return fmt.Errorf("%w: %q", apperrors.ErrUnknownMessage, msg.Type)
	}
}

// Publish routes an event from the CRUD layer.
func (s *RealtimeService) Publish(event domain.Event) error {
	return s.router.Publish(event, "")
}

func (s *RealtimeService) Online(workspaceID string) []domain.PresenceEntry {
	return s.presence.Online(workspaceID)
}

func (s *RealtimeService) Stats() ports.RealtimeStats {
	return ports.RealtimeStats{
		Connections: s.registry.Count(),
		Rooms:       s.rooms.RoomCount(),
		Typing:      s.typing.Count(),
	}
}

// Connection returns a snapshot of a live connection.
func (s *RealtimeService) Connection(id domain.ConnectionID) (Connection, bool) {
	conn, ok := s.registry.Get(id)
	if !ok {
		return Connection{}, false
	}
	return *conn, true
}

// RoomsOf returns the rooms a connection belongs to.
func (s *RealtimeService) RoomsOf(id domain.ConnectionID) []domain.RoomID {
	return s.rooms.RoomsOf(id)
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s is required", apperrors.ErrInvalidPayload, field)
	}
	return nil
}
