package services

import (
	"log/slog"
	"sort"

	"github.com/lorrc/workspace-realtime/internal/core/domain"
	apperrors "github.com/lorrc/workspace-realtime/internal/core/errors"
)

// MembershipListener observes membership transitions. Callbacks run after
// the membership change is applied.
type MembershipListener interface {
	MemberJoined(conn *Connection, room domain.RoomID)
	MemberLeft(conn *Connection, room domain.RoomID)
}

// RoomManager is the only writer of room membership.
type RoomManager struct {
	registry  *ConnectionRegistry
	logger    *slog.Logger
	rooms     map[domain.RoomID]map[domain.ConnectionID]struct{}
	byConn    map[domain.ConnectionID]map[domain.RoomID]struct{}
	workspace map[domain.ConnectionID]domain.RoomID
	listeners []MembershipListener
}

// NewRoomManager wires itself into registry so unregistering a connection
// removes all of its memberships in the same call.
func NewRoomManager(registry *ConnectionRegistry, logger *slog.Logger) *RoomManager {
	m := &RoomManager{
		registry:  registry,
		logger:    logger.With("component", "room_manager"),
		rooms:     make(map[domain.RoomID]map[domain.ConnectionID]struct{}),
		byConn:    make(map[domain.ConnectionID]map[domain.RoomID]struct{}),
		workspace: make(map[domain.ConnectionID]domain.RoomID),
	}
	registry.OnUnregister(m.leaveAll)
	return m
}

func (m *RoomManager) Subscribe(listener MembershipListener) {
	m.listeners = append(m.listeners, listener)
}

// Join adds the connection to room. It reports false when the connection
// was already a member. Joining a second workspace room leaves the first.
func (m *RoomManager) Join(id domain.ConnectionID, room domain.RoomID) (bool, error) {
	conn, ok := m.registry.Get(id)
	if !ok {
		return false, apperrors.ErrConnectionNotFound
	}
	if err := m.authorize(conn, room); err != nil {
		return false, err
	}
	if m.IsMember(id, room) {
		return false, nil
	}

	if room.IsWorkspace() {
		if current, ok := m.workspace[id]; ok {
			m.Leave(id, current)
		}
		m.workspace[id] = room
	}

	if m.rooms[room] == nil {
		m.rooms[room] = make(map[domain.ConnectionID]struct{})
	}
	m.rooms[room][id] = struct{}{}
	if m.byConn[id] == nil {
		m.byConn[id] = make(map[domain.RoomID]struct{})
	}
	m.byConn[id][room] = struct{}{}

	m.logger.Debug("joined room",
		"connection_id", id,
		"room", room,
		"members", len(m.rooms[room]),
	)

	for _, l := range m.listeners {
		l.MemberJoined(conn, room)
	}
	return true, nil
}

// Leave removes the connection from room. Leaving a room the connection is
// not in is a no-op and reports false.
func (m *RoomManager) Leave(id domain.ConnectionID, room domain.RoomID) bool {
	members, ok := m.rooms[room]
	if !ok {
		return false
	}
	if _, ok := members[id]; !ok {
		return false
	}

	delete(members, id)
	if len(members) == 0 {
		delete(m.rooms, room)
	}
	if rooms := m.byConn[id]; rooms != nil {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(m.byConn, id)
		}
	}
	if m.workspace[id] == room {
		delete(m.workspace, id)
	}

	m.logger.Debug("left room",
		"connection_id", id,
		"room", room,
		"members", len(members),
	)

	if conn, ok := m.registry.Get(id); ok {
		for _, l := range m.listeners {
			l.MemberLeft(conn, room)
		}
	}
	return true
}

// MembersOf returns the sorted member ids of room.
func (m *RoomManager) MembersOf(room domain.RoomID) []domain.ConnectionID {
	members := m.rooms[room]
	ids := make([]domain.ConnectionID, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// RoomsOf returns the rooms a connection belongs to, workspace rooms first.
func (m *RoomManager) RoomsOf(id domain.ConnectionID) []domain.RoomID {
	rooms := make([]domain.RoomID, 0, len(m.byConn[id]))
	for room := range m.byConn[id] {
		rooms = append(rooms, room)
	}
	sort.Slice(rooms, func(i, j int) bool {
		wi, wj := rooms[i].IsWorkspace(), rooms[j].IsWorkspace()
		if wi != wj {
			return wi
		}
		return rooms[i] < rooms[j]
	})
	return rooms
}

// WorkspaceOf returns the workspace id the connection is currently in.
func (m *RoomManager) WorkspaceOf(id domain.ConnectionID) (string, bool) {
	room, ok := m.workspace[id]
	if !ok {
		return "", false
	}
	return room.Target(), true
}

func (m *RoomManager) IsMember(id domain.ConnectionID, room domain.RoomID) bool {
	_, ok := m.rooms[room][id]
	return ok
}

func (m *RoomManager) RoomCount() int {
	return len(m.rooms)
}

func (m *RoomManager) authorize(conn *Connection, room domain.RoomID) error {
	if !room.Valid() {
		return apperrors.ErrInvalidRoom
	}
	if !conn.Identified() {
		return apperrors.ErrNotIdentified
	}
	if room.IsUser() && room.Target() != conn.UserID() {
		return apperrors.ErrForbidden
	}
	return nil
}

func (m *RoomManager) leaveAll(conn *Connection) {
	for _, room := range m.RoomsOf(conn.ID) {
		m.Leave(conn.ID, room)
	}
}
