package domain

import (
	"strings"
)

// ConnectionID identifies one live transport connection. It is opaque to clients.
type ConnectionID string

// RoomKind distinguishes the two broadcast group kinds.
type RoomKind string

const (
	RoomKindUser      RoomKind = "user"
	RoomKindWorkspace RoomKind = "workspace"
)

// RoomID is a named broadcast group, e.g. "user:42" or "workspace:w1".
type RoomID string

// UserRoom returns the private notification room of a user.
func UserRoom(userID string) RoomID {
	return RoomID(string(RoomKindUser) + ":" + userID)
}

// WorkspaceRoom returns the broadcast room of a workspace.
func WorkspaceRoom(workspaceID string) RoomID {
	return RoomID(string(RoomKindWorkspace) + ":" + workspaceID)
}

// ParseRoomID validates a raw room name.
func ParseRoomID(raw string) (RoomID, bool) {
	room := RoomID(raw)
	return room, room.Valid()
}

// Kind returns the room kind, or "" if the name has no known prefix.
func (r RoomID) Kind() RoomKind {
	kind, _, ok := strings.Cut(string(r), ":")
	if !ok {
		return ""
	}
	switch RoomKind(kind) {
	case RoomKindUser, RoomKindWorkspace:
		return RoomKind(kind)
	default:
		return ""
	}
}

// Target returns the user or workspace id the room is named after.
func (r RoomID) Target() string {
	_, target, _ := strings.Cut(string(r), ":")
	return target
}

// Valid reports whether the room has a known kind and a non-empty target.
func (r RoomID) Valid() bool {
	return r.Kind() != "" && strings.TrimSpace(r.Target()) != ""
}

// IsWorkspace reports whether r is a workspace room.
func (r RoomID) IsWorkspace() bool {
	return r.Kind() == RoomKindWorkspace
}

// IsUser reports whether r is a per-user room.
func (r RoomID) IsUser() bool {
	return r.Kind() == RoomKindUser
}

func (r RoomID) String() string {
	return string(r)
}
