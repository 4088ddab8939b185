package services

import (
	"log/slog"
	"sort"

	"github.com/lorrc/workspace-realtime/internal/core/domain"
	"github.com/lorrc/workspace-realtime/internal/core/ports"
)

type presenceCount struct {
	entry       domain.PresenceEntry
	connections int
}

// PresenceTracker derives per-workspace online users from workspace room
// membership. Only the first connection and the last disconnection of a
// user change presence.
type PresenceTracker struct {
	fanout *Fanout
	mirror ports.PresenceMirror
	logger *slog.Logger
	// workspace id -> user id -> count
	online map[string]map[string]*presenceCount
}

// NewPresenceTracker creates a tracker. mirror may be nil.
func NewPresenceTracker(fanout *Fanout, mirror ports.PresenceMirror, logger *slog.Logger) *PresenceTracker {
	return &PresenceTracker{
		fanout: fanout,
		mirror: mirror,
		logger: logger.With("component", "presence_tracker"),
		online: make(map[string]map[string]*presenceCount),
	}
}

var _ MembershipListener = (*PresenceTracker)(nil)

func (p *PresenceTracker) MemberJoined(conn *Connection, room domain.RoomID) {
	if !room.IsWorkspace() || !conn.Identified() {
		return
	}
	workspaceID := room.Target()
	entry := conn.Identity.PresenceEntry()

	users := p.online[workspaceID]
	if users == nil {
		users = make(map[string]*presenceCount)
		p.online[workspaceID] = users
	}
	count := users[entry.UserID]
	if count == nil {
		count = &presenceCount{}
		users[entry.UserID] = count
	}
	count.entry = entry
	count.connections++

	if count.connections == 1 {
		p.logger.Debug("user online", "workspace_id", workspaceID, "user_id", entry.UserID)
		p.fanout.Broadcast(room, domain.ServerUserJoined, domain.PresencePayload{
			WorkspaceID: workspaceID,
			User:        entry,
		})
		if p.mirror != nil {
			p.mirror.Online(workspaceID, entry)
		}
	}

	p.fanout.Send(conn.ID, domain.ServerUsersOnline, domain.UsersOnlinePayload{
		WorkspaceID: workspaceID,
		Users:       p.Online(workspaceID),
	})
}

func (p *PresenceTracker) MemberLeft(conn *Connection, room domain.RoomID) {
	if !room.IsWorkspace() || !conn.Identified() {
		return
	}
	workspaceID := room.Target()
	userID := conn.UserID()

	users := p.online[workspaceID]
	count := users[userID]
	if count == nil {
		return
	}
	count.connections--
	if count.connections > 0 {
		return
	}

	delete(users, userID)
	if len(users) == 0 {
		delete(p.online, workspaceID)
	}

	p.logger.Debug("user offline", "workspace_id", workspaceID, "user_id", userID)
	p.fanout.Broadcast(room, domain.ServerUserLeft, domain.UserLeftPayload{
		WorkspaceID: workspaceID,
		UserID:      userID,
		DisplayName: count.entry.DisplayName,
	})
	if p.mirror != nil {
		p.mirror.Offline(workspaceID, userID)
	}
}

// Online returns the users online in a workspace ordered by display name.
func (p *PresenceTracker) Online(workspaceID string) []domain.PresenceEntry {
	users := p.online[workspaceID]
	entries := make([]domain.PresenceEntry, 0, len(users))
	for _, c := range users {
		entries = append(entries, c.entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].DisplayName != entries[j].DisplayName {
			return entries[i].DisplayName < entries[j].DisplayName
		}
		return entries[i].UserID < entries[j].UserID
	})
	return entries
}

func (p *PresenceTracker) IsOnline(workspaceID, userID string) bool {
	_, ok := p.online[workspaceID][userID]
	return ok
}
