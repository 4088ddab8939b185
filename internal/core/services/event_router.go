package services

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/lorrc/workspace-realtime/internal/core/domain"
	apperrors "github.com/lorrc/workspace-realtime/internal/core/errors"
	"github.com/lorrc/workspace-realtime/internal/core/ports"
)

// EventRouter relays domain events to rooms. Workspace updates reach every
// member including the origin; clients de-duplicate by message id.
type EventRouter struct {
	rooms    *RoomManager
	presence *PresenceTracker
	fanout   *Fanout
	clock    ports.Clock
	logger   *slog.Logger
}

func NewEventRouter(rooms *RoomManager, presence *PresenceTracker, fanout *Fanout, clock ports.Clock, logger *slog.Logger) *EventRouter {
	return &EventRouter{
		rooms:    rooms,
		presence: presence,
		fanout:   fanout,
		clock:    clock,
		logger:   logger.With("component", "event_router"),
	}
}

// Publish routes event. origin is the publishing connection, or "" when the
// CRUD layer publishes. Events without a workspace inherit the origin's.
func (r *EventRouter) Publish(event domain.Event, origin domain.ConnectionID) error {
	if event == nil {
		return fmt.Errorf("%w: nil event", apperrors.ErrInvalidEvent)
	}
	if event.Workspace() == "" && origin != "" {
		if workspaceID, ok := r.rooms.WorkspaceOf(origin); ok {
			event = domain.WithWorkspace(event, workspaceID)
		}
	}
	if err := event.Validate(); err != nil {
		return err
	}

	switch e := event.(type) {
	case domain.TaskUpdated:
		if err := r.broadcast(e); err != nil {
			return err
		}
		if e.AssigneeChanged() {
			r.notify(e.AssigneeID, domain.NotificationTaskAssigned, e.TaskID, e.WorkspaceID, e.ActorID,
				"Task assigned", fmt.Sprintf("You were assigned to %s", quoteTitle(e.TaskTitle, e.TaskID)))
		}
		return nil

	case domain.CommentAdded:
		if err := r.broadcast(e); err != nil {
			return err
		}
		r.notifyComment(e)
		return nil

	case domain.TaskCreated, domain.TaskDeleted, domain.TaskMoved, domain.FileUploaded, domain.UserTyping:
		return r.broadcast(e)

	case domain.TaskShared:
		r.share(e)
		return nil

	default:
		return fmt.Errorf("%w: %T", apperrors.ErrUnknownEvent, event)
	}
}

func (r *EventRouter) broadcast(event domain.Event) error {
	workspaceID := event.Workspace()
	if strings.TrimSpace(workspaceID) == "" {
		return fmt.Errorf("%w: %s has no workspace", apperrors.ErrInvalidEvent, event.EventType())
	}

	room := domain.WorkspaceRoom(workspaceID)
	delivered := r.fanout.Broadcast(room, domain.ServerMessageType(event.EventType()), event)
	r.logger.Debug("event routed",
		"event_type", event.EventType(),
		"room", room,
		"delivered", delivered,
	)
	return nil
}

// notifyComment notifies the assignee, unless they wrote the comment, and
// every mentioned user not already notified.
func (r *EventRouter) notifyComment(e domain.CommentAdded) {
	author := e.AuthorName
	if author == "" {
		author = "Someone"
	}
	title := quoteTitle(e.TaskTitle, e.TaskID)

	notified := map[string]bool{e.AuthorID: true}
	if e.AssigneeID != "" && e.AssigneeID != e.AuthorID {
		r.notify(e.AssigneeID, domain.NotificationCommentAdded, e.TaskID, e.WorkspaceID, e.AuthorID,
			"New comment", fmt.Sprintf("%s commented on %s", author, title))
		notified[e.AssigneeID] = true
	}

	for _, userID := range e.Mentions {
		userID = strings.TrimSpace(userID)
		if userID == "" || notified[userID] {
			continue
		}
		notified[userID] = true
		r.notify(userID, domain.NotificationMention, e.TaskID, e.WorkspaceID, e.AuthorID,
			"You were mentioned", fmt.Sprintf("%s mentioned you on %s", author, title))
	}
}

// share delivers a task grant to the target's private room only.
func (r *EventRouter) share(e domain.TaskShared) {
	room := domain.UserRoom(e.SharedWithUserID)
	if r.fanout.Broadcast(room, domain.ServerTaskShared, e) == 0 {
		// No store-and-forward: an offline target never sees this share
		// through the realtime channel.
		r.logger.Debug("share target offline, dropped",
			"room", room,
			"task_id", e.TaskID,
		)
		return
	}

	by := e.SharedByName
	if by == "" {
		by = "Someone"
	}
	r.notify(e.SharedWithUserID, domain.NotificationTaskShared, e.TaskID, e.WorkspaceID, e.SharedByUserID,
		"Task shared with you", fmt.Sprintf("%s shared %s with you", by, quoteTitle(e.TaskTitle, e.TaskID)))
}

func (r *EventRouter) notify(userID string, kind domain.NotificationType, taskID, workspaceID, actorID, title, message string) {
	room := domain.UserRoom(userID)
	envelope := domain.NotificationEnvelope{
		ID:          uuid.NewString(),
		Type:        kind,
		Title:       title,
		Message:     message,
		Room:        room,
		TaskID:      taskID,
		WorkspaceID: workspaceID,
		ActorID:     actorID,
		CreatedAt:   r.clock.Now(),
	}

	delivered := r.fanout.Broadcast(room, domain.ServerNotification, envelope)
	if delivered == 0 {
		r.logger.Debug("notification target offline",
			"room", room,
			"notification_type", kind,
			"online_in_workspace", r.presence.IsOnline(workspaceID, userID),
		)
	}
}

func quoteTitle(title, taskID string) string {
	if title == "" {
		return "task " + taskID
	}
	return fmt.Sprintf("%q", title)
}
