package domain

import "time"

// NotificationType classifies a targeted notification.
type NotificationType string

const (
	NotificationTaskAssigned NotificationType = "task-assigned"
	NotificationCommentAdded NotificationType = "comment-added"
	NotificationMention      NotificationType = "mention"
	NotificationTaskShared   NotificationType = "task-shared"
)

// NotificationEnvelope is a delivered notification. Delivery is at-most-once:
// the server keeps no copy, clients keep a bounded ring of recent ones.
type NotificationEnvelope struct {
	ID          string           `json:"id"`
	Type        NotificationType `json:"type"`
	Title       string           `json:"title"`
	Message     string           `json:"message"`
	Room        RoomID           `json:"room"`
	TaskID      string           `json:"taskId,omitempty"`
	WorkspaceID string           `json:"workspaceId,omitempty"`
	ActorID     string           `json:"actorId,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
}
