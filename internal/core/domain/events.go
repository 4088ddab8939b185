package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/lorrc/workspace-realtime/internal/core/errors"
)

// EventType is the wire name of a domain event relayed by the router.
type EventType string

const (
	EventTaskUpdated  EventType = "task-updated"
	EventTaskCreated  EventType = "task-created"
	EventTaskDeleted  EventType = "task-deleted"
	EventTaskMoved    EventType = "task-moved"
	EventCommentAdded EventType = "comment-added"
	EventFileUploaded EventType = "file-uploaded"
	EventTaskShared   EventType = "task-shared"
	EventUserTyping   EventType = "user-typing"
)

// EventTypes lists every event variant in routing order.
var EventTypes = []EventType{
	EventTaskUpdated,
	EventTaskCreated,
	EventTaskDeleted,
	EventTaskMoved,
	EventCommentAdded,
	EventFileUploaded,
	EventTaskShared,
	EventUserTyping,
}

// Event is the closed set of domain events. Only types in this package
// can implement it, so routing switches see every variant.
type Event interface {
	EventType() EventType
	// Workspace returns the workspace the event belongs to, possibly empty.
	Workspace() string
	Validate() error
	sealed()
}

// TaskUpdated carries the changed fields of a task.
type TaskUpdated struct {
	TaskID             string         `json:"taskId"`
	WorkspaceID        string         `json:"workspaceId"`
	TaskTitle          string         `json:"taskTitle,omitempty"`
	ActorID            string         `json:"actorId,omitempty"`
	Changes            map[string]any `json:"changes,omitempty"`
	AssigneeID         string         `json:"assigneeId,omitempty"`
	PreviousAssigneeID string         `json:"previousAssigneeId,omitempty"`
	Version            int64          `json:"version,omitempty"`
	UpdatedAt          time.Time      `json:"updatedAt"`
}

// AssigneeChanged reports whether the update hands the task to a new assignee.
func (e TaskUpdated) AssigneeChanged() bool {
	return e.AssigneeID != "" && e.AssigneeID != e.PreviousAssigneeID
}

// TaskCreated announces a new task in a list.
type TaskCreated struct {
	TaskID      string    `json:"taskId"`
	WorkspaceID string    `json:"workspaceId"`
	ListID      string    `json:"listId,omitempty"`
	Title       string    `json:"title"`
	Status      string    `json:"status,omitempty"`
	AssigneeID  string    `json:"assigneeId,omitempty"`
	ActorID     string    `json:"actorId,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// TaskDeleted announces a removed task.
type TaskDeleted struct {
	TaskID      string `json:"taskId"`
	WorkspaceID string `json:"workspaceId"`
	ListID      string `json:"listId,omitempty"`
	ActorID     string `json:"actorId,omitempty"`
}

// TaskMoved announces a task moving between lists or positions.
type TaskMoved struct {
	TaskID      string `json:"taskId"`
	WorkspaceID string `json:"workspaceId"`
	FromListID  string `json:"fromListId,omitempty"`
	ToListID    string `json:"toListId"`
	Position    int    `json:"position"`
	ActorID     string `json:"actorId,omitempty"`
}

// CommentAdded announces a new comment. AssigneeID is the task's assignee at
// the time of the comment and drives the private notification.
type CommentAdded struct {
	CommentID   string    `json:"commentId"`
	TaskID      string    `json:"taskId"`
	WorkspaceID string    `json:"workspaceId"`
	TaskTitle   string    `json:"taskTitle,omitempty"`
	AuthorID    string    `json:"authorId"`
	AuthorName  string    `json:"authorName,omitempty"`
	Content     string    `json:"content"`
	Mentions    []string  `json:"mentions,omitempty"`
	AssigneeID  string    `json:"assigneeId,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// FileUploaded announces an attachment on a task.
type FileUploaded struct {
	FileID      string `json:"fileId"`
	TaskID      string `json:"taskId"`
	WorkspaceID string `json:"workspaceId"`
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType,omitempty"`
	Size        int64  `json:"size,omitempty"`
	UploadedBy  string `json:"uploadedBy,omitempty"`
}

// TaskShared is a targeted grant to one user.
type TaskShared struct {
	TaskID           string `json:"taskId"`
	WorkspaceID      string `json:"workspaceId,omitempty"`
	TaskTitle        string `json:"taskTitle,omitempty"`
	SharedWithUserID string `json:"sharedWithUserId"`
	SharedByUserID   string `json:"sharedByUserId,omitempty"`
	SharedByName     string `json:"sharedByName,omitempty"`
	Permission       string `json:"permission,omitempty"`
}

// UserTyping is the typing edge of one user on one task.
type UserTyping struct {
	TaskID      string `json:"taskId"`
	UserID      string `json:"userId"`
	WorkspaceID string `json:"workspaceId,omitempty"`
	IsTyping    bool   `json:"isTyping"`
}

func (TaskUpdated) EventType() EventType  { return EventTaskUpdated }
func (TaskCreated) EventType() EventType  { return EventTaskCreated }
func (TaskDeleted) EventType() EventType  { return EventTaskDeleted }
func (TaskMoved) EventType() EventType    { return EventTaskMoved }
func (CommentAdded) EventType() EventType { return EventCommentAdded }
func (FileUploaded) EventType() EventType { return EventFileUploaded }
func (TaskShared) EventType() EventType   { return EventTaskShared }
func (UserTyping) EventType() EventType   { return EventUserTyping }

func (e TaskUpdated) Workspace() string  { return e.WorkspaceID }
func (e TaskCreated) Workspace() string  { return e.WorkspaceID }
func (e TaskDeleted) Workspace() string  { return e.WorkspaceID }
func (e TaskMoved) Workspace() string    { return e.WorkspaceID }
func (e CommentAdded) Workspace() string { return e.WorkspaceID }
func (e FileUploaded) Workspace() string { return e.WorkspaceID }
func (e TaskShared) Workspace() string   { return e.WorkspaceID }
func (e UserTyping) Workspace() string   { return e.WorkspaceID }

func (TaskUpdated) sealed()  {}
func (TaskCreated) sealed()  {}
func (TaskDeleted) sealed()  {}
func (TaskMoved) sealed()    {}
func (CommentAdded) sealed() {}
func (FileUploaded) sealed() {}
func (TaskShared) sealed()   {}
func (UserTyping) sealed()   {}

type fieldCheck struct {
	field string
	value string
}

func requireFields(checks ...fieldCheck) error {
	errs := apperrors.NewValidationErrors()
	for _, c := range checks {
		if strings.TrimSpace(c.value) == "" {
			errs.Add(c.field, "This field is required")
		}
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}

func (e TaskUpdated) Validate() error {
	return requireFields(fieldCheck{"taskId", e.TaskID})
}

func (e TaskCreated) Validate() error {
	return requireFields(fieldCheck{"taskId", e.TaskID})
}

func (e TaskDeleted) Validate() error {
	return requireFields(fieldCheck{"taskId", e.TaskID})
}

func (e TaskMoved) Validate() error {
	return requireFields(fieldCheck{"taskId", e.TaskID}, fieldCheck{"toListId", e.ToListID})
}

func (e CommentAdded) Validate() error {
	return requireFields(
		fieldCheck{"taskId", e.TaskID},
		fieldCheck{"authorId", e.AuthorID},
	)
}

func (e FileUploaded) Validate() error {
	return requireFields(fieldCheck{"taskId", e.TaskID}, fieldCheck{"fileId", e.FileID})
}

func (e TaskShared) Validate() error {
	return requireFields(
		fieldCheck{"taskId", e.TaskID},
		fieldCheck{"sharedWithUserId", e.SharedWithUserID},
	)
}

func (e UserTyping) Validate() error {
	return requireFields(fieldCheck{"taskId", e.TaskID}, fieldCheck{"userId", e.UserID})
}

// RequiresWorkspace reports whether events of type t fan out to a workspace
// room. Task shares go to the recipient's user room instead.
func RequiresWorkspace(t EventType) bool {
	return t != EventTaskShared
}

// WithWorkspace returns a copy of the event scoped to workspaceID.
// Events that already name a workspace are returned unchanged.
func WithWorkspace(event Event, workspaceID string) Event {
	if event.Workspace() != "" {
		return event
	}
	switch e := event.(type) {
	case TaskUpdated:
		e.WorkspaceID = workspaceID
		return e
	case TaskCreated:
		e.WorkspaceID = workspaceID
		return e
	case TaskDeleted:
		e.WorkspaceID = workspaceID
		return e
	case TaskMoved:
		e.WorkspaceID = workspaceID
		return e
	case CommentAdded:
		e.WorkspaceID = workspaceID
		return e
	case FileUploaded:
		e.WorkspaceID = workspaceID
		return e
	case TaskShared:
		e.WorkspaceID = workspaceID
		return e
	case UserTyping:
		e.WorkspaceID = workspaceID
		return e
	}
	return event
}

// DecodeEvent decodes a wire payload into the variant named by eventType.
func DecodeEvent(eventType EventType, payload json.RawMessage) (Event, error) {
	switch eventType {
	case EventTaskUpdated:
		return decodeAs[TaskUpdated](payload)
	case EventTaskCreated:
		return decodeAs[TaskCreated](payload)
	case EventTaskDeleted:
		return decodeAs[TaskDeleted](payload)
	case EventTaskMoved:
		return decodeAs[TaskMoved](payload)
	case EventCommentAdded:
		return decodeAs[CommentAdded](payload)
	case EventFileUploaded:
		return decodeAs[FileUploaded](payload)
	case EventTaskShared:
		return decodeAs[TaskShared](payload)
	case EventUserTyping:
		return decodeAs[UserTyping](payload)
	default:
		return nil, fmt.Errorf("%w: %q", apperrors.ErrUnknownEvent, eventType)
	}
}

func decodeAs[T Event](payload json.RawMessage) (Event, error) {
	var e T
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", apperrors.ErrInvalidPayload)
	}
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidPayload, err)
	}
	return e, nil
}
