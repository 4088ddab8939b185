package domain

import (
	"encoding/json"
	"fmt"
	"time"

	apperrors "github.com/lorrc/workspace-realtime/internal/core/errors"
)

// ClientMessageType is the wire name of a client-to-server message.
type ClientMessageType string

const (
	ClientIdentify       ClientMessageType = "identify"
	ClientJoinWorkspace  ClientMessageType = "join-workspace"
	ClientLeaveWorkspace ClientMessageType = "leave-workspace"
	ClientJoinTask       ClientMessageType = "join-task"
	ClientLeaveTask      ClientMessageType = "leave-task"
	ClientStartTyping    ClientMessageType = "start-typing"
	ClientStopTyping     ClientMessageType = "stop-typing"
	ClientUpdateTask     ClientMessageType = "update-task"
	ClientAddComment     ClientMessageType = "add-comment"
	ClientPing           ClientMessageType = "ping"
)

// ServerMessageType is the wire name of a server-to-client message.
// Domain events reuse their EventType as the message type.
type ServerMessageType string

const (
	ServerTaskUpdated  = ServerMessageType(EventTaskUpdated)
	ServerTaskCreated  = ServerMessageType(EventTaskCreated)
	ServerTaskDeleted  = ServerMessageType(EventTaskDeleted)
	ServerTaskMoved    = ServerMessageType(EventTaskMoved)
	ServerCommentAdded = ServerMessageType(EventCommentAdded)
	ServerFileUploaded = ServerMessageType(EventFileUploaded)
	ServerTaskShared   = ServerMessageType(EventTaskShared)
	ServerUserTyping   = ServerMessageType(EventUserTyping)

	ServerUserJoined   ServerMessageType = "user-joined"
	ServerUserLeft     ServerMessageType = "user-left"
	ServerUsersOnline  ServerMessageType = "users-online"
	ServerNotification ServerMessageType = "notification"
	ServerPong         ServerMessageType = "pong"
)

// ClientMessage is the envelope for every message sent from a client.
type ClientMessage struct {
	Type    ClientMessageType `json:"type"`
	Payload json.RawMessage   `json:"payload,omitempty"`
}

// NewClientMessage marshals payload into a client envelope.
func NewClientMessage(msgType ClientMessageType, payload any) (ClientMessage, error) {
	msg := ClientMessage{Type: msgType}
	if payload == nil {
		return msg, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return ClientMessage{}, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	msg.Payload = data
	return msg, nil
}

// Decode unmarshals the payload into v.
func (m ClientMessage) Decode(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%w: %s has no payload", apperrors.ErrInvalidPayload, m.Type)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrInvalidPayload, err)
	}
	return nil
}

// ServerMessage is the envelope for every message sent to a client.
// ID is unique per delivery so clients can drop duplicates.
type ServerMessage struct {
	ID      string            `json:"id"`
	Type    ServerMessageType `json:"type"`
	Room    RoomID            `json:"room,omitempty"`
	Payload json.RawMessage   `json:"payload,omitempty"`
	SentAt  time.Time         `json:"sentAt"`
}

// Decode unmarshals the payload into v.
func (m ServerMessage) Decode(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%w: %s has no payload", apperrors.ErrInvalidPayload, m.Type)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrInvalidPayload, err)
	}
	return nil
}

// --- Client payloads ---

type IdentifyPayload struct {
	Token string `json:"token"`
}

type WorkspacePayload struct {
	WorkspaceID string `json:"workspaceId"`
}

type TaskPayload struct {
	TaskID string `json:"taskId"`
}

type UpdateTaskPayload struct {
	TaskID             string         `json:"taskId"`
	Changes            map[string]any `json:"changes"`
	AssigneeID         string         `json:"assigneeId,omitempty"`
	PreviousAssigneeID string         `json:"previousAssigneeId,omitempty"`
	Version            int64          `json:"version,omitempty"`
}

type AddCommentPayload struct {
	TaskID     string   `json:"taskId"`
	CommentID  string   `json:"commentId,omitempty"`
	Content    string   `json:"content"`
	Mentions   []string `json:"mentions,omitempty"`
	AssigneeID string   `json:"assigneeId,omitempty"`
}

// --- Server payloads ---

type TypingPayload struct {
	TaskID   string `json:"taskId"`
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

type PresencePayload struct {
	WorkspaceID string        `json:"workspaceId"`
	User        PresenceEntry `json:"user"`
}

type UserLeftPayload struct {
	WorkspaceID string `json:"workspaceId"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName,omitempty"`
}

type UsersOnlinePayload struct {
	WorkspaceID string          `json:"workspaceId"`
	Users       []PresenceEntry `json:"users"`
}
