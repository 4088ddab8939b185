package domain

import (
	"strings"

	apperrors "github.com/lorrc/workspace-realtime/internal/core/errors"
)

// UserIdentity is the authenticated identity attached to a connection.
// It is supplied by the external auth/session system at handshake or identify time.
type UserIdentity struct {
	UserID      string `json:"userId"`
	OrgID       string `json:"orgId,omitempty"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// Validate checks that the identity names a user.
func (u UserIdentity) Validate() error {
	if strings.TrimSpace(u.UserID) == "" {
		return apperrors.ErrIdentityRequired
	}
	return nil
}

// PresenceEntry is the derived "online in a workspace" view of a user.
type PresenceEntry struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// PresenceEntry projects the identity onto its presence fields.
func (u UserIdentity) PresenceEntry() PresenceEntry {
	return PresenceEntry{
		UserID:      u.UserID,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
	}
}
