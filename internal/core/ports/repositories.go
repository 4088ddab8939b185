package ports

import (
	"context"

	"github.com/lorrc/workspace-realtime/internal/core/domain"
)

// IdentityDirectory looks up the profile shown in presence lists.
// It returns apperrors.ErrUserNotFound for unknown or inactive users.
type IdentityDirectory interface {
	Lookup(ctx context.Context, userID string) (*domain.UserIdentity, error)
}

// PresenceMirror receives presence transitions for out-of-process readers.
// Calls come from the hub loop and must not block.
type PresenceMirror interface {
	Online(workspaceID string, entry domain.PresenceEntry)
	Offline(workspaceID, userID string)
}
