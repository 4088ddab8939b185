package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lorrc/workspace-realtime/internal/core/domain"
	apperrors "github.com/lorrc/workspace-realtime/internal/core/errors"
	"github.com/lorrc/workspace-realtime/internal/core/ports"
)

const (
	getActiveUserSQL = `
SELECT id, org_id, full_name, avatar_url
FROM users
WHERE id = $1 AND is_active`

	upsertUserSQL = `
INSERT INTO users (id, org_id, full_name, avatar_url)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE
SET org_id = EXCLUDED.org_id,
    full_name = EXCLUDED.full_name,
    avatar_url = EXCLUDED.avatar_url,
    is_active = TRUE,
    updated_at = NOW()`

	deactivateUserSQL = `
UPDATE users SET is_active = FALSE, updated_at = NOW()
WHERE id = $1`
)

// UserDirectory reads display profiles from the users table owned by the
// CRUD service.
type UserDirectory struct {
	pool *pgxpool.Pool
}

var _ ports.IdentityDirectory = (*UserDirectory)(nil)

func NewUserDirectory(pool *pgxpool.Pool) *UserDirectory {
	return &UserDirectory{pool: pool}
}

// Lookup returns the active user's profile, or ErrUserNotFound.
func (d *UserDirectory) Lookup(ctx context.Context, userID string) (*domain.UserIdentity, error) {
	var identity domain.UserIdentity
	err := d.pool.QueryRow(ctx, getActiveUserSQL, userID).Scan(
		&identity.UserID,
		&identity.OrgID,
		&identity.DisplayName,
		&identity.AvatarURL,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrUserNotFound
		}
		return nil, fmt.Errorf("lookup user %s: %w", userID, err)
	}
	return &identity, nil
}

// Upsert writes a profile and reactivates it.
func (d *UserDirectory) Upsert(ctx context.Context, identity domain.UserIdentity) error {
	if err := identity.Validate(); err != nil {
		return err
	}
	if _, err := d.pool.Exec(ctx, upsertUserSQL,
		identity.UserID,
		identity.OrgID,
		identity.DisplayName,
		identity.AvatarURL,
	); err != nil {
		return fmt.Errorf("upsert user %s: %w", identity.UserID, err)
	}
	return nil
}

// Deactivate hides a user from Lookup.
func (d *UserDirectory) Deactivate(ctx context.Context, userID string) error {
	tag, err := d.pool.Exec(ctx, deactivateUserSQL, userID)
	if err != nil {
		return fmt.Errorf("deactivate user %s: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrUserNotFound
	}
	return nil
}
