package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lorrc/workspace-realtime/internal/core/domain"
	apperrors "github.com/lorrc/workspace-realtime/internal/core/errors"
	"github.com/lorrc/workspace-realtime/internal/core/ports"
)

// IdentityService resolves session tokens into identities, enriching the
// token claims with the directory profile when one is configured.
type IdentityService struct {
	tokens    ports.TokenValidator
	directory ports.IdentityDirectory
	logger    *slog.Logger
}

var _ ports.IdentityResolver = (*IdentityService)(nil)

// NewIdentityService creates a resolver. directory may be nil.
func NewIdentityService(tokens ports.TokenValidator, directory ports.IdentityDirectory, logger *slog.Logger) *IdentityService {
	return &IdentityService{
		tokens:    tokens,
		directory: directory,
		logger:    logger.With("component", "identity_service"),
	}
}

func (s *IdentityService) Resolve(ctx context.Context, token string) (*domain.UserIdentity, error) {
	if strings.TrimSpace(token) == "" {
		return nil, apperrors.ErrInvalidToken
	}

	identity, err := s.tokens.Validate(token)
	if err != nil {
		return nil, err
	}
	if s.directory == nil {
		return identity, nil
	}

	profile, err := s.directory.Lookup(ctx, identity.UserID)
	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		return nil, fmt.Errorf("%w: %v", apperrors.ErrUnauthorized, err)
	case err != nil:
		// Directory outages degrade to token claims rather than locking
		// users out of realtime updates.
		s.logger.WarnContext(ctx, "identity directory lookup failed",
			"user_id", identity.UserID,
			"error", err,
		)
		return identity, nil
	}

	resolved := *identity
	if profile.DisplayName != "" {
		resolved.DisplayName = profile.DisplayName
	}
	if profile.AvatarURL != "" {
		resolved.AvatarURL = profile.AvatarURL
	}
	if resolved.OrgID == "" {
		resolved.OrgID = profile.OrgID
	}
	return &resolved, nil
}
