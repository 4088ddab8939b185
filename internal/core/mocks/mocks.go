package mocks

import (
	"context"

	"github.com/lorrc/workspace-realtime/internal/core/domain"
	"github.com/lorrc/workspace-realtime/internal/core/ports"
	"github.com/stretchr/testify/mock"
)

// MockTokenValidator is a mock implementation of ports.TokenValidator
type MockTokenValidator struct {
	mock.Mock
}

func NewMockTokenValidator() *MockTokenValidator {
	return &MockTokenValidator{}
}

func (m *MockTokenValidator) Validate(token string) (*domain.UserIdentity, error) {
	args := m.Called(token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.UserIdentity), args.Error(1)
}

// MockIdentityDirectory is a mock implementation of ports.IdentityDirectory
type MockIdentityDirectory struct {
	mock.Mock
}

func NewMockIdentityDirectory() *MockIdentityDirectory {
	return &MockIdentityDirectory{}
}

func (m *MockIdentityDirectory) Lookup(ctx context.Context, userID string) (*domain.UserIdentity, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.UserIdentity), args.Error(1)
}

// MockIdentityResolver is a mock implementation of ports.IdentityResolver
type MockIdentityResolver struct {
	mock.Mock
}

func NewMockIdentityResolver() *MockIdentityResolver {
	return &MockIdentityResolver{}
}

func (m *MockIdentityResolver) Resolve(ctx context.Context, token string) (*domain.UserIdentity, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.UserIdentity), args.Error(1)
}

// MockPresenceMirror is a mock implementation of ports.PresenceMirror
type MockPresenceMirror struct {
	mock.Mock
}

func NewMockPresenceMirror() *MockPresenceMirror {
	return &MockPresenceMirror{}
}

func (m *MockPresenceMirror) Online(workspaceID string, entry domain.PresenceEntry) {
	m.Called(workspaceID, entry)
}

func (m *MockPresenceMirror) Offline(workspaceID, userID string) {
	m.Called(workspaceID, userID)
}

// MockEventPublisher is a mock implementation of ports.EventPublisher
type MockEventPublisher struct {
	mock.Mock
}

func NewMockEventPublisher() *MockEventPublisher {
	return &MockEventPublisher{}
}

func (m *MockEventPublisher) Publish(ctx context.Context, event domain.Event) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// MockPresenceReader is a mock implementation of ports.PresenceReader
type MockPresenceReader struct {
	mock.Mock
}

func NewMockPresenceReader() *MockPresenceReader {
	return &MockPresenceReader{}
}

func (m *MockPresenceReader) Online(ctx context.Context, workspaceID string) ([]domain.PresenceEntry, error) {
	args := m.Called(ctx, workspaceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.PresenceEntry), args.Error(1)
}

var (
	_ ports.TokenValidator    = (*MockTokenValidator)(nil)
	_ ports.IdentityDirectory = (*MockIdentityDirectory)(nil)
	_ ports.IdentityResolver  = (*MockIdentityResolver)(nil)
	_ ports.PresenceMirror    = (*MockPresenceMirror)(nil)
	_ ports.EventPublisher    = (*MockEventPublisher)(nil)
	_ ports.PresenceReader    = (*MockPresenceReader)(nil)
)
