package services_test

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/lorrc/workspace-realtime/internal/core/domain"
	"github.com/lorrc/workspace-realtime/internal/core/ports"
	"github.com/lorrc/workspace-realtime/internal/core/services"
	"github.com/lorrc/workspace-realtime/internal/testutil"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func identity(userID, name string) domain.UserIdentity {
	return domain.UserIdentity{UserID: userID, DisplayName: name}
}

// core builds the components individually so tests can reach each one.
type core struct {
	clock    *testutil.FakeClock
	registry *services.ConnectionRegistry
	rooms    *services.RoomManager
	fanout   *services.Fanout
	presence *services.PresenceTracker
	typing   *services.TypingCoordinator
	router   *services.EventRouter
}

type coreOptions struct {
	mirror ports.PresenceMirror
}

func withMirror(mirror ports.PresenceMirror) func(*coreOptions) {
	return func(o *coreOptions) { o.mirror = mirror }
}

func buildCore(t *testing.T, opts ...func(*coreOptions)) *core {
	t.Helper()
	o := coreOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	logger := discardLogger()
	clock := testutil.NewFakeClock(epoch)
	registry := services.NewConnectionRegistry(clock, logger)
	rooms := services.NewRoomManager(registry, logger)
	fanout := services.NewFanout(registry, rooms, clock, logger)
	presence := services.NewPresenceTracker(fanout, o.mirror, logger)
	typing := services.NewTypingCoordinator(registry, rooms, fanout, clock, 3*time.Second, logger)
	router := services.NewEventRouter(rooms, presence, fanout, clock, logger)
	rooms.Subscribe(typing)
	rooms.Subscribe(presence)

	return &core{
		clock:    clock,
		registry: registry,
		rooms:    rooms,
		fanout:   fanout,
		presence: presence,
		typing:   typing,
		router:   router,
	}
}

// connect registers and identifies a connection and joins its user room,
// mirroring what RealtimeService.Identify does.
func (c *core) connect(t *testing.T, userID, name string) (domain.ConnectionID, *testutil.RecordingTransport) {
	t.Helper()
	transport := testutil.NewRecordingTransport()
	conn := c.registry.Register(transport)
	_, err := c.registry.Identify(conn.ID, identity(userID, name))
	require.NoError(t, err)
	_, err = c.rooms.Join(conn.ID, domain.UserRoom(userID))
	require.NoError(t, err)
	return conn.ID, transport
}

func (c *core) joinWorkspace(t *testing.T, id domain.ConnectionID, workspaceID string) {
	t.Helper()
	_, err := c.rooms.Join(id, domain.WorkspaceRoom(workspaceID))
	require.NoError(t, err)
}

func typingEvents(t *testing.T, transport *testutil.RecordingTransport) []domain.TypingPayload {
	t.Helper()
	var out []domain.TypingPayload
	for _, msg := range transport.OfType(domain.ServerUserTyping) {
		var p domain.TypingPayload
		require.NoError(t, msg.Decode(&p))
		out = append(out, p)
	}
	return out
}

func notifications(t *testing.T, transport *testutil.RecordingTransport) []domain.NotificationEnvelope {
	t.Helper()
	var out []domain.NotificationEnvelope
	for _, msg := range transport.OfType(domain.ServerNotification) {
		var n domain.NotificationEnvelope
		require.NoError(t, msg.Decode(&n))
		out = append(out, n)
	}
	return out
}
