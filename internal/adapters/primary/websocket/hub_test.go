package websocket_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	wsAdapter "github.com/lorrc/workspace-realtime/internal/adapters/primary/websocket"
	"github.com/lorrc/workspace-realtime/internal/core/domain"
	apperrors "github.com/lorrc/workspace-realtime/internal/core/errors"
	"github.com/lorrc/workspace-realtime/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = time.Second
	tick    = 5 * time.Millisecond
)

var epoch = time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startHub(t *testing.T, opts wsAdapter.HubOptions) (*wsAdapter.Hub, *testutil.FakeClock, context.CancelFunc) {
	t.Helper()
	clock := testutil.NewFakeClock(epoch)
	hub := wsAdapter.NewHub(clock, opts, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return hub, clock, cancel
}

func register(t *testing.T, hub *wsAdapter.Hub, userID, name string) (domain.ConnectionID, *testutil.RecordingTransport) {
	t.Helper()
	transport := testutil.NewRecordingTransport()
	id, err := hub.Register(context.Background(), transport, &domain.UserIdentity{UserID: userID, DisplayName: name})
	require.NoError(t, err)
	return id, transport
}

func dispatch(t *testing.T, hub *wsAdapter.Hub, id domain.ConnectionID, msgType domain.ClientMessageType, payload any) {
	t.Helper()
	msg, err := domain.NewClientMessage(msgType, payload)
	require.NoError(t, err)
	require.NoError(t, hub.Dispatch(context.Background(), id, msg))
}

// drain waits for every command queued before it to run.
func drain(t *testing.T, hub *wsAdapter.Hub) {
	t.Helper()
	require.NoError(t, hub.Ping(context.Background()))
}

func TestHub_JoinWorkspaceAndPresence(t *testing.T) {
	hub, _, _ := startHub(t, wsAdapter.HubOptions{})

	alice, aliceT := register(t, hub, "u1", "Alice")
	bob, _ := register(t, hub, "u2", "Bob")

	dispatch(t, hub, alice, domain.ClientJoinWorkspace, domain.WorkspacePayload{WorkspaceID: "w1"})
	dispatch(t, hub, bob, domain.ClientJoinWorkspace, domain.WorkspacePayload{WorkspaceID: "w1"})

	online, err := hub.Online(context.Background(), "w1")
	require.NoError(t, err)
	require.Len(t, online, 2)
	assert.Equal(t, "Alice", online[0].DisplayName)
	assert.Equal(t, "Bob", online[1].DisplayName)

	joined := aliceT.OfType(domain.ServerUserJoined)
	require.Len(t, joined, 2)
	var p domain.PresencePayload
	require.NoError(t, joined[1].Decode(&p))
	assert.Equal(t, "u2", p.User.UserID)

	stats, err := hub.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Connections)
	assert.Equal(t, 3, stats.Rooms)
}

func TestHub_TypingExpiresThroughLoop(t *testing.T) {
	hub, clock, _ := startHub(t, wsAdapter.HubOptions{TypingWindow: 3 * time.Second})

	alice, _ := register(t, hub, "u1", "Alice")
	bob, bobT := register(t, hub, "u2", "Bob")
	dispatch(t, hub, alice, domain.ClientJoinWorkspace, domain.WorkspacePayload{WorkspaceID: "w1"})
	dispatch(t, hub, bob, domain.ClientJoinWorkspace, domain.WorkspacePayload{WorkspaceID: "w1"})
	dispatch(t, hub, alice, domain.ClientStartTyping, domain.TaskPayload{TaskID: "t1"})
	drain(t, hub)

	require.Len(t, bobT.OfType(domain.ServerUserTyping), 1)

	clock.Advance(3 * time.Second)

	require.Eventually(t, func() bool {
		return len(bobT.OfType(domain.ServerUserTyping)) == 2
	}, waitFor, tick)

	var p domain.TypingPayload
	require.NoError(t, bobT.OfType(domain.ServerUserTyping)[1].Decode(&p))
	assert.Equal(t, domain.TypingPayload{TaskID: "t1", UserID: "u1", IsTyping: false}, p)
}

func TestHub_PublishRoutesEvent(t *testing.T) {
	hub, _, _ := startHub(t, wsAdapter.HubOptions{})

	alice, aliceT := register(t, hub, "u1", "Alice")
	dispatch(t, hub, alice, domain.ClientJoinWorkspace, domain.WorkspacePayload{WorkspaceID: "w1"})

	require.NoError(t, hub.Publish(context.Background(), domain.TaskCreated{TaskID: "t1", WorkspaceID: "w1", Title: "Plan"}))
	drain(t, hub)

	created := aliceT.OfType(domain.ServerTaskCreated)
	require.Len(t, created, 1)
	var got domain.TaskCreated
	require.NoError(t, json.Unmarshal(created[0].Payload, &got))
	assert.Equal(t, "Plan", got.Title)
}

func TestHub_PublishRejectsInvalidEvent(t *testing.T) {
	hub, _, _ := startHub(t, wsAdapter.HubOptions{})

	err := hub.Publish(context.Background(), domain.TaskCreated{WorkspaceID: "w1"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidEvent)

	err = hub.Publish(context.Background(), nil)
	assert.ErrorIs(t, err, apperrors.ErrInvalidEvent)
}

func TestHub_PublishRequiresWorkspace(t *testing.T) {
	hub, _, _ := startHub(t, wsAdapter.HubOptions{})

	alice, aliceT := register(t, hub, "u1", "Alice")
	dispatch(t, hub, alice, domain.ClientJoinWorkspace, domain.WorkspacePayload{WorkspaceID: "w1"})

	err := hub.Publish(context.Background(), domain.TaskCreated{TaskID: "t1"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidEvent)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, 400, appErr.StatusCode)

	require.NoError(t, hub.Publish(context.Background(), domain.TaskShared{TaskID: "t1", SharedWithUserID: "u1"}))
	drain(t, hub)
	assert.Empty(t, aliceT.OfType(domain.ServerTaskCreated))
	assert.NotEmpty(t, aliceT.OfType(domain.ServerNotification))
}

func TestHub_PublishQueueFull(t *testing.T) {
	// Not running, so nothing drains the single slot.
	hub := wsAdapter.NewHub(testutil.NewFakeClock(epoch), wsAdapter.HubOptions{QueueSize: 1}, discardLogger())
	event := domain.TaskDeleted{TaskID: "t1", WorkspaceID: "w1"}

	require.NoError(t, hub.Publish(context.Background(), event))
	assert.ErrorIs(t, hub.Publish(context.Background(), event), apperrors.ErrQueueFull)
}

func TestHub_UnregisterClosesTransport(t *testing.T) {
	hub, _, _ := startHub(t, wsAdapter.HubOptions{})

	alice, aliceT := register(t, hub, "u1", "Alice")
	bob, bobT := register(t, hub, "u2", "Bob")
	dispatch(t, hub, alice, domain.ClientJoinWorkspace, domain.WorkspacePayload{WorkspaceID: "w1"})
	dispatch(t, hub, bob, domain.ClientJoinWorkspace, domain.WorkspacePayload{WorkspaceID: "w1"})

	hub.Unregister(alice)
	drain(t, hub)

	assert.True(t, aliceT.Closed())
	require.Len(t, bobT.OfType(domain.ServerUserLeft), 1)

	online, err := hub.Online(context.Background(), "w1")
	require.NoError(t, err)
	require.Len(t, online, 1)
	assert.Equal(t, "u2", online[0].UserID)
}

func TestHub_IdentifyAfterAnonymousRegister(t *testing.T) {
	hub, _, _ := startHub(t, wsAdapter.HubOptions{})

	transport := testutil.NewRecordingTransport()
	id, err := hub.Register(context.Background(), transport, nil)
	require.NoError(t, err)

	msg, err := domain.NewClientMessage(domain.ClientJoinWorkspace, domain.WorkspacePayload{WorkspaceID: "w1"})
	require.NoError(t, err)
	require.NoError(t, hub.Dispatch(context.Background(), id, msg))

	online, err := hub.Online(context.Background(), "w1")
	require.NoError(t, err)
	assert.Empty(t, online)

	require.NoError(t, hub.Identify(context.Background(), id, domain.UserIdentity{UserID: "u1", DisplayName: "Alice"}))
	err = hub.Identify(context.Background(), id, domain.UserIdentity{UserID: "u9"})
	assert.ErrorIs(t, err, apperrors.ErrIdentityMismatch)
}

func TestHub_StopClosesEveryTransport(t *testing.T) {
	clock := testutil.NewFakeClock(epoch)
	hub := wsAdapter.NewHub(clock, wsAdapter.HubOptions{}, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	_, aliceT := register(t, hub, "u1", "Alice")
	_, bobT := register(t, hub, "u2", "Bob")

	cancel()
	<-done

	assert.True(t, aliceT.Closed())
	assert.True(t, bobT.Closed())

	_, err := hub.Stats(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrHubStopped)
	assert.ErrorIs(t, hub.Publish(context.Background(), domain.TaskDeleted{TaskID: "t1", WorkspaceID: "w1"}), apperrors.ErrHubStopped)
}
