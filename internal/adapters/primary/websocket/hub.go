package websocket

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lorrc/workspace-realtime/internal/core/domain"
	apperrors "github.com/lorrc/workspace-realtime/internal/core/errors"
	"github.com/lorrc/workspace-realtime/internal/core/ports"
	"github.com/lorrc/workspace-realtime/internal/core/services"
	"github.com/lorrc/workspace-realtime/internal/infrastructure/logging"
)

// HubOptions configures the hub loop.
type HubOptions struct {
	QueueSize    int
	TypingWindow time.Duration
	Mirror       ports.PresenceMirror
}

// Hub owns the realtime core and runs every mutation on a single goroutine.
// Client pumps, HTTP handlers and timers talk to it by posting commands.
type Hub struct {
	core     *services.RealtimeService
	commands chan func()
	done     chan struct{}
	stopOnce sync.Once
	logger   *slog.Logger
}

// Ensure Hub implements the publisher and presence ports.
var (
	_ ports.EventPublisher = (*Hub)(nil)
	_ ports.PresenceReader = (*Hub)(nil)
)

// NewHub creates a hub. clock supplies wall time and timers; timer
// callbacks are re-posted onto the hub loop.
func NewHub(clock ports.Clock, opts HubOptions, logger *slog.Logger) *Hub {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	h := &Hub{
		commands: make(chan func(), opts.QueueSize),
		done:     make(chan struct{}),
		logger:   logger.With("component", "websocket_hub"),
	}
	h.core = services.NewRealtimeService(
		loopClock{base: clock, hub: h},
		services.RealtimeOptions{TypingWindow: opts.TypingWindow, Mirror: opts.Mirror},
		logger,
	)
	return h
}

// Run starts the hub's event loop and blocks until ctx is cancelled.
// On exit every connection is dropped and its transport closed.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("hub started")
	defer h.stop()

	for {
		select {
		case <-ctx.Done():
			transports := h.core.DisconnectAll()
			for _, t := range transports {
				_ = t.Close()
			}
			h.logger.Info("hub stopped", "closed_connections", len(transports))
			return

		case cmd := <-h.commands:
			h.exec(cmd)
		}
	}
}

// exec runs one command behind a recover boundary.
func (h *Hub) exec(cmd func()) {
	defer func() {
		if r := recover(); r != nil {
			logging.LogPanic(h.logger, r)
		}
	}()
	cmd()
}

func (h *Hub) stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// post enqueues cmd, waiting for queue space unless the hub stops or ctx ends.
func (h *Hub) post(ctx context.Context, cmd func()) error {
	select {
	case h.commands <- cmd:
		return nil
	case <-h.done:
		return apperrors.ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// call runs fn on the loop and waits for it to finish.
func (h *Hub) call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if err := h.post(ctx, func() {
		defer close(finished)
		fn()
	}); err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-h.done:
		return apperrors.ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Register adds a transport and, when identity is known at handshake,
// identifies it in the same step.
func (h *Hub) Register(ctx context.Context, transport ports.Transport, identity *domain.UserIdentity) (domain.ConnectionID, error) {
	var (
		id  domain.ConnectionID
		err error
	)
	if callErr := h.call(ctx, func() {
		id, err = h.core.Connect(transport, identity)
	}); callErr != nil {
		return "", callErr
	}
	return id, err
}

// Identify binds identity to a live connection.
func (h *Hub) Identify(ctx context.Context, id domain.ConnectionID, identity domain.UserIdentity) error {
	var err error
	if callErr := h.call(ctx, func() {
		err = h.core.Identify(id, identity)
	}); callErr != nil {
		return callErr
	}
	return err
}

// Unregister drops a connection and closes its transport.
func (h *Hub) Unregister(id domain.ConnectionID) {
	err := h.post(context.Background(), func() {
		conn, ok := h.core.Connection(id)
		if !ok {
			return
		}
		h.core.Disconnect(id)
		_ = conn.Transport.Close()
	})
	if err != nil {
		h.logger.Debug("unregister skipped", "connection_id", id, "error", err)
	}
}

// Dispatch applies a client message on the loop. Rejected messages are
// logged and dropped; the connection stays open.
func (h *Hub) Dispatch(ctx context.Context, id domain.ConnectionID, msg domain.ClientMessage) error {
	return h.post(ctx, func() {
		if err := h.core.HandleClientMessage(id, msg); err != nil {
			h.logger.Debug("client message dropped",
				"connection_id", id,
				"type", msg.Type,
				"error", err,
			)
		}
	})
}

// Publish queues a domain event from the CRUD layer. It never waits for
// queue space: a full queue returns ErrQueueFull.
func (h *Hub) Publish(ctx context.Context, event domain.Event) error {
	if event == nil {
		return fmt.Errorf("%w: nil event", apperrors.ErrInvalidEvent)
	}
	if err := event.Validate(); err != nil {
		return err
	}
	// Without an origin connection there is nothing to infer the room from.
	if event.Workspace() == "" && domain.RequiresWorkspace(event.EventType()) {
		return apperrors.NewBadRequestError(apperrors.ErrInvalidEvent,
			fmt.Sprintf("%s requires workspaceId", event.EventType()))
	}

	cmd := func() {
		if err := h.core.Publish(event); err != nil {
			h.logger.Warn("event not routed",
				"event_type", event.EventType(),
				"error", err,
			)
		}
	}

	select {
	case <-h.done:
		return apperrors.ErrHubStopped
	default:
	}

	select {
	case h.commands <- cmd:
		return nil
	default:
		h.logger.Warn("hub queue full, rejecting event", "event_type", event.EventType())
		return apperrors.ErrQueueFull
	}
}

// Online returns the current online set of a workspace.
func (h *Hub) Online(ctx context.Context, workspaceID string) ([]domain.PresenceEntry, error) {
	var entries []domain.PresenceEntry
	if err := h.call(ctx, func() {
		entries = h.core.Online(workspaceID)
	}); err != nil {
		return nil, err
	}
	return entries, nil
}

// Stats returns connection, room and typing counts.
func (h *Hub) Stats(ctx context.Context) (ports.RealtimeStats, error) {
	var stats ports.RealtimeStats
	err := h.call(ctx, func() {
		stats = h.core.Stats()
	})
	return stats, err
}

// Ping reports whether the hub loop is draining commands.
func (h *Hub) Ping(ctx context.Context) error {
	return h.call(ctx, func() {})
}

// loopClock re-posts timer callbacks onto the hub loop so they run in the
// same single-threaded turn order as every other mutation.
type loopClock struct {
	base ports.Clock
	hub  *Hub
}

func (c loopClock) Now() time.Time {
	return c.base.Now()
}

func (c loopClock) AfterFunc(d time.Duration, fn func()) ports.Timer {
	return c.base.AfterFunc(d, func() {
		if err := c.hub.post(context.Background(), fn); err != nil {
			c.hub.logger.Debug("timer dropped", "error", err)
		}
	})
}
