package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lorrc/workspace-realtime/internal/core/domain"
	apperrors "github.com/lorrc/workspace-realtime/internal/core/errors"
	"github.com/lorrc/workspace-realtime/internal/core/ports"
	"golang.org/x/time/rate"
)

// ClientOptions holds per-connection limits and timings.
type ClientOptions struct {
	// Time allowed to write a message to the peer.
	WriteWait time.Duration
	// Time allowed to read the next pong message from the peer.
	PongWait time.Duration
	// Send pings to peer with this period. Must be less than PongWait.
	PingPeriod time.Duration
	// Maximum message size allowed from peer.
	MaxMessageSize int64
	// Buffered outbound messages before the client counts as slow.
	SendBufferSize int

	MessagesPerSecond float64
	MessageBurst      int
	IdentifyTimeout   time.Duration
}

// DefaultClientOptions mirrors the config defaults.
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		WriteWait:         10 * time.Second,
		PongWait:          60 * time.Second,
		PingPeriod:        54 * time.Second,
		MaxMessageSize:    8192,
		SendBufferSize:    256,
		MessagesPerSecond: 20,
		MessageBurst:      40,
		IdentifyTimeout:   5 * time.Second,
	}
}

// Client is a middleman between the websocket connection and the hub.
// It is the ports.Transport the core sends through. ID and logger must be
// set before the pumps start.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	resolver ports.IdentityResolver
	opts     ClientOptions
	limiter  *rate.Limiter

	ID domain.ConnectionID

	// send is the buffered channel of outbound messages.
	send chan domain.ServerMessage

	// mu guards closed and sends on the channel
	mu     sync.Mutex
	closed bool

	logger *slog.Logger
}

var _ ports.Transport = (*Client)(nil)

// NewClient creates a new WebSocket client
func NewClient(hub *Hub, conn *websocket.Conn, resolver ports.IdentityResolver, opts ClientOptions, logger *slog.Logger) *Client {
	defaults := DefaultClientOptions()
	if opts.SendBufferSize <= 0 {
		opts.SendBufferSize = defaults.SendBufferSize
	}
	if opts.IdentifyTimeout <= 0 {
		opts.IdentifyTimeout = defaults.IdentifyTimeout
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = defaults.MaxMessageSize
	}
	limit := rate.Inf
	if opts.MessagesPerSecond > 0 {
		limit = rate.Limit(opts.MessagesPerSecond)
	}
	return &Client{
		hub:      hub,
		conn:     conn,
		resolver: resolver,
		opts:     opts,
		limiter:  rate.NewLimiter(limit, max(opts.MessageBurst, 1)),
		send:     make(chan domain.ServerMessage, opts.SendBufferSize),
		logger:   logger,
	}
}

// Start binds the registered id and launches the pumps.
func (c *Client) Start(id domain.ConnectionID) {
	c.ID = id
	c.logger = c.logger.With("connection_id", string(id))
	go c.WritePump()
	go c.ReadPump()
}

// Send queues msg without blocking. A full buffer marks the client as a
// slow consumer and closes it.
func (c *Client) Send(msg domain.ServerMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return apperrors.ErrTransportClosed
	}
	select {
	case c.send <- msg:
		return nil
	default:
		c.closeLocked()
		return apperrors.ErrSendBufferFull
	}
}

// Close safely closes the send channel exactly once
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
	return nil
}

func (c *Client) closeLocked() {
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// ReadPump pumps messages from the websocket connection to the hub.
// This method runs in its own goroutine.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c.ID)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(c.opts.MaxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait)); err != nil {
		c.logger.Error("failed to set read deadline", "error", err)
		return
	}

	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait)); err != nil {
			c.logger.Error("failed to set read deadline in pong handler", "error", err)
		}
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read error", "error", err)
			}
			break
		}

		if !c.limiter.Allow() {
			c.logger.Debug("client message rate exceeded, dropping")
			continue
		}

		if err := c.handleIncomingMessage(message); err != nil {
			c.logger.Debug("hub unavailable, closing client", "error", err)
			break
		}
	}
}

// WritePump pumps messages from the hub to the websocket connection.
// This method runs in its own goroutine.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
				c.logger.Error("failed to set write deadline", "error", err)
				return
			}

			if !ok {
				// The hub closed the channel. Send close message.
				if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
					c.logger.Debug("failed to send close message", "error", err)
				}
				return
			}

			if err := c.writeJSON(msg); err != nil {
				c.logger.Error("failed to write message", "error", err)
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
				c.logger.Error("failed to set write deadline for ping", "error", err)
				return
			}

			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("failed to send ping", "error", err)
				return
			}
		}
	}
}

// writeJSON writes a JSON message to the websocket connection
func (c *Client) writeJSON(msg domain.ServerMessage) error {
	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}

	if err := json.NewEncoder(w).Encode(msg); err != nil {
		_ = w.Close()
		return err
	}

	return w.Close()
}

// --- Incoming Message Handling ---

// handleIncomingMessage forwards a client message to the hub. Malformed
// messages are dropped; only a stopped hub is reported.
func (c *Client) handleIncomingMessage(message []byte) error {
	var msg domain.ClientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.logger.Debug("failed to unmarshal client message", "error", err)
		return nil
	}

	if msg.Type == domain.ClientIdentify {
		c.handleIdentify(msg)
		return nil
	}

	err := c.hub.Dispatch(context.Background(), c.ID, msg)
	if errors.Is(err, apperrors.ErrHubStopped) {
		return err
	}
	return nil
}

// handleIdentify resolves the token on the read goroutine so later
// messages from this client are not handled before identify completes.
func (c *Client) handleIdentify(msg domain.ClientMessage) {
	if c.resolver == nil {
		c.logger.Debug("identify ignored, no resolver configured")
		return
	}

	var p domain.IdentifyPayload
	if err := msg.Decode(&p); err != nil {
		c.logger.Debug("failed to decode identify payload", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.IdentifyTimeout)
	defer cancel()

	identity, err := c.resolver.Resolve(ctx, p.Token)
	if err != nil {
		c.logger.Debug("identify rejected", "error", err)
		return
	}

	if err := c.hub.Identify(ctx, c.ID, *identity); err != nil {
		c.logger.Debug("identify failed", "user_id", identity.UserID, "error", err)
	}
}
