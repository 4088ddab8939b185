// Package client is the reconnecting realtime client used by collabctl and
// integration tests. It keeps the server-side ephemeral state (identity,
// workspace room) alive across drops and buffers recent notifications.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lorrc/workspace-realtime/internal/core/domain"
	"github.com/lorrc/workspace-realtime/internal/core/ports"
)

var (
	ErrNotConnected = errors.New("client is not connected")
	ErrClosed       = errors.New("client is closed")
)

// State is the connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	// StateOffline is terminal until Reconnect is called.
	StateOffline
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateOffline:
		return "offline"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Conn is one live transport to the server.
type Conn interface {
	WriteMessage(msg domain.ClientMessage) error
	// ReadMessage blocks for the next server message. Any error ends the connection.
	ReadMessage() (domain.ServerMessage, error)
	Close() error
}

// Dialer opens connections.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// PushNotifier shows OS-level notifications. Permission is checked before
// every push; a denied permission skips the push without error.
type PushNotifier interface {
	Permitted() bool
	Push(n domain.NotificationEnvelope) error
}

// Options configures a Controller.
type Options struct {
	// Token is sent in an identify message after every connect.
	Token string

	BaseDelay   time.Duration
	Multiplier  float64
	MaxAttempts int
	DialTimeout time.Duration

	NotificationCapacity int
	Push                 PushNotifier
}

func (o Options) withDefaults() Options {
	if o.BaseDelay <= 0 {
		o.BaseDelay = DefaultBaseDelay
	}
	if o.Multiplier < 1 {
		o.Multiplier = DefaultMultiplier
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 10 * time.Second
	}
	if o.NotificationCapacity <= 0 {
		o.NotificationCapacity = DefaultNotificationCapacity
	}
	return o
}

// MessageHandler receives every server message in arrival order. Handlers
// run on the read goroutine and must not block.
type MessageHandler func(domain.ServerMessage)

// StateListener observes state transitions.
type StateListener func(State)

// Controller owns the client connection lifecycle:
// Disconnected -> Connecting -> Connected -> Disconnected on drop, with
// exponential backoff between attempts and Offline after MaxAttempts.
type Controller struct {
	dialer Dialer
	clock  ports.Clock
	opts   Options
	logger *slog.Logger

	notifications *Ring[domain.NotificationEnvelope]

	mu         sync.Mutex
	ctx        context.Context
	state      State
	conn       Conn
	generation int
	attempt    int
	dialing    bool
	closed     bool
	timer      ports.Timer
	workspace  string

	handlers      map[int]MessageHandler
	nextHandlerID int
	listeners     []StateListener
	pending       []State
}

// NewController creates a disconnected controller.
func NewController(dialer Dialer, clock ports.Clock, opts Options, logger *slog.Logger) *Controller {
	opts = opts.withDefaults()
	return &Controller{
		dialer:        dialer,
		clock:         clock,
		opts:          opts,
		logger:        logger.With("component", "realtime_client"),
		notifications: NewRing[domain.NotificationEnvelope](opts.NotificationCapacity),
		ctx:           context.Background(),
		handlers:      make(map[int]MessageHandler),
	}
}

// Connect makes the first connection attempt. Later attempts reuse ctx;
// cancelling it stops reconnecting.
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.ctx = ctx
	c.mu.Unlock()

	c.dial()
	return nil
}

// Reconnect cancels any pending backoff and dials now with a fresh attempt
// counter. It also leaves the Offline state.
func (c *Controller) Reconnect() {
	c.mu.Lock()
	if c.closed || c.dialing || c.state == StateConnected {
		c.mu.Unlock()
		return
	}
	c.stopTimerLocked()
	c.attempt = 0
	c.mu.Unlock()

	c.dial()
}

// Close drops the connection and stops reconnecting.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.stopTimerLocked()
	conn := c.conn
	c.conn = nil
	c.generation++
	c.setStateLocked(StateDisconnected)
	c.unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempt returns the number of failed attempts since the last successful connect.
func (c *Controller) Attempt() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt
}

// Workspace returns the workspace that is re-joined after every connect.
func (c *Controller) Workspace() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.workspace
}

// Subscribe registers h and returns a function that removes it.
func (c *Controller) Subscribe(h MessageHandler) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextHandlerID
	c.nextHandlerID++
	c.handlers[id] = h
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.handlers, id)
	}
}

// OnStateChange registers a state listener.
func (c *Controller) OnStateChange(l StateListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// Notifications returns the buffered notifications, oldest first.
func (c *Controller) Notifications() []domain.NotificationEnvelope {
	return c.notifications.Items()
}

// NotificationCount returns how many notifications are buffered.
func (c *Controller) NotificationCount() int {
	return c.notifications.Len()
}

// JoinWorkspace selects ws. The join is sent now if connected and again
// after every reconnect.
func (c *Controller) JoinWorkspace(ws string) error {
	c.mu.Lock()
	c.workspace = ws
	c.mu.Unlock()

	err := c.Send(domain.ClientJoinWorkspace, domain.WorkspacePayload{WorkspaceID: ws})
	if errors.Is(err, ErrNotConnected) {
		return nil
	}
	return err
}

// LeaveWorkspace clears the selected workspace.
func (c *Controller) LeaveWorkspace() error {
	c.mu.Lock()
	ws := c.workspace
	c.workspace = ""
	c.mu.Unlock()

	if ws == "" {
		return nil
	}
	err := c.Send(domain.ClientLeaveWorkspace, domain.WorkspacePayload{WorkspaceID: ws})
	if errors.Is(err, ErrNotConnected) {
		return nil
	}
	return err
}

// Send writes one message. It fails with ErrNotConnected while not connected;
// nothing is queued.
func (c *Controller) Send(msgType domain.ClientMessageType, payload any) error {
	msg, err := domain.NewClientMessage(msgType, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	conn := c.conn
	if conn == nil || c.state != StateConnected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.mu.Unlock()

	return conn.WriteMessage(msg)
}

func (c *Controller) dial() {
	c.mu.Lock()
	if c.closed || c.dialing || c.state == StateConnected {
		c.mu.Unlock()
		return
	}
	c.dialing = true
	c.stopTimerLocked()
	c.setStateLocked(StateConnecting)
	ctx := c.ctx
	c.unlock()

	if err := ctx.Err(); err != nil {
		c.mu.Lock()
		c.dialing = false
		c.setStateLocked(StateDisconnected)
		c.unlock()
		return
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
	conn, err := c.dialer.Dial(dialCtx)
	cancel()

	c.mu.Lock()
	if c.closed {
		c.dialing = false
		c.unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		c.dialing = false
		c.logger.Debug("dial failed", "attempt", c.attempt+1, "error", err)
		c.scheduleLocked()
		c.unlock()
		return
	}

	c.conn = conn
	c.generation++
	generation := c.generation
	c.attempt = 0
	c.stopTimerLocked()
	token := c.opts.Token
	c.mu.Unlock()

	// State stays Connecting until resume has written, so Send and
	// JoinWorkspace cannot overtake identify on the new connection.
	err = c.resume(conn, generation, token)
	if errors.Is(err, errStale) {
		_ = conn.Close()
		return
	}
	if err != nil {
		// The read loop reports the broken connection and schedules a retry.
		c.logger.Debug("resume failed", "error", err)
		c.mu.Lock()
		c.dialing = false
		c.mu.Unlock()
	} else {
		c.logger.Info("connected")
	}
	go c.readLoop(conn, generation)
}

var errStale = errors.New("connection replaced")

// resume re-announces identity and joins whatever workspace is selected,
// repeating until the selection is stable. The move to Connected happens
// under the same lock as the last check.
func (c *Controller) resume(conn Conn, generation int, token string) error {
	if token != "" {
		msg, err := domain.NewClientMessage(domain.ClientIdentify, domain.IdentifyPayload{Token: token})
		if err != nil {
			return err
		}
		if err := conn.WriteMessage(msg); err != nil {
			return err
		}
	}

	joined := ""
	for {
		c.mu.Lock()
		if c.closed || generation != c.generation {
			c.dialing = false
			c.mu.Unlock()
			return errStale
		}
		want := c.workspace
		if want == joined {
			c.dialing = false
			c.setStateLocked(StateConnected)
			c.unlock()
			return nil
		}
		c.mu.Unlock()

		msgType, payload := domain.ClientJoinWorkspace, domain.WorkspacePayload{WorkspaceID: want}
		if want == "" {
			msgType, payload = domain.ClientLeaveWorkspace, domain.WorkspacePayload{WorkspaceID: joined}
		}
		msg, err := domain.NewClientMessage(msgType, payload)
		if err != nil {
			return err
		}
		if err := conn.WriteMessage(msg); err != nil {
			return err
		}
		joined = want
	}
}

func (c *Controller) readLoop(conn Conn, generation int) {
	for {
		msg, err := conn.ReadMessage()
		if err != nil {
			c.dropped(generation, err)
			return
		}
		if !c.current(generation) {
			_ = conn.Close()
			return
		}
		c.deliver(msg)
	}
}

func (c *Controller) current(generation int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && generation == c.generation
}

func (c *Controller) deliver(msg domain.ServerMessage) {
	if msg.Type == domain.ServerNotification {
		var n domain.NotificationEnvelope
		if err := msg.Decode(&n); err != nil {
			c.logger.Debug("dropping malformed notification", "error", err)
		} else {
			c.notifications.Push(n)
			c.push(n)
		}
	}

	c.mu.Lock()
	handlers := make([]MessageHandler, 0, len(c.handlers))
	for id := 0; id < c.nextHandlerID; id++ {
		if h, ok := c.handlers[id]; ok {
			handlers = append(handlers, h)
		}
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h(msg)
	}
}

func (c *Controller) push(n domain.NotificationEnvelope) {
	if c.opts.Push == nil || !c.opts.Push.Permitted() {
		return
	}
	if err := c.opts.Push.Push(n); err != nil {
		c.logger.Debug("push notification failed", "notification_id", n.ID, "error", err)
	}
}

// dropped handles the end of the connection identified by generation.
// Stale read loops from replaced connections are ignored.
func (c *Controller) dropped(generation int, err error) {
	c.mu.Lock()
	if c.closed || generation != c.generation {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	c.conn = nil
	c.logger.Info("connection dropped", "error", err)
	c.scheduleLocked()
	c.unlock()

	if conn != nil {
		_ = conn.Close()
	}
}

// scheduleLocked arms the next attempt, or goes Offline once the cap is hit.
func (c *Controller) scheduleLocked() {
	c.attempt++
	if c.attempt > c.opts.MaxAttempts {
		c.logger.Warn("giving up reconnecting", "attempts", c.opts.MaxAttempts)
		c.setStateLocked(StateOffline)
		return
	}

	delay := Delay(c.attempt, c.opts.BaseDelay, c.opts.Multiplier)
	c.setStateLocked(StateDisconnected)
	c.stopTimerLocked()
	c.timer = c.clock.AfterFunc(delay, c.dial)
	c.logger.Debug("reconnect scheduled", "attempt", c.attempt, "delay", delay)
}

func (c *Controller) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Controller) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	c.pending = append(c.pending, s)
}

// unlock releases mu and then notifies listeners of queued transitions.
func (c *Controller) unlock() {
	pending := c.pending
	c.pending = nil
	listeners := c.listeners
	c.mu.Unlock()

	for _, s := range pending {
		for _, l := range listeners {
			l(s)
		}
	}
}
