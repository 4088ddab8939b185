package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lorrc/workspace-realtime/internal/core/domain"
	"github.com/lorrc/workspace-realtime/internal/testutil"
)

var errRefused = errors.New("connection refused")

type fakeConn struct {
	in   chan domain.ServerMessage
	done chan struct{}
	once sync.Once

	// onWrite runs after each recorded write, outside the lock.
	onWrite func(domain.ClientMessage)

	mu   sync.Mutex
	sent []domain.ClientMessage
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:   make(chan domain.ServerMessage, 64),
		done: make(chan struct{}),
	}
}

func (c *fakeConn) WriteMessage(msg domain.ClientMessage) error {
	select {
	case <-c.done:
		return io.ErrClosedPipe
	default:
	}
	c.mu.Lock()
	c.sent = append(c.sent, msg)
	c.mu.Unlock()

	if c.onWrite != nil {
		c.onWrite(msg)
	}
	return nil
}

func (c *fakeConn) ReadMessage() (domain.ServerMessage, error) {
	select {
	case msg := <-c.in:
		return msg, nil
	case <-c.done:
		return domain.ServerMessage{}, io.EOF
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *fakeConn) Sent() []domain.ClientMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.ClientMessage, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *fakeConn) SentTypes() []domain.ClientMessageType {
	var types []domain.ClientMessageType
	for _, m := range c.Sent() {
		types = append(types, m.Type)
	}
	return types
}

type fakeDialer struct {
	mu      sync.Mutex
	fail    bool
	calls   int
	conns   []*fakeConn
	onWrite func(domain.ClientMessage)
}

func (d *fakeDialer) Dial(ctx context.Context) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.fail {
		return nil, errRefused
	}
	conn := newFakeConn()
	conn.onWrite = d.onWrite
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) SetFail(fail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = fail
}

func (d *fakeDialer) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *fakeDialer) Conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

func (d *fakeDialer) Conns() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

type fakePush struct {
	mu        sync.Mutex
	permitted bool
	pushed    []domain.NotificationEnvelope
}

func (p *fakePush) Permitted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.permitted
}

func (p *fakePush) Push(n domain.NotificationEnvelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pushed = append(p.pushed, n)
	return nil
}

func (p *fakePush) Pushed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pushed)
}

func newTestController(t *testing.T, opts Options) (*Controller, *fakeDialer, *testutil.FakeClock) {
	t.Helper()

	dialer := &fakeDialer{}
	clk := testutil.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewController(dialer, clk, opts, logger)
	t.Cleanup(func() { _ = c.Close() })
	return c, dialer, clk
}

func notificationMessage(t *testing.T, id string) domain.ServerMessage {
	t.Helper()

	payload, err := json.Marshal(domain.NotificationEnvelope{
		ID:    id,
		Type:  domain.NotificationMention,
		Title: "Mentioned",
		Room:  domain.UserRoom("u1"),
	})
	require.NoError(t, err)
	return domain.ServerMessage{ID: "msg-" + id, Type: domain.ServerNotification, Payload: payload}
}

func payloadField(t *testing.T, msg domain.ClientMessage, field string) string {
	t.Helper()

	var m map[string]any
	require.NoError(t, json.Unmarshal(msg.Payload, &m))
	s, _ := m[field].(string)
	return s
}
