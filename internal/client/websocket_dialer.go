package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lorrc/workspace-realtime/internal/core/domain"
)

// WebSocketDialer dials the realtime endpoint with gorilla/websocket.
type WebSocketDialer struct {
	URL       string
	Header    http.Header
	WriteWait time.Duration
	Dialer    *websocket.Dialer
}

// NewWebSocketDialer validates rawURL, which must use ws or wss.
func NewWebSocketDialer(rawURL string) (*WebSocketDialer, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse websocket URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("websocket URL must use ws or wss, got %q", u.Scheme)
	}
	return &WebSocketDialer{
		URL:       u.String(),
		WriteWait: 10 * time.Second,
		Dialer:    websocket.DefaultDialer,
	}, nil
}

// Dial opens a connection.
func (d *WebSocketDialer) Dial(ctx context.Context) (Conn, error) {
	conn, resp, err := d.Dialer.DialContext(ctx, d.URL, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", d.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", d.URL, err)
	}
	return &wsConn{conn: conn, writeWait: d.WriteWait}, nil
}

// wsConn serializes writes; gorilla allows one concurrent writer.
type wsConn struct {
	conn      *websocket.Conn
	writeWait time.Duration
	writeMu   sync.Mutex
}

func (c *wsConn) WriteMessage(msg domain.ClientMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeWait > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
			return err
		}
	}
	return c.conn.WriteJSON(msg)
}

func (c *wsConn) ReadMessage() (domain.ServerMessage, error) {
	var msg domain.ServerMessage
	err := c.conn.ReadJSON(&msg)
	return msg, err
}

func (c *wsConn) Close() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return c.conn.Close()
}
