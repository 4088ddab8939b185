package testutil

import (
	"sync"

	"github.com/lorrc/workspace-realtime/internal/core/domain"
	apperrors "github.com/lorrc/workspace-realtime/internal/core/errors"
)

// RecordingTransport is a ports.Transport that keeps every message it is sent.
type RecordingTransport struct {
	mu       sync.Mutex
	messages []domain.ServerMessage
	closed   bool
	// FailSends makes Send return ErrSendBufferFull without recording.
	FailSends bool
}

func NewRecordingTransport() *RecordingTransport {
	return &RecordingTransport{}
}

func (t *RecordingTransport) Send(msg domain.ServerMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return apperrors.ErrTransportClosed
	}
	if t.FailSends {
		return apperrors.ErrSendBufferFull
	}
	t.messages = append(t.messages, msg)
	return nil
}

func (t *RecordingTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *RecordingTransport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Messages returns a copy of everything received so far.
func (t *RecordingTransport) Messages() []domain.ServerMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.ServerMessage, len(t.messages))
	copy(out, t.messages)
	return out
}

// OfType filters received messages by type.
func (t *RecordingTransport) OfType(msgType domain.ServerMessageType) []domain.ServerMessage {
	var out []domain.ServerMessage
	for _, m := range t.Messages() {
		if m.Type == msgType {
			out = append(out, m)
		}
	}
	return out
}

// Reset forgets received messages.
func (t *RecordingTransport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = nil
}
