package client

import (
	"sync"
	"time"

	"github.com/lorrc/workspace-realtime/internal/core/domain"
	"github.com/lorrc/workspace-realtime/internal/core/ports"
)

const (
	DefaultTypingIdle    = 3 * time.Second
	DefaultTypingRefresh = time.Second
)

// Sender writes one client message. *Controller satisfies it.
type Sender interface {
	Send(msgType domain.ClientMessageType, payload any) error
}

// TypingDebouncer turns keystrokes into start-typing / stop-typing messages.
// The first keystroke sends start and continued typing re-sends start at
// most once per Refresh. A keystroke that falls inside the throttle gets a
// trailing start when the throttle ends, so the server deadline is always
// counted from a start sent at or after the last keystroke. One stop is
// sent after Idle without keystrokes.
type TypingDebouncer struct {
	sender  Sender
	clock   ports.Clock
	idle    time.Duration
	refresh time.Duration

	mu         sync.Mutex
	taskID     string
	lastStart  time.Time
	timer      ports.Timer
	generation uint64

	trailing    ports.Timer
	trailingGen uint64
}

// NewTypingDebouncer creates a debouncer. Zero durations use the defaults.
func NewTypingDebouncer(sender Sender, clock ports.Clock, idle, refresh time.Duration) *TypingDebouncer {
	if idle <= 0 {
		idle = DefaultTypingIdle
	}
	if refresh <= 0 {
		refresh = DefaultTypingRefresh
	}
	return &TypingDebouncer{
		sender:  sender,
		clock:   clock,
		idle:    idle,
		refresh: refresh,
	}
}

// Keystroke records typing activity on taskID. Switching tasks stops the
// previous one first.
func (d *TypingDebouncer) Keystroke(taskID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.taskID != "" && d.taskID != taskID {
		if err := d.stopLocked(); err != nil {
			return err
		}
	}

	now := d.clock.Now()
	if d.taskID == "" || now.Sub(d.lastStart) >= d.refresh {
		if err := d.sender.Send(domain.ClientStartTyping, domain.TaskPayload{TaskID: taskID}); err != nil {
			return err
		}
		d.lastStart = now
		d.cancelTrailingLocked()
	} else if d.trailing == nil {
		d.armTrailingLocked(d.lastStart.Add(d.refresh).Sub(now))
	}
	d.taskID = taskID
	d.armLocked()
	return nil
}

// Stop ends typing now, e.g. when the comment is submitted. It is a no-op
// when not typing.
func (d *TypingDebouncer) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopLocked()
}

// Typing returns the task currently being typed on, or "".
func (d *TypingDebouncer) Typing() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.taskID
}

func (d *TypingDebouncer) armLocked() {
	if d.timer != nil {
		d.timer.Stop()
	}
	d.generation++
	generation := d.generation
	d.timer = d.clock.AfterFunc(d.idle, func() {
		d.expire(generation)
	})
}

func (d *TypingDebouncer) armTrailingLocked(after time.Duration) {
	d.trailingGen++
	generation := d.trailingGen
	d.trailing = d.clock.AfterFunc(after, func() {
		d.sendTrailing(generation)
	})
}

func (d *TypingDebouncer) cancelTrailingLocked() {
	d.trailingGen++
	if d.trailing != nil {
		d.trailing.Stop()
		d.trailing = nil
	}
}

func (d *TypingDebouncer) sendTrailing(generation uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if generation != d.trailingGen || d.taskID == "" {
		return
	}
	d.trailing = nil
	// A failed refresh leaves the server deadline running; the idle stop
	// still follows.
	if err := d.sender.Send(domain.ClientStartTyping, domain.TaskPayload{TaskID: d.taskID}); err == nil {
		d.lastStart = d.clock.Now()
	}
}

func (d *TypingDebouncer) expire(generation uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if generation != d.generation {
		return
	}
	// A failed stop is covered by the server-side deadline.
	_ = d.stopLocked()
}

func (d *TypingDebouncer) stopLocked() error {
	if d.taskID == "" {
		return nil
	}
	taskID := d.taskID
	d.taskID = ""
	d.lastStart = time.Time{}
	d.generation++
	d.cancelTrailingLocked()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	return d.sender.Send(domain.ClientStopTyping, domain.TaskPayload{TaskID: taskID})
}
