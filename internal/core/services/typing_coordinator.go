package services

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/lorrc/workspace-realtime/internal/core/domain"
	apperrors "github.com/lorrc/workspace-realtime/internal/core/errors"
	"github.com/lorrc/workspace-realtime/internal/core/ports"
)

// DefaultTypingWindow is how long a typing state survives without a refresh.
const DefaultTypingWindow = 3 * time.Second

type typingKey struct {
	taskID string
	userID string
}

type typingState struct {
	workspaceID string
	connID      domain.ConnectionID
	timer       ports.Timer
	generation  uint64
}

// TypingCoordinator debounces typing signals per (task, user). Peers see
// one true edge per burst and exactly one false edge, either from an
// explicit stop or from the deadline expiring.
type TypingCoordinator struct {
	registry   *ConnectionRegistry
	rooms      *RoomManager
	fanout     *Fanout
	clock      ports.Clock
	window     time.Duration
	logger     *slog.Logger
	states     map[typingKey]*typingState
	generation uint64
}

func NewTypingCoordinator(
	registry *ConnectionRegistry,
	rooms *RoomManager,
	fanout *Fanout,
	clock ports.Clock,
	window time.Duration,
	logger *slog.Logger,
) *TypingCoordinator {
	if window <= 0 {
		window = DefaultTypingWindow
	}
	return &TypingCoordinator{
		registry: registry,
		rooms:    rooms,
		fanout:   fanout,
		clock:    clock,
		window:   window,
		logger:   logger.With("component", "typing_coordinator"),
		states:   make(map[typingKey]*typingState),
	}
}

var _ MembershipListener = (*TypingCoordinator)(nil)

// StartTyping marks the connection's user as typing on taskID and re-arms
// the deadline. It reports true only on the false->true edge.
func (c *TypingCoordinator) StartTyping(id domain.ConnectionID, taskID string) (bool, error) {
	conn, workspaceID, err := c.resolve(id, taskID)
	if err != nil {
		return false, err
	}

	key := typingKey{taskID: taskID, userID: conn.UserID()}
	if st, ok := c.states[key]; ok && st.workspaceID == workspaceID {
		st.timer.Stop()
		st.connID = id
		c.arm(key, st)
		return false, nil
	} else if ok {
		c.clear(key, st)
	}

	st := &typingState{workspaceID: workspaceID, connID: id}
	c.states[key] = st
	c.arm(key, st)
	c.broadcast(key, workspaceID, true)
	return true, nil
}

// StopTyping clears the typing state and broadcasts the false edge.
// It reports false if the user was not typing on taskID.
func (c *TypingCoordinator) StopTyping(id domain.ConnectionID, taskID string) (bool, error) {
	conn, ok := c.registry.Get(id)
	if !ok {
		return false, apperrors.ErrConnectionNotFound
	}
	if !conn.Identified() {
		return false, apperrors.ErrNotIdentified
	}

	key := typingKey{taskID: taskID, userID: conn.UserID()}
	st, ok := c.states[key]
	if !ok {
		return false, nil
	}
	c.clear(key, st)
	return true, nil
}

func (c *TypingCoordinator) IsTyping(taskID, userID string) bool {
	_, ok := c.states[typingKey{taskID: taskID, userID: userID}]
	return ok
}

// Count returns the number of active typing states.
func (c *TypingCoordinator) Count() int {
	return len(c.states)
}

func (c *TypingCoordinator) MemberJoined(*Connection, domain.RoomID) {}

// MemberLeft stops every typing state the connection holds in the
// workspace it left.
func (c *TypingCoordinator) MemberLeft(conn *Connection, room domain.RoomID) {
	if !room.IsWorkspace() || !conn.Identified() {
		return
	}
	workspaceID := room.Target()

	var keys []typingKey
	for key, st := range c.states {
		if key.userID == conn.UserID() && st.connID == conn.ID && st.workspaceID == workspaceID {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].taskID < keys[j].taskID })

	for _, key := range keys {
		c.clear(key, c.states[key])
	}
}

func (c *TypingCoordinator) resolve(id domain.ConnectionID, taskID string) (*Connection, string, error) {
	conn, ok := c.registry.Get(id)
	if !ok {
		return nil, "", apperrors.ErrConnectionNotFound
	}
	if !conn.Identified() {
		return nil, "", apperrors.ErrNotIdentified
	}
	if strings.TrimSpace(taskID) == "" {
		return nil, "", fmt.Errorf("%w: taskId is required", apperrors.ErrInvalidPayload)
	}
	workspaceID, ok := c.rooms.WorkspaceOf(id)
	if !ok {
		return nil, "", apperrors.ErrNotInWorkspace
	}
	return conn, workspaceID, nil
}

// arm schedules expiry. Callers stop the previous timer first; the
// generation check drops a callback that was already in flight.
func (c *TypingCoordinator) arm(key typingKey, st *typingState) {
	c.generation++
	gen := c.generation
	st.generation = gen
	st.timer = c.clock.AfterFunc(c.window, func() {
		c.expire(key, gen)
	})
}

func (c *TypingCoordinator) expire(key typingKey, gen uint64) {
	st, ok := c.states[key]
	if !ok || st.generation != gen {
		return
	}
	c.logger.Debug("typing expired", "task_id", key.taskID, "user_id", key.userID)
	delete(c.states, key)
	c.broadcast(key, st.workspaceID, false)
}

func (c *TypingCoordinator) clear(key typingKey, st *typingState) {
	st.timer.Stop()
	delete(c.states, key)
	c.broadcast(key, st.workspaceID, false)
}

func (c *TypingCoordinator) broadcast(key typingKey, workspaceID string, typing bool) {
	c.fanout.Broadcast(domain.WorkspaceRoom(workspaceID), domain.ServerUserTyping, domain.TypingPayload{
		TaskID:   key.taskID,
		UserID:   key.userID,
		IsTyping: typing,
	})
}
