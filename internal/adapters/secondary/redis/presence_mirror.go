// Package redis mirrors live presence into Redis so other processes (admin
// dashboards, the CRUD service) can read who is online without holding a
// socket. The hub stays the source of truth; the mirror is best effort.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"github.com/lorrc/workspace-realtime/internal/config"
	"github.com/lorrc/workspace-realtime/internal/core/domain"
	"github.com/lorrc/workspace-realtime/internal/core/ports"
)

// MirrorOptions configures a PresenceMirror.
type MirrorOptions struct {
	// KeyPrefix namespaces the per-workspace hashes, e.g. "presence:".
	KeyPrefix    string
	QueueSize    int
	WriteTimeout time.Duration
}

type mirrorOp struct {
	workspaceID string
	entry       domain.PresenceEntry
	online      bool
}

// PresenceMirror keeps one hash per workspace, field = user id, value =
// JSON presence entry. Writes are queued and applied by one worker so the
// hub loop never waits on Redis.
type PresenceMirror struct {
	rdb    *redis.Client
	opts   MirrorOptions
	ops    chan mirrorOp
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

var _ ports.PresenceMirror = (*PresenceMirror)(nil)

// NewPresenceMirror starts the write worker.
func NewPresenceMirror(rdb *redis.Client, opts MirrorOptions, logger *slog.Logger) *PresenceMirror {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "presence:"
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 2 * time.Second
	}
	m := &PresenceMirror{
		rdb:    rdb,
		opts:   opts,
		ops:    make(chan mirrorOp, opts.QueueSize),
		logger: logger.With("component", "presence_mirror"),
	}
	m.wg.Add(1)
	go m.run()
	return m
}

// Open connects to cfg.URL, retrying the first ping with exponential
// backoff until maxWait elapses.
func Open(ctx context.Context, cfg config.RedisConfig, maxWait time.Duration, logger *slog.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}

	rdb := redis.NewClient(opts)

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = maxWait
	ping := func() error {
		return rdb.Ping(ctx).Err()
	}
	notify := func(err error, next time.Duration) {
		logger.Warn("redis not ready, retrying", "error", err, "retry_in", next)
	}
	if err := backoff.RetryNotify(ping, backoff.WithContext(policy, ctx), notify); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

func (m *PresenceMirror) key(workspaceID string) string {
	return m.opts.KeyPrefix + workspaceID
}

// Online records entry under workspaceID.
func (m *PresenceMirror) Online(workspaceID string, entry domain.PresenceEntry) {
	m.enqueue(mirrorOp{workspaceID: workspaceID, entry: entry, online: true})
}

// Offline removes userID from workspaceID.
func (m *PresenceMirror) Offline(workspaceID, userID string) {
	m.enqueue(mirrorOp{workspaceID: workspaceID, entry: domain.PresenceEntry{UserID: userID}})
}

func (m *PresenceMirror) enqueue(op mirrorOp) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	select {
	case m.ops <- op:
	default:
		m.logger.Warn("presence mirror queue full, dropping update",
			"workspace_id", op.workspaceID,
			"user_id", op.entry.UserID,
			"online", op.online,
		)
	}
}

func (m *PresenceMirror) run() {
	defer m.wg.Done()
	for op := range m.ops {
		if err := m.apply(op); err != nil {
			m.logger.Warn("presence mirror write failed",
				"workspace_id", op.workspaceID,
				"user_id", op.entry.UserID,
				"error", err,
			)
		}
	}
}

func (m *PresenceMirror) apply(op mirrorOp) error {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.WriteTimeout)
	defer cancel()

	key := m.key(op.workspaceID)
	if !op.online {
		return m.rdb.HDel(ctx, key, op.entry.UserID).Err()
	}

	data, err := json.Marshal(op.entry)
	if err != nil {
		return fmt.Errorf("marshal presence entry: %w", err)
	}
	return m.rdb.HSet(ctx, key, op.entry.UserID, data).Err()
}

// Snapshot reads the mirrored online set of a workspace, ordered like the
// hub orders it.
func (m *PresenceMirror) Snapshot(ctx context.Context, workspaceID string) ([]domain.PresenceEntry, error) {
	fields, err := m.rdb.HGetAll(ctx, m.key(workspaceID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read presence: %w", err)
	}

	entries := make([]domain.PresenceEntry, 0, len(fields))
	for userID, raw := range fields {
		var entry domain.PresenceEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			m.logger.Warn("skipping corrupt presence entry", "user_id", userID, "error", err)
			continue
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].DisplayName != entries[j].DisplayName {
			return entries[i].DisplayName < entries[j].DisplayName
		}
		return entries[i].UserID < entries[j].UserID
	})
	return entries, nil
}

// Reset deletes every mirrored workspace hash. A fresh process starts with
// no connections, so anything left over is stale.
func (m *PresenceMirror) Reset(ctx context.Context) (int, error) {
	var (
		cursor  uint64
		removed int
	)
	for {
		keys, next, err := m.rdb.Scan(ctx, cursor, m.opts.KeyPrefix+"*", 100).Result()
		if err != nil {
			return removed, fmt.Errorf("scan presence keys: %w", err)
		}
		if len(keys) > 0 {
			n, err := m.rdb.Del(ctx, keys...).Result()
			if err != nil {
				return removed, fmt.Errorf("delete presence keys: %w", err)
			}
			removed += int(n)
		}
		if next == 0 {
			return removed, nil
		}
		cursor = next
	}
}

// Ping verifies Redis connectivity for health checks.
func (m *PresenceMirror) Ping(ctx context.Context) error {
	return m.rdb.Ping(ctx).Err()
}

// Close stops accepting updates, drains the queue and closes the client.
func (m *PresenceMirror) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.ops)
	m.mu.Unlock()

	m.wg.Wait()
	return m.rdb.Close()
}

