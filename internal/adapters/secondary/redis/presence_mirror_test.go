package redis

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorrc/workspace-realtime/internal/config"
	"github.com/lorrc/workspace-realtime/internal/core/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setupTestMirror creates a mirror connected to a miniredis instance, plus
// a second client for seeding and inspecting keys.
func setupTestMirror(t *testing.T, opts MirrorOptions) (*PresenceMirror, *redis.Client, *miniredis.Miniredis) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	mirror := NewPresenceMirror(redis.NewClient(&redis.Options{Addr: mr.Addr()}), opts, discardLogger())
	t.Cleanup(func() { _ = mirror.Close() })

	inspect := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = inspect.Close() })

	return mirror, inspect, mr
}

func hlen(t *testing.T, rdb *redis.Client, key string) int64 {
	t.Helper()
	n, err := rdb.HLen(context.Background(), key).Result()
	require.NoError(t, err)
	return n
}

func TestPresenceMirror_OnlineOffline(t *testing.T) {
	mirror, rdb, _ := setupTestMirror(t, MirrorOptions{})
	ctx := context.Background()

	mirror.Online("w1", domain.PresenceEntry{UserID: "u2", DisplayName: "Bob"})
	mirror.Online("w1", domain.PresenceEntry{UserID: "u1", DisplayName: "Alice", AvatarURL: "a.png"})

	require.Eventually(t, func() bool {
		n, err := rdb.HLen(ctx, "presence:w1").Result()
		return err == nil && n == 2
	}, time.Second, 5*time.Millisecond)

	raw, err := rdb.HGet(ctx, "presence:w1", "u1").Result()
	require.NoError(t, err)
	var stored domain.PresenceEntry
	require.NoError(t, json.Unmarshal([]byte(raw), &stored))
	assert.Equal(t, "a.png", stored.AvatarURL)

	entries, err := mirror.Snapshot(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, []domain.PresenceEntry{
		{UserID: "u1", DisplayName: "Alice", AvatarURL: "a.png"},
		{UserID: "u2", DisplayName: "Bob"},
	}, entries)

	mirror.Offline("w1", "u2")
	require.Eventually(t, func() bool {
		entries, err := mirror.Snapshot(ctx, "w1")
		return err == nil && len(entries) == 1 && entries[0].UserID == "u1"
	}, time.Second, 5*time.Millisecond)
}

func TestPresenceMirror_SnapshotSkipsCorruptEntries(t *testing.T) {
	mirror, rdb, _ := setupTestMirror(t, MirrorOptions{KeyPrefix: "rt:presence:"})

	require.NoError(t, rdb.HSet(context.Background(), "rt:presence:w1",
		"u1", `{"userId":"u1","displayName":"Alice"}`,
		"u2", `not json`,
	).Err())

	entries, err := mirror.Snapshot(context.Background(), "w1")
	require.NoError(t, err)
	assert.Equal(t, []domain.PresenceEntry{{UserID: "u1", DisplayName: "Alice"}}, entries)
}

func TestPresenceMirror_Reset(t *testing.T) {
	mirror, rdb, _ := setupTestMirror(t, MirrorOptions{})
	ctx := context.Background()

	require.NoError(t, rdb.HSet(ctx, "presence:w1", "u1", `{}`).Err())
	require.NoError(t, rdb.HSet(ctx, "presence:w2", "u2", `{}`).Err())
	require.NoError(t, rdb.Set(ctx, "session:abc", "keep", 0).Err())

	removed, err := mirror.Reset(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	remaining, err := rdb.Keys(ctx, "*").Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"session:abc"}, remaining)
}

func TestPresenceMirror_CloseDrainsAndStops(t *testing.T) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	defer mr.Close()

	mirror := NewPresenceMirror(redis.NewClient(&redis.Options{Addr: mr.Addr()}), MirrorOptions{}, discardLogger())
	for _, id := range []string{"u1", "u2", "u3"} {
		mirror.Online("w1", domain.PresenceEntry{UserID: id})
	}

	require.NoError(t, mirror.Close())

	inspect := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer inspect.Close()
	assert.Equal(t, int64(3), hlen(t, inspect, "presence:w1"))

	// Updates after close are ignored, a second close is a no-op.
	mirror.Online("w1", domain.PresenceEntry{UserID: "u4"})
	assert.NoError(t, mirror.Close())
	assert.Equal(t, int64(3), hlen(t, inspect, "presence:w1"))
}

func TestPresenceMirror_WriteFailureDoesNotBlock(t *testing.T) {
	unreachable := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond})
	mirror := NewPresenceMirror(unreachable, MirrorOptions{QueueSize: 1, WriteTimeout: 50 * time.Millisecond}, discardLogger())
	t.Cleanup(func() { _ = mirror.Close() })

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			mirror.Online("w1", domain.PresenceEntry{UserID: "u1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Online blocked on an unreachable redis")
	}
	assert.Error(t, mirror.Ping(context.Background()))
}

func TestOpen(t *testing.T) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	defer mr.Close()

	rdb, err := Open(context.Background(), config.RedisConfig{URL: "redis://" + mr.Addr()}, time.Second, discardLogger())
	require.NoError(t, err)
	defer rdb.Close()
	assert.NoError(t, rdb.Ping(context.Background()).Err())

	_, err = Open(context.Background(), config.RedisConfig{URL: "://bad"}, time.Second, discardLogger())
	assert.Error(t, err)
}
