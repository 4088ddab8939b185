package http

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	mw "github.com/lorrc/workspace-realtime/internal/adapters/primary/http/middleware"
	wsAdapter "github.com/lorrc/workspace-realtime/internal/adapters/primary/websocket"
	"github.com/lorrc/workspace-realtime/internal/auth"
	"github.com/lorrc/workspace-realtime/internal/config"
	"github.com/lorrc/workspace-realtime/internal/core/services"
	"github.com/lorrc/workspace-realtime/internal/infrastructure/clock"
)

const testSecret = "test-secret"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	return &config.Config{
		WebSocket: config.WebSocketConfig{
			ReadBufferSize:    1024,
			WriteBufferSize:   1024,
			PingInterval:      54 * time.Second,
			PongWait:          60 * time.Second,
			WriteWait:         10 * time.Second,
			SendBufferSize:    64,
			MaxMessageSize:    8192,
			MessagesPerSecond: 100,
			MessageBurst:      100,
		},
		Realtime: config.RealtimeConfig{
			TypingWindow:    3 * time.Second,
			IdentifyTimeout: time.Second,
		},
		App: config.AppConfig{Environment: "development"},
	}
}

// testServer wires the realtime routes around a running hub.
type testServer struct {
	hub    *wsAdapter.Hub
	tokens *auth.TokenManager
	router *chi.Mux
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := discardLogger()
	cfg := testConfig()

	hub := wsAdapter.NewHub(clock.System{}, wsAdapter.HubOptions{TypingWindow: cfg.Realtime.TypingWindow}, logger)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	tokens := auth.NewTokenManager(testSecret, time.Hour)
	resolver := services.NewIdentityService(tokens, nil, logger)
	errorHandler := NewErrorHandler(logger)

	events := NewEventsHandler(hub, errorHandler, logger)
	presence := NewPresenceHandler(hub, hub, errorHandler, logger)
	health := NewHealthHandler("test", map[string]HealthChecker{"hub": hub})
	ws := NewWebSocketHandler(hub, resolver, cfg, logger)

	router := chi.NewRouter()
	router.Use(mw.RequestID)
	health.RegisterRoutes(router)
	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/ws", ws.ServeHTTP)
		r.Group(func(r chi.Router) {
			r.Use(mw.JWTMiddleware(tokens))
			r.Route("/events", events.RegisterRoutes)
			r.Route("/workspaces", presence.RegisterRoutes)
			r.Get("/realtime/stats", presence.HandleStats)
		})
	})

	return &testServer{hub: hub, tokens: tokens, router: router}
}

func (s *testServer) token(t *testing.T, userID, name string) string {
	t.Helper()
	token, err := s.tokens.GenerateToken(userID, "", name)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return token
}
