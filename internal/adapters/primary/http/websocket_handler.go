package http

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	mw "github.com/lorrc/workspace-realtime/internal/adapters/primary/http/middleware"
	wsAdapter "github.com/lorrc/workspace-realtime/internal/adapters/primary/websocket"
	"github.com/lorrc/workspace-realtime/internal/config"
	"github.com/lorrc/workspace-realtime/internal/core/domain"
	apperrors "github.com/lorrc/workspace-realtime/internal/core/errors"
	"github.com/lorrc/workspace-realtime/internal/core/ports"
	"github.com/lorrc/workspace-realtime/internal/infrastructure/logging"
)

// WebSocketHandler handles WebSocket connection upgrades
type WebSocketHandler struct {
	hub        *wsAdapter.Hub
	resolver   ports.IdentityResolver
	clientOpts wsAdapter.ClientOptions
	upgrader   websocket.Upgrader
	errors     *ErrorHandler
	logger     *slog.Logger
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(
	hub *wsAdapter.Hub,
	resolver ports.IdentityResolver,
	cfg *config.Config,
	logger *slog.Logger,
) *WebSocketHandler {
	handler := &WebSocketHandler{
		hub:        hub,
		resolver:   resolver,
		clientOpts: ClientOptionsFromConfig(cfg),
		errors:     NewErrorHandler(logger),
		logger:     logger,
	}

	handler.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.WebSocket.ReadBufferSize,
		WriteBufferSize: cfg.WebSocket.WriteBufferSize,
		CheckOrigin:     handler.makeOriginChecker(cfg),
	}

	return handler
}

// makeOriginChecker creates an origin checking function based on configuration
func (h *WebSocketHandler) makeOriginChecker(cfg *config.Config) func(r *http.Request) bool {
	allowedOrigins := cfg.WebSocket.AllowedOrigins

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")

		// In development mode, allow all origins (but log a warning)
		if cfg.IsDevelopment() {
			if origin != "" {
				h.logger.Warn("allowing websocket connection in development mode",
					"origin", origin,
					"remote_addr", r.RemoteAddr,
				)
			}
			return true
		}

		// No origin header (same-origin request or non-browser client)
		if origin == "" {
			return true
		}

		// Check against allowed origins
		parsedOrigin, err := url.Parse(origin)
		if err != nil {
			h.logger.Warn("failed to parse websocket origin",
				"origin", origin,
				"error", err,
			)
			return false
		}

		originHost := parsedOrigin.Host

		for _, allowed := range allowedOrigins {
			// Support wildcard subdomains like "*.example.com"
			if strings.HasPrefix(allowed, "*.") {
				suffix := allowed[1:] // Remove the "*", keep ".example.com"
				if strings.HasSuffix(originHost, suffix) || originHost == allowed[2:] {
					return true
				}
			} else if originHost == allowed {
				return true
			}
		}

		h.logger.Warn("websocket connection rejected due to origin",
			"origin", origin,
			"remote_addr", r.RemoteAddr,
			"allowed_origins", allowedOrigins,
		)
		return false
	}
}

// ServeHTTP handles WebSocket connection requests. A token is optional at
// handshake time: anonymous connections may identify later with an
// "identify" message. A token that is present but invalid is rejected
// before the upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.LoggerFromContext(ctx, h.logger)

	tokenString, ok := handshakeToken(r)
	if !ok {
		logger.Warn("websocket connection rejected: malformed authorization header",
			"remote_addr", r.RemoteAddr,
		)
		h.errors.Handle(w, r, apperrors.NewUnauthorizedError("Authorization header format must be Bearer {token}"))
		return
	}

	var identity *domain.UserIdentity
	if tokenString != "" {
		resolved, err := h.resolver.Resolve(ctx, tokenString)
		if err != nil {
			logger.Warn("websocket connection rejected: invalid token",
				"remote_addr", r.RemoteAddr,
				"error", err,
			)
			h.errors.Handle(w, r, err)
			return
		}
		identity = resolved
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("failed to upgrade websocket connection", "error", err)
		return
	}

	// The request context ends with the handler; the client lives on.
	client := wsAdapter.NewClient(h.hub, conn, h.resolver, h.clientOpts, h.logger)
	id, err := h.hub.Register(context.WithoutCancel(ctx), client, identity)
	if err != nil {
		logger.Error("failed to register websocket client", "error", err)
		_ = client.Close()
		_ = conn.Close()
		return
	}

	logger = logging.LoggerFromContext(logging.WithConnectionID(ctx, string(id)), h.logger)
	attrs := []any{"remote_addr", r.RemoteAddr}
	if identity != nil {
		attrs = append(attrs, "user_id", identity.UserID)
	}
	logger.Info("websocket connection established", attrs...)

	client.Start(id)
}

// handshakeToken reads the token from the "token" query parameter or a
// bearer Authorization header. Browsers cannot set headers on websocket
// handshakes, so the query parameter wins.
func handshakeToken(r *http.Request) (string, bool) {
	if token := r.URL.Query().Get("token"); token != "" {
		return token, true
	}
	return mw.BearerToken(r)
}

// ClientOptionsFromConfig maps websocket and realtime settings onto client options.
func ClientOptionsFromConfig(cfg *config.Config) wsAdapter.ClientOptions {
	return wsAdapter.ClientOptions{
		WriteWait:         cfg.WebSocket.WriteWait,
		PongWait:          cfg.WebSocket.PongWait,
		PingPeriod:        cfg.WebSocket.PingInterval,
		MaxMessageSize:    cfg.WebSocket.MaxMessageSize,
		SendBufferSize:    cfg.WebSocket.SendBufferSize,
		MessagesPerSecond: cfg.WebSocket.MessagesPerSecond,
		MessageBurst:      cfg.WebSocket.MessageBurst,
		IdentifyTimeout:   cfg.Realtime.IdentifyTimeout,
	}
}
