package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/lorrc/workspace-realtime/internal/adapters/primary/validation"
	"github.com/lorrc/workspace-realtime/internal/core/domain"
	apperrors "github.com/lorrc/workspace-realtime/internal/core/errors"
	"github.com/lorrc/workspace-realtime/internal/core/ports"
)

// StatsReader reports live counters of the realtime core.
type StatsReader interface {
	Stats(ctx context.Context) (ports.RealtimeStats, error)
}

// SnapshotReader reads the shared presence mirror, which sees every process
// writing to it rather than only this hub.
type SnapshotReader interface {
	Snapshot(ctx context.Context, workspaceID string) ([]domain.PresenceEntry, error)
}

const (
	presenceSourceLive   = "live"
	presenceSourceMirror = "mirror"
)

// PresenceHandler serves read-only views of live presence.
type PresenceHandler struct {
	presence     ports.PresenceReader
	stats        StatsReader
	mirror       SnapshotReader
	errorHandler *ErrorHandler
	logger       *slog.Logger
}

// NewPresenceHandler creates a new PresenceHandler.
func NewPresenceHandler(
	presence ports.PresenceReader,
	stats StatsReader,
	errorHandler *ErrorHandler,
	logger *slog.Logger,
) *PresenceHandler {
	return &PresenceHandler{
		presence:     presence,
		stats:        stats,
		errorHandler: errorHandler,
		logger:       logger.With("handler", "presence"),
	}
}

// WithMirror enables ?source=mirror on the presence endpoint.
func (h *PresenceHandler) WithMirror(mirror SnapshotReader) *PresenceHandler {
	h.mirror = mirror
	return h
}

// RegisterRoutes registers the /workspaces routes.
func (h *PresenceHandler) RegisterRoutes(r chi.Router) {
	r.Get("/{workspaceID}/presence", h.HandleListOnline)
}

// HandleListOnline handles GET /workspaces/{workspaceID}/presence. The
// optional source query picks the hub (live, default) or the Redis mirror.
func (h *PresenceHandler) HandleListOnline(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspaceID")
	source := r.URL.Query().Get("source")
	if err := validation.NewValidator().
		Required("workspaceID", workspaceID).
		MaxLength("workspaceID", workspaceID, 128).
		OneOf("source", source, []string{presenceSourceLive, presenceSourceMirror}).
		Err(); err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	var (
		users []domain.PresenceEntry
		err   error
	)
	if source == presenceSourceMirror {
		if h.mirror == nil {
			h.errorHandler.Handle(w, r, apperrors.NewUnavailableError(apperrors.ErrUnavailable, "Presence mirror is not configured"))
			return
		}
		users, err = h.mirror.Snapshot(r.Context(), workspaceID)
	} else {
		users, err = h.presence.Online(r.Context(), workspaceID)
	}
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	WriteList(w, users)
}

// HandleStats handles GET /realtime/stats.
func (h *PresenceHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.Stats(r.Context())
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	WriteSuccess(w, stats)
}
