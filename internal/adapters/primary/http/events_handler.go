package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/lorrc/workspace-realtime/internal/adapters/primary/validation"
	"github.com/lorrc/workspace-realtime/internal/core/domain"
	"github.com/lorrc/workspace-realtime/internal/core/ports"
	"github.com/lorrc/workspace-realtime/internal/infrastructure/logging"
)

// PublishEventRequest is the body of POST /events. The CRUD layer posts one
// of these after each committed change.
type PublishEventRequest struct {
	Type    domain.EventType `json:"type"`
	Payload json.RawMessage  `json:"payload"`
}

// EventsHandler accepts domain events for fan-out.
type EventsHandler struct {
	publisher    ports.EventPublisher
	errorHandler *ErrorHandler
	logger       *slog.Logger
}

// NewEventsHandler creates a new EventsHandler.
func NewEventsHandler(publisher ports.EventPublisher, errorHandler *ErrorHandler, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{
		publisher:    publisher,
		errorHandler: errorHandler,
		logger:       logger.With("handler", "events"),
	}
}

// RegisterRoutes registers the /events routes.
func (h *EventsHandler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.HandlePublish)
}

// HandlePublish handles POST /events.
func (h *EventsHandler) HandlePublish(w http.ResponseWriter, r *http.Request) {
	req, err := validation.DecodeAndValidate[PublishEventRequest](w, r)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	allowed := make([]string, 0, len(domain.EventTypes))
	for _, t := range domain.EventTypes {
		allowed = append(allowed, string(t))
	}
	v := validation.NewValidator().
		Required("type", string(req.Type)).
		OneOf("type", string(req.Type), allowed).
		Custom("payload", len(req.Payload) > 0 && string(req.Payload) != "null", "This field is required")
	if err := v.Err(); err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	event, err := domain.DecodeEvent(req.Type, req.Payload)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	ctx := r.Context()
	if ws := event.Workspace(); ws != "" {
		ctx = logging.WithWorkspaceID(ctx, ws)
	}
	if err := h.publisher.Publish(ctx, event); err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	logging.LoggerFromContext(ctx, h.logger).Debug("event accepted", "event_type", string(event.EventType()))
	WriteAccepted(w, "Event accepted")
}
