package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/Wyydra/mumblecall/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/mumblecall/internal/adapter/driven/telephony/bridge"
	"github.com/Wyydra/mumblecall/internal/core/domain"
)

// Calls is the coordinator surface the HTTP layer drives.
type Calls interface {
	HandleIncoming(ctx context.Context, desc domain.IncomingDescriptor) (domain.SessionID, error)
	RequestOutgoingCall(ctx context.Context, peer string, channelID domain.ChannelID) (domain.SessionID, error)
	ToggleMute(ctx context.Context) (bool, error)
	ToggleDeafen(ctx context.Context) (bool, error)
	Status(ctx context.Context) (domain.CallStatus, error)
	History(ctx context.Context, limit int) ([]domain.CallRecord, error)
}

// Shell attaches the native telephony shell connection.
type Shell interface {
	Serve(conn bridge.Conn) error
	Connected() bool
}

type Handler struct {
	Calls   Calls
	Hub     *ws.Hub
	Shell   Shell
	Metrics http.Handler
}

func NewHandler(calls Calls, hub *ws.Hub, shell Shell, metrics http.Handler) *Handler {
	return &Handler{
		Calls:   calls,
		Hub:     hub,
		Shell:   shell,
		Metrics: metrics,
	}
}

func (h *Handler) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Post("/push/incoming", h.PushIncoming)
	r.Route("/calls", func(r chi.Router) {
		r.Post("/", h.PlaceCall)
		r.Get("/history", h.History)
	})
	r.Post("/audio/mute", h.ToggleMute)
	r.Post("/audio/deafen", h.ToggleDeafen)
	r.Get("/status", h.Status)
	r.Get("/healthz", h.Health)

	r.Get("/ws", h.ServeWS)
	r.Get("/shell", h.ServeShell)
	if h.Metrics != nil {
		r.Handle("/metrics", h.Metrics)
	}
	return r
}

type errorDTO struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Error encoding response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorDTO{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrTelephonyRefusal),
		errors.Is(err, domain.ErrCallInProgress),
		errors.Is(err, domain.ErrPreempted),
		errors.Is(err, domain.ErrProviderReset):
		return http.StatusConflict
	case errors.Is(err, domain.ErrConnection):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrChannelResolutionTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrCoordinatorStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrSessionEnded):
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}
