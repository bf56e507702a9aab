package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/Wyydra/mumblecall/internal/core/domain"
)

const (
	unknownCaller       = "Unknown"
	defaultHistoryLimit = 50
)

type pushDTO struct {
	Caller    *string `json:"caller"`
	ChannelID *uint32 `json:"channelID"`
}

type sessionDTO struct {
	SessionID string `json:"session_id"`
}

// PushIncoming is the push ingress. The response doubles as the delivery
// acknowledgement, so it is only written once the telephony layer has
// accepted or refused the call.
func (h *Handler) PushIncoming(w http.ResponseWriter, r *http.Request) {
	var req pushDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorDTO{Error: "invalid push payload"})
		return
	}

	desc := domain.IncomingDescriptor{Caller: unknownCaller}
	if req.Caller != nil && strings.TrimSpace(*req.Caller) != "" {
		desc.Caller = *req.Caller
	}
	if req.ChannelID != nil {
		desc.ChannelID = domain.ChannelID(*req.ChannelID)
	}
	log.Info().Str("caller", desc.Caller).Stringer("channel_id", desc.ChannelID).Msg("Incoming call push")

	id, err := h.Calls.HandleIncoming(r.Context(), desc)
	if err != nil {
		log.Warn().Err(err).Msg("Incoming call not shown")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionDTO{SessionID: id.String()})
}

type placeCallDTO struct {
	Peer      string `json:"peer"`
	ChannelID uint32 `json:"channelID"`
}

func (h *Handler) PlaceCall(w http.ResponseWriter, r *http.Request) {
	var req placeCallDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorDTO{Error: "invalid call request"})
		return
	}
	if strings.TrimSpace(req.Peer) == "" {
		writeJSON(w, http.StatusBadRequest, errorDTO{Error: "peer is required"})
		return
	}

	id, err := h.Calls.RequestOutgoingCall(r.Context(), req.Peer, domain.ChannelID(req.ChannelID))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionDTO{SessionID: id.String()})
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorDTO{Error: "invalid limit"})
			return
		}
		limit = n
	}

	records, err := h.Calls.History(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if records == nil {
		records = []domain.CallRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) ToggleMute(w http.ResponseWriter, r *http.Request) {
	muted, err := h.Calls.ToggleMute(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"muted": muted})
}

func (h *Handler) ToggleDeafen(w http.ResponseWriter, r *http.Request) {
	deafened, err := h.Calls.ToggleDeafen(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deafened": deafened})
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.Calls.Status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Health reports whether the daemon can currently show calls. Without a
// shell every push is refused.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	connected := h.Shell.Connected()
	status := http.StatusOK
	if !connected {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]bool{"shell_connected": connected})
}
