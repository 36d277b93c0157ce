package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/melotech/melotech/internal/apperror"
	"github.com/melotech/melotech/internal/realtime"
	"github.com/melotech/melotech/internal/service"
)

// RealtimeHandler upgrades authenticated requests into hub connections.
// Browsers cannot set headers on the handshake, so the token usually arrives
// as ?access_token= (see auth.RequireAuth).
type RealtimeHandler struct {
	hub     *realtime.Hub
	service *service.SubmissionService
	logger  *slog.Logger
}

func NewRealtimeHandler(hub *realtime.Hub, svc *service.SubmissionService, logger *slog.Logger) *RealtimeHandler {
	return &RealtimeHandler{hub: hub, service: svc, logger: logger}
}

// HandleAdmin upgrades an admin's request to a socket in the admin room.
//
// HTTP: GET /ws/admin (websocket)
// Auth: Required, admin
func (h *RealtimeHandler) HandleAdmin(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.Caller(r.Context(), callerID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if !user.Admin {
		writeError(w, apperror.Forbidden("admin privileges required"))
		return
	}
	h.serve(w, r, realtime.RoomAdmin, user.ID)
}

// HandleArtist upgrades the request to a socket that receives updates for
// the caller's own submissions.
//
// HTTP: GET /ws/artist/{userID} (websocket)
// Auth: Required, the caller must own userID
func (h *RealtimeHandler) HandleArtist(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.Caller(r.Context(), callerID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if user.ID != chi.URLParam(r, "userID") {
		writeError(w, apperror.Forbidden("cannot subscribe to another artist's updates"))
		return
	}
	h.serve(w, r, realtime.RoomArtist, user.ID)
}

func (h *RealtimeHandler) serve(w http.ResponseWriter, r *http.Request, room, userID string) {
	// Accept has already written a response when it fails.
	if err := h.hub.Serve(w, r, room, userID); err != nil {
		h.logger.Warn("websocket upgrade failed",
			slog.String("room", room),
			slog.String("error", err.Error()),
		)
	}
}
