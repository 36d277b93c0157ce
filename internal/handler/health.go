package handler

import (
	"net/http"

	"github.com/melotech/melotech/internal/realtime"
)

// Pinger is satisfied by the sqlite repository.
type Pinger interface {
	Ping() error
}

// HealthHandler reports liveness plus websocket room occupancy.
type HealthHandler struct {
	db       Pinger
	hub      *realtime.Hub
	service  string
	version  string
	features []string
}

func NewHealthHandler(db Pinger, hub *realtime.Hub, version string, features []string) *HealthHandler {
	return &HealthHandler{db: db, hub: hub, service: "MeloTech Backend", version: version, features: features}
}

type healthResponse struct {
	Status            string   `json:"status"`
	Service           string   `json:"service"`
	Version           string   `json:"version"`
	Features          []string `json:"features"`
	ActiveConnections int      `json:"active_connections"`
	ActiveRooms       []string `json:"active_rooms"`
}

// HandleHealth reports database reachability and realtime connection counts.
//
// HTTP: GET /health
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	res := healthResponse{
		Status:            "healthy",
		Service:           h.service,
		Version:           h.version,
		Features:          h.features,
		ActiveConnections: h.hub.Count(""),
		ActiveRooms:       h.hub.Rooms(),
	}
	status := http.StatusOK
	if err := h.db.Ping(); err != nil {
		res.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}
