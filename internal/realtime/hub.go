// Package realtime keeps the websocket rooms that submission updates are pushed to.
//
// There are two rooms. Admin dashboards join "admin" and receive every review
// change; artists join "artist" under their internal user ID and receive
// changes to their own submissions.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/melotech/melotech/internal/metrics"
	"github.com/melotech/melotech/internal/model"
)

const (
	RoomAdmin  = "admin"
	RoomArtist = "artist"
)

const writeTimeout = 5 * time.Second

// Client is the metadata kept for one open connection.
type Client struct {
	Room        string
	UserID      string
	ConnectedAt time.Time

	conn *websocket.Conn
}

// Hub tracks open connections by room. It is safe for concurrent use.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}

	originPatterns []string
	logger         *slog.Logger
	metrics        *metrics.Metrics
}

// NewHub creates an empty hub. originPatterns are passed to websocket.Accept;
// same-origin requests are always allowed.
func NewHub(logger *slog.Logger, m *metrics.Metrics, originPatterns []string) *Hub {
	return &Hub{
		rooms:          make(map[string]map[*Client]struct{}),
		originPatterns: originPatterns,
		logger:         logger,
		metrics:        m,
	}
}

// Serve upgrades the request and blocks until the connection closes.
// Text frames from the peer are answered with "Echo: <text>".
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, room, userID string) error {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		return fmt.Errorf("realtime: accepting connection: %w", err)
	}

	c := &Client{Room: room, UserID: userID, ConnectedAt: time.Now().UTC(), conn: conn}
	h.add(c)
	defer h.remove(c)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
				_ = conn.Close(websocket.StatusNormalClosure, "closed")
				return nil
			}
			_ = conn.Close(websocket.StatusInternalError, "read failed")
			h.logger.Debug("websocket read ended",
				slog.String("room", room),
				slog.String("userID", userID),
				slog.String("error", err.Error()),
			)
			return nil
		}
		if typ != websocket.MessageText {
			continue
		}

		writeCtx, cancelWrite := context.WithTimeout(ctx, writeTimeout)
		err = conn.Write(writeCtx, websocket.MessageText, []byte("Echo: "+string(data)))
		cancelWrite()
		if err != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "write_failed")
			return nil
		}
	}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	clients, ok := h.rooms[c.Room]
	if !ok {
		clients = make(map[*Client]struct{})
		h.rooms[c.Room] = clients
	}
	clients[c] = struct{}{}
	total := len(clients)
	h.mu.Unlock()

	h.metrics.ConnectionOpened(c.Room)
	h.logger.Info("websocket connected",
		slog.String("room", c.Room),
		slog.String("userID", c.UserID),
		slog.Int("roomSize", total),
	)
}

// remove is idempotent; a connection dropped by a failed broadcast is removed
// again when its Serve loop returns.
func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	clients, ok := h.rooms[c.Room]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, ok := clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(clients, c)
	if len(clients) == 0 {
		delete(h.rooms, c.Room)
	}
	h.mu.Unlock()

	h.metrics.ConnectionClosed(c.Room)
	h.logger.Info("websocket disconnected",
		slog.String("room", c.Room),
		slog.String("userID", c.UserID),
	)
}

// Broadcast sends env to every connection in room and returns how many
// writes succeeded. Connections whose write fails are closed and removed.
func (h *Hub) Broadcast(ctx context.Context, room string, env model.Envelope) int {
	return h.send(ctx, room, env, func(*Client) bool { return true })
}

// SendToUser sends env to the artist connections registered under userID.
func (h *Hub) SendToUser(ctx context.Context, userID string, env model.Envelope) int {
	return h.send(ctx, RoomArtist, env, func(c *Client) bool { return c.UserID == userID })
}

func (h *Hub) send(ctx context.Context, room string, env model.Envelope, match func(*Client) bool) int {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		if match(c) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		return 0
	}
	h.metrics.IncBroadcast(room, env.Type)

	var failed []*Client
	for _, c := range targets {
		writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := wsjson.Write(writeCtx, c.conn, env)
		cancel()
		if err != nil {
			h.logger.Warn("dropping websocket after failed write",
				slog.String("room", room),
				slog.String("userID", c.UserID),
				slog.String("error", err.Error()),
			)
			failed = append(failed, c)
		}
	}

	for _, c := range failed {
		_ = c.conn.Close(websocket.StatusNormalClosure, "write_failed")
		h.remove(c)
	}
	h.metrics.AddDropped(room, len(failed))
	return len(targets) - len(failed)
}

// Count returns the number of open connections in room, or in all rooms when
// room is empty.
func (h *Hub) Count(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if room != "" {
		return len(h.rooms[room])
	}
	n := 0
	for _, clients := range h.rooms {
		n += len(clients)
	}
	return n
}

// Rooms lists the rooms that currently have at least one connection.
func (h *Hub) Rooms() []string {
	h.mu.RLock()
	rooms := make([]string, 0, len(h.rooms))
	for room := range h.rooms {
		rooms = append(rooms, room)
	}
	h.mu.RUnlock()

	sort.Strings(rooms)
	return rooms
}

// NewEnvelope stamps a payload with the current time.
func NewEnvelope(msgType string, data any) (model.Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return model.Envelope{}, fmt.Errorf("realtime: encoding %s payload: %w", msgType, err)
	}
	now := time.Now()
	return model.Envelope{
		Type:      msgType,
		Data:      raw,
		Timestamp: float64(now.UnixNano()) / float64(time.Second),
	}, nil
}
