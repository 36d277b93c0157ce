package realtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/melotech/melotech/internal/model"
)

func newTestHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)), nil, nil)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		room := r.URL.Query().Get("room")
		_ = hub.Serve(w, r, room, r.URL.Query().Get("user"))
	}))
	t.Cleanup(srv.Close)
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, room, user string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?room=" + room + "&user=" + user
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

func waitForCount(t *testing.T, hub *Hub, room string, want int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.Count(room) == want },
		2*time.Second, 10*time.Millisecond, "room %q never reached %d connections", room, want)
}

func TestServeEchoesText(t *testing.T) {
	hub, srv := newTestHub(t)
	conn := dial(t, srv, RoomAdmin, "")
	waitForCount(t, hub, RoomAdmin, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("ping")))
	typ, data, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, websocket.MessageText, typ)
	assert.Equal(t, "Echo: ping", string(data))
}

func TestCountAndRooms(t *testing.T) {
	hub, srv := newTestHub(t)
	assert.Equal(t, 0, hub.Count(""))
	assert.Empty(t, hub.Rooms())

	dial(t, srv, RoomAdmin, "")
	dial(t, srv, RoomArtist, "u1")
	artist := dial(t, srv, RoomArtist, "u2")
	waitForCount(t, hub, "", 3)

	assert.Equal(t, 1, hub.Count(RoomAdmin))
	assert.Equal(t, 2, hub.Count(RoomArtist))
	assert.Equal(t, []string{RoomAdmin, RoomArtist}, hub.Rooms())

	require.NoError(t, artist.Close(websocket.StatusNormalClosure, "bye"))
	waitForCount(t, hub, RoomArtist, 1)
}

func TestBroadcastReachesRoomOnly(t *testing.T) {
	hub, srv := newTestHub(t)
	admin := dial(t, srv, RoomAdmin, "")
	artist := dial(t, srv, RoomArtist, "u1")
	waitForCount(t, hub, "", 2)

	env, err := NewEnvelope(model.MessageSubmissionUpdate, model.SubmissionUpdate{
		SubmissionID:  "s1",
		Title:         "Night Drive",
		UpdatedFields: []string{"status"},
		NewData:       model.ReviewState{Status: model.StatusApproved},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	assert.Equal(t, 1, hub.Broadcast(ctx, RoomAdmin, env))

	var got model.Envelope
	require.NoError(t, wsjson.Read(ctx, admin, &got))
	assert.Equal(t, model.MessageSubmissionUpdate, got.Type)

	var update model.SubmissionUpdate
	require.NoError(t, json.Unmarshal(got.Data, &update))
	assert.Equal(t, "s1", update.SubmissionID)
	assert.Equal(t, model.StatusApproved, update.NewData.Status)

	// The artist connection must not have received the admin broadcast.
	readCtx, cancelRead := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancelRead()
	_, _, err = artist.Read(readCtx)
	assert.Error(t, err)
}

func TestSendToUser(t *testing.T) {
	hub, srv := newTestHub(t)
	mine := dial(t, srv, RoomArtist, "u1")
	dial(t, srv, RoomArtist, "u2")
	waitForCount(t, hub, RoomArtist, 2)

	env, err := NewEnvelope(model.MessageSubmissionUpdate, map[string]string{"submission_id": "s1"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	assert.Equal(t, 1, hub.SendToUser(ctx, "u1", env))
	assert.Equal(t, 0, hub.SendToUser(ctx, "nobody", env))

	var got model.Envelope
	require.NoError(t, wsjson.Read(ctx, mine, &got))
	assert.JSONEq(t, `{"submission_id":"s1"}`, string(got.Data))
}

func TestBroadcastToEmptyRoom(t *testing.T) {
	hub, _ := newTestHub(t)
	env, err := NewEnvelope(model.MessageSubmissionUpdate, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, hub.Broadcast(context.Background(), RoomAdmin, env))
}

func TestNewEnvelopeTimestamp(t *testing.T) {
	before := float64(time.Now().Unix())
	env, err := NewEnvelope("ping", map[string]int{"n": 1})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, env.Timestamp, before)
	assert.JSONEq(t, `{"n":1}`, string(env.Data))
}
