// Package notify is the client end of the realtime sockets. A Channel makes a
// single connection attempt, decodes {type, data, timestamp} envelopes and
// hands submission updates to a callback.
//
// STATES:
//
//	disconnected ──Connect──▶ connecting ──ok──▶ connected ──closed──▶ disconnected
//	                               └──────fail──▶ error
//
// A Channel never reconnects. Failures are reported only through Status and
// the status callback; consumers fall back to polling while not connected.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/melotech/melotech/internal/apperror"
	"github.com/melotech/melotech/internal/client/remote"
	"github.com/melotech/melotech/internal/model"
)

type Status string

const (
	Disconnected Status = "disconnected"
	Connecting   Status = "connecting"
	Connected    Status = "connected"
	Error        Status = "error"
)

const writeTimeout = 5 * time.Second

// AdminEndpoint is the admin room socket of the server at baseURL.
func AdminEndpoint(baseURL string) string {
	return socketBase(baseURL) + "/ws/admin"
}

// ArtistEndpoint is the socket carrying updates for one artist's submissions.
func ArtistEndpoint(baseURL, internalUserID string) string {
	return socketBase(baseURL) + "/ws/artist/" + url.PathEscape(internalUserID)
}

func socketBase(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base
}

type Option func(*Channel)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Channel) { c.httpClient = hc }
}

// OnSubmissionUpdate registers the callback for submission_update messages.
func OnSubmissionUpdate(fn func(model.SubmissionUpdate)) Option {
	return func(c *Channel) { c.onUpdate = fn }
}

// OnMessage registers a callback for every well-formed envelope.
func OnMessage(fn func(model.Envelope)) Option {
	return func(c *Channel) { c.onMessage = fn }
}

// OnStatusChange is called after every state transition.
func OnStatusChange(fn func(Status)) Option {
	return func(c *Channel) { c.onStatus = fn }
}

// Channel is one websocket connection. Callbacks run on the read goroutine.
type Channel struct {
	endpoint   string
	token      remote.TokenFunc
	httpClient *http.Client
	logger     *slog.Logger

	onUpdate  func(model.SubmissionUpdate)
	onMessage func(model.Envelope)
	onStatus  func(Status)

	mu        sync.Mutex
	status    Status
	attempted bool
	closed    bool
	conn      *websocket.Conn
	cancel    context.CancelFunc
	done      chan struct{}
}

// New returns a disconnected channel for endpoint. token may be nil for an
// unauthenticated socket.
func New(endpoint string, token remote.TokenFunc, logger *slog.Logger, opts ...Option) *Channel {
	c := &Channel{
		endpoint: endpoint,
		token:    token,
		logger:   logger,
		status:   Disconnected,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Channel) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Connect dials once. Only the first call on a Channel does anything; the
// outcome is visible through Status.
func (c *Channel) Connect(ctx context.Context) {
	c.mu.Lock()
	if c.attempted {
		c.mu.Unlock()
		return
	}
	c.attempted = true
	c.mu.Unlock()

	c.setStatus(Connecting)

	target, err := c.dialURL(ctx)
	if err != nil {
		c.fail(err)
		return
	}

	conn, _, err := websocket.Dial(ctx, target, &websocket.DialOptions{HTTPClient: c.httpClient})
	if err != nil {
		c.fail(apperror.Channel("dialing "+c.endpoint, err))
		return
	}

	readCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		_ = conn.CloseNow()
		c.logger.Debug("realtime channel closed while dialing", slog.String("endpoint", c.endpoint))
		c.setStatus(Disconnected)
		return
	}
	c.conn = conn
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	c.logger.Info("realtime channel connected", slog.String("endpoint", c.endpoint))
	c.setStatus(Connected)

	go func() {
		defer close(done)
		c.readLoop(readCtx, conn)
	}()
}

func (c *Channel) dialURL(ctx context.Context) (string, error) {
	if c.token == nil {
		return c.endpoint, nil
	}
	tok, err := c.token(ctx)
	if err != nil {
		return "", err
	}
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return "", apperror.Channel("parsing endpoint", err)
	}
	q := u.Query()
	q.Set("access_token", tok)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Channel) fail(err error) {
	c.logger.Warn("realtime channel unavailable",
		slog.String("endpoint", c.endpoint),
		slog.String("error", err.Error()),
	)
	c.setStatus(Error)
}

func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				c.logger.Debug("realtime channel read ended", slog.String("error", err.Error()))
			}
			c.mu.Lock()
			c.conn = nil
			c.mu.Unlock()
			c.setStatus(Disconnected)
			return
		}
		c.dispatch(data)
	}
}

// dispatch decodes one frame. Anything that is not a well-formed envelope,
// such as the server's plain text echo, is dropped.
func (c *Channel) dispatch(data []byte) {
	var env model.Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
		return
	}
	if c.onMessage != nil {
		c.onMessage(env)
	}
	if env.Type != model.MessageSubmissionUpdate || c.onUpdate == nil {
		return
	}
	var update model.SubmissionUpdate
	if err := json.Unmarshal(env.Data, &update); err != nil || update.SubmissionID == "" {
		return
	}
	c.onUpdate(update)
}

// Send writes v as JSON while connected. Otherwise the message is dropped.
func (c *Channel) Send(ctx context.Context, v any) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.status == Connected
	c.mu.Unlock()

	if conn == nil || !connected {
		c.logger.Debug("realtime channel not connected, message dropped")
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, conn, v); err != nil {
		return apperror.Channel("sending message", err)
	}
	return nil
}

// Close ends the connection and waits for the read goroutine. A dial still in
// flight is torn down as soon as it completes.
func (c *Channel) Close() error {
	c.mu.Lock()
	conn, cancel, done := c.conn, c.cancel, c.done
	c.attempted = true
	c.closed = true
	c.mu.Unlock()

	if conn == nil {
		if done != nil {
			<-done
		}
		return nil
	}

	err := conn.Close(websocket.StatusNormalClosure, "client closing")
	cancel()
	<-done
	if err != nil && websocket.CloseStatus(err) == -1 {
		c.logger.Debug("realtime channel close", slog.String("error", err.Error()))
	}
	return nil
}

func (c *Channel) setStatus(s Status) {
	c.mu.Lock()
	changed := c.status != s
	c.status = s
	c.mu.Unlock()

	if changed && c.onStatus != nil {
		c.onStatus(s)
	}
}
