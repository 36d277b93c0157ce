// Package identity is the client side of the identity service: password
// sign-in, transparent token refresh, sign-out, and session change events.
//
// Sign-in and refresh are standard OAuth2 grants, so the heavy lifting is done
// by golang.org/x/oauth2. The Client adds the session cell and its listeners.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/melotech/melotech/internal/apperror"
	"github.com/melotech/melotech/internal/client/remote"
)

// Event names the kind of session change.
type Event string

const (
	SignedIn       Event = "SIGNED_IN"
	SignedOut      Event = "SIGNED_OUT"
	TokenRefreshed Event = "TOKEN_REFRESHED"
)

// Identity is the signed-in principal.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Session is a snapshot of the signed-in state. Listeners receive copies.
type Session struct {
	Identity     Identity
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// Listener is called with every session change. session is nil on SignedOut.
type Listener func(ev Event, session *Session)

// Gateway is what the rest of the client needs from the identity service.
type Gateway interface {
	SignIn(ctx context.Context, email, secret string) (*Session, error)
	SignOut(ctx context.Context) error
	// CurrentUser returns (nil, nil) when nobody is signed in.
	CurrentUser(ctx context.Context) (*Session, error)
	OnSessionChange(fn Listener) (unsubscribe func())
	Token(ctx context.Context) (string, error)
}

var _ Gateway = (*Client)(nil)

// Client implements Gateway against the platform server. It is safe for
// concurrent use.
type Client struct {
	oauth      *oauth2.Config
	httpClient *http.Client
	rest       *remote.Client
	logger     *slog.Logger

	mu        sync.Mutex
	session   *Session
	source    oauth2.TokenSource
	listeners map[int]Listener
	nextID    int
}

type Option func(*Client)

// WithHTTPClient routes token and API calls through hc.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithClientID sets the OAuth2 client_id sent with grants.
func WithClientID(id string) Option {
	return func(c *Client) { c.oauth.ClientID = id }
}

// New creates a signed-out client for the server at baseURL.
func New(baseURL string, logger *slog.Logger, opts ...Option) *Client {
	base := strings.TrimRight(baseURL, "/")
	c := &Client{
		oauth: &oauth2.Config{
			ClientID: "melotech-client",
			Endpoint: oauth2.Endpoint{
				TokenURL:  base + "/auth/v1/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: http.DefaultClient,
		logger:     logger,
		listeners:  make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.rest = remote.New(base, c.Token, remote.WithHTTPClient(c.httpClient))
	return c
}

// oauthContext carries the HTTP client into x/oauth2. The refresh path keeps
// the context for the lifetime of the token source, so it must not be a
// request context.
func (c *Client) oauthContext() context.Context {
	return context.WithValue(context.Background(), oauth2.HTTPClient, c.httpClient)
}

// SignIn runs the password grant and replaces any existing session.
func (c *Client) SignIn(ctx context.Context, email, secret string) (*Session, error) {
	tokCtx := context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	tok, err := c.oauth.PasswordCredentialsToken(tokCtx, email, secret)
	if err != nil {
		return nil, grantError("sign-in failed", err)
	}

	session, err := sessionFromToken(tok)
	if err != nil {
		return nil, apperror.Auth("sign-in failed", err)
	}

	c.mu.Lock()
	c.session = session
	c.source = &refreshSource{
		client: c,
		base:   c.oauth.TokenSource(c.oauthContext(), tok),
		last:   tok.AccessToken,
	}
	c.mu.Unlock()

	c.logger.Info("signed in", slog.String("identityID", session.Identity.ID))
	c.emit(SignedIn, session)
	return copySession(session), nil
}

// SignOut clears the local session first, then revokes it on the server. The
// local session is gone even when the server call fails.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	session := c.session
	c.session = nil
	c.source = nil
	c.mu.Unlock()

	if session == nil {
		return nil
	}
	c.emit(SignedOut, nil)

	// The session is already cleared, so the bearer token is passed explicitly.
	rest := remote.New(c.rest.BaseURL(), func(context.Context) (string, error) {
		return session.AccessToken, nil
	}, remote.WithHTTPClient(c.httpClient))
	if err := rest.Post(ctx, "/auth/v1/logout", nil, nil); err != nil {
		if errors.Is(err, apperror.ErrUnauthenticated) {
			return nil
		}
		return apperror.Auth("sign-out failed", err)
	}
	return nil
}

// CurrentUser validates the session with the server. A session the server no
// longer accepts is cleared and reported as none.
func (c *Client) CurrentUser(ctx context.Context) (*Session, error) {
	c.mu.Lock()
	signedIn := c.session != nil
	c.mu.Unlock()
	if !signedIn {
		return nil, nil
	}

	var who Identity
	if err := c.rest.Get(ctx, "/auth/v1/user", nil, &who); err != nil {
		if errors.Is(err, apperror.ErrUnauthenticated) {
			c.drop("session rejected by server")
			return nil, nil
		}
		return nil, apperror.Auth("could not load current user", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil, nil
	}
	c.session.Identity = who
	return copySession(c.session), nil
}

// OnSessionChange registers fn. Listeners run synchronously, in no particular
// order, on the goroutine that caused the change.
func (c *Client) OnSessionChange(fn Listener) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

// Token returns a valid access token, refreshing it if it has expired.
func (c *Client) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	src := c.source
	c.mu.Unlock()
	if src == nil {
		return "", apperror.Unauthenticated("not signed in")
	}

	tok, err := src.Token()
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

func (c *Client) emit(ev Event, session *Session) {
	c.mu.Lock()
	fns := make([]Listener, 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(ev, copySession(session))
	}
}

// drop clears a session the server refused and announces the sign-out.
func (c *Client) drop(reason string) {
	c.mu.Lock()
	had := c.session != nil
	c.session = nil
	c.source = nil
	c.mu.Unlock()

	if had {
		c.logger.Info("session ended", slog.String("reason", reason))
		c.emit(SignedOut, nil)
	}
}

// refreshSource wraps the oauth2 token source to notice refreshes.
type refreshSource struct {
	client *Client
	base   oauth2.TokenSource

	mu   sync.Mutex
	last string
}

func (s *refreshSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.ErrorCode == "invalid_grant" {
			s.client.drop("refresh token rejected")
			return nil, apperror.Unauthenticated("session expired")
		}
		return nil, grantError("token refresh failed", err)
	}

	s.mu.Lock()
	refreshed := tok.AccessToken != s.last
	s.last = tok.AccessToken
	s.mu.Unlock()
	if !refreshed {
		return tok, nil
	}

	c := s.client
	c.mu.Lock()
	if c.session == nil || c.source != s {
		c.mu.Unlock()
		return tok, nil
	}
	c.session.AccessToken = tok.AccessToken
	c.session.RefreshToken = tok.RefreshToken
	c.session.Expiry = tok.Expiry
	session := copySession(c.session)
	c.mu.Unlock()

	c.emit(TokenRefreshed, session)
	return tok, nil
}

// grantError turns an oauth2 failure into an ErrAuth with a readable message.
func grantError(prefix string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		msg := re.ErrorDescription
		if msg == "" {
			msg = re.ErrorCode
		}
		if msg == "" && re.Response != nil {
			msg = fmt.Sprintf("status %d", re.Response.StatusCode)
		}
		return apperror.Auth(msg, nil)
	}
	return apperror.Auth(prefix+": identity service unreachable", err)
}

func sessionFromToken(tok *oauth2.Token) (*Session, error) {
	user, ok := tok.Extra("user").(map[string]any)
	if !ok {
		return nil, errors.New("token response has no user")
	}
	id, _ := user["id"].(string)
	email, _ := user["email"].(string)
	if id == "" {
		return nil, errors.New("token response has no user id")
	}
	return &Session{
		Identity:     Identity{ID: id, Email: email},
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}, nil
}

func copySession(s *Session) *Session {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}
