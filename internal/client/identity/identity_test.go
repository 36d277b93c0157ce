package identity

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/melotech/melotech/internal/apperror"
)

// fakeIdentityServer speaks just enough of /auth/v1 for the client.
type fakeIdentityServer struct {
	mu          sync.Mutex
	expiresIn   int
	issued      int
	valid       map[string]bool
	logoutFails bool
	refreshOK   bool
}

func (f *fakeIdentityServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	writeJSON := func(status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}
	issue := func() {
		f.issued++
		access := "access-" + string(rune('0'+f.issued))
		f.valid[access] = true
		writeJSON(http.StatusOK, map[string]any{
			"access_token":  access,
			"token_type":    "bearer",
			"expires_in":    f.expiresIn,
			"refresh_token": "refresh-token",
			"user":          map[string]string{"id": "identity-1", "email": "luna@example.com"},
		})
	}

	switch r.URL.Path {
	case "/auth/v1/token":
		_ = r.ParseForm()
		switch r.PostForm.Get("grant_type") {
		case "password":
			if r.PostForm.Get("password") != "right" {
				writeJSON(http.StatusBadRequest, map[string]string{"error": "invalid_grant", "error_description": "Invalid login credentials"})
				return
			}
			issue()
		case "refresh_token":
			if !f.refreshOK {
				writeJSON(http.StatusBadRequest, map[string]string{"error": "invalid_grant", "error_description": "Invalid Refresh Token"})
				return
			}
			issue()
		}
	case "/auth/v1/user":
		tok := r.Header.Get("Authorization")
		if len(tok) < 8 || !f.valid[tok[7:]] {
			writeJSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized", "message": "valid authentication required"})
			return
		}
		writeJSON(http.StatusOK, map[string]string{"id": "identity-1", "email": "luna@example.com"})
	case "/auth/v1/logout":
		if f.logoutFails {
			writeJSON(http.StatusInternalServerError, map[string]string{"error": "internal_error", "message": "boom"})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) record(ev Event, _ *Session) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) all() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

func newTestClient(t *testing.T, f *fakeIdentityServer) *Client {
	t.Helper()
	if f.valid == nil {
		f.valid = map[string]bool{}
	}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return New(srv.URL, slog.New(slog.NewTextHandler(io.Discard, nil)), WithHTTPClient(srv.Client()))
}

func TestSignInEmitsAndStoresSession(t *testing.T) {
	c := newTestClient(t, &fakeIdentityServer{expiresIn: 900})
	log := &eventLog{}
	c.OnSessionChange(log.record)

	s, err := c.SignIn(context.Background(), "luna@example.com", "right")
	require.NoError(t, err)
	assert.Equal(t, "identity-1", s.Identity.ID)
	assert.Equal(t, "access-1", s.AccessToken)
	assert.Equal(t, []Event{SignedIn}, log.all())

	tok, err := c.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok)

	cur, err := c.CurrentUser(context.Background())
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, "luna@example.com", cur.Identity.Email)
}

func TestSignInBadCredentials(t *testing.T) {
	c := newTestClient(t, &fakeIdentityServer{expiresIn: 900})

	_, err := c.SignIn(context.Background(), "luna@example.com", "wrong")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperror.ErrAuth)
	assert.Contains(t, err.Error(), "Invalid login credentials")

	cur, err := c.CurrentUser(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, cur)
}

func TestCurrentUserWithoutSessionIsNone(t *testing.T) {
	c := newTestClient(t, &fakeIdentityServer{})

	cur, err := c.CurrentUser(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, cur)

	_, err = c.Token(context.Background())
	assert.ErrorIs(t, err, apperror.ErrUnauthenticated)
}

func TestExpiredTokenRefreshes(t *testing.T) {
	// expires_in below oauth2's expiry delta makes every token already stale.
	c := newTestClient(t, &fakeIdentityServer{expiresIn: 1, refreshOK: true})
	log := &eventLog{}
	c.OnSessionChange(log.record)

	_, err := c.SignIn(context.Background(), "luna@example.com", "right")
	require.NoError(t, err)

	tok, err := c.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-2", tok)
	assert.Equal(t, []Event{SignedIn, TokenRefreshed}, log.all())
}

func TestRejectedRefreshSignsOut(t *testing.T) {
	c := newTestClient(t, &fakeIdentityServer{expiresIn: 1, refreshOK: false})
	log := &eventLog{}
	c.OnSessionChange(log.record)

	_, err := c.SignIn(context.Background(), "luna@example.com", "right")
	require.NoError(t, err)

	_, err = c.Token(context.Background())
	assert.ErrorIs(t, err, apperror.ErrUnauthenticated)
	assert.Equal(t, []Event{SignedIn, SignedOut}, log.all())

	cur, err := c.CurrentUser(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, cur)
}

func TestSignOutClearsEvenWhenServerFails(t *testing.T) {
	c := newTestClient(t, &fakeIdentityServer{expiresIn: 900, logoutFails: true})
	log := &eventLog{}
	unsubscribe := c.OnSessionChange(log.record)

	_, err := c.SignIn(context.Background(), "luna@example.com", "right")
	require.NoError(t, err)

	err = c.SignOut(context.Background())
	assert.ErrorIs(t, err, apperror.ErrAuth)
	assert.Equal(t, []Event{SignedIn, SignedOut}, log.all())

	cur, err := c.CurrentUser(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, cur)

	unsubscribe()
	unsubscribe()
	_, err = c.SignIn(context.Background(), "luna@example.com", "right")
	require.NoError(t, err)
	assert.Len(t, log.all(), 2)
}

func TestSignOutWithoutSession(t *testing.T) {
	c := newTestClient(t, &fakeIdentityServer{})
	assert.NoError(t, c.SignOut(context.Background()))
}
