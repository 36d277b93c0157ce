package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/melotech/melotech/internal/apperror"
)

func staticToken(tok string) TokenFunc {
	return func(context.Context) (string, error) { return tok, nil }
}

func TestGetSendsTokenAndQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer abc", r.Header.Get("Authorization"))
		assert.Equal(t, "u1", r.URL.Query().Get("userid"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"s1"},{"id":"s2"}]`))
	}))
	defer srv.Close()

	c := New(srv.URL+"/", staticToken("abc"))
	var out []struct {
		ID string `json:"id"`
	}
	require.NoError(t, c.Get(context.Background(), "/rest/v1/submissions", url.Values{"userid": {"u1"}}, &out))
	assert.Len(t, out, 2)
	assert.Equal(t, srv.URL, c.BaseURL())
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusBadRequest, apperror.ErrValidation},
		{http.StatusUnauthorized, apperror.ErrUnauthenticated},
		{http.StatusForbidden, apperror.ErrForbidden},
		{http.StatusNotFound, apperror.ErrNotFound},
		{http.StatusConflict, apperror.ErrConflict},
		{http.StatusInternalServerError, apperror.ErrRemote},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_ = json.NewEncoder(w).Encode(ErrorBody{Error: "x", Message: "server says no"})
			}))
			defer srv.Close()

			err := New(srv.URL, nil).Post(context.Background(), "/x", map[string]string{}, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var appErr *apperror.AppError
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, "server says no", appErr.Message)
		})
	}
}

func TestTokenErrorShortCircuits(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	defer srv.Close()

	c := New(srv.URL, func(context.Context) (string, error) {
		return "", apperror.Unauthenticated("not signed in")
	})
	err := c.Get(context.Background(), "/x", nil, nil)
	assert.ErrorIs(t, err, apperror.ErrUnauthenticated)
	assert.False(t, called)
}

func TestPutStreamsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "audio/wav", r.Header.Get("Content-Type"))
		b, _ := io.ReadAll(r.Body)
		assert.Equal(t, "RIFF", string(b))
	}))
	defer srv.Close()

	require.NoError(t, New(srv.URL, staticToken("t")).Put(context.Background(), "/obj", strings.NewReader("RIFF"), "audio/wav"))
}

func TestTransportFailureIsRemote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	err := New(srv.URL, nil).Get(context.Background(), "/x", nil, nil)
	assert.ErrorIs(t, err, apperror.ErrRemote)
}

func TestAbsolute(t *testing.T) {
	c := New("http://api.local/", nil)
	assert.Equal(t, "http://api.local/storage/v1/x", c.Absolute("/storage/v1/x"))
	assert.Equal(t, "https://cdn/x", c.Absolute("https://cdn/x"))
}

