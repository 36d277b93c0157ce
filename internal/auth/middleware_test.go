package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequireAuth(t *testing.T) {
	ts := newTestTokenService(t)
	access, err := ts.IssueAccess("identity-1", "session-1")
	require.NoError(t, err)
	refresh, err := ts.IssueRefresh("identity-1", "session-1")
	require.NoError(t, err)

	var seen string
	h := RequireAuth(ts)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = IdentityIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name       string
		header     string
		target     string
		wantStatus int
	}{
		{"bearer header", "Bearer " + access, "/", http.StatusNoContent},
		{"lowercase scheme", "bearer " + access, "/", http.StatusNoContent},
		{"query fallback", "", "/ws/admin?access_token=" + access, http.StatusNoContent},
		{"no token", "", "/", http.StatusUnauthorized},
		{"refresh token rejected", "Bearer " + refresh, "/", http.StatusUnauthorized},
		{"garbage", "Bearer nope", "/", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusNoContent {
				assert.Equal(t, "identity-1", seen)
			} else {
				assert.Empty(t, seen)
				assert.Contains(t, rec.Body.String(), "unauthorized")
			}
		})
	}
}

func TestBearerToken(t *testing.T) {
	tok, ok := BearerToken("Bearer abc")
	assert.True(t, ok)
	assert.Equal(t, "abc", tok)

	_, ok = BearerToken("Basic abc")
	assert.False(t, ok)

	_, ok = BearerToken("Bearer ")
	assert.False(t, ok)
}
