package roles

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/melotech/melotech/internal/apperror"
	"github.com/melotech/melotech/internal/client/remote"
	"github.com/melotech/melotech/internal/model"
)

func usersServer(t *testing.T, rows map[string][]model.User, status int) *remote.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/users", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(remote.ErrorBody{Error: "internal_error", Message: "database down"})
			return
		}
		found := rows[r.URL.Query().Get("authid")]
		if found == nil {
			found = []model.User{}
		}
		_ = json.NewEncoder(w).Encode(found)
	}))
	t.Cleanup(srv.Close)
	return remote.New(srv.URL, func(context.Context) (string, error) { return "tok", nil },
		remote.WithHTTPClient(srv.Client()))
}

func TestResolve(t *testing.T) {
	rows := map[string][]model.User{
		"artist-identity": {{ID: "u1", AuthID: "artist-identity"}},
		"admin-identity":  {{ID: "u2", AuthID: "admin-identity", Admin: true}},
		"dup-identity":    {{ID: "u3"}, {ID: "u4"}},
	}
	r := NewResolver(usersServer(t, rows, http.StatusOK))

	tests := []struct {
		name     string
		identity string
		want     Role
		wantErr  error
	}{
		{name: "artist", identity: "artist-identity", want: Role{InternalUserID: "u1"}},
		{name: "admin", identity: "admin-identity", want: Role{InternalUserID: "u2", IsAdmin: true}},
		{name: "no row", identity: "ghost", wantErr: apperror.ErrLookup},
		{name: "two rows", identity: "dup-identity", wantErr: apperror.ErrLookup},
		{name: "empty identity", identity: "", wantErr: apperror.ErrUnauthenticated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Resolve(context.Background(), tt.identity)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, Role{}, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveServerFailure(t *testing.T) {
	r := NewResolver(usersServer(t, nil, http.StatusInternalServerError))

	_, err := r.Resolve(context.Background(), "artist-identity")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperror.ErrRemote)
	assert.Contains(t, err.Error(), "database down")
}
