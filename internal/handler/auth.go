package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/melotech/melotech/internal/apperror"
	"github.com/melotech/melotech/internal/auth"
	"github.com/melotech/melotech/internal/service"
)

const (
	grantPassword     = "password"
	grantRefreshToken = "refresh_token"
)

// AuthHandler serves the identity endpoints under /auth/v1.
//
//   - HandleToken   → password and refresh_token grants (OAuth2 token endpoint)
//   - HandleLogout  → revoke the caller's session
//   - HandleUser    → the identity behind the bearer token
//   - HandleSignUp  → create an identity and its profile row
type AuthHandler struct {
	auth   *service.AuthService
	logger *slog.Logger
}

func NewAuthHandler(auth *service.AuthService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, logger: logger}
}

// identityResponse is the "user" object of token responses and GET /auth/v1/user.
type identityResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type tokenResponse struct {
	AccessToken  string           `json:"access_token"`
	TokenType    string           `json:"token_type"`
	ExpiresIn    int              `json:"expires_in"`
	RefreshToken string           `json:"refresh_token"`
	User         identityResponse `json:"user"`
}

// HandleToken exchanges credentials or a refresh token for a token pair.
//
// HTTP: POST /auth/v1/token
// Body: application/x-www-form-urlencoded, as golang.org/x/oauth2 sends it
//
//	grant_type=password&username=...&password=...
//	grant_type=refresh_token&refresh_token=...
func (h *AuthHandler) HandleToken(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, "invalid_request", "malformed form body")
		return
	}

	var (
		pair *service.TokenPair
		err  error
	)
	switch grant := r.PostForm.Get("grant_type"); grant {
	case grantPassword:
		email := r.PostForm.Get("username")
		if email == "" {
			email = r.PostForm.Get("email")
		}
		if email == "" || r.PostForm.Get("password") == "" {
			writeOAuthError(w, "invalid_request", "username and password are required")
			return
		}
		pair, err = h.auth.PasswordGrant(r.Context(), email, r.PostForm.Get("password"))
	case grantRefreshToken:
		token := r.PostForm.Get("refresh_token")
		if token == "" {
			writeOAuthError(w, "invalid_request", "refresh_token is required")
			return
		}
		pair, err = h.auth.RefreshGrant(r.Context(), token)
	default:
		writeOAuthError(w, "unsupported_grant_type", "unsupported grant_type "+grant)
		return
	}

	if err != nil {
		var appErr *apperror.AppError
		if errors.Is(err, apperror.ErrAuth) && errors.As(err, &appErr) {
			writeOAuthError(w, "invalid_grant", appErr.Message)
			return
		}
		h.logger.Error("token grant failed", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  pair.AccessToken,
		TokenType:    "bearer",
		ExpiresIn:    int(pair.ExpiresIn.Seconds()),
		RefreshToken: pair.RefreshToken,
		User:         identityResponse{ID: pair.Identity.ID, Email: pair.Identity.Email},
	})
}

// HandleLogout revokes the session of the presented access token. The access
// token itself stays valid until it expires; the refresh token does not.
//
// HTTP: POST /auth/v1/logout
// Auth: Required
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())
	if err := h.auth.SignOut(r.Context(), claims); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleUser returns the caller's identity.
//
// HTTP: GET /auth/v1/user
// Auth: Required
func (h *AuthHandler) HandleUser(w http.ResponseWriter, r *http.Request) {
	identityID, _ := auth.IdentityIDFromContext(r.Context())
	identity, err := h.auth.Identity(r.Context(), identityID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, identityResponse{ID: identity.ID, Email: identity.Email})
}

// HandleSignUp registers an artist account.
//
// HTTP: POST /auth/v1/signup
// Body: {"email": "...", "password": "...", "name": "..."}
func (h *AuthHandler) HandleSignUp(w http.ResponseWriter, r *http.Request) {
	var in service.SignUpInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, err)
		return
	}

	identity, err := h.auth.SignUp(r.Context(), in)
	if err != nil {
		if !errors.Is(err, apperror.ErrValidation) && !errors.Is(err, apperror.ErrConflict) {
			h.logger.Error("sign-up failed", slog.String("error", err.Error()))
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, identityResponse{ID: identity.ID, Email: identity.Email})
}
