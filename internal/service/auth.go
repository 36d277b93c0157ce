// Package service holds the platform's business rules. Handlers translate HTTP
// into calls here; repositories and collaborators are injected as interfaces.
//
//	AuthHandler (HTTP) → AuthService → IdentityRepository / SessionRepository / UserRepository
//	                                 ↘ TokenService (JWT), PasswordService (bcrypt)
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/melotech/melotech/internal/apperror"
	"github.com/melotech/melotech/internal/auth"
	"github.com/melotech/melotech/internal/model"
	"github.com/melotech/melotech/internal/repository"
)

// invalidCredentials is shown for both unknown emails and wrong passwords so the
// response does not reveal which accounts exist.
const invalidCredentials = "Invalid login credentials"

// AuthService implements sign-up, password and refresh grants, and sign-out.
type AuthService struct {
	identities repository.IdentityRepository
	sessions   repository.SessionRepository
	users      repository.UserRepository
	tokens     *auth.TokenService
	passwords  *auth.PasswordService
	logger     *slog.Logger
}

// NewAuthService wires an AuthService.
func NewAuthService(
	identities repository.IdentityRepository,
	sessions repository.SessionRepository,
	users repository.UserRepository,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		identities: identities,
		sessions:   sessions,
		users:      users,
		tokens:     tokens,
		passwords:  passwords,
		logger:     logger,
	}
}

// TokenPair is the result of a successful grant.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
	Identity     *model.Identity
}

// SignUpInput creates an identity and its (non-admin) profile row.
type SignUpInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// SignUp registers a new artist. The profile row is created in the same call so a
// freshly signed-up identity resolves to a role immediately.
func (s *AuthService) SignUp(ctx context.Context, in SignUpInput) (*model.Identity, error) {
	return s.signUp(ctx, in, false)
}

func (s *AuthService) signUp(ctx context.Context, in SignUpInput, admin bool) (*model.Identity, error) {
	email := strings.TrimSpace(in.Email)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, apperror.ValidationFailed("email", "a valid email address is required")
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		if errors.Is(err, auth.ErrWeakPassword) {
			return nil, apperror.ValidationFailed("password",
				fmt.Sprintf("password must be at least %d characters", auth.MinPasswordLength))
		}
		return nil, fmt.Errorf("service/auth: hashing password: %w", err)
	}

	identity := &model.Identity{Email: email, PasswordHash: hash}
	if err := s.identities.CreateIdentity(ctx, identity); err != nil {
		return nil, fmt.Errorf("service/auth: creating identity: %w", err)
	}

	user := &model.User{AuthID: identity.ID, Name: strings.TrimSpace(in.Name), Email: email, Admin: admin}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("service/auth: creating profile for %s: %w", identity.ID, err)
	}

	s.logger.Info("identity signed up",
		slog.String("identityID", identity.ID),
		slog.String("userID", user.ID),
		slog.Bool("admin", admin),
	)
	return identity, nil
}

// PasswordGrant verifies the credentials and opens a new session.
func (s *AuthService) PasswordGrant(ctx context.Context, email, password string) (*TokenPair, error) {
	identity, err := s.identities.GetIdentityByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Auth(invalidCredentials, nil)
		}
		return nil, fmt.Errorf("service/auth: looking up identity: %w", err)
	}

	if err := s.passwords.Verify(identity.PasswordHash, password); err != nil {
		s.logger.Debug("password mismatch", slog.String("identityID", identity.ID))
		return nil, apperror.Auth(invalidCredentials, nil)
	}

	session, err := s.sessions.CreateSession(ctx, identity.ID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: opening session: %w", err)
	}

	s.logger.Info("identity signed in",
		slog.String("identityID", identity.ID),
		slog.String("sessionID", session.ID),
	)
	return s.issue(identity, session.ID)
}

// RefreshGrant exchanges a refresh token of a live session for a new pair.
func (s *AuthService) RefreshGrant(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.tokens.ValidateRefresh(refreshToken)
	if err != nil {
		return nil, apperror.Auth("Invalid Refresh Token", err)
	}

	active, err := s.sessions.SessionActive(ctx, claims.SessionID, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("service/auth: checking session: %w", err)
	}
	if !active {
		return nil, apperror.Auth("Invalid Refresh Token: session revoked", nil)
	}

	identity, err := s.identities.GetIdentityByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Auth("Invalid Refresh Token: identity removed", nil)
		}
		return nil, fmt.Errorf("service/auth: loading identity: %w", err)
	}
	return s.issue(identity, claims.SessionID)
}

// SignOut revokes the caller's session so its refresh token stops working.
func (s *AuthService) SignOut(ctx context.Context, claims *auth.Claims) error {
	if claims == nil {
		return apperror.Unauthenticated("no session")
	}
	if err := s.sessions.RevokeSession(ctx, claims.SessionID); err != nil {
		return fmt.Errorf("service/auth: revoking session: %w", err)
	}
	s.logger.Info("identity signed out",
		slog.String("identityID", claims.Subject),
		slog.String("sessionID", claims.SessionID),
	)
	return nil
}

// Identity returns the identity behind a verified access token.
func (s *AuthService) Identity(ctx context.Context, identityID string) (*model.Identity, error) {
	identity, err := s.identities.GetIdentityByID(ctx, identityID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthenticated("identity no longer exists")
		}
		return nil, fmt.Errorf("service/auth: loading identity %s: %w", identityID, err)
	}
	return identity, nil
}

// BootstrapAdmin creates the first admin when the users table has none.
// It does nothing when an admin already exists or the email is already taken.
func (s *AuthService) BootstrapAdmin(ctx context.Context, email, password string) error {
	if email == "" || password == "" {
		return nil
	}

	count, err := s.users.CountAdmins(ctx)
	if err != nil {
		return fmt.Errorf("service/auth: counting admins: %w", err)
	}
	if count > 0 {
		return nil
	}

	if _, err := s.signUp(ctx, SignUpInput{Email: email, Password: password, Name: "admin"}, true); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			s.logger.Warn("admin bootstrap skipped: email already registered", slog.String("email", email))
			return nil
		}
		return fmt.Errorf("service/auth: bootstrapping admin: %w", err)
	}

	s.logger.Info("admin account bootstrapped", slog.String("email", email))
	return nil
}

func (s *AuthService) issue(identity *model.Identity, sessionID string) (*TokenPair, error) {
	access, err := s.tokens.IssueAccess(identity.ID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: issuing access token: %w", err)
	}
	refresh, err := s.tokens.IssueRefresh(identity.ID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: issuing refresh token: %w", err)
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    auth.AccessTTL,
		Identity:     identity,
	}, nil
}
