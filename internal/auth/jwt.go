// Package auth provides token issuing, password hashing and the request
// authentication middleware for the MeloTech platform server.
//
// TOKEN MODEL:
// A password sign-in creates a server-side session row and returns two JWTs:
//
//	access  token  15 minutes  typ=access   sent as "Authorization: Bearer <jwt>"
//	refresh token  30 days     typ=refresh  exchanged at /auth/v1/token
//
// Both carry the identity ID in "sub" and the session ID in "sid". Signing out
// revokes the session, so a refresh token stops working even though its
// signature and expiry are still fine. Access tokens are short enough that
// they are not checked against the session table.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	issuer = "melotech"

	// AccessTTL is the lifetime of an access token.
	AccessTTL = 15 * time.Minute
	// RefreshTTL is the lifetime of a refresh token.
	RefreshTTL = 30 * 24 * time.Hour

	typeAccess  = "access"
	typeRefresh = "refresh"
)

// ErrTokenExpired lets callers tell an expired token from a forged one.
var ErrTokenExpired = errors.New("auth: token expired")

// TokenService handles JWT creation and validation.
type TokenService struct {
	secret []byte
}

// NewTokenService creates a TokenService with the given secret.
// Example: JWT_SECRET=$(openssl rand -hex 32)
func NewTokenService(secret string) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	return &TokenService{secret: []byte(secret)}, nil
}

// Claims is the JWT payload. Subject holds the identity ID.
type Claims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid"`
	Type      string `json:"typ"`
}

// IdentityID returns the subject claim.
func (c *Claims) IdentityID() string { return c.Subject }

// IssueAccess signs a 15 minute access token for the identity and session.
func (s *TokenService) IssueAccess(identityID, sessionID string) (string, error) {
	return s.issue(identityID, sessionID, typeAccess, AccessTTL)
}

// IssueRefresh signs a 30 day refresh token for the identity and session.
func (s *TokenService) IssueRefresh(identityID, sessionID string) (string, error) {
	return s.issue(identityID, sessionID, typeRefresh, RefreshTTL)
}

func (s *TokenService) issue(identityID, sessionID, typ string, ttl time.Duration) (string, error) {
	now := time.Now()

	c := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identityID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    issuer,
		},
		SessionID: sessionID,
		Type:      typ,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, nil
}

// ValidateAccess parses an access token. Refresh tokens are rejected here so
// a leaked long-lived token cannot be replayed against the API directly.
func (s *TokenService) ValidateAccess(tokenStr string) (*Claims, error) {
	return s.validate(tokenStr, typeAccess)
}

// ValidateRefresh parses a refresh token.
func (s *TokenService) ValidateRefresh(tokenStr string) (*Claims, error) {
	return s.validate(tokenStr, typeRefresh)
}

// validate checks signature, algorithm, issuer, expiry and token type.
//
// ALGORITHM CONFUSION ATTACK:
// Without checking the algorithm, an attacker could send a token signed with
// "none" and the library might accept it. jwt.WithValidMethods prevents this.
func (s *TokenService) validate(tokenStr, typ string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("auth: invalid token: %w", err)
	}

	c, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("auth: invalid token claims")
	}
	if c.Subject == "" || c.SessionID == "" {
		return nil, fmt.Errorf("auth: token is missing subject or session")
	}
	if c.Type != typ {
		return nil, fmt.Errorf("auth: expected %s token, got %q", typ, c.Type)
	}
	return c, nil
}
