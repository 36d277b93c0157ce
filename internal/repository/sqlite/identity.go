package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/xid"

	"github.com/melotech/melotech/internal/apperror"
	"github.com/melotech/melotech/internal/model"
	"github.com/melotech/melotech/internal/repository"
)

var (
	_ repository.IdentityRepository = (*DB)(nil)
	_ repository.SessionRepository  = (*DB)(nil)
)

// CreateIdentity inserts a new identity with a random UUID.
// Emails are compared case-insensitively; a duplicate is a Conflict.
func (db *DB) CreateIdentity(ctx context.Context, identity *model.Identity) error {
	identity.ID = uuid.NewString()
	identity.Email = strings.TrimSpace(identity.Email)
	identity.CreatedAt = time.Now().UTC()

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO identities (id, email, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		identity.ID, identity.Email, identity.PasswordHash, identity.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("identity", identity.Email)
		}
		return fmt.Errorf("sqlite: inserting identity %s: %w", identity.Email, err)
	}
	return nil
}

// GetIdentityByEmail returns apperror.ErrNotFound when no identity uses the email.
func (db *DB) GetIdentityByEmail(ctx context.Context, email string) (*model.Identity, error) {
	return db.getIdentity(ctx, `email = ?`, strings.TrimSpace(email))
}

// GetIdentityByID returns apperror.ErrNotFound when the ID is unknown.
func (db *DB) GetIdentityByID(ctx context.Context, id string) (*model.Identity, error) {
	return db.getIdentity(ctx, `id = ?`, id)
}

func (db *DB) getIdentity(ctx context.Context, where, arg string) (*model.Identity, error) {
	var i model.Identity
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, email, password_hash, created_at FROM identities WHERE `+where, arg,
	).Scan(&i.ID, &i.Email, &i.PasswordHash, &i.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("identity", arg)
		}
		return nil, fmt.Errorf("sqlite: getting identity %s: %w", arg, err)
	}
	return &i, nil
}

// CreateSession opens a new refreshable session for the identity.
func (db *DB) CreateSession(ctx context.Context, identityID string) (*repository.Session, error) {
	s := &repository.Session{
		ID:         xid.New().String(),
		IdentityID: identityID,
		CreatedAt:  time.Now().UTC(),
	}
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO sessions (id, identity_id, created_at) VALUES (?, ?, ?)`,
		s.ID, s.IdentityID, s.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: creating session for %s: %w", identityID, err)
	}
	return s, nil
}

// SessionActive is false for unknown, foreign or revoked sessions.
func (db *DB) SessionActive(ctx context.Context, sessionID, identityID string) (bool, error) {
	var n int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE id = ? AND identity_id = ? AND revoked_at IS NULL`,
		sessionID, identityID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("sqlite: checking session %s: %w", sessionID, err)
	}
	return n == 1, nil
}

// RevokeSession marks the session signed out. Revoking twice is not an error.
func (db *DB) RevokeSession(ctx context.Context, sessionID string) error {
	_, err := db.conn.ExecContext(ctx,
		`UPDATE sessions SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`,
		time.Now().UTC(), sessionID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: revoking session %s: %w", sessionID, err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
