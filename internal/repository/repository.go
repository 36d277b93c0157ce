// Package repository declares the persistence interfaces the services depend on.
// internal/repository/sqlite provides the only implementation; service tests use fakes.
package repository

import (
	"context"
	"time"

	"github.com/melotech/melotech/internal/model"
)

// IdentityRepository stores sign-in principals.
type IdentityRepository interface {
	// CreateIdentity assigns ID and CreatedAt. A duplicate email is apperror.ErrConflict.
	CreateIdentity(ctx context.Context, identity *model.Identity) error
	GetIdentityByEmail(ctx context.Context, email string) (*model.Identity, error)
	GetIdentityByID(ctx context.Context, id string) (*model.Identity, error)
}

// Session is a refreshable sign-in. Signing out sets RevokedAt.
type Session struct {
	ID         string
	IdentityID string
	CreatedAt  time.Time
	RevokedAt  *time.Time
}

// SessionRepository tracks which refresh tokens are still honoured.
type SessionRepository interface {
	CreateSession(ctx context.Context, identityID string) (*Session, error)
	// SessionActive reports whether the session exists, belongs to the identity and is not revoked.
	SessionActive(ctx context.Context, sessionID, identityID string) (bool, error)
	RevokeSession(ctx context.Context, sessionID string) error
}

// UserRepository stores application profile rows.
type UserRepository interface {
	CreateUser(ctx context.Context, user *model.User) error
	// ListUsersByAuthID returns every row linked to the identity. More than one row
	// is a data error the caller decides how to handle.
	ListUsersByAuthID(ctx context.Context, authID string) ([]model.User, error)
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	UpdateUser(ctx context.Context, user *model.User) error
	CountAdmins(ctx context.Context) (int, error)
}

// SubmissionRepository stores submissions.
type SubmissionRepository interface {
	// CreateSubmission assigns ID and timestamps.
	CreateSubmission(ctx context.Context, s *model.Submission) error
	// ListSubmissions returns matches newest first.
	ListSubmissions(ctx context.Context, filter model.SubmissionFilter) ([]model.Submission, error)
	// ListSubmissionsWithOwner is ListSubmissions with Owner populated from users.
	ListSubmissionsWithOwner(ctx context.Context, filter model.SubmissionFilter) ([]model.Submission, error)
	// UpdateSubmission loads the single row matching filter, runs apply on a copy
	// and writes the result back inside one transaction. It returns the row as it
	// was before and after. No match is apperror.ErrNotFound.
	UpdateSubmission(ctx context.Context, filter model.SubmissionFilter,
		apply func(*model.Submission) error) (before, after *model.Submission, err error)
}
