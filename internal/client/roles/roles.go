// Package roles maps a signed-in identity onto the application's own user
// row: its internal user ID and whether it may use the admin pages.
package roles

import (
	"context"
	"fmt"
	"net/url"

	"github.com/melotech/melotech/internal/apperror"
	"github.com/melotech/melotech/internal/client/remote"
	"github.com/melotech/melotech/internal/model"
)

// Role is the resolved authorization of an identity.
type Role struct {
	InternalUserID string
	IsAdmin        bool
}

type Resolver interface {
	Resolve(ctx context.Context, identityID string) (Role, error)
}

var _ Resolver = (*TableResolver)(nil)

// TableResolver reads the users table. It does not retry.
type TableResolver struct {
	rest *remote.Client
}

func NewResolver(rest *remote.Client) *TableResolver {
	return &TableResolver{rest: rest}
}

// Resolve requires exactly one users row with authid = identityID. None, or
// more than one, is reported as apperror.ErrLookup.
func (r *TableResolver) Resolve(ctx context.Context, identityID string) (Role, error) {
	if identityID == "" {
		return Role{}, apperror.Unauthenticated("no identity to resolve")
	}

	var rows []model.User
	if err := r.rest.Get(ctx, "/rest/v1/users", url.Values{"authid": {identityID}}, &rows); err != nil {
		return Role{}, fmt.Errorf("roles: loading user row: %w", err)
	}

	switch len(rows) {
	case 1:
		return Role{InternalUserID: rows[0].ID, IsAdmin: rows[0].Admin}, nil
	case 0:
		return Role{}, apperror.LookupFailed(identityID)
	default:
		return Role{}, &apperror.AppError{
			Err:     apperror.ErrLookup,
			Message: fmt.Sprintf("identity %s has %d user records", identityID, len(rows)),
		}
	}
}
