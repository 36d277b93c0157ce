package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/melotech/melotech/internal/apperror"
	"github.com/melotech/melotech/internal/model"
	"github.com/melotech/melotech/internal/repository"
)

var _ repository.UserRepository = (*DB)(nil)

const userColumns = `id, authid, name, email, phone, instagram, soundcloud, spotify, biography,
	admin, created_at, updated_at`

// CreateUser inserts a profile row. The internal ID is an xid, distinct from the
// identity UUID stored in authid.
func (db *DB) CreateUser(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	user.ID = xid.New().String()
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID, user.AuthID, user.Name, user.Email, user.Phone, user.Instagram,
		user.SoundCloud, user.Spotify, user.Biography, user.Admin, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting user (authid=%s): %w", user.AuthID, err)
	}
	return nil
}

// ListUsersByAuthID returns all rows for the identity, oldest first.
func (db *DB) ListUsersByAuthID(ctx context.Context, authID string) ([]model.User, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE authid = ? ORDER BY created_at ASC`, authID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing users for authid %s: %w", authID, err)
	}
	defer rows.Close()

	users := []model.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning user: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating users: %w", err)
	}
	return users, nil
}

// GetUserByID returns apperror.ErrNotFound if no user exists with that ID.
func (db *DB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("sqlite: getting user %s: %w", id, err)
	}
	return u, nil
}

// UpdateUser writes the editable profile fields and bumps updated_at.
// authid, admin and created_at are never changed here.
func (db *DB) UpdateUser(ctx context.Context, user *model.User) error {
	user.UpdatedAt = time.Now().UTC()

	res, err := db.conn.ExecContext(ctx,
		`UPDATE users SET name = ?, email = ?, phone = ?, instagram = ?, soundcloud = ?,
			spotify = ?, biography = ?, updated_at = ?
		 WHERE id = ?`,
		user.Name, user.Email, user.Phone, user.Instagram, user.SoundCloud,
		user.Spotify, user.Biography, user.UpdatedAt, user.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating user %s: %w", user.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("user", user.ID)
	}
	return nil
}

// CountAdmins is used at startup to decide whether to bootstrap an admin.
func (db *DB) CountAdmins(ctx context.Context) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE admin`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: counting admins: %w", err)
	}
	return n, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanUser(s scanner) (*model.User, error) {
	var u model.User
	err := s.Scan(&u.ID, &u.AuthID, &u.Name, &u.Email, &u.Phone, &u.Instagram,
		&u.SoundCloud, &u.Spotify, &u.Biography, &u.Admin, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}
