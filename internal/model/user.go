// Package model defines the data structures shared by the platform server and the client core.
// In Go, we use structs to represent our data. Plain values with json tags, no behaviour
// beyond small validation helpers.
package model

import "time"

// Identity is a principal known to the identity service.
//
// The ID is a UUID issued at sign-up and never changes. It is the join key into the
// users table (users.authid) but it is NOT the ownership key for submissions; that is
// User.ID.
type Identity struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// User is the application's profile row, one per Identity.
//
// WHY TWO IDs?
// ID is an internal xid used as the foreign key on submissions.userid. AuthID points
// back at the Identity. A missing row for an authenticated identity is a recoverable
// state: the caller is treated as a non-admin artist with no internal ID.
type User struct {
	ID         string    `json:"id"`
	AuthID     string    `json:"authid"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Phone      string    `json:"phone"`
	Instagram  string    `json:"instagram"`
	SoundCloud string    `json:"soundcloud"`
	Spotify    string    `json:"spotify"`
	Biography  string    `json:"biography"`
	Admin      bool      `json:"admin"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ProfilePatch is a partial update of the caller's own profile.
// nil fields are left untouched. There is no admin field.
type ProfilePatch struct {
	Name       *string `json:"name,omitempty"`
	Email      *string `json:"email,omitempty"`
	Phone      *string `json:"phone,omitempty"`
	Instagram  *string `json:"instagram,omitempty"`
	SoundCloud *string `json:"soundcloud,omitempty"`
	Spotify    *string `json:"spotify,omitempty"`
	Biography  *string `json:"biography,omitempty"`
}

// Apply copies the non-nil fields of p onto u.
func (p ProfilePatch) Apply(u *User) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&u.Name, p.Name)
	set(&u.Email, p.Email)
	set(&u.Phone, p.Phone)
	set(&u.Instagram, p.Instagram)
	set(&u.SoundCloud, p.SoundCloud)
	set(&u.Spotify, p.Spotify)
	set(&u.Biography, p.Biography)
}
