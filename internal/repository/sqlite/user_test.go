package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/melotech/melotech/internal/apperror"
	"github.com/melotech/melotech/internal/model"
)

func TestCreateUser(t *testing.T) {
	db := newTestDB(t)

	u := createTestUser(t, db, "luna", false)

	if u.ID == "" {
		t.Error("CreateUser() did not set user.ID")
	}
	if u.ID == u.AuthID {
		t.Error("internal user ID must differ from the identity ID")
	}
	if u.CreatedAt.IsZero() {
		t.Error("CreateUser() did not set CreatedAt")
	}
}

func TestListUsersByAuthID(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	u := createTestUser(t, db, "luna", true)

	got, err := db.ListUsersByAuthID(ctx, u.AuthID)
	if err != nil {
		t.Fatalf("ListUsersByAuthID() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("ListUsersByAuthID() returned %d rows, want 1", len(got))
	}
	if got[0].ID != u.ID || !got[0].Admin {
		t.Errorf("got %+v", got[0])
	}

	// A second row for the same identity is allowed by the schema and must be visible.
	dup := &model.User{AuthID: u.AuthID, Name: "luna again"}
	if err := db.CreateUser(ctx, dup); err != nil {
		t.Fatalf("CreateUser(dup) error = %v", err)
	}
	got, _ = db.ListUsersByAuthID(ctx, u.AuthID)
	if len(got) != 2 {
		t.Errorf("ListUsersByAuthID() returned %d rows, want 2", len(got))
	}

	none, err := db.ListUsersByAuthID(ctx, "unknown")
	if err != nil {
		t.Fatalf("ListUsersByAuthID(unknown) error = %v", err)
	}
	if len(none) != 0 {
		t.Errorf("ListUsersByAuthID(unknown) returned %d rows", len(none))
	}
}

func TestUpdateUser(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	u := createTestUser(t, db, "luna", false)
	createdAt := u.CreatedAt

	u.Instagram = "@luna"
	u.Biography = "ambient producer"
	u.Admin = true // must be ignored
	if err := db.UpdateUser(ctx, u); err != nil {
		t.Fatalf("UpdateUser() error = %v", err)
	}

	got, err := db.GetUserByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetUserByID() error = %v", err)
	}
	if got.Instagram != "@luna" || got.Biography != "ambient producer" {
		t.Errorf("profile not updated: %+v", got)
	}
	if got.Admin {
		t.Error("UpdateUser() must not change the admin flag")
	}
	if !got.CreatedAt.Equal(createdAt) {
		t.Errorf("CreatedAt changed: %v -> %v", createdAt, got.CreatedAt)
	}
}

func TestUpdateUser_NotFound(t *testing.T) {
	db := newTestDB(t)

	err := db.UpdateUser(context.Background(), &model.User{ID: "missing"})
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Fatalf("UpdateUser() error = %v, want ErrNotFound", err)
	}
}

func TestCountAdmins(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	n, err := db.CountAdmins(ctx)
	if err != nil || n != 0 {
		t.Fatalf("CountAdmins() = %d, %v; want 0, nil", n, err)
	}

	createTestUser(t, db, "artist", false)
	createTestUser(t, db, "boss", true)

	n, _ = db.CountAdmins(ctx)
	if n != 1 {
		t.Errorf("CountAdmins() = %d, want 1", n)
	}
}
