package sqlite

import (
	"context"
	"testing"

	"github.com/melotech/melotech/internal/model"
)

// newTestDB returns a fresh in-memory database closed at the end of the test.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// createTestIdentity inserts an identity and fails the test on error.
func createTestIdentity(t *testing.T, db *DB, email string) *model.Identity {
	t.Helper()
	i := &model.Identity{Email: email, PasswordHash: "$2a$04$test"}
	if err := db.CreateIdentity(context.Background(), i); err != nil {
		t.Fatalf("failed to create test identity: %v", err)
	}
	return i
}

// createTestUser inserts an identity plus its profile row.
func createTestUser(t *testing.T, db *DB, name string, admin bool) *model.User {
	t.Helper()
	identity := createTestIdentity(t, db, name+"@example.com")
	u := &model.User{AuthID: identity.ID, Name: name, Email: identity.Email, Admin: admin}
	if err := db.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("failed to create test user: %v", err)
	}
	return u
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := newTestDB(t)

	if err := db.migrate(); err != nil {
		t.Fatalf("second migrate() error = %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
}
