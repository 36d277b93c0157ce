// Package sqlite implements the repository interfaces on an embedded SQLite file.
//
// modernc.org/sqlite is a pure Go translation of SQLite, so the server builds
// without a C toolchain and tests run against ":memory:".
package sqlite

import (
	"database/sql"
	"fmt"

	// Registers the "sqlite" driver with database/sql.
	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB and implements every interface in internal/repository.
type DB struct {
	conn *sql.DB
}

// New opens the database at dbPath and runs migrations.
//
// dbPath examples:
//   - "data/melotech.db"  file-based, persistent
//   - ":memory:"          in-memory, used by tests
//
// ONE CONNECTION:
// Every pooled connection to ":memory:" would get its own empty database, and
// SQLite serialises writers anyway, so the pool is capped at one connection.
// Callers must close *sql.Rows before issuing the next statement.
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL lets readers proceed during a write on file databases.
	// It is a no-op for ":memory:".
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: enabling foreign keys: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}
	return db, nil
}

// Close closes the database.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping is used by the health endpoint.
func (db *DB) Ping() error {
	return db.conn.Ping()
}

// migrate creates the schema. CREATE ... IF NOT EXISTS keeps it idempotent.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS identities (
			id            TEXT PRIMARY KEY,
			email         TEXT NOT NULL UNIQUE COLLATE NOCASE,
			password_hash TEXT NOT NULL,
			created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("creating identities table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id          TEXT PRIMARY KEY,
			identity_id TEXT NOT NULL REFERENCES identities(id),
			created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			revoked_at  DATETIME
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_identity_id ON sessions(identity_id);
	`)
	if err != nil {
		return fmt.Errorf("creating sessions table: %w", err)
	}

	// authid is not UNIQUE: a duplicated profile row is a data error
	// the role lookup must be able to observe and report.
	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id         TEXT PRIMARY KEY,
			authid     TEXT NOT NULL REFERENCES identities(id),
			name       TEXT NOT NULL DEFAULT '',
			email      TEXT NOT NULL DEFAULT '',
			phone      TEXT NOT NULL DEFAULT '',
			instagram  TEXT NOT NULL DEFAULT '',
			soundcloud TEXT NOT NULL DEFAULT '',
			spotify    TEXT NOT NULL DEFAULT '',
			biography  TEXT NOT NULL DEFAULT '',
			admin      BOOLEAN NOT NULL DEFAULT FALSE,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_users_authid ON users(authid);
	`)
	if err != nil {
		return fmt.Errorf("creating users table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS submissions (
			id          TEXT PRIMARY KEY,
			title       TEXT NOT NULL,
			genre       TEXT NOT NULL DEFAULT '',
			bpm         INTEGER NOT NULL,
			key         TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			files       TEXT NOT NULL DEFAULT '[]',
			status      TEXT NOT NULL DEFAULT 'pending',
			rating      INTEGER,
			feedback    TEXT,
			userid      TEXT NOT NULL REFERENCES users(id),
			created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_submissions_userid ON submissions(userid);
		CREATE INDEX IF NOT EXISTS idx_submissions_created_at ON submissions(created_at);
	`)
	if err != nil {
		return fmt.Errorf("creating submissions table: %w", err)
	}

	return nil
}
