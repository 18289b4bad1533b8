// Package sqlite implements the repository interfaces using SQLite as the storage backend.
//
// WHY modernc.org/sqlite INSTEAD OF github.com/mattn/go-sqlite3?
// mattn/go-sqlite3 uses CGo, which means you need a C compiler installed and
// cross-compilation becomes painful. modernc.org/sqlite is a pure Go translation
// of the SQLite C code and builds without a C compiler.
//
// SCHEMA OVERVIEW:
//
//	users      (id PK, username UNIQUE, email UNIQUE, password_hash, about_me, last_seen, github_id UNIQUE, created_at)
//	followers  (follower_id → users, followed_id → users, PK(follower_id, followed_id), CHECK no self-follow)
//	posts      (id PK, author_id → users, body, timestamp)
//
// Every foreign key is ON DELETE CASCADE: removing a user removes the edges
// where they appear on either side, and their posts.
package sqlite

import (
	"database/sql"
	"fmt"
	"net/url"

	// The driver's init() registers itself with database/sql as "sqlite".
	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection pool and implements every repository interface.
type DB struct {
	conn *sql.DB
}

// New opens (or creates) the database at dbPath and runs migrations.
//
// dbPath examples:
//   - "data/microblog.db" → file-based database (persistent)
//   - ":memory:"          → in-memory database (tests; lost on close)
//
// PER-CONNECTION PRAGMAS:
// foreign_keys is a per-connection setting in SQLite. Running
// `PRAGMA foreign_keys=ON` once only affects whichever pooled connection
// happened to run it, so we put the pragmas in the DSN instead; the driver
// applies them to every connection it opens.
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// Every connection to ":memory:" is a brand new, empty database.
	// Pin the pool to one connection so all queries see the same tables.
	if dbPath == ":memory:" {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL lets readers proceed while a write is in flight. It is a property
	// of the database file, so setting it once is enough.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// dsn appends driver parameters to the database path.
//
//   - foreign_keys(1): enforce REFERENCES and ON DELETE CASCADE
//   - busy_timeout(5000): wait up to 5s on a locked database before SQLITE_BUSY
//   - _time_format=sqlite: write time.Time as "2006-01-02 15:04:05.999999999-07:00",
//     which sorts correctly as text when every value is UTC
func dsn(dbPath string) string {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Set("_time_format", "sqlite")
	return dbPath + "?" + q.Encode()
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks that the database is reachable. Used by the health endpoint.
func (db *DB) Ping() error {
	return db.conn.Ping()
}

// migrate runs all database migrations.
//
// CREATE ... IF NOT EXISTS makes every step safe to re-run on an existing file.
func (db *DB) migrate() error {
	// Phase 1: users
	// COLLATE NOCASE makes "Alice" and "alice" the same username, and the same
	// for emails, both for the UNIQUE constraint and for lookups.
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			username      TEXT NOT NULL UNIQUE COLLATE NOCASE,
			email         TEXT NOT NULL UNIQUE COLLATE NOCASE,
			password_hash TEXT NOT NULL DEFAULT '',
			about_me      TEXT NOT NULL DEFAULT '',
			last_seen     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("creating users table: %w", err)
	}

	// Phase 2: follow edges
	// The composite primary key is what makes Follow idempotent and race-free:
	// two concurrent INSERT OR IGNOREs for the same pair write one row.
	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS followers (
			follower_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			followed_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (follower_id, followed_id),
			CHECK (follower_id <> followed_id)
		);
		CREATE INDEX IF NOT EXISTS idx_followers_followed_id ON followers(followed_id);
	`)
	if err != nil {
		return fmt.Errorf("creating followers table: %w", err)
	}

	// Phase 3: posts
	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS posts (
			id        TEXT PRIMARY KEY,
			author_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			body      TEXT NOT NULL,
			timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_posts_author_id ON posts(author_id);
		CREATE INDEX IF NOT EXISTS idx_posts_timestamp ON posts(timestamp);
	`)
	if err != nil {
		return fmt.Errorf("creating posts table: %w", err)
	}

	// Phase 4: GitHub account linking.
	// SQLite can't ADD COLUMN with a UNIQUE constraint, so uniqueness comes
	// from a separate index. NULLs don't collide in a UNIQUE index.
	if err := db.addColumnIfNotExists("users", "github_id", "INTEGER"); err != nil {
		return fmt.Errorf("adding github_id to users: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_users_github_id ON users(github_id);
	`)
	if err != nil {
		return fmt.Errorf("creating users github_id index: %w", err)
	}

	return nil
}

// addColumnIfNotExists adds a column to a table only if it doesn't already exist.
// Makes ALTER TABLE migrations idempotent, so it can run multiple times.
func (db *DB) addColumnIfNotExists(table, column, definition string) error {
	var count int
	err := db.conn.QueryRow(
		`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`,
		table, column,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("checking column %s.%s: %w", table, column, err)
	}
	if count > 0 {
		return nil // column already exists
	}
	_, err = db.conn.Exec(fmt.Sprintf(
		`ALTER TABLE %s ADD COLUMN %s %s`, table, column, definition,
	))
	return err
}

// Users returns the identity store backed by this database.
func (db *DB) Users() *UserDB {
	return &UserDB{conn: db.conn}
}

// Follows returns the follow-graph store backed by this database.
func (db *DB) Follows() *FollowDB {
	return &FollowDB{conn: db.conn}
}

// Posts returns the post store backed by this database.
func (db *DB) Posts() *PostDB {
	return &PostDB{conn: db.conn}
}
