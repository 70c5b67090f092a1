// Package sqlitegw implements gateway.Gateway on an embedded SQLite
// database.
//
// It exists so the whole stack runs without a Supabase project: local
// development (`courseloop -backend local`) and the race-sensitive tests
// get a backend with REAL uniqueness constraints and REAL single-statement
// counter updates, not an in-memory approximation. It is a stand-in for the
// external backend, not a product storage engine.
//
// The OTP flow is self-contained: codes are generated here, logged to the
// console instead of emailed, and stored bcrypt-hashed with a short TTL.
package sqlitegw

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	// Registers the pure-Go "sqlite" driver with database/sql.
	_ "modernc.org/sqlite"

	"github.com/akashpatel/courseloop/internal/gateway"
)

// allowedTables whitelists every identifier that may be interpolated into
// SQL. Table and column names arrive as strings through the generic row
// API, so they must never reach a query unchecked.
var allowedTables = map[string]map[string]bool{
	gateway.TableProfiles: {
		"id": true, "username": true, "full_name": true,
		"avatar_url": true, "university": true, "created_at": true,
	},
	gateway.TablePosts: {
		"id": true, "user_id": true, "username": true, "content": true,
		"course_code": true, "likes": true, "comment_count": true, "created_at": true,
	},
	gateway.TableComments: {
		"id": true, "post_id": true, "user_id": true, "username": true,
		"content": true, "likes": true, "created_at": true,
	},
	gateway.TableCourses: {
		"id": true, "course_code": true, "professor_name": true, "created_at": true,
	},
	gateway.TableUserCourses: {
		"user_id": true, "course_id": true, "created_at": true,
	},
}

// DB wraps a sql.DB connection pool and implements the gateway boundary.
type DB struct {
	conn   *sql.DB
	logger *slog.Logger
	otpTTL time.Duration
}

var _ gateway.Gateway = (*DB)(nil)

// New opens (or creates) the database at dbPath and runs migrations.
// Use a file under the user's data directory for the CLI, or a temp file
// in tests.
func New(dbPath string, logger *slog.Logger) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlitegw: opening database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlitegw: pinging database: %w", err)
	}

	// One writer connection: SQLite serializes writes anyway, and a single
	// connection turns SQLITE_BUSY races into simple queueing. Increment
	// statements stay atomic either way — they are one UPDATE.
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlitegw: setting WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlitegw: enabling foreign keys: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlitegw: setting busy timeout: %w", err)
	}

	db := &DB{
		conn:   conn,
		logger: logger,
		otpTTL: 10 * time.Minute,
	}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlitegw: running migrations: %w", err)
	}
	return db, nil
}

// Close closes the connection pool. Defer it wherever New is called.
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate creates the schema. CREATE TABLE IF NOT EXISTS keeps it safe to
// run on every start.
//
// The uniqueness constraints here are the ones the services lean on:
// profiles.username, courses(course_code, professor_name), and the
// user_courses primary key. Losing any of them silently breaks the
// find-or-create and conflict semantics upstream.
func (db *DB) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS auth_users (
			id         TEXT PRIMARY KEY,
			email      TEXT NOT NULL UNIQUE,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS auth_otp_codes (
			email      TEXT PRIMARY KEY,
			code_hash  TEXT NOT NULL,
			expires_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS auth_sessions (
			token      TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL REFERENCES auth_users(id),
			issued_at  TEXT NOT NULL,
			expires_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS profiles (
			id         TEXT PRIMARY KEY,
			username   TEXT NOT NULL UNIQUE,
			full_name  TEXT NOT NULL DEFAULT '',
			avatar_url TEXT NOT NULL DEFAULT '',
			university TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS courses (
			id             TEXT PRIMARY KEY,
			course_code    TEXT NOT NULL,
			professor_name TEXT NOT NULL,
			created_at     TEXT NOT NULL,
			UNIQUE (course_code, professor_name)
		)`,
		`CREATE TABLE IF NOT EXISTS user_courses (
			user_id    TEXT NOT NULL,
			course_id  TEXT NOT NULL REFERENCES courses(id),
			created_at TEXT NOT NULL,
			PRIMARY KEY (user_id, course_id)
		)`,
		`CREATE TABLE IF NOT EXISTS posts (
			id            TEXT PRIMARY KEY,
			user_id       TEXT NOT NULL,
			username      TEXT NOT NULL,
			content       TEXT NOT NULL,
			course_code   TEXT NOT NULL,
			likes         INTEGER NOT NULL DEFAULT 0,
			comment_count INTEGER NOT NULL DEFAULT 0,
			created_at    TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_posts_course_code ON posts(course_code)`,
		`CREATE TABLE IF NOT EXISTS comments (
			id         TEXT PRIMARY KEY,
			post_id    TEXT NOT NULL,
			user_id    TEXT NOT NULL,
			username   TEXT NOT NULL,
			content    TEXT NOT NULL,
			likes      INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_comments_post_id ON comments(post_id)`,
	}

	for _, stmt := range stmts {
		if _, err := db.conn.Exec(stmt); err != nil {
			return fmt.Errorf("migrating: %w", err)
		}
	}
	return nil
}

// columnsFor validates table and returns its column whitelist.
func columnsFor(table string) (map[string]bool, error) {
	cols, ok := allowedTables[table]
	if !ok {
		return nil, fmt.Errorf("sqlitegw: unknown table %q", table)
	}
	return cols, nil
}

// isUniqueViolation sniffs SQLite's duplicate-key error. modernc.org/sqlite
// surfaces it as a plain error with the standard SQLite message text.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed: UNIQUE")
}

// timestamp formats t the way every row in this schema stores time:
// fixed-width RFC3339 UTC text. Fixed width matters — created_at columns
// are TEXT and ORDER BY compares them lexicographically, which only agrees
// with chronological order when every value has the same number of digits.
func timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}
