// Package sqlite implements the repository interfaces using SQLite as the storage backend.
//
// WHY modernc.org/sqlite?
// It is a pure Go translation of SQLite, so the binary builds without a C
// compiler. It also ships FTS5, which backs profile search (see search.go).
//
// SCHEMA MIGRATIONS:
// The schema lives in migrations/*.sql and is embedded into the binary.
// goose records applied versions in goose_db_version, so New can run the
// migrations on every start: already applied files are skipped.
//
// TRANSACTIONS:
// A profile save touches the profile row, its group memberships and its
// search document. All three happen inside one transaction (see withTx), so
// a failed save leaves no partial state behind.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/pressly/goose/v3"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sakif/phonebook/internal/apperror"
	"github.com/sakif/phonebook/internal/repository/sqlite/migrations"
)

// DB wraps a sql.DB connection pool and provides repository methods.
type DB struct {
	conn *sql.DB
}

// New opens the database at dbPath and applies pending migrations.
//
// dbPath examples:
//   - "data/phonebook.db"  → file-based database (persistent)
//   - ":memory:"           → in-memory database, pinned to one connection
//
// PRAGMAS:
// Pragmas are per connection, and sql.DB may open several connections.
// Passing them in the DSN (_pragma=...) makes modernc apply them to every
// connection it opens, not only the first one.
func New(ctx context.Context, dbPath string) (*DB, error) {
	dsn := dbPath
	memory := dbPath == ":memory:"
	if !memory {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	if memory {
		// Every new connection to ":memory:" is a separate, empty database.
		conn.SetMaxOpenConns(1)
		if _, err := conn.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
			conn.Close()
			return nil, fmt.Errorf("sqlite: enabling foreign keys: %w", err)
		}
	}

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	if err := migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping reports whether the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func migrate(ctx context.Context, conn *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}
	goose.SetLogger(goose.NopLogger())
	return goose.UpContext(ctx, conn, ".")
}

// withTx runs fn inside a transaction and commits if fn returns nil.
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing transaction: %w", err)
	}
	return nil
}

// uniqueViolation translates a UNIQUE constraint failure into a validation
// error naming the offending column. ok is false for any other error.
//
// SQLite reports the column in the message: "UNIQUE constraint failed:
// profiles.email".
func uniqueViolation(err error) (*apperror.AppError, bool) {
	var se *msqlite.Error
	isUnique := errors.As(err, &se) &&
		(se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY)
	if !isUnique && !strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return nil, false
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "profiles.username"):
		return apperror.ValidationFailed("username", "this username is already taken"), true
	case strings.Contains(msg, "profiles.email"):
		return apperror.ValidationFailed("email", "a profile with this email already exists"), true
	case strings.Contains(msg, "member_groups.name"), strings.Contains(msg, "member_groups.url"):
		return apperror.ValidationFailed("name", "a group with this name already exists"), true
	case strings.Contains(msg, "api_apps.name"):
		return apperror.ValidationFailed("name", "an app with this name already exists"), true
	}
	return apperror.ValidationFailed("", "duplicate value"), true
}

// nullString maps a nil pointer to NULL for nullable TEXT columns.
func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
