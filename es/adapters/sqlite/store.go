// Package sqlite provides the SQLite dialect of the SQL commit store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/getpup/pupstore/es/adapters/sqlstore"
	"github.com/getpup/pupstore/es/migrations"
)

// Dialect implements sqlstore.Dialect for SQLite.
type Dialect struct{}

var _ sqlstore.Dialect = Dialect{}

// Name implements sqlstore.Dialect.
func (Dialect) Name() migrations.Dialect { return migrations.SQLite }

// Placeholder implements sqlstore.Dialect.
func (Dialect) Placeholder(n int) string { return sqlstore.QuestionMark(n) }

// InsertReturnsID implements sqlstore.Dialect.
func (Dialect) InsertReturnsID() bool { return false }

// UpsertHeadSQL implements sqlstore.Dialect.
func (Dialect) UpsertHeadSQL(table string) string {
	return sqlstore.OnConflictUpsertHeadSQL(table, sqlstore.QuestionMark)
}

// UpsertCheckpointSQL implements sqlstore.Dialect.
func (Dialect) UpsertCheckpointSQL(table string) string {
	return sqlstore.OnConflictUpsertCheckpointSQL(table, sqlstore.QuestionMark)
}

// IsUniqueViolation implements sqlstore.Dialect.
func (Dialect) IsUniqueViolation(err error) bool { return IsUniqueViolation(err) }

// IsUnavailable implements sqlstore.Dialect.
func (Dialect) IsUnavailable(err error) bool { return IsUnavailable(err) }

// IsUniqueViolation checks if an error is a SQLite unique constraint violation.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}

	// SQLite error messages for unique constraint violations
	errMsg := err.Error()
	return strings.Contains(errMsg, "UNIQUE constraint failed") ||
		strings.Contains(errMsg, "unique constraint")
}

// IsUnavailable reports a database that stayed busy or locked past the busy timeout.
func IsUnavailable(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_CANTOPEN:
		return true
	}
	return false
}

// NewStore creates a commit store on an open SQLite database.
func NewStore(db *sql.DB, opts ...sqlstore.StoreOption) *sqlstore.Store {
	return sqlstore.New(db, Dialect{}, sqlstore.NewStoreConfig(opts...))
}

// Open opens the database file at path in WAL mode with a busy timeout.
// SQLite allows a single writer, so the pool is limited to one connection.
func Open(ctx context.Context, path string, opts ...sqlstore.StoreOption) (*sqlstore.Store, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	return NewStore(db, opts...), nil
}
