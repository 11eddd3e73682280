// Package postgres provides the PostgreSQL dialect of the SQL commit store.
//
// Both the pgx stdlib driver and lib/pq are registered; pgx is used unless
// another driver name is given to Open.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/lib/pq"

	"github.com/getpup/pupstore/es/adapters/sqlstore"
	"github.com/getpup/pupstore/es/migrations"
)

const (
	// DriverPgx is the database/sql driver name of pgx.
	DriverPgx = "pgx"

	// DriverPQ is the database/sql driver name of lib/pq.
	DriverPQ = "postgres"
)

// Dialect implements sqlstore.Dialect for PostgreSQL.
type Dialect struct{}

var _ sqlstore.Dialect = Dialect{}

// Name implements sqlstore.Dialect.
func (Dialect) Name() migrations.Dialect { return migrations.Postgres }

// Placeholder implements sqlstore.Dialect.
func (Dialect) Placeholder(n int) string { return sqlstore.Dollar(n) }

// InsertReturnsID implements sqlstore.Dialect.
func (Dialect) InsertReturnsID() bool { return true }

// UpsertHeadSQL implements sqlstore.Dialect.
func (Dialect) UpsertHeadSQL(table string) string {
	return sqlstore.OnConflictUpsertHeadSQL(table, sqlstore.Dollar)
}

// UpsertCheckpointSQL implements sqlstore.Dialect.
func (Dialect) UpsertCheckpointSQL(table string) string {
	return sqlstore.OnConflictUpsertCheckpointSQL(table, sqlstore.Dollar)
}

// IsUniqueViolation implements sqlstore.Dialect.
func (Dialect) IsUniqueViolation(err error) bool { return IsUniqueViolation(err) }

// IsUnavailable implements sqlstore.Dialect.
func (Dialect) IsUnavailable(err error) bool { return IsUnavailable(err) }

// IsUniqueViolation checks if an error is a PostgreSQL unique constraint violation
// raised by either driver.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505" // unique_violation
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}

	// Fallback: check error message for common patterns
	errMsg := err.Error()
	return strings.Contains(errMsg, "duplicate key") || strings.Contains(errMsg, "unique constraint")
}

// IsUnavailable reports connection failures: SQLSTATE class 08, server
// shutdown codes and pgx connect errors.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code.Class() == "08" || pqErr.Code == "57P01" || pqErr.Code == "57P03"
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, "08") || pgErr.Code == "57P01" || pgErr.Code == "57P03"
	}
	var connectErr *pgconn.ConnectError
	return errors.As(err, &connectErr)
}

// NewStore creates a commit store on an open PostgreSQL database.
func NewStore(db *sql.DB, opts ...sqlstore.StoreOption) *sqlstore.Store {
	return sqlstore.New(db, Dialect{}, sqlstore.NewStoreConfig(opts...))
}

// Open connects to dsn with the pgx driver and checks the connection.
func Open(ctx context.Context, dsn string, opts ...sqlstore.StoreOption) (*sqlstore.Store, error) {
	return OpenWithDriver(ctx, DriverPgx, dsn, opts...)
}

// OpenWithDriver is Open with an explicit driver name, DriverPgx or DriverPQ.
func OpenWithDriver(ctx context.Context, driver, dsn string, opts ...sqlstore.StoreOption) (*sqlstore.Store, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return NewStore(db, opts...), nil
}
