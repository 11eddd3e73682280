// Package mysql provides the MySQL/MariaDB dialect of the SQL commit store.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/getpup/pupstore/es/adapters/sqlstore"
	"github.com/getpup/pupstore/es/migrations"
)

// Dialect implements sqlstore.Dialect for MySQL and MariaDB.
type Dialect struct{}

var _ sqlstore.Dialect = Dialect{}

// Name implements sqlstore.Dialect.
func (Dialect) Name() migrations.Dialect { return migrations.MySQL }

// Placeholder implements sqlstore.Dialect.
func (Dialect) Placeholder(n int) string { return sqlstore.QuestionMark(n) }

// InsertReturnsID implements sqlstore.Dialect.
func (Dialect) InsertReturnsID() bool { return false }

// UpsertHeadSQL implements sqlstore.Dialect.
func (Dialect) UpsertHeadSQL(table string) string {
	return fmt.Sprintf(`
		INSERT INTO %s (bucket_id, stream_id, head_revision, snapshot_revision)
		VALUES (?, ?, ?, 0)
		ON DUPLICATE KEY UPDATE head_revision = GREATEST(head_revision, VALUES(head_revision))
	`, table)
}

// UpsertCheckpointSQL implements sqlstore.Dialect.
func (Dialect) UpsertCheckpointSQL(table string) string {
	return fmt.Sprintf(`
		INSERT INTO %s (consumer_name, checkpoint_number)
		VALUES (?, ?)
		ON DUPLICATE KEY UPDATE checkpoint_number = VALUES(checkpoint_number)
	`, table)
}

// IsUniqueViolation implements sqlstore.Dialect.
func (Dialect) IsUniqueViolation(err error) bool { return IsUniqueViolation(err) }

// IsUnavailable implements sqlstore.Dialect.
func (Dialect) IsUnavailable(err error) bool { return IsUnavailable(err) }

// IsUniqueViolation checks if an error is a MySQL unique constraint violation.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	// Check if it's a MySQL error with duplicate entry code (1062)
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062 // ER_DUP_ENTRY
	}

	// Fallback: check error message for common patterns
	errMsg := err.Error()
	return strings.Contains(errMsg, "Duplicate entry") ||
		strings.Contains(errMsg, "duplicate key") ||
		strings.Contains(errMsg, "unique constraint")
}

// IsUnavailable reports a broken connection or a server that refuses work.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case 1040, 1053, 1205: // too many connections, server shutdown, lock wait timeout
			return true
		}
	}
	return false
}

// NewStore creates a commit store on an open MySQL database.
func NewStore(db *sql.DB, opts ...sqlstore.StoreOption) *sqlstore.Store {
	return sqlstore.New(db, Dialect{}, sqlstore.NewStoreConfig(opts...))
}

// Open connects to dsn and checks the connection.
// The DSN is parsed so that multiStatements stays off and parseTime is on.
func Open(ctx context.Context, dsn string, opts ...sqlstore.StoreOption) (*sqlstore.Store, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.MultiStatements = false

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql: %w", err)
	}
	db := sql.OpenDB(connector)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to mysql: %w", err)
	}
	return NewStore(db, opts...), nil
}
