package sqlstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/getpup/pupstore/es/migrations"
	"github.com/getpup/pupstore/es/store"
)

// Dialect captures what differs between the SQL databases the engine runs on.
type Dialect interface {
	// Name selects the schema generated by the migrations package.
	Name() migrations.Dialect

	// Placeholder returns the bind parameter for the n-th argument, starting at 1.
	Placeholder(n int) string

	// InsertReturnsID reports whether the commit insert must end with a
	// RETURNING clause instead of relying on LastInsertId.
	InsertReturnsID() bool

	// UpsertHeadSQL inserts a stream head or raises its head revision.
	// Arguments: bucket id, stream id, head revision.
	UpsertHeadSQL(table string) string

	// UpsertCheckpointSQL records a consumer checkpoint.
	// Arguments: consumer name, checkpoint.
	UpsertCheckpointSQL(table string) string

	// IsUniqueViolation reports whether err is a unique key violation.
	IsUniqueViolation(err error) bool

	// IsUnavailable reports whether err means the database cannot be reached.
	IsUnavailable(err error) bool
}

// OnConflictUpsertHeadSQL is the head upsert for databases that support
// INSERT ... ON CONFLICT (PostgreSQL and SQLite).
func OnConflictUpsertHeadSQL(table string, placeholder func(int) string) string {
	return fmt.Sprintf(`
		INSERT INTO %[1]s (bucket_id, stream_id, head_revision, snapshot_revision)
		VALUES (%[2]s, %[3]s, %[4]s, 0)
		ON CONFLICT (bucket_id, stream_id)
		DO UPDATE SET head_revision = CASE
			WHEN excluded.head_revision > %[1]s.head_revision THEN excluded.head_revision
			ELSE %[1]s.head_revision
		END
	`, table, placeholder(1), placeholder(2), placeholder(3))
}

// OnConflictUpsertCheckpointSQL is the checkpoint upsert for databases that
// support INSERT ... ON CONFLICT (PostgreSQL and SQLite).
func OnConflictUpsertCheckpointSQL(table string, placeholder func(int) string) string {
	return fmt.Sprintf(`
		INSERT INTO %s (consumer_name, checkpoint_number, updated_at)
		VALUES (%s, %s, CURRENT_TIMESTAMP)
		ON CONFLICT (consumer_name)
		DO UPDATE SET checkpoint_number = excluded.checkpoint_number, updated_at = CURRENT_TIMESTAMP
	`, table, placeholder(1), placeholder(2))
}

// QuestionMark is the placeholder style of MySQL and SQLite.
func QuestionMark(int) string { return "?" }

// Dollar is the placeholder style of PostgreSQL.
func Dollar(n int) string { return "$" + strconv.Itoa(n) }

// rebind rewrites every ? in query to the dialect's placeholder.
// Queries must not contain ? inside literals.
func rebind(d Dialect, query string) string {
	if d.Placeholder(1) == "?" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(d.Placeholder(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// classify maps a driver error onto the store's error kinds.
// Context errors are returned unchanged.
func classify(d Dialect, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, store.ErrStorage) {
		return err
	}
	if isUnavailable(d, err) {
		return fmt.Errorf("%w: %w", store.ErrStorageUnavailable, err)
	}
	return fmt.Errorf("%w: %w", store.ErrStorage, err)
}

func isUnavailable(d Dialect, err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return d.IsUnavailable(err)
}
