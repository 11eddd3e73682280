package sqlstore

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/getpup/pupstore/es/migrations"
	"github.com/getpup/pupstore/es/store"
)

// fakeDialect uses PostgreSQL placeholders and treats errUnique and errDown
// as unique violations and outages.
type fakeDialect struct{}

var (
	errUnique = errors.New("unique")
	errDown   = errors.New("down")
)

func (fakeDialect) Name() migrations.Dialect { return migrations.Postgres }
func (fakeDialect) Placeholder(n int) string { return Dollar(n) }
func (fakeDialect) InsertReturnsID() bool    { return true }
func (fakeDialect) UpsertHeadSQL(table string) string {
	return OnConflictUpsertHeadSQL(table, Dollar)
}
func (fakeDialect) UpsertCheckpointSQL(table string) string {
	return OnConflictUpsertCheckpointSQL(table, Dollar)
}
func (fakeDialect) IsUniqueViolation(err error) bool { return errors.Is(err, errUnique) }
func (fakeDialect) IsUnavailable(err error) bool     { return errors.Is(err, errDown) }

func TestRebind(t *testing.T) {
	got := rebind(fakeDialect{}, "SELECT 1 FROM t WHERE a = ? AND b > ? LIMIT 5")
	assert.Equal(t, "SELECT 1 FROM t WHERE a = $1 AND b > $2 LIMIT 5", got)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		unavailable bool
	}{
		{"dialect outage", fmt.Errorf("query: %w", errDown), true},
		{"bad connection", driver.ErrBadConn, true},
		{"other failure", errors.New("syntax error"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify(fakeDialect{}, tt.err)
			assert.ErrorIs(t, err, store.ErrStorage)
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, tt.unavailable, errors.Is(err, store.ErrStorageUnavailable))
		})
	}

	assert.Nil(t, classify(fakeDialect{}, nil))
	assert.Equal(t, context.Canceled, classify(fakeDialect{}, context.Canceled))
}

func TestBuildQueries(t *testing.T) {
	q := buildQueries(fakeDialect{}, migrations.DefaultConfig(), 50)

	assert.Contains(t, q.insertCommit, "RETURNING checkpoint_number")
	assert.Contains(t, q.insertCommit, "$9")
	assert.Contains(t, q.getFromTo, "commit_stamp < $3 AND checkpoint_number > $4")
	assert.Contains(t, q.getFromAll, "LIMIT 50")
	assert.Contains(t, q.upsertHead, "ON CONFLICT (bucket_id, stream_id)")
	assert.NotContains(t, q.get, "?")
}
