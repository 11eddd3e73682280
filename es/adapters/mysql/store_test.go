package mysql

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
)

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"duplicate entry", &mysql.MySQLError{Number: 1062}, true},
		{"wrapped", fmt.Errorf("insert: %w", &mysql.MySQLError{Number: 1062}), true},
		{"other code", &mysql.MySQLError{Number: 1146}, false},
		{"message", errors.New("Error 1062: Duplicate entry 'x' for key 'uq'"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsUniqueViolation(tt.err))
		})
	}
}

func TestIsUnavailable(t *testing.T) {
	assert.True(t, IsUnavailable(mysql.ErrInvalidConn))
	assert.True(t, IsUnavailable(&mysql.MySQLError{Number: 1040}))
	assert.False(t, IsUnavailable(&mysql.MySQLError{Number: 1062}))
	assert.False(t, IsUnavailable(nil))
}

func TestDialect(t *testing.T) {
	d := Dialect{}
	assert.Equal(t, "?", d.Placeholder(2))
	assert.False(t, d.InsertReturnsID())
	assert.Contains(t, d.UpsertHeadSQL("stream_heads"), "ON DUPLICATE KEY UPDATE head_revision = GREATEST")
}
