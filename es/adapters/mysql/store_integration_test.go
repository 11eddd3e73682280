// Integration tests for the MySQL dialect.
// These tests require a running MySQL/MariaDB instance.
//
// Start MySQL: docker run -d -p 3306:3306 -e MYSQL_ROOT_PASSWORD=password -e MYSQL_DATABASE=pupstore_test mysql:8
// Run with: MYSQL_DSN='root:password@tcp(localhost:3306)/pupstore_test' go test -tags=integration ./es/adapters/mysql/...
//
//go:build integration

package mysql

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/getpup/pupstore/es/adapters/sqlstore"
	"github.com/getpup/pupstore/es/migrations"
	"github.com/getpup/pupstore/es/store"
	"github.com/getpup/pupstore/es/store/storetest"
)

func TestStore_Integration(t *testing.T) {
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		t.Skip("MYSQL_DSN not set")
	}

	var n atomic.Int64
	factory := func(t *testing.T) store.Persistence {
		ctx := context.Background()
		tables := migrations.DefaultConfig()
		id := n.Add(1)
		tables.CommitsTable = fmt.Sprintf("commits_%d", id)
		tables.SnapshotsTable = fmt.Sprintf("snapshots_%d", id)
		tables.StreamHeadsTable = fmt.Sprintf("stream_heads_%d", id)
		tables.CheckpointsTable = fmt.Sprintf("consumer_checkpoints_%d", id)

		s, err := Open(ctx, dsn, sqlstore.WithTables(tables))
		require.NoError(t, err)
		require.NoError(t, s.Drop(ctx))
		require.NoError(t, s.Initialize(ctx))
		return s
	}

	storetest.Run(t, factory)

	s := factory(t).(*sqlstore.Store)
	t.Cleanup(func() { _ = s.Close() })
	storetest.RunCheckpoints(t, s)
}
