package sqlstore_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getpup/pupstore/es"
	"github.com/getpup/pupstore/es/adapters/sqlite"
	"github.com/getpup/pupstore/es/adapters/sqlstore"
	"github.com/getpup/pupstore/es/serialization"
	"github.com/getpup/pupstore/es/store"
	"github.com/getpup/pupstore/es/store/storetest"
)

func openStore(t *testing.T, opts ...sqlstore.StoreOption) *sqlstore.Store {
	t.Helper()
	ctx := context.Background()
	s, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "store.db"), opts...)
	require.NoError(t, err)
	require.NoError(t, s.Initialize(ctx))
	return s
}

func TestStore_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Persistence {
		return openStore(t)
	})
}

func TestStore_ConformanceWithSmallPages(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Persistence {
		return openStore(t, sqlstore.WithPageSize(2))
	})
}

func TestStore_Checkpoints(t *testing.T) {
	s := openStore(t)
	t.Cleanup(func() { _ = s.Close() })
	storetest.RunCheckpoints(t, s)
}

func TestStore_Serializers(t *testing.T) {
	serializers := map[string]serialization.Serializer{
		"bson":      serialization.BSON{},
		"yaml":      serialization.YAML{},
		"json+gzip": serialization.Gzip{Inner: serialization.JSON{}},
	}
	for name, serializer := range serializers {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := openStore(t, sqlstore.WithSerializer(serializer))
			t.Cleanup(func() { _ = s.Close() })

			want, err := s.Commit(ctx, storetest.Attempt(t, es.DefaultBucket, "order-1", 1, 2, 2))
			require.NoError(t, err)

			got, err := store.Collect(s.Get(ctx, es.DefaultBucket, "order-1", 0, es.MaxRevision))
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, want.CommitID, got[0].CommitID)
			assert.Equal(t, "storetest", got[0].Headers["origin"])
			require.Len(t, got[0].Events, 2)
			assert.Equal(t, "order-1-event-1", got[0].Events[0].Body)
			assert.Equal(t, "order-1-event-2", got[0].Events[1].Body)
			assert.True(t, want.CommitStamp.Equal(got[0].CommitStamp))
		})
	}
}

func TestStore_PagesThroughLargeReads(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, sqlstore.WithPageSize(3))
	t.Cleanup(func() { _ = s.Close() })

	for seq := int64(1); seq <= 10; seq++ {
		_, err := s.Commit(ctx, storetest.Attempt(t, es.DefaultBucket, "order-1", seq, seq, 1))
		require.NoError(t, err)
	}

	all, err := store.Collect(s.GetFrom(ctx, es.DefaultBucket, 0))
	require.NoError(t, err)
	require.Len(t, all, 10)
	for i, c := range all {
		assert.Equal(t, int64(i+1), c.CommitSequence)
	}

	stream, err := store.Collect(s.Get(ctx, es.DefaultBucket, "order-1", 4, 9))
	require.NoError(t, err)
	require.Len(t, stream, 6)
	assert.Equal(t, int64(4), stream[0].CommitSequence)
	assert.Equal(t, int64(9), stream[5].CommitSequence)

	for i := range 7 {
		_, err := s.Commit(ctx, storetest.Attempt(t, es.DefaultBucket, fmt.Sprintf("order-%d", i+2), 1, 1, 1))
		require.NoError(t, err)
	}
	heads, err := store.Collect(s.GetStreamsToSnapshot(ctx, es.DefaultBucket, 1))
	require.NoError(t, err)
	assert.Len(t, heads, 8)
}

func TestStore_DropAndReinitialize(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	t.Cleanup(func() { _ = s.Close() })

	_, err := s.Commit(ctx, storetest.Attempt(t, es.DefaultBucket, "order-1", 1, 1, 1))
	require.NoError(t, err)
	require.NoError(t, s.UpdateCheckpoint(ctx, "projector", 1))

	require.NoError(t, s.Drop(ctx))
	_, err = s.Commit(ctx, storetest.Attempt(t, es.DefaultBucket, "order-1", 1, 1, 1))
	assert.ErrorIs(t, err, store.ErrStorage, "tables are gone after Drop")

	require.NoError(t, s.Initialize(ctx))
	require.NoError(t, s.Initialize(ctx), "initialize is idempotent")

	cp, err := s.GetCheckpoint(ctx, "projector")
	require.NoError(t, err)
	assert.Equal(t, int64(0), cp)

	commits, err := store.Collect(s.GetFromAll(ctx, 0))
	require.NoError(t, err)
	assert.Empty(t, commits)
}

func TestStore_ReplacesSnapshotAtSameRevision(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	t.Cleanup(func() { _ = s.Close() })

	_, err := s.Commit(ctx, storetest.Attempt(t, es.DefaultBucket, "order-1", 1, 3, 3))
	require.NoError(t, err)

	for _, payload := range []string{"first", "second"} {
		added, err := s.AddSnapshot(ctx, es.Snapshot{BucketID: es.DefaultBucket, StreamID: "order-1", StreamRevision: 3, Payload: payload})
		require.NoError(t, err)
		require.True(t, added)
	}

	snap, found, err := s.GetSnapshot(ctx, es.DefaultBucket, "order-1", es.MaxRevision)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "second", snap.Payload)
}
