package snapshots

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getpup/pupstore/es"
	"github.com/getpup/pupstore/es/adapters/memory"
	"github.com/getpup/pupstore/es/eventstore"
	"github.com/getpup/pupstore/es/store"
	"github.com/getpup/pupstore/es/store/storetest"
)

// countEvents keeps a running count of events as the snapshot state.
func countEvents(_ context.Context, previous any, events []es.EventMessage) (any, error) {
	count := 0
	if previous != nil {
		count = previous.(int)
	}
	return count + len(events), nil
}

func newStore(t *testing.T) *eventstore.EventStore {
	t.Helper()
	s := eventstore.New(memory.NewStore(memory.DefaultStoreConfig()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func commitEvents(t *testing.T, s *eventstore.EventStore, streamID string, sequence, revision int64, n int) {
	t.Helper()
	_, _, err := s.Commit(context.Background(), storetest.Attempt(t, es.DefaultBucket, streamID, sequence, revision, n))
	require.NoError(t, err)
}

func TestSnapshotter_Run(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	commitEvents(t, s, "order-1", 1, 3, 3)
	commitEvents(t, s, "order-1", 2, 6, 3)
	commitEvents(t, s, "order-2", 1, 1, 1)

	snapshotter := New(s, s.Advanced(), countEvents, Config{Threshold: 2})

	taken, err := snapshotter.Run(ctx, es.DefaultBucket)
	require.NoError(t, err)
	assert.Equal(t, 1, taken, "only order-1 reached the threshold")

	snap, found, err := s.Advanced().GetSnapshot(ctx, es.DefaultBucket, "order-1", es.MaxRevision)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(6), snap.StreamRevision)
	assert.Equal(t, 6, snap.Payload)

	taken, err = snapshotter.Run(ctx, es.DefaultBucket)
	require.NoError(t, err)
	assert.Equal(t, 0, taken)
}

func TestSnapshotter_BuildsOnPreviousSnapshot(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	commitEvents(t, s, "order-1", 1, 4, 4)

	snapshotter := New(s, s.Advanced(), countEvents, Config{Threshold: 2})
	added, err := snapshotter.Take(ctx, es.DefaultBucket, "order-1")
	require.NoError(t, err)
	require.True(t, added)

	commitEvents(t, s, "order-1", 2, 7, 3)
	added, err = snapshotter.Take(ctx, es.DefaultBucket, "order-1")
	require.NoError(t, err)
	require.True(t, added)

	snap, _, err := s.Advanced().GetSnapshot(ctx, es.DefaultBucket, "order-1", es.MaxRevision)
	require.NoError(t, err)
	assert.Equal(t, int64(7), snap.StreamRevision)
	assert.Equal(t, 7, snap.Payload, "the builder only saw the three new events")

	added, err = snapshotter.Take(ctx, es.DefaultBucket, "order-1")
	require.NoError(t, err)
	assert.False(t, added, "nothing new since the latest snapshot")
}

func TestSnapshotter_BuilderFailure(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	commitEvents(t, s, "order-1", 1, 5, 5)

	boom := errors.New("boom")
	snapshotter := New(s, s.Advanced(), func(context.Context, any, []es.EventMessage) (any, error) {
		return nil, boom
	}, DefaultConfig())

	_, err := snapshotter.Take(ctx, es.DefaultBucket, "order-1")
	require.ErrorIs(t, err, boom)

	heads, err := store.Collect(s.Advanced().GetStreamsToSnapshot(ctx, es.DefaultBucket, 1))
	require.NoError(t, err)
	assert.Len(t, heads, 1, "a failed build adds no snapshot")
}

func TestSnapshotter_DefaultThreshold(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	for seq := int64(1); seq <= 5; seq++ {
		commitEvents(t, s, fmt.Sprintf("order-%d", seq), 1, seq*10, int(seq*10))
	}

	taken, err := New(s, s.Advanced(), countEvents, Config{}).Run(ctx, es.DefaultBucket)
	require.NoError(t, err)
	assert.Equal(t, 1, taken, "only the stream with 50 events qualifies")
}
