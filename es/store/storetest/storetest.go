// Package storetest is the executable persistence contract. Every backend runs
// Run against a fresh instance to prove it behaves like the in-memory engine.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getpup/pupstore/es"
	"github.com/getpup/pupstore/es/store"
)

// Factory returns an initialized, empty store. The suite closes it.
type Factory func(t *testing.T) store.Persistence

// Run executes the conformance suite. Each case gets its own store.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	cases := []struct {
		name string
		fn   func(t *testing.T, s store.Persistence)
	}{
		{"CommitAssignsIncreasingCheckpoints", testCommitAssignsIncreasingCheckpoints},
		{"DuplicateCommitID", testDuplicateCommitID},
		{"DuplicateCheckedBeforeConcurrency", testDuplicateCheckedBeforeConcurrency},
		{"ConcurrentSequence", testConcurrentSequence},
		{"RangeRead", testRangeRead},
		{"BucketIsolation", testBucketIsolation},
		{"PurgeBucket", testPurgeBucket},
		{"Purge", testPurge},
		{"DeleteStream", testDeleteStream},
		{"GetFromAllOrdering", testGetFromAllOrdering},
		{"TimeReads", testTimeReads},
		{"Snapshots", testSnapshots},
		{"SnapshotThreshold", testSnapshotThreshold},
		{"OlderSnapshotKeepsHead", testOlderSnapshotKeepsHead},
		{"ContextCancellation", testContextCancellation},
		{"ParallelCommits", testParallelCommits},
		{"Disposal", testDisposal},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tc.fn(t, s)
		})
	}
}

// RunCheckpoints exercises a store.CheckpointStore.
func RunCheckpoints(t *testing.T, cp store.CheckpointStore) {
	t.Helper()
	ctx := context.Background()

	got, err := cp.GetCheckpoint(ctx, "projector")
	require.NoError(t, err)
	assert.Equal(t, int64(0), got, "unknown consumers start at zero")

	require.NoError(t, cp.UpdateCheckpoint(ctx, "projector", 7))
	require.NoError(t, cp.UpdateCheckpoint(ctx, "relay", 3))
	require.NoError(t, cp.UpdateCheckpoint(ctx, "projector", 12))

	got, err = cp.GetCheckpoint(ctx, "projector")
	require.NoError(t, err)
	assert.Equal(t, int64(12), got)

	got, err = cp.GetCheckpoint(ctx, "relay")
	require.NoError(t, err)
	assert.Equal(t, int64(3), got)
}

// Attempt builds a valid attempt appending n events to a stream.
// Bodies are strings so every serializer round-trips them unchanged.
func Attempt(t *testing.T, bucketID, streamID string, sequence, revision int64, n int) es.CommitAttempt {
	t.Helper()
	return AttemptAt(t, bucketID, streamID, sequence, revision, n, time.Now().UTC())
}

// AttemptAt is Attempt with an explicit commit stamp.
func AttemptAt(t *testing.T, bucketID, streamID string, sequence, revision int64, n int, stamp time.Time) es.CommitAttempt {
	t.Helper()
	events := make([]es.EventMessage, n)
	for i := range events {
		events[i] = es.NewEventMessage(fmt.Sprintf("%s-event-%d", streamID, revision-int64(n)+int64(i)+1), nil)
	}
	attempt, err := es.NewCommitAttempt(bucketID, streamID, revision, uuid.New(), sequence, stamp,
		map[string]any{"origin": "storetest"}, events)
	require.NoError(t, err)
	return attempt
}

func commit(t *testing.T, s store.Persistence, attempt es.CommitAttempt) es.Commit {
	t.Helper()
	c, err := s.Commit(context.Background(), attempt)
	require.NoError(t, err)
	return c
}

func collect(t *testing.T, seq iter.Seq2[es.Commit, error]) []es.Commit {
	t.Helper()
	commits, err := store.Collect(seq)
	require.NoError(t, err)
	return commits
}

func sequences(commits []es.Commit) []int64 {
	out := make([]int64, len(commits))
	for i, c := range commits {
		out[i] = c.CommitSequence
	}
	return out
}

func testCommitAssignsIncreasingCheckpoints(t *testing.T, s store.Persistence) {
	first := commit(t, s, Attempt(t, es.DefaultBucket, "order-1", 1, 2, 2))
	second := commit(t, s, Attempt(t, es.DefaultBucket, "order-2", 1, 1, 1))
	third := commit(t, s, Attempt(t, es.DefaultBucket, "order-1", 2, 3, 1))

	assert.Greater(t, first.CheckpointToken, int64(0))
	assert.Greater(t, second.CheckpointToken, first.CheckpointToken)
	assert.Greater(t, third.CheckpointToken, second.CheckpointToken)

	commits := collect(t, s.Get(context.Background(), es.DefaultBucket, "order-1", 0, es.MaxRevision))
	require.Len(t, commits, 2)
	assert.Equal(t, first.CommitID, commits[0].CommitID)
	assert.Equal(t, "storetest", commits[0].Headers["origin"])
	require.Len(t, commits[0].Events, 2)
	assert.Equal(t, "order-1-event-1", commits[0].Events[0].Body)
	assert.Equal(t, "order-1-event-2", commits[0].Events[1].Body)
	assert.True(t, first.CommitStamp.Equal(commits[0].CommitStamp), "stamp survives storage")
}

func testDuplicateCommitID(t *testing.T, s store.Persistence) {
	attempt := Attempt(t, es.DefaultBucket, "order-1", 1, 1, 1)
	commit(t, s, attempt)

	retry := attempt
	retry.CommitSequence = 2
	retry.StreamRevision = 2
	_, err := s.Commit(context.Background(), retry)
	require.ErrorIs(t, err, store.ErrDuplicateCommit)

	// The same commit id is unrelated in another stream.
	other := attempt
	other.StreamID = "order-2"
	commit(t, s, other)
}

func testDuplicateCheckedBeforeConcurrency(t *testing.T, s store.Persistence) {
	attempt := Attempt(t, es.DefaultBucket, "order-1", 1, 1, 1)
	commit(t, s, attempt)

	_, err := s.Commit(context.Background(), attempt)
	require.ErrorIs(t, err, store.ErrDuplicateCommit)
	assert.False(t, errors.Is(err, store.ErrConcurrency))
}

func testConcurrentSequence(t *testing.T, s store.Persistence) {
	commit(t, s, Attempt(t, es.DefaultBucket, "order-1", 1, 1, 1))

	_, err := s.Commit(context.Background(), Attempt(t, es.DefaultBucket, "order-1", 1, 1, 1))
	require.ErrorIs(t, err, store.ErrConcurrency)

	commits := collect(t, s.Get(context.Background(), es.DefaultBucket, "order-1", 0, es.MaxRevision))
	assert.Len(t, commits, 1, "the rejected attempt is not stored")
}

func testRangeRead(t *testing.T, s store.Persistence) {
	ctx := context.Background()
	for seq := int64(1); seq <= 4; seq++ {
		commit(t, s, Attempt(t, es.DefaultBucket, "order-1", seq, seq*2, 2))
	}

	tests := []struct {
		name     string
		min, max int64
		want     []int64
	}{
		{"whole stream", 0, es.MaxRevision, []int64{1, 2, 3, 4}},
		{"window inside commits", 3, 5, []int64{2, 3}},
		{"single revision", 4, 4, []int64{2}},
		{"commit boundary", 2, 3, []int64{1, 2}},
		{"beyond head", 9, es.MaxRevision, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			commits := collect(t, s.Get(ctx, es.DefaultBucket, "order-1", tt.min, tt.max))
			if tt.want == nil {
				assert.Empty(t, commits)
				return
			}
			assert.Equal(t, tt.want, sequences(commits))
		})
	}

	assert.Empty(t, collect(t, s.Get(ctx, es.DefaultBucket, "missing", 0, es.MaxRevision)))
}

func testBucketIsolation(t *testing.T, s store.Persistence) {
	ctx := context.Background()
	commit(t, s, Attempt(t, "tenant-a", "order-1", 1, 1, 1))
	commit(t, s, Attempt(t, "tenant-b", "order-1", 1, 1, 1))

	a := collect(t, s.Get(ctx, "tenant-a", "order-1", 0, es.MaxRevision))
	require.Len(t, a, 1)
	assert.Equal(t, "tenant-a", a[0].BucketID)

	fromA := collect(t, s.GetFrom(ctx, "tenant-a", 0))
	require.Len(t, fromA, 1)
	assert.Equal(t, "tenant-a", fromA[0].BucketID)

	assert.Len(t, collect(t, s.GetFromAll(ctx, 0)), 2)
}

func testPurgeBucket(t *testing.T, s store.Persistence) {
	ctx := context.Background()
	commit(t, s, Attempt(t, "tenant-a", "order-1", 1, 1, 1))
	kept := commit(t, s, Attempt(t, "tenant-b", "order-1", 1, 1, 1))
	_, err := s.AddSnapshot(ctx, es.Snapshot{BucketID: "tenant-a", StreamID: "order-1", StreamRevision: 1, Payload: "state"})
	require.NoError(t, err)

	require.NoError(t, s.PurgeBucket(ctx, "tenant-a"))

	assert.Empty(t, collect(t, s.Get(ctx, "tenant-a", "order-1", 0, es.MaxRevision)))
	_, found, err := s.GetSnapshot(ctx, "tenant-a", "order-1", es.MaxRevision)
	require.NoError(t, err)
	assert.False(t, found)

	b := collect(t, s.Get(ctx, "tenant-b", "order-1", 0, es.MaxRevision))
	require.Len(t, b, 1)
	assert.Equal(t, kept.CommitID, b[0].CommitID)

	// The purged stream can start again from sequence 1.
	commit(t, s, Attempt(t, "tenant-a", "order-1", 1, 1, 1))
}

func testPurge(t *testing.T, s store.Persistence) {
	ctx := context.Background()
	before := commit(t, s, Attempt(t, "tenant-a", "order-1", 1, 1, 1))
	commit(t, s, Attempt(t, "tenant-b", "order-1", 1, 1, 1))

	require.NoError(t, s.Purge(ctx))
	assert.Empty(t, collect(t, s.GetFromAll(ctx, 0)))

	after := commit(t, s, Attempt(t, "tenant-a", "order-1", 1, 1, 1))
	assert.Greater(t, after.CheckpointToken, before.CheckpointToken, "checkpoints are never reused")
}

func testDeleteStream(t *testing.T, s store.Persistence) {
	ctx := context.Background()
	commit(t, s, Attempt(t, es.DefaultBucket, "order-1", 1, 1, 1))
	commit(t, s, Attempt(t, es.DefaultBucket, "order-1", 2, 2, 1))
	commit(t, s, Attempt(t, es.DefaultBucket, "order-2", 1, 1, 1))
	_, err := s.AddSnapshot(ctx, es.Snapshot{BucketID: es.DefaultBucket, StreamID: "order-1", StreamRevision: 2, Payload: "state"})
	require.NoError(t, err)

	require.NoError(t, s.DeleteStream(ctx, es.DefaultBucket, "order-1"))

	assert.Empty(t, collect(t, s.Get(ctx, es.DefaultBucket, "order-1", 0, es.MaxRevision)))
	assert.Len(t, collect(t, s.Get(ctx, es.DefaultBucket, "order-2", 0, es.MaxRevision)), 1)

	heads, err := store.Collect(s.GetStreamsToSnapshot(ctx, es.DefaultBucket, 1))
	require.NoError(t, err)
	require.Len(t, heads, 1)
	assert.Equal(t, "order-2", heads[0].StreamID)

	_, found, err := s.GetSnapshot(ctx, es.DefaultBucket, "order-1", es.MaxRevision)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.DeleteStream(ctx, es.DefaultBucket, "never-existed"))
}

func testGetFromAllOrdering(t *testing.T, s store.Persistence) {
	ctx := context.Background()
	var want []int64
	for i := range 6 {
		bucket := fmt.Sprintf("tenant-%d", i%3)
		c := commit(t, s, Attempt(t, bucket, "order-1", int64(i/3+1), int64(i/3+1), 1))
		want = append(want, c.CheckpointToken)
	}

	all := collect(t, s.GetFromAll(ctx, 0))
	require.Len(t, all, 6)
	for i, c := range all {
		assert.Equal(t, want[i], c.CheckpointToken)
	}

	tail := collect(t, s.GetFromAll(ctx, want[3]))
	require.Len(t, tail, 2)
	assert.Equal(t, want[4], tail[0].CheckpointToken)

	bucket := collect(t, s.GetFrom(ctx, "tenant-1", want[1]))
	require.Len(t, bucket, 1)
	assert.Equal(t, want[4], bucket[0].CheckpointToken)
}

func testTimeReads(t *testing.T, s store.Persistence) {
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := range 4 {
		stamp := base.Add(time.Duration(i) * time.Hour)
		commit(t, s, AttemptAt(t, es.DefaultBucket, "order-1", int64(i+1), int64(i+1), 1, stamp))
	}

	since := collect(t, s.GetFromTime(ctx, es.DefaultBucket, base.Add(time.Hour)))
	assert.Equal(t, []int64{2, 3, 4}, sequences(since))

	window := collect(t, s.GetFromTo(ctx, es.DefaultBucket, base.Add(time.Hour), base.Add(3*time.Hour)))
	assert.Equal(t, []int64{2, 3}, sequences(window), "end of the window is exclusive")

	assert.Empty(t, collect(t, s.GetFromTime(ctx, "other", base)))
}

func testSnapshots(t *testing.T, s store.Persistence) {
	ctx := context.Background()

	added, err := s.AddSnapshot(ctx, es.Snapshot{BucketID: es.DefaultBucket, StreamID: "order-1", StreamRevision: 1, Payload: "state"})
	require.NoError(t, err)
	assert.False(t, added, "a stream without commits cannot be snapshotted")

	commit(t, s, Attempt(t, es.DefaultBucket, "order-1", 1, 3, 3))
	commit(t, s, Attempt(t, es.DefaultBucket, "order-1", 2, 6, 3))

	for _, rev := range []int64{3, 6} {
		added, err = s.AddSnapshot(ctx, es.Snapshot{BucketID: es.DefaultBucket, StreamID: "order-1", StreamRevision: rev, Payload: fmt.Sprintf("state@%d", rev)})
		require.NoError(t, err)
		assert.True(t, added)
	}

	snap, found, err := s.GetSnapshot(ctx, es.DefaultBucket, "order-1", es.MaxRevision)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(6), snap.StreamRevision)
	assert.Equal(t, "state@6", snap.Payload)

	snap, found, err = s.GetSnapshot(ctx, es.DefaultBucket, "order-1", 5)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(3), snap.StreamRevision)

	_, found, err = s.GetSnapshot(ctx, es.DefaultBucket, "order-1", 2)
	require.NoError(t, err)
	assert.False(t, found)
}

func testSnapshotThreshold(t *testing.T, s store.Persistence) {
	ctx := context.Background()
	commit(t, s, Attempt(t, es.DefaultBucket, "order-1", 1, 3, 3))
	commit(t, s, Attempt(t, es.DefaultBucket, "order-1", 2, 6, 3))
	commit(t, s, Attempt(t, es.DefaultBucket, "order-2", 1, 1, 1))

	_, err := s.AddSnapshot(ctx, es.Snapshot{BucketID: es.DefaultBucket, StreamID: "order-1", StreamRevision: 3, Payload: "state"})
	require.NoError(t, err)

	heads, err := store.Collect(s.GetStreamsToSnapshot(ctx, es.DefaultBucket, 2))
	require.NoError(t, err)
	require.Len(t, heads, 1)
	assert.Equal(t, es.StreamHead{BucketID: es.DefaultBucket, StreamID: "order-1", HeadRevision: 6, SnapshotRevision: 3}, heads[0])

	_, err = s.AddSnapshot(ctx, es.Snapshot{BucketID: es.DefaultBucket, StreamID: "order-1", StreamRevision: 6, Payload: "state"})
	require.NoError(t, err)

	heads, err = store.Collect(s.GetStreamsToSnapshot(ctx, es.DefaultBucket, 2))
	require.NoError(t, err)
	assert.Empty(t, heads)

	heads, err = store.Collect(s.GetStreamsToSnapshot(ctx, es.DefaultBucket, 1))
	require.NoError(t, err)
	require.Len(t, heads, 1)
	assert.Equal(t, "order-2", heads[0].StreamID)
}

func testOlderSnapshotKeepsHead(t *testing.T, s store.Persistence) {
	ctx := context.Background()
	commit(t, s, Attempt(t, es.DefaultBucket, "order-1", 1, 3, 3))
	commit(t, s, Attempt(t, es.DefaultBucket, "order-1", 2, 6, 3))

	for _, rev := range []int64{6, 3} {
		added, err := s.AddSnapshot(ctx, es.Snapshot{BucketID: es.DefaultBucket, StreamID: "order-1", StreamRevision: rev, Payload: "state"})
		require.NoError(t, err)
		require.True(t, added)
	}

	heads, err := store.Collect(s.GetStreamsToSnapshot(ctx, es.DefaultBucket, 1))
	require.NoError(t, err)
	assert.Empty(t, heads, "a late snapshot at a lower revision must not make the stream a candidate again")

	snap, found, err := s.GetSnapshot(ctx, es.DefaultBucket, "order-1", es.MaxRevision)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(6), snap.StreamRevision)
}

func testContextCancellation(t *testing.T, s store.Persistence) {
	for seq := int64(1); seq <= 3; seq++ {
		commit(t, s, Attempt(t, es.DefaultBucket, "order-1", seq, seq, 1))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var (
		seen int
		last error
	)
	for _, err := range s.GetFromAll(ctx, 0) {
		if err != nil {
			last = err
			break
		}
		seen++
		cancel()
	}
	assert.Equal(t, 1, seen)
	assert.ErrorIs(t, last, context.Canceled)
}

func testParallelCommits(t *testing.T, s store.Persistence) {
	const (
		writers = 8
		commits = 10
	)
	var wg sync.WaitGroup
	errs := make(chan error, writers*commits)
	for w := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bucket := fmt.Sprintf("tenant-%d", w%2)
			stream := fmt.Sprintf("order-%d", w)
			for seq := int64(1); seq <= commits; seq++ {
				if _, err := s.Commit(context.Background(), Attempt(t, bucket, stream, seq, seq, 1)); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	all := collect(t, s.GetFromAll(context.Background(), 0))
	require.Len(t, all, writers*commits)
	seen := map[int64]bool{}
	for i, c := range all {
		assert.False(t, seen[c.CheckpointToken], "checkpoint %d assigned twice", c.CheckpointToken)
		seen[c.CheckpointToken] = true
		if i > 0 {
			assert.Greater(t, c.CheckpointToken, all[i-1].CheckpointToken)
		}
	}
}

func testDisposal(t *testing.T, s store.Persistence) {
	ctx := context.Background()
	assert.False(t, s.IsDisposed())
	require.NoError(t, s.Close())
	assert.True(t, s.IsDisposed())

	_, err := s.Commit(ctx, Attempt(t, es.DefaultBucket, "order-1", 1, 1, 1))
	assert.ErrorIs(t, err, store.ErrDisposed)

	_, err = store.Collect(s.Get(ctx, es.DefaultBucket, "order-1", 0, es.MaxRevision))
	assert.ErrorIs(t, err, store.ErrDisposed)

	_, err = store.Collect(s.GetFromAll(ctx, 0))
	assert.ErrorIs(t, err, store.ErrDisposed)

	assert.ErrorIs(t, s.Purge(ctx), store.ErrDisposed)
}
