package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getpup/pupstore/es"
	"github.com/getpup/pupstore/es/store"
)

func TestOptimisticHook_UnknownStreamAllowed(t *testing.T) {
	h := NewOptimisticHook(10)

	allowed, err := h.PreCommit(context.Background(), testAttempt(t, "order-1", 7, 20, 1))
	require.NoError(t, err)
	assert.True(t, allowed)
}

// A head cached at commit sequence S and revision R rejects attempts that
// reuse S or R and accepts S+1 with R+n.
func TestOptimisticHook_PreCommitRules(t *testing.T) {
	const (
		headSeq = 3
		headRev = 6
	)

	tests := []struct {
		name     string
		sequence int64
		revision int64
		events   int
		wantErr  error
	}{
		{"next commit", headSeq + 1, headRev + 2, 2, nil},
		{"next commit single event", headSeq + 1, headRev + 1, 1, nil},
		{"sequence already taken", headSeq, headRev + 1, 1, store.ErrConcurrency},
		{"older sequence", headSeq - 1, headRev + 1, 1, store.ErrConcurrency},
		{"revision already taken", headSeq + 1, headRev, 1, store.ErrConcurrency},
		{"sequence gap", headSeq + 2, headRev + 1, 1, store.ErrStorage},
		{"revision gap", headSeq + 1, headRev + 3, 2, store.ErrStorage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewOptimisticHook(10)
			h.PostCommit(context.Background(), testCommit(t, "order-1", headSeq, headRev, 2))

			allowed, err := h.PreCommit(context.Background(), testAttempt(t, "order-1", tt.sequence, tt.revision, tt.events))
			if tt.wantErr == nil {
				require.NoError(t, err)
				assert.True(t, allowed)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
			assert.False(t, allowed)
		})
	}
}

func TestOptimisticHook_ConcurrencyIsNotStorage(t *testing.T) {
	h := NewOptimisticHook(10)
	h.PostCommit(context.Background(), testCommit(t, "order-1", 1, 1, 1))

	_, err := h.PreCommit(context.Background(), testAttempt(t, "order-1", 1, 2, 1))
	require.ErrorIs(t, err, store.ErrConcurrency)
	assert.NotErrorIs(t, err, store.ErrStorage)
}

func TestOptimisticHook_TracksLatestHead(t *testing.T) {
	h := NewOptimisticHook(10)
	ctx := context.Background()

	h.PostCommit(ctx, testCommit(t, "order-1", 2, 4, 2))
	h.Select(ctx, testCommit(t, "order-1", 1, 2, 2))

	head, ok := h.Head(es.DefaultBucket, "order-1")
	require.True(t, ok)
	assert.Equal(t, int64(2), head.CommitSequence, "an older commit does not replace the head")

	h.Select(ctx, testCommit(t, "order-1", 3, 5, 1))
	head, _ = h.Head(es.DefaultBucket, "order-1")
	assert.Equal(t, int64(3), head.CommitSequence)
}

func TestOptimisticHook_TieKeepsExistingHead(t *testing.T) {
	h := NewOptimisticHook(10)
	ctx := context.Background()

	first := testCommit(t, "order-1", 2, 4, 2)
	h.PostCommit(ctx, first)
	h.PostCommit(ctx, testCommit(t, "order-1", 2, 4, 2))

	head, ok := h.Head(es.DefaultBucket, "order-1")
	require.True(t, ok)
	assert.Equal(t, first.CommitID, head.CommitID)
}

func TestOptimisticHook_EvictsLeastRecentlyUsed(t *testing.T) {
	h := NewOptimisticHook(2)
	ctx := context.Background()

	h.PostCommit(ctx, testCommit(t, "order-1", 1, 1, 1))
	h.PostCommit(ctx, testCommit(t, "order-2", 1, 1, 1))
	// Touch order-1 so order-2 becomes the eviction candidate.
	_, err := h.PreCommit(ctx, testAttempt(t, "order-1", 2, 2, 1))
	require.NoError(t, err)
	h.PostCommit(ctx, testCommit(t, "order-3", 1, 1, 1))

	assert.Equal(t, 2, h.Len())
	_, ok := h.Head(es.DefaultBucket, "order-2")
	assert.False(t, ok)
	_, ok = h.Head(es.DefaultBucket, "order-1")
	assert.True(t, ok)

	// An evicted stream is unknown again, so any attempt passes.
	allowed, err := h.PreCommit(ctx, testAttempt(t, "order-2", 1, 1, 1))
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestOptimisticHook_DefaultSize(t *testing.T) {
	h := NewOptimisticHook(0)
	ctx := context.Background()
	for i := range DefaultMaxStreamsToTrack + 5 {
		h.PostCommit(ctx, testCommit(t, fmt.Sprintf("order-%d", i), 1, 1, 1))
	}
	assert.Equal(t, DefaultMaxStreamsToTrack, h.Len())
}

func TestOptimisticHook_OnPurge(t *testing.T) {
	ctx := context.Background()
	h := NewOptimisticHook(10)

	other := testCommit(t, "order-1", 1, 1, 1)
	other.BucketID = "tenant-b"
	h.PostCommit(ctx, testCommit(t, "order-1", 1, 1, 1))
	h.PostCommit(ctx, testCommit(t, "order-2", 1, 1, 1))
	h.PostCommit(ctx, other)

	h.OnPurge(ctx, es.DefaultBucket)
	assert.Equal(t, 1, h.Len())
	_, ok := h.Head("tenant-b", "order-1")
	assert.True(t, ok)

	h.OnPurge(ctx, "")
	assert.Equal(t, 0, h.Len())
}

func TestOptimisticHook_OnDeleteStreamAndClose(t *testing.T) {
	ctx := context.Background()
	h := NewOptimisticHook(10)
	h.PostCommit(ctx, testCommit(t, "order-1", 1, 1, 1))
	h.PostCommit(ctx, testCommit(t, "order-2", 1, 1, 1))

	h.OnDeleteStream(ctx, es.DefaultBucket, "order-1")
	_, ok := h.Head(es.DefaultBucket, "order-1")
	assert.False(t, ok)
	assert.Equal(t, 1, h.Len())

	require.NoError(t, h.Close())
	assert.Equal(t, 0, h.Len())
}

func TestOptimisticHook_LogsRejections(t *testing.T) {
	var buf bytes.Buffer
	logger := es.NewSlogLogger(slog.New(slog.NewTextHandler(&buf, nil)))
	h := NewOptimisticHook(10, WithOptimisticLogger(logger))
	h.PostCommit(context.Background(), testCommit(t, "order-1", 1, 1, 1))

	_, err := h.PreCommit(context.Background(), testAttempt(t, "order-1", 1, 2, 1))
	require.Error(t, err)
	assert.True(t, strings.Contains(buf.String(), "commit attempt rejected by head cache"), buf.String())
}
