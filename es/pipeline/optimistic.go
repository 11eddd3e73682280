package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/getpup/pupstore/es"
	"github.com/getpup/pupstore/es/store"
)

// DefaultMaxStreamsToTrack is the default size of the stream head cache.
const DefaultMaxStreamsToTrack = 100

type streamKey struct {
	bucketID string
	streamID string
}

// OptimisticHook rejects attempts that conflict with the most recent commit it
// has seen for their stream, before they reach the backend.
//
// The cache is only a fast path: a stream it does not know is always let
// through, and the backend stays responsible for detecting conflicts.
type OptimisticHook struct {
	heads  *simplelru.LRU[streamKey, es.Commit]
	logger es.Logger
	mu     sync.Mutex
}

// OptimisticOption configures an OptimisticHook.
type OptimisticOption func(*OptimisticHook)

// WithOptimisticLogger sets a logger for rejected attempts.
func WithOptimisticLogger(logger es.Logger) OptimisticOption {
	return func(h *OptimisticHook) {
		h.logger = logger
	}
}

// NewOptimisticHook creates a hook tracking at most maxStreamsToTrack streams.
// A non-positive size falls back to DefaultMaxStreamsToTrack.
func NewOptimisticHook(maxStreamsToTrack int, opts ...OptimisticOption) *OptimisticHook {
	if maxStreamsToTrack <= 0 {
		maxStreamsToTrack = DefaultMaxStreamsToTrack
	}
	heads, err := simplelru.NewLRU[streamKey, es.Commit](maxStreamsToTrack, nil)
	if err != nil {
		// Only reachable with a non-positive size, which is excluded above.
		panic(err)
	}
	h := &OptimisticHook{heads: heads}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Name implements Hook.
func (h *OptimisticHook) Name() string { return "optimistic_concurrency" }

// PreCommit implements PreCommitter.
func (h *OptimisticHook) PreCommit(ctx context.Context, attempt es.CommitAttempt) (bool, error) {
	h.mu.Lock()
	head, ok := h.heads.Get(streamKey{attempt.BucketID, attempt.StreamID})
	h.mu.Unlock()
	if !ok {
		return true, nil
	}

	var err error
	switch {
	case head.CommitSequence >= attempt.CommitSequence:
		err = fmt.Errorf("%w: commit sequence %d already taken in %s/%s (head is %d)",
			store.ErrConcurrency, attempt.CommitSequence, attempt.BucketID, attempt.StreamID, head.CommitSequence)
	case head.StreamRevision >= attempt.StreamRevision:
		err = fmt.Errorf("%w: stream revision %d already taken in %s/%s (head is %d)",
			store.ErrConcurrency, attempt.StreamRevision, attempt.BucketID, attempt.StreamID, head.StreamRevision)
	case head.CommitSequence < attempt.CommitSequence-1:
		err = fmt.Errorf("%w: commit sequence %d leaves a gap in %s/%s (head is %d)",
			store.ErrStorage, attempt.CommitSequence, attempt.BucketID, attempt.StreamID, head.CommitSequence)
	case head.StreamRevision < attempt.StreamRevision-int64(len(attempt.Events)):
		err = fmt.Errorf("%w: stream revision %d leaves a gap in %s/%s (head is %d)",
			store.ErrStorage, attempt.StreamRevision, attempt.BucketID, attempt.StreamID, head.StreamRevision)
	}
	if err != nil {
		if h.logger != nil {
			h.logger.Error(ctx, "commit attempt rejected by head cache",
				"bucket_id", attempt.BucketID,
				"stream_id", attempt.StreamID,
				"commit_sequence", attempt.CommitSequence,
				"stream_revision", attempt.StreamRevision,
				"error", err)
		}
		return false, err
	}
	return true, nil
}

// PostCommit implements PostCommitter.
func (h *OptimisticHook) PostCommit(_ context.Context, commit es.Commit) {
	h.track(commit)
}

// Select implements Selector. It never drops commits.
func (h *OptimisticHook) Select(_ context.Context, commit es.Commit) (es.Commit, bool) {
	h.track(commit)
	return commit, true
}

// OnPurge implements PurgeObserver.
func (h *OptimisticHook) OnPurge(_ context.Context, bucketID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if bucketID == "" {
		h.heads.Purge()
		return
	}
	for _, key := range h.heads.Keys() {
		if key.bucketID == bucketID {
			h.heads.Remove(key)
		}
	}
}

// OnDeleteStream implements StreamDeleteObserver.
func (h *OptimisticHook) OnDeleteStream(_ context.Context, bucketID, streamID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.heads.Remove(streamKey{bucketID, streamID})
}

// Close implements io.Closer.
func (h *OptimisticHook) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.heads.Purge()
	return nil
}

// Len returns the number of tracked streams.
func (h *OptimisticHook) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.heads.Len()
}

// Head returns the tracked head of a stream.
func (h *OptimisticHook) Head(bucketID, streamID string) (es.Commit, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.heads.Peek(streamKey{bucketID, streamID})
}

// track records commit as the head of its stream unless a later commit is
// already known, and marks the stream as most recently used.
func (h *OptimisticHook) track(commit es.Commit) {
	key := streamKey{commit.BucketID, commit.StreamID}

	h.mu.Lock()
	defer h.mu.Unlock()

	if head, ok := h.heads.Get(key); ok && head.StreamRevision >= commit.StreamRevision {
		return
	}
	h.heads.Add(key, commit)
}
