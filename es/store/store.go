// Package store provides the persistence contract every commit store backend implements.
package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"time"

	"github.com/getpup/pupstore/es"
)

var (
	// ErrConcurrency indicates that another writer already used the commit sequence
	// or stream revision of an attempt. Refresh the stream and try again.
	ErrConcurrency = errors.New("optimistic concurrency conflict")

	// ErrDuplicateCommit indicates that a commit with the same id already exists in the stream.
	ErrDuplicateCommit = errors.New("duplicate commit")

	// ErrStorage indicates a backend failure or an attempt that is inconsistent
	// with the known state of its stream.
	ErrStorage = errors.New("storage failure")

	// ErrStorageUnavailable indicates that the backend could not be reached.
	// It matches ErrStorage as well.
	ErrStorageUnavailable = fmt.Errorf("%w: storage unavailable", ErrStorage)

	// ErrStreamNotFound indicates that a stream was requested from a non-zero
	// revision but no commits exist for it.
	ErrStreamNotFound = errors.New("stream not found")

	// ErrDisposed indicates an operation on a closed store.
	ErrDisposed = errors.New("store disposed")
)

// CommitReader reads the commits of a single stream.
type CommitReader interface {
	// Get yields the commits of a stream overlapping the inclusive revision window,
	// ordered by commit sequence ascending.
	Get(ctx context.Context, bucketID, streamID string, minRevision, maxRevision int64) iter.Seq2[es.Commit, error]
}

// Committer appends commits.
type Committer interface {
	// Commit persists an attempt and returns the commit with its assigned checkpoint.
	// Returns ErrDuplicateCommit if the commit id already exists in the stream and
	// ErrConcurrency if the commit sequence is already taken.
	Commit(ctx context.Context, attempt es.CommitAttempt) (es.Commit, error)
}

// CheckpointReader reads commits in checkpoint order.
type CheckpointReader interface {
	// GetFrom yields the commits of a bucket with a checkpoint greater than checkpoint.
	GetFrom(ctx context.Context, bucketID string, checkpoint int64) iter.Seq2[es.Commit, error]

	// GetFromAll yields the commits of every bucket with a checkpoint greater than checkpoint.
	GetFromAll(ctx context.Context, checkpoint int64) iter.Seq2[es.Commit, error]
}

// TimeReader reads commits of a bucket by commit stamp, in checkpoint order.
type TimeReader interface {
	// GetFromTime yields the commits stamped at or after since.
	GetFromTime(ctx context.Context, bucketID string, since time.Time) iter.Seq2[es.Commit, error]

	// GetFromTo yields the commits stamped in [start, end).
	GetFromTo(ctx context.Context, bucketID string, start, end time.Time) iter.Seq2[es.Commit, error]
}

// SnapshotStore manages stream snapshots.
type SnapshotStore interface {
	// GetSnapshot returns the newest snapshot at or below maxRevision.
	GetSnapshot(ctx context.Context, bucketID, streamID string, maxRevision int64) (es.Snapshot, bool, error)

	// AddSnapshot stores a snapshot. It returns false if the stream is unknown.
	AddSnapshot(ctx context.Context, snapshot es.Snapshot) (bool, error)

	// GetStreamsToSnapshot yields the heads of streams with at least maxThreshold
	// events committed since their latest snapshot.
	GetStreamsToSnapshot(ctx context.Context, bucketID string, maxThreshold int64) iter.Seq2[es.StreamHead, error]
}

// Admin groups the destructive maintenance operations.
// They are not transactional and are meant for operational tooling.
type Admin interface {
	// Initialize prepares the backend. It is idempotent.
	Initialize(ctx context.Context) error

	// Purge deletes every commit, snapshot and stream head in every bucket.
	Purge(ctx context.Context) error

	// PurgeBucket deletes every commit, snapshot and stream head of one bucket.
	PurgeBucket(ctx context.Context, bucketID string) error

	// Drop destroys the backend state entirely.
	Drop(ctx context.Context) error

	// DeleteStream deletes the commits, snapshots and head of one stream.
	DeleteStream(ctx context.Context, bucketID, streamID string) error
}

// Persistence is the full contract of a commit store backend.
// All methods are safe for concurrent use.
type Persistence interface {
	CommitReader
	Committer
	CheckpointReader
	TimeReader
	SnapshotStore
	Admin
	io.Closer

	// IsDisposed reports whether Close has been called.
	IsDisposed() bool
}

// CheckpointStore persists the position of named commit consumers.
type CheckpointStore interface {
	// GetCheckpoint returns the last checkpoint recorded for name, or 0.
	GetCheckpoint(ctx context.Context, name string) (int64, error)

	// UpdateCheckpoint records the last checkpoint handled by name.
	UpdateCheckpoint(ctx context.Context, name string, checkpoint int64) error
}

// Collect drains a sequence into a slice, stopping at the first error.
func Collect[T any](seq iter.Seq2[T, error]) ([]T, error) {
	var out []T
	for v, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Error returns a sequence that yields err once.
func Error[T any](err error) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		yield(zero, err)
	}
}

// Slice returns a sequence over items that stops early once ctx is cancelled.
func Slice[T any](ctx context.Context, items []T) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for _, item := range items {
			if err := ctx.Err(); err != nil {
				var zero T
				yield(zero, err)
				return
			}
			if !yield(item, nil) {
				return
			}
		}
	}
}

// Lazy returns a sequence that calls load when iteration starts and then
// behaves like Slice.
func Lazy[T any](ctx context.Context, load func() ([]T, error)) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		if err := ctx.Err(); err != nil {
			var zero T
			yield(zero, err)
			return
		}
		items, err := load()
		if err != nil {
			var zero T
			yield(zero, err)
			return
		}
		for item, err := range Slice(ctx, items) {
			if !yield(item, err) || err != nil {
				return
			}
		}
	}
}
