// Package pipeline provides the hooks invoked around commit and read operations.
//
// A hook only has to report its name. What it takes part in is decided by the
// optional interfaces it implements: PreCommitter, PostCommitter, Selector,
// PurgeObserver, StreamDeleteObserver and io.Closer.
package pipeline

import (
	"context"
	"errors"
	"io"

	"github.com/getpup/pupstore/es"
)

// Hook is an interceptor registered with the event store.
type Hook interface {
	// Name identifies the hook in logs.
	Name() string
}

// PreCommitter inspects an attempt before it is persisted.
type PreCommitter interface {
	Hook

	// PreCommit returns false to veto the commit. A non-nil error aborts the
	// commit and is returned to the caller.
	PreCommit(ctx context.Context, attempt es.CommitAttempt) (bool, error)
}

// PostCommitter is notified after a commit was persisted.
type PostCommitter interface {
	Hook

	// PostCommit is a notification; it cannot fail the commit.
	PostCommit(ctx context.Context, commit es.Commit)
}

// Selector filters or transforms commits returned by reads.
type Selector interface {
	Hook

	// Select returns the commit to hand to the caller, or false to drop it.
	Select(ctx context.Context, commit es.Commit) (es.Commit, bool)
}

// PurgeObserver is notified when buckets are purged.
type PurgeObserver interface {
	Hook

	// OnPurge is called with the purged bucket, or "" when every bucket was purged.
	OnPurge(ctx context.Context, bucketID string)
}

// StreamDeleteObserver is notified when a stream is deleted.
type StreamDeleteObserver interface {
	Hook

	OnDeleteStream(ctx context.Context, bucketID, streamID string)
}

// Chain runs hooks in registration order.
type Chain []Hook

// PreCommit runs every PreCommitter until one vetoes or fails.
func (c Chain) PreCommit(ctx context.Context, attempt es.CommitAttempt) (bool, error) {
	for _, h := range c {
		pc, ok := h.(PreCommitter)
		if !ok {
			continue
		}
		allowed, err := pc.PreCommit(ctx, attempt)
		if err != nil {
			return false, err
		}
		if !allowed {
			return false, nil
		}
	}
	return true, nil
}

// PostCommit notifies every PostCommitter.
func (c Chain) PostCommit(ctx context.Context, commit es.Commit) {
	for _, h := range c {
		if pc, ok := h.(PostCommitter); ok {
			pc.PostCommit(ctx, commit)
		}
	}
}

// Select passes a commit through every Selector. The first selector that drops
// the commit ends the chain.
func (c Chain) Select(ctx context.Context, commit es.Commit) (es.Commit, bool) {
	for _, h := range c {
		sel, ok := h.(Selector)
		if !ok {
			continue
		}
		var keep bool
		commit, keep = sel.Select(ctx, commit)
		if !keep {
			return es.Commit{}, false
		}
	}
	return commit, true
}

// OnPurge notifies every PurgeObserver.
func (c Chain) OnPurge(ctx context.Context, bucketID string) {
	for _, h := range c {
		if po, ok := h.(PurgeObserver); ok {
			po.OnPurge(ctx, bucketID)
		}
	}
}

// OnDeleteStream notifies every StreamDeleteObserver.
func (c Chain) OnDeleteStream(ctx context.Context, bucketID, streamID string) {
	for _, h := range c {
		if do, ok := h.(StreamDeleteObserver); ok {
			do.OnDeleteStream(ctx, bucketID, streamID)
		}
	}
}

// Close closes every hook implementing io.Closer and returns the joined errors.
func (c Chain) Close() error {
	var errs []error
	for _, h := range c {
		if closer, ok := h.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
