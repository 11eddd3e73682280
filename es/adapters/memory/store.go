// Package memory provides the reference in-memory commit store.
// It implements the full persistence contract and is the implementation
// other backends are checked against.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"iter"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/getpup/pupstore/es"
	"github.com/getpup/pupstore/es/store"
)

// StoreConfig contains configuration for the in-memory store.
type StoreConfig struct {
	// Logger is an optional logger for observability.
	// If nil, logging is disabled (zero overhead).
	Logger es.Logger
}

// DefaultStoreConfig returns the default configuration.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Logger: nil, // No logging by default
	}
}

// StoreOption is a functional option for configuring a Store.
type StoreOption func(*StoreConfig)

// WithLogger sets a logger for the store.
func WithLogger(logger es.Logger) StoreOption {
	return func(c *StoreConfig) {
		c.Logger = logger
	}
}

// NewStoreConfig creates a new store configuration with functional options.
func NewStoreConfig(opts ...StoreOption) StoreConfig {
	config := DefaultStoreConfig()
	for _, opt := range opts {
		opt(&config)
	}
	return config
}

// Store is an in-memory commit store.
//
// Each bucket is guarded by its own lock. The checkpoint counter is shared by
// all buckets and advanced atomically. Commits hold the bucket map lock shared
// while they take a checkpoint and append, and store-wide reads take it
// exclusively, so a store-wide reader never observes a checkpoint hole left by
// a commit still in flight in another bucket.
type Store struct {
	config      StoreConfig
	buckets     map[string]*bucket
	checkpoints map[string]int64
	mu          sync.RWMutex
	cpMu        sync.Mutex
	checkpoint  atomic.Int64
	disposed    atomic.Bool
}

// NewStore creates a new in-memory store with the given configuration.
func NewStore(config StoreConfig) *Store {
	return &Store{
		config:      config,
		buckets:     map[string]*bucket{},
		checkpoints: map[string]int64{},
	}
}

var (
	_ store.Persistence     = (*Store)(nil)
	_ store.CheckpointStore = (*Store)(nil)
)

type commitIdentity struct {
	streamID string
	commitID uuid.UUID
}

type sequenceIdentity struct {
	streamID string
	sequence int64
}

type bucket struct {
	duplicates map[commitIdentity]struct{}
	conflicts  map[sequenceIdentity]struct{}
	heads      map[string]es.StreamHead
	commits    []es.Commit
	snapshots  []es.Snapshot
	mu         sync.Mutex
}

func newBucket() *bucket {
	return &bucket{
		duplicates: map[commitIdentity]struct{}{},
		conflicts:  map[sequenceIdentity]struct{}{},
		heads:      map[string]es.StreamHead{},
	}
}

func (s *Store) existingBucket(bucketID string) *bucket {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.buckets[bucketID]
}

func (s *Store) checkDisposed() error {
	if s.disposed.Load() {
		return store.ErrDisposed
	}
	return nil
}

// Initialize implements store.Admin. The in-memory store needs no preparation.
func (s *Store) Initialize(ctx context.Context) error {
	if err := s.checkDisposed(); err != nil {
		return err
	}
	if s.config.Logger != nil {
		s.config.Logger.Debug(ctx, "in-memory store initialized")
	}
	return nil
}

// Commit implements store.Committer.
func (s *Store) Commit(ctx context.Context, attempt es.CommitAttempt) (es.Commit, error) {
	if err := s.checkDisposed(); err != nil {
		return es.Commit{}, err
	}
	if err := ctx.Err(); err != nil {
		return es.Commit{}, err
	}
	if err := attempt.Validate(); err != nil {
		return es.Commit{}, err
	}

	commit, err := s.commitToBucket(attempt)
	if err != nil {
		if s.config.Logger != nil {
			s.config.Logger.Error(ctx, "commit rejected",
				"bucket_id", attempt.BucketID,
				"stream_id", attempt.StreamID,
				"commit_id", attempt.CommitID,
				"commit_sequence", attempt.CommitSequence,
				"error", err)
		}
		return es.Commit{}, err
	}

	if s.config.Logger != nil {
		s.config.Logger.Info(ctx, "commit persisted",
			"bucket_id", commit.BucketID,
			"stream_id", commit.StreamID,
			"commit_sequence", commit.CommitSequence,
			"stream_revision", commit.StreamRevision,
			"checkpoint", commit.CheckpointToken)
	}
	return commit, nil
}

// commitToBucket appends the attempt to its bucket, creating the bucket on first use.
// The bucket map stays read-locked while the commit takes its checkpoint.
func (s *Store) commitToBucket(attempt es.CommitAttempt) (es.Commit, error) {
	for {
		s.mu.RLock()
		if b, ok := s.buckets[attempt.BucketID]; ok {
			commit, err := b.commit(attempt, &s.checkpoint)
			s.mu.RUnlock()
			return commit, err
		}
		s.mu.RUnlock()

		s.mu.Lock()
		if _, ok := s.buckets[attempt.BucketID]; !ok {
			s.buckets[attempt.BucketID] = newBucket()
		}
		s.mu.Unlock()
	}
}

func (b *bucket) commit(attempt es.CommitAttempt, checkpoint *atomic.Int64) (es.Commit, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	dup := commitIdentity{attempt.StreamID, attempt.CommitID}
	if _, ok := b.duplicates[dup]; ok {
		return es.Commit{}, fmt.Errorf("%w: commit %s in %s/%s",
			store.ErrDuplicateCommit, attempt.CommitID, attempt.BucketID, attempt.StreamID)
	}
	seq := sequenceIdentity{attempt.StreamID, attempt.CommitSequence}
	if _, ok := b.conflicts[seq]; ok {
		return es.Commit{}, fmt.Errorf("%w: commit sequence %d in %s/%s",
			store.ErrConcurrency, attempt.CommitSequence, attempt.BucketID, attempt.StreamID)
	}

	commit := attempt.ToCommit(checkpoint.Add(1))
	b.commits = append(b.commits, commit)
	b.duplicates[dup] = struct{}{}
	b.conflicts[seq] = struct{}{}

	head := b.heads[commit.StreamID]
	head.BucketID = commit.BucketID
	head.StreamID = commit.StreamID
	head.HeadRevision = max(head.HeadRevision, commit.StreamRevision)
	b.heads[commit.StreamID] = head

	return commit, nil
}

// Get implements store.CommitReader.
func (s *Store) Get(ctx context.Context, bucketID, streamID string, minRevision, maxRevision int64) iter.Seq2[es.Commit, error] {
	return store.Lazy(ctx, func() ([]es.Commit, error) {
		commits, err := s.filterBucket(bucketID, func(c *es.Commit) bool {
			return c.StreamID == streamID && c.StreamRevision >= minRevision && c.FirstRevision() <= maxRevision
		})
		slices.SortFunc(commits, func(a, b es.Commit) int {
			return cmp.Compare(a.CommitSequence, b.CommitSequence)
		})
		return commits, err
	})
}

// GetFrom implements store.CheckpointReader.
func (s *Store) GetFrom(ctx context.Context, bucketID string, checkpoint int64) iter.Seq2[es.Commit, error] {
	return store.Lazy(ctx, func() ([]es.Commit, error) {
		return s.filterBucket(bucketID, func(c *es.Commit) bool {
			return c.CheckpointToken > checkpoint
		})
	})
}

// GetFromTime implements store.TimeReader.
func (s *Store) GetFromTime(ctx context.Context, bucketID string, since time.Time) iter.Seq2[es.Commit, error] {
	return store.Lazy(ctx, func() ([]es.Commit, error) {
		return s.filterBucket(bucketID, func(c *es.Commit) bool {
			return !c.CommitStamp.Before(since)
		})
	})
}

// GetFromTo implements store.TimeReader.
func (s *Store) GetFromTo(ctx context.Context, bucketID string, start, end time.Time) iter.Seq2[es.Commit, error] {
	return store.Lazy(ctx, func() ([]es.Commit, error) {
		return s.filterBucket(bucketID, func(c *es.Commit) bool {
			return !c.CommitStamp.Before(start) && c.CommitStamp.Before(end)
		})
	})
}

// GetFromAll implements store.CheckpointReader.
func (s *Store) GetFromAll(ctx context.Context, checkpoint int64) iter.Seq2[es.Commit, error] {
	return store.Lazy(ctx, func() ([]es.Commit, error) {
		if err := s.checkDisposed(); err != nil {
			return nil, err
		}

		s.mu.Lock()
		var commits []es.Commit
		for _, b := range s.buckets {
			b.mu.Lock()
			for _, c := range b.commits {
				if c.CheckpointToken > checkpoint {
					commits = append(commits, c)
				}
			}
			b.mu.Unlock()
		}
		s.mu.Unlock()

		slices.SortFunc(commits, func(a, b es.Commit) int {
			return cmp.Compare(a.CheckpointToken, b.CheckpointToken)
		})
		return commits, nil
	})
}

// filterBucket returns the commits of one bucket matching keep, in checkpoint order.
// A bucket's commit list is appended under its lock while the checkpoint is
// taken, so it is already in checkpoint order.
func (s *Store) filterBucket(bucketID string, keep func(*es.Commit) bool) ([]es.Commit, error) {
	if err := s.checkDisposed(); err != nil {
		return nil, err
	}
	b := s.existingBucket(bucketID)
	if b == nil {
		return nil, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var commits []es.Commit
	for i := range b.commits {
		if keep(&b.commits[i]) {
			commits = append(commits, b.commits[i])
		}
	}
	return commits, nil
}

// GetSnapshot implements store.SnapshotStore.
func (s *Store) GetSnapshot(ctx context.Context, bucketID, streamID string, maxRevision int64) (es.Snapshot, bool, error) {
	if err := s.checkDisposed(); err != nil {
		return es.Snapshot{}, false, err
	}
	if err := ctx.Err(); err != nil {
		return es.Snapshot{}, false, err
	}
	b := s.existingBucket(bucketID)
	if b == nil {
		return es.Snapshot{}, false, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var (
		latest es.Snapshot
		found  bool
	)
	for _, snap := range b.snapshots {
		if snap.StreamID != streamID || snap.StreamRevision > maxRevision {
			continue
		}
		if !found || snap.StreamRevision > latest.StreamRevision {
			latest, found = snap, true
		}
	}
	return latest, found, nil
}

// AddSnapshot implements store.SnapshotStore.
func (s *Store) AddSnapshot(ctx context.Context, snapshot es.Snapshot) (bool, error) {
	if err := s.checkDisposed(); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	b := s.existingBucket(snapshot.BucketID)
	if b == nil {
		return false, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	head, ok := b.heads[snapshot.StreamID]
	if !ok {
		return false, nil
	}
	b.snapshots = slices.DeleteFunc(b.snapshots, func(snap es.Snapshot) bool {
		return snap.StreamID == snapshot.StreamID && snap.StreamRevision == snapshot.StreamRevision
	})
	b.snapshots = append(b.snapshots, snapshot)
	head.SnapshotRevision = max(head.SnapshotRevision, snapshot.StreamRevision)
	b.heads[snapshot.StreamID] = head

	if s.config.Logger != nil {
		s.config.Logger.Debug(ctx, "snapshot added",
			"bucket_id", snapshot.BucketID,
			"stream_id", snapshot.StreamID,
			"stream_revision", snapshot.StreamRevision)
	}
	return true, nil
}

// GetStreamsToSnapshot implements store.SnapshotStore.
func (s *Store) GetStreamsToSnapshot(ctx context.Context, bucketID string, maxThreshold int64) iter.Seq2[es.StreamHead, error] {
	return store.Lazy(ctx, func() ([]es.StreamHead, error) {
		if err := s.checkDisposed(); err != nil {
			return nil, err
		}
		b := s.existingBucket(bucketID)
		if b == nil {
			return nil, nil
		}

		b.mu.Lock()
		var heads []es.StreamHead
		for _, head := range b.heads {
			if head.HeadRevision >= head.SnapshotRevision+maxThreshold {
				heads = append(heads, head)
			}
		}
		b.mu.Unlock()

		slices.SortFunc(heads, func(a, b es.StreamHead) int {
			return cmp.Compare(a.StreamID, b.StreamID)
		})
		return heads, nil
	})
}

// Purge implements store.Admin. The checkpoint counter is not reset.
func (s *Store) Purge(ctx context.Context) error {
	if err := s.checkDisposed(); err != nil {
		return err
	}
	s.mu.Lock()
	s.buckets = map[string]*bucket{}
	s.mu.Unlock()

	if s.config.Logger != nil {
		s.config.Logger.Info(ctx, "all buckets purged")
	}
	return nil
}

// PurgeBucket implements store.Admin.
func (s *Store) PurgeBucket(ctx context.Context, bucketID string) error {
	if err := s.checkDisposed(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.buckets, bucketID)
	s.mu.Unlock()

	if s.config.Logger != nil {
		s.config.Logger.Info(ctx, "bucket purged", "bucket_id", bucketID)
	}
	return nil
}

// Drop implements store.Admin. Consumer checkpoints are dropped as well.
func (s *Store) Drop(ctx context.Context) error {
	if err := s.Purge(ctx); err != nil {
		return err
	}
	s.cpMu.Lock()
	s.checkpoints = map[string]int64{}
	s.cpMu.Unlock()
	return nil
}

// DeleteStream implements store.Admin.
func (s *Store) DeleteStream(ctx context.Context, bucketID, streamID string) error {
	if err := s.checkDisposed(); err != nil {
		return err
	}
	b := s.existingBucket(bucketID)
	if b == nil {
		return nil
	}

	b.mu.Lock()
	b.commits = slices.DeleteFunc(b.commits, func(c es.Commit) bool {
		if c.StreamID != streamID {
			return false
		}
		delete(b.duplicates, commitIdentity{c.StreamID, c.CommitID})
		delete(b.conflicts, sequenceIdentity{c.StreamID, c.CommitSequence})
		return true
	})
	b.snapshots = slices.DeleteFunc(b.snapshots, func(snap es.Snapshot) bool {
		return snap.StreamID == streamID
	})
	delete(b.heads, streamID)
	b.mu.Unlock()

	if s.config.Logger != nil {
		s.config.Logger.Info(ctx, "stream deleted", "bucket_id", bucketID, "stream_id", streamID)
	}
	return nil
}

// GetCheckpoint implements store.CheckpointStore.
func (s *Store) GetCheckpoint(_ context.Context, name string) (int64, error) {
	if err := s.checkDisposed(); err != nil {
		return 0, err
	}
	s.cpMu.Lock()
	defer s.cpMu.Unlock()
	return s.checkpoints[name], nil
}

// UpdateCheckpoint implements store.CheckpointStore.
func (s *Store) UpdateCheckpoint(_ context.Context, name string, checkpoint int64) error {
	if err := s.checkDisposed(); err != nil {
		return err
	}
	s.cpMu.Lock()
	defer s.cpMu.Unlock()
	s.checkpoints[name] = checkpoint
	return nil
}

// Close implements io.Closer. Every later operation fails with store.ErrDisposed.
func (s *Store) Close() error {
	if s.disposed.Swap(true) {
		return nil
	}
	s.mu.Lock()
	s.buckets = map[string]*bucket{}
	s.mu.Unlock()
	return nil
}

// IsDisposed implements store.Persistence.
func (s *Store) IsDisposed() bool {
	return s.disposed.Load()
}
