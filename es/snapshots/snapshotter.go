// Package snapshots takes snapshots of streams that have grown past a threshold
// since their latest snapshot.
package snapshots

import (
	"context"
	"errors"
	"fmt"

	"github.com/getpup/pupstore/es"
	"github.com/getpup/pupstore/es/store"
	"github.com/getpup/pupstore/es/stream"
)

// Builder folds the events committed since the previous snapshot into a new state.
// previous is nil when the stream has no snapshot yet.
type Builder func(ctx context.Context, previous any, events []es.EventMessage) (any, error)

// Config contains configuration for a Snapshotter.
type Config struct {
	// Logger is an optional logger for observability.
	// If nil, logging is disabled (zero overhead).
	Logger es.Logger

	// Threshold is the number of events since the latest snapshot that makes
	// a stream eligible.
	// Default: 50
	Threshold int64
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Threshold: 50,
	}
}

// Snapshotter rebuilds the state of eligible streams and stores it as a snapshot.
type Snapshotter struct {
	source    stream.Source
	snapshots store.SnapshotStore
	builder   Builder
	config    Config
}

// New creates a snapshotter. source is usually the event store facade so that
// reads pass through its hooks; snapshots is its Advanced persistence.
func New(source stream.Source, snapshots store.SnapshotStore, builder Builder, config Config) *Snapshotter {
	if config.Threshold <= 0 {
		config.Threshold = DefaultConfig().Threshold
	}
	return &Snapshotter{
		source:    source,
		snapshots: snapshots,
		builder:   builder,
		config:    config,
	}
}

// Run snapshots every eligible stream of a bucket and returns how many
// snapshots were added. It stops at the first failure.
func (s *Snapshotter) Run(ctx context.Context, bucketID string) (int, error) {
	heads, err := store.Collect(s.snapshots.GetStreamsToSnapshot(ctx, bucketID, s.config.Threshold))
	if err != nil {
		return 0, fmt.Errorf("failed to list streams to snapshot: %w", err)
	}

	taken := 0
	for _, head := range heads {
		added, err := s.Take(ctx, head.BucketID, head.StreamID)
		if err != nil {
			return taken, err
		}
		if added {
			taken++
		}
	}

	if s.config.Logger != nil {
		s.config.Logger.Info(ctx, "snapshot run finished",
			"bucket_id", bucketID,
			"candidates", len(heads),
			"snapshots", taken)
	}
	return taken, nil
}

// Take snapshots one stream at its current head. It reports false when the
// stream has no events beyond its latest snapshot.
func (s *Snapshotter) Take(ctx context.Context, bucketID, streamID string) (bool, error) {
	previous, found, err := s.snapshots.GetSnapshot(ctx, bucketID, streamID, es.MaxRevision)
	if err != nil {
		return false, fmt.Errorf("failed to load snapshot of %s/%s: %w", bucketID, streamID, err)
	}

	var (
		st    *stream.Stream
		state any
	)
	if found {
		st, err = stream.OpenFromSnapshot(ctx, s.source, previous, 0)
		state = previous.Payload
	} else {
		st, err = stream.Open(ctx, s.source, bucketID, streamID, 0, 0)
	}
	if err != nil {
		return false, fmt.Errorf("failed to open %s/%s: %w", bucketID, streamID, err)
	}

	events := st.CommittedEvents()
	if len(events) == 0 {
		return false, nil
	}

	next, err := s.builder(ctx, state, events)
	if err != nil {
		return false, fmt.Errorf("failed to build snapshot of %s/%s: %w", bucketID, streamID, err)
	}
	if next == nil {
		return false, errors.New("snapshot builder returned a nil state")
	}

	snapshot := es.Snapshot{
		BucketID:       bucketID,
		StreamID:       streamID,
		StreamRevision: st.StreamRevision(),
		Payload:        next,
	}
	added, err := s.snapshots.AddSnapshot(ctx, snapshot)
	if err != nil {
		return false, fmt.Errorf("failed to add snapshot of %s/%s: %w", bucketID, streamID, err)
	}

	if added && s.config.Logger != nil {
		s.config.Logger.Debug(ctx, "snapshot taken",
			"bucket_id", bucketID,
			"stream_id", streamID,
			"stream_revision", snapshot.StreamRevision)
	}
	return added, nil
}
