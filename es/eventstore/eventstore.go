// Package eventstore is the application-facing unit of work. It runs commits
// through the pipeline hooks, hands out stream sessions bound to itself, and
// filters every read through the hooks' selectors.
//
// Example:
//
//	persistence := memory.NewStore(memory.DefaultStoreConfig())
//	store := eventstore.New(persistence, eventstore.WithHooks(upconverter))
//	defer store.Close()
//
//	s, err := store.OpenStream(ctx, es.DefaultBucket, "order-42", 0, 0)
//	if err != nil {
//		return err
//	}
//	_ = s.Add(es.NewEventMessage(OrderShipped{}, nil))
//	if _, err := s.CommitChanges(ctx, uuid.New()); err != nil {
//		return err
//	}
package eventstore

import (
	"context"
	"errors"
	"iter"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/getpup/pupstore/es"
	"github.com/getpup/pupstore/es/pipeline"
	"github.com/getpup/pupstore/es/store"
	"github.com/getpup/pupstore/es/stream"
)

const tracerName = "github.com/getpup/pupstore/es/eventstore"

// EventStore composes a persistence backend with the pipeline hook chain.
// It is safe for concurrent use; the streams it hands out are not.
type EventStore struct {
	persistence store.Persistence
	advanced    store.Persistence
	tracer      trace.Tracer
	logger      es.Logger
	chain       pipeline.Chain
	disposed    atomic.Bool
}

var _ stream.Source = (*EventStore)(nil)

// New creates an event store over persistence. Unless disabled, an
// optimistic concurrency hook runs ahead of the configured hooks.
func New(persistence store.Persistence, opts ...Option) *EventStore {
	config := NewConfig(opts...)

	var chain pipeline.Chain
	if !config.DisableConcurrencyHook {
		chain = append(chain, pipeline.NewOptimisticHook(config.TrackedStreams,
			pipeline.WithOptimisticLogger(config.Logger)))
	}
	chain = append(chain, config.Hooks...)

	return &EventStore{
		persistence: persistence,
		advanced:    pipeline.Decorate(persistence, chain),
		chain:       chain,
		tracer:      config.tracer(),
		logger:      config.Logger,
	}
}

// Advanced returns the persistence backend with reads filtered through the
// hooks and purges reported to them. It exposes the administrative operations.
func (s *EventStore) Advanced() store.Persistence {
	return s.advanced
}

// Hooks returns the hook chain in execution order.
func (s *EventStore) Hooks() pipeline.Chain {
	return append(pipeline.Chain(nil), s.chain...)
}

// Commit runs the attempt through the pre-commit hooks, persists it and
// notifies the post-commit hooks. It reports false without an error when a
// hook vetoed the attempt.
func (s *EventStore) Commit(ctx context.Context, attempt es.CommitAttempt) (es.Commit, bool, error) {
	if err := s.checkDisposed(); err != nil {
		return es.Commit{}, false, err
	}

	ctx, span := s.tracer.Start(ctx, "EventStore.Commit", trace.WithAttributes(
		attribute.String("pupstore.bucket_id", attempt.BucketID),
		attribute.String("pupstore.stream_id", attempt.StreamID),
		attribute.Int64("pupstore.commit_sequence", attempt.CommitSequence),
		attribute.Int64("pupstore.stream_revision", attempt.StreamRevision),
		attribute.Int("pupstore.events", len(attempt.Events)),
	))
	defer span.End()

	allowed, err := s.chain.PreCommit(ctx, attempt)
	if err != nil {
		recordError(span, err)
		return es.Commit{}, false, err
	}
	if !allowed {
		span.SetAttributes(attribute.Bool("pupstore.vetoed", true))
		if s.logger != nil {
			s.logger.Info(ctx, "commit vetoed",
				"bucket_id", attempt.BucketID,
				"stream_id", attempt.StreamID,
				"commit_id", attempt.CommitID)
		}
		return es.Commit{}, false, nil
	}

	commit, err := s.persistence.Commit(ctx, attempt)
	if err != nil {
		recordError(span, err)
		return es.Commit{}, false, err
	}
	span.SetAttributes(attribute.Int64("pupstore.checkpoint", commit.CheckpointToken))

	s.chain.PostCommit(ctx, commit)
	return commit, true, nil
}

// CreateStream starts a session for a stream that has no commits yet.
func (s *EventStore) CreateStream(bucketID, streamID string) (*stream.Stream, error) {
	if err := s.checkDisposed(); err != nil {
		return nil, err
	}
	return stream.New(s, bucketID, streamID), nil
}

// OpenStream replays a stream within the inclusive revision window.
// A maxRevision <= 0 means unbounded.
func (s *EventStore) OpenStream(ctx context.Context, bucketID, streamID string, minRevision, maxRevision int64) (*stream.Stream, error) {
	if err := s.checkDisposed(); err != nil {
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "EventStore.OpenStream", trace.WithAttributes(
		attribute.String("pupstore.bucket_id", bucketID),
		attribute.String("pupstore.stream_id", streamID),
		attribute.Int64("pupstore.min_revision", minRevision),
		attribute.Int64("pupstore.max_revision", maxRevision),
	))
	defer span.End()

	st, err := stream.Open(ctx, s, bucketID, streamID, minRevision, maxRevision)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int64("pupstore.stream_revision", st.StreamRevision()))
	return st, nil
}

// OpenStreamFromSnapshot replays the events committed after snapshot.
// A maxRevision <= 0 means unbounded.
func (s *EventStore) OpenStreamFromSnapshot(ctx context.Context, snapshot es.Snapshot, maxRevision int64) (*stream.Stream, error) {
	if err := s.checkDisposed(); err != nil {
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "EventStore.OpenStreamFromSnapshot", trace.WithAttributes(
		attribute.String("pupstore.bucket_id", snapshot.BucketID),
		attribute.String("pupstore.stream_id", snapshot.StreamID),
		attribute.Int64("pupstore.snapshot_revision", snapshot.StreamRevision),
	))
	defer span.End()

	st, err := stream.OpenFromSnapshot(ctx, s, snapshot, maxRevision)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	return st, nil
}

// Get yields the commits of a stream overlapping the revision window.
func (s *EventStore) Get(ctx context.Context, bucketID, streamID string, minRevision, maxRevision int64) iter.Seq2[es.Commit, error] {
	return s.traced(ctx, "EventStore.Get", func(ctx context.Context) iter.Seq2[es.Commit, error] {
		return s.advanced.Get(ctx, bucketID, streamID, minRevision, maxRevision)
	}, attribute.String("pupstore.bucket_id", bucketID), attribute.String("pupstore.stream_id", streamID))
}

// GetFrom yields the commits of a bucket after checkpoint.
func (s *EventStore) GetFrom(ctx context.Context, bucketID string, checkpoint int64) iter.Seq2[es.Commit, error] {
	return s.traced(ctx, "EventStore.GetFrom", func(ctx context.Context) iter.Seq2[es.Commit, error] {
		return s.advanced.GetFrom(ctx, bucketID, checkpoint)
	}, attribute.String("pupstore.bucket_id", bucketID), attribute.Int64("pupstore.checkpoint", checkpoint))
}

// GetFromAll yields the commits of every bucket after checkpoint.
func (s *EventStore) GetFromAll(ctx context.Context, checkpoint int64) iter.Seq2[es.Commit, error] {
	return s.traced(ctx, "EventStore.GetFromAll", func(ctx context.Context) iter.Seq2[es.Commit, error] {
		return s.advanced.GetFromAll(ctx, checkpoint)
	}, attribute.Int64("pupstore.checkpoint", checkpoint))
}

// GetFromTime yields the commits of a bucket stamped at or after since.
func (s *EventStore) GetFromTime(ctx context.Context, bucketID string, since time.Time) iter.Seq2[es.Commit, error] {
	return s.traced(ctx, "EventStore.GetFromTime", func(ctx context.Context) iter.Seq2[es.Commit, error] {
		return s.advanced.GetFromTime(ctx, bucketID, since)
	}, attribute.String("pupstore.bucket_id", bucketID))
}

// GetFromTo yields the commits of a bucket stamped in [start, end).
func (s *EventStore) GetFromTo(ctx context.Context, bucketID string, start, end time.Time) iter.Seq2[es.Commit, error] {
	return s.traced(ctx, "EventStore.GetFromTo", func(ctx context.Context) iter.Seq2[es.Commit, error] {
		return s.advanced.GetFromTo(ctx, bucketID, start, end)
	}, attribute.String("pupstore.bucket_id", bucketID))
}

// Close closes the hooks and the persistence backend. Later calls fail with
// store.ErrDisposed; closing twice is a no-op.
func (s *EventStore) Close() error {
	if s.disposed.Swap(true) {
		return nil
	}
	return errors.Join(s.chain.Close(), s.persistence.Close())
}

// IsDisposed reports whether Close has been called.
func (s *EventStore) IsDisposed() bool {
	return s.disposed.Load()
}

func (s *EventStore) checkDisposed() error {
	if s.disposed.Load() {
		return store.ErrDisposed
	}
	return nil
}

// traced wraps a lazy read in a span that lasts for the iteration.
func (s *EventStore) traced(ctx context.Context, name string, read func(context.Context) iter.Seq2[es.Commit, error], attrs ...attribute.KeyValue) iter.Seq2[es.Commit, error] {
	if err := s.checkDisposed(); err != nil {
		return store.Error[es.Commit](err)
	}
	return func(yield func(es.Commit, error) bool) {
		ctx, span := s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
		defer span.End()

		count := 0
		for commit, err := range read(ctx) {
			if err != nil {
				recordError(span, err)
				yield(es.Commit{}, err)
				return
			}
			count++
			if !yield(commit, nil) {
				break
			}
		}
		span.SetAttributes(attribute.Int("pupstore.commits", count))
	}
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
