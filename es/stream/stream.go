// Package stream materializes a stream from its commits and accumulates new
// events for the next commit.
package stream

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/getpup/pupstore/es"
	"github.com/getpup/pupstore/es/store"
)

// Source is what a stream reads from and commits through.
// It is usually the event store facade.
type Source interface {
	Get(ctx context.Context, bucketID, streamID string, minRevision, maxRevision int64) iter.Seq2[es.Commit, error]
	Commit(ctx context.Context, attempt es.CommitAttempt) (es.Commit, bool, error)
}

// Stream is an in-session view of a stream.
// It is not safe for concurrent use.
type Stream struct {
	source             Source
	committedHeaders   map[string]any
	uncommittedHeaders map[string]any
	identifiers        map[uuid.UUID]struct{}
	bucketID           string
	streamID           string
	committed          []es.EventMessage
	uncommitted        []es.EventMessage
	streamRevision     int64
	commitSequence     int64
}

// New creates an empty stream that has never been committed to.
func New(source Source, bucketID, streamID string) *Stream {
	return &Stream{
		source:             source,
		bucketID:           bucketID,
		streamID:           streamID,
		committedHeaders:   map[string]any{},
		uncommittedHeaders: map[string]any{},
		identifiers:        map[uuid.UUID]struct{}{},
	}
}

// Open replays the events of a stream within the inclusive revision window.
// A maxRevision <= 0 means unbounded. Returns store.ErrStreamNotFound if
// minRevision is positive and the stream has no commits.
func Open(ctx context.Context, source Source, bucketID, streamID string, minRevision, maxRevision int64) (*Stream, error) {
	if maxRevision <= 0 {
		maxRevision = es.MaxRevision
	}
	s := New(source, bucketID, streamID)
	n, err := s.populate(source.Get(ctx, bucketID, streamID, minRevision, maxRevision), minRevision, maxRevision)
	if err != nil {
		return nil, err
	}
	if minRevision > 0 && n == 0 {
		return nil, fmt.Errorf("%w: %s/%s", store.ErrStreamNotFound, bucketID, streamID)
	}
	return s, nil
}

// OpenFromSnapshot replays the events committed after a snapshot, up to maxRevision.
// A maxRevision <= 0 means unbounded.
func OpenFromSnapshot(ctx context.Context, source Source, snapshot es.Snapshot, maxRevision int64) (*Stream, error) {
	if maxRevision <= 0 {
		maxRevision = es.MaxRevision
	}
	s := New(source, snapshot.BucketID, snapshot.StreamID)
	commits := source.Get(ctx, snapshot.BucketID, snapshot.StreamID, snapshot.StreamRevision, maxRevision)
	if _, err := s.populate(commits, snapshot.StreamRevision+1, maxRevision); err != nil {
		return nil, err
	}
	s.streamRevision = snapshot.StreamRevision + int64(len(s.committed))
	return s, nil
}

// populate folds commits into the committed state, keeping only the events whose
// revision falls within [minRevision, maxRevision]. It returns the number of
// commits seen.
func (s *Stream) populate(commits iter.Seq2[es.Commit, error], minRevision, maxRevision int64) (int, error) {
	seen := 0
	for commit, err := range commits {
		if err != nil {
			return seen, err
		}
		seen++

		// A known commit is skipped only once all of its events are folded in;
		// a commit cut by a previous maxRevision still has events to add.
		if _, ok := s.identifiers[commit.CommitID]; ok && commit.StreamRevision <= s.streamRevision {
			continue
		}
		s.identifiers[commit.CommitID] = struct{}{}

		s.commitSequence = commit.CommitSequence
		currentRevision := commit.FirstRevision()
		if currentRevision > maxRevision {
			return seen, nil
		}

		maps.Copy(s.committedHeaders, commit.Headers)

		for _, event := range commit.Events {
			if currentRevision > maxRevision {
				break
			}
			revision := currentRevision
			currentRevision++
			if revision < minRevision {
				continue
			}
			s.committed = append(s.committed, event)
			s.streamRevision = revision
		}
	}
	return seen, nil
}

// BucketID returns the bucket of the stream.
func (s *Stream) BucketID() string { return s.bucketID }

// StreamID returns the id of the stream.
func (s *Stream) StreamID() string { return s.streamID }

// StreamRevision returns the revision of the last committed event in the session.
func (s *Stream) StreamRevision() int64 { return s.streamRevision }

// TentativeRevision returns the revision the stream will have once the
// uncommitted events are committed.
func (s *Stream) TentativeRevision() int64 {
	return s.streamRevision + int64(len(s.uncommitted))
}

// CommitSequence returns the sequence of the last commit folded into the session.
func (s *Stream) CommitSequence() int64 { return s.commitSequence }

// CommittedEvents returns a copy of the committed events.
func (s *Stream) CommittedEvents() []es.EventMessage { return slices.Clone(s.committed) }

// UncommittedEvents returns a copy of the events added since the last commit.
func (s *Stream) UncommittedEvents() []es.EventMessage { return slices.Clone(s.uncommitted) }

// CommittedHeaders returns a copy of the merged headers of all committed commits.
func (s *Stream) CommittedHeaders() map[string]any { return maps.Clone(s.committedHeaders) }

// UncommittedHeaders returns a copy of the headers added since the last commit.
func (s *Stream) UncommittedHeaders() map[string]any { return maps.Clone(s.uncommittedHeaders) }

// HasChanges reports whether there are uncommitted events.
func (s *Stream) HasChanges() bool { return len(s.uncommitted) > 0 }

// Add appends an event to the uncommitted events.
func (s *Stream) Add(event es.EventMessage) error {
	if event.Body == nil {
		return es.ErrNilEventBody
	}
	s.uncommitted = append(s.uncommitted, es.NewEventMessage(event.Body, event.Headers))
	return nil
}

// SetHeader adds or overwrites an uncommitted commit header.
func (s *Stream) SetHeader(key string, value any) {
	s.uncommittedHeaders[key] = value
}

// ClearChanges discards the uncommitted events and headers.
func (s *Stream) ClearChanges() {
	s.uncommitted = nil
	s.uncommittedHeaders = map[string]any{}
}

// BuildAttempt creates the commit attempt for the uncommitted state.
func (s *Stream) BuildAttempt(commitID uuid.UUID, stamp time.Time) (es.CommitAttempt, error) {
	return es.NewCommitAttempt(
		s.bucketID,
		s.streamID,
		s.TentativeRevision(),
		commitID,
		s.commitSequence+1,
		stamp,
		s.uncommittedHeaders,
		s.uncommitted,
	)
}

// SetPersisted moves the uncommitted state into the committed state.
// It must only be called after the uncommitted state was committed as commitSequence.
func (s *Stream) SetPersisted(commitSequence int64) {
	s.streamRevision += int64(len(s.uncommitted))
	s.committed = append(s.committed, s.uncommitted...)
	maps.Copy(s.committedHeaders, s.uncommittedHeaders)
	s.commitSequence = commitSequence
	s.ClearChanges()
}

// Update folds in commits written by other sessions since this session was
// loaded. Uncommitted events are kept.
func (s *Stream) Update(ctx context.Context) error {
	from := s.streamRevision + 1
	_, err := s.populate(s.source.Get(ctx, s.bucketID, s.streamID, from, es.MaxRevision), from, es.MaxRevision)
	return err
}

// CommitChanges commits the uncommitted state as commitID.
// It reports false when there was nothing to commit or a pipeline hook vetoed the commit.
// On a concurrency conflict the session is refreshed before the error is returned,
// so the caller can inspect the new state and decide whether to add its events again.
// On a duplicate commit the uncommitted state is discarded.
func (s *Stream) CommitChanges(ctx context.Context, commitID uuid.UUID) (bool, error) {
	if _, ok := s.identifiers[commitID]; ok {
		return false, fmt.Errorf("%w: commit %s already applied to this stream", store.ErrDuplicateCommit, commitID)
	}
	if !s.HasChanges() {
		return false, nil
	}

	attempt, err := s.BuildAttempt(commitID, time.Now().UTC())
	if err != nil {
		return false, err
	}

	commit, committed, err := s.source.Commit(ctx, attempt)
	switch {
	case errors.Is(err, store.ErrConcurrency):
		if updateErr := s.Update(ctx); updateErr != nil {
			return false, errors.Join(err, updateErr)
		}
		return false, err
	case errors.Is(err, store.ErrDuplicateCommit):
		s.ClearChanges()
		return false, err
	case err != nil:
		return false, err
	case !committed:
		return false, nil
	}

	s.identifiers[commit.CommitID] = struct{}{}
	s.SetPersisted(commit.CommitSequence)
	return true, nil
}
