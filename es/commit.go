package es

import (
	"errors"
	"maps"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultBucket is the bucket used when the caller does not partition streams.
	DefaultBucket = "default"

	// MaxRevision is the upper bound used for unbounded revision windows.
	MaxRevision int64 = math.MaxInt64
)

var (
	// ErrBlankBucketID indicates a commit attempt without a bucket.
	ErrBlankBucketID = errors.New("bucket id must not be blank")

	// ErrBlankStreamID indicates a commit attempt without a stream.
	ErrBlankStreamID = errors.New("stream id must not be blank")

	// ErrInvalidRevision indicates a stream revision that is not positive.
	ErrInvalidRevision = errors.New("stream revision must be positive")

	// ErrEmptyCommitID indicates a commit attempt carrying the zero UUID.
	ErrEmptyCommitID = errors.New("commit id must not be empty")

	// ErrInvalidSequence indicates a commit sequence that is not positive.
	ErrInvalidSequence = errors.New("commit sequence must be positive")

	// ErrNoEvents indicates a commit attempt without any events.
	ErrNoEvents = errors.New("commit attempt must contain at least one event")

	// ErrNilEventBody indicates an event without a body.
	ErrNilEventBody = errors.New("event body must not be nil")
)

// CommitAttempt is a proposed write of a batch of events to one stream.
// It only exists for the duration of a write; a successful write turns it
// into a Commit.
type CommitAttempt struct {
	// CommitStamp is the wall-clock time the attempt was made
	CommitStamp time.Time

	// Headers contains commit-level metadata
	Headers map[string]any

	// BucketID identifies the tenant the stream belongs to
	BucketID string

	// StreamID identifies the stream within the bucket
	StreamID string

	// Events are the events appended by this commit, in order
	Events []EventMessage

	// StreamRevision is the number of events the stream holds after this commit
	StreamRevision int64

	// CommitSequence is the 1-based position of this commit within its stream
	CommitSequence int64

	// CommitID is chosen by the caller and used to detect duplicate writes
	CommitID uuid.UUID
}

// NewCommitAttempt builds and validates a commit attempt.
// Headers and events are copied.
func NewCommitAttempt(
	bucketID, streamID string,
	streamRevision int64,
	commitID uuid.UUID,
	commitSequence int64,
	commitStamp time.Time,
	headers map[string]any,
	events []EventMessage,
) (CommitAttempt, error) {
	attempt := CommitAttempt{
		BucketID:       bucketID,
		StreamID:       streamID,
		StreamRevision: streamRevision,
		CommitID:       commitID,
		CommitSequence: commitSequence,
		CommitStamp:    commitStamp,
		Headers:        maps.Clone(headers),
		Events:         cloneEvents(events),
	}
	if attempt.Headers == nil {
		attempt.Headers = map[string]any{}
	}
	if err := attempt.Validate(); err != nil {
		return CommitAttempt{}, err
	}
	return attempt, nil
}

// Validate checks the structural invariants of the attempt.
// Each violated invariant is reported with its own error.
func (a CommitAttempt) Validate() error {
	if strings.TrimSpace(a.BucketID) == "" {
		return ErrBlankBucketID
	}
	if strings.TrimSpace(a.StreamID) == "" {
		return ErrBlankStreamID
	}
	if a.StreamRevision <= 0 {
		return ErrInvalidRevision
	}
	if a.CommitID == uuid.Nil {
		return ErrEmptyCommitID
	}
	if a.CommitSequence <= 0 {
		return ErrInvalidSequence
	}
	if len(a.Events) == 0 {
		return ErrNoEvents
	}
	for i := range a.Events {
		if a.Events[i].Body == nil {
			return ErrNilEventBody
		}
	}
	return nil
}

// ToCommit converts an accepted attempt into its persisted form.
func (a CommitAttempt) ToCommit(checkpoint int64) Commit {
	return Commit{
		BucketID:        a.BucketID,
		StreamID:        a.StreamID,
		StreamRevision:  a.StreamRevision,
		CommitID:        a.CommitID,
		CommitSequence:  a.CommitSequence,
		CommitStamp:     a.CommitStamp,
		Headers:         maps.Clone(a.Headers),
		Events:          cloneEvents(a.Events),
		CheckpointToken: checkpoint,
	}
}

// Commit is an immutable, persisted batch of events appended to a stream.
type Commit struct {
	// CommitStamp is the wall-clock time the commit was attempted
	CommitStamp time.Time

	// Headers contains commit-level metadata
	Headers map[string]any

	// BucketID identifies the tenant the stream belongs to
	BucketID string

	// StreamID identifies the stream within the bucket
	StreamID string

	// Events are the events appended by this commit, in order
	Events []EventMessage

	// StreamRevision is the number of events the stream holds after this commit
	StreamRevision int64

	// CommitSequence is the 1-based position of this commit within its stream
	CommitSequence int64

	// CheckpointToken is assigned by the store upon persistence.
	// It is unique and strictly increasing across all buckets and streams.
	CheckpointToken int64

	// CommitID is the caller-chosen identity of the commit
	CommitID uuid.UUID
}

// FirstRevision returns the stream revision of the first event in the commit.
func (c Commit) FirstRevision() int64 {
	return c.StreamRevision - int64(len(c.Events)) + 1
}

// ToAttempt rebuilds the attempt this commit was created from.
// Replaying it against a store must be reported as a duplicate.
func (c Commit) ToAttempt() CommitAttempt {
	return CommitAttempt{
		BucketID:       c.BucketID,
		StreamID:       c.StreamID,
		StreamRevision: c.StreamRevision,
		CommitID:       c.CommitID,
		CommitSequence: c.CommitSequence,
		CommitStamp:    c.CommitStamp,
		Headers:        maps.Clone(c.Headers),
		Events:         cloneEvents(c.Events),
	}
}

// Snapshot is a materialized state of a stream at a given revision.
type Snapshot struct {
	// Payload is the materialized state
	Payload any

	// BucketID identifies the tenant the stream belongs to
	BucketID string

	// StreamID identifies the stream within the bucket
	StreamID string

	// StreamRevision is the revision the payload was built from
	StreamRevision int64
}

// StreamHead tracks the latest known revision of a stream together with its
// latest snapshot revision.
type StreamHead struct {
	BucketID         string
	StreamID         string
	HeadRevision     int64
	SnapshotRevision int64
}

// Unsnapshotted returns the number of events committed since the last snapshot.
func (h StreamHead) Unsnapshotted() int64 {
	return h.HeadRevision - h.SnapshotRevision
}
