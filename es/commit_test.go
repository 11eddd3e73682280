package es

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNewCommitAttempt_Validation(t *testing.T) {
	events := []EventMessage{NewEventMessage("created", nil)}
	commitID := uuid.New()
	now := time.Now().UTC()

	tests := []struct {
		name     string
		bucketID string
		streamID string
		revision int64
		commitID uuid.UUID
		sequence int64
		events   []EventMessage
		wantErr  error
	}{
		{name: "valid attempt", bucketID: DefaultBucket, streamID: "order-1", revision: 1, commitID: commitID, sequence: 1, events: events},
		{name: "blank bucket", bucketID: " ", streamID: "order-1", revision: 1, commitID: commitID, sequence: 1, events: events, wantErr: ErrBlankBucketID},
		{name: "blank stream", bucketID: DefaultBucket, streamID: "", revision: 1, commitID: commitID, sequence: 1, events: events, wantErr: ErrBlankStreamID},
		{name: "zero revision", bucketID: DefaultBucket, streamID: "order-1", revision: 0, commitID: commitID, sequence: 1, events: events, wantErr: ErrInvalidRevision},
		{name: "nil commit id", bucketID: DefaultBucket, streamID: "order-1", revision: 1, commitID: uuid.Nil, sequence: 1, events: events, wantErr: ErrEmptyCommitID},
		{name: "zero sequence", bucketID: DefaultBucket, streamID: "order-1", revision: 1, commitID: commitID, sequence: 0, events: events, wantErr: ErrInvalidSequence},
		{name: "no events", bucketID: DefaultBucket, streamID: "order-1", revision: 1, commitID: commitID, sequence: 1, events: nil, wantErr: ErrNoEvents},
		{name: "nil event body", bucketID: DefaultBucket, streamID: "order-1", revision: 1, commitID: commitID, sequence: 1, events: []EventMessage{{}}, wantErr: ErrNilEventBody},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCommitAttempt(tt.bucketID, tt.streamID, tt.revision, tt.commitID, tt.sequence, now, nil, tt.events)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("NewCommitAttempt() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewCommitAttempt_CopiesInputs(t *testing.T) {
	headers := map[string]any{"user": "alice"}
	eventHeaders := map[string]any{"kind": "created"}
	events := []EventMessage{NewEventMessage("created", eventHeaders)}

	attempt, err := NewCommitAttempt(DefaultBucket, "order-1", 1, uuid.New(), 1, time.Now(), headers, events)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	headers["user"] = "mallory"
	eventHeaders["kind"] = "tampered"
	events[0].Body = "tampered"

	if attempt.Headers["user"] != "alice" {
		t.Errorf("commit headers aliased caller map: %v", attempt.Headers)
	}
	if attempt.Events[0].Body != "created" {
		t.Errorf("events aliased caller slice: %v", attempt.Events[0].Body)
	}
	if attempt.Events[0].Headers["kind"] != "created" {
		t.Errorf("event headers aliased caller map: %v", attempt.Events[0].Headers)
	}
}

func TestNewEventMessage_CopiesHeaders(t *testing.T) {
	headers := map[string]any{"a": 1}
	msg := NewEventMessage("body", headers)
	headers["a"] = 2

	if v, _ := msg.Header("a"); v != 1 {
		t.Errorf("Header(a) = %v, want 1", v)
	}
}

func TestCommit_FirstRevision(t *testing.T) {
	tests := []struct {
		name     string
		revision int64
		events   int
		want     int64
	}{
		{name: "single event commit", revision: 1, events: 1, want: 1},
		{name: "first commit with two events", revision: 2, events: 2, want: 1},
		{name: "later commit with two events", revision: 8, events: 2, want: 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Commit{StreamRevision: tt.revision, Events: make([]EventMessage, tt.events)}
			if got := c.FirstRevision(); got != tt.want {
				t.Errorf("FirstRevision() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestCommit_ToAttemptRoundTrip(t *testing.T) {
	attempt, err := NewCommitAttempt("tenant", "order-1", 2, uuid.New(), 1, time.Now(),
		map[string]any{"h": "v"},
		[]EventMessage{NewEventMessage(1, nil), NewEventMessage(2, nil)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	commit := attempt.ToCommit(42)
	if commit.CheckpointToken != 42 {
		t.Errorf("CheckpointToken = %d, want 42", commit.CheckpointToken)
	}

	back := commit.ToAttempt()
	if back.CommitID != attempt.CommitID || back.CommitSequence != attempt.CommitSequence ||
		back.StreamRevision != attempt.StreamRevision || len(back.Events) != 2 {
		t.Errorf("ToAttempt() = %+v, want identity of %+v", back, attempt)
	}
	if err := back.Validate(); err != nil {
		t.Errorf("rebuilt attempt is invalid: %v", err)
	}
}

func TestStreamHead_Unsnapshotted(t *testing.T) {
	head := StreamHead{HeadRevision: 6, SnapshotRevision: 3}
	if got := head.Unsnapshotted(); got != 3 {
		t.Errorf("Unsnapshotted() = %d, want 3", got)
	}
}
