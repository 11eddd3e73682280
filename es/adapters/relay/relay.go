// Package relay forwards persisted commits to a message broker.
//
// A Publisher can run in two places: registered as a hook on the event store
// it forwards each commit right after it is persisted, and as the handler of a
// polling client it forwards commits in checkpoint order with retries.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/getpup/pupstore/es"
	"github.com/getpup/pupstore/es/pipeline"
	"github.com/getpup/pupstore/es/polling"
)

// Envelope is the JSON form of a commit on the wire.
type Envelope struct {
	CommitStamp     time.Time         `json:"commit_stamp"`
	Headers         map[string]any    `json:"headers,omitempty"`
	BucketID        string            `json:"bucket_id"`
	StreamID        string            `json:"stream_id"`
	CommitID        uuid.UUID         `json:"commit_id"`
	Events          []es.EventMessage `json:"events"`
	StreamRevision  int64             `json:"stream_revision"`
	CommitSequence  int64             `json:"commit_sequence"`
	CheckpointToken int64             `json:"checkpoint"`
}

// Encode returns the envelope of a commit.
func Encode(commit es.Commit) ([]byte, error) {
	return json.Marshal(Envelope{
		CommitStamp:     commit.CommitStamp,
		Headers:         commit.Headers,
		BucketID:        commit.BucketID,
		StreamID:        commit.StreamID,
		CommitID:        commit.CommitID,
		Events:          commit.Events,
		StreamRevision:  commit.StreamRevision,
		CommitSequence:  commit.CommitSequence,
		CheckpointToken: commit.CheckpointToken,
	})
}

// Decode reads an envelope back into a commit.
func Decode(data []byte) (es.Commit, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return es.Commit{}, fmt.Errorf("invalid commit envelope: %w", err)
	}
	return es.Commit{
		CommitStamp:     env.CommitStamp,
		Headers:         env.Headers,
		BucketID:        env.BucketID,
		StreamID:        env.StreamID,
		CommitID:        env.CommitID,
		Events:          env.Events,
		StreamRevision:  env.StreamRevision,
		CommitSequence:  env.CommitSequence,
		CheckpointToken: env.CheckpointToken,
	}, nil
}

// Sender delivers an encoded commit to a broker.
type Sender interface {
	Send(ctx context.Context, commit es.Commit, body []byte) error
}

// Config contains configuration for a Publisher.
type Config struct {
	// Logger is an optional logger for observability.
	// If nil, logging is disabled (zero overhead).
	Logger es.Logger

	// Name identifies the publisher in hook chains and logs.
	Name string
}

// Publisher encodes commits and hands them to a Sender.
type Publisher struct {
	sender Sender
	config Config
}

var _ pipeline.PostCommitter = (*Publisher)(nil)

// NewPublisher creates a publisher on sender.
func NewPublisher(sender Sender, config Config) *Publisher {
	if config.Name == "" {
		config.Name = "relay"
	}
	return &Publisher{sender: sender, config: config}
}

// Name implements pipeline.Hook.
func (p *Publisher) Name() string {
	return p.config.Name
}

// Publish encodes and sends one commit.
func (p *Publisher) Publish(ctx context.Context, commit es.Commit) error {
	body, err := Encode(commit)
	if err != nil {
		return fmt.Errorf("failed to encode commit %s: %w", commit.CommitID, err)
	}
	if err := p.sender.Send(ctx, commit, body); err != nil {
		return fmt.Errorf("failed to publish commit %s: %w", commit.CommitID, err)
	}
	if p.config.Logger != nil {
		p.config.Logger.Debug(ctx, "commit published",
			"publisher", p.config.Name,
			"bucket_id", commit.BucketID,
			"stream_id", commit.StreamID,
			"checkpoint", commit.CheckpointToken)
	}
	return nil
}

// PostCommit implements pipeline.PostCommitter. Failures are logged only.
func (p *Publisher) PostCommit(ctx context.Context, commit es.Commit) {
	if err := p.Publish(ctx, commit); err != nil && p.config.Logger != nil {
		p.config.Logger.Error(ctx, "post-commit publish failed",
			"publisher", p.config.Name,
			"checkpoint", commit.CheckpointToken,
			"error", err)
	}
}

// Handle is a polling.Handler. A failed publish is retried on the next poll.
func (p *Publisher) Handle(ctx context.Context, commit es.Commit) polling.HandlingResult {
	if err := p.Publish(ctx, commit); err != nil {
		if p.config.Logger != nil {
			p.config.Logger.Error(ctx, "publish failed, will retry",
				"publisher", p.config.Name,
				"checkpoint", commit.CheckpointToken,
				"error", err)
		}
		return polling.Retry
	}
	return polling.MoveToNext
}
