package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getpup/pupstore/es"
	"github.com/getpup/pupstore/es/polling"
)

type fakeSender struct {
	mu     sync.Mutex
	err    error
	bodies [][]byte
}

func (f *fakeSender) Send(_ context.Context, _ es.Commit, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.bodies = append(f.bodies, body)
	return nil
}

func testCommit() es.Commit {
	return es.Commit{
		CommitStamp:     time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Headers:         map[string]any{"user": "alice"},
		BucketID:        es.DefaultBucket,
		StreamID:        "order-1",
		CommitID:        uuid.New(),
		Events:          []es.EventMessage{es.NewEventMessage("created", nil)},
		StreamRevision:  1,
		CommitSequence:  1,
		CheckpointToken: 7,
	}
}

func TestEnvelope(t *testing.T) {
	commit := testCommit()
	body, err := Encode(commit)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"checkpoint":7`)
	assert.Contains(t, string(body), `"stream_id":"order-1"`)

	got, err := Decode(body)
	require.NoError(t, err)
	assert.Equal(t, commit, got)

	_, err = Decode([]byte("{"))
	assert.Error(t, err)
}

func TestPublisher_Handle(t *testing.T) {
	sender := &fakeSender{err: errors.New("broker down")}
	p := NewPublisher(sender, Config{})
	assert.Equal(t, "relay", p.Name())

	assert.Equal(t, polling.Retry, p.Handle(context.Background(), testCommit()))

	sender.err = nil
	assert.Equal(t, polling.MoveToNext, p.Handle(context.Background(), testCommit()))
	assert.Len(t, sender.bodies, 1)
}

func TestPublisher_PostCommitSwallowsErrors(t *testing.T) {
	sender := &fakeSender{err: errors.New("broker down")}
	p := NewPublisher(sender, Config{Name: "kafka", Logger: es.NoOpLogger{}})

	assert.NotPanics(t, func() { p.PostCommit(context.Background(), testCommit()) })
	assert.Empty(t, sender.bodies)

	err := p.Publish(context.Background(), testCommit())
	assert.ErrorContains(t, err, "broker down")
}
