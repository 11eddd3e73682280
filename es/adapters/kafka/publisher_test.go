package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/getpup/pupstore/es"
	"github.com/getpup/pupstore/es/adapters/relay"
	"github.com/getpup/pupstore/es/polling"
)

type fakeProducer struct {
	err     error
	records []*kgo.Record
}

func (f *fakeProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	var results kgo.ProduceResults
	for _, r := range rs {
		if f.err == nil {
			f.records = append(f.records, r)
		}
		results = append(results, kgo.ProduceResult{Record: r, Err: f.err})
	}
	return results
}

func testCommit() es.Commit {
	return es.Commit{
		CommitStamp:     time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		BucketID:        "tenant-1",
		StreamID:        "order-1",
		CommitID:        uuid.New(),
		Events:          []es.EventMessage{es.NewEventMessage("created", nil)},
		StreamRevision:  1,
		CommitSequence:  1,
		CheckpointToken: 42,
	}
}

func TestPublisher_ProducesKeyedRecord(t *testing.T) {
	producer := &fakeProducer{}
	p := NewPublisher(producer, Config{Topic: "commits"})
	commit := testCommit()

	assert.Equal(t, polling.MoveToNext, p.Handle(context.Background(), commit))
	require.Len(t, producer.records, 1)

	record := producer.records[0]
	assert.Equal(t, "commits", record.Topic)
	assert.Equal(t, "tenant-1/order-1", string(record.Key))
	assert.Equal(t, commit.CommitStamp, record.Timestamp)
	assert.Equal(t, []kgo.RecordHeader{
		{Key: "commit_id", Value: []byte(commit.CommitID.String())},
		{Key: "checkpoint", Value: []byte("42")},
	}, record.Headers)

	decoded, err := relay.Decode(record.Value)
	require.NoError(t, err)
	assert.Equal(t, commit.CommitID, decoded.CommitID)
}

func TestPublisher_RetriesOnProduceFailure(t *testing.T) {
	producer := &fakeProducer{err: errors.New("not leader")}
	p := NewPublisher(producer, Config{Topic: "commits"})
	assert.Equal(t, polling.Retry, p.Handle(context.Background(), testCommit()))
}

func TestConnect_Validation(t *testing.T) {
	_, err := Connect(Config{Topic: "commits"})
	assert.Error(t, err)
	_, err = Connect(Config{Brokers: []string{"localhost:9092"}})
	assert.Error(t, err)
}
