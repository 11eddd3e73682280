// Package kafka relays commits to a Kafka topic.
package kafka

import (
	"context"
	"errors"
	"strconv"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/getpup/pupstore/es"
	"github.com/getpup/pupstore/es/adapters/relay"
)

// Producer is the part of *kgo.Client the sender uses.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Config contains configuration for the Kafka relay.
type Config struct {
	// Logger is an optional logger for observability.
	// If nil, logging is disabled (zero overhead).
	Logger es.Logger

	// Topic receives every commit.
	Topic string

	// ClientID identifies the producer to the brokers.
	ClientID string

	// Brokers are the seed brokers used by Connect.
	Brokers []string
}

// Sender produces one record per commit. Records are keyed by bucket and
// stream so the commits of a stream stay in one partition, in order.
type Sender struct {
	producer Producer
	topic    string
}

// NewSender creates a sender on producer.
func NewSender(producer Producer, topic string) *Sender {
	return &Sender{producer: producer, topic: topic}
}

// Send implements relay.Sender.
func (s *Sender) Send(ctx context.Context, commit es.Commit, body []byte) error {
	record := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(Key(commit)),
		Value: body,
		Headers: []kgo.RecordHeader{
			{Key: "commit_id", Value: []byte(commit.CommitID.String())},
			{Key: "checkpoint", Value: []byte(strconv.FormatInt(commit.CheckpointToken, 10))},
		},
		Timestamp: commit.CommitStamp,
	}
	return s.producer.ProduceSync(ctx, record).FirstErr()
}

// Key returns the record key of a commit: bucket/stream.
func Key(commit es.Commit) string {
	return commit.BucketID + "/" + commit.StreamID
}

// Connect creates a franz-go client for config.
func Connect(config Config, opts ...kgo.Opt) (*kgo.Client, error) {
	if len(config.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	if config.Topic == "" {
		return nil, errors.New("kafka: no topic configured")
	}
	kopts := []kgo.Opt{
		kgo.SeedBrokers(config.Brokers...),
		kgo.DefaultProduceTopic(config.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	}
	if config.ClientID != "" {
		kopts = append(kopts, kgo.ClientID(config.ClientID))
	}
	return kgo.NewClient(append(kopts, opts...)...)
}

// NewPublisher creates a relay publisher producing to config.Topic.
func NewPublisher(producer Producer, config Config) *relay.Publisher {
	return relay.NewPublisher(NewSender(producer, config.Topic), relay.Config{
		Logger: config.Logger,
		Name:   "kafka-relay",
	})
}
