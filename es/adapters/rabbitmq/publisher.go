// Package rabbitmq relays commits to a RabbitMQ topic exchange.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"

	"github.com/rabbitmq/amqp091-go"

	"github.com/getpup/pupstore/es"
	"github.com/getpup/pupstore/es/adapters/relay"
)

// Channel is the part of *amqp091.Channel the sender uses.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

// Config contains configuration for the RabbitMQ relay.
type Config struct {
	// Logger is an optional logger for observability.
	// If nil, logging is disabled (zero overhead).
	Logger es.Logger

	// URL is the AMQP URL used by Connect.
	URL string

	// Exchange is the topic exchange receiving every commit.
	Exchange string
}

// Sender publishes one persistent message per commit, routed by bucket and stream.
type Sender struct {
	channel  Channel
	exchange string
}

// NewSender creates a sender on channel.
func NewSender(channel Channel, exchange string) *Sender {
	return &Sender{channel: channel, exchange: exchange}
}

// Send implements relay.Sender.
func (s *Sender) Send(ctx context.Context, commit es.Commit, body []byte) error {
	return s.channel.PublishWithContext(ctx, s.exchange, RoutingKey(commit), false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    commit.CommitID.String(),
		Timestamp:    commit.CommitStamp,
		Headers: amqp091.Table{
			"bucket_id":  commit.BucketID,
			"stream_id":  commit.StreamID,
			"checkpoint": commit.CheckpointToken,
		},
		Body: body,
	})
}

// RoutingKey returns the routing key of a commit: bucket.stream.
func RoutingKey(commit es.Commit) string {
	return commit.BucketID + "." + commit.StreamID
}

// Connect dials the broker, opens a channel and declares the exchange as a
// durable topic exchange. Closing the connection closes the channel.
func Connect(config Config) (*amqp091.Connection, *amqp091.Channel, error) {
	if config.URL == "" {
		return nil, nil, errors.New("rabbitmq: no url configured")
	}
	if config.Exchange == "" {
		return nil, nil, errors.New("rabbitmq: no exchange configured")
	}
	conn, err := amqp091.DialConfig(config.URL, amqp091.Config{})
	if err != nil {
		return nil, nil, fmt.Errorf("rabbitmq dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("rabbitmq channel: %w", err)
	}
	if err := ch.ExchangeDeclare(config.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("rabbitmq exchange declare: %w", err)
	}
	return conn, ch, nil
}

// NewPublisher creates a relay publisher on config.Exchange.
func NewPublisher(channel Channel, config Config) *relay.Publisher {
	return relay.NewPublisher(NewSender(channel, config.Exchange), relay.Config{
		Logger: config.Logger,
		Name:   "rabbitmq-relay",
	})
}
