package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/getpup/pupstore/es/adapters/kafka"
	"github.com/getpup/pupstore/es/adapters/rabbitmq"
	"github.com/getpup/pupstore/es/adapters/relay"
	"github.com/getpup/pupstore/es/polling"
)

func newRelayCmd(a *app) *cobra.Command {
	var (
		target string
		name   string
	)
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Forward commits to Kafka or RabbitMQ",
		Long: `Relay publishes every commit, in checkpoint order, to a Kafka topic or a
RabbitMQ topic exchange. Progress is recorded under --name so a restarted
relay resumes after the last published commit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			publisher, closeBroker, err := a.openPublisher(target)
			if err != nil {
				return err
			}
			defer closeBroker()

			s, b, err := a.openEventStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			runner := polling.NewRunner(s, b, polling.RunnerConfig{
				Logger:   a.esLogger(),
				Interval: a.cfg.Polling.Interval,
			})
			err = runner.Run(ctx, []polling.Subscription{{
				Name:     name,
				BucketID: a.cfg.Polling.Bucket,
				Handler:  publisher.Handle,
			}})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&target, "to", "kafka", "Broker to relay to: kafka or amqp")
	cmd.Flags().StringVar(&name, "name", "relay", "Consumer name the relay records its checkpoint under")
	cmd.Flags().String("bucket", "", "Only relay commits of this bucket")
	return cmd
}

// openPublisher connects to the configured broker.
func (a *app) openPublisher(target string) (*relay.Publisher, func(), error) {
	switch target {
	case "kafka":
		cfg := kafka.Config{
			Logger:   a.esLogger(),
			Brokers:  a.cfg.Relay.Kafka.Brokers,
			Topic:    a.cfg.Relay.Kafka.Topic,
			ClientID: "pupstore-relay",
		}
		client, err := kafka.Connect(cfg)
		if err != nil {
			return nil, nil, err
		}
		return kafka.NewPublisher(client, cfg), client.Close, nil
	case "amqp":
		cfg := rabbitmq.Config{
			Logger:   a.esLogger(),
			URL:      a.cfg.Relay.AMQP.URL,
			Exchange: a.cfg.Relay.AMQP.Exchange,
		}
		conn, ch, err := rabbitmq.Connect(cfg)
		if err != nil {
			return nil, nil, err
		}
		return rabbitmq.NewPublisher(ch, cfg), func() { _ = conn.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported relay target %q, use kafka or amqp", target)
	}
}
