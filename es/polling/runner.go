package polling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/getpup/pupstore/es"
	"github.com/getpup/pupstore/es/store"
)

var (
	// ErrNoSubscriptions indicates that no subscriptions were provided to run.
	ErrNoSubscriptions = errors.New("no subscriptions provided")

	// ErrDuplicateSubscription indicates two subscriptions sharing a name.
	ErrDuplicateSubscription = errors.New("duplicate subscription name")
)

// Subscription is a named consumer of the checkpoint sequence.
// Its name is the key of its checkpoint.
type Subscription struct {
	Handler Handler

	Name string

	// BucketID restricts delivery to one bucket. Empty means every bucket.
	BucketID string
}

// RunnerConfig contains configuration for a Runner.
type RunnerConfig struct {
	// Logger is an optional logger for observability.
	// If nil, logging is disabled (zero overhead).
	Logger es.Logger

	// Interval is the idle time between polls of each subscription.
	// Default: 1s
	Interval time.Duration
}

// DefaultRunnerConfig returns the default configuration.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		Interval: time.Second,
	}
}

// Runner runs several subscriptions concurrently. Each one resumes from the
// checkpoint recorded under its name and records its progress after every poll.
//
// Example:
//
//	mem := memory.NewStore(memory.DefaultStoreConfig())
//	r := polling.NewRunner(mem, mem, polling.DefaultRunnerConfig())
//	err := r.Run(ctx, []polling.Subscription{
//	    {Name: "orders-projection", Handler: project},
//	    {Name: "kafka-relay", Handler: publisher.Handle},
//	})
type Runner struct {
	reader      store.CheckpointReader
	checkpoints store.CheckpointStore
	config      RunnerConfig
}

// NewRunner creates a runner reading from reader and recording positions in checkpoints.
func NewRunner(reader store.CheckpointReader, checkpoints store.CheckpointStore, config RunnerConfig) *Runner {
	if config.Interval <= 0 {
		config.Interval = time.Second
	}
	return &Runner{reader: reader, checkpoints: checkpoints, config: config}
}

// Run runs the subscriptions until the context is canceled.
// Each subscription runs in its own goroutine with its own client.
//
// If a subscription fails, all other subscriptions are canceled and the error
// is returned. A subscription whose handler returns Stop ends on its own
// without affecting the others.
func (r *Runner) Run(ctx context.Context, subs []Subscription) error {
	if len(subs) == 0 {
		return ErrNoSubscriptions
	}

	names := make(map[string]struct{}, len(subs))
	for i, sub := range subs {
		if sub.Handler == nil {
			return fmt.Errorf("handler of subscription at index %d is nil", i)
		}
		if sub.Name == "" {
			return fmt.Errorf("subscription at index %d has no name", i)
		}
		if _, ok := names[sub.Name]; ok {
			return fmt.Errorf("%w: %q", ErrDuplicateSubscription, sub.Name)
		}
		names[sub.Name] = struct{}{}
	}

	// A failed subscription cancels the others.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errChan := make(chan error, len(subs))

	for _, sub := range subs {
		wg.Add(1)
		go func() {
			defer wg.Done()

			err := r.runSubscription(ctx, sub)

			// Cancellation is shutdown; a checkpoint or handler failure is not.
			if err != nil && !errors.Is(err, context.Canceled) {
				errChan <- fmt.Errorf("subscription %q failed: %w", sub.Name, err)
			}
		}()
	}

	go func() {
		wg.Wait()
		close(errChan)
	}()

	// Return the first error, or nil once every subscription stopped on its own
	select {
	case err, ok := <-errChan:
		if ok && err != nil {
			cancel()
			return err
		}
		return ctx.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) runSubscription(ctx context.Context, sub Subscription) error {
	checkpoint, err := r.checkpoints.GetCheckpoint(ctx, sub.Name)
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}

	if r.config.Logger != nil {
		r.config.Logger.Info(ctx, "subscription resuming",
			"subscription", sub.Name,
			"bucket_id", sub.BucketID,
			"checkpoint", checkpoint)
	}

	client := New(r.reader, sub.Handler, r.config.Interval,
		WithName(sub.Name),
		WithLogger(r.config.Logger),
		WithCheckpointStore(r.checkpoints))
	defer client.Close()
	client.ConfigurePollingFunction(sub.BucketID, checkpoint)
	return client.Run(ctx)
}
