// Package polling delivers commits to a handler in checkpoint order.
//
// A Client walks the checkpoint sequence of one bucket or of the whole store,
// calls its handler for every commit and lets the handler decide whether to
// move on, retry the same commit on the next tick, or stop delivery.
package polling

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/getpup/pupstore/es"
	"github.com/getpup/pupstore/es/store"
)

var (
	// ErrNotConfigured indicates a poll before a starting point was configured.
	ErrNotConfigured = errors.New("polling function not configured")

	// ErrAlreadyRunning indicates a second start of a running client.
	ErrAlreadyRunning = errors.New("polling client already running")

	// ErrCheckpointFailed indicates that the client could not record its position.
	ErrCheckpointFailed = errors.New("failed to record checkpoint")
)

// HandlingResult tells the client what to do after a commit was handled.
type HandlingResult int

const (
	// MoveToNext advances the checkpoint past the commit.
	MoveToNext HandlingResult = iota

	// Retry delivers the same commit again on the next tick.
	Retry

	// Stop halts delivery until the client is started again.
	Stop
)

func (r HandlingResult) String() string {
	switch r {
	case MoveToNext:
		return "MoveToNext"
	case Retry:
		return "Retry"
	case Stop:
		return "Stop"
	default:
		return fmt.Sprintf("HandlingResult(%d)", int(r))
	}
}

// Handler handles one commit. Failures must be translated into Retry or Stop.
type Handler func(ctx context.Context, commit es.Commit) HandlingResult

// Config contains configuration for a polling client.
type Config struct {
	// Logger is an optional logger for observability.
	// If nil, logging is disabled (zero overhead).
	Logger es.Logger

	// PartitionStrategy determines which commits this instance handles.
	// Commits of other partitions are skipped and still advance the checkpoint.
	PartitionStrategy PartitionStrategy

	// Checkpoints records the position of the client after every poll.
	// Optional.
	Checkpoints store.CheckpointStore

	// Name identifies the client in logs and in Checkpoints.
	Name string

	// PartitionKey identifies this instance (0-indexed).
	PartitionKey int

	// TotalPartitions is the total number of instances.
	TotalPartitions int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Name:              "polling-client",
		PartitionStrategy: HashPartitionStrategy{},
		PartitionKey:      0,
		TotalPartitions:   1,
	}
}

// Option is a functional option for configuring a Client.
type Option func(*Config)

// WithLogger sets a logger.
func WithLogger(logger es.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithName sets the client name.
func WithName(name string) Option {
	return func(c *Config) {
		c.Name = name
	}
}

// WithPartition makes the client handle only its share of the streams.
func WithPartition(key, total int, strategy PartitionStrategy) Option {
	return func(c *Config) {
		c.PartitionKey = key
		c.TotalPartitions = total
		if strategy != nil {
			c.PartitionStrategy = strategy
		}
	}
}

// WithCheckpointStore records the client position under its name after every poll.
func WithCheckpointStore(checkpoints store.CheckpointStore) Option {
	return func(c *Config) {
		c.Checkpoints = checkpoints
	}
}

type source struct {
	bucketID string
	all      bool
}

// Client polls a checkpoint reader and dispatches commits to a handler.
// It is safe for concurrent use.
type Client struct {
	reader   store.CheckpointReader
	handler  Handler
	config   Config
	source   *source
	cancel   context.CancelFunc
	done     chan struct{}
	wake     chan struct{}
	closing  chan struct{}
	interval time.Duration
	pollMu   sync.Mutex
	mu       sync.Mutex

	checkpoint int64
	stopped    bool
	closed     bool
}

// New creates a client that idles for interval between polls once it has
// caught up. A non-positive interval defaults to one second.
func New(reader store.CheckpointReader, handler Handler, interval time.Duration, opts ...Option) *Client {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Client{
		reader:   reader,
		handler:  handler,
		config:   config,
		interval: interval,
		wake:     make(chan struct{}, 1),
		closing:  make(chan struct{}),
	}
}

// ConfigurePollingFunction sets the starting point without starting the loop,
// so PollNow can drive delivery manually. An empty bucketID polls the whole store.
func (c *Client) ConfigurePollingFunction(bucketID string, checkpoint int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.source = &source{bucketID: bucketID, all: bucketID == ""}
	c.checkpoint = checkpoint
	c.stopped = false
}

// StartFromBucket starts delivering the commits of one bucket after checkpoint
// in the background.
func (c *Client) StartFromBucket(bucketID string, checkpoint int64) error {
	if bucketID == "" {
		return es.ErrBlankBucketID
	}
	return c.start(bucketID, checkpoint)
}

// StartFrom starts delivering the commits of every bucket after checkpoint in
// the background.
func (c *Client) StartFrom(checkpoint int64) error {
	return c.start("", checkpoint)
}

func (c *Client) start(bucketID string, checkpoint int64) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return store.ErrDisposed
	}
	if c.done != nil {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.source = &source{bucketID: bucketID, all: bucketID == ""}
	c.checkpoint = checkpoint
	c.stopped = false
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	go func() {
		_ = c.loop(ctx)
		c.mu.Lock()
		if c.done == done {
			c.cancel, c.done = nil, nil
		}
		c.mu.Unlock()
		cancel()
		close(done)
	}()
	return nil
}

// Run polls until ctx is cancelled, the handler returns Stop or the client is
// closed. A starting point must be configured first. It returns nil after a
// Stop or a Close and ctx.Err() after cancellation.
func (c *Client) Run(ctx context.Context) error {
	c.mu.Lock()
	configured := c.source != nil
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return store.ErrDisposed
	}
	if !configured {
		return ErrNotConfigured
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.closing:
			cancel()
		case <-runCtx.Done():
		}
	}()

	err := c.loop(runCtx)
	if errors.Is(err, context.Canceled) && ctx.Err() == nil && c.isClosed() {
		return nil
	}
	return err
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) loop(ctx context.Context) error {
	if c.config.Logger != nil {
		c.config.Logger.Info(ctx, "polling client starting",
			"client", c.config.Name,
			"checkpoint", c.Checkpoint(),
			"interval", c.interval)
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if c.config.Logger != nil {
				c.config.Logger.Info(ctx, "polling client stopped",
					"client", c.config.Name,
					"reason", ctx.Err())
			}
			return ctx.Err()
		case <-timer.C:
		case <-c.wake:
		}

		_, err := c.PollNow(ctx)
		switch {
		case errors.Is(err, ErrCheckpointFailed):
			return err
		case err != nil && ctx.Err() == nil:
			if c.config.Logger != nil {
				c.config.Logger.Error(ctx, "poll failed, retrying on next tick",
					"client", c.config.Name,
					"checkpoint", c.Checkpoint(),
					"error", err)
			}
		}

		if c.Stopped() {
			if c.config.Logger != nil {
				c.config.Logger.Info(ctx, "polling client halted by handler",
					"client", c.config.Name,
					"checkpoint", c.Checkpoint())
			}
			return nil
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(c.interval)
	}
}

// PollNow runs one poll pass: it reads the commits after the current
// checkpoint and dispatches them until they are exhausted, the handler asks
// for a retry, or the handler stops delivery. It returns the number of
// commits handled with MoveToNext. A stopped client polls nothing.
func (c *Client) PollNow(ctx context.Context) (int, error) {
	c.pollMu.Lock()
	defer c.pollMu.Unlock()

	c.mu.Lock()
	src, checkpoint, stopped, closed := c.source, c.checkpoint, c.stopped, c.closed
	c.mu.Unlock()

	switch {
	case closed:
		return 0, store.ErrDisposed
	case src == nil:
		return 0, ErrNotConfigured
	case stopped:
		return 0, nil
	}

	start := checkpoint
	var commits iter.Seq2[es.Commit, error]
	if src.all {
		commits = c.reader.GetFromAll(ctx, checkpoint)
	} else {
		commits = c.reader.GetFrom(ctx, src.bucketID, checkpoint)
	}

	handled := 0
	var readErr error
dispatch:
	for commit, err := range commits {
		if err != nil {
			readErr = err
			break
		}

		if !c.config.PartitionStrategy.ShouldHandle(commit.BucketID, commit.StreamID, c.config.PartitionKey, c.config.TotalPartitions) {
			checkpoint = commit.CheckpointToken
			continue
		}

		result := c.handler(ctx, commit)
		switch result {
		case MoveToNext:
			checkpoint = commit.CheckpointToken
			handled++
		case Retry:
			if c.config.Logger != nil {
				c.config.Logger.Debug(ctx, "handler asked for retry",
					"client", c.config.Name,
					"checkpoint", commit.CheckpointToken)
			}
			break dispatch
		case Stop:
			c.mu.Lock()
			c.stopped = true
			c.mu.Unlock()
			break dispatch
		default:
			readErr = fmt.Errorf("unknown handling result %s at checkpoint %d", result, commit.CheckpointToken)
			break dispatch
		}
	}

	c.mu.Lock()
	c.checkpoint = checkpoint
	c.mu.Unlock()

	if checkpoint != start && c.config.Checkpoints != nil {
		if err := c.config.Checkpoints.UpdateCheckpoint(ctx, c.config.Name, checkpoint); err != nil {
			return handled, fmt.Errorf("%w: %s at %d: %w", ErrCheckpointFailed, c.config.Name, checkpoint, err)
		}
	}
	return handled, readErr
}

// Wake triggers a poll of a running client without waiting for the interval.
func (c *Client) Wake() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Checkpoint returns the checkpoint of the last commit the client moved past.
func (c *Client) Checkpoint() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.checkpoint
}

// Stopped reports whether the handler halted delivery.
func (c *Client) Stopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

// Stop halts a background loop started with StartFrom or StartFromBucket and
// waits for it to exit. The client can be started again.
func (c *Client) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Close stops the client for good, ending background loops and Run calls alike.
func (c *Client) Close() error {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.closing)
	}
	c.mu.Unlock()
	c.Stop()
	return nil
}
