package eventstore

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/getpup/pupstore/es"
	"github.com/getpup/pupstore/es/pipeline"
)

// Config contains configuration for the event store facade.
type Config struct {
	// Logger is an optional logger for observability.
	// If nil, logging is disabled (zero overhead).
	Logger es.Logger

	// TracerProvider creates the tracer for commit, open and read spans.
	// If nil, the global provider is used.
	TracerProvider trace.TracerProvider

	// Hooks run after the optimistic concurrency hook, in order.
	Hooks []pipeline.Hook

	// TrackedStreams is the size of the optimistic concurrency head cache.
	// Default: pipeline.DefaultMaxStreamsToTrack
	TrackedStreams int

	// DisableConcurrencyHook leaves conflict detection entirely to the backend.
	DisableConcurrencyHook bool
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		TrackedStreams: pipeline.DefaultMaxStreamsToTrack,
	}
}

// Option is a functional option for configuring the event store.
type Option func(*Config)

// WithLogger sets a logger.
func WithLogger(logger es.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithTracerProvider sets the tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Config) {
		c.TracerProvider = tp
	}
}

// WithHooks appends hooks to the pipeline.
func WithHooks(hooks ...pipeline.Hook) Option {
	return func(c *Config) {
		c.Hooks = append(c.Hooks, hooks...)
	}
}

// WithTrackedStreams sets the size of the head cache.
func WithTrackedStreams(n int) Option {
	return func(c *Config) {
		c.TrackedStreams = n
	}
}

// WithoutConcurrencyHook disables the built-in head cache.
func WithoutConcurrencyHook() Option {
	return func(c *Config) {
		c.DisableConcurrencyHook = true
	}
}

// NewConfig creates a new configuration with functional options.
func NewConfig(opts ...Option) Config {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	return config
}

func (c Config) tracer() trace.Tracer {
	tp := c.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return tp.Tracer(tracerName)
}
