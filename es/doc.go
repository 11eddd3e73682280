// Package es provides the core types of the pupstore commit store.
//
// # Overview
//
// Events are never stored one by one. A writer collects them in a stream
// session and commits them as one atomic batch:
//   - EventMessage: an immutable domain event with a body and headers
//   - CommitAttempt: a proposed write of events to one stream
//   - Commit: a persisted attempt with its global checkpoint token
//   - Snapshot: a materialized state of a stream at a given revision
//   - StreamHead: the latest revision of a stream and of its latest snapshot
//   - Logger: the logging interface used by every package
//
// Streams are grouped in buckets. A bucket usually maps to a tenant; use
// DefaultBucket when no partitioning is needed.
//
// # Packages
//
//   - es/store: the persistence contract and its error kinds
//   - es/adapters/memory: the in-memory engine
//   - es/adapters/{postgres,mysql,sqlite}: SQL engines built on es/adapters/sqlstore
//   - es/pipeline: hooks run around every commit and read, including the
//     optimistic concurrency hook
//   - es/eventstore: the facade composing an engine with the hooks
//   - es/stream: the stream session that materializes a stream and commits changes
//   - es/polling: catch-up consumers walking the checkpoint sequence
//   - es/snapshots: materializes busy streams as snapshots
//   - es/adapters/{relay,kafka,rabbitmq}: publish commits to a message broker
//
// # Quick Start
//
// 1. Generate the schema, or let the engine create it:
//
//	pupstore migrate --dialect postgres --output migrations
//
// 2. Open an engine and wrap it in an event store:
//
//	engine, err := postgres.Open(ctx, dsn)
//	if err != nil {
//	    return err
//	}
//	if err := engine.Initialize(ctx); err != nil {
//	    return err
//	}
//	s := eventstore.New(engine)
//	defer s.Close()
//
// 3. Commit events through a stream session:
//
//	order, err := s.OpenStream(ctx, es.DefaultBucket, orderID, 0, es.MaxRevision)
//	if err != nil {
//	    return err
//	}
//	order.Add(es.NewEventMessage(OrderPlaced{Total: 42}, nil))
//	if _, err := order.CommitChanges(ctx, uuid.New()); err != nil {
//	    return err
//	}
//
// 4. Follow every commit with a polling client:
//
//	client := polling.New(s, handle, time.Second, polling.WithName("orders"))
//	client.ConfigurePollingFunction(es.DefaultBucket, 0)
//	err := client.Run(ctx)
//
// # Optimistic Concurrency
//
// A commit must continue its stream: its commit sequence is the previous one
// plus one and its stream revision adds the number of its events. A writer
// that lost a race gets store.ErrConcurrency and its session is refreshed. A
// replayed commit id gets store.ErrDuplicateCommit. The facade also keeps the
// heads of recently written streams in an LRU cache and rejects stale attempts
// before they reach the engine.
//
// # Checkpoints
//
// Every commit receives a checkpoint token that is unique and increasing
// across all buckets. Consumers record the last token they handled and resume
// from it. Purging does not reset the sequence.
package es
