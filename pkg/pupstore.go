// Package pupstore provides an event-sourcing commit store for Go applications.
//
// This package serves as the main entry point for the pupstore library.
// The commit store itself lives in the es package and its subpackages:
//
//	es                   - Commits, attempts, snapshots and stream heads
//	es/store             - Persistence contract and its conformance suite
//	es/eventstore        - Facade running the hook pipeline
//	es/stream            - Stream sessions with optimistic concurrency
//	es/polling           - Checkpoint-ordered commit delivery
//	es/adapters/memory   - In-memory reference engine
//	es/adapters/postgres - PostgreSQL engine (also mysql and sqlite)
//	es/migrations        - Schema generation
//
// Quick Start:
//
//  1. Create the schema:
//     pupstore init --driver postgres --dsn "$DSN"
//
//  2. Open a store and commit through a stream session:
//     s := eventstore.New(persistence)
//     st, _ := s.CreateStream(es.DefaultBucket, "order-1")
//     st.Add(es.NewEventMessage(OrderPlaced{...}, nil))
//     st.CommitChanges(ctx, uuid.New())
//
//  3. Follow new commits:
//     client := polling.New(s.Advanced(), handler, time.Second)
//     client.StartFrom(0)
package pupstore

// Version returns the current version of the library.
func Version() string {
	return "0.1.0-dev"
}
