package main

import (
	"context"
	"fmt"

	"github.com/getpup/pupstore/es"
	"github.com/getpup/pupstore/es/adapters/memory"
	"github.com/getpup/pupstore/es/adapters/mysql"
	"github.com/getpup/pupstore/es/adapters/postgres"
	"github.com/getpup/pupstore/es/adapters/sqlite"
	"github.com/getpup/pupstore/es/adapters/sqlstore"
	"github.com/getpup/pupstore/es/eventstore"
	"github.com/getpup/pupstore/es/serialization"
	"github.com/getpup/pupstore/es/store"
)

// backend is a persistence engine that can also record consumer checkpoints.
type backend interface {
	store.Persistence
	store.CheckpointStore
}

func (a *app) esLogger() es.Logger {
	return es.NewSlogLogger(a.logger)
}

// openBackend opens the configured engine.
func (a *app) openBackend(ctx context.Context) (backend, error) {
	cfg := a.cfg.Store
	if cfg.Driver == "memory" {
		return memory.NewStore(memory.NewStoreConfig(memory.WithLogger(a.esLogger()))), nil
	}

	serializer, err := serialization.ByName(cfg.Serializer)
	if err != nil {
		return nil, err
	}
	if cfg.Compress {
		serializer = serialization.Gzip{Inner: serializer}
	}
	opts := []sqlstore.StoreOption{
		sqlstore.WithLogger(a.esLogger()),
		sqlstore.WithSerializer(serializer),
		sqlstore.WithPageSize(cfg.PageSize),
	}

	var engine *sqlstore.Store
	switch cfg.Driver {
	case "sqlite":
		engine, err = sqlite.Open(ctx, cfg.DSN, opts...)
	case "postgres":
		engine, err = postgres.Open(ctx, cfg.DSN, opts...)
	case "mysql":
		engine, err = mysql.Open(ctx, cfg.DSN, opts...)
	default:
		return nil, fmt.Errorf("unsupported driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	return engine, nil
}

// openEventStore opens the configured engine behind the event store facade.
func (a *app) openEventStore(ctx context.Context) (*eventstore.EventStore, backend, error) {
	b, err := a.openBackend(ctx)
	if err != nil {
		return nil, nil, err
	}
	s := eventstore.New(b,
		eventstore.WithLogger(a.esLogger()),
		eventstore.WithTrackedStreams(a.cfg.Store.TrackedStreams),
	)
	return s, b, nil
}
