// Package sqlstore provides the commit store engine shared by the SQL adapters.
// The postgres, mysql and sqlite packages supply a Dialect and open the database.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"sync/atomic"
	"time"

	"github.com/getpup/pupstore/es"
	"github.com/getpup/pupstore/es/migrations"
	"github.com/getpup/pupstore/es/serialization"
	"github.com/getpup/pupstore/es/store"
)

// DefaultPageSize is the number of rows fetched per query while iterating.
const DefaultPageSize = 128

// StoreConfig contains configuration for the SQL store.
// Configuration is immutable after construction.
type StoreConfig struct {
	// Logger is an optional logger for observability.
	// If nil, logging is disabled (zero overhead).
	Logger es.Logger

	// Serializer encodes headers, events and snapshot payloads.
	// Default: serialization.JSON
	Serializer serialization.Serializer

	// Tables names the tables. Only the table name fields are used.
	Tables migrations.Config

	// PageSize is the number of rows fetched per query while iterating.
	// Default: 128
	PageSize int
}

// DefaultStoreConfig returns the default configuration.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Serializer: serialization.JSON{},
		Tables:     migrations.DefaultConfig(),
		PageSize:   DefaultPageSize,
	}
}

// StoreOption is a functional option for configuring a Store.
type StoreOption func(*StoreConfig)

// WithLogger sets a logger for the store.
func WithLogger(logger es.Logger) StoreOption {
	return func(c *StoreConfig) {
		c.Logger = logger
	}
}

// WithSerializer sets the codec for headers, events and snapshots.
func WithSerializer(serializer serialization.Serializer) StoreOption {
	return func(c *StoreConfig) {
		c.Serializer = serializer
	}
}

// WithTables sets the table names.
func WithTables(tables migrations.Config) StoreOption {
	return func(c *StoreConfig) {
		c.Tables = tables
	}
}

// WithPageSize sets the number of rows fetched per query.
func WithPageSize(size int) StoreOption {
	return func(c *StoreConfig) {
		c.PageSize = size
	}
}

// NewStoreConfig creates a new store configuration with functional options.
func NewStoreConfig(opts ...StoreOption) StoreConfig {
	config := DefaultStoreConfig()
	for _, opt := range opts {
		opt(&config)
	}
	return config
}

// Store is a commit store on top of database/sql.
//
// Checkpoints come from the auto-increment key of the commits table. The
// unique keys on (bucket, stream, commit id) and (bucket, stream, sequence)
// detect duplicates and conflicts; a violation is resolved by looking the
// commit id up after the failed transaction is rolled back.
type Store struct {
	db      *sql.DB
	dialect Dialect
	config  StoreConfig
	q       queries

	disposed atomic.Bool
}

var (
	_ store.Persistence     = (*Store)(nil)
	_ store.CheckpointStore = (*Store)(nil)
)

// New creates a store on db. The store owns db and closes it on Close.
func New(db *sql.DB, dialect Dialect, config StoreConfig) *Store {
	if config.Serializer == nil {
		config.Serializer = serialization.JSON{}
	}
	if config.PageSize <= 0 {
		config.PageSize = DefaultPageSize
	}
	if config.Tables.CommitsTable == "" {
		config.Tables = migrations.DefaultConfig()
	}
	return &Store{
		db:      db,
		dialect: dialect,
		config:  config,
		q:       buildQueries(dialect, config.Tables, config.PageSize),
	}
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) checkDisposed() error {
	if s.disposed.Load() {
		return store.ErrDisposed
	}
	return nil
}

// Initialize implements store.Admin. It creates the tables when missing.
func (s *Store) Initialize(ctx context.Context) error {
	if err := s.checkDisposed(); err != nil {
		return err
	}
	statements, err := migrations.Statements(s.dialect.Name(), &s.config.Tables)
	if err != nil {
		return err
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", classify(s.dialect, err))
		}
	}
	if s.config.Logger != nil {
		s.config.Logger.Info(ctx, "schema initialized", "dialect", string(s.dialect.Name()))
	}
	return nil
}

// Commit implements store.Committer.
func (s *Store) Commit(ctx context.Context, attempt es.CommitAttempt) (es.Commit, error) {
	if err := s.checkDisposed(); err != nil {
		return es.Commit{}, err
	}
	if err := attempt.Validate(); err != nil {
		return es.Commit{}, err
	}

	headers, err := s.config.Serializer.Serialize(attempt.Headers)
	if err != nil {
		return es.Commit{}, fmt.Errorf("failed to serialize headers: %w", err)
	}
	payload, err := s.config.Serializer.Serialize(attempt.Events)
	if err != nil {
		return es.Commit{}, fmt.Errorf("failed to serialize events: %w", err)
	}

	checkpoint, err := s.insertCommit(ctx, attempt, headers, payload)
	if err != nil {
		if s.dialect.IsUniqueViolation(err) {
			err = s.resolveViolation(ctx, attempt)
		} else {
			err = classify(s.dialect, err)
		}
		if s.config.Logger != nil {
			s.config.Logger.Error(ctx, "commit rejected",
				"bucket_id", attempt.BucketID,
				"stream_id", attempt.StreamID,
				"commit_id", attempt.CommitID,
				"commit_sequence", attempt.CommitSequence,
				"error", err)
		}
		return es.Commit{}, err
	}

	commit := attempt.ToCommit(checkpoint)
	if s.config.Logger != nil {
		s.config.Logger.Info(ctx, "commit persisted",
			"bucket_id", commit.BucketID,
			"stream_id", commit.StreamID,
			"commit_sequence", commit.CommitSequence,
			"stream_revision", commit.StreamRevision,
			"checkpoint", commit.CheckpointToken)
	}
	return commit, nil
}

func (s *Store) insertCommit(ctx context.Context, attempt es.CommitAttempt, headers, payload []byte) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	//nolint:errcheck // Rollback error ignored: a committed transaction makes it a no-op
	defer tx.Rollback()

	args := []any{
		attempt.BucketID,
		attempt.StreamID,
		attempt.StreamRevision,
		len(attempt.Events),
		attempt.CommitID.String(),
		attempt.CommitSequence,
		attempt.CommitStamp.UnixNano(),
		headers,
		payload,
	}

	var checkpoint int64
	if s.dialect.InsertReturnsID() {
		if err := tx.QueryRowContext(ctx, s.q.insertCommit, args...).Scan(&checkpoint); err != nil {
			return 0, err
		}
	} else {
		result, err := tx.ExecContext(ctx, s.q.insertCommit, args...)
		if err != nil {
			return 0, err
		}
		if checkpoint, err = result.LastInsertId(); err != nil {
			return 0, err
		}
	}

	if _, err := tx.ExecContext(ctx, s.q.upsertHead, attempt.BucketID, attempt.StreamID, attempt.StreamRevision); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return checkpoint, nil
}

// resolveViolation tells a duplicate commit id apart from a taken sequence.
// The commit id key is checked first so a retried write is always reported
// as a duplicate.
func (s *Store) resolveViolation(ctx context.Context, attempt es.CommitAttempt) error {
	var one int
	err := s.db.QueryRowContext(ctx, s.q.commitExists,
		attempt.BucketID, attempt.StreamID, attempt.CommitID.String()).Scan(&one)
	switch {
	case err == nil:
		return fmt.Errorf("%w: commit %s in %s/%s",
			store.ErrDuplicateCommit, attempt.CommitID, attempt.BucketID, attempt.StreamID)
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%w: commit sequence %d in %s/%s",
			store.ErrConcurrency, attempt.CommitSequence, attempt.BucketID, attempt.StreamID)
	default:
		return classify(s.dialect, err)
	}
}

// Get implements store.CommitReader.
func (s *Store) Get(ctx context.Context, bucketID, streamID string, minRevision, maxRevision int64) iter.Seq2[es.Commit, error] {
	return s.pageCommits(ctx, s.q.get, func(c es.Commit) int64 { return c.CommitSequence }, func(cursor int64) []any {
		return []any{bucketID, streamID, minRevision, maxRevision, cursor}
	})
}

// GetFrom implements store.CheckpointReader.
func (s *Store) GetFrom(ctx context.Context, bucketID string, checkpoint int64) iter.Seq2[es.Commit, error] {
	return s.pageCommits(ctx, s.q.getFrom, checkpointOf, func(cursor int64) []any {
		return []any{bucketID, cursor}
	}, checkpoint)
}

// GetFromAll implements store.CheckpointReader.
func (s *Store) GetFromAll(ctx context.Context, checkpoint int64) iter.Seq2[es.Commit, error] {
	return s.pageCommits(ctx, s.q.getFromAll, checkpointOf, func(cursor int64) []any {
		return []any{cursor}
	}, checkpoint)
}

// GetFromTime implements store.TimeReader.
func (s *Store) GetFromTime(ctx context.Context, bucketID string, since time.Time) iter.Seq2[es.Commit, error] {
	return s.pageCommits(ctx, s.q.getFromTime, checkpointOf, func(cursor int64) []any {
		return []any{bucketID, since.UnixNano(), cursor}
	})
}

// GetFromTo implements store.TimeReader.
func (s *Store) GetFromTo(ctx context.Context, bucketID string, start, end time.Time) iter.Seq2[es.Commit, error] {
	return s.pageCommits(ctx, s.q.getFromTo, checkpointOf, func(cursor int64) []any {
		return []any{bucketID, start.UnixNano(), end.UnixNano(), cursor}
	})
}

func checkpointOf(c es.Commit) int64 { return c.CheckpointToken }

// pageCommits runs query once per page. The last argument of every page is the
// cursor taken from the last commit of the previous page. No rows stay open
// while the caller handles a commit.
func (s *Store) pageCommits(
	ctx context.Context,
	query string,
	cursorOf func(es.Commit) int64,
	args func(cursor int64) []any,
	start ...int64,
) iter.Seq2[es.Commit, error] {
	return func(yield func(es.Commit, error) bool) {
		var cursor int64
		if len(start) > 0 {
			cursor = start[0]
		}
		for {
			if err := s.checkDisposed(); err != nil {
				yield(es.Commit{}, err)
				return
			}
			if err := ctx.Err(); err != nil {
				yield(es.Commit{}, err)
				return
			}

			page, err := s.queryCommits(ctx, query, args(cursor)...)
			if err != nil {
				yield(es.Commit{}, err)
				return
			}
			for _, c := range page {
				if err := ctx.Err(); err != nil {
					yield(es.Commit{}, err)
					return
				}
				if !yield(c, nil) {
					return
				}
			}
			if len(page) < s.config.PageSize {
				return
			}
			cursor = cursorOf(page[len(page)-1])
		}
	}
}

func (s *Store) queryCommits(ctx context.Context, query string, args ...any) ([]es.Commit, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(s.dialect, err)
	}
	defer rows.Close()

	var commits []es.Commit
	for rows.Next() {
		c, err := s.scanCommit(rows)
		if err != nil {
			return nil, err
		}
		commits = append(commits, c)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(s.dialect, err)
	}
	return commits, nil
}

func (s *Store) scanCommit(rows *sql.Rows) (es.Commit, error) {
	var (
		c       es.Commit
		items   int
		stamp   int64
		headers []byte
		payload []byte
	)
	err := rows.Scan(
		&c.CheckpointToken,
		&c.BucketID,
		&c.StreamID,
		&c.StreamRevision,
		&items,
		&c.CommitID,
		&c.CommitSequence,
		&stamp,
		&headers,
		&payload,
	)
	if err != nil {
		return es.Commit{}, classify(s.dialect, err)
	}
	c.CommitStamp = time.Unix(0, stamp).UTC()

	if c.Headers, _, err = serialization.Deserialize[map[string]any](s.config.Serializer, headers); err != nil {
		return es.Commit{}, fmt.Errorf("%w: failed to deserialize headers of checkpoint %d: %w", store.ErrStorage, c.CheckpointToken, err)
	}
	if c.Headers == nil {
		c.Headers = map[string]any{}
	}
	if c.Events, _, err = serialization.Deserialize[[]es.EventMessage](s.config.Serializer, payload); err != nil {
		return es.Commit{}, fmt.Errorf("%w: failed to deserialize events of checkpoint %d: %w", store.ErrStorage, c.CheckpointToken, err)
	}
	if len(c.Events) != items {
		return es.Commit{}, fmt.Errorf("%w: checkpoint %d holds %d events, expected %d",
			store.ErrStorage, c.CheckpointToken, len(c.Events), items)
	}
	return c, nil
}
