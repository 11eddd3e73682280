package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"

	"github.com/getpup/pupstore/es"
	"github.com/getpup/pupstore/es/migrations"
	"github.com/getpup/pupstore/es/serialization"
	"github.com/getpup/pupstore/es/store"
)

// GetSnapshot implements store.SnapshotStore.
func (s *Store) GetSnapshot(ctx context.Context, bucketID, streamID string, maxRevision int64) (es.Snapshot, bool, error) {
	if err := s.checkDisposed(); err != nil {
		return es.Snapshot{}, false, err
	}

	var (
		revision int64
		payload  []byte
	)
	err := s.db.QueryRowContext(ctx, s.q.getSnapshot, bucketID, streamID, maxRevision).Scan(&revision, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return es.Snapshot{}, false, nil
	}
	if err != nil {
		return es.Snapshot{}, false, classify(s.dialect, err)
	}

	state, _, err := serialization.Deserialize[any](s.config.Serializer, payload)
	if err != nil {
		return es.Snapshot{}, false, fmt.Errorf("%w: failed to deserialize snapshot of %s/%s: %w",
			store.ErrStorage, bucketID, streamID, err)
	}
	return es.Snapshot{
		BucketID:       bucketID,
		StreamID:       streamID,
		StreamRevision: revision,
		Payload:        state,
	}, true, nil
}

// AddSnapshot implements store.SnapshotStore.
// A snapshot at a revision that already has one replaces it. The head keeps
// the highest snapshot revision.
func (s *Store) AddSnapshot(ctx context.Context, snapshot es.Snapshot) (bool, error) {
	if err := s.checkDisposed(); err != nil {
		return false, err
	}
	payload, err := s.config.Serializer.Serialize(snapshot.Payload)
	if err != nil {
		return false, fmt.Errorf("failed to serialize snapshot: %w", err)
	}

	added, err := s.addSnapshot(ctx, snapshot, payload)
	if err != nil {
		return false, classify(s.dialect, err)
	}
	if added && s.config.Logger != nil {
		s.config.Logger.Debug(ctx, "snapshot added",
			"bucket_id", snapshot.BucketID,
			"stream_id", snapshot.StreamID,
			"stream_revision", snapshot.StreamRevision)
	}
	return added, nil
}

func (s *Store) addSnapshot(ctx context.Context, snapshot es.Snapshot, payload []byte) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	//nolint:errcheck // Rollback error ignored: a committed transaction makes it a no-op
	defer tx.Rollback()

	var head int64
	err = tx.QueryRowContext(ctx, s.q.headExists, snapshot.BucketID, snapshot.StreamID).Scan(&head)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if _, err := tx.ExecContext(ctx, s.q.deleteSnapshot, snapshot.BucketID, snapshot.StreamID, snapshot.StreamRevision); err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, s.q.insertSnapshot, snapshot.BucketID, snapshot.StreamID, snapshot.StreamRevision, payload); err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, s.q.markSnapshot,
		snapshot.StreamRevision, snapshot.BucketID, snapshot.StreamID, snapshot.StreamRevision); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

// GetStreamsToSnapshot implements store.SnapshotStore.
func (s *Store) GetStreamsToSnapshot(ctx context.Context, bucketID string, maxThreshold int64) iter.Seq2[es.StreamHead, error] {
	return func(yield func(es.StreamHead, error) bool) {
		after := ""
		for {
			if err := s.checkDisposed(); err != nil {
				yield(es.StreamHead{}, err)
				return
			}
			if err := ctx.Err(); err != nil {
				yield(es.StreamHead{}, err)
				return
			}

			page, err := s.queryHeads(ctx, bucketID, maxThreshold, after)
			if err != nil {
				yield(es.StreamHead{}, err)
				return
			}
			for _, head := range page {
				if err := ctx.Err(); err != nil {
					yield(es.StreamHead{}, err)
					return
				}
				if !yield(head, nil) {
					return
				}
			}
			if len(page) < s.config.PageSize {
				return
			}
			after = page[len(page)-1].StreamID
		}
	}
}

func (s *Store) queryHeads(ctx context.Context, bucketID string, threshold int64, after string) ([]es.StreamHead, error) {
	rows, err := s.db.QueryContext(ctx, s.q.streamsToSnapshot, bucketID, threshold, after)
	if err != nil {
		return nil, classify(s.dialect, err)
	}
	defer rows.Close()

	var heads []es.StreamHead
	for rows.Next() {
		var h es.StreamHead
		if err := rows.Scan(&h.BucketID, &h.StreamID, &h.HeadRevision, &h.SnapshotRevision); err != nil {
			return nil, classify(s.dialect, err)
		}
		heads = append(heads, h)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(s.dialect, err)
	}
	return heads, nil
}

// Purge implements store.Admin. Checkpoint numbers are not reused afterwards.
func (s *Store) Purge(ctx context.Context) error {
	if err := s.exec(ctx, s.q.purgeAll); err != nil {
		return err
	}
	if s.config.Logger != nil {
		s.config.Logger.Info(ctx, "all buckets purged")
	}
	return nil
}

// PurgeBucket implements store.Admin.
func (s *Store) PurgeBucket(ctx context.Context, bucketID string) error {
	if err := s.exec(ctx, s.q.purgeBucket, bucketID); err != nil {
		return err
	}
	if s.config.Logger != nil {
		s.config.Logger.Info(ctx, "bucket purged", "bucket_id", bucketID)
	}
	return nil
}

// Drop implements store.Admin. Every table is dropped, consumer checkpoints
// included. Call Initialize to use the store again.
func (s *Store) Drop(ctx context.Context) error {
	if err := s.exec(ctx, migrations.DropStatements(&s.config.Tables)); err != nil {
		return err
	}
	if s.config.Logger != nil {
		s.config.Logger.Info(ctx, "schema dropped")
	}
	return nil
}

// DeleteStream implements store.Admin.
func (s *Store) DeleteStream(ctx context.Context, bucketID, streamID string) error {
	if err := s.exec(ctx, s.q.deleteStream, bucketID, streamID); err != nil {
		return err
	}
	if s.config.Logger != nil {
		s.config.Logger.Info(ctx, "stream deleted", "bucket_id", bucketID, "stream_id", streamID)
	}
	return nil
}

// exec runs statements with the same arguments in one transaction.
func (s *Store) exec(ctx context.Context, statements []string, args ...any) error {
	if err := s.checkDisposed(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(s.dialect, err)
	}
	//nolint:errcheck // Rollback error ignored: a committed transaction makes it a no-op
	defer tx.Rollback()

	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			return classify(s.dialect, err)
		}
	}
	return classify(s.dialect, tx.Commit())
}

// GetCheckpoint implements store.CheckpointStore.
func (s *Store) GetCheckpoint(ctx context.Context, name string) (int64, error) {
	if err := s.checkDisposed(); err != nil {
		return 0, err
	}
	var checkpoint int64
	err := s.db.QueryRowContext(ctx, s.q.getCheckpoint, name).Scan(&checkpoint)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, classify(s.dialect, err)
	}
	return checkpoint, nil
}

// UpdateCheckpoint implements store.CheckpointStore.
func (s *Store) UpdateCheckpoint(ctx context.Context, name string, checkpoint int64) error {
	if err := s.checkDisposed(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.q.upsertCheckpoint, name, checkpoint); err != nil {
		return classify(s.dialect, err)
	}
	return nil
}

// Close implements io.Closer. It closes the database handle; every later
// operation fails with store.ErrDisposed.
func (s *Store) Close() error {
	if s.disposed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

// IsDisposed implements store.Persistence.
func (s *Store) IsDisposed() bool {
	return s.disposed.Load()
}
