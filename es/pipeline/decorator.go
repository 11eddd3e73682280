package pipeline

import (
	"context"
	"iter"
	"time"

	"github.com/getpup/pupstore/es"
	"github.com/getpup/pupstore/es/store"
)

// Decorate wraps persistence so that every commit it reads passes through the
// chain's selectors, and purges and stream deletions are reported to the chain.
func Decorate(persistence store.Persistence, chain Chain) store.Persistence {
	return &decorated{Persistence: persistence, chain: chain}
}

type decorated struct {
	store.Persistence
	chain Chain
}

func (d *decorated) Get(ctx context.Context, bucketID, streamID string, minRevision, maxRevision int64) iter.Seq2[es.Commit, error] {
	return d.filter(ctx, d.Persistence.Get(ctx, bucketID, streamID, minRevision, maxRevision))
}

func (d *decorated) GetFrom(ctx context.Context, bucketID string, checkpoint int64) iter.Seq2[es.Commit, error] {
	return d.filter(ctx, d.Persistence.GetFrom(ctx, bucketID, checkpoint))
}

func (d *decorated) GetFromAll(ctx context.Context, checkpoint int64) iter.Seq2[es.Commit, error] {
	return d.filter(ctx, d.Persistence.GetFromAll(ctx, checkpoint))
}

func (d *decorated) GetFromTime(ctx context.Context, bucketID string, since time.Time) iter.Seq2[es.Commit, error] {
	return d.filter(ctx, d.Persistence.GetFromTime(ctx, bucketID, since))
}

func (d *decorated) GetFromTo(ctx context.Context, bucketID string, start, end time.Time) iter.Seq2[es.Commit, error] {
	return d.filter(ctx, d.Persistence.GetFromTo(ctx, bucketID, start, end))
}

func (d *decorated) Purge(ctx context.Context) error {
	if err := d.Persistence.Purge(ctx); err != nil {
		return err
	}
	d.chain.OnPurge(ctx, "")
	return nil
}

func (d *decorated) PurgeBucket(ctx context.Context, bucketID string) error {
	if err := d.Persistence.PurgeBucket(ctx, bucketID); err != nil {
		return err
	}
	d.chain.OnPurge(ctx, bucketID)
	return nil
}

func (d *decorated) Drop(ctx context.Context) error {
	if err := d.Persistence.Drop(ctx); err != nil {
		return err
	}
	d.chain.OnPurge(ctx, "")
	return nil
}

func (d *decorated) DeleteStream(ctx context.Context, bucketID, streamID string) error {
	if err := d.Persistence.DeleteStream(ctx, bucketID, streamID); err != nil {
		return err
	}
	d.chain.OnDeleteStream(ctx, bucketID, streamID)
	return nil
}

func (d *decorated) filter(ctx context.Context, commits iter.Seq2[es.Commit, error]) iter.Seq2[es.Commit, error] {
	return func(yield func(es.Commit, error) bool) {
		for commit, err := range commits {
			if err != nil {
				yield(es.Commit{}, err)
				return
			}
			selected, keep := d.chain.Select(ctx, commit)
			if !keep {
				continue
			}
			if !yield(selected, nil) {
				return
			}
		}
	}
}
