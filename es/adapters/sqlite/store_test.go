package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getpup/pupstore/es"
	"github.com/getpup/pupstore/es/store"
	"github.com/getpup/pupstore/es/store/storetest"
)

func TestIsUniqueViolation(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Initialize(ctx))

	attempt := storetest.Attempt(t, es.DefaultBucket, "order-1", 1, 1, 1)
	_, err = s.Commit(ctx, attempt)
	require.NoError(t, err)

	_, err = s.DB().ExecContext(ctx,
		"INSERT INTO consumer_checkpoints (consumer_name, checkpoint_number) VALUES ('a', 1), ('a', 2)")
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err))
	assert.False(t, IsUnavailable(err))

	assert.False(t, IsUniqueViolation(nil))
	assert.False(t, IsUniqueViolation(errors.New("no such table: commits")))
}

func TestOpen_SharesFileBetweenHandles(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.db")

	writer, err := Open(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = writer.Close() })
	require.NoError(t, writer.Initialize(ctx))

	reader, err := Open(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reader.Close() })

	var wg sync.WaitGroup
	for seq := int64(1); seq <= 5; seq++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := writer.Commit(ctx, storetest.Attempt(t, es.DefaultBucket, "order-1", seq, seq, 1))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	commits, err := store.Collect(reader.GetFrom(ctx, es.DefaultBucket, 0))
	require.NoError(t, err)
	assert.Len(t, commits, 5)
}
