package polling

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getpup/pupstore/es"
	"github.com/getpup/pupstore/es/adapters/memory"
)

func TestRunner_Validation(t *testing.T) {
	s := memory.NewStore(memory.DefaultStoreConfig())
	r := NewRunner(s, s, DefaultRunnerConfig())
	handler := func(context.Context, es.Commit) HandlingResult { return MoveToNext }

	tests := []struct {
		name    string
		subs    []Subscription
		wantErr error
	}{
		{"no subscriptions", nil, ErrNoSubscriptions},
		{"duplicate names", []Subscription{{Name: "a", Handler: handler}, {Name: "a", Handler: handler}}, ErrDuplicateSubscription},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, r.Run(context.Background(), tt.subs), tt.wantErr)
		})
	}

	assert.Error(t, r.Run(context.Background(), []Subscription{{Name: "a"}}))
	assert.Error(t, r.Run(context.Background(), []Subscription{{Handler: handler}}))
}

func TestRunner_ResumesFromRecordedCheckpoints(t *testing.T) {
	ctx := context.Background()
	s := seededStore(t, es.DefaultBucket, 4)
	require.NoError(t, s.UpdateCheckpoint(ctx, "projector", 2))

	var delivered []int64
	r := NewRunner(s, s, RunnerConfig{Interval: 5 * time.Millisecond})
	err := r.Run(ctx, []Subscription{{
		Name: "projector",
		Handler: func(_ context.Context, c es.Commit) HandlingResult {
			delivered = append(delivered, c.CheckpointToken)
			if c.CheckpointToken == 4 {
				return Stop
			}
			return MoveToNext
		},
	}})
	require.NoError(t, err, "a subscription that stops on its own is not a failure")
	assert.Equal(t, []int64{3, 4}, delivered)

	cp, err := s.GetCheckpoint(ctx, "projector")
	require.NoError(t, err)
	assert.Equal(t, int64(3), cp)
}

// failingCheckpoints accepts reads but rejects every update.
type failingCheckpoints struct{ *memory.Store }

func (failingCheckpoints) UpdateCheckpoint(context.Context, string, int64) error {
	return errors.New("disk full")
}

func TestRunner_FailsFast(t *testing.T) {
	s := seededStore(t, es.DefaultBucket, 2)
	var otherCancelled atomic.Bool

	r := NewRunner(s, failingCheckpoints{s}, RunnerConfig{Interval: 5 * time.Millisecond})
	err := r.Run(context.Background(), []Subscription{
		{
			Name:    "broken",
			Handler: func(context.Context, es.Commit) HandlingResult { return MoveToNext },
		},
		{
			Name: "slow",
			Handler: func(ctx context.Context, _ es.Commit) HandlingResult {
				<-ctx.Done()
				otherCancelled.Store(true)
				return Retry
			},
		},
	})
	require.ErrorIs(t, err, ErrCheckpointFailed)
	assert.Contains(t, err.Error(), `subscription "broken" failed`)
	require.Eventually(t, otherCancelled.Load, time.Second, 5*time.Millisecond)
}

func TestRunner_StopsOnCancel(t *testing.T) {
	s := seededStore(t, es.DefaultBucket, 1)
	r := NewRunner(s, s, RunnerConfig{Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := r.Run(ctx, []Subscription{{
		Name:    "projector",
		Handler: func(context.Context, es.Commit) HandlingResult { return MoveToNext },
	}})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	cp, err := s.GetCheckpoint(context.Background(), "projector")
	require.NoError(t, err)
	assert.Equal(t, int64(1), cp)
}
