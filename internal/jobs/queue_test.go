package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/fenwray/flowvid/internal/flow"
	"github.com/fenwray/flowvid/internal/videostore"
)

func TestQueue_EnqueueBlocksWhenFull(t *testing.T) {
	generator := &fakeGenerator{}
	store := newFakeStore()
	q := NewQueue(Config{Capacity: 1}, generator, store, nil, nil, zerolog.Nop())

	require.NoError(t, q.Enqueue(context.Background(), Job{VideoID: "v1"}))
	require.Equal(t, 1, q.Depth())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := q.Enqueue(ctx, Job{VideoID: "v2"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 1, q.Depth())
}

func TestQueue_RunDrainsFIFO(t *testing.T) {
	generator := &fakeGenerator{
		updates: []*flow.StatusUpdate{
			{Status: flow.StatusCompleted},
			{Status: flow.StatusCompleted},
		},
	}
	store := newFakeStore(pendingVideo("v1"), pendingVideo("v2"))
	q, _ := newWorkerQueue(generator, store, nil, nil)

	require.NoError(t, q.Enqueue(context.Background(), Job{VideoID: "v1"}))
	require.NoError(t, q.Enqueue(context.Background(), Job{VideoID: "v2"}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- q.Run(ctx) }()

	require.Eventually(t, func() bool {
		return store.get("v1").Status.Terminal() && store.get("v2").Status.Terminal()
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	require.Equal(t, videostore.StatusCompleted, store.get("v1").Status)
	require.Equal(t, videostore.StatusCompleted, store.get("v2").Status)
	require.Zero(t, q.Depth())
}
